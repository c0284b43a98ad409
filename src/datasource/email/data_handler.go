// data_handler.go
package email

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-gota/gota/dataframe"

	"AirQualityDashboard/src/datasource/file"
)

// ReadAttachment 把站点附件直接解析为原始站点表。
// .csv 按CSV解析，.xlsx 取 sheetName 工作表(为空取第一个)。
func ReadAttachment(att *Attachment, sheetName string, mapper file.ColumnMapper) (dataframe.DataFrame, error) {
	if att == nil || len(att.Content) == 0 {
		return dataframe.DataFrame{}, fmt.Errorf("附件内容为空")
	}

	switch strings.ToLower(filepath.Ext(att.Filename)) {
	case ".csv":
		return file.ParseStationCSV(bytes.NewReader(att.Content), mapper)
	case ".xlsx":
		return file.ParseStationXLSX(att.Content, sheetName, mapper)
	default:
		return dataframe.DataFrame{}, fmt.Errorf("不支持的附件类型: %s", att.Filename)
	}
}
