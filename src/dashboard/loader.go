// loader.go
package dashboard

import (
	"context"
	"fmt"
	"path/filepath"

	"AirQualityDashboard/src/datasource/file"
	"AirQualityDashboard/src/processor"
)

// Loader 提供一次渲染的输入和对应的源文件
type Loader interface {
	Load(ctx context.Context) (processor.Input, []string, error)
}

// DirLoader 从数据目录读取站点CSV，从工作簿读取站点坐标
type DirLoader struct {
	DataDir        string
	Pattern        string
	CoordinateFile string
	SheetName      string
	Workers        int
	Mapper         file.ColumnMapper
}

func (l *DirLoader) Load(ctx context.Context) (processor.Input, []string, error) {
	tables, files, err := file.ReadStationDir(ctx, l.DataDir, l.Pattern, l.Workers, l.Mapper)
	if err != nil {
		return processor.Input{}, nil, err
	}
	if len(files) == 0 {
		return processor.Input{}, nil, fmt.Errorf("目录 %s 中没有匹配 %s 的站点文件", l.DataDir, l.Pattern)
	}

	coords, err := file.ReadCoordinates(l.CoordinateFile, l.SheetName)
	if err != nil {
		return processor.Input{}, nil, err
	}
	return processor.Input{Tables: tables, Coordinates: coords}, files, nil
}

// Affects 文件是匹配的站点文件或坐标工作簿
func (l *DirLoader) Affects(name string) bool {
	name = filepath.Clean(name)
	if name == filepath.Clean(l.CoordinateFile) {
		return true
	}
	if filepath.Dir(name) != filepath.Clean(l.DataDir) {
		return false
	}
	return file.MatchStationFile(l.Pattern, name)
}
