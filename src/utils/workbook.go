package utils

import (
	"fmt"
	"io"

	"github.com/go-gota/gota/dataframe"
	"github.com/xuri/excelize/v2"
)

// Sheet 导出工作簿中的一个工作表
type Sheet struct {
	Name  string
	Table dataframe.DataFrame
}

// SaveWorkbook 每张表写入一个工作表，第一行为加粗的列名
func SaveWorkbook(sheets []Sheet, filePath string) error {
	f, err := buildWorkbook(sheets)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(filePath); err != nil {
		return fmt.Errorf("保存Excel文件失败: %w", err)
	}
	return nil
}

// WriteWorkbook 与 SaveWorkbook 相同，但写入 w
func WriteWorkbook(sheets []Sheet, w io.Writer) error {
	f, err := buildWorkbook(sheets)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("写入Excel失败: %w", err)
	}
	return nil
}

func buildWorkbook(sheets []Sheet) (*excelize.File, error) {
	if len(sheets) == 0 {
		return nil, fmt.Errorf("没有需要导出的表")
	}

	f := excelize.NewFile()
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, err
	}

	for i, sh := range sheets {
		if i == 0 {
			err = f.SetSheetName("Sheet1", sh.Name)
		} else {
			_, err = f.NewSheet(sh.Name)
		}
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("创建工作表 %s 失败: %w", sh.Name, err)
		}
		if err := writeSheet(f, sh, header); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

// writeSheet 使用流式写入，大表不在内存中保留单元格对象
func writeSheet(f *excelize.File, sh Sheet, headerStyle int) error {
	sw, err := f.NewStreamWriter(sh.Name)
	if err != nil {
		return fmt.Errorf("创建工作表 %s 失败: %w", sh.Name, err)
	}

	names := sh.Table.Names()
	row := make([]interface{}, len(names))
	for i, n := range names {
		row[i] = n
	}
	if err := sw.SetRow("A1", row, excelize.RowOpts{StyleID: headerStyle}); err != nil {
		return fmt.Errorf("写入表头失败: %w", err)
	}

	cols := ColumnValues(sh.Table)
	for r := 0; r < sh.Table.Nrow(); r++ {
		for c := range cols {
			row[c] = cols[c][r]
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("写入 %s 第%d行失败: %w", sh.Name, r+1, err)
		}
	}
	return sw.Flush()
}
