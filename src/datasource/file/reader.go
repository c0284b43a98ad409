// reader.go
package file

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/tealeg/xlsx"
	"golang.org/x/sync/errgroup"

	"AirQualityDashboard/src/processor"
)

// ColumnMapper 把原始表头映射为标准列名，为空时表头原样使用
type ColumnMapper func(header string) string

// StationExtensions 可作为站点数据读取的文件类型
var StationExtensions = []string{".csv", ".xlsx"}

// DefaultStationPattern 未配置匹配模式时使用
const DefaultStationPattern = "*.csv"

// IsStationFile 文件类型是否可作为站点数据读取
func IsStationFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range StationExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// MatchStationFile 文件名是否匹配 pattern 且类型可读取，只比较文件名部分
func MatchStationFile(pattern, name string) bool {
	if pattern == "" {
		pattern = DefaultStationPattern
	}
	if !IsStationFile(name) {
		return false
	}
	ok, err := filepath.Match(pattern, filepath.Base(name))
	return err == nil && ok
}

// ReadStationFile 按扩展名读取单个站点文件，.xlsx 取第一个工作表
func ReadStationFile(path string, mapper ColumnMapper) (dataframe.DataFrame, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadStationCSV(path, mapper)
	case ".xlsx":
		data, err := os.ReadFile(path)
		if err != nil {
			return dataframe.DataFrame{}, fmt.Errorf("打开站点文件失败: %w", err)
		}
		return ParseStationXLSX(data, "", mapper)
	default:
		return dataframe.DataFrame{}, fmt.Errorf("不支持的站点文件类型: %s", filepath.Base(path))
	}
}

// ReadStationCSV 读取单个站点的CSV文件
func ReadStationCSV(path string, mapper ColumnMapper) (dataframe.DataFrame, error) {
	f, err := os.Open(path)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("打开站点文件失败: %w", err)
	}
	defer f.Close()

	return ParseStationCSV(f, mapper)
}

// ParseStationCSV 解析站点CSV：先全部按字符串读入，再按列转换类型。
// 日历字段为整数，观测字段为浮点数（NA/空为NaN），风向和站点为字符串。
// 标准列之外的列（如行号 No）被丢弃。
func ParseStationCSV(r io.Reader, mapper ColumnMapper) (dataframe.DataFrame, error) {
	raw := dataframe.ReadCSV(r,
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
		dataframe.HasHeader(true),
	)
	if raw.Err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("解析CSV失败: %w", raw.Err)
	}
	return StationTable(raw, mapper)
}

// ParseStationXLSX 解析站点工作簿，sheetName 为空时取第一个工作表，第一行为表头
func ParseStationXLSX(data []byte, sheetName string, mapper ColumnMapper) (dataframe.DataFrame, error) {
	xlFile, err := xlsx.OpenBinary(data)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("xlsx open binary false: %w", err)
	}
	sheet, err := pickSheet(xlFile, sheetName)
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	raw, err := convertSheetToDataFrame(sheet)
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	return StationTable(raw, mapper)
}

// StationTable 将全字符串的原始表转换为带类型的站点表，列按标准原始列顺序排列
func StationTable(raw dataframe.DataFrame, mapper ColumnMapper) (dataframe.DataFrame, error) {
	names := raw.Names()
	index := make(map[string]string, len(names))
	for _, n := range names {
		name := strings.TrimSpace(n)
		if mapper != nil {
			name = mapper(name)
		}
		index[name] = n
	}

	cols := make([]series.Series, 0, len(processor.RawColumns))
	for _, col := range processor.RawColumns {
		src, ok := index[col]
		if !ok {
			return dataframe.DataFrame{}, fmt.Errorf("缺少列 %q", col)
		}
		vals := raw.Col(src).Records()

		switch {
		case isCalendar(col):
			ints := make([]int, len(vals))
			for i, v := range vals {
				n, err := strconv.Atoi(strings.TrimSpace(v))
				if err != nil {
					return dataframe.DataFrame{}, fmt.Errorf("第%d行 %s 不是整数: %q", i+1, col, v)
				}
				ints[i] = n
			}
			cols = append(cols, series.New(ints, series.Int, col))
		case col == processor.ColWindDir || col == processor.ColStation:
			strs := make([]string, len(vals))
			for i, v := range vals {
				v = strings.TrimSpace(v)
				if processor.IsMissingLabel(v) {
					v = processor.Missing
				}
				strs[i] = v
			}
			cols = append(cols, series.New(strs, series.String, col))
		default:
			floats := make([]float64, len(vals))
			for i, v := range vals {
				f, err := parseMeasurement(v)
				if err != nil {
					return dataframe.DataFrame{}, fmt.Errorf("第%d行 %s 不是数值: %q", i+1, col, v)
				}
				floats[i] = f
			}
			cols = append(cols, series.New(floats, series.Float, col))
		}
	}

	df := dataframe.New(cols...)
	if df.Err != nil {
		return dataframe.DataFrame{}, df.Err
	}
	return df, nil
}

func isCalendar(col string) bool {
	for _, c := range processor.CalendarFields {
		if c == col {
			return true
		}
	}
	return false
}

func parseMeasurement(v string) (float64, error) {
	v = strings.TrimSpace(v)
	if processor.IsMissingLabel(v) {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(v, 64)
}

// ListStationFiles 目录下匹配 pattern 的站点文件(.csv/.xlsx)，按文件名排序
func ListStationFiles(dir, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultStationPattern
	}
	paths, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("无效的文件匹配模式 %q: %w", pattern, err)
	}
	files := paths[:0]
	for _, p := range paths {
		if !IsStationFile(p) {
			continue
		}
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			files = append(files, p)
		}
	}
	sort.Strings(files)
	return files, nil
}

// ReadStationDir 并发读取目录下所有站点文件，结果按文件名顺序返回。
// workers 不大于0时不限制并发数，任一文件失败则整体失败。
func ReadStationDir(ctx context.Context, dir, pattern string, workers int, mapper ColumnMapper) ([]dataframe.DataFrame, []string, error) {
	paths, err := ListStationFiles(dir, pattern)
	if err != nil {
		return nil, nil, err
	}

	tables := make([]dataframe.DataFrame, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			df, err := ReadStationFile(p, mapper)
			if err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(p), err)
			}
			tables[i] = df
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return tables, paths, nil
}

// ReadCoordinates 读取站点经纬度工作簿，表头包含 station、lon、lat
func ReadCoordinates(path, sheetName string) (dataframe.DataFrame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("读取经纬度文件失败: %w", err)
	}
	return ParseCoordinates(data, sheetName)
}

// ParseCoordinates 解析经纬度工作簿内容
func ParseCoordinates(data []byte, sheetName string) (dataframe.DataFrame, error) {
	xlFile, err := xlsx.OpenBinary(data)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("xlsx open file false: %w", err)
	}
	sheet, err := pickSheet(xlFile, sheetName)
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	raw, err := convertSheetToDataFrame(sheet)
	if err != nil {
		return dataframe.DataFrame{}, err
	}

	for _, col := range processor.CoordinateColumns {
		if !processor.HasColumn(raw, col) {
			return dataframe.DataFrame{}, fmt.Errorf("经纬度表缺少列 %q", col)
		}
	}
	stations := raw.Col(processor.ColStation).Records()
	lons := make([]float64, len(stations))
	lats := make([]float64, len(stations))
	for i, v := range raw.Col(processor.ColLon).Records() {
		if lons[i], err = parseMeasurement(v); err != nil {
			return dataframe.DataFrame{}, fmt.Errorf("第%d行经度无效: %q", i+2, v)
		}
	}
	for i, v := range raw.Col(processor.ColLat).Records() {
		if lats[i], err = parseMeasurement(v); err != nil {
			return dataframe.DataFrame{}, fmt.Errorf("第%d行纬度无效: %q", i+2, v)
		}
	}

	return dataframe.New(
		series.New(stations, series.String, processor.ColStation),
		series.New(lons, series.Float, processor.ColLon),
		series.New(lats, series.Float, processor.ColLat),
	), nil
}

func pickSheet(xlFile *xlsx.File, sheetName string) (*xlsx.Sheet, error) {
	if len(xlFile.Sheets) == 0 {
		return nil, fmt.Errorf("excel文件中没有工作表")
	}
	if sheetName == "" {
		return xlFile.Sheets[0], nil
	}
	sheet, ok := xlFile.Sheet[sheetName]
	if !ok {
		return nil, fmt.Errorf("工作表 %q 不存在", sheetName)
	}
	return sheet, nil
}

// convertSheetToDataFrame 将xlsx.Sheet转换为全字符串的dataframe.DataFrame，第一行为表头
func convertSheetToDataFrame(sheet *xlsx.Sheet) (dataframe.DataFrame, error) {
	if len(sheet.Rows) == 0 {
		return dataframe.DataFrame{}, fmt.Errorf("工作表 %q 为空", sheet.Name)
	}

	var headers []string
	for _, cell := range sheet.Rows[0].Cells {
		headers = append(headers, strings.TrimSpace(cell.Value))
	}
	for len(headers) > 0 && headers[len(headers)-1] == "" {
		headers = headers[:len(headers)-1]
	}

	columns := make([][]string, len(headers))
	for _, row := range sheet.Rows[1:] {
		if row == nil || emptyRow(row) {
			continue
		}
		for i := range headers {
			v := ""
			if i < len(row.Cells) {
				v = row.Cells[i].Value
			}
			columns[i] = append(columns[i], v)
		}
	}

	seriesList := make([]series.Series, len(headers))
	for i, colName := range headers {
		if columns[i] == nil {
			columns[i] = []string{}
		}
		seriesList[i] = series.New(columns[i], series.String, colName)
	}
	df := dataframe.New(seriesList...)
	return df, df.Err
}

func emptyRow(row *xlsx.Row) bool {
	for _, c := range row.Cells {
		if strings.TrimSpace(c.Value) != "" {
			return false
		}
	}
	return true
}
