// schema.go
package processor

import (
	"math"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// 列名常量，渲染层按列名读取结果表
const (
	ColDateHour = "date_h"
	ColPM25     = "PM2.5"
	ColPM10     = "PM10"
	ColSO2      = "SO2"
	ColNO2      = "NO2"
	ColCO       = "CO"
	ColO3       = "O3"
	ColTemp     = "TEMP"
	ColPres     = "PRES"
	ColDewp     = "DEWP"
	ColRain     = "RAIN"
	ColWindDir  = "wd"
	ColWindSpd  = "WSPM"
	ColStation  = "station"
	ColDate     = "date"
	ColYear     = "year"
	ColMonth    = "month"
	ColDay      = "day"
	ColHour     = "hour"
	ColLon      = "lon"
	ColLat      = "lat"
	ColYearly   = "yearly"
)

// 时间格式
const (
	DateHourLayout = "2006-01-02 15:04:05"
	DateLayout     = "2006-01-02"
)

// Missing 是字符串列中缺失值的表示，与gota的NA字符串一致
const Missing = "NaN"

var (
	// NumericFields 数值型观测字段，按标准列顺序
	NumericFields = []string{
		ColPM25, ColPM10, ColSO2, ColNO2, ColCO, ColO3,
		ColTemp, ColPres, ColDewp, ColRain, ColWindSpd,
	}

	// ImputedFields 默认做均值插补的字段。降雨量缺失不补，聚合时按求和跳过
	ImputedFields = []string{
		ColPM25, ColPM10, ColSO2, ColNO2, ColCO, ColO3,
		ColTemp, ColPres, ColDewp, ColWindSpd,
	}

	// CategoricalFields 类别型观测字段
	CategoricalFields = []string{ColWindDir}

	// CalendarFields 原始表中的日历字段
	CalendarFields = []string{ColYear, ColMonth, ColDay, ColHour}

	// RawColumns 每个站点原始表必须包含的列
	RawColumns = []string{
		ColYear, ColMonth, ColDay, ColHour,
		ColPM25, ColPM10, ColSO2, ColNO2, ColCO, ColO3,
		ColTemp, ColPres, ColDewp, ColRain, ColWindDir, ColWindSpd,
		ColStation,
	}

	// CanonicalColumns 合并后的标准列顺序
	CanonicalColumns = []string{
		ColDateHour,
		ColPM25, ColPM10, ColSO2, ColNO2, ColCO, ColO3,
		ColTemp, ColPres, ColDewp, ColRain, ColWindDir, ColWindSpd,
		ColStation, ColDate, ColYear, ColMonth, ColDay, ColHour,
		ColLon, ColLat,
	}

	// CoordinateColumns 站点经纬度表的列
	CoordinateColumns = []string{ColStation, ColLon, ColLat}
)

// Reduction 聚合方式
type Reduction int

const (
	Mean Reduction = iota
	Sum
	Mode
)

func (r Reduction) String() string {
	switch r {
	case Mean:
		return "mean"
	case Sum:
		return "sum"
	case Mode:
		return "mode"
	default:
		return "unknown"
	}
}

// FieldReduction 字段与其聚合方式
type FieldReduction struct {
	Field     string
	Reduction Reduction
}

// DefaultReductions 污染物/气象字段取均值，降雨量求和，风向取众数
var DefaultReductions = []FieldReduction{
	{ColPM25, Mean},
	{ColPM10, Mean},
	{ColSO2, Mean},
	{ColNO2, Mean},
	{ColCO, Mean},
	{ColO3, Mean},
	{ColTemp, Mean},
	{ColPres, Mean},
	{ColDewp, Mean},
	{ColRain, Sum},
	{ColWindSpd, Mean},
	{ColWindDir, Mode},
}

// HasColumn 判断DataFrame是否有某列
func HasColumn(df dataframe.DataFrame, name string) bool {
	for _, n := range df.Names() {
		if n == name {
			return true
		}
	}
	return false
}

// requireColumns 检查列是否齐全，缺列时返回InputSchemaError
func requireColumns(df dataframe.DataFrame, table int, cols ...string) error {
	if df.Err != nil {
		return &InputSchemaError{Table: table, Reason: df.Err.Error()}
	}
	for _, c := range cols {
		if !HasColumn(df, c) {
			return &InputSchemaError{Table: table, Column: c, Reason: "missing column"}
		}
	}
	return nil
}

// IsMissingLabel 判断类别值是否缺失
func IsMissingLabel(s string) bool {
	return s == Missing || s == "" || s == "NA"
}

// floatColumn 取出数值列，缺失值为NaN
func floatColumn(df dataframe.DataFrame, name string) []float64 {
	return df.Col(name).Float()
}

// stringColumn 取出字符串列
func stringColumn(df dataframe.DataFrame, name string) []string {
	return df.Col(name).Records()
}

// intColumn 取出整数列，含缺失值时报错
func intColumn(df dataframe.DataFrame, table int, name string) ([]int, error) {
	vals, err := df.Col(name).Int()
	if err != nil {
		return nil, &InputSchemaError{Table: table, Column: name, Reason: "non-integer value: " + err.Error()}
	}
	return vals, nil
}

// emptyLike 构造与df列结构相同的空表
func emptyLike(df dataframe.DataFrame) dataframe.DataFrame {
	cols := make([]series.Series, 0, df.Ncol())
	for i, name := range df.Names() {
		cols = append(cols, emptySeries(df.Types()[i], name))
	}
	return dataframe.New(cols...)
}

func emptySeries(t series.Type, name string) series.Series {
	switch t {
	case series.Float:
		return series.New([]float64{}, series.Float, name)
	case series.Int:
		return series.New([]int{}, series.Int, name)
	case series.Bool:
		return series.New([]bool{}, series.Bool, name)
	default:
		return series.New([]string{}, series.String, name)
	}
}

// EmptyCanonical 返回标准列结构的空表
func EmptyCanonical() dataframe.DataFrame {
	cols := make([]series.Series, 0, len(CanonicalColumns))
	for _, name := range CanonicalColumns {
		cols = append(cols, emptySeries(canonicalType(name), name))
	}
	return dataframe.New(cols...)
}

func canonicalType(name string) series.Type {
	switch name {
	case ColDateHour, ColWindDir, ColStation, ColDate:
		return series.String
	case ColYear, ColMonth, ColDay, ColHour:
		return series.Int
	default:
		return series.Float
	}
}

func countNaN(vals []float64) int {
	n := 0
	for _, v := range vals {
		if math.IsNaN(v) {
			n++
		}
	}
	return n
}
