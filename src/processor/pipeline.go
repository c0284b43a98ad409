// pipeline.go
package processor

import (
	"fmt"

	"github.com/go-gota/gota/dataframe"
)

// 结果表名称，供渲染层和导出按名称取表
const (
	TableMerged         = "merged"
	TableDaily          = "daily"
	TableMonthly        = "monthly"
	TableMonthlyPerYear = "monthly_per_year"
	TableYearly         = "yearly"
	TableByStation      = "by_station"
	TablePrevailingWind = "prevailing_wind"
)

// TableNames 结果表的固定顺序
var TableNames = []string{
	TableMerged, TableDaily, TableMonthly, TableMonthlyPerYear,
	TableYearly, TableByStation, TablePrevailingWind,
}

// Options 流水线参数
type Options struct {
	MeanFields        []string // 均值插补字段
	ModeFields        []string // 众数插补字段
	CorrelationTarget string   // 相关性目标字段
	CorrelationWindow int      // 目标字段之后取的字段个数
	StrictStations    bool     // 站点必须出现在坐标表中
}

// DefaultOptions 默认参数：降雨量以外的数值字段做均值插补，风向做众数插补，降雨量相关性取5个字段
func DefaultOptions() Options {
	return Options{
		MeanFields:        append([]string{}, ImputedFields...),
		ModeFields:        append([]string{}, CategoricalFields...),
		CorrelationTarget: ColRain,
		CorrelationWindow: RainfallWindow,
		StrictStations:    true,
	}
}

// Input 一次渲染的输入：各站点原始表和站点坐标表
type Input struct {
	Tables      []dataframe.DataFrame
	Coordinates dataframe.DataFrame
}

// Result 一次渲染的全部输出，构建完成后不再修改
type Result struct {
	Stations []string // 站点，按合并表中首次出现的顺序

	Merged         dataframe.DataFrame // 插补后的合并表
	Daily          dataframe.DataFrame
	Monthly        dataframe.DataFrame
	MonthlyPerYear dataframe.DataFrame
	Yearly         dataframe.DataFrame
	ByStation      dataframe.DataFrame
	PrevailingWind dataframe.DataFrame

	// 按 Stations 顺序拆分的各站点子表
	DailyByStation          []dataframe.DataFrame
	MonthlyByStation        []dataframe.DataFrame
	MonthlyPerYearByStation []dataframe.DataFrame

	Correlation []Correlation
	Impute      ImputeReport
}

// Table 按名称取结果表
func (r *Result) Table(name string) (dataframe.DataFrame, bool) {
	switch name {
	case TableMerged:
		return r.Merged, true
	case TableDaily:
		return r.Daily, true
	case TableMonthly:
		return r.Monthly, true
	case TableMonthlyPerYear:
		return r.MonthlyPerYear, true
	case TableYearly:
		return r.Yearly, true
	case TableByStation:
		return r.ByStation, true
	case TablePrevailingWind:
		return r.PrevailingWind, true
	}
	return dataframe.DataFrame{}, false
}

// StationTable 按名称和站点取子表
func (r *Result) StationTable(name, station string) (dataframe.DataFrame, bool) {
	df, ok := r.Table(name)
	if !ok || !HasColumn(df, ColStation) {
		return dataframe.DataFrame{}, false
	}
	parts, err := PartitionByStation(df, ColStation, []string{station})
	if err != nil || parts[0].Nrow() == 0 {
		return dataframe.DataFrame{}, false
	}
	return parts[0], true
}

// Validate 插补前检查合并表：不能为空，(站点, date_h) 不能重复；
// strict 时所有站点必须出现在坐标表中
func Validate(merged dataframe.DataFrame, coords Coordinates, strict bool) error {
	if err := requireColumns(merged, MergedTable, CanonicalColumns...); err != nil {
		return err
	}
	if merged.Nrow() == 0 {
		return &InputSchemaError{Table: MergedTable, Reason: ErrNoObservations.Error(), Err: ErrNoObservations}
	}

	stations := stringColumn(merged, ColStation)
	stamps := stringColumn(merged, ColDateHour)
	seen := make(map[[2]string]int, len(stations))
	for r := range stations {
		key := [2]string{stations[r], stamps[r]}
		if first, dup := seen[key]; dup {
			return &InputSchemaError{Table: MergedTable, Column: ColDateHour,
				Reason: fmt.Sprintf("rows %d and %d duplicate station %q at %s", first, r, stations[r], stamps[r])}
		}
		seen[key] = r
	}

	if strict {
		for _, st := range UniqueStations(merged, ColStation) {
			if _, ok := coords[st]; !ok {
				return &InputSchemaError{Table: MergedTable, Column: ColStation,
					Reason: fmt.Sprintf("unrecognized station %q", st)}
			}
		}
	}
	return nil
}

// Run 执行完整流水线：合并 → 校验 → 插补 → 聚合 → 拆分与相关性。
// 结构错误和众数分层错误使整次运行失败，不返回部分结果。
func Run(in Input, opts Options) (*Result, error) {
	coords, err := NewCoordinates(in.Coordinates)
	if err != nil {
		return nil, err
	}
	merged, err := Merge(in.Tables, coords)
	if err != nil {
		return nil, err
	}
	if err := Validate(merged, coords, opts.StrictStations); err != nil {
		return nil, err
	}

	res := &Result{Stations: UniqueStations(merged, ColStation)}

	res.Merged, res.Impute, err = Impute(merged, opts.MeanFields, opts.ModeFields)
	if err != nil {
		return nil, fmt.Errorf("impute: %w", err)
	}

	if res.Daily, err = Daily(res.Merged); err != nil {
		return nil, fmt.Errorf("daily: %w", err)
	}
	if res.Monthly, err = Monthly(res.Merged); err != nil {
		return nil, fmt.Errorf("monthly: %w", err)
	}
	if res.MonthlyPerYear, err = MonthlyPerYear(res.Merged); err != nil {
		return nil, fmt.Errorf("monthly per year: %w", err)
	}
	if res.Yearly, err = YearlyPerStation(res.Daily, res.Stations); err != nil {
		return nil, fmt.Errorf("yearly: %w", err)
	}
	if res.ByStation, err = ByStation(res.Merged); err != nil {
		return nil, fmt.Errorf("by station: %w", err)
	}
	if res.PrevailingWind, err = PrevailingWind(res.Monthly, coords); err != nil {
		return nil, fmt.Errorf("prevailing wind: %w", err)
	}

	if res.DailyByStation, err = PartitionByStation(res.Daily, ColStation, res.Stations); err != nil {
		return nil, err
	}
	if res.MonthlyByStation, err = PartitionByStation(res.Monthly, ColStation, res.Stations); err != nil {
		return nil, err
	}
	if res.MonthlyPerYearByStation, err = PartitionByStation(res.MonthlyPerYear, ColStation, res.Stations); err != nil {
		return nil, err
	}

	if res.Correlation, err = RainfallCorrelation(res.Monthly, opts.CorrelationTarget, opts.CorrelationWindow); err != nil {
		return nil, fmt.Errorf("correlation: %w", err)
	}
	return res, nil
}
