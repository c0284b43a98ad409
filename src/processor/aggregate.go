// aggregate.go
package processor

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// 按位置划分年份桶的边界：[0,365)→1，[365,730)→2，[730,1095)→3，其余→4。
// 固定365天一段，不考虑闰年和不完整的年份，这是沿用下来的近似。
const (
	daysPerBucket = 365
	lastBucket    = 4
)

// keyColumn 分组键列
type keyColumn struct {
	name string
	typ  series.Type
	strs []string
	nums []float64
}

func readKeyColumn(df dataframe.DataFrame, name string) keyColumn {
	col := df.Col(name)
	k := keyColumn{name: name, typ: col.Type(), strs: col.Records()}
	if k.typ == series.Int || k.typ == series.Float {
		k.nums = col.Float()
	}
	return k
}

func (k keyColumn) less(a, b int) (less, equal bool) {
	if k.nums != nil {
		return k.nums[a] < k.nums[b], k.nums[a] == k.nums[b]
	}
	return k.strs[a] < k.strs[b], k.strs[a] == k.strs[b]
}

// group 一组行号，rows 保持原表顺序
type group struct {
	rows []int
}

// groupRows 按键列分组，组按首次出现顺序排列；sorted 为真时再按键排序
func groupRows(keys []keyColumn, nrow int, sorted bool) []group {
	index := make(map[string]int)
	var groups []group
	parts := make([]string, len(keys))
	for r := 0; r < nrow; r++ {
		for i, k := range keys {
			parts[i] = k.strs[r]
		}
		composite := strings.Join(parts, "\x1f")
		id, ok := index[composite]
		if !ok {
			id = len(groups)
			index[composite] = id
			groups = append(groups, group{})
		}
		groups[id].rows = append(groups[id].rows, r)
	}

	if sorted {
		sort.SliceStable(groups, func(i, j int) bool {
			a, b := groups[i].rows[0], groups[j].rows[0]
			for _, k := range keys {
				less, equal := k.less(a, b)
				if !equal {
					return less
				}
			}
			return false
		})
	}
	return groups
}

func reduceFloat(vals []float64, rows []int, how Reduction) float64 {
	var (
		sum   float64
		count int
	)
	for _, r := range rows {
		if math.IsNaN(vals[r]) {
			continue
		}
		sum += vals[r]
		count++
	}
	if how == Sum {
		return sum
	}
	if count == 0 {
		return math.NaN()
	}
	return sum / float64(count)
}

func reduceLabel(vals []string, rows []int) string {
	var c labelCounter
	for _, r := range rows {
		c.add(vals[r])
	}
	m, _ := c.mode()
	return m
}

// Aggregate 按 keys 分组并对各字段做归约。
// 输出列顺序为分组键，然后是 reductions 中的字段；组按键排序。
func Aggregate(df dataframe.DataFrame, keys []string, reductions []FieldReduction) (dataframe.DataFrame, error) {
	return aggregate(df, keys, reductions, true)
}

func aggregate(df dataframe.DataFrame, keys []string, reductions []FieldReduction, sorted bool) (dataframe.DataFrame, error) {
	cols := append([]string{}, keys...)
	for _, fr := range reductions {
		cols = append(cols, fr.Field)
	}
	if err := requireColumns(df, MergedTable, cols...); err != nil {
		return dataframe.DataFrame{}, err
	}

	keyCols := make([]keyColumn, len(keys))
	for i, k := range keys {
		keyCols[i] = readKeyColumn(df, k)
	}
	groups := groupRows(keyCols, df.Nrow(), sorted)

	out := make([]series.Series, 0, len(cols))
	for _, k := range keyCols {
		out = append(out, keySeries(k, groups))
	}

	for _, fr := range reductions {
		switch fr.Reduction {
		case Mean, Sum:
			vals := floatColumn(df, fr.Field)
			reduced := make([]float64, len(groups))
			for g := range groups {
				reduced[g] = reduceFloat(vals, groups[g].rows, fr.Reduction)
			}
			out = append(out, series.New(reduced, series.Float, fr.Field))
		case Mode:
			vals := stringColumn(df, fr.Field)
			reduced := make([]string, len(groups))
			for g := range groups {
				reduced[g] = reduceLabel(vals, groups[g].rows)
			}
			out = append(out, series.New(reduced, series.String, fr.Field))
		default:
			return dataframe.DataFrame{}, fmt.Errorf("aggregate: unknown reduction %v for %q", fr.Reduction, fr.Field)
		}
	}

	res := dataframe.New(out...)
	if res.Err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("aggregate: %w", res.Err)
	}
	return res, nil
}

// keySeries 取每组第一行的键值，保留原列类型
func keySeries(k keyColumn, groups []group) series.Series {
	switch k.typ {
	case series.Int:
		vals := make([]int, len(groups))
		for g := range groups {
			vals[g] = int(k.nums[groups[g].rows[0]])
		}
		return series.New(vals, series.Int, k.name)
	case series.Float:
		vals := make([]float64, len(groups))
		for g := range groups {
			vals[g] = k.nums[groups[g].rows[0]]
		}
		return series.New(vals, series.Float, k.name)
	default:
		vals := make([]string, len(groups))
		for g := range groups {
			vals[g] = k.strs[groups[g].rows[0]]
		}
		return series.New(vals, series.String, k.name)
	}
}

// Daily 每个站点每个日历日一行
func Daily(df dataframe.DataFrame) (dataframe.DataFrame, error) {
	return Aggregate(df, []string{ColStation, ColDate}, DefaultReductions)
}

// Monthly 每个站点每个月份(1-12)一行，跨年份合并
func Monthly(df dataframe.DataFrame) (dataframe.DataFrame, error) {
	return Aggregate(df, []string{ColStation, ColMonth}, DefaultReductions)
}

// MonthlyPerYear 每个站点每个自然月一行，并补充 day=1 和当月1日的 date 列用于作图排序
func MonthlyPerYear(df dataframe.DataFrame) (dataframe.DataFrame, error) {
	agg, err := Aggregate(df, []string{ColStation, ColYear, ColMonth}, DefaultReductions)
	if err != nil {
		return agg, err
	}

	years, err := intColumn(agg, MergedTable, ColYear)
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	months, err := intColumn(agg, MergedTable, ColMonth)
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	days := make([]int, agg.Nrow())
	dates := make([]string, agg.Nrow())
	for i := range days {
		days[i] = 1
		dates[i] = fmt.Sprintf("%04d-%02d-01", years[i], months[i])
	}
	agg = agg.Mutate(series.New(days, series.Int, ColDay))
	agg = agg.Mutate(series.New(dates, series.String, ColDate))
	return agg, agg.Err
}

// YearBucket 日表中第 pos 行(从0开始)所属的年份桶
func YearBucket(pos int) int {
	b := pos/daysPerBucket + 1
	if b > lastBucket {
		return lastBucket
	}
	return b
}

// YearlyPerStation 基于日表按站点分别处理：按行位置给每个站点的日记录分配年份桶，
// 再按(站点, 年份桶)归约。站点按 stations 给出的顺序输出，
// stations 为空时使用日表中站点首次出现的顺序。
func YearlyPerStation(daily dataframe.DataFrame, stations []string) (dataframe.DataFrame, error) {
	if err := requireColumns(daily, MergedTable, ColStation); err != nil {
		return dataframe.DataFrame{}, err
	}
	if len(stations) == 0 {
		stations = UniqueStations(daily, ColStation)
	}

	parts, err := PartitionByStation(daily, ColStation, stations)
	if err != nil {
		return dataframe.DataFrame{}, err
	}

	yearly := make([]dataframe.DataFrame, 0, len(parts))
	for _, part := range parts {
		buckets := make([]int, part.Nrow())
		for pos := range buckets {
			buckets[pos] = YearBucket(pos)
		}
		part = part.Mutate(series.New(buckets, series.Int, ColYearly))
		agg, err := aggregate(part, []string{ColStation, ColYearly}, DefaultReductions, true)
		if err != nil {
			return dataframe.DataFrame{}, err
		}
		yearly = append(yearly, agg)
	}
	if len(yearly) == 0 {
		return aggregate(emptyYearlyInput(daily), []string{ColStation, ColYearly}, DefaultReductions, true)
	}
	return concatTables(yearly)
}

func emptyYearlyInput(daily dataframe.DataFrame) dataframe.DataFrame {
	empty := emptyLike(daily)
	return empty.Mutate(series.New([]int{}, series.Int, ColYearly))
}

// ByStation 全时段每个站点一行
func ByStation(df dataframe.DataFrame) (dataframe.DataFrame, error) {
	return Aggregate(df, []string{ColStation}, DefaultReductions)
}

// PrevailingWind 基于月表求每个站点的主导风向，并附上站点经纬度
func PrevailingWind(monthly dataframe.DataFrame, coords Coordinates) (dataframe.DataFrame, error) {
	agg, err := Aggregate(monthly, []string{ColStation}, []FieldReduction{{ColWindDir, Mode}})
	if err != nil {
		return agg, err
	}
	stations := stringColumn(agg, ColStation)
	lons := make([]float64, len(stations))
	lats := make([]float64, len(stations))
	for i, st := range stations {
		c, _ := coords.Lookup(st)
		lons[i], lats[i] = c.Lon, c.Lat
	}
	agg = agg.Mutate(series.New(lons, series.Float, ColLon))
	agg = agg.Mutate(series.New(lats, series.Float, ColLat))
	return agg, agg.Err
}

// StationValue 站点及其某个字段的值
type StationValue struct {
	Station string
	Value   float64
}

// RankStations 按字段值从高到低排列站点，NaN 排在最后
func RankStations(summary dataframe.DataFrame, field string) ([]StationValue, error) {
	if err := requireColumns(summary, MergedTable, ColStation, field); err != nil {
		return nil, err
	}
	stations := stringColumn(summary, ColStation)
	vals := floatColumn(summary, field)
	ranked := make([]StationValue, len(stations))
	for i := range stations {
		ranked[i] = StationValue{Station: stations[i], Value: vals[i]}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i].Value, ranked[j].Value
		if math.IsNaN(b) {
			return !math.IsNaN(a)
		}
		return a > b
	})
	return ranked, nil
}

// concatTables 按顺序纵向拼接列结构相同的表，每列只构建一次
func concatTables(frames []dataframe.DataFrame) (dataframe.DataFrame, error) {
	first := frames[0]
	names := first.Names()
	types := first.Types()
	cols := make([]series.Series, len(names))
	for i, name := range names {
		switch types[i] {
		case series.Float:
			var vals []float64
			for _, f := range frames {
				vals = append(vals, f.Col(name).Float()...)
			}
			cols[i] = series.New(vals, series.Float, name)
		case series.Int:
			var vals []int
			for _, f := range frames {
				v, err := f.Col(name).Int()
				if err != nil {
					return dataframe.DataFrame{}, fmt.Errorf("concat %q: %w", name, err)
				}
				vals = append(vals, v...)
			}
			cols[i] = series.New(vals, series.Int, name)
		default:
			var vals []string
			for _, f := range frames {
				vals = append(vals, f.Col(name).Records()...)
			}
			cols[i] = series.New(vals, series.String, name)
		}
	}
	res := dataframe.New(cols...)
	return res, res.Err
}
