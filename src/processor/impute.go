// impute.go
package processor

import (
	"math"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// Stratum (站点, 小时) 分层，只在插补时作为分组键使用
type Stratum struct {
	Station string
	Hour    int
}

// EmptyStratum 某字段在该分层内没有任何非缺失值
type EmptyStratum struct {
	Field string
	Stratum
}

// ImputeReport 插补结果统计
type ImputeReport struct {
	Filled      map[string]int // 字段 -> 被填充的缺失值个数
	EmptyStrata []EmptyStratum // 均值无定义、保持缺失的分层
}

func newImputeReport() ImputeReport {
	return ImputeReport{Filled: make(map[string]int)}
}

// merge 合并两次插补的统计
func (r *ImputeReport) merge(o ImputeReport) {
	if r.Filled == nil {
		r.Filled = make(map[string]int)
	}
	for k, v := range o.Filled {
		r.Filled[k] += v
	}
	r.EmptyStrata = append(r.EmptyStrata, o.EmptyStrata...)
}

// strata 每行所属分层的编号，编号按分层首次出现的顺序分配
type strata struct {
	rowIDs []int
	keys   []Stratum
}

func buildStrata(df dataframe.DataFrame) (*strata, error) {
	if err := requireColumns(df, MergedTable, ColStation, ColHour); err != nil {
		return nil, err
	}
	stations := stringColumn(df, ColStation)
	hours, err := intColumn(df, MergedTable, ColHour)
	if err != nil {
		return nil, err
	}

	s := &strata{rowIDs: make([]int, len(stations))}
	index := make(map[Stratum]int)
	for r := range stations {
		key := Stratum{Station: stations[r], Hour: hours[r]}
		id, ok := index[key]
		if !ok {
			id = len(s.keys)
			index[key] = id
			s.keys = append(s.keys, key)
		}
		s.rowIDs[r] = id
	}
	return s, nil
}

// ImputeMean 在每个(站点, 小时)分层内用非缺失值的均值填充数值字段的缺失值。
// 分层只建立一次，每个字段一次扫描求出各分层的和与计数，再回填。
// 没有非缺失值的分层保持缺失，记录在 ImputeReport.EmptyStrata 中。
// 没有缺失值的字段原样保留，因此对已插补的表再次调用不会改变结果。
func ImputeMean(df dataframe.DataFrame, fields []string) (dataframe.DataFrame, ImputeReport, error) {
	report := newImputeReport()
	if err := requireColumns(df, MergedTable, fields...); err != nil {
		return df, report, err
	}
	st, err := buildStrata(df)
	if err != nil {
		return df, report, err
	}

	for _, field := range fields {
		vals := floatColumn(df, field)
		if countNaN(vals) == 0 {
			continue
		}

		sums := make([]float64, len(st.keys))
		counts := make([]int, len(st.keys))
		for r, v := range vals {
			if !math.IsNaN(v) {
				sums[st.rowIDs[r]] += v
				counts[st.rowIDs[r]]++
			}
		}

		reported := make([]bool, len(st.keys))
		for r, v := range vals {
			if !math.IsNaN(v) {
				continue
			}
			id := st.rowIDs[r]
			if counts[id] == 0 {
				if !reported[id] {
					reported[id] = true
					report.EmptyStrata = append(report.EmptyStrata, EmptyStratum{Field: field, Stratum: st.keys[id]})
				}
				continue
			}
			vals[r] = sums[id] / float64(counts[id])
			report.Filled[field]++
		}
		df = df.Mutate(series.New(vals, series.Float, field))
	}
	return df, report, nil
}

// labelCounter 分层内各类别的出现次数，order 记录首次出现顺序
type labelCounter struct {
	counts  map[string]int
	order   []string
	missing int
}

func (c *labelCounter) add(v string) {
	if IsMissingLabel(v) {
		c.missing++
		return
	}
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	if _, ok := c.counts[v]; !ok {
		c.order = append(c.order, v)
	}
	c.counts[v]++
}

// mode 出现次数最多的类别，次数相同时取先出现的
func (c *labelCounter) mode() (string, bool) {
	if len(c.order) == 0 {
		return Missing, false
	}
	best := c.order[0]
	for _, v := range c.order[1:] {
		if c.counts[v] > c.counts[best] {
			best = v
		}
	}
	return best, true
}

// ImputeMode 在每个(站点, 小时)分层内用众数填充类别字段的缺失值，
// 众数并列时取分层内先出现的类别。
// 分层内全部缺失时众数无定义，返回 *MissingStratumError。
func ImputeMode(df dataframe.DataFrame, fields []string) (dataframe.DataFrame, ImputeReport, error) {
	report := newImputeReport()
	if err := requireColumns(df, MergedTable, fields...); err != nil {
		return df, report, err
	}
	st, err := buildStrata(df)
	if err != nil {
		return df, report, err
	}

	for _, field := range fields {
		vals := stringColumn(df, field)
		counters := make([]labelCounter, len(st.keys))
		missing := 0
		for r, v := range vals {
			counters[st.rowIDs[r]].add(v)
			if IsMissingLabel(v) {
				missing++
			}
		}
		if missing == 0 {
			continue
		}

		fill := make([]string, len(st.keys))
		for id := range counters {
			if counters[id].missing == 0 {
				continue
			}
			m, ok := counters[id].mode()
			if !ok {
				key := st.keys[id]
				return df, report, &MissingStratumError{Field: field, Station: key.Station, Hour: key.Hour}
			}
			fill[id] = m
		}

		for r, v := range vals {
			if IsMissingLabel(v) {
				vals[r] = fill[st.rowIDs[r]]
				report.Filled[field]++
			}
		}
		df = df.Mutate(series.New(vals, series.String, field))
	}
	return df, report, nil
}

// Impute 先做均值插补再做众数插补
func Impute(df dataframe.DataFrame, meanFields, modeFields []string) (dataframe.DataFrame, ImputeReport, error) {
	out, report, err := ImputeMean(df, meanFields)
	if err != nil {
		return df, report, err
	}
	out, modeReport, err := ImputeMode(out, modeFields)
	report.merge(modeReport)
	if err != nil {
		return df, report, err
	}
	return out, report, nil
}
