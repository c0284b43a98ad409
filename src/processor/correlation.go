// correlation.go
package processor

import (
	"fmt"
	"math"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"gonum.org/v1/gonum/stat"
)

// RainfallWindow 降雨量之后取的字段个数
const RainfallWindow = 5

// Matrix Pearson 相关系数矩阵，Values[i][j] 对应 Names[i] 与 Names[j]
type Matrix struct {
	Names  []string
	Values [][]float64
}

// Index 列在矩阵中的位置，不存在返回 -1
func (m Matrix) Index(name string) int {
	for i, n := range m.Names {
		if n == name {
			return i
		}
	}
	return -1
}

// At 两列的相关系数
func (m Matrix) At(a, b string) float64 {
	i, j := m.Index(a), m.Index(b)
	if i < 0 || j < 0 {
		return math.NaN()
	}
	return m.Values[i][j]
}

// Correlation 字段与目标字段的相关系数，样本不足时为 NaN
type Correlation struct {
	Field string
	Value float64
}

// Defined 系数是否有定义
func (c Correlation) Defined() bool {
	return !math.IsNaN(c.Value)
}

// CorrelationMatrix 对表中全部数值列（Float/Int）按表中顺序计算两两 Pearson 相关系数。
// 每一对只使用两列都不缺失的行；不足两对观测或方差为零时为 NaN。
func CorrelationMatrix(df dataframe.DataFrame) Matrix {
	var (
		names []string
		cols  [][]float64
	)
	for i, t := range df.Types() {
		if t != series.Float && t != series.Int {
			continue
		}
		name := df.Names()[i]
		names = append(names, name)
		cols = append(cols, floatColumn(df, name))
	}

	values := make([][]float64, len(names))
	for i := range values {
		values[i] = make([]float64, len(names))
	}
	for i := range names {
		for j := i; j < len(names); j++ {
			r := pairwisePearson(cols[i], cols[j])
			values[i][j] = r
			values[j][i] = r
		}
	}
	return Matrix{Names: names, Values: values}
}

func pairwisePearson(a, b []float64) float64 {
	xs := make([]float64, 0, len(a))
	ys := make([]float64, 0, len(a))
	for k := range a {
		if math.IsNaN(a[k]) || math.IsNaN(b[k]) {
			continue
		}
		xs = append(xs, a[k])
		ys = append(ys, b[k])
	}
	if len(xs) < 2 || zeroVariance(xs) || zeroVariance(ys) {
		return math.NaN()
	}
	r := stat.Correlation(xs, ys, nil)
	return math.Max(-1, math.Min(1, r))
}

func zeroVariance(vals []float64) bool {
	for _, v := range vals[1:] {
		if v != vals[0] {
			return false
		}
	}
	return true
}

// Summarize 取矩阵中 target 列之后紧邻的 n 列与 target 的相关系数，不含 target 自身
func Summarize(m Matrix, target string, n int) ([]Correlation, error) {
	idx := m.Index(target)
	if idx < 0 {
		return nil, &InputSchemaError{Table: MergedTable, Column: target, Reason: "not a numeric column"}
	}
	if idx+n >= len(m.Names) {
		return nil, &InputSchemaError{Table: MergedTable, Column: target,
			Reason: fmt.Sprintf("need %d columns after target, have %d", n, len(m.Names)-idx-1)}
	}
	out := make([]Correlation, 0, n)
	for j := idx + 1; j <= idx+n; j++ {
		out = append(out, Correlation{Field: m.Names[j], Value: m.Values[j][idx]})
	}
	return out, nil
}

// CorrelationColumns 相关性矩阵的列顺序：target 在前，其余数值字段按标准顺序跟随。
// target 为降雨量时依次是污染物和气象字段
func CorrelationColumns(target string) []string {
	cols := []string{target}
	for _, f := range NumericFields {
		if f != target {
			cols = append(cols, f)
		}
	}
	return cols
}

// RainfallCorrelation 月表中 target 与其后 n 个字段的相关系数，
// 默认 target 为降雨量、n 为 RainfallWindow，即 PM2.5 到 CO 五个字段
func RainfallCorrelation(monthly dataframe.DataFrame, target string, n int) ([]Correlation, error) {
	cols := CorrelationColumns(target)
	if err := requireColumns(monthly, MergedTable, cols...); err != nil {
		return nil, err
	}
	m := CorrelationMatrix(monthly.Select(cols))
	return Summarize(m, target, n)
}
