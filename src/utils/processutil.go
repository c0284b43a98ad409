package utils

import (
	"math"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

func Contains[T comparable](slice []T, item T) bool {
	for _, v := range slice {
		if v == item {
			return true
		}
	}
	return false
}

// RowRange 取出 [from, to) 行的值：Float 列的 NaN 为 nil，Int 列为 int，其余为字符串。
// 先按行截取再按列读取，每列只复制一次
func RowRange(df dataframe.DataFrame, from, to int) ([][]interface{}, error) {
	if to > df.Nrow() {
		to = df.Nrow()
	}
	if from < 0 || from >= to {
		return [][]interface{}{}, nil
	}

	idx := make([]int, to-from)
	for i := range idx {
		idx[i] = from + i
	}
	sub := df.Subset(idx)
	if sub.Err != nil {
		return nil, sub.Err
	}

	cols := ColumnValues(sub)
	rows := make([][]interface{}, len(idx))
	for r := range rows {
		row := make([]interface{}, len(cols))
		for c := range cols {
			row[c] = cols[c][r]
		}
		rows[r] = row
	}
	return rows, nil
}

// ColumnValues 按列取出整张表的值，规则与 RowRange 相同
func ColumnValues(df dataframe.DataFrame) [][]interface{} {
	types := df.Types()
	cols := make([][]interface{}, df.Ncol())
	for i, name := range df.Names() {
		s := df.Col(name)
		col := make([]interface{}, s.Len())
		for r := range col {
			col[r] = cellValue(s.Elem(r), types[i])
		}
		cols[i] = col
	}
	return cols
}

func cellValue(e series.Element, t series.Type) interface{} {
	switch t {
	case series.Float:
		f := e.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	case series.Int:
		if e.IsNA() {
			return nil
		}
		n, err := e.Int()
		if err != nil {
			return nil
		}
		return n
	case series.Bool:
		if e.IsNA() {
			return nil
		}
		b, err := e.Bool()
		if err != nil {
			return nil
		}
		return b
	default:
		return e.String()
	}
}
