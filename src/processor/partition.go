// partition.go
package processor

import (
	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// UniqueStations 站点按首次出现的顺序去重
func UniqueStations(df dataframe.DataFrame, col string) []string {
	if !HasColumn(df, col) {
		return nil
	}
	seen := make(map[string]bool)
	var stations []string
	for _, st := range stringColumn(df, col) {
		if !seen[st] {
			seen[st] = true
			stations = append(stations, st)
		}
	}
	return stations
}

// PartitionByStation 按 stations 的顺序为每个站点筛出一个子表，子表内保持原表行顺序。
// 表中没有的站点得到列结构相同的空表。
func PartitionByStation(df dataframe.DataFrame, col string, stations []string) ([]dataframe.DataFrame, error) {
	if err := requireColumns(df, MergedTable, col); err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, st := range stringColumn(df, col) {
		counts[st]++
	}

	parts := make([]dataframe.DataFrame, 0, len(stations))
	for _, station := range stations {
		if counts[station] == 0 {
			parts = append(parts, emptyLike(df))
			continue
		}
		part := df.Filter(
			dataframe.F{Colname: col, Comparator: series.Eq, Comparando: station},
		)
		if part.Err != nil {
			return nil, part.Err
		}
		parts = append(parts, part)
	}
	return parts, nil
}
