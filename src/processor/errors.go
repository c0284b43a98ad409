package processor

import (
	"errors"
	"fmt"
)

// ErrNoObservations 合并结果为空
var ErrNoObservations = errors.New("no observations")

// 非原始表的表序号
const (
	MergedTable     = -1
	CoordinateTable = -2
)

// InputSchemaError 输入表结构错误：缺列、非法日历值、未知站点或重复记录。
// 在插补之前返回，整个流水线中止。
type InputSchemaError struct {
	Table  int    // 原始表序号，或 MergedTable / CoordinateTable
	Column string // 出错的列，可为空
	Reason string
	Err    error
}

func (e *InputSchemaError) Error() string {
	var where string
	switch {
	case e.Table >= 0:
		where = fmt.Sprintf("table %d", e.Table)
	case e.Table == CoordinateTable:
		where = "coordinate table"
	default:
		where = "merged table"
	}
	if e.Column != "" {
		return fmt.Sprintf("input schema: %s, column %q: %s", where, e.Column, e.Reason)
	}
	return fmt.Sprintf("input schema: %s: %s", where, e.Reason)
}

func (e *InputSchemaError) Unwrap() error { return e.Err }

// MissingStratumError 众数插补时某个(站点, 小时)分层没有任何非缺失值
type MissingStratumError struct {
	Field   string
	Station string
	Hour    int
}

func (e *MissingStratumError) Error() string {
	return fmt.Sprintf("no mode in empty/uniform-missing stratum: field %q, station %q, hour %d",
		e.Field, e.Station, e.Hour)
}
