// merge.go
package processor

import (
	"fmt"
	"math"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// Coordinate 站点经纬度
type Coordinate struct {
	Lon float64
	Lat float64
}

// Coordinates 站点标识到经纬度的映射
type Coordinates map[string]Coordinate

// Lookup 返回站点坐标，未知站点返回NaN坐标
func (c Coordinates) Lookup(station string) (Coordinate, bool) {
	coord, ok := c[station]
	if !ok {
		return Coordinate{Lon: math.NaN(), Lat: math.NaN()}, false
	}
	return coord, true
}

// NewCoordinates 从 station/lon/lat 三列的表构建坐标映射。
// 空表（没有任何列）得到空映射。
func NewCoordinates(df dataframe.DataFrame) (Coordinates, error) {
	coords := make(Coordinates)
	if df.Ncol() == 0 {
		return coords, nil
	}
	if err := requireColumns(df, CoordinateTable, CoordinateColumns...); err != nil {
		return nil, err
	}

	stations := stringColumn(df, ColStation)
	lons := floatColumn(df, ColLon)
	lats := floatColumn(df, ColLat)
	for i, st := range stations {
		if _, dup := coords[st]; dup {
			return nil, &InputSchemaError{Table: CoordinateTable, Column: ColStation,
				Reason: fmt.Sprintf("duplicate station %q", st)}
		}
		coords[st] = Coordinate{Lon: lons[i], Lat: lats[i]}
	}
	return coords, nil
}

// Merge 将各站点原始表按输入顺序纵向合并（不去重），
// 生成 date_h / date 两个时间列，按站点左连接经纬度，并整理为标准列顺序。
//
// 所有列只在最后构建一次，不在循环里反复拼接DataFrame。
// 没有输入表时返回标准列结构的空表。
func Merge(tables []dataframe.DataFrame, coords Coordinates) (dataframe.DataFrame, error) {
	if len(tables) == 0 {
		return EmptyCanonical(), nil
	}

	total := 0
	for i, t := range tables {
		if err := requireColumns(t, i, RawColumns...); err != nil {
			return dataframe.DataFrame{}, err
		}
		total += t.Nrow()
	}

	numeric := make(map[string][]float64, len(NumericFields))
	for _, f := range NumericFields {
		numeric[f] = make([]float64, 0, total)
	}
	var (
		dateHours = make([]string, 0, total)
		dates     = make([]string, 0, total)
		winds     = make([]string, 0, total)
		stations  = make([]string, 0, total)
		years     = make([]int, 0, total)
		months    = make([]int, 0, total)
		days      = make([]int, 0, total)
		hours     = make([]int, 0, total)
		lons      = make([]float64, 0, total)
		lats      = make([]float64, 0, total)
	)

	for i, t := range tables {
		cal := make([][]int, len(CalendarFields))
		for k, name := range CalendarFields {
			vals, err := intColumn(t, i, name)
			if err != nil {
				return dataframe.DataFrame{}, err
			}
			cal[k] = vals
		}

		st := stringColumn(t, ColStation)
		for r := range st {
			if IsMissingLabel(st[r]) {
				return dataframe.DataFrame{}, &InputSchemaError{Table: i, Column: ColStation,
					Reason: fmt.Sprintf("row %d: missing station", r)}
			}
			ts, err := calendarTime(cal[0][r], cal[1][r], cal[2][r], cal[3][r])
			if err != nil {
				return dataframe.DataFrame{}, &InputSchemaError{Table: i,
					Reason: fmt.Sprintf("row %d: %v", r, err)}
			}
			dateHours = append(dateHours, ts.Format(DateHourLayout))
			dates = append(dates, ts.Format(DateLayout))

			c, _ := coords.Lookup(st[r])
			lons = append(lons, c.Lon)
			lats = append(lats, c.Lat)
		}
		stations = append(stations, st...)
		years = append(years, cal[0]...)
		months = append(months, cal[1]...)
		days = append(days, cal[2]...)
		hours = append(hours, cal[3]...)

		for _, f := range NumericFields {
			numeric[f] = append(numeric[f], floatColumn(t, f)...)
		}
		for _, w := range stringColumn(t, ColWindDir) {
			if IsMissingLabel(w) {
				w = Missing
			}
			winds = append(winds, w)
		}
	}

	cols := make([]series.Series, 0, len(CanonicalColumns))
	for _, name := range CanonicalColumns {
		switch name {
		case ColDateHour:
			cols = append(cols, series.New(dateHours, series.String, name))
		case ColDate:
			cols = append(cols, series.New(dates, series.String, name))
		case ColWindDir:
			cols = append(cols, series.New(winds, series.String, name))
		case ColStation:
			cols = append(cols, series.New(stations, series.String, name))
		case ColYear:
			cols = append(cols, series.New(years, series.Int, name))
		case ColMonth:
			cols = append(cols, series.New(months, series.Int, name))
		case ColDay:
			cols = append(cols, series.New(days, series.Int, name))
		case ColHour:
			cols = append(cols, series.New(hours, series.Int, name))
		case ColLon:
			cols = append(cols, series.New(lons, series.Float, name))
		case ColLat:
			cols = append(cols, series.New(lats, series.Float, name))
		default:
			cols = append(cols, series.New(numeric[name], series.Float, name))
		}
	}

	merged := dataframe.New(cols...)
	if merged.Err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("merge: %w", merged.Err)
	}
	return merged, nil
}

// calendarTime 由年月日时构造时间，拒绝越界的日历值
func calendarTime(year, month, day, hour int) (time.Time, error) {
	if month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("invalid month %d", month)
	}
	if hour < 0 || hour > 23 {
		return time.Time{}, fmt.Errorf("invalid hour %d", hour)
	}
	last := time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day < 1 || day > last {
		return time.Time{}, fmt.Errorf("invalid day %d for %04d-%02d", day, year, month)
	}
	return time.Date(year, time.Month(month), day, hour, 0, 0, 0, time.UTC), nil
}
