package processor

import (
	"math"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// obs 测试用的一条原始观测，除降雨量外所有数值字段取 value
type obs struct {
	station                string
	year, month, day, hour int
	value                  float64
	rain                   float64
	wd                     string
}

func rawFrame(rows ...obs) dataframe.DataFrame {
	n := len(rows)
	years, months, days, hours := make([]int, n), make([]int, n), make([]int, n), make([]int, n)
	stations, winds := make([]string, n), make([]string, n)
	values, rains := make([]float64, n), make([]float64, n)
	for i, r := range rows {
		years[i], months[i], days[i], hours[i] = r.year, r.month, r.day, r.hour
		stations[i], winds[i] = r.station, r.wd
		values[i], rains[i] = r.value, r.rain
	}

	cols := []series.Series{
		series.New(years, series.Int, ColYear),
		series.New(months, series.Int, ColMonth),
		series.New(days, series.Int, ColDay),
		series.New(hours, series.Int, ColHour),
	}
	for _, f := range NumericFields {
		if f == ColRain {
			cols = append(cols, series.New(rains, series.Float, f))
			continue
		}
		cols = append(cols, series.New(append([]float64{}, values...), series.Float, f))
	}
	cols = append(cols,
		series.New(winds, series.String, ColWindDir),
		series.New(stations, series.String, ColStation),
	)
	return dataframe.New(cols...)
}

func coordFrame(stations ...string) dataframe.DataFrame {
	lons := make([]float64, len(stations))
	lats := make([]float64, len(stations))
	for i := range stations {
		lons[i] = 116.0 + float64(i)/10
		lats[i] = 40.0 + float64(i)/10
	}
	return dataframe.New(
		series.New(stations, series.String, ColStation),
		series.New(lons, series.Float, ColLon),
		series.New(lats, series.Float, ColLat),
	)
}

func mustCoords(stations ...string) Coordinates {
	c, err := NewCoordinates(coordFrame(stations...))
	if err != nil {
		panic(err)
	}
	return c
}

func mustMerge(tables ...dataframe.DataFrame) dataframe.DataFrame {
	df, err := Merge(tables, Coordinates{})
	if err != nil {
		panic(err)
	}
	return df
}

// withFloats 替换数值列
func withFloats(df dataframe.DataFrame, col string, vals ...float64) dataframe.DataFrame {
	return df.Mutate(series.New(vals, series.Float, col))
}

// withStrings 替换字符串列
func withStrings(df dataframe.DataFrame, col string, vals ...string) dataframe.DataFrame {
	return df.Mutate(series.New(vals, series.String, col))
}

// hourly 一个站点从 start 日起连续 days 天、每天 hours 个小时的观测
func hourly(station string, year, month, startDay, days, hours int, value float64) []obs {
	var rows []obs
	for d := 0; d < days; d++ {
		for h := 0; h < hours; h++ {
			rows = append(rows, obs{
				station: station, year: year, month: month, day: startDay + d, hour: h,
				value: value + float64(h), rain: 0.5, wd: "N",
			})
		}
	}
	return rows
}

var nan = math.NaN()
