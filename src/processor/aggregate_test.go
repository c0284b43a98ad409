package processor

import (
	"fmt"
	"math"
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dailyFrame 构造一个站点连续 n 天的日表，数值字段取行位置，降雨量每天为1
func dailyFrame(station string, n int) dataframe.DataFrame {
	stations := make([]string, n)
	dates := make([]string, n)
	pos := make([]float64, n)
	ones := make([]float64, n)
	winds := make([]string, n)
	for i := 0; i < n; i++ {
		stations[i] = station
		dates[i] = fmt.Sprintf("day-%04d", i)
		pos[i] = float64(i)
		ones[i] = 1
		winds[i] = "NW"
	}
	cols := []series.Series{
		series.New(stations, series.String, ColStation),
		series.New(dates, series.String, ColDate),
	}
	for _, fr := range DefaultReductions {
		switch {
		case fr.Field == ColRain:
			cols = append(cols, series.New(ones, series.Float, fr.Field))
		case fr.Reduction == Mode:
			cols = append(cols, series.New(winds, series.String, fr.Field))
		default:
			cols = append(cols, series.New(pos, series.Float, fr.Field))
		}
	}
	return dataframe.New(cols...)
}

func TestDaily(t *testing.T) {
	var rows []obs
	rows = append(rows, hourly("B", 2013, 3, 1, 2, 3, 10)...)
	rows = append(rows, hourly("A", 2013, 3, 1, 2, 3, 10)...)
	merged := mustMerge(rawFrame(rows...))

	daily, err := Daily(merged)
	require.NoError(t, err)

	require.Equal(t, 4, daily.Nrow())
	assert.Equal(t, ColStation, daily.Names()[0])
	assert.Equal(t, ColDate, daily.Names()[1])
	assert.Equal(t, ColWindDir, daily.Names()[daily.Ncol()-1])
	assert.Equal(t, []string{"A", "A", "B", "B"}, stringColumn(daily, ColStation))
	assert.Equal(t, []string{"2013-03-01", "2013-03-02", "2013-03-01", "2013-03-02"}, stringColumn(daily, ColDate))
	assert.Equal(t, []float64{11, 11, 11, 11}, floatColumn(daily, ColPM25))
	assert.InDeltaSlice(t, []float64{1.5, 1.5, 1.5, 1.5}, floatColumn(daily, ColRain), 1e-9)
	assert.Equal(t, []string{"N", "N", "N", "N"}, stringColumn(daily, ColWindDir))
}

func TestMonthlyMergesYears(t *testing.T) {
	var rows []obs
	rows = append(rows, hourly("Gucheng", 2013, 3, 1, 1, 2, 0)...)
	rows = append(rows, hourly("Gucheng", 2013, 4, 1, 1, 2, 0)...)
	rows = append(rows, hourly("Gucheng", 2014, 3, 1, 1, 2, 0)...)
	merged := mustMerge(rawFrame(rows...))

	monthly, err := Monthly(merged)
	require.NoError(t, err)
	assert.Equal(t, 2, monthly.Nrow())
	months, err := monthly.Col(ColMonth).Int()
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, months)
	assert.InDeltaSlice(t, []float64{2, 1}, floatColumn(monthly, ColRain), 1e-9)

	perYear, err := MonthlyPerYear(merged)
	require.NoError(t, err)
	require.Equal(t, 3, perYear.Nrow())
	assert.Equal(t, []string{"2013-03-01", "2013-04-01", "2014-03-01"}, stringColumn(perYear, ColDate))
	days, err := perYear.Col(ColDay).Int()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1}, days)
}

func TestMonthlyAtMostTwelveRowsPerStation(t *testing.T) {
	var rows []obs
	for _, year := range []int{2013, 2014, 2015} {
		for month := 1; month <= 12; month++ {
			rows = append(rows, obs{station: "Wanliu", year: year, month: month, day: 1, hour: 0, wd: "N"})
			rows = append(rows, obs{station: "Tiantan", year: year, month: month, day: 2, hour: 0, wd: "S"})
		}
	}
	monthly, err := Monthly(mustMerge(rawFrame(rows...)))
	require.NoError(t, err)
	assert.Equal(t, 24, monthly.Nrow())
}

func TestYearBucket(t *testing.T) {
	cases := []struct{ pos, bucket int }{
		{0, 1}, {364, 1}, {365, 2}, {729, 2}, {730, 3}, {1094, 3}, {1095, 4}, {1460, 4}, {5000, 4},
	}
	for _, c := range cases {
		assert.Equal(t, c.bucket, YearBucket(c.pos), "pos %d", c.pos)
	}
}

func TestYearlyPerStationBuckets(t *testing.T) {
	yearly, err := YearlyPerStation(dailyFrame("Shunyi", 1096), nil)
	require.NoError(t, err)

	require.Equal(t, 4, yearly.Nrow())
	buckets, err := yearly.Col(ColYearly).Int()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, buckets)
	assert.Equal(t, []float64{182, 547, 912, 1095}, floatColumn(yearly, ColPM25))
	assert.Equal(t, []float64{365, 365, 365, 1}, floatColumn(yearly, ColRain))

	short, err := YearlyPerStation(dailyFrame("Shunyi", 1095), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, short.Nrow())
}

func TestYearlyPerStationOrder(t *testing.T) {
	both, err := concatTables([]dataframe.DataFrame{dailyFrame("A", 400), dailyFrame("B", 10)})
	require.NoError(t, err)

	yearly, err := YearlyPerStation(both, []string{"B", "A"})
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A", "A"}, stringColumn(yearly, ColStation))
}

func TestAggregateSkipsMissing(t *testing.T) {
	df := dataframe.New(
		series.New([]string{"A", "A", "B", "B"}, series.String, ColStation),
		series.New([]float64{1, nan, nan, nan}, series.Float, ColPM25),
		series.New([]float64{nan, 2, nan, nan}, series.Float, ColRain),
		series.New([]string{Missing, "E", Missing, Missing}, series.String, ColWindDir),
	)
	agg, err := Aggregate(df, []string{ColStation}, []FieldReduction{
		{ColPM25, Mean}, {ColRain, Sum}, {ColWindDir, Mode},
	})
	require.NoError(t, err)

	pm := floatColumn(agg, ColPM25)
	assert.Equal(t, 1.0, pm[0])
	assert.True(t, math.IsNaN(pm[1]))
	assert.Equal(t, []float64{2, 0}, floatColumn(agg, ColRain))
	assert.Equal(t, []string{"E", Missing}, stringColumn(agg, ColWindDir))
}

func TestPrevailingWindAndRanking(t *testing.T) {
	monthly := dataframe.New(
		series.New([]string{"A", "A", "A", "B"}, series.String, ColStation),
		series.New([]string{"N", "E", "E", "S"}, series.String, ColWindDir),
		series.New([]float64{10, 20, 30, 90}, series.Float, ColPM25),
	)
	wind, err := PrevailingWind(monthly, mustCoords("A"))
	require.NoError(t, err)
	assert.Equal(t, []string{"E", "S"}, stringColumn(wind, ColWindDir))
	lons := floatColumn(wind, ColLon)
	assert.Equal(t, 116.0, lons[0])
	assert.True(t, math.IsNaN(lons[1]))

	summary, err := Aggregate(monthly, []string{ColStation}, []FieldReduction{{ColPM25, Mean}})
	require.NoError(t, err)
	ranked, err := RankStations(summary, ColPM25)
	require.NoError(t, err)
	assert.Equal(t, []StationValue{{"B", 90}, {"A", 20}}, ranked)
}
