package processor

import (
	"errors"
	"math"
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeConcatenatesInInputOrder(t *testing.T) {
	a := rawFrame(
		obs{station: "Aotizhongxin", year: 2013, month: 3, day: 1, hour: 0, value: 4, rain: 0, wd: "NNW"},
		obs{station: "Aotizhongxin", year: 2013, month: 3, day: 1, hour: 1, value: 8, rain: 0, wd: "N"},
	)
	b := rawFrame(
		obs{station: "Changping", year: 2013, month: 3, day: 1, hour: 0, value: 3, rain: 0.2, wd: "E"},
	)

	merged, err := Merge([]dataframe.DataFrame{a, b}, mustCoords("Aotizhongxin", "Changping"))
	require.NoError(t, err)

	assert.Equal(t, 3, merged.Nrow())
	assert.Equal(t, CanonicalColumns, merged.Names())
	assert.Equal(t, []string{"Aotizhongxin", "Aotizhongxin", "Changping"}, stringColumn(merged, ColStation))
	assert.Equal(t, []string{"2013-03-01 00:00:00", "2013-03-01 01:00:00", "2013-03-01 00:00:00"}, stringColumn(merged, ColDateHour))
	assert.Equal(t, []string{"2013-03-01", "2013-03-01", "2013-03-01"}, stringColumn(merged, ColDate))
	assert.Equal(t, []float64{4, 8, 3}, floatColumn(merged, ColPM25))
	assert.InDeltaSlice(t, []float64{116.0, 116.0, 116.1}, floatColumn(merged, ColLon), 1e-9)
}

func TestMergeSingleTable(t *testing.T) {
	rows := hourly("Dingling", 2014, 2, 27, 3, 2, 10)
	merged, err := Merge([]dataframe.DataFrame{rawFrame(rows...)}, mustCoords("Dingling"))
	require.NoError(t, err)

	assert.Equal(t, len(rows), merged.Nrow())
	assert.Equal(t, "2014-02-27 00:00:00", stringColumn(merged, ColDateHour)[0])
	assert.Equal(t, "2014-03-01 01:00:00", stringColumn(merged, ColDateHour)[len(rows)-1])
}

func TestMergeNoTables(t *testing.T) {
	merged, err := Merge(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, merged.Nrow())
	assert.Equal(t, CanonicalColumns, merged.Names())
}

func TestMergeUnknownStationKeepsRows(t *testing.T) {
	df := rawFrame(obs{station: "Nowhere", year: 2015, month: 1, day: 1, hour: 5, value: 1, wd: "S"})
	merged, err := Merge([]dataframe.DataFrame{df}, mustCoords("Dongsi"))
	require.NoError(t, err)

	require.Equal(t, 1, merged.Nrow())
	assert.True(t, math.IsNaN(floatColumn(merged, ColLon)[0]))
	assert.True(t, math.IsNaN(floatColumn(merged, ColLat)[0]))
}

func TestMergeNormalizesMissingWindDirection(t *testing.T) {
	df := rawFrame(
		obs{station: "Gucheng", year: 2016, month: 6, day: 1, hour: 0, wd: ""},
		obs{station: "Gucheng", year: 2016, month: 6, day: 1, hour: 1, wd: "NA"},
	)
	merged := mustMerge(df)
	assert.Equal(t, []string{Missing, Missing}, stringColumn(merged, ColWindDir))
}

func TestMergeMissingColumn(t *testing.T) {
	good := rawFrame(obs{station: "Huairou", year: 2013, month: 3, day: 1, wd: "N"})
	var cols []string
	for _, c := range RawColumns {
		if c != ColWindDir {
			cols = append(cols, c)
		}
	}
	bad := good.Select(cols)

	_, err := Merge([]dataframe.DataFrame{good, bad}, nil)
	var schemaErr *InputSchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, 1, schemaErr.Table)
	assert.Equal(t, ColWindDir, schemaErr.Column)
}

func TestMergeRejectsInvalidCalendar(t *testing.T) {
	cases := map[string]obs{
		"month": {station: "Shunyi", year: 2013, month: 13, day: 1},
		"day":   {station: "Shunyi", year: 2014, month: 2, day: 29},
		"hour":  {station: "Shunyi", year: 2013, month: 3, day: 1, hour: 24},
	}
	for name, o := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Merge([]dataframe.DataFrame{rawFrame(o)}, nil)
			var schemaErr *InputSchemaError
			require.True(t, errors.As(err, &schemaErr))
			assert.Equal(t, 0, schemaErr.Table)
		})
	}
}

func TestNewCoordinatesDuplicateStation(t *testing.T) {
	_, err := NewCoordinates(coordFrame("Tiantan", "Tiantan"))
	var schemaErr *InputSchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, CoordinateTable, schemaErr.Table)
	assert.Contains(t, err.Error(), "coordinate table")
}

func TestCoordinatesLookup(t *testing.T) {
	coords := mustCoords("Wanliu", "Wanshouxigong")
	c, ok := coords.Lookup("Wanshouxigong")
	assert.True(t, ok)
	assert.InDelta(t, 116.1, c.Lon, 1e-9)
	assert.InDelta(t, 40.1, c.Lat, 1e-9)

	_, ok = coords.Lookup("Guanyuan")
	assert.False(t, ok)
}
