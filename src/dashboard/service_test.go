package dashboard

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"AirQualityDashboard/src/datapush"
	"AirQualityDashboard/src/datasource/file"
	"AirQualityDashboard/src/metrics"
	"AirQualityDashboard/src/processor"
	"AirQualityDashboard/src/storage"
)

const csvHeader = "No,year,month,day,hour,PM2.5,PM10,SO2,NO2,CO,O3,TEMP,PRES,DEWP,RAIN,wd,WSPM,station\n"

// stationCSV 两天、每天三个小时的观测，PM2.5 = base + 10*day + hour
func stationCSV(station string, base float64) string {
	var b strings.Builder
	b.WriteString(csvHeader)
	no := 1
	for day := 1; day <= 2; day++ {
		for hour := 0; hour < 3; hour++ {
			v := base + float64(10*day+hour)
			fmt.Fprintf(&b, "%d,2013,3,%d,%d,%g,%g,3,17,300,89,-0.5,1024.5,-21.4,%g,NW,2.1,%s\n",
				no, day, hour, v, v+5, float64(hour)/10, station)
			no++
		}
	}
	return b.String()
}

func coordinates(stations ...string) dataframe.DataFrame {
	lons := make([]float64, len(stations))
	lats := make([]float64, len(stations))
	for i := range stations {
		lons[i] = 116.3 + float64(i)/10
		lats[i] = 39.9 + float64(i)/10
	}
	return dataframe.New(
		series.New(stations, series.String, processor.ColStation),
		series.New(lons, series.Float, processor.ColLon),
		series.New(lats, series.Float, processor.ColLat),
	)
}

type fakeLoader struct {
	mu    sync.Mutex
	input processor.Input
	files []string
	err   error
	calls int
}

func (f *fakeLoader) Load(ctx context.Context) (processor.Input, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.input, f.files, f.err
}

func (f *fakeLoader) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func newFakeLoader(t *testing.T) *fakeLoader {
	t.Helper()
	var tables []dataframe.DataFrame
	for _, st := range []struct {
		name string
		base float64
	}{{"Dongsi", 50}, {"Tiantan", 80}} {
		df, err := file.ParseStationCSV(strings.NewReader(stationCSV(st.name, st.base)), nil)
		require.NoError(t, err)
		tables = append(tables, df)
	}
	return &fakeLoader{
		input: processor.Input{Tables: tables, Coordinates: coordinates("Dongsi", "Tiantan")},
		files: []string{"PRSA_Data_Dongsi.csv", "PRSA_Data_Tiantan.csv"},
	}
}

type fakeReporter struct {
	mu      sync.Mutex
	reports []datapush.Report
	err     error
}

func (f *fakeReporter) Send(ctx context.Context, r datapush.Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	return f.err
}

func newTestLogger(t *testing.T) *storage.Logger {
	t.Helper()
	logger, err := storage.NewLogger(filepath.Join(t.TempDir(), "app.log"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })
	return logger
}

func TestRenderPublishes(t *testing.T) {
	export := filepath.Join(t.TempDir(), "dashboard.xlsx")
	reporter := &fakeReporter{}
	m := metrics.New()
	svc := NewService(newFakeLoader(t), processor.DefaultOptions(), newTestLogger(t),
		WithExport(export), WithReporter(reporter), WithMetrics(m))

	assert.Nil(t, svc.Current())

	r, err := svc.Render(context.Background())
	require.NoError(t, err)
	assert.Same(t, r, svc.Current())
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, []string{"PRSA_Data_Dongsi.csv", "PRSA_Data_Tiantan.csv"}, r.Files)
	assert.Equal(t, []string{"Dongsi", "Tiantan"}, r.Result.Stations)
	assert.Equal(t, 12, r.Result.Merged.Nrow())
	assert.Equal(t, 4, r.Result.Daily.Nrow())

	require.Len(t, r.Ranking, 2)
	assert.Equal(t, "Tiantan", r.Ranking[0].Station)
	assert.InDelta(t, 96.0, r.Ranking[0].Value, 1e-9)
	assert.InDelta(t, 66.0, r.Ranking[1].Value, 1e-9)

	f, err := excelize.OpenFile(export)
	require.NoError(t, err)
	defer f.Close()
	want := append(append([]string{}, processor.TableNames...), "correlation", "ranking")
	assert.Equal(t, want, f.GetSheetList())
	rows, err := f.GetRows("ranking")
	require.NoError(t, err)
	assert.Equal(t, []string{"station", "PM2.5"}, rows[0])
	assert.Equal(t, "Tiantan", rows[1][0])

	require.Len(t, reporter.reports, 1)
	rep := reporter.reports[0]
	assert.Equal(t, r.ID, rep.RenderID)
	assert.Equal(t, export, rep.Attachment)
	assert.Equal(t, 12, rep.Rows[processor.TableMerged])
	assert.Len(t, rep.Correlation, processor.RainfallWindow)

	assert.Contains(t, scrape(t, m), `aq_renders_total{outcome="ok"} 1`)
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestRenderFailureKeepsPrevious(t *testing.T) {
	loader := newFakeLoader(t)
	m := metrics.New()
	svc := NewService(loader, processor.DefaultOptions(), newTestLogger(t), WithMetrics(m))

	first, err := svc.Render(context.Background())
	require.NoError(t, err)

	loader.setErr(errors.New("disk gone"))
	r, err := svc.Render(context.Background())
	assert.Nil(t, r)
	assert.ErrorContains(t, err, "disk gone")
	assert.Same(t, first, svc.Current())

	body := scrape(t, m)
	assert.Contains(t, body, `aq_renders_total{outcome="error"} 1`)
	assert.Contains(t, body, `aq_table_rows{table="merged"} 12`)
}

func TestRenderUnknownStation(t *testing.T) {
	loader := newFakeLoader(t)
	loader.input.Coordinates = coordinates("Dongsi")
	svc := NewService(loader, processor.DefaultOptions(), nil)

	_, err := svc.Render(context.Background())
	var schemaErr *processor.InputSchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, processor.ColStation, schemaErr.Column)
	assert.Nil(t, svc.Current())

	opts := processor.DefaultOptions()
	opts.StrictStations = false
	svc = NewService(loader, opts, nil)
	r, err := svc.Render(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, r.Result.PrevailingWind.Nrow())
}

func TestRenderCanceled(t *testing.T) {
	svc := NewService(newFakeLoader(t), processor.DefaultOptions(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Render(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReportFailureDoesNotFailRender(t *testing.T) {
	reporter := &fakeReporter{err: errors.New("smtp down")}
	svc := NewService(newFakeLoader(t), processor.DefaultOptions(), newTestLogger(t), WithReporter(reporter))

	r, err := svc.Render(context.Background())
	require.NoError(t, err)
	assert.Same(t, r, svc.Current())
	require.Len(t, reporter.reports, 1)
	assert.Empty(t, reporter.reports[0].Attachment)
}

func TestConcurrentRenders(t *testing.T) {
	loader := newFakeLoader(t)
	svc := NewService(loader, processor.DefaultOptions(), nil)

	var wg sync.WaitGroup
	ids := make([]string, 4)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := svc.Render(context.Background())
			if err == nil {
				ids[i] = r.ID
			}
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range ids {
		require.NotEmpty(t, id)
		seen[id] = true
	}
	assert.Len(t, seen, 4)
	assert.Equal(t, 4, loader.calls)
}

func TestCorrelationTable(t *testing.T) {
	df := CorrelationTable([]processor.Correlation{
		{Field: "PM2.5", Value: -0.5},
		{Field: "PM10", Value: math.NaN()},
	})
	assert.Equal(t, []string{"field", "r"}, df.Names())
	assert.Equal(t, []string{"PM2.5", "PM10"}, df.Col("field").Records())
	assert.True(t, math.IsNaN(df.Col("r").Float()[1]))
}

func writeCoordinates(t *testing.T, path string, rows [][]interface{}) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for r, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, r+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	require.NoError(t, f.SaveAs(path))
}

func TestDirLoader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "PRSA_Data_Tiantan.csv"), []byte(stationCSV("Tiantan", 80)), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "PRSA_Data_Dongsi.csv"), []byte(stationCSV("Dongsi", 50)), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	coords := filepath.Join(t.TempDir(), "lonlat_sta.xlsx")
	writeCoordinates(t, coords, [][]interface{}{
		{"station", "lon", "lat"},
		{"Dongsi", 116.417, 39.929},
		{"Tiantan", 116.407, 39.886},
	})

	loader := &DirLoader{DataDir: dir, Pattern: "PRSA_Data_*.csv", CoordinateFile: coords, Workers: 2}
	in, files, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "PRSA_Data_Dongsi.csv"),
		filepath.Join(dir, "PRSA_Data_Tiantan.csv"),
	}, files)
	require.Len(t, in.Tables, 2)
	assert.Equal(t, "Dongsi", in.Tables[0].Col(processor.ColStation).Records()[0])
	assert.Equal(t, 2, in.Coordinates.Nrow())

	svc := NewService(loader, processor.DefaultOptions(), nil)
	r, err := svc.Render(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Dongsi", "Tiantan"}, r.Result.Stations)

	assert.True(t, svc.Affects(filepath.Join(dir, "PRSA_Data_Wanliu.csv")))
	assert.True(t, svc.Affects(coords))
	assert.False(t, svc.Affects(filepath.Join(dir, "dashboard.xlsx")))
	assert.False(t, svc.Affects(filepath.Join(dir, "sub", "PRSA_Data_Wanliu.csv")))

	empty := &DirLoader{DataDir: t.TempDir(), CoordinateFile: coords}
	_, _, err = empty.Load(context.Background())
	assert.ErrorContains(t, err, "没有匹配")
}
