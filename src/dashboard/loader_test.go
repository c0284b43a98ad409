package dashboard

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"AirQualityDashboard/src/datasource/email"
	"AirQualityDashboard/src/processor"
)

// stationXLSX 把 stationCSV 的内容写成单工作表的工作簿
func stationXLSX(t *testing.T, station string, base float64) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	lines := strings.Split(strings.TrimSpace(stationCSV(station, base)), "\n")
	for r, line := range lines {
		cells := strings.Split(line, ",")
		row := make([]interface{}, len(cells))
		for i, c := range cells {
			row[i] = c
		}
		cell, err := excelize.CoordinatesToCellName(1, r+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

// 邮件附件保存到数据目录后，下一次加载能读到同样的站点
func TestSavedAttachmentsLoad(t *testing.T) {
	dir := t.TempDir()
	coords := filepath.Join(t.TempDir(), "lonlat_sta.xlsx")
	writeCoordinates(t, coords, [][]interface{}{
		{"station", "lon", "lat"},
		{"Dongsi", 116.417, 39.929},
		{"Tiantan", 116.407, 39.886},
	})

	const pattern = "PRSA_Data_*"
	h := email.NewAttachmentHandler("空气质量", dir, pattern, nil, newTestLogger(t))
	saved, err := h.Handle(&email.Email{
		UID:     7,
		Subject: "空气质量小时数据",
		Attachments: []*email.Attachment{
			{Filename: "PRSA_Data_Dongsi.csv", Content: []byte(stationCSV("Dongsi", 50))},
			{Filename: "PRSA_Data_Tiantan.xlsx", Content: stationXLSX(t, "Tiantan", 80)},
			{Filename: "Wanliu.csv", Content: []byte(stationCSV("Wanliu", 20))},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "PRSA_Data_Dongsi.csv"),
		filepath.Join(dir, "PRSA_Data_Tiantan.xlsx"),
	}, saved)
	_, err = os.Stat(filepath.Join(dir, "Wanliu.csv"))
	assert.True(t, os.IsNotExist(err))

	loader := &DirLoader{DataDir: dir, Pattern: pattern, CoordinateFile: coords}
	for _, p := range saved {
		assert.True(t, loader.Affects(p), p)
	}

	in, files, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, saved, files)
	require.Len(t, in.Tables, 2)
	assert.Equal(t, "Tiantan", in.Tables[1].Col(processor.ColStation).Records()[0])
	assert.Equal(t, 90.0, in.Tables[1].Col(processor.ColPM25).Float()[0])

	svc := NewService(loader, processor.DefaultOptions(), nil)
	r, err := svc.Render(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Dongsi", "Tiantan"}, r.Result.Stations)
}

func TestDirLoaderSkipsUnreadableMatches(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "PRSA_Data_Dongsi.csv"), []byte(stationCSV("Dongsi", 50)), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "PRSA_Data_notes.txt"), []byte("x"), 0644))
	coords := filepath.Join(t.TempDir(), "lonlat_sta.xlsx")
	writeCoordinates(t, coords, [][]interface{}{
		{"station", "lon", "lat"},
		{"Dongsi", 116.417, 39.929},
	})

	loader := &DirLoader{DataDir: dir, Pattern: "PRSA_Data_*", CoordinateFile: coords}
	_, files, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "PRSA_Data_Dongsi.csv")}, files)
	assert.False(t, loader.Affects(filepath.Join(dir, "PRSA_Data_notes.txt")))
	assert.True(t, loader.Affects(filepath.Join(dir, "PRSA_Data_Wanliu.xlsx")))
}
