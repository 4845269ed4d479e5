package results

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/NREL/dss-cosim/cosim"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVSink_WritesTablesAndManifest(t *testing.T) {
	// GIVEN a sink pointed at a directory that does not exist yet
	dir := filepath.Join(t.TempDir(), "out")
	sink := NewCSVSink(dir)

	// WHEN a dataset is written
	require.NoError(t, sink.Write(context.Background(), sampleDataset()))

	// THEN series rows carry step and time, and missing metrics are empty
	series := readCSV(t, filepath.Join(dir, cosim.MainTable+".csv"))
	assert.Equal(t, [][]string{
		{"step", "time", "Total Power (kW)", "Total Loss (kW)"},
		{"0", "2021-01-01T00:00:00Z", "-120.5", "2.5"},
		{"1", "2021-01-01T00:01:00Z", "-118", ""},
	}, series)

	// THEN info tables are copied verbatim
	info := readCSV(t, filepath.Join(dir, "load_info.csv"))
	assert.Equal(t, [][]string{{"name", "kW"}, {"s10a", "8.5"}}, info)

	// THEN the manifest lists both tables
	data, err := os.ReadFile(filepath.Join(dir, ManifestName("grid")))
	require.NoError(t, err)
	var m Manifest
	require.NoError(t, yaml.Unmarshal(data, &m))
	assert.Equal(t, "run-1", m.RunID)
	assert.Equal(t, "1m0s", m.Step)
	assert.Equal(t, []ManifestTable{
		{Name: cosim.MainTable, File: cosim.MainTable + ".csv", Rows: 2, Kind: "series"},
		{Name: "load_info", File: "load_info.csv", Rows: 1, Kind: "info"},
	}, m.Tables)
}

func TestCSVSink_LeavesNoStagingDirectory(t *testing.T) {
	parent := t.TempDir()
	sink := NewCSVSink(filepath.Join(parent, "out"))

	require.NoError(t, sink.Write(context.Background(), sampleDataset()))

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "out", entries[0].Name())
}

func TestCSVSink_TwoFederatesShareDirectory(t *testing.T) {
	// GIVEN source and grid datasets written to the same directory
	dir := t.TempDir()
	sink := NewCSVSink(dir)
	grid := sampleDataset()
	source := &cosim.Dataset{RunID: "run-1", Federate: "source", Start: testStart, Step: time.Minute}
	tbl := cosim.NewTable("pv_results")
	rec := cosim.NewRecord()
	rec.Set("pv1", 5)
	tbl.Append(0, testStart, rec)
	source.Series = []*cosim.Table{tbl}

	require.NoError(t, sink.Write(context.Background(), grid))
	require.NoError(t, sink.Write(context.Background(), source))

	// THEN each federate keeps its own manifest
	assert.FileExists(t, filepath.Join(dir, ManifestName("grid")))
	assert.FileExists(t, filepath.Join(dir, ManifestName("source")))
	assert.FileExists(t, filepath.Join(dir, cosim.MainTable+".csv"))
	assert.FileExists(t, filepath.Join(dir, "pv_results.csv"))
}

func TestCSVSink_FailedSwapRestoresPreviousRun(t *testing.T) {
	// GIVEN a directory holding a complete earlier run
	parent := t.TempDir()
	dir := filepath.Join(parent, "out")
	sink := NewCSVSink(dir)
	require.NoError(t, sink.Write(context.Background(), sampleDataset()))

	// AND a rerun whose last file cannot be moved into place
	saved := rename
	t.Cleanup(func() { rename = saved })
	target := filepath.Join(dir, "load_info.csv")
	failed := false
	rename = func(oldpath, newpath string) error {
		if newpath == target && !failed {
			failed = true
			return errors.New("disk full")
		}
		return saved(oldpath, newpath)
	}
	rerun := sampleDataset()
	rerun.RunID = "run-2"
	extra := cosim.NewTable("extra_results")
	rec := cosim.NewRecord()
	rec.Set("x", 1)
	extra.Append(0, testStart, rec)
	rerun.Series = append(rerun.Series, extra)

	// WHEN the rerun is written
	err := sink.Write(context.Background(), rerun)

	// THEN the write fails and the directory still holds only the earlier run
	require.Error(t, err)
	data, err := os.ReadFile(filepath.Join(dir, ManifestName("grid")))
	require.NoError(t, err)
	var m Manifest
	require.NoError(t, yaml.Unmarshal(data, &m))
	assert.Equal(t, "run-1", m.RunID)
	assert.NoFileExists(t, filepath.Join(dir, "extra_results.csv"))
	assert.Equal(t, [][]string{{"name", "kW"}, {"s10a", "8.5"}}, readCSV(t, target))

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
