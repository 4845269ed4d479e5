package results

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NREL/dss-cosim/cosim"
)

// Manifest describes one federate's dump; it is written next to the tables
// as <federate>_run.yaml.
type Manifest struct {
	RunID    string          `yaml:"run_id"`
	Federate string          `yaml:"federate"`
	Start    string          `yaml:"start"`
	Step     string          `yaml:"step"`
	Tables   []ManifestTable `yaml:"tables"`
}

// ManifestTable lists one written file.
type ManifestTable struct {
	Name string `yaml:"name"`
	File string `yaml:"file"`
	Rows int    `yaml:"rows"`
	Kind string `yaml:"kind"` // "series" or "info"
}

// CSVSink writes every table of a dataset as <table>.csv under Dir.
type CSVSink struct {
	Dir string
}

var _ cosim.Sink = (*CSVSink)(nil)

// NewCSVSink returns a sink rooted at dir. The directory is created on Write.
func NewCSVSink(dir string) *CSVSink { return &CSVSink{Dir: dir} }

// Write dumps the dataset. Files are staged in a temporary directory beside
// Dir and only moved into place once all of them were written; a failed move
// restores the files Dir held before.
func (s *CSVSink) Write(_ context.Context, ds *cosim.Dataset) error {
	parent := filepath.Dir(filepath.Clean(s.Dir))
	if err := os.MkdirAll(parent, 0755); err != nil {
		return fmt.Errorf("creating results parent: %w", err)
	}
	staging, err := os.MkdirTemp(parent, ".cosim-results-*")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(staging) }()

	manifest := Manifest{
		RunID:    ds.RunID,
		Federate: ds.Federate,
		Start:    ds.Start.Format(time.RFC3339),
		Step:     ds.Step.String(),
	}
	for _, t := range ds.Series {
		file := t.Name + ".csv"
		if err := writeSeriesCSV(filepath.Join(staging, file), t); err != nil {
			return err
		}
		manifest.Tables = append(manifest.Tables, ManifestTable{Name: t.Name, File: file, Rows: t.Len(), Kind: "series"})
	}
	for _, t := range ds.Info {
		file := t.Name + ".csv"
		if err := writeInfoCSV(filepath.Join(staging, file), t); err != nil {
			return err
		}
		manifest.Tables = append(manifest.Tables, ManifestTable{Name: t.Name, File: file, Rows: len(t.Rows), Kind: "info"})
	}

	data, err := yaml.Marshal(&manifest)
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	manifestFile := ManifestName(ds.Federate)
	if err := os.WriteFile(filepath.Join(staging, manifestFile), data, 0644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("creating results directory: %w", err)
	}
	files := []string{manifestFile}
	for _, t := range manifest.Tables {
		files = append(files, t.File)
	}
	return swapIn(staging, s.Dir, files)
}

// rename is os.Rename; tests replace it to fail mid-swap.
var rename = os.Rename

// swapIn moves files from staging into dir. Files they replace are parked
// under staging first; if any move fails, every file already moved is taken
// back out and the parked ones are restored.
func swapIn(staging, dir string, files []string) error {
	parked := filepath.Join(staging, ".previous")
	if err := os.Mkdir(parked, 0755); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}
	var moved, saved []string
	rollback := func() {
		for i := len(moved) - 1; i >= 0; i-- {
			_ = os.Remove(filepath.Join(dir, moved[i]))
		}
		for _, f := range saved {
			_ = rename(filepath.Join(parked, f), filepath.Join(dir, f))
		}
	}
	for _, f := range files {
		dst := filepath.Join(dir, f)
		if _, err := os.Stat(dst); err == nil {
			if err := rename(dst, filepath.Join(parked, f)); err != nil {
				rollback()
				return fmt.Errorf("setting aside previous %s: %w", f, err)
			}
			saved = append(saved, f)
		}
		if err := rename(filepath.Join(staging, f), dst); err != nil {
			rollback()
			return fmt.Errorf("moving %s into place: %w", f, err)
		}
		moved = append(moved, f)
	}
	return nil
}

// Close is a no-op.
func (s *CSVSink) Close() error { return nil }

// ManifestName returns the manifest file name for a federate.
func ManifestName(federate string) string { return federate + "_run.yaml" }

// writeSeriesCSV writes columns step,time,<metrics...>. A metric missing from
// a row is left empty.
func writeSeriesCSV(path string, t *cosim.Table) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", t.Name, err)
	}
	defer func() { _ = file.Close() }()

	writer := csv.NewWriter(file)
	cols := t.Columns()
	if err := writer.Write(append([]string{"step", "time"}, cols...)); err != nil {
		return fmt.Errorf("writing %s header: %w", t.Name, err)
	}
	for _, row := range t.Rows {
		rec := make([]string, 0, len(cols)+2)
		rec = append(rec, strconv.Itoa(row.Step), row.Time.Format(time.RFC3339))
		for _, c := range cols {
			if v, ok := row.Values.Get(c); ok {
				rec = append(rec, strconv.FormatFloat(v, 'g', -1, 64))
			} else {
				rec = append(rec, "")
			}
		}
		if err := writer.Write(rec); err != nil {
			return fmt.Errorf("writing %s row %d: %w", t.Name, row.Step, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flushing %s: %w", t.Name, err)
	}
	return file.Close()
}

func writeInfoCSV(path string, t *cosim.InfoTable) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", t.Name, err)
	}
	defer func() { _ = file.Close() }()

	writer := csv.NewWriter(file)
	if err := writer.Write(t.Columns); err != nil {
		return fmt.Errorf("writing %s header: %w", t.Name, err)
	}
	if err := writer.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("writing %s rows: %w", t.Name, err)
	}
	return file.Close()
}
