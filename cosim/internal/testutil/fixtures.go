// Package testutil provides shared test fixtures for the co-simulation
// packages: profile CSV files, scenario files, and float assertions used
// across cosim/ and its sub-package tests.
package testutil

import (
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
)

// WriteProfile writes values as a header-less single-column CSV file in dir
// and returns its path.
func WriteProfile(t *testing.T, dir, name string, values []float64) string {
	t.Helper()
	var b strings.Builder
	for _, v := range values {
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		b.WriteByte('\n')
	}
	return WriteFile(t, dir, name, b.String())
}

// ConstantProfile returns n copies of v.
func ConstantProfile(n int, v float64) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = v
	}
	return values
}

// RampProfile returns n values stepping from 0 by delta.
func RampProfile(n int, delta float64) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = float64(i) * delta
	}
	return values
}

// WriteFile writes content to dir/name and returns the path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create fixture directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write fixture %s: %v", name, err)
	}
	return path
}

// ScenarioPath returns the path of a checked-in scenario under the repo's
// scenarios/ directory. The path is resolved relative to this source file.
func ScenarioPath(t *testing.T, name string) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	// Navigate from cosim/internal/testutil/ to repo root scenarios/
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "scenarios", name)
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
