package cosim

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrProfileOverrun is returned when a step index falls outside the profile.
var ErrProfileOverrun = errors.New("profile index out of range")

// Profile is a per-step multiplier series, aligned by step index.
type Profile []float64

// At returns the multiplier for step i. There is no interpolation and no
// wrap-around: reading past the end is an error.
func (p Profile) At(i int) (float64, error) {
	if i < 0 || i >= len(p) {
		return 0, fmt.Errorf("%w: step %d, profile has %d values", ErrProfileOverrun, i, len(p))
	}
	return p[i], nil
}

// LoadProfileCSV reads a header-less CSV file and takes the first column of
// every row as one multiplier.
func LoadProfileCSV(path string) (Profile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening profile: %w", err)
	}
	defer func() { _ = file.Close() }()

	profile, err := ReadProfile(file)
	if err != nil {
		return nil, fmt.Errorf("reading profile %s: %w", path, err)
	}
	return profile, nil
}

// ReadProfile parses profile values from r. See LoadProfileCSV.
func ReadProfile(r io.Reader) (Profile, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var profile Profile
	for n := 1; ; n++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV row: %w", err)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(row[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", n, err)
		}
		profile = append(profile, v)
	}
	return profile, nil
}
