package results

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NREL/dss-cosim/cosim"
)

func TestOpen_DirectoryTargets(t *testing.T) {
	sink, err := Open(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, &CSVSink{Dir: cosim.DefaultResults}, sink)

	sink, err = Open(context.Background(), "runs/ieee13")
	require.NoError(t, err)
	assert.Equal(t, &CSVSink{Dir: "runs/ieee13"}, sink)
}

func TestHasScheme(t *testing.T) {
	tests := []struct {
		target string
		want   bool
	}{
		{"postgres://u@h/db", true},
		{"POSTGRESQL://u@h/db", true},
		{"postgres/results", false},
		{"results", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, hasScheme(tt.target, "postgres", "postgresql"), tt.target)
	}
	assert.True(t, hasScheme("mongodb+srv://cluster/x", "mongodb", "mongodb+srv"))
}
