package cosim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSchedule_Steps_InclusiveOfBothEnds(t *testing.T) {
	tests := []struct {
		name     string
		step     time.Duration
		duration time.Duration
		want     int
	}{
		{"one day at one minute", time.Minute, 24 * time.Hour, 1441},
		{"zero duration", time.Minute, 0, 1},
		{"uneven duration truncates", time.Minute, 150 * time.Second, 3},
		{"single step", time.Hour, time.Hour, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Schedule{Step: tt.step, Duration: tt.duration}
			assert.Equal(t, tt.want, s.Steps())
		})
	}
}

func TestSchedule_OffsetAndAt(t *testing.T) {
	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Schedule{Start: start, Step: time.Minute, Duration: 24 * time.Hour}

	assert.Equal(t, time.Duration(0), s.Offset(0))
	assert.Equal(t, 90*time.Minute, s.Offset(90))
	assert.Equal(t, start.Add(time.Minute), s.At(1))
	assert.Equal(t, start.Add(24*time.Hour), s.End())
}

func TestSchedule_Validate(t *testing.T) {
	assert.NoError(t, Schedule{Step: time.Minute}.Validate())
	assert.ErrorIs(t, Schedule{}.Validate(), ErrInvalidSchedule)
	assert.ErrorIs(t, Schedule{Step: -time.Second}.Validate(), ErrInvalidSchedule)
	assert.ErrorIs(t, Schedule{Step: time.Minute, Duration: -time.Minute}.Validate(), ErrInvalidSchedule)
}
