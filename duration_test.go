package pinnedsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	const day = 24 * time.Hour

	for _, tc := range []struct {
		input  string
		expect time.Duration
	}{
		{input: "0", expect: 0},
		{input: "3h", expect: 3 * time.Hour},
		{input: "250ms", expect: 250 * time.Millisecond},
		{input: "1d", expect: day},
		{input: "1d30m", expect: day + 30*time.Minute},
		{input: "1m2d30s", expect: time.Minute + 2*day + 30*time.Second},
		{input: "1d2d", expect: 3 * day},
		{input: "1.5d", expect: time.Duration(1.5 * float64(day))},
		{input: "4m1.25d", expect: 4*time.Minute + time.Duration(1.25*float64(day))},
		{input: "-1.25d12h", expect: time.Duration(-1.25*float64(day)) - 12*time.Hour},
		{input: "+2d", expect: 2 * day},
	} {
		actual, err := ParseDuration(tc.input)
		require.NoError(t, err, tc.input)
		require.Equal(t, tc.expect, actual, tc.input)
	}
}

func TestParseDuration_Invalid(t *testing.T) {
	for _, input := range []string{"", "-", "d", "invalid", "1x", "1.2.3d", "10"} {
		_, err := ParseDuration(input)
		require.Error(t, err, input)
	}
}

func TestGetDurationEnvOrDefault(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     time.Duration
	}{
		{name: "unset returns default", envValue: "", want: 5 * time.Second},
		{name: "valid duration", envValue: "10s", want: 10 * time.Second},
		{name: "invalid returns default", envValue: "invalid", want: 5 * time.Second},
		{name: "days", envValue: "2d", want: 48 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_PINNEDSYNC_DURATION", tt.envValue)

			got := GetDurationEnvOrDefault("TEST_PINNEDSYNC_DURATION", 5*time.Second)
			require.Equal(t, tt.want, got)
		})
	}
}
