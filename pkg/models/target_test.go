package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScanTarget(t *testing.T) {
	cases := []struct {
		in    string
		want  string
		isIP  bool
		valid bool
	}{
		{"example.com", "example.com", false, true},
		{"a.example.com", "a.example.com", false, true},
		{"  API.Example.COM. ", "api.example.com", false, true},
		{"10.0.0.1", "10.0.0.1", true, true},
		{"255.255.255.255", "255.255.255.255", true, true},
		{"256.1.1.1", "", false, false},
		{"1.2.3", "", false, false},
		{"localhost", "", false, false},
		{"-bad.example.com", "", false, false},
		{"bad-.example.com", "", false, false},
		{"exa mple.com", "", false, false},
		{"", "", false, false},
		{"example.123", "", false, false},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := NewScanTarget(tc.in)
			if !tc.valid {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidTarget))
				assert.True(t, got.IsZero())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.String())
			assert.Equal(t, tc.isIP, got.IsIP())
		})
	}
}

func TestNewScanTargetIDN(t *testing.T) {
	got, err := NewScanTarget("bücher.example")
	require.NoError(t, err)
	assert.Equal(t, "xn--bcher-kva.example", got.String())
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusRunning))
	assert.True(t, CanTransition(StatusRunning, StatusCompleted))
	assert.True(t, CanTransition(StatusRunning, StatusFailed))

	assert.False(t, CanTransition(StatusPending, StatusCompleted))
	assert.False(t, CanTransition(StatusCompleted, StatusRunning))
	assert.False(t, CanTransition(StatusFailed, StatusCompleted))
	assert.False(t, CanTransition(StatusRunning, StatusPending))
}

func TestScanUpdateApply(t *testing.T) {
	rec := ScanRecord{ID: "x", Status: StatusPending}
	running := StatusRunning
	progress := 50
	ScanUpdate{Status: &running, Progress: &progress}.Apply(&rec)

	assert.Equal(t, StatusRunning, rec.Status)
	assert.Equal(t, 50, rec.Progress)
	assert.Nil(t, rec.RiskScore)
	assert.Empty(t, rec.Error)
}

func TestParseSeverity(t *testing.T) {
	s, err := ParseSeverity(" HIGH ")
	require.NoError(t, err)
	assert.Equal(t, SeverityHigh, s)

	_, err = ParseSeverity("urgent")
	assert.Error(t, err)
}

func TestParseScanKind(t *testing.T) {
	k, err := ParseScanKind("")
	require.NoError(t, err)
	assert.Equal(t, KindFull, k)

	k, err = ParseScanKind("recon")
	require.NoError(t, err)
	assert.Equal(t, KindRecon, k)

	_, err = ParseScanKind("deep")
	assert.Error(t, err)
}
