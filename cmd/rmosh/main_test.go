package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rmosh/internal/prediction"
)

func TestParseUserHostSplitsOnAt(t *testing.T) {
	user, host := parseUserHost("alice@example.com")
	assert.Equal(t, "alice", user)
	assert.Equal(t, "example.com", host)
}

func TestParseUserHostDefaultsUser(t *testing.T) {
	t.Setenv("USER", "bob")
	user, host := parseUserHost("example.com")
	assert.Equal(t, "bob", user)
	assert.Equal(t, "example.com", host)
}

func TestParsePredictionModeRecognizesAllValues(t *testing.T) {
	cases := map[string]prediction.Mode{
		"always":   prediction.ModeAlways,
		"never":    prediction.ModeNever,
		"adaptive": prediction.ModeAdaptive,
		"":         prediction.ModeAdaptive,
	}
	for input, want := range cases {
		got, err := parsePredictionMode(input)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestParsePredictionModeRejectsUnknown(t *testing.T) {
	_, err := parsePredictionMode("bogus")
	assert.Error(t, err)
}

func TestParseArgsRequiresHostUnlessDirect(t *testing.T) {
	_, err := parseArgs([]string{})
	assert.Error(t, err)

	cfg, err := parseArgs([]string{"-addr", "127.0.0.1:60001"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:60001", cfg.direct)
}

func TestParseArgsCollectsRepeatedIdentities(t *testing.T) {
	cfg, err := parseArgs([]string{"-i", "a.pem", "-i", "b.pem", "host"})
	require.NoError(t, err)
	assert.Equal(t, arrayFlags{"a.pem", "b.pem"}, cfg.identities)
	assert.Equal(t, "host", cfg.host)
}
