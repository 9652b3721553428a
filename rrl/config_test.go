package rrl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseRate(t *testing.T) {
	t.Parallel()
	r, err := ParseRate("50/s")
	require.NoError(t, err)
	require.Equal(t, 50, r.N)
	require.Equal(t, time.Second, r.Interval)
	require.InDelta(t, 50.0, r.PerSecond(), 0.0001)

	_, err = ParseRate("not-a-rate")
	require.Error(t, err)
}

func TestLoadConfigYAML(t *testing.T) {
	t.Parallel()
	data := []byte("serviceName: demo\nmaxAttempts: 7\nrateLimit: \"200/s\"\n")
	cfg, err := LoadConfig("config.yaml", data)
	require.NoError(t, err)
	require.Equal(t, "demo", cfg.ServiceName)
	require.Equal(t, 7, cfg.MaxAttempts)
	require.Equal(t, 200, cfg.RateLimit.N)
	// Unset fields fall back to DefaultConfig's values.
	require.Equal(t, DefaultConfig().ThreadPoolSize, cfg.ThreadPoolSize)
}

func TestLoadConfigJSONRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	data := []byte(`{"serviceName":"demo","bogusField":true}`)
	_, err := LoadConfig("config.json", data)
	require.Error(t, err)
}

func TestLoadConfigYAMLRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	data := []byte("serviceName: demo\nbogusField: true\n")
	_, err := LoadConfig("config.yaml", data)
	require.Error(t, err)
}

func TestDurationUnmarshalAcceptsMillisecondsOrSuffixedString(t *testing.T) {
	t.Parallel()
	data := []byte(`{"serviceName":"demo","maxSleepStep":"250ms"}`)
	cfg, err := LoadConfig("config.json", data)
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, cfg.MaxSleepStep.Duration())
}
