package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
system_name: test
market: KRW-ETH
start_date: "2024-09-01 09:00:00"
end_date: "2024-09-10 09:00:00"
initial_cash: 1000000
fee_rate_pct: 0.08
`

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "KRW-ETH", cfg.Market)
	assert.Equal(t, "1d", cfg.CandleUnit)
	assert.Equal(t, "UPBIT", cfg.DataSource)
	assert.Equal(t, "FRESH", cfg.Records.Policy)
	assert.Equal(t, 40, cfg.Warmup.Limit)
	assert.True(t, cfg.WarmupEnabled())
	assert.Equal(t, 5, cfg.Upbit.MaxAttempts)
	assert.Equal(t, 365.0, cfg.Analysis.PeriodsPerYear)
	assert.InDelta(t, 0.0008, cfg.FeeRate(), 1e-12)
	assert.Equal(t, filepath.Join("data", "test.csv"), cfg.RecordsPath())

	start, err := cfg.Start()
	require.NoError(t, err)
	assert.Equal(t, 9, start.Hour())
	_, offset := start.Zone()
	assert.Equal(t, 9*3600, offset)
	end, _ := cfg.End()
	assert.Equal(t, 9*24*time.Hour, end.Sub(start))
}

func TestParseConfigRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"reversed window": `
system_name: x
start_date: "2024-09-10 09:00:00"
end_date: "2024-09-01 09:00:00"`,
		"bad date": `
system_name: x
start_date: "2024/09/01"
end_date: "2024-09-10 09:00:00"`,
		"bad policy": `
system_name: x
start_date: "2024-09-01 09:00:00"
end_date: "2024-09-10 09:00:00"
records: {policy: append}`,
		"missing name": `
start_date: "2024-09-01 09:00:00"
end_date: "2024-09-10 09:00:00"`,
		"fee out of range": `
system_name: x
start_date: "2024-09-01 09:00:00"
end_date: "2024-09-10 09:00:00"
fee_rate_pct: 100`,
	}
	for name, doc := range cases {
		_, err := ParseConfig([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestWarmupCanBeDisabled(t *testing.T) {
	cfg, err := ParseConfig([]byte(minimalYAML + "warmup:\n  enabled: false\n"))
	require.NoError(t, err)
	assert.False(t, cfg.WarmupEnabled())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BACKTEST_DATA_DIR", "/tmp/bt")
	cfg, err := ParseConfig([]byte(minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/bt", cfg.Records.Dir)
}

func TestLoadConfigFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(minimalYAML), 0o644))
	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.SystemName)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
