package config

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/warden/internal/ratelimit"
)

const tomlQuotas = `
[[global]]
burst = 10
period = "1s"

[buckets]
qsl = [{burst = 1, period = "1m"}]
ban_member = [{burst = 5, period = "10s"}, {burst = 20, period = "1m"}]
`

const yamlQuotas = `
global:
  - burst: 10
    period: 1s
buckets:
  qsl:
    - burst: 1
      period: 1m
  ban_member:
    - burst: 5
      period: 10s
    - burst: 20
      period: 1m
`

func TestLoadQuotasFormats(t *testing.T) {
	fsys := fstest.MapFS{
		"quotas.toml": {Data: []byte(tomlQuotas)},
		"quotas.yaml": {Data: []byte(yamlQuotas)},
		"quotas.yml":  {Data: []byte(yamlQuotas)},
	}

	want := ratelimit.Config{
		Global: []ratelimit.Quota{{Burst: 10, Period: time.Second}},
		Buckets: map[string][]ratelimit.Quota{
			"qsl": {{Burst: 1, Period: time.Minute}},
			"ban_member": {
				{Burst: 5, Period: 10 * time.Second},
				{Burst: 20, Period: time.Minute},
			},
		},
	}

	for _, name := range []string{"quotas.toml", "quotas.yaml", "quotas.yml"} {
		t.Run(name, func(t *testing.T) {
			cfg, err := LoadQuotasFS(fsys, name)
			require.NoError(t, err)
			assert.Equal(t, want, cfg)

			_, err = ratelimit.New(cfg)
			assert.NoError(t, err)
		})
	}
}

func TestLoadQuotasMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadQuotasFS(fstest.MapFS{}, "absent.toml")
	require.NoError(t, err)
	assert.Equal(t, DefaultQuotas(), cfg)

	cfg, err = LoadQuotas("")
	require.NoError(t, err)
	assert.Equal(t, DefaultQuotas(), cfg)
}

func TestLoadQuotasUnknownExtension(t *testing.T) {
	_, err := LoadQuotasFS(fstest.MapFS{"q.json": {Data: []byte("{}")}}, "q.json")
	assert.True(t, errors.Is(err, ErrUnknownFormat))
}

func TestLoadQuotasParseErrors(t *testing.T) {
	fsys := fstest.MapFS{
		"bad.toml":     {Data: []byte("[[global]\nburst = 1")},
		"unknown.toml": {Data: []byte("[[global]]\nburst = 1\nperiod = \"1s\"\nrefill = 3\n")},
		"bad.yaml":     {Data: []byte("global: [burst: 1")},
		"unknown.yaml": {Data: []byte("global:\n  - burst: 1\n    period: 1s\n    refill: 3\n")},
	}

	for name := range fsys {
		t.Run(name, func(t *testing.T) {
			_, err := LoadQuotasFS(fsys, name)
			require.Error(t, err)
			var qerr *QuotaError
			require.True(t, errors.As(err, &qerr), "error = %v", err)
			assert.Equal(t, name, qerr.File)
			assert.Contains(t, err.Error(), "quota file "+name)
		})
	}
}

func TestLoadQuotasTOMLParseErrorPosition(t *testing.T) {
	_, err := ParseQuotas(FormatTOML, strings.NewReader("[[global]]\nburst = = 1\n"))
	var qerr *QuotaError
	require.True(t, errors.As(err, &qerr), "error = %v", err)
	assert.Equal(t, 2, qerr.Line)
	assert.Equal(t, FormatTOML, qerr.Format)
	assert.Contains(t, qerr.Error(), "(toml): line 2")
}

func TestLoadQuotasYAMLSyntaxErrorLine(t *testing.T) {
	fsys := fstest.MapFS{
		"bad.yaml": {Data: []byte("global:\n  - burst: 1\n\tperiod: 1s\n")},
	}

	_, err := LoadQuotasFS(fsys, "bad.yaml")
	var qerr *QuotaError
	require.True(t, errors.As(err, &qerr), "error = %v", err)
	assert.Equal(t, FormatYAML, qerr.Format)
	assert.Positive(t, qerr.Line)
	assert.Contains(t, err.Error(), fmt.Sprintf("(yaml): line %d", qerr.Line))
}

func TestLoadQuotasRejectsDegenerateQuota(t *testing.T) {
	fsys := fstest.MapFS{
		"zero.toml":   {Data: []byte("[[global]]\nburst = 0\nperiod = \"1s\"\n")},
		"period.toml": {Data: []byte("[buckets]\nqsl = [{burst = 1, period = \"often\"}]\n")},
	}

	_, err := LoadQuotasFS(fsys, "zero.toml")
	assert.True(t, errors.Is(err, ratelimit.ErrInvalidBurst), "error = %v", err)
	var qerr *QuotaError
	require.True(t, errors.As(err, &qerr), "error = %v", err)
	assert.Equal(t, ratelimit.TierGlobal, qerr.Tier)
	assert.Contains(t, err.Error(), "quota file zero.toml (toml): global quota 0: "+ratelimit.ErrInvalidBurst.Error())

	_, err = LoadQuotasFS(fsys, "period.toml")
	require.True(t, errors.As(err, &qerr), "error = %v", err)
	assert.Equal(t, "qsl", qerr.Tier)
	assert.Zero(t, qerr.Index)
	assert.Contains(t, err.Error(), "period.toml (toml): qsl quota 0: period")
}

func TestDefaultQuotasBuild(t *testing.T) {
	cfg := DefaultQuotas()
	lim, err := ratelimit.New(cfg)
	require.NoError(t, err)
	assert.True(t, lim.HasBucket("qsl"))
	for _, exempt := range ratelimit.ExemptBuckets() {
		assert.True(t, lim.HasBucket(exempt), "exempt bucket %q needs its own tier", exempt)
	}
}
