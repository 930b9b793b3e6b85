package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/dshills/warden/internal/ratelimit"
)

// Format is a quota file syntax.
type Format string

// Supported quota file formats.
const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
	}
}

// QuotaSpec is one token bucket as written in a quota file, e.g.
// {burst = 5, period = "1m"}: five calls at once, one more every minute.
type QuotaSpec struct {
	Burst  int    `toml:"burst" yaml:"burst"`
	Period string `toml:"period" yaml:"period"`
}

// QuotaFile is the document stored in a quota file.
//
//	[[global]]
//	burst = 30
//	period = "1s"
//
//	[buckets]
//	qsl = [{burst = 1, period = "1m"}]
type QuotaFile struct {
	Global  []QuotaSpec            `toml:"global" yaml:"global"`
	Buckets map[string][]QuotaSpec `toml:"buckets" yaml:"buckets"`
}

// RateLimit converts f to a limiter configuration, validating every quota.
func (f QuotaFile) RateLimit() (ratelimit.Config, error) {
	cfg := ratelimit.Config{
		Buckets: make(map[string][]ratelimit.Quota, len(f.Buckets)),
	}
	for i, spec := range f.Global {
		q, err := spec.quota()
		if err != nil {
			return ratelimit.Config{}, &QuotaError{Tier: ratelimit.TierGlobal, Index: i, Err: err}
		}
		cfg.Global = append(cfg.Global, q)
	}
	for bucket, specs := range f.Buckets {
		for i, spec := range specs {
			q, err := spec.quota()
			if err != nil {
				return ratelimit.Config{}, &QuotaError{Tier: bucket, Index: i, Err: err}
			}
			cfg.Buckets[bucket] = append(cfg.Buckets[bucket], q)
		}
	}
	return cfg, nil
}

func (s QuotaSpec) quota() (ratelimit.Quota, error) {
	period, err := time.ParseDuration(s.Period)
	if err != nil {
		return ratelimit.Quota{}, fmt.Errorf("period: %w", err)
	}
	return ratelimit.NewQuota(s.Burst, period)
}

// LoadQuotas reads the quota file at path. An empty path or a missing file
// yields DefaultQuotas.
func LoadQuotas(path string) (ratelimit.Config, error) {
	if path == "" {
		return DefaultQuotas(), nil
	}
	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	return LoadQuotasFS(os.DirFS(dir), name)
}

// LoadQuotasFS is LoadQuotas over fsys.
func LoadQuotasFS(fsys fs.FS, path string) (ratelimit.Config, error) {
	format, err := FormatOf(path)
	if err != nil {
		return ratelimit.Config{}, err
	}

	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultQuotas(), nil
		}
		return ratelimit.Config{}, fmt.Errorf("reading quota file %s: %w", path, err)
	}

	f, err := parseQuotas(path, format, bytes.NewReader(data))
	if err != nil {
		return ratelimit.Config{}, err
	}
	cfg, err := f.RateLimit()
	var qerr *QuotaError
	if errors.As(err, &qerr) {
		qerr.File, qerr.Format = path, format
	}
	return cfg, err
}

// ParseQuotas reads a quota document in format from r.
func ParseQuotas(format Format, r io.Reader) (QuotaFile, error) {
	return parseQuotas("<reader>", format, r)
}

func parseQuotas(source string, format Format, r io.Reader) (QuotaFile, error) {
	var f QuotaFile
	switch format {
	case FormatTOML:
		dec := toml.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			qerr := &QuotaError{File: source, Format: format, Err: err}
			var derr *toml.DecodeError
			if errors.As(err, &derr) {
				qerr.Line, qerr.Column = derr.Position()
			}
			return QuotaFile{}, qerr
		}
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
			qerr := &QuotaError{File: source, Format: format, Err: err}
			// yaml.v3 only reports syntax error positions in the message.
			fmt.Sscanf(err.Error(), "yaml: line %d:", &qerr.Line)
			return QuotaFile{}, qerr
		}
	default:
		return QuotaFile{}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return f, nil
}

// DefaultQuotas returns the quotas used without a quota file.
func DefaultQuotas() ratelimit.Config {
	return ratelimit.Config{
		Global: []ratelimit.Quota{
			ratelimit.MustQuota(30, 100*time.Millisecond),
			ratelimit.MustQuota(600, time.Second),
		},
		Buckets: map[string][]ratelimit.Quota{
			"qsl":                  {ratelimit.MustQuota(1, time.Minute)},
			"tsl":                  {ratelimit.MustQuota(1, time.Minute)},
			"scl":                  {ratelimit.MustQuota(5, 10*time.Second)},
			"role":                 {ratelimit.MustQuota(5, 10*time.Second)},
			"ban_member":           {ratelimit.MustQuota(5, 10*time.Second)},
			"kick_member":          {ratelimit.MustQuota(5, 10*time.Second)},
			"create_message":       {ratelimit.MustQuota(10, 2*time.Second)},
			"bulk_delete_messages": {ratelimit.MustQuota(1, 5*time.Second)},
			"download_file":        {ratelimit.MustQuota(10, time.Second)},
			"upload_file":          {ratelimit.MustQuota(5, time.Second)},
		},
	}
}
