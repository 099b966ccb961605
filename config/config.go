// Package config resolves the small set of ambient tunables a run
// needs — branch name, cache root, ssh override, transport timeouts —
// layering, from lowest to highest precedence: built-in defaults, an
// optional defaults.ini file, environment variables, then explicit
// Options passed by the caller. Later layers override earlier ones,
// the same precedence order ginternals/config.setConfig uses for
// GitDirPath/WorkTreePath resolution.
package config

import (
	"os"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"
	"gopkg.in/ini.v1"

	"github.com/sparsevcs/mirror/internal/env"
)

const (
	defaultBranch         = "master"
	defaultCacheDir       = ".gitmirror-cache"
	defaultConnectTimeout = 5 * time.Second
	defaultKeepAlive      = 5 * time.Second
	defaultControlPersist = 1 * time.Minute
)

// Config holds the resolved tunables for a run.
type Config struct {
	Branch         string
	CacheDir       string
	GitSSH         string
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	ControlPersist time.Duration
}

// Options lets a caller (the CLI entrypoint) override any tunable
// directly; a zero value leaves the layer below it in effect.
type Options struct {
	FS           afero.Fs
	Branch       string
	CacheDir     string
	DefaultsFile string
}

// Load resolves a Config using e for environment lookups and opts for
// explicit overrides. DefaultsFile, if set and present on FS, supplies
// a middle layer between the built-in defaults and the environment —
// see SPEC_FULL.md's ambient configuration surface.
func Load(e *env.Env, opts Options) (*Config, error) {
	cfg := &Config{
		Branch:         defaultBranch,
		CacheDir:       defaultCacheDir,
		ConnectTimeout: defaultConnectTimeout,
		KeepAlive:      defaultKeepAlive,
		ControlPersist: defaultControlPersist,
	}

	if opts.FS == nil {
		opts.FS = afero.NewOsFs()
	}

	if opts.DefaultsFile != "" {
		if err := applyDefaultsFile(opts.FS, opts.DefaultsFile, cfg); err != nil {
			return nil, xerrors.Errorf("could not load %s: %w", opts.DefaultsFile, err)
		}
	}

	if v := e.Get("GITMIRROR_BRANCH"); v != "" {
		cfg.Branch = v
	}
	if v := e.Get("GITMIRROR_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	cfg.GitSSH = e.Get("GIT_SSH")

	if opts.Branch != "" {
		cfg.Branch = opts.Branch
	}
	if opts.CacheDir != "" {
		cfg.CacheDir = opts.CacheDir
	}

	return cfg, nil
}

// applyDefaultsFile layers an optional ini file (the [mirror] section)
// over cfg's built-in defaults. A missing file is not an error: the
// file is entirely optional ambient configuration.
func applyDefaultsFile(fs afero.Fs, path string, cfg *Config) error {
	f, err := fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close() // nolint:errcheck // read-only

	file, err := ini.Load(f)
	if err != nil {
		return err
	}
	sec := file.Section("mirror")

	if v := sec.Key("branch").String(); v != "" {
		cfg.Branch = v
	}
	if v := sec.Key("cache_dir").String(); v != "" {
		cfg.CacheDir = v
	}
	if v, err := sec.Key("connect_timeout_seconds").Int(); err == nil && v > 0 {
		cfg.ConnectTimeout = time.Duration(v) * time.Second
	}
	if v, err := sec.Key("keepalive_seconds").Int(); err == nil && v > 0 {
		cfg.KeepAlive = time.Duration(v) * time.Second
	}
	if v, err := sec.Key("control_persist_seconds").Int(); err == nil && v > 0 {
		cfg.ControlPersist = time.Duration(v) * time.Second
	}

	return nil
}
