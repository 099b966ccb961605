package config_test

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparsevcs/mirror/config"
	"github.com/sparsevcs/mirror/internal/env"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()
	e := env.NewFromKVList(nil)
	cfg, err := config.Load(e, config.Options{FS: afero.NewMemMapFs()})
	require.NoError(t, err)
	assert.Equal(t, "master", cfg.Branch)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 1*time.Minute, cfg.ControlPersist)
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	t.Parallel()
	e := env.NewFromKVList([]string{"GITMIRROR_BRANCH=release", "GIT_SSH=/usr/bin/custom-ssh"})
	cfg, err := config.Load(e, config.Options{FS: afero.NewMemMapFs()})
	require.NoError(t, err)
	assert.Equal(t, "release", cfg.Branch)
	assert.Equal(t, "/usr/bin/custom-ssh", cfg.GitSSH)
}

func TestOptionsOverrideEnv(t *testing.T) {
	t.Parallel()
	e := env.NewFromKVList([]string{"GITMIRROR_BRANCH=release"})
	cfg, err := config.Load(e, config.Options{FS: afero.NewMemMapFs(), Branch: "develop"})
	require.NoError(t, err)
	assert.Equal(t, "develop", cfg.Branch)
}

func TestDefaultsFileLayersBelowEnv(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/defaults.ini", []byte(
		"[mirror]\nbranch = from-file\ncache_dir = /var/cache/mirror\nconnect_timeout_seconds = 10\n",
	), 0o644))

	e := env.NewFromKVList(nil)
	cfg, err := config.Load(e, config.Options{FS: fs, DefaultsFile: "/defaults.ini"})
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Branch)
	assert.Equal(t, "/var/cache/mirror", cfg.CacheDir)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)

	// env still overrides the file
	e2 := env.NewFromKVList([]string{"GITMIRROR_BRANCH=from-env"})
	cfg2, err := config.Load(e2, config.Options{FS: fs, DefaultsFile: "/defaults.ini"})
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg2.Branch)
}

func TestMissingDefaultsFileIsNotAnError(t *testing.T) {
	t.Parallel()
	e := env.NewFromKVList(nil)
	cfg, err := config.Load(e, config.Options{FS: afero.NewMemMapFs(), DefaultsFile: "/nope.ini"})
	require.NoError(t, err)
	assert.Equal(t, "master", cfg.Branch)
}
