package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sparsevcs/mirror/collection"
	"github.com/sparsevcs/mirror/config"
	"github.com/sparsevcs/mirror/diag"
	"github.com/sparsevcs/mirror/githash"
	"github.com/sparsevcs/mirror/internal/env"
	"github.com/sparsevcs/mirror/transport"
)

type flags struct {
	branch       string
	cacheDir     string
	defaultsFile string
	env          *env.Env
}

func newRootCmd(e *env.Env) *cobra.Command {
	f := &flags{env: e}

	cmd := &cobra.Command{
		Use:           "mirror <url> <pattern...>",
		Short:         "fetch a sparse, tree-aware mirror of a remote git branch over ssh",
		Args:          cobra.MinimumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.Flags().StringVar(&f.branch, "branch", "", "branch to track (defaults to config/defaults.ini resolution)")
	cmd.Flags().StringVar(&f.cacheDir, "cache-dir", "", "local cache/working-tree root (defaults to config/defaults.ini resolution)")
	cmd.Flags().StringVar(&f.defaultsFile, "defaults-file", "", "optional ini file supplying ambient defaults")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runMirror(f, args[0], args[1:])
	}

	return cmd
}

func runMirror(f *flags, repoURL string, patterns []string) error {
	cfg, err := config.Load(f.env, config.Options{
		Branch:       f.branch,
		CacheDir:     f.cacheDir,
		DefaultsFile: f.defaultsFile,
	})
	if err != nil {
		return fmt.Errorf("could not resolve configuration: %w", err)
	}

	fs := afero.NewOsFs()
	h := githash.NewSHA1()
	logger := diag.New(os.Stderr, diag.LevelWarn)

	c, err := collection.Open(fs, h, cfg.CacheDir, repoURL, cfg.Branch)
	if err != nil {
		return fmt.Errorf("could not open collection: %w", err)
	}
	if c.ControlSocketPath == "" {
		c.ControlSocketPath = filepath.Join(cfg.CacheDir, collection.Slug(repoURL)+".sock")
	}

	factory := &transport.SSHConnFactory{ControlPath: c.ControlSocketPath}

	changed, written, err := collection.Run(fs, factory, c, repoURL, patterns, logger)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	for _, w := range written {
		fmt.Printf("%s -> %s\n", w.VirtualPath, w.FilesystemPath)
	}
	if changed {
		fmt.Println("mirror updated")
	} else {
		fmt.Println("mirror already up to date")
	}
	return nil
}
