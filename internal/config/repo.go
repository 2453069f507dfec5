package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jkassemi/backfill/internal/models"
)

// RepoConfigName is the per-repository config file looked up at the target
// repository root.
const RepoConfigName = "backfill.toml"

// DefaultRepoConfig returns a RepoConfig with default values. The defaults
// describe the common src/tests Python mirror layout.
func DefaultRepoConfig() models.RepoConfig {
	return models.RepoConfig{
		Version: "1.0",
		Layout: models.LayoutConfig{
			SourceRoot:     "src",
			TestsRoot:      "tests",
			SubjectExt:     ".py",
			ArtifactPrefix: "test_",
		},
		Exclude: models.ExcludeConfig{
			Markers: []string{"__init__.py", "__main__.py"},
		},
	}
}

// LoadRepoConfig loads and parses backfill.toml from the given filesystem,
// rooted at the target repository. A missing file yields the defaults.
func LoadRepoConfig(fsys fs.FS) (models.RepoConfig, error) {
	cfg := DefaultRepoConfig()

	data, err := fs.ReadFile(fsys, RepoConfigName)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading %s: %w", RepoConfigName, err)
	}

	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", RepoConfigName, err)
	}

	// A config that sets exclusions but not markers keeps the defaults;
	// clearing markers requires an explicit empty list.
	if !md.IsDefined("exclude", "markers") {
		cfg.Exclude.Markers = []string{"__init__.py", "__main__.py"}
	}

	if cfg.Layout.SourceRoot == "" {
		return cfg, fmt.Errorf("%s: layout.source_root must not be empty", RepoConfigName)
	}
	if cfg.Layout.TestsRoot == "" {
		return cfg, fmt.Errorf("%s: layout.tests_root must not be empty", RepoConfigName)
	}
	if !strings.HasPrefix(cfg.Layout.SubjectExt, ".") {
		return cfg, fmt.Errorf("%s: layout.subject_ext must start with a dot, got %q", RepoConfigName, cfg.Layout.SubjectExt)
	}

	return cfg, nil
}
