// Package discover walks a target repository's source tree and emits the
// ordered list of tasks: subjects that lack their mirrored test artifact.
package discover

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/jkassemi/backfill/internal/models"
)

// ArtifactFor returns the expected artifact path for a subject, both
// relative to the repository root. The subject's directory structure under
// source_root is mirrored under tests_root:
//
//	src/pkg/rules/engine.py -> tests/rules/test_engine.py
func ArtifactFor(layout models.LayoutConfig, subjectPath string) string {
	rel := strings.TrimPrefix(subjectPath, layout.SourceRoot+"/")
	dir := path.Dir(rel)
	name := layout.ArtifactPrefix + path.Base(rel)
	if dir == "." {
		return path.Join(layout.TestsRoot, name)
	}
	return path.Join(layout.TestsRoot, dir, name)
}

// Discover walks the source root in fsys (rooted at the target repository)
// and returns tasks for every eligible subject whose artifact does not yet
// exist, ordered lexicographically by subject path. Discovery is a
// snapshot: artifacts created later in the same run are never re-queued.
//
// A subject is skipped when its relative path or basename is excluded, or
// when its basename is a package marker. Returns an error if two subjects
// map to the same artifact path, since disjoint artifacts are what make the
// later merges conflict-free.
func Discover(fsys fs.FS, cfg models.RepoConfig) ([]models.Task, error) {
	excludedPaths := make(map[string]bool, len(cfg.Exclude.Paths))
	for _, p := range cfg.Exclude.Paths {
		excludedPaths[p] = true
	}
	excludedNames := make(map[string]bool, len(cfg.Exclude.Basenames))
	for _, n := range cfg.Exclude.Basenames {
		excludedNames[n] = true
	}
	markers := make(map[string]bool, len(cfg.Exclude.Markers))
	for _, m := range cfg.Exclude.Markers {
		markers[m] = true
	}

	var subjects []string
	err := fs.WalkDir(fsys, cfg.Layout.SourceRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(p, cfg.Layout.SubjectExt) {
			return nil
		}
		name := path.Base(p)
		if markers[name] {
			return nil
		}
		if excludedPaths[p] || excludedNames[name] {
			slog.Debug("subject excluded", "subject", p)
			return nil
		}
		subjects = append(subjects, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", cfg.Layout.SourceRoot, err)
	}

	// WalkDir visits lexically, but the ordering contract is ours, not the
	// walker's.
	sort.Strings(subjects)

	var tasks []models.Task
	seen := make(map[string]string, len(subjects))
	for _, subject := range subjects {
		artifact := ArtifactFor(cfg.Layout, subject)
		if prev, ok := seen[artifact]; ok {
			return nil, fmt.Errorf("subjects %s and %s both map to artifact %s", prev, subject, artifact)
		}
		seen[artifact] = subject

		if _, err := fs.Stat(fsys, artifact); err == nil {
			slog.Debug("artifact already exists", "subject", subject, "artifact", artifact)
			continue
		}

		tasks = append(tasks, models.Task{
			SubjectPath:  subject,
			ArtifactPath: artifact,
			Status:       models.StatusPending,
		})
	}

	return tasks, nil
}
