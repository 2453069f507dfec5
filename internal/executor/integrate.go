package executor

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jkassemi/backfill/internal/gitx"
	"github.com/jkassemi/backfill/internal/models"
)

// integrate merges each task branch that is ahead of the baseline into the
// mainline, sequentially and in discovery order, so the merged history is
// deterministic no matter how completion interleaved. Only runs after the
// dispatch join; the mainline working copy is exclusively ours here.
//
// Tasks whose artifact paths are pairwise disjoint cannot conflict with
// each other or with the pre-existing tree, so a conflict means that
// invariant was violated and the run aborts rather than auto-resolving.
func (o *Orchestrator) integrate(tasks []models.Task) (int, error) {
	merged := 0
	for i := range tasks {
		t := &tasks[i]
		if !o.repo.BranchExists(t.Branch) {
			slog.Debug("skipping merge, branch was never created", "branch", t.Branch)
			continue
		}

		ahead, err := o.repo.CommitsAhead(t.Branch, o.baseline)
		if err != nil {
			return merged, err
		}
		if ahead == 0 {
			slog.Info("skipping merge, branch has no commits", "branch", t.Branch, "subject", t.SubjectPath)
			continue
		}

		msg := fmt.Sprintf("Merge %s: tests for %s", t.Branch, t.SubjectPath)
		if err := o.repo.MergeNoFF(t.Branch, msg); err != nil {
			if errors.Is(err, gitx.ErrMergeConflict) {
				return merged, fmt.Errorf("merging %s conflicted; artifact paths were expected to be disjoint: %w", t.Branch, err)
			}
			return merged, err
		}

		t.Merged = true
		merged++
		slog.Info("merged", "branch", t.Branch, "subject", t.SubjectPath, "commits", ahead)
	}
	return merged, nil
}
