// Package usecases contains the application business logic.
// This package orchestrates domain entities and interfaces to fulfill use cases.
package usecases

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/MyCarrier-DevOps/version-finder/internal/domain"
)

// Logger defines the logging interface required by the session and resolver.
// This abstracts the logger dependency to avoid coupling to a specific implementation.
type Logger interface {
	Info(ctx context.Context, msg string, fields map[string]any)
	Debug(ctx context.Context, msg string, fields map[string]any)
	Warn(ctx context.Context, msg string, fields map[string]any)
	Error(ctx context.Context, msg string, err error, fields map[string]any)
}

// VersionResolver finds the super-repository commit that first pulled a
// submodule commit in, and the release that followed it.
type VersionResolver struct {
	session *Session
	logger  Logger
}

// NewVersionResolver creates a new VersionResolver bound to an initialized session.
func NewVersionResolver(session *Session, log Logger) *VersionResolver {
	return &VersionResolver{
		session: session,
		logger:  log,
	}
}

// release ends tx and joins any restore failure into *err.
func release(ctx context.Context, tx *Transaction, err *error) {
	if relErr := tx.Release(ctx); relErr != nil {
		*err = errors.Join(*err, relErr)
	}
}

// checkBranch validates branch and, when non-empty, submodule against the session.
func (r *VersionResolver) checkBranch(branch, submodule string) error {
	if !r.session.IsValidBranch(branch) {
		return fmt.Errorf("%w: %s", domain.ErrInvalidBranch, branch)
	}
	if submodule != "" && !r.session.IsValidSubmodule(submodule) {
		return fmt.Errorf("%w: %s", domain.ErrInvalidSubmodule, submodule)
	}
	return nil
}

// Resolve answers a find request: the pointer search followed, when it found
// something, by the version scan. With input.Stash set, both run under one
// stash-allowed snapshot so a dirty tree is shelved and put back afterwards.
func (r *VersionResolver) Resolve(ctx context.Context, input domain.FindInput) (out *domain.FindOutput, err error) {
	r.logger.Info(ctx, "starting version resolution", map[string]any{
		"branch":    input.Branch,
		"submodule": input.Submodule,
		"commit":    input.Commit,
		"stash":     input.Stash,
	})

	if input.Stash {
		var tx *Transaction
		if tx, err = r.session.Begin(ctx, true); err != nil {
			return nil, err
		}
		defer release(ctx, tx, &err)
	}

	pointer, err := r.FirstCommitWithSubmoduleUpdate(ctx, input.Commit, input.Branch, input.Submodule)
	if err != nil {
		return nil, err
	}
	out = &domain.FindOutput{PointerCommit: pointer}
	if pointer == nil {
		r.logger.Warn(ctx, "no commit includes the target", map[string]any{
			"branch":    input.Branch,
			"submodule": input.Submodule,
			"commit":    input.Commit,
		})
		return out, nil
	}

	version, err := r.FirstCommitWithVersion(ctx, pointer.Hash, input.Branch)
	if err != nil {
		return nil, err
	}
	out.VersionCommit = version

	fields := map[string]any{"pointer_commit": pointer.Hash}
	if version != nil {
		fields["version_commit"] = version.Hash
		fields["version"] = version.Version
	}
	r.logger.Info(ctx, "version resolution finished", fields)
	return out, nil
}

// FirstCommitWithSubmoduleUpdate returns the earliest commit on branch whose
// pointer for submodule includes target. Without a submodule it returns the
// record of target itself. A nil record with a nil error means no commit qualifies.
//
// Pointers are assumed to only move forward. If a pointer ever moved backward
// the result may not be the earliest qualifying commit.
func (r *VersionResolver) FirstCommitWithSubmoduleUpdate(
	ctx context.Context,
	target, branch, submodule string,
) (rec *domain.CommitRecord, err error) {
	if err := r.session.EnsureClean(ctx); err != nil {
		return nil, err
	}
	if err := r.checkBranch(branch, submodule); err != nil {
		return nil, err
	}

	if submodule == "" {
		return r.session.Repository().ShowCommit(ctx, target)
	}

	tx, err := r.session.Begin(ctx, false)
	if err != nil {
		return nil, err
	}
	defer release(ctx, tx, &err)

	// The submodule may only be populated by the update, and HEAD~N refers to
	// the submodule HEAD the branch records.
	if err := r.session.UpdateBranch(ctx, branch); err != nil {
		return nil, err
	}

	subRepo, err := r.session.SubmoduleRepository(ctx, submodule)
	if err != nil {
		return nil, err
	}
	targetHash, err := subRepo.ResolveCommit(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve target commit: %w", err)
	}

	commits, err := r.session.Repository().LogPath(ctx, submodule)
	if err != nil {
		return nil, fmt.Errorf("failed to list commits touching %s: %w", submodule, err)
	}
	slices.Reverse(commits)

	r.logger.Debug(ctx, "searching pointer updates", map[string]any{
		"submodule":  submodule,
		"target":     targetHash,
		"candidates": len(commits),
	})

	includesTarget := func(ctx context.Context, i int) (bool, error) {
		pointer, err := r.session.Repository().GitlinkAt(ctx, commits[i].Hash, submodule)
		if err != nil {
			return false, err
		}
		if pointer == "" {
			r.logger.Debug(ctx, "commit has no gitlink", map[string]any{
				"commit":    commits[i].Hash,
				"submodule": submodule,
			})
			return false, nil
		}
		ancestry, err := subRepo.IsAncestor(ctx, targetHash, pointer)
		if err != nil {
			return false, err
		}
		return ancestry == domain.Ancestor, nil
	}

	idx, err := firstMatch(ctx, len(commits), includesTarget)
	if err != nil {
		return nil, err
	}
	if idx < 0 {
		return nil, nil
	}

	found := commits[idx]
	return &found, nil
}

// FirstCommitWithVersion scans branch forward from start, start included, and
// returns the first commit whose subject matches the search pattern.
// A nil result with a nil error means no such commit exists.
func (r *VersionResolver) FirstCommitWithVersion(
	ctx context.Context,
	start, branch string,
) (*domain.VersionCommit, error) {
	logs, err := r.Logs(ctx, branch, "", start)
	if err != nil {
		return nil, err
	}
	slices.Reverse(logs)

	pattern := r.session.SearchPattern()
	for _, rec := range logs {
		version, ok, err := pattern.ExtractVersion(rec.Message)
		if err != nil {
			return nil, fmt.Errorf("commit %s: %w", rec.ShortHash(), err)
		}
		if ok {
			return &domain.VersionCommit{CommitRecord: rec, Version: version}, nil
		}
	}
	return nil, nil
}

// Logs checks out branch and returns the commits from `from` (inclusive) to the
// tip, newest first. With a submodule the history is read from the submodule's
// tree at the pointer the branch records. An empty from means HEAD.
func (r *VersionResolver) Logs(
	ctx context.Context,
	branch, submodule, from string,
) (logs []domain.CommitRecord, err error) {
	if err := r.session.EnsureClean(ctx); err != nil {
		return nil, err
	}
	if err := r.checkBranch(branch, submodule); err != nil {
		return nil, err
	}
	if from == "" {
		from = "HEAD"
	}

	tx, err := r.session.Begin(ctx, false)
	if err != nil {
		return nil, err
	}
	defer release(ctx, tx, &err)

	if err := r.session.UpdateBranch(ctx, branch); err != nil {
		return nil, err
	}

	repo := r.session.Repository()
	if submodule != "" {
		if repo, err = r.session.SubmoduleRepository(ctx, submodule); err != nil {
			return nil, err
		}
	}

	logs, err = repo.LogRange(ctx, from, "HEAD")
	if err != nil {
		return nil, fmt.Errorf("failed to read history from %s: %w", from, err)
	}
	// The range excludes its lower bound.
	first, err := repo.ShowCommit(ctx, from)
	if err != nil {
		return nil, err
	}
	return append(logs, *first), nil
}

// IsValidCommitSha reports whether commit exists on branch, in the submodule's
// tree when submodule is set.
func (r *VersionResolver) IsValidCommitSha(
	ctx context.Context,
	commit, branch, submodule string,
) (valid bool, err error) {
	if err := r.session.EnsureClean(ctx); err != nil {
		return false, err
	}
	if err := r.checkBranch(branch, submodule); err != nil {
		return false, err
	}

	tx, err := r.session.Begin(ctx, false)
	if err != nil {
		return false, err
	}
	defer release(ctx, tx, &err)

	if err := r.session.UpdateBranch(ctx, branch); err != nil {
		return false, err
	}

	repo := r.session.Repository()
	if submodule != "" {
		if repo, err = r.session.SubmoduleRepository(ctx, submodule); err != nil {
			return false, err
		}
	}

	if _, err := repo.ResolveCommit(ctx, commit); err != nil {
		if errors.Is(err, domain.ErrCommitNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// history returns every commit on branch with its body, newest first.
func (r *VersionResolver) history(ctx context.Context, branch string) (details []domain.CommitDetail, err error) {
	if err := r.session.EnsureClean(ctx); err != nil {
		return nil, err
	}
	if err := r.checkBranch(branch, ""); err != nil {
		return nil, err
	}

	tx, err := r.session.Begin(ctx, false)
	if err != nil {
		return nil, err
	}
	defer release(ctx, tx, &err)

	if err := r.session.UpdateBranch(ctx, branch); err != nil {
		return nil, err
	}
	return r.session.Repository().LogDetails(ctx, "HEAD")
}

// FindCommitsByText returns commits on branch whose subject or body contains
// text, ignoring case. Newest first.
func (r *VersionResolver) FindCommitsByText(ctx context.Context, branch, text string) ([]domain.CommitRecord, error) {
	details, err := r.history(ctx, branch)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(text)
	var matches []domain.CommitRecord
	for _, d := range details {
		if strings.Contains(strings.ToLower(d.Message), needle) ||
			strings.Contains(strings.ToLower(d.Body), needle) {
			matches = append(matches, d.CommitRecord)
		}
	}

	r.logger.Debug(ctx, "text search finished", map[string]any{
		"branch":  branch,
		"text":    text,
		"scanned": len(details),
		"matches": len(matches),
	})
	return matches, nil
}

// ListVersions returns every version commit on branch, highest version first
// when all versions are semantic versions and in history order otherwise.
func (r *VersionResolver) ListVersions(ctx context.Context, branch string) ([]domain.VersionCommit, error) {
	details, err := r.history(ctx, branch)
	if err != nil {
		return nil, err
	}

	pattern := r.session.SearchPattern()
	var versions []domain.VersionCommit
	for _, d := range details {
		version, ok, err := pattern.ExtractVersion(d.Message)
		if err != nil {
			return nil, fmt.Errorf("commit %s: %w", d.ShortHash(), err)
		}
		if ok {
			versions = append(versions, domain.VersionCommit{CommitRecord: d.CommitRecord, Version: version})
		}
	}

	sortVersions(versions)
	return versions, nil
}

// sortVersions orders versions highest first if every entry parses as semver.
func sortVersions(versions []domain.VersionCommit) {
	parsed := make([]*semver.Version, len(versions))
	for i, v := range versions {
		sv, err := semver.NewVersion(v.Version)
		if err != nil {
			return
		}
		parsed[i] = sv
	}

	idx := make([]int, len(versions))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return parsed[idx[a]].GreaterThan(parsed[idx[b]])
	})

	sorted := make([]domain.VersionCommit, len(versions))
	for i, j := range idx {
		sorted[i] = versions[j]
	}
	copy(versions, sorted)
}

// FindCommitByVersion returns the oldest commit on branch that announces version.
// Versions are compared as semver when both sides parse, as text otherwise.
func (r *VersionResolver) FindCommitByVersion(
	ctx context.Context,
	branch, version string,
) (*domain.VersionCommit, error) {
	details, err := r.history(ctx, branch)
	if err != nil {
		return nil, err
	}
	slices.Reverse(details)

	pattern := r.session.SearchPattern()
	for _, d := range details {
		found, ok, err := pattern.ExtractVersion(d.Message)
		if err != nil {
			return nil, fmt.Errorf("commit %s: %w", d.ShortHash(), err)
		}
		if ok && sameVersion(found, version) {
			return &domain.VersionCommit{CommitRecord: d.CommitRecord, Version: found}, nil
		}
	}
	return nil, fmt.Errorf("%w: no commit for version %s on %s", domain.ErrCommitNotFound, version, branch)
}

func sameVersion(a, b string) bool {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return va.Equal(vb)
}
