// Package git provides adapters for interacting with local Git repositories.
// Ref and HEAD inspection go through go-git/v5; working-tree mutations, history
// queries and the ancestor check shell out to the git CLI.
package git

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/MyCarrier-DevOps/version-finder/internal/domain"
)

// Logger defines the logging interface for the git adapter.
// This interface enables dependency injection and testability.
type Logger interface {
	Debug(ctx context.Context, msg string, fields map[string]any)
	Warn(ctx context.Context, msg string, fields map[string]any)
}

// Field and record separators used in --format strings.
const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
)

// gitlinkHashPattern extracts a full object id from ls-tree output.
var gitlinkHashPattern = regexp.MustCompile(`\b[0-9a-f]{40}\b`)

// Repository implements domain.GitRepository for one working tree.
type Repository struct {
	dir    string
	runner *Runner
	logger Logger
}

// NewRepository creates a Repository for the working tree at dir.
// No git command runs until a method is called.
func NewRepository(dir string, cfg RunnerConfig, log Logger) (*Repository, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repository path %s: %w", dir, err)
	}
	return &Repository{
		dir:    abs,
		runner: NewRunner(abs, cfg, log),
		logger: log,
	}, nil
}

// Factory returns a domain.RepositoryFactory producing Repositories with a shared policy.
func Factory(cfg RunnerConfig, log Logger) domain.RepositoryFactory {
	return func(dir string) (domain.GitRepository, error) {
		return NewRepository(dir, cfg, log)
	}
}

// Dir returns the absolute path of the working tree.
func (r *Repository) Dir() string {
	return r.dir
}

// open opens the repository with go-git. A fresh handle is opened on every call
// because the CLI mutates refs and objects underneath it.
func (r *Repository) open() (*gogit.Repository, error) {
	repo, err := gogit.PlainOpenWithOptions(r.dir, &gogit.PlainOpenOptions{
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotARepository, r.dir)
		}
		return nil, fmt.Errorf("failed to open repository %s: %w", r.dir, err)
	}
	return repo, nil
}

// Validate returns domain.ErrNotARepository if the directory is not a repository root.
func (r *Repository) Validate(_ context.Context) error {
	_, err := r.open()
	return err
}

// SubmoduleStatus returns the non-empty lines of `git submodule status`.
func (r *Repository) SubmoduleStatus(ctx context.Context) ([]string, error) {
	out, err := r.runner.Run(ctx, "submodule", "status")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// Branches returns short names of local branches and remote-tracking branches,
// e.g. "main" and "origin/main". Symbolic refs such as origin/HEAD are skipped.
func (r *Repository) Branches(ctx context.Context) ([]string, error) {
	repo, err := r.open()
	if err != nil {
		return nil, err
	}

	refs, err := repo.References()
	if err != nil {
		return nil, fmt.Errorf("failed to list references: %w", err)
	}
	defer refs.Close()

	var names []string
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ref.Type() != plumbing.HashReference {
			return nil
		}
		if ref.Name().IsBranch() || ref.Name().IsRemote() {
			names = append(names, ref.Name().Short())
		}
		return nil
	})
	if err != nil && !errors.Is(err, storer.ErrStop) {
		return nil, fmt.Errorf("failed to walk references: %w", err)
	}

	r.logger.Debug(ctx, "listed branches", map[string]any{
		"dir":   r.dir,
		"count": len(names),
	})

	return names, nil
}

// HasRemote reports whether any remote is configured.
func (r *Repository) HasRemote(_ context.Context) (bool, error) {
	repo, err := r.open()
	if err != nil {
		return false, err
	}
	remotes, err := repo.Remotes()
	if err != nil {
		return false, fmt.Errorf("failed to list remotes: %w", err)
	}
	return len(remotes) > 0, nil
}

// Fetch downloads objects and refs from all remotes.
func (r *Repository) Fetch(ctx context.Context) error {
	_, err := r.runner.RunWithRetry(ctx, "fetch", "--all")
	return err
}

// IsDirty reports whether any tracked file differs from HEAD.
func (r *Repository) IsDirty(ctx context.Context) (bool, error) {
	out, err := r.runner.Run(ctx, "status", "--porcelain", "--untracked-files=no")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// Head returns the current HEAD commit and, when attached, its branch.
func (r *Repository) Head(ctx context.Context) (*domain.HeadState, error) {
	repo, err := r.open()
	if err != nil {
		return nil, err
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD: %w", err)
	}

	state := &domain.HeadState{Hash: head.Hash().String()}
	if head.Name().IsBranch() {
		state.Branch = head.Name().Short()
	} else {
		r.logger.Debug(ctx, "HEAD is detached", map[string]any{
			"dir":      r.dir,
			"head_sha": state.Hash,
		})
	}
	return state, nil
}

// StashPush shelves tracked changes under message.
func (r *Repository) StashPush(ctx context.Context, message string) error {
	_, err := r.runner.Run(ctx, "stash", "push", "-m", message)
	return err
}

// StashList returns stash entries, topmost first.
func (r *Repository) StashList(ctx context.Context) ([]domain.StashEntry, error) {
	out, err := r.runner.Run(ctx, "stash", "list", "--format=%gd%x1f%gs")
	if err != nil {
		return nil, err
	}

	var entries []domain.StashEntry
	for _, line := range splitLines(out) {
		parts := strings.SplitN(line, fieldSep, 2)
		entry := domain.StashEntry{ID: strings.TrimSpace(parts[0])}
		if len(parts) == 2 {
			entry.Message = parts[1]
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// StashPop re-applies and drops the stash entry id.
func (r *Repository) StashPop(ctx context.Context, id string) error {
	_, err := r.runner.Run(ctx, "stash", "pop", id)
	return err
}

// Checkout switches the working tree to ref.
func (r *Repository) Checkout(ctx context.Context, ref string) error {
	_, err := r.runner.Run(ctx, "checkout", ref)
	return err
}

// Pull fast-forwards the current branch from its upstream.
func (r *Repository) Pull(ctx context.Context) error {
	_, err := r.runner.RunWithRetry(ctx, "pull", "--ff-only")
	return err
}

// UpdateSubmodules checks every submodule out at the commit recorded by HEAD.
func (r *Repository) UpdateSubmodules(ctx context.Context) error {
	_, err := r.runner.RunWithRetry(ctx, "submodule", "update", "--init")
	return err
}

// ResolveCommit returns the full hash of ref, or domain.ErrCommitNotFound.
func (r *Repository) ResolveCommit(ctx context.Context, ref string) (string, error) {
	out, err := r.runner.Run(ctx, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil {
		if exitCode(err) == 1 {
			return "", fmt.Errorf("%w: %s in %s", domain.ErrCommitNotFound, ref, r.dir)
		}
		return "", err
	}
	return out, nil
}

// ShowCommit returns the hash and subject of ref.
func (r *Repository) ShowCommit(ctx context.Context, ref string) (*domain.CommitRecord, error) {
	hash, err := r.ResolveCommit(ctx, ref)
	if err != nil {
		return nil, err
	}

	out, err := r.runner.Run(ctx, "show", "-s", "--format=%H%x1f%s", hash)
	if err != nil {
		return nil, err
	}

	records := parseRecords(out)
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrCommitNotFound, ref)
	}
	return &records[0], nil
}

// LogPath returns commits reachable from HEAD that modified path, newest first.
func (r *Repository) LogPath(ctx context.Context, path string) ([]domain.CommitRecord, error) {
	out, err := r.runner.Run(ctx, "log", "--format=%H%x1f%s", "--", path)
	if err != nil {
		return nil, err
	}
	return parseRecords(out), nil
}

// LogRange returns commits in from..to, newest first.
func (r *Repository) LogRange(ctx context.Context, from, to string) ([]domain.CommitRecord, error) {
	out, err := r.runner.Run(ctx, "log", "--format=%H%x1f%s", from+".."+to, "--")
	if err != nil {
		return nil, err
	}
	return parseRecords(out), nil
}

// LogDetails returns every commit reachable from ref with its body, newest first.
func (r *Repository) LogDetails(ctx context.Context, ref string) ([]domain.CommitDetail, error) {
	out, err := r.runner.Run(ctx, "log", "--format=%H%x1f%s%x1f%b%x1e", ref, "--")
	if err != nil {
		return nil, err
	}

	var details []domain.CommitDetail
	for _, rec := range strings.Split(out, recordSep) {
		rec = strings.TrimSpace(rec)
		if rec == "" {
			continue
		}
		parts := strings.SplitN(rec, fieldSep, 3)
		d := domain.CommitDetail{CommitRecord: domain.CommitRecord{Hash: parts[0]}}
		if len(parts) > 1 {
			d.Message = parts[1]
		}
		if len(parts) > 2 {
			d.Body = strings.TrimSpace(parts[2])
		}
		details = append(details, d)
	}
	return details, nil
}

// GitlinkAt returns the submodule pointer recorded for path in commit.
// An empty string means commit has no gitlink at path.
func (r *Repository) GitlinkAt(ctx context.Context, commit, path string) (string, error) {
	out, err := r.runner.Run(ctx, "ls-tree", commit, "--", path)
	if err != nil {
		return "", err
	}
	return parseGitlink(out), nil
}

// IsAncestor runs `merge-base --is-ancestor`. Exit status 1 is the expected
// "not an ancestor" answer; any other failure is returned as an error.
func (r *Repository) IsAncestor(ctx context.Context, ancestor, descendant string) (domain.Ancestry, error) {
	_, err := r.runner.Run(ctx, "merge-base", "--is-ancestor", ancestor, descendant)
	if err == nil {
		return domain.Ancestor, nil
	}
	if exitCode(err) == 1 {
		return domain.NotAncestor, nil
	}
	return domain.NotAncestor, fmt.Errorf("ancestor check %s..%s failed: %w", ancestor, descendant, err)
}

// parseGitlink extracts the object id from `ls-tree` output, accepting only
// gitlink (commit) entries.
func parseGitlink(out string) string {
	for _, line := range splitLines(out) {
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[1] != "commit" {
			continue
		}
		if hash := gitlinkHashPattern.FindString(fields[2]); hash != "" {
			return hash
		}
	}
	return ""
}

// parseRecords parses "hash<US>subject" lines.
func parseRecords(out string) []domain.CommitRecord {
	var records []domain.CommitRecord
	for _, line := range splitLines(out) {
		parts := strings.SplitN(line, fieldSep, 2)
		rec := domain.CommitRecord{Hash: strings.TrimSpace(parts[0])}
		if len(parts) == 2 {
			rec.Message = parts[1]
		}
		records = append(records, rec)
	}
	return records
}

func splitLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
