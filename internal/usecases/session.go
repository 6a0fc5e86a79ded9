package usecases

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MyCarrier-DevOps/version-finder/internal/domain"
)

// stashMarkerPrefix tags stash entries created by a snapshot so they can be found again.
const stashMarkerPrefix = "version-finder-snapshot:"

// SessionOptions controls the optional network behaviour of a Session.
type SessionOptions struct {
	// SearchPattern is a delimited regex literal. Empty means domain.DefaultSearchPattern.
	SearchPattern string

	// Pull fast-forwards the checked out branch when the repository has a remote.
	Pull bool

	// FetchOnInit runs a fetch during Initialize when the repository has a remote.
	FetchOnInit bool
}

// Session owns one local repository and its submodules. It answers metadata
// queries and provides the snapshot protocol that every working-tree mutation
// runs under.
//
// A Session is not safe for concurrent use.
type Session struct {
	path     string
	newRepo  domain.RepositoryFactory
	repo     domain.GitRepository
	subRepos map[string]domain.GitRepository
	opts     SessionOptions
	logger   Logger

	pattern     *domain.SearchPattern
	branches    []string
	submodules  []string
	initialized bool
	dirty       bool
	active      *domain.Snapshot
	txDepth     int
}

// NewSession binds a Session to path. It fails with domain.ErrPathNotFound
// before any git command runs if path does not exist.
func NewSession(
	path string,
	factory domain.RepositoryFactory,
	log Logger,
	opts SessionOptions,
) (*Session, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
	}
	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrPathNotFound, abs)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", abs, err)
	}

	literal := opts.SearchPattern
	if literal == "" {
		literal = domain.DefaultSearchPattern
	}
	pattern, err := domain.ParseSearchPattern(literal)
	if err != nil {
		return nil, err
	}

	repo, err := factory(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository %s: %w", abs, err)
	}

	return &Session{
		path:     abs,
		newRepo:  factory,
		repo:     repo,
		subRepos: make(map[string]domain.GitRepository),
		opts:     opts,
		logger:   log,
		pattern:  pattern,
	}, nil
}

// Path returns the absolute repository path.
func (s *Session) Path() string {
	return s.path
}

// Repository returns the command interface of the main working tree.
func (s *Session) Repository() domain.GitRepository {
	return s.repo
}

// IsInitialized reports whether Initialize has succeeded.
func (s *Session) IsInitialized() bool {
	return s.initialized
}

// IsDirty reports the cached dirty flag. It is conservatively true after a restore
// until the next explicit check.
func (s *Session) IsDirty() bool {
	return s.dirty
}

// Initialize validates the repository, loads submodules and branches, records
// the dirty state and stores a baseline snapshot. Calling it again is a no-op.
func (s *Session) Initialize(ctx context.Context) error {
	if s.initialized {
		return nil
	}

	if err := s.repo.Validate(ctx); err != nil {
		s.logger.Error(ctx, "invalid git repository path", err, map[string]any{"path": s.path})
		return err
	}

	if s.opts.FetchOnInit {
		s.fetch(ctx)
	}

	lines, err := s.repo.SubmoduleStatus(ctx)
	if err != nil {
		s.logger.Warn(ctx, "failed to read submodule status, continuing without submodules", map[string]any{
			"path":  s.path,
			"error": err.Error(),
		})
		lines = nil
	}
	s.submodules = parseSubmodulePaths(lines)

	raw, err := s.repo.Branches(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch branch information: %w", err)
	}
	s.branches = normalizeBranches(raw)

	dirty, err := s.repo.IsDirty(ctx)
	if err != nil {
		return fmt.Errorf("failed to check working tree status: %w", err)
	}
	s.dirty = dirty

	if err := s.saveSnapshot(ctx, false); err != nil {
		return fmt.Errorf("failed to take initial snapshot: %w", err)
	}

	s.initialized = true
	s.logger.Info(ctx, "repository session initialized", map[string]any{
		"path":       s.path,
		"branches":   len(s.branches),
		"submodules": len(s.submodules),
		"dirty":      s.dirty,
	})
	return nil
}

// fetch downloads remote refs. Failures are logged and otherwise ignored.
func (s *Session) fetch(ctx context.Context) {
	hasRemote, err := s.repo.HasRemote(ctx)
	if err != nil || !hasRemote {
		return
	}
	if err := s.repo.Fetch(ctx); err != nil {
		s.logger.Warn(ctx, "fetch failed, using local refs", map[string]any{
			"path":  s.path,
			"error": err.Error(),
		})
	}
}

// Branches returns the normalized branch names in first-seen order.
func (s *Session) Branches() ([]string, error) {
	if !s.initialized {
		return nil, domain.ErrNotInitialized
	}
	return slices.Clone(s.branches), nil
}

// Submodules returns the submodule paths. The result is empty, not nil, for a
// repository without submodules.
func (s *Session) Submodules() ([]string, error) {
	if !s.initialized {
		return nil, domain.ErrNotInitialized
	}
	out := make([]string, len(s.submodules))
	copy(out, s.submodules)
	return out, nil
}

// IsValidBranch reports whether branch is one of the session's branches.
func (s *Session) IsValidBranch(branch string) bool {
	return slices.Contains(s.branches, branch)
}

// IsValidSubmodule reports whether path is one of the session's submodules.
func (s *Session) IsValidSubmodule(path string) bool {
	return slices.Contains(s.submodules, path)
}

// SetSearchPattern replaces the version search pattern with a delimited regex literal.
func (s *Session) SetSearchPattern(pattern string) error {
	p, err := domain.ParseSearchPattern(pattern)
	if err != nil {
		return err
	}
	s.pattern = p
	return nil
}

// SetSearchPatternValue is SetSearchPattern for values of unknown type, such
// as settings decoded from JSON.
func (s *Session) SetSearchPatternValue(value any) error {
	p, err := domain.PatternFromValue(value)
	if err != nil {
		return err
	}
	s.pattern = p
	return nil
}

// SearchPattern returns the active search pattern.
func (s *Session) SearchPattern() *domain.SearchPattern {
	return s.pattern
}

// IsRepoDirty reports whether tracked files in repo differ from HEAD.
func (s *Session) IsRepoDirty(ctx context.Context, repo domain.GitRepository) (bool, error) {
	dirty, err := repo.IsDirty(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check status of %s: %w", repo.Dir(), err)
	}
	return dirty, nil
}

// EnsureClean fails with domain.ErrUncommittedChanges when the main working
// tree has tracked changes. A stale dirty flag is re-checked before rejecting.
func (s *Session) EnsureClean(ctx context.Context) error {
	if !s.initialized {
		return domain.ErrNotInitialized
	}
	if !s.dirty {
		return nil
	}
	dirty, err := s.IsRepoDirty(ctx, s.repo)
	if err != nil {
		return err
	}
	s.dirty = dirty
	if dirty {
		return domain.ErrUncommittedChanges
	}
	return nil
}

// SubmoduleRepository returns the command interface scoped to a submodule's
// own working tree.
func (s *Session) SubmoduleRepository(ctx context.Context, path string) (domain.GitRepository, error) {
	if repo, ok := s.subRepos[path]; ok {
		return repo, nil
	}
	repo, err := s.newRepo(filepath.Join(s.path, path))
	if err != nil {
		return nil, fmt.Errorf("failed to open submodule %s: %w", path, err)
	}
	if err := repo.Validate(ctx); err != nil {
		return nil, fmt.Errorf("submodule %s is not checked out: %w", path, err)
	}
	s.subRepos[path] = repo
	return repo, nil
}

// ActiveSnapshot returns the current restore point, or nil.
func (s *Session) ActiveSnapshot() *domain.Snapshot {
	return s.active
}

// takeSnapshot records the position of repo. When repo is dirty and allowStash
// is set, tracked changes are stashed under a unique marker first.
func (s *Session) takeSnapshot(
	ctx context.Context,
	repo domain.GitRepository,
	allowStash bool,
) (*domain.RepoPointState, error) {
	state := &domain.RepoPointState{}

	dirty, err := s.IsRepoDirty(ctx, repo)
	if err != nil {
		return nil, err
	}

	if dirty && allowStash {
		marker := stashMarkerPrefix + uuid.NewString()
		if err := repo.StashPush(ctx, marker); err != nil {
			return nil, fmt.Errorf("failed to stash changes in %s: %w", repo.Dir(), err)
		}
		id, err := findStash(ctx, repo, marker)
		switch {
		case errors.Is(err, domain.ErrStashNotFound):
			// A tree dirty only through its submodules has nothing to stash
			// itself; the submodule snapshots shelve those changes.
			s.logger.Debug(ctx, "stash created no entry", map[string]any{"dir": repo.Dir()})
		case err != nil:
			return nil, errors.Join(err, unshelve(ctx, repo, marker))
		default:
			state.StashID = id
			state.StashMarker = marker
			s.logger.Debug(ctx, "stashed uncommitted changes", map[string]any{
				"dir":      repo.Dir(),
				"stash_id": id,
			})
		}
	}

	head, err := repo.Head(ctx)
	if err != nil {
		err = fmt.Errorf("failed to read HEAD of %s: %w", repo.Dir(), err)
		if state.StashMarker != "" {
			err = errors.Join(err, unshelve(ctx, repo, state.StashMarker))
		}
		return nil, err
	}
	state.CommitHash = head.Hash
	state.Branch = head.Branch

	return state, nil
}

// unshelve pops the stash entry carrying marker, if there is one. It puts back
// changes stashed by a snapshot that could not be completed.
func unshelve(ctx context.Context, repo domain.GitRepository, marker string) error {
	id, err := findStash(ctx, repo, marker)
	if errors.Is(err, domain.ErrStashNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("changes remain stashed under %q: %w", marker, err)
	}
	if err := repo.StashPop(ctx, id); err != nil {
		return fmt.Errorf("failed to re-apply stash %s in %s: %w", id, repo.Dir(), err)
	}
	return nil
}

// findStash returns the topmost stash entry whose message carries marker.
func findStash(ctx context.Context, repo domain.GitRepository, marker string) (string, error) {
	entries, err := repo.StashList(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list stash in %s: %w", repo.Dir(), err)
	}
	for _, entry := range entries {
		if strings.Contains(entry.Message, marker) {
			return entry.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %s in %s", domain.ErrStashNotFound, marker, repo.Dir())
}

// SaveRepoSnapshot stores a restore point for the main repository and every
// submodule. It is a no-op while a stash-allowed snapshot is already active.
func (s *Session) SaveRepoSnapshot(ctx context.Context, allowStash bool) error {
	if !s.initialized {
		return domain.ErrNotInitialized
	}
	return s.saveSnapshot(ctx, allowStash)
}

func (s *Session) saveSnapshot(ctx context.Context, allowStash bool) error {
	if s.active != nil && s.active.AllowStash {
		s.logger.Debug(ctx, "snapshot already active, reusing it", map[string]any{"path": s.path})
		return nil
	}

	mainState, err := s.takeSnapshot(ctx, s.repo, allowStash)
	if err != nil {
		return err
	}
	snap := &domain.Snapshot{
		AllowStash: allowStash,
		Main:       *mainState,
		Submodules: make(map[string]domain.RepoPointState, len(s.submodules)),
	}

	for _, path := range s.submodules {
		repo, err := s.SubmoduleRepository(ctx, path)
		if err != nil {
			s.logger.Warn(ctx, "skipping submodule in snapshot", map[string]any{
				"submodule": path,
				"error":     err.Error(),
			})
			continue
		}
		state, err := s.takeSnapshot(ctx, repo, allowStash)
		if err != nil {
			// Put back whatever was already shelved before giving up.
			return errors.Join(err, s.undoAll(ctx, snap))
		}
		snap.Submodules[path] = *state
	}

	dirty, err := s.IsRepoDirty(ctx, s.repo)
	if err != nil {
		return errors.Join(err, s.undoAll(ctx, snap))
	}
	s.active = snap
	s.dirty = dirty
	return nil
}

// undoSnapshot puts repo back at state: the recorded branch, or the recorded
// commit when HEAD was detached, and then the stashed changes.
func (s *Session) undoSnapshot(ctx context.Context, repo domain.GitRepository, state domain.RepoPointState) error {
	target := state.Branch
	if target == "" {
		target = state.CommitHash
	}
	if err := repo.Checkout(ctx, target); err != nil {
		return fmt.Errorf("failed to restore %s to %s: %w", repo.Dir(), target, err)
	}

	if state.StashID == "" {
		return nil
	}

	// Entries may have shifted since the snapshot, so look the marker up again.
	id := state.StashID
	if state.StashMarker != "" {
		found, err := findStash(ctx, repo, state.StashMarker)
		if err != nil {
			return err
		}
		id = found
	}
	if err := repo.StashPop(ctx, id); err != nil {
		return fmt.Errorf("failed to re-apply stash %s in %s: %w", id, repo.Dir(), err)
	}
	return nil
}

// undoAll restores submodules in path order and then the main repository.
func (s *Session) undoAll(ctx context.Context, snap *domain.Snapshot) error {
	paths := make([]string, 0, len(snap.Submodules))
	for path := range snap.Submodules {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var errs []error
	for _, path := range paths {
		repo, err := s.SubmoduleRepository(ctx, path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.undoSnapshot(ctx, repo, snap.Submodules[path]); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.undoSnapshot(ctx, s.repo, snap.Main); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RestoreRepoSnapshot restores the active snapshot, submodules first, and clears it.
// The session is marked dirty afterwards until the next explicit check.
func (s *Session) RestoreRepoSnapshot(ctx context.Context) error {
	if !s.initialized {
		return domain.ErrNotInitialized
	}
	if s.active == nil {
		return nil
	}

	snap := s.active
	err := s.undoAll(ctx, snap)
	s.active = nil
	s.dirty = true

	if err != nil {
		s.logger.Error(ctx, "failed to restore repository snapshot", err, map[string]any{"path": s.path})
		return err
	}
	s.logger.Debug(ctx, "restored repository snapshot", map[string]any{
		"path":   s.path,
		"branch": snap.Main.Branch,
		"commit": snap.Main.CommitHash,
	})
	return nil
}

// Transaction is the handle returned by Begin. Only the outermost handle
// restores the snapshot, and Release acts at most once per handle.
type Transaction struct {
	session *Session
	owned   bool
	once    sync.Once
}

// Begin acquires the working-tree transaction. The outermost call saves a
// snapshot; nested calls reuse it. A stash-allowed snapshot saved through
// SaveRepoSnapshot stays owned by that caller and is only undone by
// RestoreRepoSnapshot.
func (s *Session) Begin(ctx context.Context, allowStash bool) (*Transaction, error) {
	if !s.initialized {
		return nil, domain.ErrNotInitialized
	}
	if s.txDepth > 0 {
		s.txDepth++
		return &Transaction{session: s}, nil
	}
	if s.active != nil && s.active.AllowStash {
		s.logger.Debug(ctx, "joining caller snapshot", map[string]any{"path": s.path})
		s.txDepth = 1
		return &Transaction{session: s}, nil
	}
	if err := s.saveSnapshot(ctx, allowStash); err != nil {
		return nil, err
	}
	s.txDepth = 1
	return &Transaction{session: s, owned: true}, nil
}

// Release ends the transaction. The outermost handle restores the snapshot.
func (t *Transaction) Release(ctx context.Context) error {
	var err error
	t.once.Do(func() {
		t.session.txDepth--
		if t.owned {
			err = t.session.RestoreRepoSnapshot(ctx)
		}
	})
	return err
}

// UpdateBranch checks out branch, fast-forwards it when allowed and syncs
// submodules. It must run inside a transaction.
func (s *Session) UpdateBranch(ctx context.Context, branch string) error {
	if s.txDepth == 0 {
		return domain.ErrNoActiveSnapshot
	}

	if err := s.repo.Checkout(ctx, branch); err != nil {
		return fmt.Errorf("failed to check out %s: %w", branch, err)
	}

	if s.opts.Pull {
		hasRemote, err := s.repo.HasRemote(ctx)
		if err != nil {
			return err
		}
		if hasRemote {
			if err := s.repo.Pull(ctx); err != nil {
				return fmt.Errorf("failed to pull %s: %w", branch, err)
			}
		}
	}

	if len(s.submodules) > 0 {
		if err := s.repo.UpdateSubmodules(ctx); err != nil {
			return fmt.Errorf("failed to update submodules: %w", err)
		}
	}
	return nil
}

// WorkingTreeStatus reports tracked changes in the main tree and each submodule.
// Submodules are queried concurrently since status is read-only.
func (s *Session) WorkingTreeStatus(ctx context.Context) (*domain.TreeStatus, error) {
	if !s.initialized {
		return nil, domain.ErrNotInitialized
	}

	mainDirty, err := s.IsRepoDirty(ctx, s.repo)
	if err != nil {
		return nil, err
	}
	s.dirty = mainDirty

	repos := make(map[string]domain.GitRepository, len(s.submodules))
	for _, path := range s.submodules {
		repo, err := s.SubmoduleRepository(ctx, path)
		if err != nil {
			s.logger.Warn(ctx, "submodule not available for status", map[string]any{
				"submodule": path,
				"error":     err.Error(),
			})
			continue
		}
		repos[path] = repo
	}

	results := make([]bool, len(s.submodules))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range s.submodules {
		repo, ok := repos[path]
		if !ok {
			continue
		}
		g.Go(func() error {
			dirty, err := s.IsRepoDirty(gctx, repo)
			if err != nil {
				return err
			}
			results[i] = dirty
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	status := &domain.TreeStatus{
		Path:       s.path,
		Dirty:      mainDirty,
		Submodules: make(map[string]bool, len(repos)),
	}
	for i, path := range s.submodules {
		if _, ok := repos[path]; ok {
			status.Submodules[path] = results[i]
		}
	}
	return status, nil
}

// normalizeBranches strips remote-tracking prefixes and removes duplicates,
// keeping first-seen order.
func normalizeBranches(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	branches := make([]string, 0, len(raw))
	for _, name := range raw {
		name = strings.TrimSpace(name)
		name = strings.TrimPrefix(name, "remotes/")
		name = strings.TrimPrefix(name, "origin/")
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		branches = append(branches, name)
	}
	return branches
}

// parseSubmodulePaths extracts the path token from `submodule status` lines,
// which look like " <sha> <path> (<describe>)" with a one-character state prefix.
func parseSubmodulePaths(lines []string) []string {
	paths := make([]string, 0, len(lines))
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		paths = append(paths, fields[1])
	}
	return paths
}
