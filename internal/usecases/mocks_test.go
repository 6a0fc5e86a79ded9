package usecases

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MyCarrier-DevOps/version-finder/internal/domain"
)

// mockLogger implements the Logger interface for testing.
type mockLogger struct{}

func (m *mockLogger) Info(_ context.Context, _ string, _ map[string]any)           {}
func (m *mockLogger) Debug(_ context.Context, _ string, _ map[string]any)          {}
func (m *mockLogger) Warn(_ context.Context, _ string, _ map[string]any)           {}
func (m *mockLogger) Error(_ context.Context, _ string, _ error, _ map[string]any) {}

// callLog records mutating calls across every mock repository in a test.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// count returns how many recorded calls start with prefix.
func (l *callLog) count(prefix string) int {
	n := 0
	for _, c := range l.all() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// mockRepo implements domain.GitRepository for testing.
type mockRepo struct {
	name string
	log  *callLog

	validateErr    error
	submoduleLines []string
	submoduleErr   error
	branches       []string
	branchesErr    error
	hasRemote      bool
	fetchErr       error
	dirty          bool
	dirtyErr       error

	// dirtyErrAt fails only the n-th IsDirty call, counted by dirtyCalls.
	dirtyErrAt int
	dirtyCalls int

	// dirtyWith makes the repository report changes while another one has them,
	// the way a super-repository sees a modified submodule.
	dirtyWith *mockRepo

	head      domain.HeadState
	headErr   error
	stash     []domain.StashEntry
	stashNoop bool
	// stashListFailures fails that many upcoming StashList calls.
	stashListFailures int

	checkoutErr error
	pullErr     error
	updateErr   error
	// onUpdate runs after a successful UpdateSubmodules.
	onUpdate func()

	// commits maps a revision to its record for ResolveCommit and ShowCommit.
	commits    map[string]domain.CommitRecord
	logPath    []domain.CommitRecord
	logPathErr error
	logRange   []domain.CommitRecord
	details    []domain.CommitDetail

	// gitlinks maps a super-repository commit to the pointer it records.
	gitlinks map[string]string
	// includes lists pointers from which the target is reachable.
	includes       map[string]bool
	ancestorErr    error
	ancestorChecks int
}

func (m *mockRepo) Dir() string { return m.name }

func (m *mockRepo) Validate(_ context.Context) error { return m.validateErr }

func (m *mockRepo) SubmoduleStatus(_ context.Context) ([]string, error) {
	return m.submoduleLines, m.submoduleErr
}

func (m *mockRepo) Branches(_ context.Context) ([]string, error) {
	return m.branches, m.branchesErr
}

func (m *mockRepo) HasRemote(_ context.Context) (bool, error) { return m.hasRemote, nil }

func (m *mockRepo) Fetch(_ context.Context) error {
	m.log.add("%s:fetch", m.name)
	return m.fetchErr
}

func (m *mockRepo) IsDirty(_ context.Context) (bool, error) {
	m.dirtyCalls++
	if m.dirtyErr != nil {
		return false, m.dirtyErr
	}
	if m.dirtyErrAt > 0 && m.dirtyCalls == m.dirtyErrAt {
		return false, errors.New("index.lock exists")
	}
	if m.dirtyWith != nil && m.dirtyWith.dirty {
		return true, nil
	}
	return m.dirty, nil
}

func (m *mockRepo) Head(_ context.Context) (*domain.HeadState, error) {
	if m.headErr != nil {
		return nil, m.headErr
	}
	h := m.head
	return &h, nil
}

func (m *mockRepo) StashPush(_ context.Context, message string) error {
	m.log.add("%s:stash-push", m.name)
	if m.stashNoop {
		return nil
	}
	entries := []domain.StashEntry{{Message: "On main: " + message}}
	entries = append(entries, m.stash...)
	for i := range entries {
		entries[i].ID = fmt.Sprintf("stash@{%d}", i)
	}
	m.stash = entries
	m.dirty = false
	return nil
}

func (m *mockRepo) StashList(_ context.Context) ([]domain.StashEntry, error) {
	if m.stashListFailures > 0 {
		m.stashListFailures--
		return nil, errors.New("stash list failed")
	}
	return m.stash, nil
}

func (m *mockRepo) StashPop(_ context.Context, id string) error {
	m.log.add("%s:stash-pop %s", m.name, id)
	var rest []domain.StashEntry
	for _, e := range m.stash {
		if e.ID != id {
			rest = append(rest, e)
		}
	}
	m.stash = rest
	m.dirty = true
	return nil
}

func (m *mockRepo) Checkout(_ context.Context, ref string) error {
	m.log.add("%s:checkout %s", m.name, ref)
	return m.checkoutErr
}

func (m *mockRepo) Pull(_ context.Context) error {
	m.log.add("%s:pull", m.name)
	return m.pullErr
}

func (m *mockRepo) UpdateSubmodules(_ context.Context) error {
	m.log.add("%s:submodule-update", m.name)
	if m.updateErr == nil && m.onUpdate != nil {
		m.onUpdate()
	}
	return m.updateErr
}

func (m *mockRepo) ResolveCommit(_ context.Context, ref string) (string, error) {
	m.log.add("%s:resolve %s", m.name, ref)
	rec, ok := m.commits[ref]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrCommitNotFound, ref)
	}
	return rec.Hash, nil
}

func (m *mockRepo) ShowCommit(_ context.Context, ref string) (*domain.CommitRecord, error) {
	rec, ok := m.commits[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrCommitNotFound, ref)
	}
	return &rec, nil
}

func (m *mockRepo) LogPath(_ context.Context, _ string) ([]domain.CommitRecord, error) {
	return append([]domain.CommitRecord(nil), m.logPath...), m.logPathErr
}

func (m *mockRepo) LogRange(_ context.Context, _, _ string) ([]domain.CommitRecord, error) {
	return append([]domain.CommitRecord(nil), m.logRange...), nil
}

func (m *mockRepo) LogDetails(_ context.Context, _ string) ([]domain.CommitDetail, error) {
	return append([]domain.CommitDetail(nil), m.details...), nil
}

func (m *mockRepo) GitlinkAt(_ context.Context, commit, _ string) (string, error) {
	return m.gitlinks[commit], nil
}

func (m *mockRepo) IsAncestor(_ context.Context, _, descendant string) (domain.Ancestry, error) {
	m.ancestorChecks++
	if m.ancestorErr != nil {
		return domain.NotAncestor, m.ancestorErr
	}
	if m.includes[descendant] {
		return domain.Ancestor, nil
	}
	return domain.NotAncestor, nil
}

// fixture bundles a session over mock repositories.
type fixture struct {
	log     *callLog
	main    *mockRepo
	subs    map[string]*mockRepo
	session *Session
	opened  int
}

// newFixture builds a main repository on branch "main" and one clean mock per submodule path.
func newFixture(t *testing.T, submodules ...string) *fixture {
	t.Helper()
	log := &callLog{}
	f := &fixture{
		log: log,
		main: &mockRepo{
			name:     "main",
			log:      log,
			branches: []string{"main", "origin/main", "remotes/origin/develop"},
			head:     domain.HeadState{Hash: strings.Repeat("a", 40), Branch: "main"},
			commits:  map[string]domain.CommitRecord{},
		},
		subs: map[string]*mockRepo{},
	}
	for _, path := range submodules {
		f.main.submoduleLines = append(f.main.submoduleLines,
			fmt.Sprintf(" %s %s (heads/main)", strings.Repeat("b", 40), path))
		f.subs[path] = &mockRepo{
			name:     path,
			log:      log,
			head:     domain.HeadState{Hash: strings.Repeat("c", 40), Branch: "main"},
			commits:  map[string]domain.CommitRecord{},
			includes: map[string]bool{},
		}
	}
	return f
}

// newSession creates the session without initializing it.
func (f *fixture) newSession(t *testing.T, opts SessionOptions) *Session {
	t.Helper()
	root := t.TempDir()
	factory := func(dir string) (domain.GitRepository, error) {
		f.opened++
		if dir == root {
			return f.main, nil
		}
		rel, err := filepath.Rel(root, dir)
		if err != nil {
			return nil, err
		}
		sub, ok := f.subs[rel]
		if !ok {
			return nil, fmt.Errorf("unexpected repository %s", dir)
		}
		return sub, nil
	}
	s, err := NewSession(root, factory, &mockLogger{}, opts)
	require.NoError(t, err)
	f.session = s
	return s
}

// initSession creates and initializes the session.
func (f *fixture) initSession(t *testing.T, opts SessionOptions) *Session {
	t.Helper()
	s := f.newSession(t, opts)
	require.NoError(t, s.Initialize(context.Background()))
	return s
}
