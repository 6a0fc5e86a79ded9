// Package testutil builds throwaway Git repositories for integration tests.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// DefaultBranch is the branch every fixture repository is created on.
const DefaultBranch = "main"

// RequireGit skips the test when the git binary is unavailable.
func RequireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

// RunGit executes a git command in dir and returns trimmed stdout.
func RunGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	full := append([]string{
		"-c", "protocol.file.allow=always",
		"-c", "commit.gpgsign=false",
		"-c", "init.defaultBranch=" + DefaultBranch,
	}, args...)
	cmd := exec.Command("git", full...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test User",
		"GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=Test User",
		"GIT_COMMITTER_EMAIL=test@example.com",
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\nOutput: %s", args, err, output)
	}
	return strings.TrimSpace(string(output))
}

// InitRepo creates an empty repository at dir on DefaultBranch. The identity is
// stored in the repository config so that git commands run by the code under
// test (stash in particular) work without a global identity.
func InitRepo(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	RunGit(t, dir, "init")
	RunGit(t, dir, "symbolic-ref", "HEAD", "refs/heads/"+DefaultBranch)
	SetIdentity(t, dir)
}

// SetIdentity stores the test identity in the repository config at dir.
func SetIdentity(t *testing.T, dir string) {
	t.Helper()
	RunGit(t, dir, "config", "user.name", "Test User")
	RunGit(t, dir, "config", "user.email", "test@example.com")
	RunGit(t, dir, "config", "commit.gpgsign", "false")
}

// AllowFileProtocol lets git commands started by the code under test clone
// submodules from local paths for the rest of the test.
func AllowFileProtocol(t *testing.T) {
	t.Setenv("GIT_CONFIG_COUNT", "1")
	t.Setenv("GIT_CONFIG_KEY_0", "protocol.file.allow")
	t.Setenv("GIT_CONFIG_VALUE_0", "always")
}

// CommitFile writes content to name and commits it, returning the new commit hash.
func CommitFile(t *testing.T, dir, name, content, message string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	RunGit(t, dir, "add", name)
	RunGit(t, dir, "commit", "-m", message)
	return Head(t, dir)
}

// Head returns the full hash of HEAD in dir.
func Head(t *testing.T, dir string) string {
	t.Helper()
	return RunGit(t, dir, "rev-parse", "HEAD")
}

// SubmoduleFixture is a super-repository with one submodule and a known history:
//
//	C0 initial commit
//	C1 add submodule      (pointer S0)
//	C2..C4 unrelated commits
//	C5 bump submodule     (pointer S2, which contains Target = S1)
//	C6 "Version: 2.3.1"
//	C7 chore commit       (tip, no version)
//
// Unreached is a submodule commit on a side branch that no pointer includes.
type SubmoduleFixture struct {
	Root      string
	Submodule string
	SubDir    string
	Origin    string

	S0, Target, S2, Unreached string
	C1, C5, C6, C7            string
}

// NewSubmoduleFixture builds the fixture in a fresh temporary directory.
func NewSubmoduleFixture(t *testing.T) *SubmoduleFixture {
	t.Helper()
	RequireGit(t)

	base := t.TempDir()
	origin := filepath.Join(base, "sub-origin")
	root := filepath.Join(base, "super")

	f := &SubmoduleFixture{
		Root:      root,
		Submodule: "sub",
		SubDir:    filepath.Join(root, "sub"),
		Origin:    origin,
	}

	InitRepo(t, origin)
	f.S0 = CommitFile(t, origin, "lib.txt", "v0", "sub initial")

	InitRepo(t, root)
	CommitFile(t, root, "README.md", "hello", "initial commit")
	RunGit(t, root, "submodule", "add", origin, f.Submodule)
	RunGit(t, root, "commit", "-m", "add submodule")
	f.C1 = Head(t, root)

	f.Target = CommitFile(t, f.SubDir, "lib.txt", "v1", "fix bug")
	f.S2 = CommitFile(t, f.SubDir, "lib.txt", "v2", "more work")

	RunGit(t, f.SubDir, "checkout", "-b", "side")
	f.Unreached = CommitFile(t, f.SubDir, "side.txt", "side", "side work")
	RunGit(t, f.SubDir, "checkout", DefaultBranch)

	CommitFile(t, root, "a.txt", "2", "unrelated 2")
	CommitFile(t, root, "a.txt", "3", "unrelated 3")
	CommitFile(t, root, "a.txt", "4", "unrelated 4")

	RunGit(t, root, "add", f.Submodule)
	RunGit(t, root, "commit", "-m", "bump submodule")
	f.C5 = Head(t, root)

	f.C6 = CommitFile(t, root, "CHANGELOG.md", "2.3.1", "Version: 2.3.1")
	f.C7 = CommitFile(t, root, "a.txt", "7", "chore: tidy")

	return f
}

// Clone publishes the submodule history to its origin and clones the
// super-repository without --recurse-submodules, so the submodule directory of
// the clone starts out empty. It returns the clone path.
func (f *SubmoduleFixture) Clone(t *testing.T) string {
	t.Helper()
	RunGit(t, f.Origin, "fetch", f.SubDir,
		"+refs/heads/"+DefaultBranch+":refs/heads/published",
		"+refs/heads/side:refs/heads/side")

	dir := filepath.Join(filepath.Dir(f.Root), "clone")
	RunGit(t, filepath.Dir(f.Root), "clone", f.Root, dir)
	SetIdentity(t, dir)
	return dir
}
