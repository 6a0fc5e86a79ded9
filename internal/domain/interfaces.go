// Package domain defines the core business entities and interfaces for version-finder.
// This package contains no external dependencies and represents the innermost layer
// of the CLEAN architecture.
package domain

import (
	"context"
	"errors"
)

// Domain errors for repository sessions and version resolution.
var (
	// ErrPathNotFound indicates the repository path does not exist on the filesystem.
	ErrPathNotFound = errors.New("repository path does not exist")

	// ErrNotARepository indicates the path is not the root of a Git repository.
	ErrNotARepository = errors.New("not a git repository")

	// ErrNotInitialized indicates a query was made before Initialize succeeded.
	ErrNotInitialized = errors.New("repository session is not initialized")

	// ErrUncommittedChanges indicates tracked files differ from HEAD.
	ErrUncommittedChanges = errors.New(
		"the repository has uncommitted changes; commit or discard them before proceeding",
	)

	// ErrInvalidPatternType indicates a search pattern value was not text.
	ErrInvalidPatternType = errors.New("the search pattern must be a string")

	// ErrInvalidPatternFormat indicates a search pattern is not a valid delimited regex.
	ErrInvalidPatternFormat = errors.New("the search pattern must be a valid regex")

	// ErrMissingCaptureGroup indicates a matching pattern had no group to extract the version from.
	ErrMissingCaptureGroup = errors.New("the search pattern has no capture group")

	// ErrInvalidBranch indicates the branch is not one of the session's branches.
	ErrInvalidBranch = errors.New("invalid branch")

	// ErrInvalidSubmodule indicates the path is not one of the session's submodules.
	ErrInvalidSubmodule = errors.New("invalid submodule")

	// ErrCommitNotFound indicates a commit reference could not be resolved.
	ErrCommitNotFound = errors.New("commit not found")

	// ErrNoActiveSnapshot indicates a working-tree mutation was attempted outside a snapshot.
	ErrNoActiveSnapshot = errors.New("working tree mutation requires an active snapshot")

	// ErrStashNotFound indicates a recorded stash entry is missing from the stash list.
	ErrStashNotFound = errors.New("stash entry not found")
)

// GitRepository is the command interface to one working tree.
// The main repository and every submodule each get their own instance.
type GitRepository interface {
	// Dir returns the absolute path of the working tree.
	Dir() string

	// Validate returns ErrNotARepository if Dir is not a repository root.
	Validate(ctx context.Context) error

	// SubmoduleStatus returns the raw output lines of the submodule status facility.
	SubmoduleStatus(ctx context.Context) ([]string, error)

	// Branches returns local and remote-tracking branch names as git reports them.
	Branches(ctx context.Context) ([]string, error)

	// HasRemote reports whether any remote is configured.
	HasRemote(ctx context.Context) (bool, error)

	// Fetch downloads objects and refs from all remotes.
	Fetch(ctx context.Context) error

	// IsDirty reports whether any tracked file differs from HEAD. Untracked files never count.
	IsDirty(ctx context.Context) (bool, error)

	// Head returns the current HEAD commit and branch.
	Head(ctx context.Context) (*HeadState, error)

	// StashPush shelves tracked changes under the given message.
	StashPush(ctx context.Context, message string) error

	// StashList returns stash entries, topmost first.
	StashList(ctx context.Context) ([]StashEntry, error)

	// StashPop re-applies and drops the given stash entry.
	StashPop(ctx context.Context, id string) error

	// Checkout switches the working tree to a branch or commit.
	Checkout(ctx context.Context, ref string) error

	// Pull fast-forwards the current branch from its upstream.
	Pull(ctx context.Context) error

	// UpdateSubmodules checks submodules out at the commits recorded by HEAD.
	UpdateSubmodules(ctx context.Context) error

	// ResolveCommit returns the full hash of a revision, or ErrCommitNotFound.
	ResolveCommit(ctx context.Context, ref string) (string, error)

	// ShowCommit returns the record of a single commit.
	ShowCommit(ctx context.Context, ref string) (*CommitRecord, error)

	// LogPath returns commits reachable from HEAD that modified path, newest first.
	LogPath(ctx context.Context, path string) ([]CommitRecord, error)

	// LogRange returns commits in from..to, newest first. from itself is excluded.
	LogRange(ctx context.Context, from, to string) ([]CommitRecord, error)

	// LogDetails returns every commit reachable from ref with its body, newest first.
	LogDetails(ctx context.Context, ref string) ([]CommitDetail, error)

	// GitlinkAt returns the submodule pointer recorded for path in commit,
	// or an empty string if commit has no gitlink at path.
	GitlinkAt(ctx context.Context, commit, path string) (string, error)

	// IsAncestor reports whether ancestor is reachable from descendant.
	// A failure to run the check is returned as an error, never as NotAncestor.
	IsAncestor(ctx context.Context, ancestor, descendant string) (Ancestry, error)
}

// RepositoryFactory creates a GitRepository for a working tree directory.
type RepositoryFactory func(dir string) (GitRepository, error)

// RepositorySession is the caller-facing view of a repository session.
type RepositorySession interface {
	// Path returns the resolved repository path.
	Path() string

	// Initialize validates the repository and loads branches and submodules.
	Initialize(ctx context.Context) error

	// Branches returns the normalized branch names.
	Branches() ([]string, error)

	// Submodules returns the submodule paths.
	Submodules() ([]string, error)

	// SetSearchPattern replaces the version search pattern.
	SetSearchPattern(pattern string) error

	// WorkingTreeStatus reports uncommitted changes in the main tree and submodules.
	WorkingTreeStatus(ctx context.Context) (*TreeStatus, error)
}

// Resolver answers release questions against a session.
type Resolver interface {
	// Resolve finds the pointer-update commit and the following version commit.
	Resolve(ctx context.Context, input FindInput) (*FindOutput, error)

	// FindCommitsByText returns commits on branch whose subject or body contains text.
	FindCommitsByText(ctx context.Context, branch, text string) ([]CommitRecord, error)

	// ListVersions returns the version commits on branch, newest version first.
	ListVersions(ctx context.Context, branch string) ([]VersionCommit, error)

	// FindCommitByVersion returns the commit that released version on branch.
	FindCommitByVersion(ctx context.Context, branch, version string) (*VersionCommit, error)
}

// OutputWriter presents results to the user.
type OutputWriter interface {
	WriteFindOutput(out *FindOutput) error
	WriteNames(names []string) error
	WriteCommits(commits []CommitRecord) error
	WriteVersions(versions []VersionCommit) error
	WriteStatus(status *TreeStatus) error
}
