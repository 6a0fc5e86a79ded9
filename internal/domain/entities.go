package domain

// ShortHashLength is the number of hash characters shown to users.
const ShortHashLength = 7

// CommitRecord is a single commit returned by a history query.
type CommitRecord struct {
	// Hash is the full commit hash.
	Hash string `json:"hash" yaml:"hash"`

	// Message is the first line of the commit message (subject).
	Message string `json:"message" yaml:"message"`
}

// ShortHash returns the abbreviated commit hash.
func (c CommitRecord) ShortHash() string {
	if len(c.Hash) <= ShortHashLength {
		return c.Hash
	}
	return c.Hash[:ShortHashLength]
}

// CommitDetail is a CommitRecord that also carries the message body.
type CommitDetail struct {
	CommitRecord `yaml:",inline"`
	Body         string `json:"body,omitempty" yaml:"body,omitempty"`
}

// VersionCommit is a commit whose subject matched the search pattern.
type VersionCommit struct {
	CommitRecord `yaml:",inline"`

	// Version is the text captured by the search pattern's group.
	Version string `json:"version" yaml:"version"`
}

// HeadState describes where HEAD of a working tree points.
type HeadState struct {
	// Hash is the full hash of the commit HEAD resolves to.
	Hash string

	// Branch is the short branch name, empty when HEAD is detached.
	Branch string
}

// StashEntry is one line of a stash listing.
type StashEntry struct {
	// ID is the stash reference, e.g. stash@{0}.
	ID string

	// Message is the stash subject line.
	Message string
}

// RepoPointState is everything needed to put one working tree back.
type RepoPointState struct {
	// CommitHash is the full hash of HEAD at capture time.
	CommitHash string `json:"commit_hash"`

	// Branch is set when HEAD was attached to a branch.
	Branch string `json:"branch,omitempty"`

	// StashID identifies the stash entry holding shelved changes, if any.
	StashID string `json:"stash_id,omitempty"`

	// StashMarker is the unique message the stash entry was created with.
	StashMarker string `json:"stash_marker,omitempty"`
}

// Snapshot is a point-in-time save of the main repository and its submodules.
type Snapshot struct {
	AllowStash bool                      `json:"allow_stash"`
	Main       RepoPointState            `json:"main"`
	Submodules map[string]RepoPointState `json:"submodules"`
}

// FindInput holds the parameters of a "which release contains this commit" request.
type FindInput struct {
	// Branch is the super-repository branch to search.
	Branch string

	// Submodule is the relative submodule path; empty searches the main repository.
	Submodule string

	// Commit is the target commit hash or a HEAD / HEAD~N reference.
	Commit string

	// Stash shelves uncommitted changes for the duration of the request.
	Stash bool
}

// FindOutput is the structured result of a find request.
// A nil field means the corresponding search ran and found nothing.
type FindOutput struct {
	PointerCommit *CommitRecord  `json:"pointer_commit,omitempty" yaml:"pointer_commit,omitempty"`
	VersionCommit *VersionCommit `json:"version_commit,omitempty" yaml:"version_commit,omitempty"`
}

// TreeStatus reports uncommitted tracked changes in the main tree and each submodule.
type TreeStatus struct {
	Path       string          `json:"path" yaml:"path"`
	Dirty      bool            `json:"dirty" yaml:"dirty"`
	Submodules map[string]bool `json:"submodules" yaml:"submodules"`
}

// Ancestry is the outcome of an ancestor check that ran to completion.
type Ancestry int

const (
	// NotAncestor means the candidate is not reachable from the descendant.
	NotAncestor Ancestry = iota

	// Ancestor means the candidate is reachable from (or equal to) the descendant.
	Ancestor
)

// String returns a readable form of the ancestry outcome.
func (a Ancestry) String() string {
	if a == Ancestor {
		return "ancestor"
	}
	return "not-ancestor"
}
