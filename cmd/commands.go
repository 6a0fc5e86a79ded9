package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MyCarrier-DevOps/version-finder/internal/domain"
)

func newFindCmd(deps *Dependencies, opts *rootOptions) *cobra.Command {
	var input domain.FindInput

	findCmd := &cobra.Command{
		Use:   "find",
		Short: "Find the first version commit that includes a submodule commit",
		Long: `find locates the first super-repository commit on --branch whose pointer for
--submodule includes --commit, then the first version commit at or after it.

Without --submodule, --commit names a commit of the super-repository itself.
Nothing found is not an error: the command reports it and exits 0.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFind(cmd, deps, opts, input)
		},
	}

	findCmd.Flags().StringVarP(&input.Branch, "branch", "b", "", "Super-repository branch to search")
	findCmd.Flags().StringVarP(&input.Commit, "commit", "c", "", "Target commit hash or HEAD~N reference")
	findCmd.Flags().StringVarP(&input.Submodule, "submodule", "s", "", "Submodule path the commit belongs to")
	findCmd.Flags().BoolVar(&input.Stash, "stash", false, "Stash uncommitted changes during the search")
	_ = findCmd.MarkFlagRequired("branch")
	_ = findCmd.MarkFlagRequired("commit")

	return findCmd
}

func runFind(cmd *cobra.Command, deps *Dependencies, opts *rootOptions, input domain.FindInput) error {
	rt, err := setup(cmd, deps, opts)
	if err != nil {
		return err
	}

	resolver, err := rt.resolver()
	if err != nil {
		return err
	}

	result, err := resolver.Resolve(rt.ctx, input)
	if err != nil {
		rt.log.Error(rt.ctx, "failed to resolve version", err, map[string]any{
			"branch":    input.Branch,
			"submodule": input.Submodule,
			"commit":    input.Commit,
		})
		if errors.Is(err, domain.ErrUncommittedChanges) && !input.Stash {
			return fmt.Errorf("%w (re-run with --stash to shelve them)", err)
		}
		return err
	}

	if err := rt.writer.WriteFindOutput(result); err != nil {
		rt.log.Error(rt.ctx, "failed to write output", err, nil)
		return fmt.Errorf("output error: %w", err)
	}

	fields := map[string]any{"branch": input.Branch, "commit": input.Commit}
	if result.PointerCommit != nil {
		fields["pointer_commit"] = result.PointerCommit.Hash
	}
	if result.VersionCommit != nil {
		fields["version"] = result.VersionCommit.Version
	}
	rt.log.Info(rt.ctx, "version resolution complete", fields)

	return nil
}

func newBranchesCmd(deps *Dependencies, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "branches",
		Short: "List the branches known to the repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(cmd, deps, opts)
			if err != nil {
				return err
			}
			branches, err := rt.session.Branches()
			if err != nil {
				return err
			}
			return rt.writer.WriteNames(branches)
		},
	}
}

func newSubmodulesCmd(deps *Dependencies, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "submodules",
		Short: "List submodule paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(cmd, deps, opts)
			if err != nil {
				return err
			}
			submodules, err := rt.session.Submodules()
			if err != nil {
				return err
			}
			return rt.writer.WriteNames(submodules)
		},
	}
}

func newStatusCmd(deps *Dependencies, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report uncommitted changes in the repository and its submodules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(cmd, deps, opts)
			if err != nil {
				return err
			}
			status, err := rt.session.WorkingTreeStatus(rt.ctx)
			if err != nil {
				rt.log.Error(rt.ctx, "failed to read working tree status", err, nil)
				return err
			}
			return rt.writer.WriteStatus(status)
		},
	}
}

func newCommitsCmd(deps *Dependencies, opts *rootOptions) *cobra.Command {
	var branch, text string

	commitsCmd := &cobra.Command{
		Use:   "commits",
		Short: "Search commit messages on a branch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(cmd, deps, opts)
			if err != nil {
				return err
			}
			resolver, err := rt.resolver()
			if err != nil {
				return err
			}
			commits, err := resolver.FindCommitsByText(rt.ctx, branch, text)
			if err != nil {
				return err
			}
			return rt.writer.WriteCommits(commits)
		},
	}

	commitsCmd.Flags().StringVarP(&branch, "branch", "b", "", "Branch to search")
	commitsCmd.Flags().StringVarP(&text, "text", "t", "", "Case-insensitive text to look for")
	_ = commitsCmd.MarkFlagRequired("branch")
	_ = commitsCmd.MarkFlagRequired("text")

	return commitsCmd
}

func newVersionsCmd(deps *Dependencies, opts *rootOptions) *cobra.Command {
	var branch, version string

	versionsCmd := &cobra.Command{
		Use:   "versions",
		Short: "List version commits on a branch, or find the commit of one version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(cmd, deps, opts)
			if err != nil {
				return err
			}
			resolver, err := rt.resolver()
			if err != nil {
				return err
			}

			if version == "" {
				versions, err := resolver.ListVersions(rt.ctx, branch)
				if err != nil {
					return err
				}
				return rt.writer.WriteVersions(versions)
			}

			found, err := resolver.FindCommitByVersion(rt.ctx, branch, version)
			if errors.Is(err, domain.ErrCommitNotFound) {
				rt.log.Warn(rt.ctx, "version not found", map[string]any{"branch": branch, "version": version})
				return rt.writer.WriteVersions(nil)
			}
			if err != nil {
				return err
			}
			return rt.writer.WriteVersions([]domain.VersionCommit{*found})
		},
	}

	versionsCmd.Flags().StringVarP(&branch, "branch", "b", "", "Branch to search")
	versionsCmd.Flags().StringVar(&version, "version", "", "Only report the commit that released this version")
	_ = versionsCmd.MarkFlagRequired("branch")

	return versionsCmd
}
