// Package cmd provides the CLI commands for version-finder.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/MyCarrier-DevOps/version-finder/internal/domain"
)

// Logger defines the logging interface used by the commands.
type Logger interface {
	Info(ctx context.Context, msg string, fields map[string]any)
	Debug(ctx context.Context, msg string, fields map[string]any)
	Warn(ctx context.Context, msg string, fields map[string]any)
	Error(ctx context.Context, msg string, err error, fields map[string]any)
}

// Dependencies holds all injectable dependencies for the commands.
// This enables testing by allowing mock implementations to be injected.
type Dependencies struct {
	// LoggerFactory creates a logger instance.
	LoggerFactory func() Logger

	// ConfigLoader loads application configuration.
	ConfigLoader func() (*AppConfig, error)

	// SessionFactory opens a repository session for the given path.
	// The returned session is not yet initialized.
	SessionFactory func(path string, cfg *AppConfig, log Logger) (domain.RepositorySession, error)

	// ResolverFactory creates a Resolver bound to an initialized session.
	ResolverFactory func(session domain.RepositorySession, log Logger) (domain.Resolver, error)

	// OutputWriterFactory creates an OutputWriter for the named format that
	// writes to out.
	OutputWriterFactory func(format string, out io.Writer) (domain.OutputWriter, error)

	// Stdout receives results. It defaults to os.Stdout.
	Stdout io.Writer

	// Stderr is the writer for warnings and errors.
	Stderr io.Writer
}

// AppConfig holds application configuration loaded by ConfigLoader.
type AppConfig struct {
	// SearchPattern is the delimited regex literal for version commits.
	SearchPattern string

	// GitRunner is passed to the SessionFactory.
	GitRunner any

	// Pull fast-forwards the searched branch from its remote.
	Pull bool

	// FetchOnInit fetches remotes when the session is initialized.
	FetchOnInit bool

	// LogLevel is the log level setting.
	LogLevel string

	// LogAppName is the application name for logging.
	LogAppName string
}

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	path    string
	verbose bool
	output  string
	json    bool
	pattern string
}

func (o *rootOptions) format() string {
	if o.json {
		return "json"
	}
	return o.output
}

// defaultDeps holds the production dependencies.
// This is set by the production wiring in main or via SetDefaultDependencies.
var defaultDeps *Dependencies

// SetDefaultDependencies sets the default dependencies for production use.
// This should be called from main() before Execute().
func SetDefaultDependencies(deps *Dependencies) {
	defaultDeps = deps
}

// NewRootCmd creates the root command for version-finder.
func NewRootCmd() *cobra.Command {
	return NewRootCmdWithDeps(defaultDeps)
}

// NewRootCmdWithDeps creates the root command with explicit dependencies.
// This is the primary constructor that enables testing via dependency injection.
func NewRootCmdWithDeps(deps *Dependencies) *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "version-finder",
		Short: "Find the first release of a super-repository that includes a submodule commit",
		Long: `version-finder answers "which release contains this commit?" for repositories
that pin their dependencies as git submodules.

It binary-searches the super-repository history of a branch for the first commit
whose submodule pointer includes the target commit, then scans forward for the
first commit whose message carries a version string such as "Version: 1.2.3".

The working tree is snapshotted before any checkout and restored afterwards,
including on failure. Uncommitted changes are refused unless --stash is given.

Examples:
  # Which release first shipped commit abc123 of libs/core?
  version-finder find --branch main --submodule libs/core --commit abc123

  # Shelve local edits for the duration of the search
  version-finder find -b main -s libs/core -c HEAD~3 --stash

  # List release commits on develop as YAML
  version-finder versions --branch develop --output yaml`,
		SilenceUsage: true,
	}

	if deps != nil && deps.Stderr != nil {
		rootCmd.SetErr(deps.Stderr)
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.path, "path", "p", ".", "Path to the super-repository")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose/debug logging")
	flags.StringVarP(&opts.output, "output", "o", "text", "Output format: text, json or yaml")
	flags.BoolVar(&opts.json, "json", false, "Shorthand for --output json")
	flags.StringVar(&opts.pattern, "pattern", "",
		`Version search pattern as a delimited regex, e.g. "/Version: (\d+\.\d+\.\d+)/"`)

	rootCmd.AddCommand(
		newFindCmd(deps, opts),
		newBranchesCmd(deps, opts),
		newSubmodulesCmd(deps, opts),
		newStatusCmd(deps, opts),
		newCommitsCmd(deps, opts),
		newVersionsCmd(deps, opts),
	)

	return rootCmd
}

// runtime is the per-invocation wiring shared by every subcommand.
type runtime struct {
	ctx     context.Context
	log     Logger
	session domain.RepositorySession
	writer  domain.OutputWriter
	deps    *Dependencies
}

// setup loads configuration, opens and initializes the session and creates the writer.
func setup(cmd *cobra.Command, deps *Dependencies, opts *rootOptions) (*runtime, error) {
	if deps == nil {
		return nil, errors.New("dependencies not configured")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	stdout := deps.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := deps.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	// Set log level based on verbose flag (best-effort)
	if opts.verbose {
		if err := os.Setenv("LOG_LEVEL", "debug"); err != nil {
			writeWarningf(stderr, "warning: could not set log level: %v\n", err)
		}
	}

	log := deps.LoggerFactory()

	log.Info(ctx, "starting version-finder", map[string]any{
		"command": cmd.Name(),
		"path":    opts.path,
		"verbose": opts.verbose,
	})

	cfg, err := deps.ConfigLoader()
	if err != nil {
		log.Error(ctx, "failed to load configuration", err, nil)
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	writer, err := deps.OutputWriterFactory(opts.format(), stdout)
	if err != nil {
		return nil, fmt.Errorf("output error: %w", err)
	}

	session, err := deps.SessionFactory(opts.path, cfg, log)
	if err != nil {
		log.Error(ctx, "failed to open repository", err, map[string]any{"path": opts.path})
		return nil, describeSessionError(err, opts.path)
	}

	if opts.pattern != "" {
		if err := session.SetSearchPattern(opts.pattern); err != nil {
			return nil, fmt.Errorf("invalid --pattern: %w", err)
		}
	}

	if err := session.Initialize(ctx); err != nil {
		return nil, describeSessionError(err, opts.path)
	}

	return &runtime{ctx: ctx, log: log, session: session, writer: writer, deps: deps}, nil
}

func (r *runtime) resolver() (domain.Resolver, error) {
	resolver, err := r.deps.ResolverFactory(r.session, r.log)
	if err != nil {
		r.log.Error(r.ctx, "failed to create resolver", err, nil)
		return nil, err
	}
	return resolver, nil
}

func describeSessionError(err error, path string) error {
	switch {
	case errors.Is(err, domain.ErrPathNotFound):
		return fmt.Errorf("repository path does not exist: %s", path)
	case errors.Is(err, domain.ErrNotARepository):
		return fmt.Errorf("not a git repository: %s", path)
	default:
		return err
	}
}

// Execute runs the root command.
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// writeWarningf writes a warning message to the given writer.
// This is a best-effort operation; errors are intentionally ignored
// because there is no recovery action if stderr writes fail.
func writeWarningf(w io.Writer, format string, args ...any) {
	_, err := fmt.Fprintf(w, format, args...)
	if err != nil {
		return
	}
}
