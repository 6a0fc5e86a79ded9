// Package main is the entry point for the version-finder CLI application.
// version-finder reports the first release of a super-repository whose
// submodule pointer includes a given submodule commit.
package main

import (
	"io"
	"os"
	"sync"

	"github.com/MyCarrier-DevOps/goLibMyCarrier/logger"

	"github.com/MyCarrier-DevOps/version-finder/cmd"
	"github.com/MyCarrier-DevOps/version-finder/internal/adapters/git"
	logadapter "github.com/MyCarrier-DevOps/version-finder/internal/adapters/logger"
	"github.com/MyCarrier-DevOps/version-finder/internal/adapters/output"
	"github.com/MyCarrier-DevOps/version-finder/internal/domain"
	"github.com/MyCarrier-DevOps/version-finder/internal/infrastructure/config"
	"github.com/MyCarrier-DevOps/version-finder/internal/usecases"
)

func main() {
	// The zap logger reads LOG_LEVEL when it is built, so it is created on
	// first use, after --verbose has been applied.
	newAdapter := sync.OnceValue(func() *logadapter.ZapAdapter {
		return logadapter.NewZapAdapter(logger.NewZapLoggerFromConfig())
	})

	// Wire up production dependencies
	deps := &cmd.Dependencies{
		LoggerFactory: func() cmd.Logger {
			return newAdapter()
		},

		ConfigLoader: func() (*cmd.AppConfig, error) {
			cfg, err := config.Load()
			if err != nil {
				return nil, err
			}
			return &cmd.AppConfig{
				SearchPattern: cfg.SearchPattern,
				GitRunner: git.RunnerConfig{
					Timeout:    cfg.GitTimeout,
					MaxRetries: cfg.GitMaxRetries,
					RetryDelay: cfg.GitRetryDelay,
				},
				Pull:        cfg.Pull,
				FetchOnInit: cfg.FetchOnInit,
				LogLevel:    cfg.LogLevel,
				LogAppName:  cfg.LogAppName,
			}, nil
		},

		SessionFactory: func(path string, cfg *cmd.AppConfig, _ cmd.Logger) (domain.RepositorySession, error) {
			runnerCfg, ok := cfg.GitRunner.(git.RunnerConfig)
			if !ok {
				return nil, newConfigTypeError("git.RunnerConfig")
			}

			log := newAdapter().With(map[string]any{"repository": path})
			factory := git.Factory(runnerCfg, log.Component("git"))
			return usecases.NewSession(path, factory, log.Component("session"), usecases.SessionOptions{
				SearchPattern: cfg.SearchPattern,
				Pull:          cfg.Pull,
				FetchOnInit:   cfg.FetchOnInit,
			})
		},

		ResolverFactory: func(session domain.RepositorySession, _ cmd.Logger) (domain.Resolver, error) {
			s, ok := session.(*usecases.Session)
			if !ok {
				return nil, newConfigTypeError("*usecases.Session")
			}
			return usecases.NewVersionResolver(s, newAdapter().Component("resolver")), nil
		},

		OutputWriterFactory: func(name string, out io.Writer) (domain.OutputWriter, error) {
			format, err := output.ParseFormat(name)
			if err != nil {
				return nil, err
			}
			return output.NewWriterWithOutput(out, format), nil
		},

		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}

	cmd.SetDefaultDependencies(deps)
	cmd.Execute()
}

func newConfigTypeError(expected string) error {
	return &configTypeError{expected: expected}
}

// configTypeError is returned when configuration type assertion fails.
type configTypeError struct {
	expected string
}

func (e *configTypeError) Error() string {
	return "invalid configuration type: expected " + e.expected
}
