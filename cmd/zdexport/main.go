// Package main provides the zdexport command line tool.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zdtools/zdexport/pkg/cache"
	"github.com/zdtools/zdexport/pkg/client"
	"github.com/zdtools/zdexport/pkg/config"
	"github.com/zdtools/zdexport/pkg/logging"
	"github.com/zdtools/zdexport/pkg/metrics"
	"github.com/zdtools/zdexport/pkg/ratelimit"
)

// Exit codes
const (
	ExitSuccess         = 0
	ExitValidationError = 1
	ExitPartialFailure  = 2
	ExitRuntimeError    = 3
)

// Build information (set via ldflags during build)
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// exitError carries the process exit code for a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func validationError(err error) error { return &exitError{code: ExitValidationError, err: err} }
func partialError(err error) error    { return &exitError{code: ExitPartialFailure, err: err} }

// app holds the state shared by every command of one invocation.
type app struct {
	configPath  string
	envFile     string
	logLevel    string
	pretty      bool
	metricsFile string

	stdout io.Writer
	stderr io.Writer

	runID  string
	cfg    *config.Config
	logger zerolog.Logger
	redis  *redis.Client
	now    func() time.Time
}

// execute runs the CLI with args and returns the exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr, now: time.Now}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	a.close()

	if a.metricsFile != "" {
		if merr := metrics.WriteTextfile(a.metricsFile); merr != nil {
			a.logger.Error().Err(merr).Str("path", a.metricsFile).Msg("Failed to write metrics file")
		}
	}

	if err == nil {
		return ExitSuccess
	}
	fmt.Fprintln(stderr, "Error:", err)

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if a.cfg == nil {
		// Usage errors are reported before the configuration is loaded.
		return ExitValidationError
	}
	return ExitRuntimeError
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "zdexport",
		Short: "zdexport - Helpdesk data export and bulk maintenance",
		Long: `zdexport pulls paginated collections (tickets, organizations, triggers,
automations, tags, users, ...) from a Zendesk-style helpdesk API and writes
them to CSV, JSON or XLSX. It also runs one-shot bulk mutations.

Credentials come from ZENDESK_SUBDOMAIN, ZENDESK_EMAIL and ZENDESK_API_TOKEN,
read from the environment or the --env-file.

Exit codes:
  0 - Success
  1 - Configuration or input errors
  2 - Partial failure (failed pages or mutations)
  3 - Runtime errors

Examples:
  # Export open tickets to CSV
  zdexport export tickets --filter 'status == "open"'

  # Export automations to XLSX
  zdexport export automations --format xlsx

  # Run every export configured in a file
  zdexport run --config zdexport.yaml`,
		Version:       fmt.Sprintf("%s (commit %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.BoolVar(&a.pretty, "pretty", false, "human-readable console logs")
	flags.StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")

	root.AddCommand(
		newExportCmd(a),
		newRunCmd(a),
		newCountCmd(a),
		newResourcesCmd(a),
		newTagsCmd(a),
		newTicketsCmd(a),
		newTriggersCmd(a),
		newAutomationsCmd(a),
		newCacheCmd(a),
	)
	return root
}

// setup loads the configuration and sets up logging.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath, a.envFile)
	if err != nil {
		return validationError(err)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if cmd.Flags().Changed("pretty") {
		cfg.Logging.Pretty = a.pretty
	}
	if err := cfg.Validate(); err != nil {
		return validationError(err)
	}

	logCfg := cfg.LoggerConfig()
	logCfg.Output = a.stderr
	a.runID = uuid.NewString()
	a.logger = logging.Setup(logCfg).With().Str("run_id", a.runID).Logger()
	a.cfg = cfg

	a.logger.Debug().
		Str("command", cmd.CommandPath()).
		Str("config", a.configPath).
		Msg("Configuration loaded")
	return nil
}

// newClient builds the helpdesk client, sharing quota state and the page
// cache through Redis when it is configured.
func (a *app) newClient(ctx context.Context) (*client.Client, error) {
	if err := a.cfg.ValidateCredentials(); err != nil {
		return nil, validationError(err)
	}

	cc := a.cfg.ClientConfig()
	logger := logging.Component(a.logger, "client")
	cc.Logger = &logger

	rdb, err := a.connectRedis(ctx)
	if err != nil {
		return nil, err
	}

	store := ratelimit.Store(ratelimit.NewMemoryStore())
	if rdb != nil {
		store = ratelimit.NewRedisStore(rdb, a.cfg.Helpdesk.Account())
		if a.cfg.Redis.CacheEnabled {
			cc.Cache = cache.NewManager(rdb, a.cfg.Redis.CacheTTL)
		}
	}
	cc.Tracker = ratelimit.NewTracker(store, logging.Component(a.logger, "ratelimit"))

	c, err := client.New(cc)
	if err != nil {
		return nil, validationError(err)
	}
	return c, nil
}

// connectRedis opens the configured Redis connection. It returns nil when
// no Redis URL is set.
func (a *app) connectRedis(ctx context.Context) (*redis.Client, error) {
	opts, err := a.cfg.RedisOptions()
	if err != nil {
		return nil, validationError(fmt.Errorf("invalid redis url: %w", err))
	}
	if opts == nil {
		return nil, nil
	}

	a.redis = redis.NewClient(opts)
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.logger.Info().
		Str("addr", opts.Addr).
		Bool("cache", a.cfg.Redis.CacheEnabled).
		Msg("Connected to Redis")
	return a.redis, nil
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close redis client")
		}
		a.redis = nil
	}
}
