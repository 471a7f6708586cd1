package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/deltaview/internal/config"
	"github.com/roach88/deltaview/internal/engine"
	"github.com/roach88/deltaview/internal/journal"
	"github.com/roach88/deltaview/internal/metrics"
	"github.com/roach88/deltaview/internal/model"
	"github.com/roach88/deltaview/internal/projection"
	"github.com/roach88/deltaview/internal/store"
	"github.com/roach88/deltaview/internal/subscription"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Source        string
	URL           string
	SubjectPrefix string
	Token         string
	View          string
	Task          string
	Flat          bool
	FilterID      string
	States        []string
	Sort          string
	Journal       string
	MetricsAddr   string

	// NewSource overrides the transport (for testing).
	// If nil, the source is built from the configuration.
	NewSource func(cfg config.Config) subscription.Source
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return newWatchCommand(&WatchOptions{RootOptions: rootOpts})
}

func newWatchCommand(opts *WatchOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [workflow...]",
		Short: "Subscribe to deltas and render the live view",
		Long: `Subscribe to the delta stream of one or more workflows (all workflows
when none are given) and re-render the chosen view after every change: the task tree, the task
table, a workflows summary, or the detail of one task.

Values from --config are overridden by flags given on the command line.
The subscription is not retried: when the stream ends, the last view
stays on screen and the command exits.

Exit codes:
  0 - Interrupted by the user
  2 - Command error (invalid config, stream ended or failed)

Examples:
  deltaview watch ~alice/flow
  deltaview watch --view table --sort cycle,-startedTime ~alice/flow
  deltaview watch --view workflows
  deltaview watch --view info --task '~alice/flow//1/foo'
  deltaview watch --source nats --url nats://127.0.0.1:4222
  deltaview watch --journal deltas.db --metrics-addr :9090 ~alice/flow`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, args, cmd)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Source, "source", config.SourceGraphQL, "delta transport (graphql|nats)")
	f.StringVar(&opts.URL, "url", config.DefaultURL, "subscription endpoint")
	f.StringVar(&opts.SubjectPrefix, "subject-prefix", subscription.DefaultSubjectPrefix, "NATS subject prefix")
	f.StringVar(&opts.Token, "token", "", "auth token sent with connection_init")
	f.StringVar(&opts.View, "view", "tree", "view to render (tree|table|workflows|info)")
	f.StringVar(&opts.Task, "task", "", "task id shown by the info view")
	f.BoolVar(&opts.Flat, "flat", false, "collapse families in the tree view")
	f.StringVar(&opts.FilterID, "filter", "", "show nodes whose name contains this text")
	f.StringSliceVar(&opts.States, "state", nil, "show tasks in these states")
	f.StringVar(&opts.Sort, "sort", "cycle", "table sort columns, '-' prefix for descending")
	f.StringVar(&opts.Journal, "journal", "", "append received deltas to this SQLite journal")
	f.StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

// resolveConfig loads --config (or the defaults) and applies the flags
// that were set explicitly.
func resolveConfig(opts *WatchOptions, args []string, cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
		if !cmd.Flags().Changed("log-format") {
			configureLogging(cmd.ErrOrStderr(), cfg.LogFormat, opts.Verbose)
		}
	}

	f := cmd.Flags()
	if f.Changed("source") {
		cfg.Source.Kind = opts.Source
		if cfg.Source.Kind == config.SourceNATS && !f.Changed("url") && cfg.Source.URL == config.DefaultURL {
			cfg.Source.URL = nats.DefaultURL
		}
	}
	if f.Changed("url") {
		cfg.Source.URL = opts.URL
	}
	if f.Changed("subject-prefix") {
		cfg.Source.SubjectPrefix = opts.SubjectPrefix
	}
	if f.Changed("token") {
		cfg.Source.Token = opts.Token
	}
	if len(args) > 0 {
		cfg.Workflows = args
	}
	if f.Changed("view") {
		cfg.View = opts.View
	}
	if f.Changed("task") {
		cfg.Task = opts.Task
	}
	if f.Changed("flat") {
		cfg.Flat = opts.Flat
	}
	if f.Changed("filter") {
		cfg.Filter.ID = opts.FilterID
	}
	if f.Changed("state") {
		cfg.Filter.States = opts.States
	}
	if f.Changed("sort") {
		cfg.Sort = opts.Sort
	}
	if f.Changed("journal") {
		cfg.Journal = opts.Journal
	}
	if f.Changed("metrics-addr") {
		cfg.MetricsAddr = opts.MetricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	if cfg.View == "info" && len(cfg.Workflows) == 0 {
		cfg.Workflows = []string{model.WorkflowOf(cfg.Task)}
	}
	return cfg, nil
}

// sourceFor builds the transport named by cfg.
func sourceFor(cfg config.Config) subscription.Source {
	if cfg.Source.Kind == config.SourceNATS {
		var nopts []subscription.NATSOption
		if cfg.Source.SubjectPrefix != "" {
			nopts = append(nopts, subscription.WithSubjectPrefix(cfg.Source.SubjectPrefix))
		}
		return subscription.NewNATSSource(cfg.Source.URL, nopts...)
	}

	copts := []subscription.ClientOption{subscription.WithQuery(subscription.QueryFor(cfg.View))}
	if cfg.Source.Token != "" {
		copts = append(copts,
			subscription.WithInitPayload(map[string]any{"token": cfg.Source.Token}),
			subscription.WithHeader(http.Header{"Authorization": []string{"token " + cfg.Source.Token}}),
		)
	}
	return subscription.NewGraphQLClient(cfg.Source.URL, copts...)
}

func runWatch(opts *WatchOptions, args []string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)

	cfg, err := resolveConfig(opts, args, cmd)
	if err != nil {
		return out.reportError(ErrCodeConfig, WrapExitError(ExitCommandError, "invalid configuration", err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	st := store.New()
	engOpts := []engine.EngineOption{
		engine.WithMetrics(m),
		engine.WithSource(cfg.Source.Kind, cfg.Workflows),
	}
	if cfg.Journal != "" {
		j, err := journal.Open(cfg.Journal)
		if err != nil {
			return out.reportError(ErrCodeJournal, WrapExitError(ExitCommandError, "failed to open journal", err))
		}
		defer func() {
			if closeErr := j.Close(); closeErr != nil {
				slog.Error("error closing journal", "error", closeErr)
			}
		}()
		engOpts = append(engOpts, engine.WithJournal(j))
	}
	eng := engine.New(st, engOpts...)
	defer eng.Close()

	var popts []projection.Option
	if cfg.Flat {
		popts = append(popts, projection.WithFlat())
	}
	p := projection.New(st, popts...)

	src := sourceFor(cfg)
	if opts.NewSource != nil {
		src = opts.NewSource(cfg)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stopSignals := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	updates, cancelUpdates := st.Watch()
	defer cancelUpdates()

	g, gctx := errgroup.WithContext(ctx)
	renderCtx, stopRender := context.WithCancel(gctx)
	defer stopRender()

	g.Go(func() error {
		defer stopRender()
		return eng.Run(gctx)
	})
	var streamErr error
	g.Go(func() error {
		streamErr = src.Run(gctx, cfg.Workflows, eng)
		eng.Stop()
		return nil
	})
	g.Go(func() error {
		for {
			select {
			case <-renderCtx.Done():
				return nil
			case _, ok := <-updates:
				if !ok {
					return nil
				}
				if err := writeView(out, st, p, cfg); err != nil {
					return err
				}
			}
		}
	})
	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("serving metrics", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-renderCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	runErr := g.Wait()

	// The last known state stays rendered whatever ended the stream.
	if err := writeView(out, st, p, cfg); err != nil {
		return err
	}
	stats := eng.Stats()
	slog.Info("watch stopped",
		"applied", stats.Applied,
		"ignored", stats.Ignored,
		"journal_errors", stats.JournalErrors,
	)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return out.reportError(ErrCodeStream, WrapExitError(ExitCommandError, "watch failed", runErr))
	}
	switch {
	case streamErr == nil, errors.Is(streamErr, context.Canceled) && ctx.Err() != nil:
		return nil
	default:
		return out.reportError(ErrCodeStream, WrapExitError(ExitCommandError, "subscription ended", streamErr))
	}
}

func writeView(out *OutputFormatter, st *store.Store, p *projection.Projector, cfg config.Config) error {
	v, err := buildView(st, p, cfg)
	if err != nil {
		return err
	}
	return out.Success(v, v.Text())
}
