package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/mot-ingest/internal/app/ingestion"
	"github.com/ahrav/mot-ingest/internal/config"
	"github.com/ahrav/mot-ingest/internal/domain/mot"
	progressreporter "github.com/ahrav/mot-ingest/internal/infra/progress_reporter"
	"github.com/ahrav/mot-ingest/internal/infra/motapi"
	"github.com/ahrav/mot-ingest/internal/infra/storage/mot/postgres"
	"github.com/ahrav/mot-ingest/internal/infra/storage/mot/sqlite"
	"github.com/ahrav/mot-ingest/pkg/common"
	"github.com/ahrav/mot-ingest/pkg/common/logger"
	"github.com/ahrav/mot-ingest/pkg/common/otel"
	"github.com/ahrav/mot-ingest/pkg/common/timeutil"
)

const shutdownTimeout = 5 * time.Second

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "motingest",
		Short:         "Ingest MOT test history from the DVSA trade API into a relational store",
		Version:       build,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newCreateSchemaCommand(),
		newIngestAllCommand(),
		newIngestDateCommand(),
	)
	return root
}

func newCreateSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create-schema",
		Short: "Create the motdata table and its lookup index if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd, false)
			if err != nil {
				return err
			}
			defer a.close()

			return a.createSchema(cmd.Context())
		},
	}
}

func newIngestAllCommand() *cobra.Command {
	var startPage int

	cmd := &cobra.Command{
		Use:   "ingest-all",
		Short: "Page through every MOT test until the data runs out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd, true)
			if err != nil {
				return err
			}
			defer a.close()

			return a.ingest(cmd.Context(), ingestion.UnboundedRun(startPage, a.cfg.PageDelay))
		},
	}
	cmd.Flags().IntVar(&startPage, "start-page", 0, "resume from this page")

	return cmd
}

func newIngestDateCommand() *cobra.Command {
	var (
		date     string
		maxPages int
	)

	cmd := &cobra.Command{
		Use:   "ingest-date",
		Short: "Ingest the MOT tests completed on a single day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			day, err := mot.ParseCompactDate(date)
			if err != nil {
				return &mot.ConfigurationError{Field: "date", Err: err}
			}

			a, err := setup(cmd, true)
			if err != nil {
				return err
			}
			defer a.close()

			rc := ingestion.DateRun(day, a.cfg.PageDelay)
			if maxPages > 0 {
				rc.MaxPages = maxPages
			}
			return a.ingest(cmd.Context(), rc)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to ingest as YYYYMMDD")
	cmd.Flags().IntVar(&maxPages, "max-pages", ingestion.DefaultMaxDatePages, "pages to request for the day")
	_ = cmd.MarkFlagRequired("date")

	return cmd
}

// app carries everything a command needs once configuration is resolved.
type app struct {
	cfg           *config.Config
	log           *logger.Logger
	tracer        trace.Tracer
	meterProvider metric.MeterProvider
	teardown      func(ctx context.Context)
}

func setup(cmd *cobra.Command, ingest bool) (*app, error) {
	loader, err := config.NewViperLoader(cmd.Flags())
	if err != nil {
		return nil, err
	}
	cfg, err := loader.Load(cmd.Context())
	if err != nil {
		return nil, err
	}

	validate := cfg.Validate
	if ingest {
		validate = cfg.ValidateIngest
	}
	if err := validate(); err != nil {
		return nil, err
	}

	log := newLogger(logger.ParseLevel(cfg.LogLevel))
	ctx := cmd.Context()

	// -------------------------------------------------------------------------
	// GOMAXPROCS
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0), "command", cmd.Name())

	// -------------------------------------------------------------------------
	// Start Tracing Support
	a := &app{cfg: cfg, log: log, teardown: func(context.Context) {}}
	if cfg.Otel.Endpoint == "" {
		a.tracer = noop.NewTracerProvider().Tracer(serviceName)
		a.meterProvider = otel.NewMeterProvider(serviceName)
		return a, nil
	}

	log.Info(ctx, "startup", "status", "initializing tracing support", "endpoint", cfg.Otel.Endpoint)
	tp, mp, teardown, err := otel.InitTelemetry(log, cfg.TelemetryConfig(serviceName))
	if err != nil {
		return nil, fmt.Errorf("starting telemetry: %w", err)
	}
	a.tracer = tp.Tracer(serviceName)
	a.meterProvider = mp
	a.teardown = teardown

	return a, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.teardown(ctx)
}

func (a *app) openStore(ctx context.Context) (mot.Store, error) {
	switch a.cfg.Store.Driver {
	case config.StoreDriverPostgres:
		poolCfg, err := pgxpool.ParseConfig(a.cfg.Store.DSN)
		if err != nil {
			return nil, &mot.ConfigurationError{Field: "store.dsn", Err: err}
		}
		poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("creating db pool: %w", err)
		}
		return postgres.NewStore(pool, a.tracer), nil
	default:
		store, err := sqlite.Open(a.cfg.Store.Path, a.tracer)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

func (a *app) createSchema(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		a.log.Error(ctx, "failed to open store", "error", err)
		return err
	}
	defer store.Close()

	if err := store.CreateSchema(ctx); err != nil {
		a.log.Error(ctx, "failed to create schema", "error", err)
		return err
	}
	a.log.Info(ctx, "successful creation of the motdata table", "driver", string(a.cfg.Store.Driver))
	return nil
}

func (a *app) ingest(ctx context.Context, rc ingestion.RunConfig) error {
	store, err := a.openStore(ctx)
	if err != nil {
		a.log.Error(ctx, "failed to open store", "error", err)
		return err
	}
	defer store.Close()

	if err := store.CreateSchema(ctx); err != nil {
		a.log.Error(ctx, "failed to ensure schema", "error", err)
		return err
	}

	client, err := motapi.NewClient(a.cfg.ClientConfig(), nil, a.tracer)
	if err != nil {
		return err
	}

	otelMetrics, err := ingestion.NewIngestionMetrics(a.meterProvider)
	if err != nil {
		return fmt.Errorf("creating ingestion metrics: %w", err)
	}
	metrics := ingestion.Metrics(otelMetrics)
	if a.cfg.MetricsAddr != "" {
		promMetrics, err := ingestion.NewPrometheusMetrics(prometheus.DefaultRegisterer)
		if err != nil {
			return fmt.Errorf("registering prometheus metrics: %w", err)
		}
		metrics = ingestion.TeeMetrics(otelMetrics, promMetrics)
	}

	orch := ingestion.NewOrchestrator(
		client,
		store,
		ingestion.NewRetryGovernor(a.cfg.RetryPolicy()),
		progressreporter.New(a.log),
		timeutil.Default(),
		a.log,
		metrics,
		a.tracer,
	)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stopRun := context.WithCancel(gctx)
	defer stopRun()

	if addr := a.cfg.MetricsAddr; addr != "" {
		srv := common.NewMetricsServer(addr, build)
		g.Go(func() error {
			a.log.Info(ctx, "startup", "status", "metrics server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-runCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer stopRun()

		_, err := orch.Run(runCtx, rc)
		if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
			a.log.Info(ctx, "shutdown", "status", "ingestion interrupted by signal")
			return nil
		}
		return err
	})

	return g.Wait()
}
