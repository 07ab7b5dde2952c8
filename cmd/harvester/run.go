package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/paper-harvester/internal/config"
	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/events"
	"github.com/helixir/paper-harvester/internal/observability"
	"github.com/helixir/paper-harvester/internal/pipeline"
	"github.com/helixir/paper-harvester/internal/repository"
	httpserver "github.com/helixir/paper-harvester/internal/server/http"
	"github.com/helixir/paper-harvester/internal/store"
)

type runOptions struct {
	providers  []string
	rediscover bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Discover and enrich papers for every configured provider",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configFile)
			if err != nil {
				return err
			}
			logger := observability.NewLogger(cfg.Logging)
			return runHarvest(cmd.Context(), cfg, opts, logger, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringSliceVar(&opts.providers, "provider", nil, "run only these providers (acm, scidir, ieee)")
	cmd.Flags().BoolVar(&opts.rediscover, "rediscover", false, "walk result pages again when resuming an unfinished run")
	return cmd
}

func runHarvest(ctx context.Context, cfg *config.Config, opts runOptions, logger zerolog.Logger, out io.Writer) error {
	jobs, err := buildJobs(cfg, opts)
	if err != nil {
		return err
	}

	tracker := observability.NewProgressTracker()
	reporter := observability.MultiReporter{observability.NewLogReporter(logger), tracker}

	if cfg.Kafka.Enabled {
		publisher := events.NewPublisher(events.NewWriter(events.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		}), cfg.Kafka.BufferSize, logger)
		reporter = append(reporter, publisher)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Warn().Err(err).Msg("closing event publisher failed")
			}
		}()
	}

	var sink pipeline.ArtifactSink
	var dbHealth httpserver.DatabaseHealth
	if cfg.Database.Enabled {
		db, err := openDatabase(ctx, &cfg.Database, cfg.Database.MigrateOnStart, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		sink = repository.NewSink(db, logger)
		dbHealth = db
	}

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics("harvester")
		srv := httpserver.NewServer(httpserver.Config{
			Address:     cfg.Metrics.Address,
			MetricsPath: cfg.Metrics.Path,
			Database:    dbHealth,
		}, tracker, logger)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		defer func() {
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn().Err(err).Msg("metrics server shutdown failed")
			}
		}()
	}

	runner := pipeline.New(pipeline.Deps{
		Open:     pipeline.OpenWith(cfg.TransportConfig()),
		Reporter: reporter,
		Metrics:  metrics,
		Sink:     sink,
		Logger:   logger,
	})

	names := make([]string, 0, len(jobs))
	for _, job := range jobs {
		names = append(names, job.Name)
	}
	logger.Info().Strs("providers", names).Msg("harvest starting")

	summaries, err := runner.RunAll(ctx, jobs)
	printSummaries(out, summaries)
	return err
}

// buildJobs turns the provider sections into pipeline jobs, keeping only
// the providers named in opts when any are.
func buildJobs(cfg *config.Config, opts runOptions) ([]pipeline.ProviderRun, error) {
	for _, name := range opts.providers {
		if !slices.Contains(config.ProviderNames, name) {
			return nil, domain.NewConfigurationError("provider", fmt.Sprintf("unknown provider %q", name), config.ProviderNames...)
		}
	}

	var jobs []pipeline.ProviderRun
	for _, p := range cfg.Providers() {
		if len(opts.providers) > 0 && !slices.Contains(opts.providers, p.Name) {
			continue
		}
		jobs = append(jobs, pipeline.ProviderRun{
			Name:  p.Name,
			Query: cfg.Query(p),
			Paths: store.Paths{
				Links:     p.LinkFileSaveTo,
				Abstracts: p.AbsFileSaveTo,
			},
			UseBatches:   p.UseBatches,
			BatchSize:    p.BatchSize,
			KeepLinkFile: p.KeepLinkFile,
			Rediscover:   opts.rediscover,
			Policy:       cfg.PacingOverride(),
		})
	}
	if len(jobs) == 0 {
		return nil, domain.NewConfigurationError("provider", "no configured provider selected", opts.providers...)
	}
	return jobs, nil
}

func printSummaries(out io.Writer, summaries []*domain.RunSummary) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tRESUMED\tDISCOVERED\tPAGES\tFAILED PAGES\tENRICHED\tFAILED ITEMS\tBATCHES\tDURATION")
	for _, s := range summaries {
		if s == nil {
			continue
		}
		fmt.Fprintf(tw, "%s\t%t\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			s.Provider, s.Resumed, s.Discovered, s.PagesFetched, len(s.FailedPages),
			s.Enriched, len(s.FailedItems), s.Batches, s.Duration.Round(time.Millisecond))
	}
	_ = tw.Flush()
}
