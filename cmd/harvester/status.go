package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/helixir/paper-harvester/internal/config"
	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/observability"
	"github.com/helixir/paper-harvester/internal/repository"
)

// paperReader reads the artifact mirror.
type paperReader interface {
	List(ctx context.Context, filter repository.PaperFilter) ([]domain.EnrichedItem, int64, error)
	CountByStatus(ctx context.Context, provider string) (map[domain.EnrichmentStatus]int, error)
}

type statusOptions struct {
	providers []string
	status    string
	list      bool
	limit     int
	offset    int
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	opts := statusOptions{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the papers mirrored into PostgreSQL, per provider and status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			cfg, err := config.Load(root.configFile)
			if err != nil {
				return err
			}
			if !cfg.Database.Enabled {
				return domain.NewConfigurationError("database.enabled", "status reads the postgres mirror, which is disabled")
			}
			logger := observability.NewLogger(cfg.Logging).With().Str("component", "status").Logger()

			ctx, cancel := context.WithTimeout(cmd.Context(), connectTimeout)
			defer cancel()

			db, err := openDatabase(ctx, &cfg.Database, false, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			return printStatus(ctx, repository.NewPgPaperRepository(db), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.providers, "provider", nil, "only these providers (acm, scidir, ieee)")
	cmd.Flags().StringVar(&opts.status, "status", "", "list only papers with this status (pending, done, failed)")
	cmd.Flags().BoolVar(&opts.list, "list", false, "list the papers after the counts")
	cmd.Flags().IntVar(&opts.limit, "limit", 100, "papers listed per provider")
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "papers skipped per provider")
	return cmd
}

func (o statusOptions) validate() error {
	for _, name := range o.providers {
		if !slices.Contains(config.ProviderNames, name) {
			return domain.NewConfigurationError("provider", fmt.Sprintf("unknown provider %q", name), config.ProviderNames...)
		}
	}
	switch domain.EnrichmentStatus(o.status) {
	case "", domain.StatusPending, domain.StatusDone, domain.StatusFailed:
		return nil
	default:
		return domain.NewConfigurationError("status", fmt.Sprintf("unknown status %q", o.status),
			string(domain.StatusPending), string(domain.StatusDone), string(domain.StatusFailed))
	}
}

// printStatus writes the status counts of every selected provider and,
// with opts.list, the matching papers.
func printStatus(ctx context.Context, repo paperReader, out io.Writer, opts statusOptions) error {
	providers := opts.providers
	if len(providers) == 0 {
		providers = config.ProviderNames
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tDONE\tFAILED\tPENDING\tTOTAL")
	for _, name := range providers {
		counts, err := repo.CountByStatus(ctx, name)
		if err != nil {
			return domain.NewStoreError("read status", "postgres", err)
		}
		done, failed, pending := counts[domain.StatusDone], counts[domain.StatusFailed], counts[domain.StatusPending]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", name, done, failed, pending, done+failed+pending)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if !opts.list {
		return nil
	}

	for _, name := range providers {
		items, total, err := repo.List(ctx, repository.PaperFilter{
			Provider: name,
			Status:   domain.EnrichmentStatus(opts.status),
			Limit:    opts.limit,
			Offset:   opts.offset,
		})
		if err != nil {
			return domain.NewStoreError("list papers", "postgres", err)
		}
		fmt.Fprintf(out, "\n%s: %d of %d papers\n", name, len(items), total)
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, item := range items {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", item.Status, item.Key(), item.Title)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}
