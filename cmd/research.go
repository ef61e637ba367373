package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/compass/internal/model"
)

var (
	researchOrgID    int64
	researchMaxPages int
)

var researchCmd = &cobra.Command{
	Use:   "research",
	Short: "Research a single organization",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "research")
		if err != nil {
			return err
		}
		defer env.Close()

		result := env.Pipeline.Research(ctx, researchOrgID, researchMaxPages)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return eris.Wrap(err, "encode result")
		}
		if !result.Success {
			return eris.Errorf("research organization %d: %s", researchOrgID, result.Error)
		}
		return nil
	},
}

var researchAllCmd = &cobra.Command{
	Use:   "research-all",
	Short: "Research every organization that has a website",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "research")
		if err != nil {
			return err
		}
		defer env.Close()

		orgs, err := env.Store.ListOrganizations(ctx)
		if err != nil {
			return eris.Wrap(err, "list organizations")
		}

		s := researchAll(ctx, orgs, cfg.Queue.Workers, func(ctx context.Context, orgID int64) *model.ResearchResult {
			return env.Pipeline.Research(ctx, orgID, researchMaxPages)
		})
		formatBatchSummary(os.Stdout, s)
		return nil
	},
}

func init() {
	researchCmd.Flags().Int64Var(&researchOrgID, "org-id", 0, "organization id (required)")
	_ = researchCmd.MarkFlagRequired("org-id")
	researchCmd.Flags().IntVar(&researchMaxPages, "max-pages", 0, "page budget (default from config)")
	researchAllCmd.Flags().IntVar(&researchMaxPages, "max-pages", 0, "page budget per organization (default from config)")

	rootCmd.AddCommand(researchCmd)
	rootCmd.AddCommand(researchAllCmd)
}

// batchSummary counts the outcomes of a research-all pass.
type batchSummary struct {
	Total     int64
	Succeeded int64
	Failed    int64
	Skipped   int64
	Movements int64
}

// researchAll researches each organization with a website, at most
// workers at a time. Each research call runs its own crawl.
func researchAll(ctx context.Context, orgs []model.Organization, workers int, research func(ctx context.Context, orgID int64) *model.ResearchResult) batchSummary {
	if workers <= 0 {
		workers = 1
	}
	var s batchSummary
	s.Total = int64(len(orgs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, org := range orgs {
		if org.WebsiteURL == "" {
			atomic.AddInt64(&s.Skipped, 1)
			zap.L().Debug("research-all: skipping organization without website", zap.Int64("organization_id", org.ID))
			continue
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res := research(gctx, org.ID)
			if res.Success {
				atomic.AddInt64(&s.Succeeded, 1)
				atomic.AddInt64(&s.Movements, int64(res.MovementsFound))
				return nil
			}
			atomic.AddInt64(&s.Failed, 1)
			zap.L().Warn("research-all: organization failed",
				zap.Int64("organization_id", org.ID),
				zap.String("name", org.Name),
				zap.String("error", res.Error),
			)
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("research-all complete",
		zap.Int64("total", s.Total),
		zap.Int64("succeeded", s.Succeeded),
		zap.Int64("failed", s.Failed),
		zap.Int64("skipped", s.Skipped),
	)
	return s
}

func formatBatchSummary(w io.Writer, s batchSummary) {
	_, _ = fmt.Fprintf(w, "Organizations: %d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Succeeded:     %d\n", s.Succeeded)
	_, _ = fmt.Fprintf(w, "Failed:        %d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Skipped:       %d\n", s.Skipped)
	_, _ = fmt.Fprintf(w, "Movements:     %d\n", s.Movements)
}
