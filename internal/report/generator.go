package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Sample sizes and window of a generated report
const (
	PatientDiscoverySample  = 10
	DocumentQuerySample     = 100
	DocumentRetrievalSample = 100
	Window                  = 12 * time.Hour
)

// Generator builds summaries from the most recent recorded requests
type Generator struct {
	store  *Store
	logger *slog.Logger
	now    func() time.Time
}

// NewGenerator creates a generator reading from store
func NewGenerator(store *Store, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{store: store, logger: logger, now: time.Now}
}

// PatientDiscovery summarizes the latest XCPD requests
func (g *Generator) PatientDiscovery(ctx context.Context) (Summary, error) {
	return g.generate(ctx, PatientDiscoveryTable, PatientDiscoverySample, func(ctx context.Context, id string) (Report, error) {
		results, err := g.store.PatientDiscoveryResults(ctx, id)
		if err != nil {
			return Report{}, err
		}
		return PatientDiscoveryReport(id, results), nil
	})
}

// DocumentQuery summarizes the latest DQ requests
func (g *Generator) DocumentQuery(ctx context.Context) (Summary, error) {
	return g.generate(ctx, DocumentQueryTable, DocumentQuerySample, func(ctx context.Context, id string) (Report, error) {
		results, err := g.store.DocumentQueryResults(ctx, id)
		if err != nil {
			return Report{}, err
		}
		return DocumentQueryReport(id, results), nil
	})
}

// DocumentRetrieval summarizes the latest DR requests
func (g *Generator) DocumentRetrieval(ctx context.Context) (Summary, error) {
	return g.generate(ctx, DocumentRetrievalTable, DocumentRetrievalSample, func(ctx context.Context, id string) (Report, error) {
		results, err := g.store.DocumentRetrievalResults(ctx, id)
		if err != nil {
			return Report{}, err
		}
		return DocumentRetrievalReport(id, results), nil
	})
}

// ForTransaction dispatches on "pd", "dq" or "dr"
func (g *Generator) ForTransaction(ctx context.Context, transaction string) (Summary, error) {
	switch transaction {
	case "pd", "xcpd":
		return g.PatientDiscovery(ctx)
	case "dq":
		return g.DocumentQuery(ctx)
	case "dr":
		return g.DocumentRetrieval(ctx)
	}
	return Summary{}, fmt.Errorf("unknown transaction %q", transaction)
}

func (g *Generator) generate(ctx context.Context, table Table, limit int, build func(context.Context, string) (Report, error)) (Summary, error) {
	since := g.now().Add(-Window)
	ids, err := g.store.RequestIDsSince(ctx, table, since, limit)
	if err != nil {
		return Summary{}, err
	}

	reports := make([]Report, len(ids))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(8)
	for i, id := range ids {
		i, id := i, id
		group.Go(func() error {
			r, err := build(gctx, id)
			if err != nil {
				return fmt.Errorf("report for %s: %w", id, err)
			}
			reports[i] = r
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Summary{}, err
	}

	g.logger.Info("report generated",
		"table", string(table),
		"requests", len(ids),
		"since", since.Format(time.RFC3339),
	)
	return Summarize(reports), nil
}
