package dataset

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/features"
)

// batchSize bounds the rows written per repository transaction.
const batchSize = 500

// VersionBumper is notified after the dataset changes.
type VersionBumper interface {
	Invalidate(ctx context.Context) (int64, error)
}

// IngestResult summarizes one ingest.
type IngestResult struct {
	Saved          int   `json:"saved"`
	Skipped        int   `json:"skipped"`
	Categories     int   `json:"categories"`
	DatasetVersion int64 `json:"datasetVersion"`
}

// Ingestor stores orders and keeps the derived state in step: the category
// catalog, the KPI cache version and subscribers of the ingest topic.
type Ingestor struct {
	repo    domain.Repository
	catalog *features.Catalog
	kpis    VersionBumper
	events  domain.EventBus
}

// NewIngestor creates an ingestor. kpis and events may be nil.
func NewIngestor(repo domain.Repository, catalog *features.Catalog, kpis VersionBumper, events domain.EventBus) *Ingestor {
	return &Ingestor{repo: repo, catalog: catalog, kpis: kpis, events: events}
}

// ImportFile reads a dataset CSV and ingests it.
func (i *Ingestor) ImportFile(ctx context.Context, path string) (*IngestResult, error) {
	read, err := ReadFile(path)
	if err != nil {
		return nil, err
	}

	result, err := i.Ingest(ctx, read.Orders)
	if err != nil {
		return nil, err
	}
	result.Skipped = read.Skipped

	slog.Info("dataset imported",
		"path", path,
		"saved", result.Saved,
		"skipped", result.Skipped,
		"categories", result.Categories,
	)
	return result, nil
}

// Ingest validates and saves orders, then refreshes derived state.
func (i *Ingestor) Ingest(ctx context.Context, orders []*domain.Order) (*IngestResult, error) {
	for _, o := range orders {
		if err := o.Validate(); err != nil {
			return nil, fmt.Errorf("order %q: %w", o.ID, err)
		}
	}

	for start := 0; start < len(orders); start += batchSize {
		end := min(start+batchSize, len(orders))
		if err := i.repo.SaveOrders(ctx, orders[start:end]); err != nil {
			return nil, fmt.Errorf("failed to save orders: %w", err)
		}
	}

	result := &IngestResult{Saved: len(orders)}

	n, err := i.RefreshCatalog(ctx)
	if err != nil {
		return nil, err
	}
	result.Categories = n

	if i.kpis != nil {
		v, err := i.kpis.Invalidate(ctx)
		if err != nil {
			slog.Warn("failed to bump dataset version", "error", err)
		}
		result.DatasetVersion = v
	}

	if i.events != nil {
		if err := bus.PublishJSON(ctx, i.events, domain.TopicDatasetIngested, result); err != nil {
			slog.Warn("failed to publish dataset event", "error", err)
		}
	}

	return result, nil
}

// RefreshCatalog rebuilds the category catalog from the dataset. Without any
// labeled rows every category code maps to itself.
func (i *Ingestor) RefreshCatalog(ctx context.Context) (int, error) {
	pairs, err := i.repo.CategoryLabels(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load category labels: %w", err)
	}

	if len(pairs) == 0 {
		pairs = make(map[string]string)
		orders, err := i.repo.ListOrders(ctx, domain.OrderFilter{})
		if err != nil {
			return 0, fmt.Errorf("failed to load category codes: %w", err)
		}
		for _, o := range orders {
			if o.CategoryCode != "" {
				pairs[o.CategoryCode] = o.CategoryCode
			}
		}
	}

	i.catalog.Replace(pairs)
	return i.catalog.Len(), nil
}
