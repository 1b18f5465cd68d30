package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/metrics"
)

const versionKey = "dataset:version"

// FilterOptions lists the values a dashboard filter can take.
type FilterOptions struct {
	Statuses   []string `json:"statuses"`
	States     []string `json:"states"`
	Categories []string `json:"categories"`
}

// Service serves KPI snapshots from the repository, caching one snapshot per
// filter and dataset version.
type Service struct {
	repo    domain.Repository
	cache   domain.Cache
	metrics *metrics.Collector
	ttl     time.Duration
	topN    int
}

// NewService creates a new analytics service. cache and m may be nil.
func NewService(repo domain.Repository, cache domain.Cache, m *metrics.Collector, cfg domain.AnalyticsConfig) *Service {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{repo: repo, cache: cache, metrics: m, ttl: ttl, topN: cfg.TopN}
}

// Snapshot returns the KPIs for filter, from cache when the dataset has not
// changed since the snapshot was computed.
func (s *Service) Snapshot(ctx context.Context, filter domain.OrderFilter) (*Snapshot, error) {
	filter = Normalize(filter)
	version := s.version(ctx)
	key := cacheKey(version, filter)

	if s.cache != nil {
		if data, err := s.cache.Get(ctx, key); err != nil {
			slog.Warn("kpi cache read failed", "error", err)
		} else if data != nil {
			var snap Snapshot
			if err := json.Unmarshal(data, &snap); err == nil {
				s.metrics.ObserveKPICache(true)
				return &snap, nil
			}
		}
		s.metrics.ObserveKPICache(false)
	}

	orders, err := s.repo.ListOrders(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}

	snap := Compute(orders, s.topN)
	snap.Filter = filter
	snap.DatasetVersion = version

	if s.cache != nil {
		if data, err := json.Marshal(snap); err == nil {
			if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
				slog.Warn("kpi cache write failed", "error", err)
			}
		}
	}

	return snap, nil
}

// Options returns the distinct filter values of the whole dataset.
func (s *Service) Options(ctx context.Context) (*FilterOptions, error) {
	orders, err := s.repo.ListOrders(ctx, domain.OrderFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}

	statuses := map[string]bool{}
	states := map[string]bool{}
	categories := map[string]bool{}
	for _, o := range orders {
		statuses[o.Status] = true
		states[o.CustomerState] = true
		if o.CategoryLabel != "" {
			categories[o.CategoryLabel] = true
		}
	}

	return &FilterOptions{
		Statuses:   sortedKeys(statuses),
		States:     sortedKeys(states),
		Categories: sortedKeys(categories),
	}, nil
}

// Invalidate bumps the dataset version so every cached snapshot goes stale.
func (s *Service) Invalidate(ctx context.Context) (int64, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.IncrementCounter(ctx, versionKey, 0)
}

func (s *Service) version(ctx context.Context) int64 {
	if s.cache == nil {
		return 0
	}
	v, err := s.cache.Counter(ctx, versionKey)
	if err != nil {
		slog.Warn("dataset version read failed", "error", err)
		return 0
	}
	return v
}

// Normalize sorts and deduplicates filter values so equal filters share a cache entry.
func Normalize(f domain.OrderFilter) domain.OrderFilter {
	return domain.OrderFilter{
		Statuses:   canonical(f.Statuses),
		States:     canonical(f.States),
		Categories: canonical(f.Categories),
	}
}

func canonical(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

func cacheKey(version int64, f domain.OrderFilter) string {
	return fmt.Sprintf("kpi:v%d:s=%s:u=%s:c=%s",
		version,
		strings.Join(f.Statuses, ","),
		strings.Join(f.States, ","),
		strings.Join(f.Categories, ","),
	)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
