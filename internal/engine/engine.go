package engine

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dougwithseismic/dotoro-ads-sub003/internal/limits"
	"github.com/dougwithseismic/dotoro-ads-sub003/internal/rules"
	"github.com/dougwithseismic/dotoro-ads-sub003/internal/variables"
)

const (
	DefaultPreviewLimit = 20
	MaxPreviewLimit     = 100
	DefaultChunkSize    = 1000
	DefaultMaxDetails   = 100
)

// Options tunes an Engine. Zero values pick the defaults.
type Options struct {
	Limits              *limits.Table
	ChunkSize           int
	Workers             int
	MaxInvalidDetails   int
	DefaultPreviewLimit int
	MaxPreviewLimit     int
	Now                 func() time.Time
}

// Engine turns a data source plus campaign/hierarchy config and rules into
// a campaign tree. It holds no per-call state and is safe for concurrent use.
type Engine struct {
	lookup Lookup
	opts   Options
}

func NewEngine(lookup Lookup, opts Options) *Engine {
	if opts.Limits == nil {
		opts.Limits = limits.Default()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.MaxInvalidDetails <= 0 {
		opts.MaxInvalidDetails = DefaultMaxDetails
	}
	if opts.MaxPreviewLimit <= 0 {
		opts.MaxPreviewLimit = MaxPreviewLimit
	}
	if opts.DefaultPreviewLimit <= 0 {
		opts.DefaultPreviewLimit = DefaultPreviewLimit
	}
	opts.DefaultPreviewLimit = min(opts.DefaultPreviewLimit, opts.MaxPreviewLimit)
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{lookup: lookup, opts: opts}
}

// Limits returns the platform limits table in use.
func (e *Engine) Limits() *limits.Table { return e.opts.Limits }

// Preview counts campaigns, ad groups and ads over the whole data source
// and returns at most req.Limit fully built campaigns.
func (e *Engine) Preview(ctx context.Context, req PreviewRequest) (*PreviewResponse, error) {
	limit := req.Limit
	if limit == 0 {
		limit = e.opts.DefaultPreviewLimit
	}
	if limit < 1 || limit > e.opts.MaxPreviewLimit {
		return nil, newError(CodeInvalidRequest, "limit must be between 1 and %d, got %d", e.opts.MaxPreviewLimit, req.Limit)
	}

	start := time.Now()
	g, ds, err := e.run(ctx, req.DataSourceID, req.CampaignConfig, req.HierarchyConfig, req.RuleIDs, limit, false)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("mode", "preview").Str("data_source", ds.ID).Int("rows", g.rows).
		Int("campaigns", len(g.campaigns)).Dur("took", time.Since(start)).Msg("generation complete")

	return &PreviewResponse{
		CampaignCount:       len(g.campaigns),
		AdGroupCount:        g.adGroups,
		AdCount:             g.ads,
		RowsProcessed:       g.rows,
		SkippedAdCount:      g.skippedAds,
		RuleSkippedRowCount: g.ruleSkipped,
		Preview:             g.materialize(),
		Warnings:            g.warnings.list(),
		Metadata:            Metadata{DataSourceName: ds.Name, GeneratedAt: e.opts.Now()},
	}, nil
}

// Generate builds every campaign, ad group and ad.
func (e *Engine) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	start := time.Now()
	g, ds, err := e.run(ctx, req.DataSourceID, req.CampaignConfig, req.HierarchyConfig, req.RuleIDs, -1, true)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("mode", "generate").Str("data_source", ds.ID).Int("rows", g.rows).
		Int("campaigns", len(g.campaigns)).Int("ads", g.ads).Dur("took", time.Since(start)).Msg("generation complete")

	skipped := g.skipped
	if skipped == nil {
		skipped = []SkippedAdRecord{}
	}
	stats := Stats{
		TotalCampaigns:  len(g.campaigns),
		TotalAdGroups:   g.adGroups,
		TotalAds:        g.ads,
		RowsProcessed:   g.rows,
		SkippedAds:      g.skippedAds,
		RuleSkippedRows: g.ruleSkipped,
	}
	if len(g.ruleMatches) > 0 {
		stats.RuleMatches = g.ruleMatches
	}
	return &GenerateResponse{
		Campaigns:  g.materialize(),
		Stats:      stats,
		SkippedAds: skipped,
		Warnings:   g.warnings.list(),
	}, nil
}

func (e *Engine) run(ctx context.Context, dataSourceID string, cc CampaignConfig, hc HierarchyConfig, ruleIDs []string, sample int, keepSkipped bool) (*grouper, *DataSource, error) {
	if strings.TrimSpace(dataSourceID) == "" {
		return nil, nil, newError(CodeInvalidRequest, "dataSourceId is required")
	}
	p, err := compile(dataSourceID, cc, hc, e.opts.Limits)
	if err != nil {
		return nil, nil, err
	}

	ds, err := e.dataSource(ctx, dataSourceID)
	if err != nil {
		return nil, nil, err
	}

	ws := newWarningSet()
	defs, err := e.loadRules(ctx, ruleIDs, ws)
	if err != nil {
		return nil, nil, err
	}
	p.rules = rules.NewEngine(defs)

	rows, err := e.lookup.DataRows(ctx, dataSourceID)
	if err != nil {
		return nil, nil, fmt.Errorf("load rows for data source %s: %w", dataSourceID, err)
	}

	g := newGrouper(p, sample, keepSkipped, e.opts.Now, ws)
	if len(rows) == 0 {
		ws.add(Warning{Type: WarningNoData, Message: fmt.Sprintf("data source %q has no rows", ds.Name)})
		return g, ds, nil
	}
	if err := e.scan(ctx, p, rows, g); err != nil {
		return nil, nil, err
	}
	return g, ds, nil
}

func (e *Engine) dataSource(ctx context.Context, id string) (*DataSource, error) {
	ds, err := e.lookup.DataSource(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load data source %s: %w", id, err)
	}
	if ds == nil {
		return nil, newError(CodeDataSourceNotFound, "data source %q not found", id)
	}
	return ds, nil
}

// loadRules resolves rule ids. Unknown ids are fail-open: they produce a
// rule_not_found warning and are otherwise ignored.
func (e *Engine) loadRules(ctx context.Context, ids []string, ws *warningSet) ([]rules.Definition, error) {
	var defs []rules.Definition
	seen := map[string]struct{}{}
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		raw, err := e.lookup.Rule(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load rule %s: %w", id, err)
		}
		if len(raw) == 0 {
			ws.add(Warning{Type: WarningRuleNotFound, Message: fmt.Sprintf("rule %q not found", id), RuleID: id})
			continue
		}
		d, err := rules.ParseWithID(raw, id)
		if err != nil {
			return nil, newError(CodeInvalidConfig, "%v", err)
		}
		defs = append(defs, d)
	}
	return defs, nil
}

// scan evaluates rows chunk by chunk and folds each chunk in row order, so
// group keys stay open until the last chunk and output does not depend on
// the worker count.
func (e *Engine) scan(ctx context.Context, p *plan, rows []variables.Row, g *grouper) error {
	size := e.opts.ChunkSize
	buf := make([]rowResult, min(size, len(rows)))
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		chunk := buf[:end-start]
		if err := e.evaluateChunk(ctx, p, rows[start:end], start, chunk); err != nil {
			return err
		}
		for i := range chunk {
			g.add(&chunk[i])
			chunk[i] = rowResult{}
		}
	}
	return nil
}

func (e *Engine) evaluateChunk(ctx context.Context, p *plan, rows []variables.Row, offset int, out []rowResult) error {
	eg, ctx := errgroup.WithContext(ctx)
	per := (len(rows) + e.opts.Workers - 1) / e.opts.Workers
	for lo := 0; lo < len(rows); lo += per {
		lo, hi := lo, min(lo+per, len(rows))
		eg.Go(func() error {
			for i := lo; i < hi; i++ {
				out[i] = p.evaluate(offset+i, rows[i])
			}
			return ctx.Err()
		})
	}
	return eg.Wait()
}
