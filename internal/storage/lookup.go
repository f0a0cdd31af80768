package storage

import (
	"context"
	"encoding/json"

	"github.com/dougwithseismic/dotoro-ads-sub003/internal/cache"
	"github.com/dougwithseismic/dotoro-ads-sub003/internal/engine"
	"github.com/dougwithseismic/dotoro-ads-sub003/internal/variables"
)

type RowSource interface {
	DataSource(ctx context.Context, id string) (*engine.DataSource, error)
	DataRows(ctx context.Context, id string) ([]variables.Row, error)
}

type RuleSource interface {
	Rule(ctx context.Context, id string) (json.RawMessage, error)
}

type RuleStore interface {
	RuleSource
	LoadRules(ctx context.Context) (map[string]json.RawMessage, error)
}

// Lookup combines a row source and a rule source into an engine.Lookup.
type Lookup struct {
	RowSource
	RuleSource
}

var _ engine.Lookup = Lookup{}

// RuleCache serves rules from an in-memory snapshot refreshed by Refresh.
// Until the first refresh succeeds it reads through to the store.
type RuleCache struct {
	store RuleStore
	snap  cache.Snapshot[map[string]json.RawMessage]
}

func NewRuleCache(store RuleStore) *RuleCache {
	return &RuleCache{store: store}
}

// Refresh reloads every rule and swaps the snapshot.
func (c *RuleCache) Refresh(ctx context.Context) error {
	rules, err := c.store.LoadRules(ctx)
	if err != nil {
		return err
	}
	c.snap.Store(rules)
	return nil
}

func (c *RuleCache) Rule(ctx context.Context, id string) (json.RawMessage, error) {
	rules, ok := c.snap.Load()
	if !ok {
		return c.store.Rule(ctx, id)
	}
	return rules[id], nil
}

// Len returns the number of cached rules.
func (c *RuleCache) Len() int {
	rules, _ := c.snap.Load()
	return len(rules)
}
