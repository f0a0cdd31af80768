package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougwithseismic/dotoro-ads-sub003/internal/variables"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeLookup struct {
	sources map[string]*DataSource
	rows    map[string][]variables.Row
	rules   map[string]json.RawMessage
	err     error
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		sources: map[string]*DataSource{},
		rows:    map[string][]variables.Row{},
		rules:   map[string]json.RawMessage{},
	}
}

func (f *fakeLookup) withRows(id string, rows ...variables.Row) *fakeLookup {
	f.sources[id] = &DataSource{ID: id, Name: id + ".csv"}
	f.rows[id] = rows
	return f
}

func (f *fakeLookup) withRule(id, js string) *fakeLookup {
	f.rules[id] = json.RawMessage(js)
	return f
}

func (f *fakeLookup) DataSource(_ context.Context, id string) (*DataSource, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sources[id], nil
}

func (f *fakeLookup) DataRows(_ context.Context, id string) ([]variables.Row, error) {
	return f.rows[id], nil
}

func (f *fakeLookup) Rule(_ context.Context, id string) (json.RawMessage, error) {
	return f.rules[id], nil
}

func newTestEngine(l Lookup) *Engine {
	return NewEngine(l, Options{Now: func() time.Time { return fixedNow }})
}

func shoeConfig() (CampaignConfig, HierarchyConfig) {
	return CampaignConfig{NamePattern: "{brand} Campaign", Platform: "google"},
		HierarchyConfig{
			AdGroupNamePattern: "{category}",
			AdMapping: AdMapping{
				Headline:    "{brand} {product}",
				Description: "Shop {product} from {brand}",
			},
		}
}

func shoeRows() []variables.Row {
	return []variables.Row{
		{"brand": "Nike", "category": "Running", "product": "Pegasus"},
		{"brand": "Nike", "category": "Running", "product": "Vomero"},
		{"brand": "Nike", "category": "Trail", "product": "Wildhorse"},
		{"brand": "Adidas", "category": "Running", "product": "Ultraboost"},
	}
}

const skipAdidas = `{"id":"skip-adidas","enabled":true,"priority":1,"logic":"AND",
	"conditions":[{"field":"brand","operator":"equals","value":"Adidas"}],
	"actions":[{"type":"skip"}]}`

func TestPreview_RuleSkip(t *testing.T) {
	l := newFakeLookup().withRows("ds", shoeRows()...).withRule("skip-adidas", skipAdidas)
	cc, hc := shoeConfig()

	resp, err := newTestEngine(l).Preview(context.Background(), PreviewRequest{
		DataSourceID: "ds", CampaignConfig: cc, HierarchyConfig: hc, RuleIDs: []string{"skip-adidas"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, resp.CampaignCount)
	assert.Equal(t, 2, resp.AdGroupCount)
	assert.Equal(t, 3, resp.AdCount)
	assert.Equal(t, 4, resp.RowsProcessed)
	assert.Equal(t, 1, resp.RuleSkippedRowCount)
	assert.Empty(t, resp.Warnings, "rule skips are silent")
	require.Len(t, resp.Preview, 1)
	assert.Equal(t, "Nike Campaign", resp.Preview[0].Name)
	assert.Equal(t, "ds.csv", resp.Metadata.DataSourceName)
	assert.Equal(t, fixedNow, resp.Metadata.GeneratedAt)
}

func TestPreview_EmptyDataSource(t *testing.T) {
	l := newFakeLookup().withRows("empty")
	cc, hc := shoeConfig()

	resp, err := newTestEngine(l).Preview(context.Background(), PreviewRequest{DataSourceID: "empty", CampaignConfig: cc, HierarchyConfig: hc})
	require.NoError(t, err)

	assert.Zero(t, resp.CampaignCount)
	assert.Zero(t, resp.AdGroupCount)
	assert.Zero(t, resp.AdCount)
	assert.NotNil(t, resp.Preview)
	require.Len(t, resp.Warnings, 1)
	assert.Equal(t, WarningNoData, resp.Warnings[0].Type)
}

func TestRun_MissingDataSource(t *testing.T) {
	cc, hc := shoeConfig()
	eng := newTestEngine(newFakeLookup())

	preview, err := eng.Preview(context.Background(), PreviewRequest{DataSourceID: "nope", CampaignConfig: cc, HierarchyConfig: hc})
	assert.Nil(t, preview)
	assert.True(t, IsCode(err, CodeDataSourceNotFound), "got %v", err)

	full, err := eng.Generate(context.Background(), GenerateRequest{DataSourceID: "nope", CampaignConfig: cc, HierarchyConfig: hc})
	assert.Nil(t, full)
	assert.True(t, IsCode(err, CodeDataSourceNotFound))
}

func TestRun_LookupFailureIsNotCoded(t *testing.T) {
	l := newFakeLookup()
	l.err = errors.New("connection refused")
	cc, hc := shoeConfig()

	_, err := newTestEngine(l).Generate(context.Background(), GenerateRequest{DataSourceID: "ds", CampaignConfig: cc, HierarchyConfig: hc})
	require.Error(t, err)
	assert.ErrorIs(t, err, l.err)
	var coded *Error
	assert.False(t, errors.As(err, &coded))
}

func TestPreview_Bound(t *testing.T) {
	rows := make([]variables.Row, 50)
	for i := range rows {
		rows[i] = variables.Row{"n": float64(i), "category": "All", "product": "Shoe", "brand": "B"}
	}
	l := newFakeLookup().withRows("ds", rows...)
	cc, hc := shoeConfig()
	cc.NamePattern = "Campaign {n}"

	resp, err := newTestEngine(l).Preview(context.Background(), PreviewRequest{DataSourceID: "ds", CampaignConfig: cc, HierarchyConfig: hc, Limit: 10})
	require.NoError(t, err)

	assert.Len(t, resp.Preview, 10)
	assert.Equal(t, 50, resp.CampaignCount)
	assert.Equal(t, 50, resp.AdCount)
	assert.Equal(t, "Campaign 0", resp.Preview[0].Name)
	assert.Equal(t, "Campaign 9", resp.Preview[9].Name)
	for _, c := range resp.Preview {
		require.Len(t, c.AdGroups, 1)
		assert.Len(t, c.AdGroups[0].Ads, 1)
	}
}

func TestPreview_LimitValidation(t *testing.T) {
	l := newFakeLookup().withRows("ds", shoeRows()...)
	cc, hc := shoeConfig()
	eng := newTestEngine(l)

	for _, limit := range []int{-1, 101} {
		_, err := eng.Preview(context.Background(), PreviewRequest{DataSourceID: "ds", CampaignConfig: cc, HierarchyConfig: hc, Limit: limit})
		assert.True(t, IsCode(err, CodeInvalidRequest), "limit %d", limit)
	}

	resp, err := eng.Preview(context.Background(), PreviewRequest{DataSourceID: "ds", CampaignConfig: cc, HierarchyConfig: hc, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, resp.Preview, 1)
	assert.Equal(t, 2, resp.CampaignCount)
}

func TestGenerate_InvalidConfig(t *testing.T) {
	l := newFakeLookup().withRows("ds", shoeRows()...)
	eng := newTestEngine(l)
	cc, hc := shoeConfig()

	tests := []struct {
		name   string
		mutate func(*CampaignConfig, *HierarchyConfig)
	}{
		{"no name pattern", func(c *CampaignConfig, _ *HierarchyConfig) { c.NamePattern = "" }},
		{"no platform", func(c *CampaignConfig, _ *HierarchyConfig) { c.Platform = " " }},
		{"no ad group pattern", func(_ *CampaignConfig, h *HierarchyConfig) { h.AdGroupNamePattern = "" }},
		{"no headline", func(_ *CampaignConfig, h *HierarchyConfig) { h.AdMapping.Headline = "" }},
		{"bad fallback", func(_ *CampaignConfig, h *HierarchyConfig) { h.AdMapping.HeadlineFallback = "ellipsis" }},
		{"bad budget type", func(c *CampaignConfig, _ *HierarchyConfig) { c.Budget = &BudgetConfig{Type: "weekly"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, h := cc, hc
			tt.mutate(&c, &h)
			_, err := eng.Generate(context.Background(), GenerateRequest{DataSourceID: "ds", CampaignConfig: c, HierarchyConfig: h})
			assert.True(t, IsCode(err, CodeInvalidConfig), "got %v", err)
		})
	}

	l.withRule("broken", `{"conditions":[{"field":"a","operator":"regex","value":"("}],"actions":[{"type":"skip"}]}`)
	_, err := eng.Generate(context.Background(), GenerateRequest{DataSourceID: "ds", CampaignConfig: cc, HierarchyConfig: hc, RuleIDs: []string{"broken"}})
	assert.True(t, IsCode(err, CodeInvalidConfig), "got %v", err)
}

func TestGenerate_LimitEnforcement(t *testing.T) {
	const long = "Premium running shoes for athletes!" // 35 chars, google headline limit is 30
	tests := []struct {
		strategy     string
		wantAds      int
		wantHeadline string
	}{
		{"truncate", 1, "Premium running shoes for athl"},
		{"truncate_word", 1, "Premium running shoes for"},
		{"error", 0, ""},
		{"skip", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			l := newFakeLookup().withRows("ds", variables.Row{"title": long, "brand": "Nike", "category": "Running"})
			cc, hc := shoeConfig()
			hc.AdMapping.Headline = "{title}"
			hc.AdMapping.HeadlineFallback = tt.strategy

			resp, err := newTestEngine(l).Generate(context.Background(), GenerateRequest{DataSourceID: "ds", CampaignConfig: cc, HierarchyConfig: hc})
			require.NoError(t, err)
			assert.Equal(t, tt.wantAds, resp.Stats.TotalAds)

			// the campaign and ad group survive either way
			require.Len(t, resp.Campaigns, 1)
			require.Len(t, resp.Campaigns[0].AdGroups, 1)
			ads := resp.Campaigns[0].AdGroups[0].Ads
			require.Len(t, ads, tt.wantAds)

			if tt.wantAds == 1 {
				assert.Equal(t, tt.wantHeadline, ads[0].Headline)
				assert.Empty(t, resp.SkippedAds)
				return
			}
			require.Len(t, resp.SkippedAds, 1)
			rec := resp.SkippedAds[0]
			assert.Equal(t, []string{FieldHeadline}, rec.Fields)
			assert.Equal(t, map[string]int{FieldHeadline: 5}, rec.Overflow)
			assert.Equal(t, long, rec.OriginalAd[FieldHeadline])
			assert.Equal(t, ReasonLimitExceeded, rec.Reason)
			assert.Equal(t, resp.Campaigns[0].ID, rec.CampaignID)
			assert.Equal(t, resp.Campaigns[0].AdGroups[0].ID, rec.AdGroupID)
			assert.Equal(t, fixedNow, rec.SkippedAt)
			assert.Equal(t, 1, resp.Stats.SkippedAds)
		})
	}
}

func TestGenerate_RowConservation(t *testing.T) {
	rows := []variables.Row{
		{"brand": "Nike", "category": "Running", "product": "Pegasus"},
		{"brand": "Adidas", "category": "Running", "product": "Ultraboost"},
		{"brand": "Nike", "category": "Running", "product": "An extremely long product name that overflows"},
		{"brand": "Puma", "category": "Trail", "product": "Voyage"},
		{"brand": "Adidas", "category": "Trail", "product": "Terrex"},
	}
	l := newFakeLookup().withRows("ds", rows...).withRule("skip-adidas", skipAdidas)
	cc, hc := shoeConfig()
	hc.AdMapping.HeadlineFallback = "error"

	resp, err := newTestEngine(l).Generate(context.Background(), GenerateRequest{
		DataSourceID: "ds", CampaignConfig: cc, HierarchyConfig: hc, RuleIDs: []string{"skip-adidas"},
	})
	require.NoError(t, err)

	s := resp.Stats
	assert.Equal(t, len(rows), s.RowsProcessed)
	assert.Equal(t, 2, s.TotalAds)
	assert.Equal(t, 1, s.SkippedAds)
	assert.Equal(t, 2, s.RuleSkippedRows)
	assert.Equal(t, s.RowsProcessed, s.TotalAds+s.SkippedAds+s.RuleSkippedRows)
	assert.Equal(t, map[string]int{"skip-adidas": 2}, s.RuleMatches)

	ads := 0
	for _, c := range resp.Campaigns {
		for _, ag := range c.AdGroups {
			ads += len(ag.Ads)
		}
	}
	assert.Equal(t, s.TotalAds, ads)
}

func TestGenerate_GroupingByResolvedName(t *testing.T) {
	rows := []variables.Row{
		{"brand": "Nike", "category": "Running", "product": "A"},
		{"brand": "NIKE", "category": "running", "product": "B"},
		{"brand": "nike", "category": "Trail", "product": "C"},
		{"brand": "Puma", "category": "Running", "product": "D"},
	}
	l := newFakeLookup().withRows("ds", rows...)
	cc, hc := shoeConfig()
	cc.NamePattern = "{brand|lowercase}"
	hc.AdGroupNamePattern = "{category|titlecase}"

	resp, err := newTestEngine(l).Generate(context.Background(), GenerateRequest{DataSourceID: "ds", CampaignConfig: cc, HierarchyConfig: hc})
	require.NoError(t, err)

	require.Len(t, resp.Campaigns, 2)
	nike, puma := resp.Campaigns[0], resp.Campaigns[1]
	assert.Equal(t, "nike", nike.Name)
	assert.Equal(t, "puma", puma.Name)
	assert.NotEqual(t, nike.ID, puma.ID)

	require.Len(t, nike.AdGroups, 2)
	assert.Equal(t, "Running", nike.AdGroups[0].Name)
	assert.Len(t, nike.AdGroups[0].Ads, 2)
	assert.Equal(t, "Trail", nike.AdGroups[1].Name)

	// one ad per row, traced back to its source row
	assert.Equal(t, 0, nike.AdGroups[0].Ads[0].SourceRowIndex)
	assert.Equal(t, 1, nike.AdGroups[0].Ads[1].SourceRowIndex)
	assert.Equal(t, 3, puma.AdGroups[0].Ads[0].SourceRowIndex)
	assert.NotEqual(t, nike.AdGroups[0].ID, puma.AdGroups[0].ID, "same ad group name under different campaigns")
}

func TestGenerate_Idempotent(t *testing.T) {
	var rows []variables.Row
	for i := 0; i < 257; i++ {
		rows = append(rows, variables.Row{
			"brand":    fmt.Sprintf("Brand %d", i%7),
			"category": fmt.Sprintf("Cat %d", i%3),
			"product":  fmt.Sprintf("Product %d", i),
		})
	}
	rows[10]["product"] = ""
	l := newFakeLookup().withRows("ds", rows...)
	cc, hc := shoeConfig()
	req := GenerateRequest{DataSourceID: "ds", CampaignConfig: cc, HierarchyConfig: hc, RuleIDs: []string{"ghost"}}

	serial := NewEngine(l, Options{Workers: 1, ChunkSize: 5, Now: func() time.Time { return fixedNow }})
	parallel := NewEngine(l, Options{Workers: 8, ChunkSize: 1000, Now: func() time.Time { return fixedNow }})

	a, err := serial.Generate(context.Background(), req)
	require.NoError(t, err)
	b, err := parallel.Generate(context.Background(), req)
	require.NoError(t, err)
	c, err := parallel.Generate(context.Background(), req)
	require.NoError(t, err)

	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("worker count changed output (-serial +parallel):\n%s", diff)
	}
	if diff := cmp.Diff(b, c); diff != "" {
		t.Errorf("repeated call changed output:\n%s", diff)
	}
}

func TestGenerate_WarningsAreAggregated(t *testing.T) {
	rows := []variables.Row{
		{"brand": "Nike", "category": "Running"},
		{"brand": "Nike", "category": "Running"},
		{"brand": "Nike", "category": "Running", "product": ""},
	}
	l := newFakeLookup().withRows("ds", rows...)
	cc, hc := shoeConfig()

	resp, err := newTestEngine(l).Generate(context.Background(), GenerateRequest{
		DataSourceID: "ds", CampaignConfig: cc, HierarchyConfig: hc, RuleIDs: []string{"ghost", "ghost"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Stats.TotalAds)

	byKey := map[string]Warning{}
	for _, w := range resp.Warnings {
		byKey[w.Type+"/"+w.Field] = w
	}
	require.Contains(t, byKey, "rule_not_found/")
	assert.Equal(t, "ghost", byKey["rule_not_found/"].RuleID)
	assert.Equal(t, 1, byKey["rule_not_found/"].Count)
	assert.Equal(t, WarningRuleNotFound, resp.Warnings[0].Type, "rule warnings come first")

	missing := byKey["missing_variable/headline"]
	assert.Equal(t, 2, missing.Count)
	require.NotNil(t, missing.RowIndex)
	assert.Equal(t, 0, *missing.RowIndex)
	assert.Equal(t, "product", missing.Variable)

	empty := byKey["empty_value/description"]
	assert.Equal(t, 1, empty.Count)
	assert.Equal(t, 2, *empty.RowIndex)
}

func TestGenerate_SetFieldFeedsSubstitution(t *testing.T) {
	l := newFakeLookup().
		withRows("ds", variables.Row{"brand": "nike", "category": "Running", "product": "Pegasus"}).
		withRule("rename", `{"priority":1,"conditions":[{"field":"brand","operator":"equals","value":"nike"}],
			"actions":[{"type":"set_field","field":"brand","value":"Nike"}]}`)
	cc, hc := shoeConfig()

	resp, err := newTestEngine(l).Generate(context.Background(), GenerateRequest{
		DataSourceID: "ds", CampaignConfig: cc, HierarchyConfig: hc, RuleIDs: []string{"rename"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Campaigns, 1)
	assert.Equal(t, "Nike Campaign", resp.Campaigns[0].Name)
	assert.Equal(t, "Nike Pegasus", resp.Campaigns[0].AdGroups[0].Ads[0].Headline)
	assert.Equal(t, "nike", l.rows["ds"][0]["brand"], "source rows are not mutated")
}

func TestGenerate_Budget(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		row     variables.Row
		want    *float64
	}{
		{"fixed", "50", variables.Row{}, ptr(50)},
		{"variable", "{budget}", variables.Row{"budget": "75.5"}, ptr(75.5)},
		{"numeric column", "{budget}", variables.Row{"budget": 1200.0}, ptr(1200)},
		{"unparsable", "{budget}", variables.Row{"budget": "lots"}, nil},
		{"NaN", "{budget}", variables.Row{"budget": "NaN"}, nil},
		{"infinity", "{budget}", variables.Row{"budget": "Infinity"}, nil},
		{"overflow", "{budget}", variables.Row{"budget": "1e400"}, nil},
		{"infinite column", "{budget}", variables.Row{"budget": math.Inf(1)}, nil},
		{"fixed infinity", "Inf", variables.Row{}, nil},
		{"thousands separator", "{budget}", variables.Row{"budget": "1,500"}, ptr(1500)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := variables.Row{"brand": "Nike", "category": "Running", "product": "X"}
			for k, v := range tt.row {
				row[k] = v
			}
			l := newFakeLookup().withRows("ds", row)
			cc, hc := shoeConfig()
			cc.Objective = "conversions"
			cc.Budget = &BudgetConfig{Type: "Daily", AmountPattern: tt.pattern, Currency: "usd"}

			resp, err := newTestEngine(l).Generate(context.Background(), GenerateRequest{DataSourceID: "ds", CampaignConfig: cc, HierarchyConfig: hc})
			require.NoError(t, err)
			c := resp.Campaigns[0]
			assert.Equal(t, "conversions", c.Objective)
			require.NotNil(t, c.Budget)
			assert.Equal(t, "daily", c.Budget.Type)
			assert.Equal(t, "USD", c.Budget.Currency)
			assert.Equal(t, tt.want, c.Budget.Amount)

			_, err = json.Marshal(resp)
			assert.NoError(t, err)
		})
	}
}

func TestGenerate_KeywordsAndOptionalFields(t *testing.T) {
	rows := []variables.Row{
		{"brand": "Nike", "category": "Running", "product": "Pegasus", "url": "https://nike.example/pegasus"},
		{"brand": "Nike", "category": "Running", "product": "Vomero", "url": "https://nike.example/vomero"},
	}
	l := newFakeLookup().withRows("ds", rows...)
	cc, hc := shoeConfig()
	hc.Keywords = []string{"{brand|lowercase} shoes", "{product|lowercase}", " "}
	hc.AdMapping.FinalURL = "{url}"
	hc.AdMapping.CallToAction = "Shop Now"

	resp, err := newTestEngine(l).Generate(context.Background(), GenerateRequest{DataSourceID: "ds", CampaignConfig: cc, HierarchyConfig: hc})
	require.NoError(t, err)

	ag := resp.Campaigns[0].AdGroups[0]
	assert.Equal(t, []string{"nike shoes", "pegasus", "vomero"}, ag.Keywords)
	require.Len(t, ag.Ads, 2)
	assert.Equal(t, "https://nike.example/pegasus", ag.Ads[0].FinalURL)
	assert.Equal(t, "Shop Now", ag.Ads[0].CallToAction)
	assert.NotEqual(t, ag.Ads[0].ContentHash, ag.Ads[1].ContentHash)
	assert.Len(t, ag.Ads[0].ContentHash, 16)
	assert.NotEqual(t, ag.Ads[0].ID, ag.Ads[1].ID)
}

func ptr(v float64) *float64 { return &v }

func TestPreview_ConfiguredLimits(t *testing.T) {
	var rows []variables.Row
	for i := 0; i < 30; i++ {
		rows = append(rows, variables.Row{"brand": fmt.Sprintf("B%02d", i), "category": "Running", "product": "P"})
	}
	l := newFakeLookup().withRows("ds", rows...)
	cc, hc := shoeConfig()
	eng := NewEngine(l, Options{DefaultPreviewLimit: 5, MaxPreviewLimit: 8, Now: func() time.Time { return fixedNow }})

	resp, err := eng.Preview(context.Background(), PreviewRequest{DataSourceID: "ds", CampaignConfig: cc, HierarchyConfig: hc})
	require.NoError(t, err)
	assert.Len(t, resp.Preview, 5)
	assert.Equal(t, 30, resp.CampaignCount)

	resp, err = eng.Preview(context.Background(), PreviewRequest{DataSourceID: "ds", CampaignConfig: cc, HierarchyConfig: hc, Limit: 8})
	require.NoError(t, err)
	assert.Len(t, resp.Preview, 8)

	_, err = eng.Preview(context.Background(), PreviewRequest{DataSourceID: "ds", CampaignConfig: cc, HierarchyConfig: hc, Limit: 9})
	assert.True(t, IsCode(err, CodeInvalidRequest))

	// a default above the maximum is clamped
	clamped := NewEngine(l, Options{DefaultPreviewLimit: 50, MaxPreviewLimit: 3})
	resp, err = clamped.Preview(context.Background(), PreviewRequest{DataSourceID: "ds", CampaignConfig: cc, HierarchyConfig: hc})
	require.NoError(t, err)
	assert.Len(t, resp.Preview, 3)
}
