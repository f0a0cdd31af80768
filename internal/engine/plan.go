package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/dougwithseismic/dotoro-ads-sub003/internal/limits"
	"github.com/dougwithseismic/dotoro-ads-sub003/internal/rules"
	"github.com/dougwithseismic/dotoro-ads-sub003/internal/variables"
)

// Ad field names, as used by the limits table.
const (
	FieldHeadline     = "headline"
	FieldDescription  = "description"
	FieldDisplayURL   = "displayUrl"
	FieldFinalURL     = "finalUrl"
	FieldCallToAction = "callToAction"
)

type fieldPlan struct {
	name     string
	tmpl     *variables.Template
	strategy limits.Strategy
}

type budgetPlan struct {
	typ      string
	currency string
	fixed    *float64
	tmpl     *variables.Template
}

// plan is the validated form of a campaign + hierarchy config. It is built
// once per call and read concurrently by the row workers.
type plan struct {
	platform     string
	objective    string
	campaignName *variables.Template
	adGroupName  *variables.Template
	keywords     []*variables.Template
	budget       *budgetPlan
	fields       []fieldPlan
	rules        *rules.Engine
	limits       *limits.Table
	ns           uuid.UUID
}

func compile(dataSourceID string, cc CampaignConfig, hc HierarchyConfig, tbl *limits.Table) (*plan, error) {
	if strings.TrimSpace(cc.NamePattern) == "" {
		return nil, newError(CodeInvalidConfig, "campaignConfig.namePattern is required")
	}
	if strings.TrimSpace(cc.Platform) == "" {
		return nil, newError(CodeInvalidConfig, "campaignConfig.platform is required")
	}
	if strings.TrimSpace(hc.AdGroupNamePattern) == "" {
		return nil, newError(CodeInvalidConfig, "hierarchyConfig.adGroupNamePattern is required")
	}
	m := hc.AdMapping
	if strings.TrimSpace(m.Headline) == "" {
		return nil, newError(CodeInvalidConfig, "hierarchyConfig.adMapping.headline is required")
	}
	if strings.TrimSpace(m.Description) == "" {
		return nil, newError(CodeInvalidConfig, "hierarchyConfig.adMapping.description is required")
	}

	p := &plan{
		platform:     strings.ToLower(strings.TrimSpace(cc.Platform)),
		objective:    cc.Objective,
		campaignName: variables.Parse(cc.NamePattern),
		adGroupName:  variables.Parse(hc.AdGroupNamePattern),
		rules:        rules.NewEngine(nil),
		limits:       tbl,
		ns:           uuid.NewSHA1(uuid.NameSpaceURL, []byte("campaign-generation:"+dataSourceID)),
	}
	for _, k := range hc.Keywords {
		if strings.TrimSpace(k) != "" {
			p.keywords = append(p.keywords, variables.Parse(k))
		}
	}

	headline, err := limits.ParseStrategy(m.HeadlineFallback)
	if err != nil {
		return nil, newError(CodeInvalidConfig, "headlineFallback: %v", err)
	}
	description, err := limits.ParseStrategy(m.DescriptionFallback)
	if err != nil {
		return nil, newError(CodeInvalidConfig, "descriptionFallback: %v", err)
	}
	for _, f := range []fieldPlan{
		{name: FieldHeadline, tmpl: variables.Parse(m.Headline), strategy: headline},
		{name: FieldDescription, tmpl: variables.Parse(m.Description), strategy: description},
		{name: FieldDisplayURL, tmpl: parseOptional(m.DisplayURL), strategy: limits.Truncate},
		{name: FieldFinalURL, tmpl: parseOptional(m.FinalURL), strategy: limits.Truncate},
		{name: FieldCallToAction, tmpl: parseOptional(m.CallToAction), strategy: limits.Truncate},
	} {
		if f.tmpl != nil {
			p.fields = append(p.fields, f)
		}
	}

	if b := cc.Budget; b != nil {
		bp := &budgetPlan{typ: strings.ToLower(strings.TrimSpace(b.Type)), currency: strings.ToUpper(strings.TrimSpace(b.Currency))}
		if bp.typ != "daily" && bp.typ != "lifetime" {
			return nil, newError(CodeInvalidConfig, "budget.type must be daily or lifetime, got %q", b.Type)
		}
		if bp.currency == "" {
			bp.currency = "USD"
		}
		pattern := strings.TrimSpace(b.AmountPattern)
		if v, ok := parseAmount(pattern); ok {
			bp.fixed = &v
		} else if pattern != "" {
			bp.tmpl = variables.Parse(pattern)
		}
		p.budget = bp
	}
	return p, nil
}

func parseOptional(s string) *variables.Template {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return variables.Parse(s)
}

// rowResult is everything a worker computes for one row; grouping happens
// afterwards, in row order.
type rowResult struct {
	index    int
	skipped  bool
	matched  []string
	row      variables.Row
	campaign string
	adGroup  string
	keywords []string
	fields   []limits.Outcome // aligned with plan.fields
	warnings []Warning
}

func (p *plan) evaluate(index int, row variables.Row) rowResult {
	res := rowResult{index: index}
	out := p.rules.Evaluate(row)
	res.matched = out.Matched
	if out.Skipped {
		res.skipped = true
		return res
	}
	r := out.Row
	res.row = r
	res.campaign = p.substitute(&res, "campaignName", p.campaignName, r)
	res.adGroup = p.substitute(&res, "adGroupName", p.adGroupName, r)
	for _, k := range p.keywords {
		if kw := strings.TrimSpace(p.substitute(&res, "keywords", k, r)); kw != "" {
			res.keywords = append(res.keywords, kw)
		}
	}
	res.fields = make([]limits.Outcome, len(p.fields))
	for i, f := range p.fields {
		text := p.substitute(&res, f.name, f.tmpl, r)
		res.fields[i] = p.limits.Resolve(p.platform, f.name, text, f.strategy)
	}
	return res
}

func (p *plan) substitute(res *rowResult, field string, t *variables.Template, row variables.Row) string {
	out := t.Execute(row)
	for _, w := range out.Warnings {
		idx := res.index
		res.warnings = append(res.warnings, Warning{
			Type:     w.Type,
			Message:  w.Message,
			Field:    field,
			Variable: w.Variable,
			RowIndex: &idx,
		})
	}
	return out.Text
}

// resolveBudget computes the budget of a campaign from the row that created it.
// An amount that does not parse as a number is left out.
func (p *plan) resolveBudget(res *rowResult) *Budget {
	if p.budget == nil {
		return nil
	}
	b := &Budget{Type: p.budget.typ, Currency: p.budget.currency}
	switch {
	case p.budget.fixed != nil:
		v := *p.budget.fixed
		b.Amount = &v
	case p.budget.tmpl != nil:
		text := p.substitute(res, "budget", p.budget.tmpl, res.row)
		if v, ok := parseAmount(text); ok {
			b.Amount = &v
		}
	}
	return b
}

// parseAmount accepts finite numbers only; NaN and infinities cannot be
// encoded as JSON.
func parseAmount(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func (p *plan) campaignID(name string) string {
	return uuid.NewSHA1(p.ns, []byte("campaign\x00"+name)).String()
}

func (p *plan) adGroupID(campaign, adGroup string) string {
	return uuid.NewSHA1(p.ns, []byte("adgroup\x00"+campaign+"\x00"+adGroup)).String()
}

func (p *plan) adID(row int) string {
	return uuid.NewSHA1(p.ns, []byte(fmt.Sprintf("ad\x00%d", row))).String()
}
