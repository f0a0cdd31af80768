package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/xxh3"
)

type adGroupNode struct {
	group    AdGroup
	keywords map[string]struct{}
}

type campaignNode struct {
	campaign Campaign
	name     string
	retained bool
	groups   []*adGroupNode
	byName   map[string]*adGroupNode
}

// grouper folds row results into insertion-ordered campaign and ad group
// buckets keyed by resolved name. Only campaigns whose ordinal is below
// sample keep their ads; everything is counted.
type grouper struct {
	plan        *plan
	sample      int // < 0 keeps every campaign
	keepSkipped bool
	now         func() time.Time
	warnings    *warningSet

	campaigns   []*campaignNode
	byName      map[string]*campaignNode
	rows        int
	adGroups    int
	ads         int
	skippedAds  int
	ruleSkipped int
	skipped     []SkippedAdRecord
	ruleMatches map[string]int
}

func newGrouper(p *plan, sample int, keepSkipped bool, now func() time.Time, ws *warningSet) *grouper {
	return &grouper{
		plan:        p,
		sample:      sample,
		keepSkipped: keepSkipped,
		now:         now,
		warnings:    ws,
		byName:      map[string]*campaignNode{},
		ruleMatches: map[string]int{},
	}
}

func (g *grouper) add(res *rowResult) {
	g.rows++
	for _, id := range res.matched {
		g.ruleMatches[id]++
	}
	if res.skipped {
		// intentional exclusion, no warning
		g.ruleSkipped++
		return
	}

	c := g.campaignFor(res)
	ag := g.adGroupFor(c, res)
	for _, w := range res.warnings {
		g.warnings.add(w)
	}
	if c.retained {
		for _, kw := range res.keywords {
			if _, dup := ag.keywords[kw]; !dup {
				ag.keywords[kw] = struct{}{}
				ag.group.Keywords = append(ag.group.Keywords, kw)
			}
		}
	}

	if rejected := g.rejectedFields(res); len(rejected) > 0 {
		g.skippedAds++
		if g.keepSkipped {
			g.skipped = append(g.skipped, g.skipRecord(c, ag, res, rejected))
		}
		return
	}
	g.ads++
	if c.retained {
		ag.group.Ads = append(ag.group.Ads, g.buildAd(res))
	}
}

func (g *grouper) campaignFor(res *rowResult) *campaignNode {
	if c, ok := g.byName[res.campaign]; ok {
		return c
	}
	c := &campaignNode{
		name:     res.campaign,
		retained: g.sample < 0 || len(g.campaigns) < g.sample,
		byName:   map[string]*adGroupNode{},
		campaign: Campaign{
			ID:        g.plan.campaignID(res.campaign),
			Name:      res.campaign,
			Platform:  g.plan.platform,
			Objective: g.plan.objective,
			Budget:    g.plan.resolveBudget(res),
		},
	}
	g.campaigns = append(g.campaigns, c)
	g.byName[res.campaign] = c
	return c
}

func (g *grouper) adGroupFor(c *campaignNode, res *rowResult) *adGroupNode {
	if ag, ok := c.byName[res.adGroup]; ok {
		return ag
	}
	ag := &adGroupNode{group: AdGroup{
		ID:   g.plan.adGroupID(c.name, res.adGroup),
		Name: res.adGroup,
		Ads:  []Ad{},
	}}
	if c.retained {
		ag.keywords = map[string]struct{}{}
	}
	c.groups = append(c.groups, ag)
	c.byName[res.adGroup] = ag
	g.adGroups++
	return ag
}

func (g *grouper) rejectedFields(res *rowResult) []int {
	var out []int
	for i, o := range res.fields {
		if o.Rejected {
			out = append(out, i)
		}
	}
	return out
}

func (g *grouper) skipRecord(c *campaignNode, ag *adGroupNode, res *rowResult, rejected []int) SkippedAdRecord {
	rec := SkippedAdRecord{
		AdGroupID:      ag.group.ID,
		CampaignID:     c.campaign.ID,
		SourceRowIndex: res.index,
		Reason:         ReasonLimitExceeded,
		Overflow:       map[string]int{},
		OriginalAd:     map[string]string{},
		SkippedAt:      g.now(),
	}
	for i, f := range g.plan.fields {
		rec.OriginalAd[f.name] = res.fields[i].Original
	}
	for _, i := range rejected {
		name := g.plan.fields[i].name
		rec.Fields = append(rec.Fields, name)
		rec.Overflow[name] = res.fields[i].Overflow
	}
	return rec
}

func (g *grouper) buildAd(res *rowResult) Ad {
	ad := Ad{ID: g.plan.adID(res.index), SourceRowIndex: res.index}
	values := make([]string, 0, len(res.fields))
	for i, f := range g.plan.fields {
		v := res.fields[i].Value
		values = append(values, f.name+"="+v)
		switch f.name {
		case FieldHeadline:
			ad.Headline = v
		case FieldDescription:
			ad.Description = v
		case FieldDisplayURL:
			ad.DisplayURL = v
		case FieldFinalURL:
			ad.FinalURL = v
		case FieldCallToAction:
			ad.CallToAction = v
		}
	}
	ad.ContentHash = fmt.Sprintf("%016x", xxh3.HashString(strings.Join(values, "\x1f")))
	return ad
}

// materialize returns the retained campaigns in first-seen order.
func (g *grouper) materialize() []Campaign {
	out := []Campaign{}
	for _, c := range g.campaigns {
		if !c.retained {
			break
		}
		camp := c.campaign
		camp.AdGroups = make([]AdGroup, 0, len(c.groups))
		for _, ag := range c.groups {
			camp.AdGroups = append(camp.AdGroups, ag.group)
		}
		out = append(out, camp)
	}
	return out
}
