package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dougwithseismic/dotoro-ads-sub003/internal/variables"
)

// DataSource identifies a tabular source of rows.
type DataSource struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Lookup is supplied by the caller. Missing ids yield nil values and a nil
// error; errors are reserved for the backing store failing.
type Lookup interface {
	DataSource(ctx context.Context, id string) (*DataSource, error)
	DataRows(ctx context.Context, id string) ([]variables.Row, error)
	Rule(ctx context.Context, id string) (json.RawMessage, error)
}

type BudgetConfig struct {
	Type          string `json:"type" yaml:"type"` // daily | lifetime
	AmountPattern string `json:"amountPattern" yaml:"amountPattern"`
	Currency      string `json:"currency" yaml:"currency"`
}

type CampaignConfig struct {
	NamePattern string        `json:"namePattern" yaml:"namePattern"`
	Platform    string        `json:"platform" yaml:"platform"`
	Objective   string        `json:"objective,omitempty" yaml:"objective"`
	Budget      *BudgetConfig `json:"budget,omitempty" yaml:"budget"`
}

type AdMapping struct {
	Headline            string `json:"headline" yaml:"headline"`
	Description         string `json:"description" yaml:"description"`
	DisplayURL          string `json:"displayUrl,omitempty" yaml:"displayUrl"`
	FinalURL            string `json:"finalUrl,omitempty" yaml:"finalUrl"`
	CallToAction        string `json:"callToAction,omitempty" yaml:"callToAction"`
	HeadlineFallback    string `json:"headlineFallback,omitempty" yaml:"headlineFallback"`
	DescriptionFallback string `json:"descriptionFallback,omitempty" yaml:"descriptionFallback"`
}

type HierarchyConfig struct {
	AdGroupNamePattern string    `json:"adGroupNamePattern" yaml:"adGroupNamePattern"`
	Keywords           []string  `json:"keywords,omitempty" yaml:"keywords"`
	AdMapping          AdMapping `json:"adMapping" yaml:"adMapping"`
}

// PreviewRequest asks for full-dataset counts plus a bounded sample.
type PreviewRequest struct {
	DataSourceID    string          `json:"dataSourceId"`
	CampaignConfig  CampaignConfig  `json:"campaignConfig"`
	HierarchyConfig HierarchyConfig `json:"hierarchyConfig"`
	RuleIDs         []string        `json:"ruleIds,omitempty"`
	Limit           int             `json:"limit,omitempty"`
}

// GenerateRequest asks for the complete tree.
type GenerateRequest struct {
	DataSourceID    string          `json:"dataSourceId"`
	CampaignConfig  CampaignConfig  `json:"campaignConfig"`
	HierarchyConfig HierarchyConfig `json:"hierarchyConfig"`
	RuleIDs         []string        `json:"ruleIds,omitempty"`
}

// ValidateFieldRequest checks one template against a whole data source.
type ValidateFieldRequest struct {
	DataSourceID string `json:"dataSourceId"`
	Template     string `json:"template"`
	Field        string `json:"field"`
	Platform     string `json:"platform"`
}

type Budget struct {
	Type     string   `json:"type"`
	Amount   *float64 `json:"amount,omitempty"`
	Currency string   `json:"currency,omitempty"`
}

type Ad struct {
	ID             string `json:"id"`
	Headline       string `json:"headline"`
	Description    string `json:"description"`
	DisplayURL     string `json:"displayUrl,omitempty"`
	FinalURL       string `json:"finalUrl,omitempty"`
	CallToAction   string `json:"callToAction,omitempty"`
	SourceRowIndex int    `json:"sourceRowIndex"`
	ContentHash    string `json:"contentHash"`
}

type AdGroup struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Keywords []string `json:"keywords,omitempty"`
	Ads      []Ad     `json:"ads"`
}

type Campaign struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Platform  string    `json:"platform"`
	Objective string    `json:"objective,omitempty"`
	Budget    *Budget   `json:"budget,omitempty"`
	AdGroups  []AdGroup `json:"adGroups"`
}

// SkippedAdRecord is the audit entry for an ad excluded by a platform limit.
type SkippedAdRecord struct {
	AdGroupID      string            `json:"adGroupId"`
	CampaignID     string            `json:"campaignId"`
	SourceRowIndex int               `json:"sourceRowIndex"`
	Reason         string            `json:"reason"`
	Fields         []string          `json:"fields"`
	Overflow       map[string]int    `json:"overflow"`
	OriginalAd     map[string]string `json:"originalAd"`
	SkippedAt      time.Time         `json:"skippedAt"`
}

const ReasonLimitExceeded = "platform_limit_exceeded"

type Metadata struct {
	DataSourceName string    `json:"dataSourceName"`
	GeneratedAt    time.Time `json:"generatedAt"`
}

type PreviewResponse struct {
	CampaignCount       int        `json:"campaignCount"`
	AdGroupCount        int        `json:"adGroupCount"`
	AdCount             int        `json:"adCount"`
	RowsProcessed       int        `json:"rowsProcessed"`
	SkippedAdCount      int        `json:"skippedAdCount"`
	RuleSkippedRowCount int        `json:"ruleSkippedRowCount"`
	Preview             []Campaign `json:"preview"`
	Warnings            []Warning  `json:"warnings"`
	Metadata            Metadata   `json:"metadata"`
}

type Stats struct {
	TotalCampaigns  int            `json:"totalCampaigns"`
	TotalAdGroups   int            `json:"totalAdGroups"`
	TotalAds        int            `json:"totalAds"`
	RowsProcessed   int            `json:"rowsProcessed"`
	SkippedAds      int            `json:"skippedAds"`
	RuleSkippedRows int            `json:"ruleSkippedRows"`
	RuleMatches     map[string]int `json:"ruleMatches,omitempty"`
}

type GenerateResponse struct {
	Campaigns  []Campaign        `json:"campaigns"`
	Stats      Stats             `json:"stats"`
	SkippedAds []SkippedAdRecord `json:"skippedAds"`
	Warnings   []Warning         `json:"warnings"`
}

type InvalidRowDetail struct {
	RowIndex        int    `json:"rowIndex"`
	GeneratedValue  string `json:"generatedValue"`
	GeneratedLength int    `json:"generatedLength"`
	Limit           int    `json:"limit"`
	Overflow        int    `json:"overflow"`
}

type ValidateFieldResponse struct {
	Success           bool               `json:"success"`
	TotalRows         int                `json:"totalRows"`
	ValidRows         int                `json:"validRows"`
	InvalidRows       int                `json:"invalidRows"`
	Limit             *int               `json:"limit,omitempty"`
	InvalidRowDetails []InvalidRowDetail `json:"invalidRowDetails"`
	Summary           string             `json:"summary"`
}
