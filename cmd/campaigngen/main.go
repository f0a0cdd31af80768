package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dougwithseismic/dotoro-ads-sub003/internal/config"
	"github.com/dougwithseismic/dotoro-ads-sub003/internal/engine"
	"github.com/dougwithseismic/dotoro-ads-sub003/internal/limits"
	"github.com/dougwithseismic/dotoro-ads-sub003/internal/storage"
	"github.com/dougwithseismic/dotoro-ads-sub003/internal/variables"
)

var (
	rowsPath   string
	runPath    string
	limitsPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:          "campaigngen",
	Short:        "Generate ad campaigns from a data file",
	Long:         `Runs the campaign generator offline against a CSV or JSON rows file and prints JSON.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.SetupLogging(logLevel)
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Count the generated tree and show a sample of campaigns",
	RunE:  runPreview,
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Build every campaign, ad group and ad",
	RunE:  runGenerate,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check one field template against the platform limit for every row",
	RunE:  runValidate,
}

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Print per-row character counts of the ad fields",
	RunE:  runEstimate,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rowsPath, "rows", "", "CSV or JSON rows file")
	rootCmd.PersistentFlags().StringVar(&runPath, "run", "", "YAML run file (campaign, hierarchy, rules)")
	rootCmd.PersistentFlags().StringVar(&limitsPath, "limits", "", "YAML platform limit overrides")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level")
	_ = rootCmd.MarkPersistentFlagRequired("rows")
	_ = rootCmd.MarkPersistentFlagRequired("run")

	rootCmd.AddCommand(previewCmd, generateCmd, validateCmd, estimateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type session struct {
	run  *runFile
	eng  *engine.Engine
	rows []variables.Row
}

func openSession() (*session, error) {
	rf, err := readRunFile(runPath)
	if err != nil {
		return nil, err
	}
	rows, err := readRows(rowsPath)
	if err != nil {
		return nil, err
	}
	m, err := rf.load(rowsPath, rows)
	if err != nil {
		return nil, err
	}

	tbl := limits.Default()
	if limitsPath != "" {
		if tbl, err = tbl.LoadFile(limitsPath); err != nil {
			return nil, err
		}
	}
	eng := engine.NewEngine(storage.Lookup{RowSource: m, RuleSource: m}, engine.Options{Limits: tbl})
	return &session{run: rf, eng: eng, rows: rows}, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runPreview(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	resp, err := s.eng.Preview(context.Background(), engine.PreviewRequest{
		DataSourceID:    s.run.DataSource.ID,
		CampaignConfig:  s.run.CampaignConfig,
		HierarchyConfig: s.run.HierarchyConfig,
		RuleIDs:         s.run.RuleIDs,
		Limit:           s.run.Limit,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd, resp)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	resp, err := s.eng.Generate(context.Background(), engine.GenerateRequest{
		DataSourceID:    s.run.DataSource.ID,
		CampaignConfig:  s.run.CampaignConfig,
		HierarchyConfig: s.run.HierarchyConfig,
		RuleIDs:         s.run.RuleIDs,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd, resp)
}

func runValidate(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	v := s.run.Validate
	if v.Platform == "" {
		v.Platform = s.run.CampaignConfig.Platform
	}
	resp, err := s.eng.ValidateField(context.Background(), engine.ValidateFieldRequest{
		DataSourceID: s.run.DataSource.ID,
		Template:     v.Template,
		Field:        v.Field,
		Platform:     v.Platform,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd, resp)
}

type rowEstimate struct {
	RowIndex int            `json:"rowIndex"`
	Lengths  map[string]int `json:"lengths"`
	Over     []string       `json:"over,omitempty"`
}

func runEstimate(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	return printJSON(cmd, estimate(s.run, s.eng.Limits(), s.rows))
}

func estimate(rf *runFile, tbl *limits.Table, rows []variables.Row) []rowEstimate {
	am := rf.HierarchyConfig.AdMapping
	fields := map[string]string{}
	for name, tpl := range map[string]string{
		"headline":     am.Headline,
		"description":  am.Description,
		"displayUrl":   am.DisplayURL,
		"finalUrl":     am.FinalURL,
		"callToAction": am.CallToAction,
	} {
		if tpl != "" {
			fields[name] = tpl
		}
	}

	out := make([]rowEstimate, 0, len(rows))
	for i, row := range rows {
		est := rowEstimate{RowIndex: i, Lengths: variables.Estimate(fields, row)}
		for _, name := range []string{"headline", "description", "displayUrl", "finalUrl", "callToAction"} {
			n, ok := est.Lengths[name]
			if !ok {
				continue
			}
			if max, bounded := tbl.Limit(rf.CampaignConfig.Platform, name); bounded && n > max {
				est.Over = append(est.Over, fmt.Sprintf("%s (%d > %d)", name, n, max))
			}
		}
		out = append(out, est)
	}
	return out
}
