package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dougwithseismic/dotoro-ads-sub003/internal/engine"
	"github.com/dougwithseismic/dotoro-ads-sub003/internal/storage"
	"github.com/dougwithseismic/dotoro-ads-sub003/internal/variables"
)

// runFile is the YAML document describing one offline generation run.
type runFile struct {
	DataSource struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"dataSource"`
	CampaignConfig  engine.CampaignConfig  `yaml:"campaignConfig"`
	HierarchyConfig engine.HierarchyConfig `yaml:"hierarchyConfig"`
	Rules           []map[string]any       `yaml:"rules"`
	RuleIDs         []string               `yaml:"ruleIds"`
	Limit           int                    `yaml:"limit"`
	Validate        struct {
		Template string `yaml:"template"`
		Field    string `yaml:"field"`
		Platform string `yaml:"platform"`
	} `yaml:"validate"`
}

func readRunFile(path string) (*runFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open run file %s: %w", path, err)
	}
	defer f.Close()

	var rf runFile
	if err := yaml.NewDecoder(f).Decode(&rf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode run file %s: %w", path, err)
	}
	return &rf, nil
}

// readRows loads a CSV (header row required) or a JSON array of objects,
// chosen by file extension.
func readRows(path string) ([]variables.Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rows %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return parseJSONRows(data)
	case ".csv", "":
		return parseCSVRows(data)
	default:
		return nil, fmt.Errorf("unsupported rows format %q (want .csv or .json)", filepath.Ext(path))
	}
}

func parseCSVRows(data []byte) ([]variables.Row, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	header := records[0]
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	rows := make([]variables.Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(variables.Row, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseJSONRows(data []byte) ([]variables.Row, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rows []variables.Row
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("parse json rows: %w", err)
	}
	return rows, nil
}

// load registers the rows and any inline rules in an in-memory store.
// Inline rules are appended to the run's rule ids.
func (rf *runFile) load(rowsPath string, rows []variables.Row) (*storage.Memory, error) {
	if rf.DataSource.ID == "" {
		rf.DataSource.ID = "local"
	}
	if rf.DataSource.Name == "" {
		rf.DataSource.Name = filepath.Base(rowsPath)
	}

	m := storage.NewMemory()
	m.PutDataSource(engine.DataSource{ID: rf.DataSource.ID, Name: rf.DataSource.Name}, rows)
	for i, rule := range rf.Rules {
		id, _ := rule["id"].(string)
		if id == "" {
			id = fmt.Sprintf("inline-%d", i+1)
		}
		raw, err := json.Marshal(rule)
		if err != nil {
			return nil, fmt.Errorf("encode rule %s: %w", id, err)
		}
		m.PutRule(id, raw)
		rf.RuleIDs = append(rf.RuleIDs, id)
	}
	return m, nil
}
