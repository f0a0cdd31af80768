package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/dougwithseismic/dotoro-ads-sub003/internal/limits"
	"github.com/dougwithseismic/dotoro-ads-sub003/internal/variables"
)

// ValidateField substitutes one template against every row of a data source
// and reports rows whose value would exceed the platform limit. No ads are
// built and no rules are applied.
func (e *Engine) ValidateField(ctx context.Context, req ValidateFieldRequest) (*ValidateFieldResponse, error) {
	switch {
	case strings.TrimSpace(req.DataSourceID) == "":
		return nil, newError(CodeInvalidRequest, "dataSourceId is required")
	case strings.TrimSpace(req.Template) == "":
		return nil, newError(CodeInvalidRequest, "template is required")
	case strings.TrimSpace(req.Field) == "":
		return nil, newError(CodeInvalidRequest, "field is required")
	case strings.TrimSpace(req.Platform) == "":
		return nil, newError(CodeInvalidRequest, "platform is required")
	}

	if _, err := e.dataSource(ctx, req.DataSourceID); err != nil {
		return nil, err
	}
	rows, err := e.lookup.DataRows(ctx, req.DataSourceID)
	if err != nil {
		return nil, fmt.Errorf("load rows for data source %s: %w", req.DataSourceID, err)
	}

	resp := &ValidateFieldResponse{
		Success:           true,
		TotalRows:         len(rows),
		InvalidRowDetails: []InvalidRowDetail{},
	}
	limit, bounded := e.opts.Limits.Limit(req.Platform, req.Field)
	if !bounded {
		resp.ValidRows = len(rows)
		resp.Summary = fmt.Sprintf("No character limit applies to %s on %s; all %d rows are valid.", req.Field, req.Platform, len(rows))
		return resp, nil
	}
	resp.Limit = &limit

	tmpl := variables.Parse(req.Template)
	maxOverflow := 0
	for i, row := range rows {
		text := tmpl.Execute(row).Text
		n := limits.Length(text)
		if n <= limit {
			resp.ValidRows++
			continue
		}
		resp.InvalidRows++
		maxOverflow = max(maxOverflow, n-limit)
		if len(resp.InvalidRowDetails) < e.opts.MaxInvalidDetails {
			resp.InvalidRowDetails = append(resp.InvalidRowDetails, InvalidRowDetail{
				RowIndex:        i,
				GeneratedValue:  text,
				GeneratedLength: n,
				Limit:           limit,
				Overflow:        n - limit,
			})
		}
	}

	if resp.InvalidRows == 0 {
		resp.Summary = fmt.Sprintf("All %d rows fit the %d character limit for %s on %s.", len(rows), limit, req.Field, req.Platform)
	} else {
		resp.Summary = fmt.Sprintf("%d of %d rows exceed the %d character limit for %s on %s (largest overflow %d).",
			resp.InvalidRows, len(rows), limit, req.Field, req.Platform, maxOverflow)
	}
	return resp, nil
}
