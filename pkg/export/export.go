package export

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	errs "camclass/pkg/errors"
	"camclass/pkg/logger"
	"camclass/pkg/models"
)

// Format selects the report rendering
type Format string

const (
	FormatCSV  Format = "csv"
	FormatHTML Format = "html"
)

// ParseFormat validates a format name
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "csv":
		return FormatCSV, nil
	case "html":
		return FormatHTML, nil
	default:
		return "", errs.Newf(errs.ErrorTypeUnknown, "unsupported export format %q", s)
	}
}

// Exporter renders classification results as a tabular report with one
// row per result and a search link per predicted label. The input order
// is preserved: callers pass results already sorted in enumeration order.
type Exporter struct {
	format Format
	logger logger.Logger
}

// New creates an exporter for the given format
func New(format Format) *Exporter {
	return &Exporter{
		format: format,
		logger: logger.GetLogger(),
	}
}

// Export renders the results and writes the artifact to destination.
// The file is written to a temp path and renamed, so a concurrent reader
// never observes a partial report.
func (e *Exporter) Export(results []models.ClassificationResult, destination string) error {
	rendered := e.render(results)

	if dir := filepath.Dir(destination); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errs.Wrap(errs.ErrorTypeStorage, "failed to create export directory", err)
		}
	}

	tempPath := destination + ".tmp"
	if err := os.WriteFile(tempPath, []byte(rendered), 0644); err != nil {
		os.Remove(tempPath)
		return errs.Wrap(errs.ErrorTypeStorage, "failed to write report", err)
	}
	if err := os.Rename(tempPath, destination); err != nil {
		os.Remove(tempPath)
		return errs.Wrap(errs.ErrorTypeStorage, "failed to replace report", err)
	}

	e.logger.InfoWithFields("Report exported", map[string]interface{}{
		"destination": destination,
		"rows":        len(results),
		"format":      string(e.format),
	})

	return nil
}

// render builds the table in the requested format
func (e *Exporter) render(results []models.ClassificationResult) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Group", "Block", "Camera", "Label", "Link", "Date", "Time", "Status"})

	for _, r := range results {
		date, clock := "", ""
		if r.CapturedAt != nil {
			date = r.CapturedAt.Format("2006-01-02")
			clock = r.CapturedAt.Format("15:04:05")
		}

		link := SearchLink(r.Label)
		if e.format == FormatHTML {
			link = fmt.Sprintf(`<a href="%s">%s</a>`, link, labelOrSentinel(r.Label))
		}

		t.AppendRow(table.Row{
			r.Item.GroupLabel,
			r.Item.BlockID,
			r.Item.CameraID,
			labelOrSentinel(r.Label),
			link,
			date,
			clock,
			string(r.Status),
		})
	}

	if e.format == FormatHTML {
		t.Style().HTML.EscapeText = false
		return t.RenderHTML()
	}
	return t.RenderCSV()
}

// SearchLink returns a web search URL for the predicted label, used as
// the clickable cross-reference in the report.
func SearchLink(label string) string {
	query := labelOrSentinel(label)
	if query == models.UnidentifiedLabel {
		query = "wildlife image unidentified"
	}
	return "https://www.google.com/search?q=" + url.QueryEscape(query)
}

func labelOrSentinel(label string) string {
	if label == "" {
		return models.UnidentifiedLabel
	}
	return label
}
