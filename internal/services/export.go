package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/soaringjerry/csat/internal/models"
)

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"

	exportSheet = "Submissions"
)

type ExportStore interface {
	ListSubmissionsAscending(ctx context.Context) ([]models.Submission, error)
}

type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
}

type ExportService struct {
	store   ExportStore
	catalog QuestionSource
	now     func() time.Time
}

func NewExportService(store ExportStore, catalog QuestionSource) *ExportService {
	return &ExportService{store: store, catalog: catalog, now: func() time.Time { return time.Now().UTC() }}
}

// exportTable is the format-neutral shape both writers render. Cells are
// string, int64 or float64.
type exportTable struct {
	header []string
	rows   [][]any
}

// Export renders every submission, oldest first, as csv (default) or xlsx.
func (s *ExportService) Export(ctx context.Context, format string) (*ExportResult, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatCSV
	}
	if format != FormatCSV && format != FormatXLSX {
		return nil, NewInvalidError("format must be csv or xlsx")
	}
	subs, err := s.store.ListSubmissionsAscending(ctx)
	if err != nil {
		return nil, err
	}
	table := buildExportTable(s.catalog.Questions(), subs)
	stamp := s.now().Format("20060102-150405")

	if format == FormatXLSX {
		data, err := renderXLSX(table)
		if err != nil {
			return nil, err
		}
		return &ExportResult{
			Filename:    "submissions-" + stamp + ".xlsx",
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Data:        data,
		}, nil
	}
	data, err := renderCSV(table)
	if err != nil {
		return nil, err
	}
	return &ExportResult{Filename: "submissions-" + stamp + ".csv", ContentType: "text/csv; charset=utf-8", Data: data}, nil
}

// buildExportTable lays out one row per submission. Meta columns are the
// union of keys across submissions, sorted; question columns follow the
// catalog and hold the raw satisfaction of relevant answers.
func buildExportTable(questions []models.Question, subs []models.Submission) exportTable {
	metaSet := map[string]struct{}{}
	for _, sub := range subs {
		for k := range sub.Meta {
			metaSet[k] = struct{}{}
		}
	}
	metaKeys := make([]string, 0, len(metaSet))
	for k := range metaSet {
		metaKeys = append(metaKeys, k)
	}
	sort.Strings(metaKeys)

	header := []string{"id", "email", "created_at"}
	for _, k := range metaKeys {
		header = append(header, "meta."+k)
	}
	header = append(header, "overall", "onboard", "ashore", "remark", "file_path")
	for _, q := range questions {
		header = append(header, q.Code)
	}

	rows := make([][]any, 0, len(subs))
	for _, sub := range subs {
		row := make([]any, 0, len(header))
		row = append(row, sub.ID, sub.Email, sub.CreatedAt.UTC().Format(time.RFC3339))
		for _, k := range metaKeys {
			row = append(row, metaString(sub.Meta[k]))
		}
		row = append(row, sub.Scores.Overall, sub.Scores.Onboard, sub.Scores.Ashore, sub.Remark, sub.AttachmentPath)

		byCode := make(map[string]models.Answer, len(sub.Answers))
		for _, a := range sub.Answers {
			byCode[a.Code] = a
		}
		for _, q := range questions {
			a, ok := byCode[q.Code]
			if !ok || !a.Relevant || a.Satisfaction == nil {
				row = append(row, "")
				continue
			}
			row = append(row, int64(*a.Satisfaction))
		}
		rows = append(rows, row)
	}
	return exportTable{header: header, rows: rows}
}

func metaString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// neutralizeFormula prefixes text a spreadsheet would evaluate as a formula.
func neutralizeFormula(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	}
	return s
}

func cellText(v any) string {
	switch t := v.(type) {
	case string:
		return neutralizeFormula(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return neutralizeFormula(fmt.Sprint(t))
	}
}

func renderCSV(t exportTable) ([]byte, error) {
	buf := &bytes.Buffer{}
	// BOM so spreadsheet apps detect UTF-8.
	buf.WriteString("\uFEFF")
	w := csv.NewWriter(buf)
	if err := w.Write(t.header); err != nil {
		return nil, err
	}
	for _, row := range t.rows {
		rec := make([]string, len(row))
		for i, v := range row {
			rec[i] = cellText(v)
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func renderXLSX(t exportTable) (data []byte, err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0EBF5"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}

	header := make([]any, len(t.header))
	for i, h := range t.header {
		header[i] = h
	}
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(t.header), 1)
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(exportSheet, "A1", last, headerStyle); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}

	for i, row := range t.rows {
		cells := make([]any, len(row))
		for j, v := range row {
			if s, ok := v.(string); ok {
				cells[j] = neutralizeFormula(s)
				continue
			}
			cells[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(exportSheet, cell, &cells); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := f.SetPanes(exportSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}
