// Package dataset reads batch call lists from spreadsheets.
package dataset

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"voice-qc-go/internal/logger"
	"voice-qc-go/internal/types"
)

// Load reads call rows from the first sheet of path. Columns are detected
// from the header; rows whose audio link is not an http(s) URL are skipped.
func Load(path string) ([]types.CallRecord, error) {
	log := logger.New().WithComponent("dataset").WithField("path", path)

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, fmt.Errorf("no data rows")
	}

	audioIdx, idIdx, regionIdx, langIdx := -1, -1, -1, -1
	for i, h := range rows[0] {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(l, "audio") || strings.Contains(l, "record") || strings.Contains(l, "url") || strings.Contains(l, "link"):
			if audioIdx == -1 {
				audioIdx = i
			}
		case strings.Contains(l, "region"):
			if regionIdx == -1 {
				regionIdx = i
			}
		case strings.Contains(l, "lang"):
			if langIdx == -1 {
				langIdx = i
			}
		case strings.Contains(l, "id"):
			if idIdx == -1 {
				idIdx = i
			}
		}
	}
	if audioIdx == -1 {
		return nil, fmt.Errorf("no audio url column in header %v", rows[0])
	}

	cell := func(r []string, i int) string {
		if i >= 0 && i < len(r) {
			return strings.TrimSpace(r[i])
		}
		return ""
	}

	var out []types.CallRecord
	skipped := 0
	for i, r := range rows[1:] {
		rec := types.CallRecord{
			CallID:   cell(r, idIdx),
			AudioURL: cell(r, audioIdx),
			Region:   cell(r, regionIdx),
			Language: cell(r, langIdx),
		}
		u := strings.ToLower(rec.AudioURL)
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			skipped++
			continue
		}
		if rec.CallID == "" {
			rec.CallID = fmt.Sprintf("row-%d", i+2)
		}
		out = append(out, rec)
	}
	log.WithFields(logrus.Fields{"calls": len(out), "skipped": skipped}).Info("dataset loaded")
	return out, nil
}
