package credentials

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Entry is one credential row read from configuration.
type Entry struct {
	Region string
	Secret string
	Active bool
}

// LoadSheet reads credential rows from the first sheet of an .xlsx file.
// Columns are detected from the header: region, secret (or key / api key)
// and an optional active flag.
func LoadSheet(path string) ([]Entry, error) {
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

	regionIdx, secretIdx, activeIdx := -1, -1, -1
	for i, h := range rows[0] {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(l, "region"):
			if regionIdx == -1 {
				regionIdx = i
			}
		case strings.Contains(l, "secret") || strings.Contains(l, "key"):
			if secretIdx == -1 {
				secretIdx = i
			}
		case strings.Contains(l, "active") || strings.Contains(l, "enabled"):
			activeIdx = i
		}
	}
	if regionIdx == -1 || secretIdx == -1 {
		return nil, fmt.Errorf("header must name region and secret columns")
	}

	var out []Entry
	for _, r := range rows[1:] {
		e := Entry{Active: true}
		if regionIdx < len(r) {
			e.Region = strings.ToLower(strings.TrimSpace(r[regionIdx]))
		}
		if secretIdx < len(r) {
			e.Secret = strings.TrimSpace(r[secretIdx])
		}
		if activeIdx >= 0 && activeIdx < len(r) {
			e.Active = parseActive(r[activeIdx])
		}
		// blank rows are common at the bottom of hand-edited sheets
		if e.Secret == "" || e.Region == "" {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// ParseInline parses "region:secret,region:secret".
func ParseInline(s string) ([]Entry, error) {
	var out []Entry
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		region, secret, ok := strings.Cut(part, ":")
		if !ok || strings.TrimSpace(region) == "" || strings.TrimSpace(secret) == "" {
			return nil, fmt.Errorf("malformed credential %q, want region:secret", part)
		}
		out = append(out, Entry{
			Region: strings.ToLower(strings.TrimSpace(region)),
			Secret: strings.TrimSpace(secret),
			Active: true,
		})
	}
	return out, nil
}

// Import registers every entry and returns the new IDs in order. Inactive
// entries are registered and then disabled so the operator can reset them.
func Import(p *Pool, entries []Entry) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		id := p.Register(e.Secret, e.Region)
		if !e.Active {
			c, _ := p.Get(id)
			c.Active = false
			_ = p.Restore(c)
		}
		ids = append(ids, id)
	}
	return ids
}

// ImportSheet loads a sheet and registers its rows in p.
func ImportSheet(p *Pool, path string) ([]string, error) {
	entries, err := LoadSheet(path)
	if err != nil {
		return nil, err
	}
	return Import(p, entries), nil
}

func parseActive(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "false", "no", "n", "off", "disabled":
		return false
	default:
		return true
	}
}
