package notionimport

import (
	"strings"
	"time"
	"unicode"
)

// timeLayouts are the creation-time formats the export tool is known to emit.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000Z07:00",
	"January 2, 2006 3:04 PM",
	"2006-01-02 15:04",
}

// parseMetadataTable parses the export's index CSV into a map from normalized
// title to creation time in epoch milliseconds. The table's first two columns
// are title and creation time unless a header row names them otherwise. Rows
// whose time field does not parse (including any header row) are skipped —
// the join downstream is best-effort.
func parseMetadataTable(data []byte) map[string]int64 {
	times := make(map[string]int64)
	if len(data) == 0 {
		return times
	}

	titleCol, timeCol := 0, 1
	lines := splitLines(string(data))
	for i, line := range lines {
		fields := parseCSVLine(line)
		if len(fields) == 0 {
			continue
		}
		if i == 0 {
			if tc, cc, ok := headerColumns(fields); ok {
				titleCol, timeCol = tc, cc
				continue
			}
		}
		if len(fields) <= titleCol || len(fields) <= timeCol {
			continue
		}
		title := normalizeTitle(fields[titleCol])
		if title == "" {
			continue
		}
		when, ok := parseTime(fields[timeCol])
		if !ok {
			continue
		}
		times[title] = when.UnixMilli()
	}
	return times
}

// headerColumns recognizes a header row and returns the title and
// creation-time column indexes.
func headerColumns(fields []string) (int, int, bool) {
	titleCol, timeCol := -1, -1
	for i, field := range fields {
		name := strings.ToLower(strings.TrimSpace(field))
		switch {
		case name == "name" || name == "title":
			if titleCol == -1 {
				titleCol = i
			}
		case strings.HasPrefix(name, "created"):
			if timeCol == -1 {
				timeCol = i
			}
		}
	}
	if titleCol >= 0 && timeCol >= 0 {
		return titleCol, timeCol, true
	}
	return 0, 0, false
}

func parseTime(field string) (time.Time, bool) {
	value := strings.TrimSpace(field)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if when, err := time.Parse(layout, value); err == nil {
			return when, true
		}
	}
	return time.Time{}, false
}

// parseCSVLine splits one row into fields, honoring double-quoted fields with
// embedded delimiters and doubled-quote escapes.
func parseCSVLine(line string) []string {
	var fields []string
	var field strings.Builder
	inQuotes := false

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' && inQuotes:
			if i+1 < len(runes) && runes[i+1] == '"' {
				field.WriteRune('"')
				i++
				continue
			}
			inQuotes = false
		case r == '"' && strings.TrimSpace(field.String()) == "":
			// Opening quote; whitespace between the delimiter and the
			// quote belongs to nobody.
			field.Reset()
			inQuotes = true
		case r == ',' && !inQuotes:
			fields = append(fields, field.String())
			field.Reset()
		default:
			field.WriteRune(r)
		}
	}
	fields = append(fields, field.String())

	if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
		return nil
	}
	return fields
}

func splitLines(data string) []string {
	data = strings.ReplaceAll(data, "\r\n", "\n")
	data = strings.TrimPrefix(data, "\uFEFF")
	var lines []string
	for _, line := range strings.Split(data, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// normalizeTitle strips trailing whitespace and punctuation so that export
// title mangling does not break the metadata join. Two documents whose titles
// differ only in trailing punctuation collapse to the same key; the heuristic
// is kept for compatibility with the export format.
func normalizeTitle(title string) string {
	return strings.TrimRightFunc(strings.TrimSpace(title), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
}
