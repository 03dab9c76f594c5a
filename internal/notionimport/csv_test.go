package notionimport

import (
	"testing"
	"time"
)

func TestParseMetadataTableHeaderAndRows(t *testing.T) {
	data := []byte("Name,Created\nMy Day,January 2, 2024 3:04 PM\nNotes,2024-06-01 09:30\n")
	times := parseMetadataTable(data)

	if len(times) != 1 {
		// "January 2, 2024 3:04 PM" splits on the embedded comma when
		// unquoted, so only the second row survives.
		t.Fatalf("expected 1 entry, got %d: %v", len(times), times)
	}
	want := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC).UnixMilli()
	if times["Notes"] != want {
		t.Errorf("Notes = %d, want %d", times["Notes"], want)
	}
}

func TestParseMetadataTableQuotedFields(t *testing.T) {
	data := []byte("Name,Created\n\"My Day\",\"January 2, 2024 3:04 PM\"\n\"Say \"\"hi\"\"\",2024-06-01 09:30\n")
	times := parseMetadataTable(data)

	if len(times) != 2 {
		t.Fatalf("expected 2 entries, got %d: %v", len(times), times)
	}
	want := time.Date(2024, 1, 2, 15, 4, 0, 0, time.UTC).UnixMilli()
	if times["My Day"] != want {
		t.Errorf("My Day = %d, want %d", times["My Day"], want)
	}
	if _, ok := times[`Say "hi`]; !ok {
		// Doubled quotes unescape, then trailing punctuation is trimmed
		// from the join key.
		t.Errorf("missing escaped-quote entry, have %v", times)
	}
}

func TestParseMetadataTableSpaceBeforeQuote(t *testing.T) {
	// A space between the delimiter and the opening quote must not keep the
	// quotes inside the field.
	data := []byte("\"My Day.\", \"2023-05-01T10:00:00Z\"\n")
	times := parseMetadataTable(data)

	if len(times) != 1 {
		t.Fatalf("expected 1 entry, got %d: %v", len(times), times)
	}
	want := time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC).UnixMilli()
	if times["My Day"] != want {
		t.Errorf("My Day = %d, want %d", times["My Day"], want)
	}
}

func TestParseMetadataTableNoHeader(t *testing.T) {
	data := []byte("First Entry,2024-06-01 09:30\n")
	times := parseMetadataTable(data)
	if len(times) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(times))
	}
	if _, ok := times["First Entry"]; !ok {
		t.Errorf("headerless table should use columns 0 and 1, have %v", times)
	}
}

func TestParseMetadataTableReorderedHeader(t *testing.T) {
	data := []byte("Created time,Tags,Title\n2024-06-01 09:30,diary,Trip Notes\n")
	times := parseMetadataTable(data)
	if _, ok := times["Trip Notes"]; !ok {
		t.Fatalf("header should map title and time columns, have %v", times)
	}
}

func TestParseMetadataTableSkipsBadRows(t *testing.T) {
	data := []byte("Name,Created\nGood,2024-06-01 09:30\nBad,not a date\n,2024-06-01 09:30\n")
	times := parseMetadataTable(data)
	if len(times) != 1 {
		t.Fatalf("expected only the good row, got %v", times)
	}
}

func TestParseMetadataTableCRLFAndBOM(t *testing.T) {
	data := []byte("\uFEFFName,Created\r\nEntry,2024-06-01 09:30\r\n")
	times := parseMetadataTable(data)
	if _, ok := times["Entry"]; !ok {
		t.Fatalf("BOM or CRLF broke parsing: %v", times)
	}
}

func TestNormalizeTitle(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"My Day.", "My Day"},
		{"My Day", "My Day"},
		{"  Trailing spaces  ", "Trailing spaces"},
		{"Ends with dots...", "Ends with dots"},
		{"Question?", "Question"},
		{"Mid. point stays", "Mid. point stays"},
	}
	for _, tc := range cases {
		if got := normalizeTitle(tc.in); got != tc.want {
			t.Errorf("normalizeTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseTimeLayouts(t *testing.T) {
	for _, value := range []string{
		"2024-06-01T09:30:00Z",
		"2024-06-01T09:30:00.000Z",
		"January 2, 2024 3:04 PM",
		"2024-06-01 09:30",
	} {
		if _, ok := parseTime(value); !ok {
			t.Errorf("parseTime(%q) failed", value)
		}
	}
	if _, ok := parseTime("yesterday"); ok {
		t.Error("parseTime should reject unknown formats")
	}
}
