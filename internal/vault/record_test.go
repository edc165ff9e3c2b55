package vault

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseRecordFileRoundTrip(t *testing.T) {
	meta := Metadata{
		Type:     KindEmail,
		Source:   "email_inbox",
		Status:   StatusPending,
		Priority: PriorityHigh,
		EmailID:  "msg-42",
		Subject:  "Quarterly numbers",
		From:     "cfo@example.com",
	}
	body := "# Email: Quarterly numbers\n\nPlease review.\n"

	data, err := RenderRecordFile(meta, body)
	if err != nil {
		t.Fatalf("render record: %v", err)
	}
	if !strings.HasPrefix(string(data), "---\n") {
		t.Fatalf("expected rendered record to start with a fence, got %q", string(data)[:10])
	}

	parsed, parsedBody, err := ParseRecordFile(data)
	if err != nil {
		t.Fatalf("parse record: %v", err)
	}
	if parsed.Type != KindEmail || parsed.EmailID != "msg-42" || parsed.Subject != "Quarterly numbers" {
		t.Fatalf("unexpected parsed metadata: %+v", parsed)
	}
	if parsed.Status != StatusPending || parsed.Priority != PriorityHigh {
		t.Fatalf("unexpected status/priority: %+v", parsed)
	}
	if parsedBody != body {
		t.Fatalf("body round trip mismatch: %q != %q", parsedBody, body)
	}
}

func TestParseRecordFileNormalizesCRLF(t *testing.T) {
	raw := "---\r\ntype: file_drop\r\nstatus: pending\r\n---\r\n\r\nbody line\r\n"
	meta, body, err := ParseRecordFile([]byte(raw))
	if err != nil {
		t.Fatalf("parse CRLF record: %v", err)
	}
	if meta.Type != KindFileDrop {
		t.Fatalf("expected type file_drop, got %q", meta.Type)
	}
	if body != "body line\n" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestParseRecordFileMissingHeader(t *testing.T) {
	for _, raw := range []string{"", "no fences here", "--- not a fence\n"} {
		if _, _, err := ParseRecordFile([]byte(raw)); !errors.Is(err, ErrMissingHeader) {
			t.Fatalf("expected ErrMissingHeader for %q, got %v", raw, err)
		}
	}
}

func TestParseRecordFileMalformedHeader(t *testing.T) {
	cases := map[string]string{
		"unterminated": "---\ntype: email\nstatus: pending\n\nbody without closing fence",
		"bad yaml":     "---\ntype: [unclosed\n---\n\nbody",
		"missing type": "---\nstatus: pending\n---\n\nbody",
	}
	for name, raw := range cases {
		if _, _, err := ParseRecordFile([]byte(raw)); !errors.Is(err, ErrMalformedHeader) {
			t.Fatalf("%s: expected ErrMalformedHeader, got %v", name, err)
		}
	}
}

func TestRecordFileNameEmbedsPrefixIDAndTimestamp(t *testing.T) {
	ts := time.Date(2026, 8, 23, 10, 15, 0, 0, time.UTC)
	name := RecordFileName(PrefixEmailSend, "abc123", ts)
	if name != "EMAIL_SEND_abc123_20260823_101500.md" {
		t.Fatalf("unexpected record file name: %s", name)
	}
}

func TestArchiveFileNameAppendsStatusSuffix(t *testing.T) {
	ts := time.Date(2026, 8, 23, 18, 0, 5, 0, time.UTC)
	got := ArchiveFileName("LINKEDIN_abc_20260823_101500.md", StatusPosted, ts)
	if got != "LINKEDIN_abc_20260823_101500_posted_20260823_180005.md" {
		t.Fatalf("unexpected archive name: %s", got)
	}
}

func TestSanitizeNameComponentReplacesUnsafeRunes(t *testing.T) {
	if got := sanitizeNameComponent("weekly report (v2).pdf"); got != "weekly_report__v2_.pdf" {
		t.Fatalf("unexpected sanitized name: %s", got)
	}
	if got := sanitizeNameComponent("   "); got != "unnamed" {
		t.Fatalf("expected unnamed for blank input, got %s", got)
	}
}

func TestCategoryForFile(t *testing.T) {
	cases := map[string]string{
		"report.PDF": "document",
		"notes.md":   "markdown",
		"data.csv":   "data",
		"photo.jpeg": "image",
		"sheet.xlsx": "spreadsheet",
		"readme.txt": "text",
		"archive.7z": "file",
	}
	for name, want := range cases {
		if got := CategoryForFile(name); got != want {
			t.Fatalf("category for %s: expected %s, got %s", name, want, got)
		}
	}
}

func TestHumanSize(t *testing.T) {
	cases := map[int64]string{
		512:             "512 B",
		2048:            "2.0 KB",
		1536 * 1024:     "1.5 MB",
		3 * 1024 * 1024: "3.0 MB",
	}
	for n, want := range cases {
		if got := HumanSize(n); got != want {
			t.Fatalf("human size for %d: expected %s, got %s", n, want, got)
		}
	}
}
