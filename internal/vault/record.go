package vault

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Record kinds. The kind is stored in the metadata header's `type` field
// and decides which prefix the record file carries and, for gated kinds,
// which effector executes the approved action.
const (
	KindFileDrop   = "file_drop"
	KindEmail      = "email"
	KindEmailSend  = "email_send"
	KindSocialPost = "linkedin_post"
)

// File-name prefixes per kind.
const (
	PrefixFileDrop   = "FILE"
	PrefixEmail      = "EMAIL"
	PrefixEmailSend  = "EMAIL_SEND"
	PrefixSocialPost = "LINKEDIN"
)

// Record statuses. A record is created pending and reaches exactly one
// terminal status when it is archived under Done.
const (
	StatusPending      = "pending"
	StatusPosted       = "posted"
	StatusSucceeded    = "succeeded"
	StatusFailed       = "failed"
	StatusRejected     = "rejected"
	StatusSkippedEmpty = "skipped_empty_body"
)

// Priorities assigned at materialization time.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

const fileStampLayout = "20060102_150405"

// Metadata is the typed key-value header of a record file. Fields not set
// for a given kind are omitted from the rendered header.
type Metadata struct {
	Type         string `yaml:"type"`
	Action       string `yaml:"action,omitempty"`
	Source       string `yaml:"source,omitempty"`
	Status       string `yaml:"status"`
	Priority     string `yaml:"priority,omitempty"`
	EmailID      string `yaml:"email_id,omitempty"`
	Subject      string `yaml:"subject,omitempty"`
	From         string `yaml:"from,omitempty"`
	To           string `yaml:"to,omitempty"`
	CC           string `yaml:"cc,omitempty"`
	Date         string `yaml:"date,omitempty"`
	ThreadID     string `yaml:"thread_id,omitempty"`
	OriginalName string `yaml:"original_name,omitempty"`
	StoredAs     string `yaml:"stored_as,omitempty"`
	FileType     string `yaml:"file_type,omitempty"`
	SizeBytes    int64  `yaml:"size_bytes,omitempty"`
	Size         string `yaml:"size,omitempty"`
	Received     string `yaml:"received,omitempty"`
	Created      string `yaml:"created,omitempty"`
	Expires      string `yaml:"expires,omitempty"`
}

// Record is one persisted unit of work: a file under a stage directory.
type Record struct {
	Name  string
	Stage Stage
	Meta  Metadata
	Body  string
}

// ParseRecordFile splits a record document into its metadata header and
// body. The document must begin with a `---` fence; CRLF input is
// normalized before parsing.
func ParseRecordFile(content []byte) (Metadata, string, error) {
	if len(content) == 0 {
		return Metadata{}, "", ErrMissingHeader
	}
	normalized := normalizeNewlines(content)
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return Metadata{}, "", ErrMissingHeader
	}
	rest := normalized[4:]
	parts := bytes.SplitN(rest, []byte("\n---\n"), 2)
	if len(parts) < 2 {
		if bytes.HasSuffix(rest, []byte("\n---")) {
			parts = [][]byte{rest[:len(rest)-4], nil}
		} else {
			return Metadata{}, "", ErrMalformedHeader
		}
	}
	var meta Metadata
	if err := yaml.Unmarshal(parts[0], &meta); err != nil {
		return Metadata{}, "", fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if strings.TrimSpace(meta.Type) == "" {
		return Metadata{}, "", ErrMalformedHeader
	}
	body := strings.TrimPrefix(string(parts[1]), "\n")
	return meta, body, nil
}

// RenderRecordFile renders metadata + body with YAML fences.
func RenderRecordFile(meta Metadata, body string) ([]byte, error) {
	if strings.TrimSpace(meta.Type) == "" {
		return nil, fmt.Errorf("%w: record metadata missing type", ErrInvalidInput)
	}
	header, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode record header: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(header, "\n"))
	buf.WriteString("\n---\n\n")
	buf.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		buf.WriteString("\n")
	}
	return buf.Bytes(), nil
}

// RecordFileName builds the canonical record file name:
// <PREFIX>_<id>_<YYYYMMDD_HHMMSS>.md. The timestamp gives uniqueness per
// id and a rough chronological sort within a stage listing.
func RecordFileName(prefix, id string, t time.Time) string {
	return fmt.Sprintf("%s_%s_%s.md", prefix, sanitizeNameComponent(id), t.UTC().Format(fileStampLayout))
}

// ArchiveFileName builds the terminal name a record takes under Done:
// <stem>_<status>_<YYYYMMDD_HHMMSS>.md.
func ArchiveFileName(name, status string, t time.Time) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return fmt.Sprintf("%s_%s_%s.md", stem, status, t.UTC().Format(fileStampLayout))
}

// NewRecordID returns a short random id for records whose source supplies
// no natural identifier of its own.
func NewRecordID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// sanitizeNameComponent makes an opaque natural key safe for use inside a
// file name. Deduplication always compares the untouched key; this is
// presentation only.
func sanitizeNameComponent(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unnamed"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if len(out) > 64 {
		out = out[:64]
	}
	return out
}

var extensionCategories = map[string]string{
	".pdf":  "document",
	".doc":  "document",
	".docx": "document",
	".txt":  "text",
	".md":   "markdown",
	".csv":  "data",
	".json": "data",
	".xlsx": "spreadsheet",
	".xls":  "spreadsheet",
	".jpg":  "image",
	".jpeg": "image",
	".png":  "image",
	".gif":  "image",
}

// CategoryForFile classifies a file name into a coarse category by
// extension; unknown extensions fall back to "file".
func CategoryForFile(name string) string {
	if category, ok := extensionCategories[strings.ToLower(filepath.Ext(name))]; ok {
		return category
	}
	return "file"
}

// HumanSize renders a byte count the way the dashboard and file-drop
// records present it.
func HumanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

func normalizeNewlines(content []byte) []byte {
	return bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
}
