// Package vault implements a file-backed store of human-reviewable work
// items and the watcher machinery that feeds it. Records live as Markdown
// files with a YAML metadata header, one directory per workflow stage, and
// move between stages by rename. Rename atomicity is the only filesystem
// guarantee relied upon: there are no cross-record transactions, and every
// record has a single writer at a time.
package vault

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates the requested record does not exist in the
	// given stage.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates a caller-supplied value failed validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStageConflict indicates a stage transition outside the allowed
	// workflow order.
	ErrStageConflict = errors.New("stage conflict")
	// ErrMissingHeader indicates a record document without a metadata
	// header fence.
	ErrMissingHeader = errors.New("missing metadata header")
	// ErrMalformedHeader indicates a metadata header that could not be
	// decoded.
	ErrMalformedHeader = errors.New("malformed metadata header")
	// ErrNotImplemented indicates a recognized but unsupported backend
	// scheme.
	ErrNotImplemented = errors.New("not implemented")
)

// StageError reports an attempted move between two stages that the
// workflow does not allow.
type StageError struct {
	Name string
	From Stage
	To   Stage
}

func (e *StageError) Error() string {
	return fmt.Sprintf("record %q cannot move from %s to %s", e.Name, e.From, e.To)
}

// Is lets callers detect stage conflicts with errors.Is(err, ErrStageConflict).
func (e *StageError) Is(target error) bool {
	return target == ErrStageConflict
}

// Stage names a workflow directory under the vault root.
type Stage string

const (
	StageDropFolder      Stage = "Drop_Folder"
	StageNeedsAction     Stage = "Needs_Action"
	StagePendingApproval Stage = "Pending_Approval"
	StageApproved        Stage = "Approved"
	StageRejected        Stage = "Rejected"
	StageDone            Stage = "Done"
)

// Stages lists every workflow directory in pipeline order.
var Stages = []Stage{
	StageDropFolder,
	StageNeedsAction,
	StagePendingApproval,
	StageApproved,
	StageRejected,
	StageDone,
}

const (
	// LogsDirName is the audit log directory under the vault root. It is
	// not a workflow stage.
	LogsDirName = "Logs"
	// DashboardFileName is the aggregate status artifact at the vault
	// root.
	DashboardFileName = "Dashboard.md"
)

// allowedTransitions encodes the monotonic workflow order for MoveRecord.
// Terminal archival into Done goes through ArchiveRecord instead.
var allowedTransitions = map[Stage]map[Stage]bool{
	StageNeedsAction:     {StagePendingApproval: true},
	StagePendingApproval: {StageApproved: true, StageRejected: true},
}

// StoreOptions configures a Store. Zero values select defaults.
type StoreOptions struct {
	// Root is the vault root directory. Required.
	Root string
	// Clock overrides the time source for archive names. Defaults to
	// time.Now.
	Clock func() time.Time
}

// Store is a directory-per-stage record store rooted at a single local
// directory tree.
type Store struct {
	root string
	now  func() time.Time
}

// NewStore creates a Store rooted at dir with default options.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithOptions(StoreOptions{Root: dir})
}

// NewStoreWithOptions creates a Store from explicit options.
func NewStoreWithOptions(opts StoreOptions) (*Store, error) {
	if strings.TrimSpace(opts.Root) == "" {
		return nil, fmt.Errorf("%w: store root is required", ErrInvalidInput)
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Store{root: opts.Root, now: now}, nil
}

// Root returns the vault root directory.
func (s *Store) Root() string {
	return s.root
}

// Init creates the stage directories and the audit log directory. It is
// idempotent.
func (s *Store) Init() error {
	for _, stage := range Stages {
		if err := os.MkdirAll(s.Dir(stage), 0o755); err != nil {
			return fmt.Errorf("create stage %s: %w", stage, err)
		}
	}
	if err := os.MkdirAll(s.LogsDir(), 0o755); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}
	return nil
}

// Dir returns the absolute directory of a stage.
func (s *Store) Dir(stage Stage) string {
	return filepath.Join(s.root, string(stage))
}

// LogsDir returns the audit log directory.
func (s *Store) LogsDir() string {
	return filepath.Join(s.root, LogsDirName)
}

// DashboardPath returns the path of the aggregate status artifact.
func (s *Store) DashboardPath() string {
	return filepath.Join(s.root, DashboardFileName)
}

// WriteRecord renders and writes a record into a stage. The write is
// atomic: content lands in a temp file first and becomes visible by
// rename, so a concurrent listing never observes a partial record.
func (s *Store) WriteRecord(stage Stage, name string, meta Metadata, body string) error {
	if err := validateStage(stage); err != nil {
		return err
	}
	if err := validateName(name); err != nil {
		return err
	}
	data, err := RenderRecordFile(meta, body)
	if err != nil {
		return err
	}
	return s.writeFileAtomic(filepath.Join(s.Dir(stage), name), data)
}

// ReadRecord loads and parses one record from a stage.
func (s *Store) ReadRecord(stage Stage, name string) (*Record, error) {
	if err := validateStage(stage); err != nil {
		return nil, err
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.Dir(stage), name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, stage, name)
		}
		return nil, fmt.Errorf("read record %s/%s: %w", stage, name, err)
	}
	meta, body, err := ParseRecordFile(data)
	if err != nil {
		return nil, fmt.Errorf("parse record %s/%s: %w", stage, name, err)
	}
	return &Record{Name: name, Stage: stage, Meta: meta, Body: body}, nil
}

// ListStage returns the non-hidden file names in a stage, sorted. Temp
// files from in-flight atomic writes are excluded.
func (s *Store) ListStage(stage Stage) ([]string, error) {
	if err := validateStage(stage); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.Dir(stage))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: stage %s", ErrNotFound, stage)
		}
		return nil, fmt.Errorf("list stage %s: %w", stage, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ListRecords parses every record file in a stage, sorted by name.
// Non-record files (payload copies, stray artifacts) are skipped.
func (s *Store) ListRecords(stage Stage) ([]*Record, error) {
	names, err := s.ListStage(stage)
	if err != nil {
		return nil, err
	}
	records := make([]*Record, 0, len(names))
	for _, name := range names {
		if !strings.HasSuffix(name, ".md") {
			continue
		}
		rec, err := s.ReadRecord(stage, name)
		if err != nil {
			if errors.Is(err, ErrMissingHeader) || errors.Is(err, ErrMalformedHeader) {
				continue
			}
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// CountStage returns the number of non-hidden entries in a stage.
func (s *Store) CountStage(stage Stage) (int, error) {
	names, err := s.ListStage(stage)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// Counts returns the per-stage entry counts for every workflow stage.
func (s *Store) Counts() (map[Stage]int, error) {
	counts := make(map[Stage]int, len(Stages))
	for _, stage := range Stages {
		n, err := s.CountStage(stage)
		if err != nil {
			return nil, err
		}
		counts[stage] = n
	}
	return counts, nil
}

// MoveRecord renames a record from one stage to another. Only forward
// workflow transitions are allowed; anything else returns a StageError.
func (s *Store) MoveRecord(name string, from, to Stage) error {
	if err := validateStage(from); err != nil {
		return err
	}
	if err := validateStage(to); err != nil {
		return err
	}
	if err := validateName(name); err != nil {
		return err
	}
	if !allowedTransitions[from][to] {
		return &StageError{Name: name, From: from, To: to}
	}
	oldPath := filepath.Join(s.Dir(from), name)
	newPath := filepath.Join(s.Dir(to), name)
	if err := os.Rename(oldPath, newPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, from, name)
		}
		return fmt.Errorf("move record %s from %s to %s: %w", name, from, to, err)
	}
	return nil
}

// ArchiveRecord gives a record its terminal status and moves it into Done
// under a status-suffixed name. The archive is written first and the
// original removed second; a crash between the two steps leaves a
// duplicate, never a loss.
func (s *Store) ArchiveRecord(name string, from Stage, status string) (string, error) {
	if err := validateStage(from); err != nil {
		return "", err
	}
	if from == StageDone || from == StageDropFolder {
		return "", &StageError{Name: name, From: from, To: StageDone}
	}
	rec, err := s.ReadRecord(from, name)
	if err != nil {
		return "", err
	}
	rec.Meta.Status = status
	archived := ArchiveFileName(name, status, s.now())
	if err := s.WriteRecord(StageDone, archived, rec.Meta, rec.Body); err != nil {
		return "", err
	}
	if err := os.Remove(filepath.Join(s.Dir(from), name)); err != nil {
		return "", fmt.Errorf("remove archived record %s/%s: %w", from, name, err)
	}
	return archived, nil
}

// CopyIn copies an external file into a stage under destName. The copy
// goes through a temp file so partially-copied payloads are never listed.
func (s *Store) CopyIn(srcPath string, stage Stage, destName string) error {
	if err := validateStage(stage); err != nil {
		return err
	}
	if err := validateName(destName); err != nil {
		return err
	}
	src, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, srcPath)
		}
		return fmt.Errorf("open source %s: %w", srcPath, err)
	}
	defer src.Close()

	destPath := filepath.Join(s.Dir(stage), destName)
	tmpPath := destPath + ".tmp"
	dest, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp copy %s: %w", tmpPath, err)
	}
	if _, err := io.Copy(dest, src); err != nil {
		dest.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("copy %s into %s: %w", srcPath, stage, err)
	}
	if err := dest.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp copy %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("finalize copy %s: %w", destPath, err)
	}
	return nil
}

// ReplaceDashboard atomically replaces the aggregate status artifact.
func (s *Store) ReplaceDashboard(content []byte) error {
	return s.writeFileAtomic(s.DashboardPath(), content)
}

func (s *Store) writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("finalize %s: %w", path, err)
	}
	return nil
}

func validateStage(stage Stage) error {
	for _, known := range Stages {
		if stage == known {
			return nil
		}
	}
	return fmt.Errorf("%w: unknown stage %q", ErrInvalidInput, stage)
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: record name is required", ErrInvalidInput)
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: record name %q must not contain path separators", ErrInvalidInput, name)
	}
	return nil
}
