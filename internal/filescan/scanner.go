package filescan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Wikid82/argus/internal/signatures"
)

var (
	ErrOutsideUploadRoot = errors.New("path outside upload root")
	ErrTooLarge          = errors.New("file exceeds scan size limit")
)

const (
	DefaultMaxBytes = 32 << 20

	// HashMatchID identifies the synthetic finding produced by a known-bad
	// digest.
	HashMatchID = "known-bad-hash"
)

// Upload is a file written under the upload root and awaiting a verdict.
type Upload struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// Result is the immutable outcome of one scan.
type Result struct {
	ScanID     string               `json:"scan_id"`
	Clean      bool                 `json:"clean"`
	Severity   signatures.Severity  `json:"severity"`
	Findings   []signatures.Summary `json:"findings"`
	Hashes     Hashes               `json:"hashes"`
	HashMatch  string               `json:"hash_match,omitempty"`
	DurationMs int64                `json:"duration_ms"`
	ScannedAt  time.Time            `json:"scanned_at"`
	Error      string               `json:"error,omitempty"`
}

type Config struct {
	UploadRoot    string
	QuarantineDir string
	MaxBytes      int64
	Catalog       *signatures.Catalog
	BadHashes     *HashSet
	Now           func() time.Time
}

// Scanner hashes and signature-scans uploads and moves positives into the
// quarantine store.
type Scanner struct {
	cfg  Config
	root string

	scans       atomic.Int64
	positives   atomic.Int64
	failures    atomic.Int64
	quarantined atomic.Int64
	deleted     atomic.Int64
	scanNanos   atomic.Int64
}

// NewScanner creates the upload root and quarantine directory if needed.
func NewScanner(cfg Config) (*Scanner, error) {
	if cfg.UploadRoot == "" || cfg.QuarantineDir == "" {
		return nil, fmt.Errorf("upload root and quarantine dir are required")
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Catalog == nil {
		cfg.Catalog = signatures.Default()
	}
	if cfg.BadHashes == nil {
		cfg.BadHashes = DefaultHashSet()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if err := os.MkdirAll(cfg.UploadRoot, 0o750); err != nil {
		return nil, fmt.Errorf("create upload root: %w", err)
	}
	if err := os.MkdirAll(cfg.QuarantineDir, 0o700); err != nil {
		return nil, fmt.Errorf("create quarantine dir: %w", err)
	}
	root, err := filepath.Abs(cfg.UploadRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve upload root: %w", err)
	}
	if root, err = filepath.EvalSymlinks(root); err != nil {
		return nil, fmt.Errorf("resolve upload root: %w", err)
	}
	return &Scanner{cfg: cfg, root: root}, nil
}

// UploadRoot is the resolved directory uploads must live under.
func (s *Scanner) UploadRoot() string { return s.root }

// resolve returns the resolved path of p after checking it stays inside the
// upload root.
func (s *Scanner) resolve(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(s.root, resolved)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", ErrOutsideUploadRoot
	}
	return resolved, nil
}

// Scan hashes u and runs every malware signature over it. Any error leaves
// the result not clean.
func (s *Scanner) Scan(ctx context.Context, u Upload) (res Result, err error) {
	start := time.Now()
	res = Result{ScanID: uuid.NewString(), ScannedAt: s.cfg.Now()}
	defer func() {
		elapsed := time.Since(start)
		res.DurationMs = elapsed.Milliseconds()
		s.scanNanos.Add(int64(elapsed))
		s.scans.Add(1)
	}()

	data, err := s.read(ctx, u.Path)
	if err != nil {
		s.failures.Add(1)
		res.Error = err.Error()
		return res, err
	}

	res.Hashes = computeHashes(data)
	if digest, bad := s.cfg.BadHashes.Match(res.Hashes); bad {
		res.HashMatch = digest
		res.Findings = append(res.Findings, signatures.Summary{
			ID:             HashMatchID,
			Category:       signatures.CategoryMalware,
			Kind:           "hash",
			Severity:       signatures.SeverityCritical,
			Description:    "content digest matches a known-bad hash",
			Countermeasure: "quarantine the file and review its origin",
		})
	}

	if err := ctx.Err(); err != nil {
		s.failures.Add(1)
		res.Error = err.Error()
		return res, err
	}

	text := []string{string(data)}
	if utf8.Valid(data) {
		text = signatures.Variants(string(data))
	}
	matches := signatures.Match(signatures.Subject{Raw: data, Text: text}, s.cfg.Catalog.ByCategory(signatures.CategoryMalware))
	res.Findings = append(res.Findings, signatures.Summaries(matches)...)

	res.Severity = signatures.AggregateSeverity(matches)
	if res.HashMatch != "" {
		res.Severity = signatures.SeverityCritical
	}
	res.Clean = len(res.Findings) == 0
	if !res.Clean {
		s.positives.Add(1)
	}
	return res, nil
}

func (s *Scanner) read(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resolved, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(resolved)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.cfg.MaxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

// Discard removes u from the upload root.
func (s *Scanner) Discard(u Upload) error {
	resolved, err := s.resolve(u.Path)
	if err != nil {
		return err
	}
	if err := os.Remove(resolved); err != nil {
		return fmt.Errorf("remove upload: %w", err)
	}
	s.deleted.Add(1)
	return nil
}

// Stats are the running scan counters.
type Stats struct {
	Scans       int64   `json:"scans"`
	Positives   int64   `json:"positives"`
	Failures    int64   `json:"failures"`
	Quarantined int64   `json:"quarantined"`
	Deleted     int64   `json:"deleted"`
	TotalScanMs int64   `json:"total_scan_ms"`
	AvgScanMs   float64 `json:"avg_scan_ms"`
}

func (s *Scanner) Stats() Stats {
	st := Stats{
		Scans:       s.scans.Load(),
		Positives:   s.positives.Load(),
		Failures:    s.failures.Load(),
		Quarantined: s.quarantined.Load(),
		Deleted:     s.deleted.Load(),
	}
	nanos := s.scanNanos.Load()
	st.TotalScanMs = time.Duration(nanos).Milliseconds()
	if st.Scans > 0 {
		st.AvgScanMs = float64(nanos) / float64(st.Scans) / float64(time.Millisecond)
	}
	return st
}
