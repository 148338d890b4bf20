package filescan

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Wikid82/argus/internal/signatures"
)

var ErrReportExists = errors.New("forensic report already exists for scan")

// FileMeta is what the uploader told us about the file.
type FileMeta struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// QuarantineRecord describes one isolated file.
type QuarantineRecord struct {
	ScanID         string               `json:"scan_id"`
	OriginalPath   string               `json:"original_path"`
	QuarantinePath string               `json:"quarantine_path"`
	ReportPath     string               `json:"report_path"`
	Severity       signatures.Severity  `json:"severity"`
	Findings       []signatures.Summary `json:"findings"`
	Hashes         Hashes               `json:"hashes"`
	QuarantinedAt  time.Time            `json:"quarantined_at"`
	File           FileMeta             `json:"file"`
}

// Report is the forensic JSON document written beside a quarantined file.
type Report struct {
	Quarantine QuarantineRecord `json:"quarantine"`
	Scan       Result           `json:"scan"`
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func safeBase(name string) string {
	name = unsafeName.ReplaceAllString(filepath.Base(name), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "upload"
	}
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

// Quarantine moves u out of the upload root into the quarantine store and
// writes one forensic report named after the scan id. It refuses paths that
// resolve outside the upload root.
func (s *Scanner) Quarantine(u Upload, res Result) (QuarantineRecord, error) {
	if res.ScanID == "" {
		return QuarantineRecord{}, fmt.Errorf("quarantine: scan id is required")
	}
	src, err := s.resolve(u.Path)
	if err != nil {
		return QuarantineRecord{}, err
	}

	reportPath := filepath.Join(s.cfg.QuarantineDir, res.ScanID+".json")
	if _, err := os.Lstat(reportPath); err == nil {
		return QuarantineRecord{}, ErrReportExists
	}

	name := u.Filename
	if name == "" {
		name = filepath.Base(src)
	}
	dst := filepath.Join(s.cfg.QuarantineDir, res.ScanID+"_"+safeBase(name)+".quarantine")
	if err := move(src, dst); err != nil {
		return QuarantineRecord{}, fmt.Errorf("quarantine move: %w", err)
	}
	s.quarantined.Add(1)

	rec := QuarantineRecord{
		ScanID:         res.ScanID,
		OriginalPath:   src,
		QuarantinePath: dst,
		ReportPath:     reportPath,
		Severity:       res.Severity,
		Findings:       res.Findings,
		Hashes:         res.Hashes,
		QuarantinedAt:  s.cfg.Now(),
		File:           FileMeta{Name: u.Filename, MIMEType: u.MIMEType, Size: u.Size},
	}

	body, err := json.MarshalIndent(Report{Quarantine: rec, Scan: res}, "", "  ")
	if err != nil {
		return rec, fmt.Errorf("encode forensic report: %w", err)
	}
	f, err := os.OpenFile(reportPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return rec, ErrReportExists
		}
		return rec, fmt.Errorf("write forensic report: %w", err)
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		return rec, fmt.Errorf("write forensic report: %w", err)
	}
	if err := f.Close(); err != nil {
		return rec, fmt.Errorf("write forensic report: %w", err)
	}
	return rec, nil
}

// move renames src to dst and falls back to copy plus remove across
// filesystems. On failure src is left in place and dst is cleaned up.
func move(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	if err := os.Remove(src); err != nil {
		os.Remove(dst)
		return fmt.Errorf("remove original: %w", err)
	}
	return nil
}

// Reports lists the forensic reports in the quarantine store, newest first.
func (s *Scanner) Reports() ([]Report, error) {
	entries, err := os.ReadDir(s.cfg.QuarantineDir)
	if err != nil {
		return nil, fmt.Errorf("read quarantine dir: %w", err)
	}
	var out []Report
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.cfg.QuarantineDir, e.Name()))
		if err != nil {
			continue
		}
		var r Report
		if err := json.Unmarshal(data, &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Quarantine.QuarantinedAt.After(out[j].Quarantine.QuarantinedAt)
	})
	return out, nil
}
