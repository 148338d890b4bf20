package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Wikid82/argus/internal/config"
	"github.com/Wikid82/argus/internal/events"
	"github.com/Wikid82/argus/internal/filescan"
	"github.com/Wikid82/argus/internal/logger"
	"github.com/Wikid82/argus/internal/models"
	"github.com/Wikid82/argus/internal/reputation"
	"github.com/Wikid82/argus/internal/signatures"
)

var (
	ErrRuleSetNotFound = errors.New("rule set not found")
	ErrRuleSetInvalid  = errors.New("rule set content is not a valid signature pack")
)

const (
	lockdownSettingKey = "security.lockdown.enabled"
	defaultListLimit   = 100
	maxListLimit       = 1000
)

// FlagSettingKey is the Setting row key for a protection flag.
func FlagSettingKey(flag string) string {
	return "security." + flag + ".enabled"
}

type SecurityService struct {
	db *gorm.DB
}

// NewSecurityService returns a SecurityService using the provided DB
func NewSecurityService(db *gorm.DB) *SecurityService {
	return &SecurityService{db: db}
}

// Migrate creates the security tables.
func (s *SecurityService) Migrate() error {
	return s.db.AutoMigrate(
		&models.Setting{},
		&models.SecurityDecision{},
		&models.SecurityAudit{},
		&models.SecurityRuleSet{},
		&models.ScanRecord{},
		&models.QuarantineRecord{},
		&models.BlockedOrigin{},
	)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	}
	return limit
}

// LogDecision stores a security decision record
func (s *SecurityService) LogDecision(d *models.SecurityDecision) error {
	if d == nil {
		return nil
	}
	if d.UUID == "" {
		d.UUID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	return s.db.Create(d).Error
}

// DecisionFromEvent maps a logged event onto a decision row.
func DecisionFromEvent(e events.Event) *models.SecurityDecision {
	return &models.SecurityDecision{
		UUID:      e.ID,
		Source:    string(e.Type),
		Action:    e.Action,
		Outcome:   string(e.Outcome),
		Severity:  e.Severity.String(),
		IP:        e.Origin,
		Method:    e.Method,
		Path:      e.Path,
		RequestID: e.RequestID,
		Details:   e.Detail,
		CreatedAt: e.Timestamp,
	}
}

// DecisionFilter narrows ListDecisions. Zero fields match everything.
type DecisionFilter struct {
	Source  string
	Outcome string
	IP      string
	Limit   int
}

// ListDecisions returns recent security decisions, ordered by created_at desc
func (s *SecurityService) ListDecisions(f DecisionFilter) ([]models.SecurityDecision, error) {
	var res []models.SecurityDecision
	q := s.db.Order("created_at desc").Limit(clampLimit(f.Limit))
	if f.Source != "" {
		q = q.Where("source = ?", f.Source)
	}
	if f.Outcome != "" {
		q = q.Where("outcome = ?", f.Outcome)
	}
	if f.IP != "" {
		q = q.Where("ip = ?", f.IP)
	}
	if err := q.Find(&res).Error; err != nil {
		return nil, err
	}
	return res, nil
}

// LogAudit stores an audit entry
func (s *SecurityService) LogAudit(a *models.SecurityAudit) error {
	if a == nil {
		return nil
	}
	if a.UUID == "" {
		a.UUID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	return s.db.Create(a).Error
}

// ListAudits returns the newest audit entries first.
func (s *SecurityService) ListAudits(limit int) ([]models.SecurityAudit, error) {
	var res []models.SecurityAudit
	if err := s.db.Order("created_at desc").Limit(clampLimit(limit)).Find(&res).Error; err != nil {
		return nil, err
	}
	return res, nil
}

// RecordScan persists a scan result and, when the file was quarantined, its
// quarantine index row.
func (s *SecurityService) RecordScan(origin string, up filescan.Upload, out filescan.Outcome) error {
	findings, err := json.Marshal(out.Result.Findings)
	if err != nil {
		return fmt.Errorf("encode findings: %w", err)
	}
	rec := models.ScanRecord{
		ScanID:     out.Result.ScanID,
		Origin:     origin,
		Filename:   up.Filename,
		MIMEType:   up.MIMEType,
		Size:       up.Size,
		Clean:      out.Result.Clean,
		Severity:   out.Result.Severity.String(),
		Action:     string(out.Action),
		Findings:   string(findings),
		SHA256:     out.Result.Hashes.SHA256,
		BLAKE2b:    out.Result.Hashes.BLAKE2b,
		MD5:        out.Result.Hashes.MD5,
		HashMatch:  out.Result.HashMatch,
		DurationMs: out.Result.DurationMs,
		Error:      out.Result.Error,
		ScannedAt:  out.Result.ScannedAt,
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("save scan record: %w", err)
		}
		q := out.Quarantine
		if q == nil || q.QuarantinePath == "" {
			return nil
		}
		qr := models.QuarantineRecord{
			ScanID:         q.ScanID,
			Origin:         origin,
			Filename:       q.File.Name,
			MIMEType:       q.File.MIMEType,
			Size:           q.File.Size,
			Severity:       q.Severity.String(),
			OriginalPath:   q.OriginalPath,
			QuarantinePath: q.QuarantinePath,
			ReportPath:     q.ReportPath,
			Findings:       string(findings),
			QuarantinedAt:  q.QuarantinedAt,
		}
		if err := tx.Create(&qr).Error; err != nil {
			return fmt.Errorf("save quarantine record: %w", err)
		}
		return nil
	})
}

// ListScans returns the newest scan records first.
func (s *SecurityService) ListScans(limit int) ([]models.ScanRecord, error) {
	var res []models.ScanRecord
	if err := s.db.Order("scanned_at desc").Limit(clampLimit(limit)).Find(&res).Error; err != nil {
		return nil, err
	}
	return res, nil
}

// ListQuarantine returns the newest quarantined files first.
func (s *SecurityService) ListQuarantine(limit int) ([]models.QuarantineRecord, error) {
	var res []models.QuarantineRecord
	if err := s.db.Order("quarantined_at desc").Limit(clampLimit(limit)).Find(&res).Error; err != nil {
		return nil, err
	}
	return res, nil
}

// SaveBlockedOrigin upserts the persisted block for r.
func (s *SecurityService) SaveBlockedOrigin(r reputation.Record, by string) error {
	row := models.BlockedOrigin{
		Origin:       r.Origin,
		Reason:       r.BlockReason,
		Severity:     r.Severity.String(),
		AttemptCount: r.AttemptCount,
		Labels:       strings.Join(r.Labels, ","),
		BlockedBy:    by,
		BlockedAt:    r.BlockedAt,
	}
	return s.db.Where(models.BlockedOrigin{Origin: r.Origin}).Assign(row).FirstOrCreate(&row).Error
}

// DeleteBlockedOrigin removes the persisted block. Missing rows are not an
// error.
func (s *SecurityService) DeleteBlockedOrigin(origin string) error {
	return s.db.Where("origin = ?", origin).Delete(&models.BlockedOrigin{}).Error
}

// ListBlockedOrigins returns every persisted block, newest first.
func (s *SecurityService) ListBlockedOrigins() ([]models.BlockedOrigin, error) {
	var res []models.BlockedOrigin
	if err := s.db.Order("blocked_at desc").Find(&res).Error; err != nil {
		return nil, err
	}
	return res, nil
}

// BlockedRecords converts the persisted blocks for reputation.Tracker.Restore.
func (s *SecurityService) BlockedRecords() ([]reputation.Record, error) {
	rows, err := s.ListBlockedOrigins()
	if err != nil {
		return nil, err
	}
	out := make([]reputation.Record, 0, len(rows))
	for _, row := range rows {
		sev, _ := signatures.ParseSeverity(row.Severity)
		rec := reputation.Record{
			Origin:       row.Origin,
			AttemptCount: row.AttemptCount,
			Severity:     sev,
			Blocked:      true,
			BlockedAt:    row.BlockedAt,
			BlockReason:  row.Reason,
		}
		if row.Labels != "" {
			rec.Labels = strings.Split(row.Labels, ",")
		}
		out = append(out, rec)
	}
	return out, nil
}

// Setting keys for the runtime lists.
const (
	allowedOriginsKey = "security.allowed_origins"
	patternExemptKey  = "security.pattern_exempt_paths"
	csrfExemptKey     = "security.csrf_exempt_paths"
)

// SaveSnapshot persists the runtime toggles and lists of snap as Setting rows.
func (s *SecurityService) SaveSnapshot(snap *config.Snapshot) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		values := snap.Flags.Map()
		for _, name := range config.FlagNames {
			if err := upsertSetting(tx, FlagSettingKey(name), strconv.FormatBool(values[name]), "bool"); err != nil {
				return err
			}
		}
		if err := upsertSetting(tx, lockdownSettingKey, strconv.FormatBool(snap.Lockdown), "bool"); err != nil {
			return err
		}
		lists := map[string][]string{
			allowedOriginsKey: snap.AllowedOrigins,
			patternExemptKey:  snap.PatternExemptPaths,
			csrfExemptKey:     snap.CSRFExemptPaths,
		}
		for key, list := range lists {
			if err := upsertSetting(tx, key, strings.Join(list, ","), "list"); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertSetting(tx *gorm.DB, key, value, typ string) error {
	st := models.Setting{Key: key, Value: value, Type: typ, Category: "security"}
	if err := tx.Where(models.Setting{Key: key}).Assign(st).FirstOrCreate(&st).Error; err != nil {
		return fmt.Errorf("save setting %s: %w", key, err)
	}
	return nil
}

// Overrides are the persisted runtime settings. Absent rows leave the
// environment value in place: missing flags are absent from Flags and
// missing lists are nil.
type Overrides struct {
	Flags              map[string]bool
	Lockdown           bool
	AllowedOrigins     []string
	PatternExemptPaths []string
	CSRFExemptPaths    []string
}

// Apply writes the overrides into snap. It is meant for config.Live.Update.
func (o Overrides) Apply(snap *config.Snapshot) error {
	for name, v := range o.Flags {
		if err := snap.Flags.Set(name, v); err != nil {
			return err
		}
	}
	snap.Lockdown = o.Lockdown
	if o.AllowedOrigins != nil {
		snap.AllowedOrigins = o.AllowedOrigins
	}
	if o.PatternExemptPaths != nil {
		snap.PatternExemptPaths = o.PatternExemptPaths
	}
	if o.CSRFExemptPaths != nil {
		snap.CSRFExemptPaths = o.CSRFExemptPaths
	}
	return nil
}

// LoadOverrides reads the persisted runtime settings.
func (s *SecurityService) LoadOverrides() (Overrides, error) {
	var rows []models.Setting
	if err := s.db.Where("category = ?", "security").Find(&rows).Error; err != nil {
		return Overrides{}, err
	}
	byKey := make(map[string]string, len(rows))
	for _, r := range rows {
		byKey[r.Key] = r.Value
	}

	ov := Overrides{Flags: make(map[string]bool)}
	for _, name := range config.FlagNames {
		if v, ok := byKey[FlagSettingKey(name)]; ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return Overrides{}, fmt.Errorf("setting %s: %w", FlagSettingKey(name), err)
			}
			ov.Flags[name] = b
		}
	}
	ov.Lockdown, _ = strconv.ParseBool(byKey[lockdownSettingKey])
	ov.AllowedOrigins = splitList(byKey, allowedOriginsKey)
	ov.PatternExemptPaths = splitList(byKey, patternExemptKey)
	ov.CSRFExemptPaths = splitList(byKey, csrfExemptKey)
	return ov, nil
}

func splitList(byKey map[string]string, key string) []string {
	v, ok := byKey[key]
	if !ok {
		return nil
	}
	out := []string{}
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// UpsertRuleSet validates and saves a signature pack by name. Each check
// runs on the parsed pack before anything is written.
func (s *SecurityService) UpsertRuleSet(r *models.SecurityRuleSet, checks ...func(*signatures.Pack) error) (*signatures.Pack, error) {
	if r == nil || strings.TrimSpace(r.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrRuleSetInvalid)
	}
	pack, err := signatures.ParsePack([]byte(r.Content))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuleSetInvalid, err)
	}
	for _, check := range checks {
		if err := check(pack); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRuleSetInvalid, err)
		}
	}
	r.Signatures = len(pack.Signatures)
	r.HashCount = len(pack.KnownBadHashes)
	if r.LastUpdated.IsZero() {
		r.LastUpdated = time.Now()
	}

	var existing models.SecurityRuleSet
	if err := s.db.Where("name = ?", r.Name).First(&existing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if r.UUID == "" {
				r.UUID = uuid.NewString()
			}
			return pack, s.db.Create(r).Error
		}
		return nil, err
	}
	existing.Content = r.Content
	existing.Signatures = r.Signatures
	existing.HashCount = r.HashCount
	existing.UpdatedBy = r.UpdatedBy
	existing.LastUpdated = r.LastUpdated
	*r = existing
	return pack, s.db.Save(&existing).Error
}

// GetRuleSet returns one rule set by name.
func (s *SecurityService) GetRuleSet(name string) (*models.SecurityRuleSet, error) {
	var rs models.SecurityRuleSet
	if err := s.db.Where("name = ?", name).First(&rs).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRuleSetNotFound
		}
		return nil, err
	}
	return &rs, nil
}

// ListRuleSets returns all known rulesets
func (s *SecurityService) ListRuleSets() ([]models.SecurityRuleSet, error) {
	var res []models.SecurityRuleSet
	if err := s.db.Order("name").Find(&res).Error; err != nil {
		return nil, err
	}
	return res, nil
}

// LoadRuleSets parses every stored pack. A stored pack that no longer parses
// is logged and skipped.
func (s *SecurityService) LoadRuleSets() ([]*signatures.Pack, error) {
	sets, err := s.ListRuleSets()
	if err != nil {
		return nil, err
	}
	packs := make([]*signatures.Pack, 0, len(sets))
	for _, rs := range sets {
		p, err := signatures.ParsePack([]byte(rs.Content))
		if err != nil {
			logger.ForComponent("security").WithError(err).WithField("rule_set", rs.Name).Warn("skipping unparseable rule set")
			continue
		}
		packs = append(packs, p)
	}
	return packs, nil
}
