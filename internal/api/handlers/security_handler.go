package handlers

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/argus/internal/api/response"
	"github.com/Wikid82/argus/internal/cerberus"
	"github.com/Wikid82/argus/internal/config"
	"github.com/Wikid82/argus/internal/events"
	"github.com/Wikid82/argus/internal/models"
	"github.com/Wikid82/argus/internal/services"
	"github.com/Wikid82/argus/internal/signatures"
	"github.com/Wikid82/argus/internal/util"
)

// SecurityHandler serves the admin security API.
type SecurityHandler struct {
	store *cerberus.Store
	svc   *services.SecurityService
}

// NewSecurityHandler creates a new SecurityHandler.
func NewSecurityHandler(store *cerberus.Store, svc *services.SecurityService) *SecurityHandler {
	return &SecurityHandler{store: store, svc: svc}
}

// GetStatus returns the aggregated protection status.
func (h *SecurityHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Status.Status())
}

// ListEvents returns recent in-memory events, newest first.
func (h *SecurityHandler) ListEvents(c *gin.Context) {
	sev, err := signatures.ParseSeverity(c.Query("min_severity"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid min_severity")
		return
	}
	limit := queryLimit(c)
	if limit == 0 {
		limit = 100
	}
	list := h.store.Events.Recent(events.Filter{
		MinSeverity: sev,
		Type:        events.Type(c.Query("type")),
		Outcome:     events.Outcome(c.Query("outcome")),
		Origin:      c.Query("origin"),
		Limit:       limit,
	})
	c.JSON(http.StatusOK, gin.H{"events": list, "stats": h.store.Events.Stats()})
}

// ListDecisions returns persisted decisions.
func (h *SecurityHandler) ListDecisions(c *gin.Context) {
	list, err := h.svc.ListDecisions(services.DecisionFilter{
		Source:  c.Query("source"),
		Outcome: c.Query("outcome"),
		IP:      c.Query("ip"),
		Limit:   queryLimit(c),
	})
	if err != nil {
		GetLogger(c).WithError(err).Error("list decisions")
		response.Error(c, http.StatusInternalServerError, "Failed to list decisions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": list})
}

func (h *SecurityHandler) ListAudits(c *gin.Context) {
	list, err := h.svc.ListAudits(queryLimit(c))
	if err != nil {
		GetLogger(c).WithError(err).Error("list audits")
		response.Error(c, http.StatusInternalServerError, "Failed to list audits")
		return
	}
	c.JSON(http.StatusOK, gin.H{"audits": list})
}

func (h *SecurityHandler) ListScans(c *gin.Context) {
	list, err := h.svc.ListScans(queryLimit(c))
	if err != nil {
		GetLogger(c).WithError(err).Error("list scans")
		response.Error(c, http.StatusInternalServerError, "Failed to list scans")
		return
	}
	c.JSON(http.StatusOK, gin.H{"scans": list})
}

// ListQuarantine returns the quarantine index.
func (h *SecurityHandler) ListQuarantine(c *gin.Context) {
	list, err := h.svc.ListQuarantine(queryLimit(c))
	if err != nil {
		GetLogger(c).WithError(err).Error("list quarantine")
		response.Error(c, http.StatusInternalServerError, "Failed to list quarantine")
		return
	}
	c.JSON(http.StatusOK, gin.H{"quarantine": list})
}

// ListReports reads the forensic reports straight from the quarantine store.
func (h *SecurityHandler) ListReports(c *gin.Context) {
	if h.store.Scanner == nil {
		c.JSON(http.StatusOK, gin.H{"reports": []interface{}{}})
		return
	}
	reports, err := h.store.Scanner.Reports()
	if err != nil {
		GetLogger(c).WithError(err).Error("read forensic reports")
		response.Error(c, http.StatusInternalServerError, "Failed to read reports")
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

// ListSignatures returns the live catalog, most active first.
func (h *SecurityHandler) ListSignatures(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"signatures": h.store.Catalog.Summaries(),
		"stats":      h.store.Catalog.Stats(),
		"bad_hashes": h.store.BadHashes.Len(),
	})
}

// ListBlocked returns the blocked origins.
func (h *SecurityHandler) ListBlocked(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"blocked": h.store.Reputation.Blocked()})
}

type blockRequest struct {
	Reason string `json:"reason"`
}

// BlockOrigin blocks an origin by hand.
func (h *SecurityHandler) BlockOrigin(c *gin.Context) {
	origin := c.Param("origin")
	if net.ParseIP(origin) == nil {
		response.Error(c, http.StatusBadRequest, "origin must be an IP address")
		return
	}
	var req blockRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "blocked by administrator"
	}
	reason = util.LogSafe(reason, 256)

	who := actor(c)
	rec := h.store.Reputation.Block(origin, reason)
	if err := h.svc.SaveBlockedOrigin(rec, who); err != nil {
		GetLogger(c).WithError(err).Error("persist manual block")
		response.Error(c, http.StatusInternalServerError, "Failed to persist block")
		return
	}
	h.audit(c, "block_origin", origin, reason)
	c.JSON(http.StatusOK, rec)
}

// UnblockOrigin removes an origin from the block list and forgets its
// history.
func (h *SecurityHandler) UnblockOrigin(c *gin.Context) {
	origin := c.Param("origin")
	if net.ParseIP(origin) == nil {
		response.Error(c, http.StatusBadRequest, "origin must be an IP address")
		return
	}
	found := h.store.Reputation.Unblock(origin)
	h.store.Rate.Reset(origin)
	h.store.Anomaly.Forget(origin)
	if err := h.svc.DeleteBlockedOrigin(origin); err != nil {
		GetLogger(c).WithError(err).Error("delete persisted block")
		response.Error(c, http.StatusInternalServerError, "Failed to remove block")
		return
	}
	if !found {
		response.Error(c, http.StatusNotFound, "Origin is not blocked")
		return
	}
	h.audit(c, "unblock_origin", origin, "")
	c.JSON(http.StatusOK, gin.H{"origin": origin, "blocked": false})
}

// GetConfig returns the current configuration snapshot.
func (h *SecurityHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Live.Current())
}

type configPatch struct {
	Flags              map[string]bool `json:"flags"`
	AllowedOrigins     *[]string       `json:"allowed_origins"`
	PatternExemptPaths *[]string       `json:"pattern_exempt_paths"`
	CSRFExemptPaths    *[]string       `json:"csrf_exempt_paths"`
}

func (p configPatch) summary() string {
	names := make([]string, 0, len(p.Flags))
	for n := range p.Flags {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names)+3)
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s=%t", n, p.Flags[n]))
	}
	if p.AllowedOrigins != nil {
		parts = append(parts, "allowed_origins="+strings.Join(*p.AllowedOrigins, ","))
	}
	if p.PatternExemptPaths != nil {
		parts = append(parts, "pattern_exempt_paths="+strings.Join(*p.PatternExemptPaths, ","))
	}
	if p.CSRFExemptPaths != nil {
		parts = append(parts, "csrf_exempt_paths="+strings.Join(*p.CSRFExemptPaths, ","))
	}
	return util.LogSafe(strings.Join(parts, " "), 512)
}

// UpdateConfig applies a partial update and publishes a new snapshot.
func (h *SecurityHandler) UpdateConfig(c *gin.Context) {
	var patch configPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request body")
		return
	}

	snap, err := h.store.Live.Update(actor(c), func(s *config.Snapshot) error {
		if err := s.ApplyFlags(patch.Flags); err != nil {
			return err
		}
		if patch.AllowedOrigins != nil {
			s.AllowedOrigins = cleanList(*patch.AllowedOrigins)
		}
		if patch.PatternExemptPaths != nil {
			s.PatternExemptPaths = cleanList(*patch.PatternExemptPaths)
		}
		if patch.CSRFExemptPaths != nil {
			s.CSRFExemptPaths = cleanList(*patch.CSRFExemptPaths)
		}
		return nil
	})
	if errors.Is(err, config.ErrLockdownActive) {
		response.Error(c, http.StatusConflict, "Protections cannot be disabled during lockdown")
		return
	}
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	h.audit(c, "update_config", "security", patch.summary())
	c.JSON(http.StatusOK, snap)
}

type lockdownRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetLockdown enters or leaves lockdown.
func (h *SecurityHandler) SetLockdown(c *gin.Context) {
	var req lockdownRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "enabled is required")
		return
	}
	var snap *config.Snapshot
	action := "lockdown"
	if *req.Enabled {
		snap = h.store.Live.Lockdown(actor(c))
	} else {
		snap = h.store.Live.EndLockdown(actor(c))
		action = "end_lockdown"
	}
	record(c, h.store, events.Event{
		Type:     events.TypeAdmin,
		Severity: signatures.SeverityHigh,
		Detail:   action + " by " + actor(c),
		Action:   action,
		Outcome:  events.OutcomeAllowed,
	})
	h.audit(c, action, "security", "")
	c.JSON(http.StatusOK, snap)
}

// ListRuleSets returns stored signature packs.
func (h *SecurityHandler) ListRuleSets(c *gin.Context) {
	list, err := h.svc.ListRuleSets()
	if err != nil {
		GetLogger(c).WithError(err).Error("list rule sets")
		response.Error(c, http.StatusInternalServerError, "Failed to list rule sets")
		return
	}
	c.JSON(http.StatusOK, gin.H{"rulesets": list})
}

type ruleSetRequest struct {
	Name    string `json:"name" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// UpsertRuleSet stores a signature pack and merges it into the live catalog.
func (h *SecurityHandler) UpsertRuleSet(c *gin.Context) {
	var req ruleSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "name and content are required")
		return
	}
	rs := &models.SecurityRuleSet{Name: strings.TrimSpace(req.Name), Content: req.Content, UpdatedBy: actor(c)}
	pack, err := h.svc.UpsertRuleSet(rs, func(p *signatures.Pack) error {
		return p.Check(h.store.Catalog)
	})
	if errors.Is(err, services.ErrRuleSetInvalid) {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		GetLogger(c).WithError(err).Error("save rule set")
		response.Error(c, http.StatusInternalServerError, "Failed to save rule set")
		return
	}
	if err := h.store.MergePack(pack); err != nil {
		GetLogger(c).WithError(err).Error("apply rule set")
		response.Error(c, http.StatusInternalServerError, "Rule set saved but could not be applied")
		return
	}
	h.audit(c, "upsert_ruleset", rs.Name, "")
	c.JSON(http.StatusOK, rs)
}

func (h *SecurityHandler) audit(c *gin.Context, action, target, details string) {
	if err := h.svc.LogAudit(&models.SecurityAudit{Actor: actor(c), Action: action, Target: target, Details: details}); err != nil {
		GetLogger(c).WithError(err).Warn("failed to write security audit")
	}
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
