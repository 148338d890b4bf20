package services

import (
	"fmt"
	"net"
	neturl "net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/containrrr/shoutrrr"
	"golang.org/x/time/rate"

	"github.com/Wikid82/argus/internal/config"
	"github.com/Wikid82/argus/internal/events"
	"github.com/Wikid82/argus/internal/logger"
	"github.com/Wikid82/argus/internal/metrics"
	"github.com/Wikid82/argus/internal/signatures"
	"github.com/Wikid82/argus/internal/util"
)

const alertQueueSize = 64

// AlertService forwards severe security events to the configured shoutrrr
// destinations. It is an events.Sink; delivery happens on its own goroutine
// and is throttled so an attack burst cannot flood the operators.
type AlertService struct {
	urls    []string
	min     signatures.Severity
	limiter *rate.Limiter
	send    func(url, msg string) error

	queue     chan events.Event
	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

var discordWebhookRegex = regexp.MustCompile(`^https://discord(?:app)?\.com/api/webhooks/(\d+)/([a-zA-Z0-9_-]+)`)

func normalizeURL(rawURL string) string {
	matches := discordWebhookRegex.FindStringSubmatch(rawURL)
	if len(matches) == 3 {
		return fmt.Sprintf("discord://%s@%s", matches[2], matches[1])
	}
	return rawURL
}

// NewAlertService validates the destinations and starts the delivery worker.
// With no destinations it returns nil, which Handle treats as a no-op.
func NewAlertService(cfg config.SecurityConfig) (*AlertService, error) {
	if len(cfg.AlertURLs) == 0 {
		return nil, nil
	}
	minSev, err := signatures.ParseSeverity(cfg.AlertMinSeverity)
	if err != nil {
		return nil, fmt.Errorf("alert severity: %w", err)
	}
	if minSev == signatures.SeverityNone {
		minSev = signatures.SeverityCritical
	}

	urls := make([]string, 0, len(cfg.AlertURLs))
	for _, raw := range cfg.AlertURLs {
		u := normalizeURL(strings.TrimSpace(raw))
		// Generic webhooks must not point at internal networks.
		if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
			if _, err := validateWebhookURL(u); err != nil {
				return nil, fmt.Errorf("alert destination %s: %w", util.LogSafe(raw, 64), err)
			}
		}
		urls = append(urls, u)
	}

	perMinute := cfg.AlertsPerMinute
	if perMinute <= 0 {
		perMinute = 6
	}
	return newAlertService(urls, minSev, rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute), sendShoutrrr), nil
}

func newAlertService(urls []string, minSev signatures.Severity, limiter *rate.Limiter, send func(url, msg string) error) *AlertService {
	s := &AlertService{
		urls:    urls,
		min:     minSev,
		limiter: limiter,
		send:    send,
		queue:   make(chan events.Event, alertQueueSize),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func sendShoutrrr(url, msg string) error {
	return shoutrrr.Send(url, msg)
}

// Handle queues e for delivery when it is severe enough. A full queue drops
// the alert.
func (s *AlertService) Handle(e events.Event) {
	if s == nil || e.Severity < s.min {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- e:
	default:
		metrics.IncAlertDropped()
	}
}

func (s *AlertService) run() {
	defer s.wg.Done()
	log := logger.ForComponent("alerts")
	for e := range s.queue {
		if !s.limiter.Allow() {
			metrics.IncAlertDropped()
			log.WithField("event_id", e.ID).Debug("alert throttled")
			continue
		}
		msg := formatAlert(e)
		for _, u := range s.urls {
			if err := s.send(u, msg); err != nil {
				// shoutrrr errors may echo the URL, which carries credentials.
				log.WithField("event_id", e.ID).Warn("failed to deliver security alert")
			}
		}
	}
}

// Close stops accepting alerts and waits for queued ones to be delivered.
func (s *AlertService) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
		s.wg.Wait()
	})
}

func formatAlert(e events.Event) string {
	title := fmt.Sprintf("[Argus] %s %s event from %s", strings.ToUpper(e.Severity.String()), e.Type, e.Origin)
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n\n")
	b.WriteString(util.LogSafe(e.Detail, 512))
	fmt.Fprintf(&b, "\nDecision: %s (%s)", e.Action, e.Outcome)
	if e.Path != "" {
		fmt.Fprintf(&b, "\nRequest: %s %s", e.Method, e.Path)
	}
	fmt.Fprintf(&b, "\nTime: %s", e.Timestamp.UTC().Format(time.RFC3339))
	if e.RequestID != "" {
		fmt.Fprintf(&b, "\nRequest ID: %s", e.RequestID)
	}
	return b.String()
}

// isPrivateIP returns true for RFC1918, loopback and link-local addresses.
func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsPrivate() {
		return true
	}
	return ip.IsUnspecified()
}

// validateWebhookURL parses and validates webhook URLs and ensures
// the resolved addresses are not private/local.
func validateWebhookURL(raw string) (*neturl.URL, error) {
	u, err := neturl.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("missing host")
	}

	// Allow explicit loopback/localhost addresses for local tests.
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return u, nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return nil, fmt.Errorf("disallowed host IP: %s", ip.String())
		}
		return u, nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("dns lookup failed: %w", err)
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return nil, fmt.Errorf("disallowed host IP: %s", ip.String())
		}
	}
	return u, nil
}
