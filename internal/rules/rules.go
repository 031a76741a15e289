// Package rules implements the single-pass, order-preserving security rule
// engine from spec.md §4.5. Each rule is a small tagged-variant state
// machine (Counter, SlidingWindow, or PatternMatch, per spec.md §9)
// stepped once per event; none share mutable state with another rule.
//
// Grounded on allensuvorov-tenexlog's internal/analyze/sensitive.go (the
// curated sensitive-path list and per-IP hit counting this package reuses
// almost verbatim for the admin-path-probe rule) and internal/analyze/rate.go
// (per-IP, per-time-bucket counting, generalized here into the sliding
// window shared by the window-based rules).
package rules

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/allensuvorov/logamizer/internal/model"
)

// RuleError wraps a panic recovered from a single rule's Step, per
// spec.md §7: the offending rule is skipped for that event only; the
// engine and the other rules continue.
type RuleError struct {
	RuleID string
	Err    any
}

func (e *RuleError) Error() string {
	return "rule " + e.RuleID + " panicked: " + toString(e.Err)
}

func toString(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "unknown error"
}

// Rule is one security detector. Step is called once per event, in file
// order; Findings is called once after the stream is exhausted.
type Rule interface {
	ID() string
	Step(siteID string, ev model.NormalizedEvent)
	Findings() []model.Finding
}

// Config holds the tunable thresholds for the built-in rules. Defaults
// match spec.md §4.5 where the table gives a number; where the table is
// silent (brute force count, high-5xx count) the default is this
// package's own judgment call.
type Config struct {
	ScannerWindow      time.Duration
	ScannerThreshold   int
	ScannerHighAt      int
	BruteForceWindow   time.Duration
	BruteForceThreshold int
	High5xxWindow      time.Duration
	High5xxThreshold   int
	High5xxCriticalMul int
	AuthPaths          []string
	AdminPaths         []string
	SensitivePaths     []string
	SuspiciousUAs      []string
	EvidenceBound      int
}

// DefaultConfig returns the documented rule thresholds.
func DefaultConfig() Config {
	return Config{
		ScannerWindow:       10 * time.Minute,
		ScannerThreshold:    20,
		ScannerHighAt:       50,
		BruteForceWindow:    5 * time.Minute,
		BruteForceThreshold: 10,
		High5xxWindow:       5 * time.Minute,
		High5xxThreshold:    20,
		High5xxCriticalMul:  3,
		AuthPaths: []string{
			"/login", "/signin", "/sign-in", "/wp-login.php",
			"/admin/login", "/api/auth", "/api/login", "/oauth/token",
		},
		AdminPaths: []string{
			"/wp-admin", "/phpmyadmin", ".env", ".git/", "/xmlrpc.php",
			"/.well-known", "/server-status", "/manager", "/actuator",
			"/console",
		},
		SensitivePaths: []string{
			".env", ".git/config", "id_rsa", ".sql", ".bak",
			"wp-config.php", ".ds_store", "backup.zip", ".htpasswd",
			"web.config",
		},
		SuspiciousUAs: []string{
			"sqlmap", "nikto", "masscan", "nmap", "acunetix",
			"netsparker", "w3af", "zgrab", "havij", "owasp zap", "nuclei",
		},
		EvidenceBound: 20,
	}
}

// signatureFamilies are the SQLi/XSS query-string patterns from
// spec.md §4.5 ("union/select, <script, onerror=, sleep(, …"), grouped
// into families so one signature match yields one canonical_subject.
var signatureFamilies = []struct {
	family string
	re     *regexp.Regexp
}{
	{"sqli", regexp.MustCompile(`(?i)(\bunion\b.{0,40}\bselect\b|\bselect\b.{0,40}\bfrom\b|\bor\b\s+1\s*=\s*1|--\s|;--|\bsleep\(|\bbenchmark\()`)},
	{"xss", regexp.MustCompile(`(?i)(<script|onerror\s*=|onload\s*=|javascript:)`)},
}

// Engine runs every built-in rule once per event, in a fixed registration
// order (spec.md §4.5: "single-pass and order-preserving").
type Engine struct {
	rules []Rule
}

// NewEngine builds the engine with the standard built-in rule set.
func NewEngine(cfg Config) *Engine {
	return &Engine{rules: []Rule{
		newScannerProbing(cfg),
		newAdminPathProbe(cfg),
		newSignatureRule(cfg),
		newBruteForce(cfg),
		newSuspiciousUA(cfg),
		newSensitiveFileExposure(cfg),
		newDirectoryTraversal(cfg),
		newHigh5xx(cfg),
	}}
}

// Step runs every rule's Step for one event, isolating panics per rule so
// one bad rule cannot take down the scan (spec.md §7 RuleError). The
// recovered errors are returned for the caller to log; they are never
// fatal.
func (e *Engine) Step(siteID string, ev model.NormalizedEvent) []error {
	var errs []error
	for _, r := range e.rules {
		errs = append(errs, runStep(r, siteID, ev)...)
	}
	return errs
}

func runStep(r Rule, siteID string, ev model.NormalizedEvent) (errs []error) {
	defer func() {
		if rec := recover(); rec != nil {
			errs = append(errs, &RuleError{RuleID: r.ID(), Err: rec})
		}
	}()
	r.Step(siteID, ev)
	return nil
}

// Findings collects every rule's emitted findings, in registration order.
func (e *Engine) Findings() []model.Finding {
	var out []model.Finding
	for _, r := range e.rules {
		out = append(out, r.Findings()...)
	}
	return out
}

func clampEvidence(entries []windowEntry, bound int) []model.Evidence {
	if len(entries) > bound {
		entries = entries[len(entries)-bound:]
	}
	out := make([]model.Evidence, 0, len(entries))
	for _, e := range entries {
		out = append(out, model.Evidence{Line: e.line, Raw: e.raw})
	}
	return out
}

// --- scanner probing ---------------------------------------------------

type scannerProbing struct {
	cfg     Config
	windows map[string]*slidingWindow
	fired   map[string]int // ip -> index of its finding in out
	out     []model.Finding
}

func newScannerProbing(cfg Config) *scannerProbing {
	return &scannerProbing{cfg: cfg, windows: map[string]*slidingWindow{}, fired: map[string]int{}}
}
func (r *scannerProbing) ID() string { return "scanner.probing" }
func (r *scannerProbing) Step(siteID string, ev model.NormalizedEvent) {
	if ev.Status != 404 || ev.IP == "" {
		return
	}
	w, ok := r.windows[ev.IP]
	if !ok {
		w = newSlidingWindow(r.cfg.ScannerWindow)
		r.windows[ev.IP] = w
	}
	entries := w.Add(ev.Timestamp, ev.LineNumber, ev.Raw)
	if idx, ok := r.fired[ev.IP]; ok {
		// Already reported: escalate that finding once the live window
		// reaches the high watermark.
		if len(entries) >= r.cfg.ScannerHighAt {
			r.out[idx].Severity = model.SeverityCritical
		}
		return
	}
	if len(entries) < r.cfg.ScannerThreshold {
		return
	}
	r.fired[ev.IP] = len(r.out)
	sev := model.SeverityHigh
	if len(entries) >= r.cfg.ScannerHighAt {
		sev = model.SeverityCritical
	}
	r.out = append(r.out, model.Finding{
		SiteID:      siteID,
		FindingType: r.ID(),
		Severity:    sev,
		Title:       "Scanner probing detected",
		Description: "High volume of 404 responses from a single source within a short window, consistent with automated path scanning.",
		Evidence:    clampEvidence(entries, r.cfg.EvidenceBound),
		Fingerprint: fingerprint(r.ID(), siteID, ev.IP, ev.Timestamp.Unix()/int64(r.cfg.ScannerWindow.Seconds())),
	})
}
func (r *scannerProbing) Findings() []model.Finding { return r.out }

// --- admin path probe ---------------------------------------------------

type adminPathProbe struct {
	cfg   Config
	paths []string
	hits  map[string]map[string]windowEntry // ip -> pattern -> last evidence
	fired map[string]bool
	out   []model.Finding
}

func newAdminPathProbe(cfg Config) *adminPathProbe {
	paths := make([]string, len(cfg.AdminPaths))
	for i, p := range cfg.AdminPaths {
		paths[i] = strings.ToLower(p)
	}
	return &adminPathProbe{cfg: cfg, paths: paths, hits: map[string]map[string]windowEntry{}, fired: map[string]bool{}}
}
func (r *adminPathProbe) ID() string { return "admin.path_probe" }
func (r *adminPathProbe) Step(siteID string, ev model.NormalizedEvent) {
	if ev.IP == "" || ev.Path == "" {
		return
	}
	lpath := strings.ToLower(ev.Path)
	for _, pattern := range r.paths {
		if !strings.Contains(lpath, pattern) {
			continue
		}
		subject := ev.IP + "|" + pattern
		if r.fired[subject] {
			return
		}
		r.fired[subject] = true
		r.out = append(r.out, model.Finding{
			SiteID:      siteID,
			FindingType: r.ID(),
			Severity:    model.SeverityMedium,
			Title:       "Admin path probe detected",
			Description: "Request to a sensitive administrative path pattern (" + pattern + ") from " + ev.IP + ".",
			Evidence:    []model.Evidence{{Line: ev.LineNumber, Raw: ev.Raw}},
			Fingerprint: fingerprint(r.ID(), siteID, subject, 0),
		})
		return
	}
}
func (r *adminPathProbe) Findings() []model.Finding { return r.out }

// --- SQLi / XSS signature ----------------------------------------------

type signatureRule struct {
	cfg   Config
	fired map[string]bool
	out   []model.Finding
}

func newSignatureRule(cfg Config) *signatureRule {
	return &signatureRule{cfg: cfg, fired: map[string]bool{}}
}
func (r *signatureRule) ID() string { return "sqli_xss.signature" }
func (r *signatureRule) Step(siteID string, ev model.NormalizedEvent) {
	if ev.IP == "" || ev.Path == "" {
		return
	}
	decoded, err := url.QueryUnescape(ev.Path)
	if err != nil {
		decoded = ev.Path
	}
	for _, fam := range signatureFamilies {
		if !fam.re.MatchString(decoded) {
			continue
		}
		subject := ev.IP + "|" + fam.family
		if r.fired[subject] {
			return
		}
		r.fired[subject] = true
		r.out = append(r.out, model.Finding{
			SiteID:      siteID,
			FindingType: r.ID(),
			Severity:    model.SeverityHigh,
			Title:       "Injection signature detected",
			Description: "Query string matched a " + fam.family + " signature from " + ev.IP + ".",
			Evidence:    []model.Evidence{{Line: ev.LineNumber, Raw: ev.Raw}},
			Fingerprint: fingerprint(r.ID(), siteID, subject, 0),
		})
		return
	}
}
func (r *signatureRule) Findings() []model.Finding { return r.out }

// --- brute force ---------------------------------------------------------

type bruteForce struct {
	cfg     Config
	windows map[string]*slidingWindow
	fired   map[string]bool
	out     []model.Finding
}

func newBruteForce(cfg Config) *bruteForce {
	return &bruteForce{cfg: cfg, windows: map[string]*slidingWindow{}, fired: map[string]bool{}}
}
func (r *bruteForce) ID() string { return "auth.brute_force" }
func (r *bruteForce) isAuthPath(path string) bool {
	lpath := strings.ToLower(path)
	for _, p := range r.cfg.AuthPaths {
		if strings.Contains(lpath, p) {
			return true
		}
	}
	return false
}
func (r *bruteForce) Step(siteID string, ev model.NormalizedEvent) {
	if ev.IP == "" || ev.Status < 400 || ev.Status >= 500 || r.fired[ev.IP] {
		return
	}
	if !r.isAuthPath(ev.Path) {
		return
	}
	w, ok := r.windows[ev.IP]
	if !ok {
		w = newSlidingWindow(r.cfg.BruteForceWindow)
		r.windows[ev.IP] = w
	}
	entries := w.Add(ev.Timestamp, ev.LineNumber, ev.Raw)
	if len(entries) < r.cfg.BruteForceThreshold {
		return
	}
	r.fired[ev.IP] = true
	r.out = append(r.out, model.Finding{
		SiteID:      siteID,
		FindingType: r.ID(),
		Severity:    model.SeverityHigh,
		Title:       "Brute-force attempt detected",
		Description: "Repeated failed authentication attempts from a single source within a short window.",
		Evidence:    clampEvidence(entries, r.cfg.EvidenceBound),
		Fingerprint: fingerprint(r.ID(), siteID, ev.IP, ev.Timestamp.Unix()/int64(r.cfg.BruteForceWindow.Seconds())),
	})
}
func (r *bruteForce) Findings() []model.Finding { return r.out }

// --- suspicious UA -------------------------------------------------------

type suspiciousUA struct {
	cfg   Config
	fired map[string]bool
	out   []model.Finding
}

func newSuspiciousUA(cfg Config) *suspiciousUA {
	return &suspiciousUA{cfg: cfg, fired: map[string]bool{}}
}
func (r *suspiciousUA) ID() string { return "ua.suspicious" }
func (r *suspiciousUA) Step(siteID string, ev model.NormalizedEvent) {
	if ev.UserAgent == nil {
		return
	}
	lua := strings.ToLower(*ev.UserAgent)
	for _, bad := range r.cfg.SuspiciousUAs {
		if !strings.Contains(lua, bad) {
			continue
		}
		if r.fired[lua] {
			return
		}
		r.fired[lua] = true
		r.out = append(r.out, model.Finding{
			SiteID:      siteID,
			FindingType: r.ID(),
			Severity:    model.SeverityMedium,
			Title:       "Suspicious user agent detected",
			Description: "Request user agent matched a known scanning tool signature (" + bad + ").",
			Evidence:    []model.Evidence{{Line: ev.LineNumber, Raw: ev.Raw}},
			Fingerprint: fingerprint(r.ID(), siteID, lua, 0),
		})
		return
	}
}
func (r *suspiciousUA) Findings() []model.Finding { return r.out }

// --- sensitive file exposure ---------------------------------------------

type sensitiveFileExposure struct {
	cfg   Config
	fired map[string]bool
	out   []model.Finding
}

func newSensitiveFileExposure(cfg Config) *sensitiveFileExposure {
	return &sensitiveFileExposure{cfg: cfg, fired: map[string]bool{}}
}
func (r *sensitiveFileExposure) ID() string { return "sensitive.file_exposure" }
func (r *sensitiveFileExposure) Step(siteID string, ev model.NormalizedEvent) {
	if ev.Status < 200 || ev.Status >= 300 || ev.Path == "" {
		return
	}
	lpath := strings.ToLower(ev.Path)
	for _, pattern := range r.cfg.SensitivePaths {
		if !strings.Contains(lpath, pattern) {
			continue
		}
		if r.fired[lpath] {
			return
		}
		r.fired[lpath] = true
		r.out = append(r.out, model.Finding{
			SiteID:      siteID,
			FindingType: r.ID(),
			Severity:    model.SeverityHigh,
			Title:       "Sensitive file exposure detected",
			Description: "Successful response for a path matching a sensitive file pattern (" + pattern + ").",
			Evidence:    []model.Evidence{{Line: ev.LineNumber, Raw: ev.Raw}},
			Fingerprint: fingerprint(r.ID(), siteID, lpath, 0),
		})
		return
	}
}
func (r *sensitiveFileExposure) Findings() []model.Finding { return r.out }

// --- directory traversal --------------------------------------------------

type directoryTraversal struct {
	cfg   Config
	fired map[string]bool
	out   []model.Finding
}

func newDirectoryTraversal(cfg Config) *directoryTraversal {
	return &directoryTraversal{cfg: cfg, fired: map[string]bool{}}
}
func (r *directoryTraversal) ID() string { return "traversal.directory" }
func (r *directoryTraversal) Step(siteID string, ev model.NormalizedEvent) {
	if ev.IP == "" || ev.Path == "" {
		return
	}
	decoded, err := url.QueryUnescape(ev.Path)
	if err != nil {
		decoded = ev.Path
	}
	if !strings.Contains(decoded, "..") {
		return
	}
	subject := ev.IP + "|" + decoded
	if r.fired[subject] {
		return
	}
	r.fired[subject] = true
	r.out = append(r.out, model.Finding{
		SiteID:      siteID,
		FindingType: r.ID(),
		Severity:    model.SeverityHigh,
		Title:       "Directory traversal attempt detected",
		Description: "Request path contained a parent-directory segment after decoding.",
		Evidence:    []model.Evidence{{Line: ev.LineNumber, Raw: ev.Raw}},
		Fingerprint: fingerprint(r.ID(), siteID, subject, 0),
	})
}
func (r *directoryTraversal) Findings() []model.Finding { return r.out }

// --- high 5xx from a single client ---------------------------------------

type high5xx struct {
	cfg     Config
	windows map[string]*slidingWindow
	fired   map[string]int // ip -> index of its finding in out
	out     []model.Finding
}

func newHigh5xx(cfg Config) *high5xx {
	return &high5xx{cfg: cfg, windows: map[string]*slidingWindow{}, fired: map[string]int{}}
}
func (r *high5xx) ID() string { return "client.high_5xx" }
func (r *high5xx) Step(siteID string, ev model.NormalizedEvent) {
	if ev.IP == "" || ev.Status < 500 || ev.Status >= 600 {
		return
	}
	w, ok := r.windows[ev.IP]
	if !ok {
		w = newSlidingWindow(r.cfg.High5xxWindow)
		r.windows[ev.IP] = w
	}
	entries := w.Add(ev.Timestamp, ev.LineNumber, ev.Raw)
	if idx, ok := r.fired[ev.IP]; ok {
		// Already reported: escalate that finding once the live window
		// reaches threshold x multiplier.
		if len(entries) >= r.cfg.High5xxThreshold*r.cfg.High5xxCriticalMul {
			r.out[idx].Severity = model.SeverityCritical
		}
		return
	}
	if len(entries) < r.cfg.High5xxThreshold {
		return
	}
	r.fired[ev.IP] = len(r.out)
	sev := model.SeverityMedium
	if len(entries) >= r.cfg.High5xxThreshold*r.cfg.High5xxCriticalMul {
		sev = model.SeverityCritical
	}
	r.out = append(r.out, model.Finding{
		SiteID:      siteID,
		FindingType: r.ID(),
		Severity:    sev,
		Title:       "High 5xx rate from a single client",
		Description: "A single source received an unusually high rate of server errors, suggesting abuse or a broken scraper.",
		Evidence:    clampEvidence(entries, r.cfg.EvidenceBound),
		Fingerprint: fingerprint(r.ID(), siteID, ev.IP, ev.Timestamp.Unix()/int64(r.cfg.High5xxWindow.Seconds())),
	})
}
func (r *high5xx) Findings() []model.Finding { return r.out }
