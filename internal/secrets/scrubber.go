package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailindex/internal/mail"
)

// Options configures a Scrubber.
type Options struct {
	Enabled bool
	// AllowlistFile is a gitleaks-style TOML allowlist. Missing is fine.
	AllowlistFile string
}

// Result summarizes the redactions applied to one text.
type Result struct {
	Text       string         `json:"-"`
	Redactions int            `json:"redactions"`
	ByRule     map[string]int `json:"by_rule,omitempty"`
}

// Add folds o's counts into r.
func (r *Result) Add(o Result) {
	r.Redactions += o.Redactions
	for id, n := range o.ByRule {
		if r.ByRule == nil {
			r.ByRule = make(map[string]int)
		}
		r.ByRule[id] += n
	}
}

// Scrubber redacts secrets. The zero value and a nil *Scrubber pass text
// through unchanged.
type Scrubber struct {
	enabled   bool
	allowlist *Allowlist
	rules     []mailRule
	logger    *zap.Logger

	mu       sync.Mutex
	detector *detect.Detector
}

// New builds a Scrubber. Loading the gitleaks rule set takes a moment, so
// build one per process.
func New(opts Options, logger *zap.Logger) (*Scrubber, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scrubber{enabled: opts.Enabled, logger: logger}
	if !opts.Enabled {
		return s, nil
	}

	allow, err := LoadAllowlist(opts.AllowlistFile)
	if err != nil {
		return nil, err
	}
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	if !allow.Empty() {
		applyAllowlist(&detector.Config, allow)
	}

	s.allowlist = allow
	s.detector = detector
	s.rules = mailRules()
	return s, nil
}

// Enabled reports whether s redacts anything.
func (s *Scrubber) Enabled() bool { return s != nil && s.enabled }

// applyAllowlist adds allow as a global gitleaks allowlist.
func applyAllowlist(cfg *gitleaksConfig.Config, allow *Allowlist) {
	global := &gitleaksConfig.Allowlist{Description: "mailindex allowlist"}
	for _, p := range allow.Regexes {
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(regexp.MustCompile(p)))
	}
	global.StopWords = append(global.StopWords, allow.StopWords...)
	cfg.Allowlists = append(cfg.Allowlists, global)
}

// Scrub returns text with every detected secret replaced by a marker.
func (s *Scrubber) Scrub(text string) Result {
	if !s.Enabled() || strings.TrimSpace(text) == "" {
		return Result{Text: text}
	}

	var spans []span
	for _, f := range s.detect(text) {
		if f.secret == "" || s.allowlist.Allows(f.secret) {
			continue
		}
		for from := 0; ; {
			i := strings.Index(text[from:], f.secret)
			if i < 0 {
				break
			}
			start := from + i
			spans = append(spans, span{start: start, end: start + len(f.secret), ruleID: f.ruleID})
			from = start + len(f.secret)
		}
	}
	for _, r := range s.rules {
		for _, sp := range r.find(text) {
			if !s.allowlist.Allows(text[sp.start:sp.end]) {
				spans = append(spans, sp)
			}
		}
	}
	if len(spans) == 0 {
		return Result{Text: text}
	}

	merged := mergeSpans(spans)
	res := Result{ByRule: make(map[string]int, len(merged))}
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, sp := range merged {
		b.WriteString(text[last:sp.start])
		b.WriteString("[REDACTED:")
		b.WriteString(sp.ruleID)
		b.WriteString("]")
		last = sp.end
		res.Redactions++
		res.ByRule[sp.ruleID]++
	}
	b.WriteString(text[last:])
	res.Text = b.String()
	return res
}

type finding struct {
	ruleID string
	secret string
}

func (s *Scrubber) detect(text string) []finding {
	s.mu.Lock()
	found := s.detector.DetectString(text)
	s.mu.Unlock()

	out := make([]finding, 0, len(found))
	for _, f := range found {
		out = append(out, finding{ruleID: f.RuleID, secret: f.Secret})
	}
	return out
}

// mergeSpans sorts spans and merges overlapping ones. The merged span keeps
// the rule of its earliest member.
func mergeSpans(spans []span) []span {
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})
	merged := []span{spans[0]}
	for _, cur := range spans[1:] {
		last := &merged[len(merged)-1]
		if cur.start < last.end {
			if cur.end > last.end {
				last.end = cur.end
			}
			continue
		}
		merged = append(merged, cur)
	}
	return merged
}

// ScrubEmail redacts e's subject, body and snippet in place.
func (s *Scrubber) ScrubEmail(e *mail.Email) Result {
	var total Result
	if !s.Enabled() || e == nil {
		return total
	}
	for _, field := range []*string{&e.Subject, &e.Body, &e.Snippet} {
		r := s.Scrub(*field)
		*field = r.Text
		total.Add(r)
	}
	if total.Redactions > 0 {
		s.logger.Debug("redacted secrets",
			zap.String("email_id", e.ID),
			zap.Int("redactions", total.Redactions),
			zap.Any("by_rule", total.ByRule),
		)
	}
	return total
}
