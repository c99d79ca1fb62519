// Package security implements the pre-flight chat filter: format validation,
// banned-pattern matching, fixed-window rate limiting and PII warnings.
package security

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/KafClaw/siteagent/internal/config"
	"github.com/KafClaw/siteagent/internal/store"
)

// Stable result codes.
const (
	CodeEmptyMessage  = "empty_message"
	CodeInvalidFormat = "invalid_format"
	CodeBannedContent = "banned_content"
	CodeRateLimited   = "rate_limited"
)

// Requester identifies who sent a message. UserID is empty for anonymous callers.
type Requester struct {
	UserID string `json:"user_id,omitempty"`
	IP     string `json:"ip,omitempty"`
	Role   string `json:"role,omitempty"`
}

// Anonymous reports whether the requester is unauthenticated.
func (r Requester) Anonymous() bool { return r.UserID == "" }

// RateKey is the identity the rate limiter counts against.
func (r Requester) RateKey() string {
	if !r.Anonymous() {
		return "user:" + r.UserID
	}
	ip := r.IP
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}

// Result is the outcome of Scan.
type Result struct {
	Pass       bool     `json:"pass"`
	Code       string   `json:"code,omitempty"`
	Pattern    string   `json:"pattern,omitempty"`
	PIIWarning []string `json:"pii_warning,omitempty"`
}

type rule struct {
	name string
	re   *regexp.Regexp
}

// formatRules catch role spoofing and chat-template control tokens.
var formatRules = []rule{
	{"markdown_system_heading", regexp.MustCompile(`(?im)^\s*#{1,6}\s*(system|assistant)\b`)},
	{"xml_role_tag", regexp.MustCompile(`(?i)<\s*/?\s*(system|assistant|instructions?)\s*>`)},
	{"inst_token", regexp.MustCompile(`(?i)\[/?INST\]`)},
	{"chatml_token", regexp.MustCompile(`<\|(im_start|im_end|system|endoftext)\|>`)},
	{"llama_sys_token", regexp.MustCompile(`(?i)<<\s*/?SYS\s*>>`)},
	// A "system:" line only counts when it carries a directive, so pasted
	// diagnostics like "System: Ubuntu 22.04" pass.
	{"role_prefix", regexp.MustCompile(`(?im)^\s*(system|assistant)\s*:\s*(you\b|your\s+(new\s+)?(role|rules|instructions|task)|ignore\b|disregard\b|forget\b|override\b|from\s+now\s+on|new\s+(rules|instructions)|act\s+as\b|always\b|never\b|do\s+not\b)`)},
}

// bannedRules are instruction-override, role-reassignment, jailbreak,
// authority-claim and code-execution phrasings.
var bannedRules = []rule{
	{"ignore_instructions", regexp.MustCompile(`(?i)\bignore\s+(all\s+|any\s+)?(the\s+)?(previous|prior|above|earlier)\s+(instructions|prompts|rules|directions)`)},
	{"disregard_instructions", regexp.MustCompile(`(?i)\bdisregard\s+(all\s+)?(the\s+|your\s+)?(previous|prior|above)?\s*(instructions|rules|guidelines)`)},
	{"forget_instructions", regexp.MustCompile(`(?i)\bforget\s+(all\s+)?(your|previous|prior)\s+(instructions|rules|training)`)},
	{"reveal_prompt", regexp.MustCompile(`(?i)\b(reveal|show|print|output|repeat)\s+(me\s+)?(your|the)\s+(system\s+prompt|initial\s+prompt|instructions)`)},
	{"role_reassignment", regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(a|an|the|my|in)\b`)},
	{"pretend_role", regexp.MustCompile(`(?i)\bpretend\s+(to\s+be|you\s+are)\b`)},
	{"unrestricted_role", regexp.MustCompile(`(?i)\bact\s+as\s+(an?\s+)?(unrestricted|unfiltered|uncensored)`)},
	{"jailbreak", regexp.MustCompile(`(?i)\bjailbr(eak|oken)`)},
	{"developer_mode", regexp.MustCompile(`(?i)\bdeveloper\s+mode\b`)},
	{"do_anything_now", regexp.MustCompile(`(?i)\bdo\s+anything\s+now\b`)},
	{"authority_claim", regexp.MustCompile(`(?i)\b(i\s+am|i'm)\s+(the|an?|your)\s+(site\s+)?(administrator|admin|developer|owner|creator)\b`)},
	{"code_execution", regexp.MustCompile(`(?i)\b(eval|exec|system|shell_exec|passthru|popen|proc_open|base64_decode)\(`)},
	{"php_open_tag", regexp.MustCompile(`<\?php`)},
}

// Filter scans inbound chat text. Configuration is read per call so reloads
// take effect immediately.
type Filter struct {
	rt     *config.Runtime
	kv     store.KV
	events *EventLog
	now    func() time.Time
}

// NewFilter builds a filter. events may be nil.
func NewFilter(rt *config.Runtime, kv store.KV, events *EventLog) *Filter {
	return &Filter{rt: rt, kv: kv, events: events, now: time.Now}
}

// SetClock overrides the time source. Tests only.
func (f *Filter) SetClock(now func() time.Time) { f.now = now }

// Scan runs the checks in order and short-circuits on the first failure.
// Disabling the filter skips content checks but never the rate limit. The
// returned error is only set for storage failures.
func (f *Filter) Scan(ctx context.Context, message string, req Requester) (Result, error) {
	cfg := f.rt.Current().Security

	if cfg.Enabled {
		if res, failed := CheckContent(message); failed {
			f.record(ctx, Event{Type: EventBlocked, Requester: req, Message: message, Pattern: res.Pattern})
			return res, nil
		}
	}

	limited, err := f.rateLimited(ctx, req, cfg)
	if err != nil {
		return Result{}, err
	}
	if limited {
		f.record(ctx, Event{Type: EventRateLimited, Requester: req, Message: message})
		return Result{Pass: false, Code: CodeRateLimited}, nil
	}

	res := Result{Pass: true}
	if cfg.Enabled {
		res.PIIWarning = DetectPII(message)
		if len(res.PIIWarning) > 0 {
			f.record(ctx, Event{Type: EventPIIWarning, Requester: req, Message: Sanitize(message), PIITypes: res.PIIWarning})
		}
	}
	return res, nil
}

// CheckContent runs the empty, format and banned-content checks. failed is
// true when the message must be rejected.
func CheckContent(message string) (res Result, failed bool) {
	if strings.TrimSpace(message) == "" {
		return Result{Code: CodeEmptyMessage}, true
	}
	for _, r := range formatRules {
		if r.re.MatchString(message) {
			return Result{Code: CodeInvalidFormat, Pattern: r.name}, true
		}
	}
	for _, r := range bannedRules {
		if r.re.MatchString(message) {
			return Result{Code: CodeBannedContent, Pattern: r.name}, true
		}
	}
	return Result{Pass: true}, false
}

func (f *Filter) rateLimited(ctx context.Context, req Requester, cfg config.SecurityConfig) (bool, error) {
	if f.kv == nil {
		return false, nil
	}
	limit := cfg.RateLimitAuthenticated
	if req.Anonymous() {
		limit = cfg.RateLimitAnonymous
	}
	if limit <= 0 {
		return false, nil
	}
	window := cfg.RateWindow
	if window <= 0 {
		window = time.Minute
	}
	start := f.now().Truncate(window).Unix()
	key := "rate:" + req.RateKey() + ":" + strconv.FormatInt(start, 10)
	n, err := f.kv.Incr(ctx, key, window)
	if err != nil {
		return false, fmt.Errorf("rate limit: %w", err)
	}
	return n > int64(limit), nil
}

func (f *Filter) record(ctx context.Context, ev Event) {
	if f.events == nil {
		return
	}
	if err := f.events.Log(ctx, ev); err != nil {
		slog.Warn("Security event not recorded", "type", ev.Type, "error", err)
	}
}
