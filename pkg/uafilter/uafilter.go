// Package uafilter screens visitor traffic by User-Agent so crawler and
// scanner noise never reaches operator channels.
package uafilter

import (
	"regexp"
	"strings"
	"sync"
)

// Mode selects how the pattern lists combine.
type Mode string

const (
	ModeBlocklist Mode = "blocklist"
	ModeAllowlist Mode = "allowlist"
	ModeBoth      Mode = "both"
)

// Config controls the filter.
type Config struct {
	Enabled        bool     `env:"UA_FILTER_ENABLED" yaml:"enabled"`
	Mode           Mode     `env:"UA_FILTER_MODE" yaml:"mode"`
	Blocklist      []string `env:"UA_FILTER_BLOCKLIST" envSeparator:"," yaml:"blocklist"`
	Allowlist      []string `env:"UA_FILTER_ALLOWLIST" envSeparator:"," yaml:"allowlist"`
	UseDefaultBots bool     `env:"UA_FILTER_USE_DEFAULT_BOTS" envDefault:"true" yaml:"useDefaultBots"`
	LogBlocked     bool     `env:"UA_FILTER_LOG_BLOCKED" envDefault:"true" yaml:"logBlocked"`
}

// DefaultBotPatterns covers search crawlers, SEO tools, uptime monitors,
// social preview bots, AI crawlers, HTTP libraries, and security
// scanners. Patterns wrapped in slashes are treated as regex.
var DefaultBotPatterns = []string{
	// Search engine crawlers
	"googlebot", "bingbot", "slurp", "duckduckbot", "baiduspider",
	"yandexbot", "sogou", "exabot", "facebot", "ia_archiver",
	// SEO and marketing tools
	"semrushbot", "ahrefsbot", "mj12bot", "dotbot", "rogerbot",
	"screaming frog", "seokicks", "sistrix", "linkdexbot", "blexbot",
	// Generic bot markers
	"bot/", "crawler", "spider", "scraper",
	// Headless browsers and automation
	"headless", "phantomjs", "selenium", "puppeteer", "playwright",
	"webdriver",
	// Monitoring services
	"pingdom", "uptimerobot", "statuscake", "site24x7", "newrelic",
	"datadog", "gtmetrix", "pagespeed",
	// Social media preview bots
	"twitterbot", "linkedinbot", "pinterestbot", "telegrambot",
	"whatsapp", "slackbot", "discordbot", "applebot",
	// AI crawlers
	"gptbot", "chatgpt-user", "anthropic-ai", "claude-web",
	"perplexitybot", "ccbot", "bytespider", "cohere-ai",
	// HTTP libraries
	"curl/", "wget/", "httpie/", "python-requests", "python-urllib",
	"axios/", "node-fetch", "go-http-client", "java/", "okhttp",
	"libwww-perl", "httpclient",
	// Archivers
	"archive.org_bot", "wayback", "commoncrawl",
	// Security scanners
	"nmap", "nikto", "sqlmap", "masscan", "zgrab",
}

// Result reports a filter decision and, when blocked, which pattern
// matched.
type Result struct {
	Allowed bool
	Pattern string
}

// Filter evaluates User-Agent strings against the configured lists.
type Filter struct {
	cfg       Config
	blocklist []string
	allowlist []string

	mu      sync.Mutex
	regexes map[string]*regexp.Regexp
}

// New builds a filter from config, folding in the default bot patterns
// when enabled.
func New(cfg Config) *Filter {
	f := &Filter{
		cfg:       cfg,
		allowlist: cfg.Allowlist,
		regexes:   make(map[string]*regexp.Regexp),
	}
	if cfg.UseDefaultBots {
		f.blocklist = append(f.blocklist, DefaultBotPatterns...)
	}
	f.blocklist = append(f.blocklist, cfg.Blocklist...)
	return f
}

func isRegexPattern(p string) bool {
	return len(p) > 2 && strings.HasPrefix(p, "/") && strings.HasSuffix(p, "/")
}

func (f *Filter) compiled(p string) *regexp.Regexp {
	f.mu.Lock()
	defer f.mu.Unlock()
	if re, ok := f.regexes[p]; ok {
		return re
	}
	re, err := regexp.Compile("(?i)" + strings.TrimSuffix(strings.TrimPrefix(p, "/"), "/"))
	if err != nil {
		re = nil
	}
	f.regexes[p] = re
	return re
}

// matchesAny returns the first matching pattern, if any. Plain patterns
// are case-insensitive substrings.
func (f *Filter) matchesAny(ua string, patterns []string) (string, bool) {
	lower := strings.ToLower(ua)
	for _, p := range patterns {
		if isRegexPattern(p) {
			if re := f.compiled(p); re != nil && re.MatchString(ua) {
				return p, true
			}
			continue
		}
		if strings.Contains(lower, strings.ToLower(p)) {
			return p, true
		}
	}
	return "", false
}

// Check decides whether a User-Agent may pass. A disabled filter and an
// empty User-Agent both allow. In "both" mode the allowlist wins over a
// blocklist match.
func (f *Filter) Check(ua string) Result {
	if !f.cfg.Enabled || ua == "" {
		return Result{Allowed: true}
	}

	switch f.cfg.Mode {
	case ModeAllowlist:
		if _, ok := f.matchesAny(ua, f.allowlist); ok {
			return Result{Allowed: true}
		}
		return Result{Allowed: false, Pattern: "not in allowlist"}
	case ModeBoth:
		if _, ok := f.matchesAny(ua, f.allowlist); ok {
			return Result{Allowed: true}
		}
		if p, ok := f.matchesAny(ua, f.blocklist); ok {
			return Result{Allowed: false, Pattern: p}
		}
		return Result{Allowed: true}
	default: // blocklist
		if p, ok := f.matchesAny(ua, f.blocklist); ok {
			return Result{Allowed: false, Pattern: p}
		}
		return Result{Allowed: true}
	}
}

// LogBlocked reports whether blocked requests should be logged.
func (f *Filter) LogBlocked() bool { return f.cfg.LogBlocked }
