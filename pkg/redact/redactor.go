// Package redact applies deterministic masking of secrets and identifiers
// to free text before it is persisted or embedded in prompts.
//
// Rules are compiled eagerly at construction and applied in a fixed order,
// most specific first, so that a DSN is masked as a whole before the email
// rule can eat its user@host portion. Every replacement is a fixed bracketed
// literal that no rule matches, which makes redaction idempotent:
// Redact(Redact(x)) == Redact(x).
package redact

import (
	"regexp"
	"strconv"
	"strings"
)

// rule is one compiled rewrite. When validate is non-nil the match is only
// replaced if validate returns true.
type rule struct {
	name        string
	re          *regexp.Regexp
	replacement string
	validate    func(match string) bool
}

// Redactor holds the ordered, compiled rule set. Safe for concurrent use.
type Redactor struct {
	rules []rule
}

var envVarNames = map[string]bool{
	"SECRET":       true,
	"API_KEY":      true,
	"TOKEN":        true,
	"PASSWORD":     true,
	"KEY":          true,
	"ACCESS_TOKEN": true,
	"PRIVATE_KEY":  true,
	"SECRET_KEY":   true,
}

// New compiles the built-in rule set.
func New() *Redactor {
	return &Redactor{
		rules: []rule{
			{
				name:        "db_connection",
				re:          regexp.MustCompile(`\b(?:postgresql|mysql)://\S+`),
				replacement: "[db_connection]",
			},
			{
				name:        "secret_url",
				re:          regexp.MustCompile(`(?i)\bhttps?://\S*(?:password|token|key|secret)\S*`),
				replacement: "[url]",
			},
			{
				name:        "email",
				re:          regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
				replacement: "[email]",
			},
			{
				name:        "ipv4",
				re:          regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
				replacement: "[ip]",
				validate:    validOctets,
			},
			{
				name:        "env_var",
				re:          regexp.MustCompile(`\b([A-Z][A-Z0-9_]*)=\S+`),
				replacement: "[env_var]",
				validate: func(match string) bool {
					name, _, _ := strings.Cut(match, "=")
					return envVarNames[name]
				},
			},
			{
				name:        "long_token",
				re:          regexp.MustCompile(`[A-Za-z0-9._-]{20,}`),
				replacement: "[token]",
				validate:    hasLetterAndDigit,
			},
		},
	}
}

// Redact applies every rule in order and returns the masked text.
func (r *Redactor) Redact(text string) string {
	if text == "" {
		return text
	}
	for _, rl := range r.rules {
		if rl.validate == nil {
			text = rl.re.ReplaceAllString(text, rl.replacement)
			continue
		}
		text = rl.re.ReplaceAllStringFunc(text, func(match string) string {
			if rl.validate(match) {
				return rl.replacement
			}
			return match
		})
	}
	return text
}

// validOctets reports whether every dotted-quad octet is in 0..255.
func validOctets(match string) bool {
	for _, part := range strings.Split(match, ".") {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 255 {
			return false
		}
	}
	return true
}

// hasLetterAndDigit requires a candidate secret to contain at least one
// letter and one digit, filtering out plain words and plain numbers.
func hasLetterAndDigit(match string) bool {
	var letter, digit bool
	for _, c := range match {
		switch {
		case c >= '0' && c <= '9':
			digit = true
		case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
			letter = true
		}
		if letter && digit {
			return true
		}
	}
	return false
}
