// Package rules expands shorthand in free-text visit notes before they are sent for analysis.
//
// A rules file holds one rule per line:
//
//	BP => blood pressure
//	s/\bSpO2\s*(\d+)/SpO2 $1%/g
//
// Literal rules match whole words case-insensitively. Regex rules use sed syntax with i, g, m and s flags.
// Blank lines and lines starting with # are ignored.
package rules

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

type Rule interface {
	Apply(input string) (output string, changed bool)
}

// Parser turns one rules-file line into a rule.
type Parser interface {
	Accepts(line string) bool
	Parse(line string) (Rule, error)
}

// Engine rewrites notes until no rule changes them or the iteration limit is hit.
type Engine struct {
	rules []Rule
	limit int
}

// Identity returns an engine without rules.
func Identity() *Engine {
	return &Engine{limit: 1}
}

// Load reads and compiles rules from path. A missing file yields an engine without rules.
func Load(path string, limit int) (*Engine, error) {
	return LoadWithParsers(path, limit, DefaultParsers())
}

// LoadWithParsers is Load with a custom parser chain.
func LoadWithParsers(path string, limit int, parsers []Parser) (*Engine, error) {
	if limit <= 0 {
		limit = 30
	}
	if strings.TrimSpace(path) == "" {
		return &Engine{limit: limit}, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Engine{limit: limit}, nil
		}
		return nil, fmt.Errorf("failed to read rules file %q: %w", path, err)
	}

	compiled, err := Compile(string(contents), parsers)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %q: %w", path, err)
	}
	return &Engine{rules: compiled, limit: limit}, nil
}

// Compile parses rules text with the given parsers.
func Compile(contents string, parsers []Parser) ([]Rule, error) {
	if len(parsers) == 0 {
		parsers = DefaultParsers()
	}

	var compiled []Rule
	for index, raw := range strings.Split(contents, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var parser Parser
		for _, candidate := range parsers {
			if candidate.Accepts(line) {
				parser = candidate
				break
			}
		}
		if parser == nil {
			return nil, fmt.Errorf("line %d: unsupported rule format", index+1)
		}

		r, err := parser.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", index+1, err)
		}
		compiled = append(compiled, r)
	}
	return compiled, nil
}

// New builds an engine from already compiled rules.
func New(compiled []Rule, limit int) *Engine {
	if limit <= 0 {
		limit = 30
	}
	return &Engine{rules: compiled, limit: limit}
}

// Len reports the number of loaded rules.
func (e *Engine) Len() int {
	return len(e.rules)
}

// Normalize applies every rule in order, repeating until the text is stable.
func (e *Engine) Normalize(text string) string {
	if e == nil || len(e.rules) == 0 {
		return text
	}

	for pass := 0; pass < e.limit; pass++ {
		dirty := false
		for _, r := range e.rules {
			if next, changed := r.Apply(text); changed {
				text = next
				dirty = true
			}
		}
		if !dirty {
			break
		}
	}
	return text
}

// DefaultParsers returns the sed-style and abbreviation parsers.
func DefaultParsers() []Parser {
	return []Parser{sedParser{}, abbreviationParser{}}
}

type abbreviationParser struct{}

func (abbreviationParser) Accepts(line string) bool {
	return strings.Contains(line, "=>")
}

func (abbreviationParser) Parse(line string) (Rule, error) {
	short, long, _ := strings.Cut(line, "=>")
	short = strings.TrimSpace(short)
	long = strings.TrimSpace(long)
	if short == "" {
		return nil, errors.New("abbreviation cannot be empty")
	}

	re, err := regexp.Compile(`(?i)(^|[^\pL\pN])` + regexp.QuoteMeta(short) + `($|[^\pL\pN])`)
	if err != nil {
		return nil, fmt.Errorf("invalid abbreviation: %w", err)
	}
	return abbreviation{re: re, expansion: long}, nil
}

type abbreviation struct {
	re        *regexp.Regexp
	expansion string
}

func (a abbreviation) Apply(input string) (string, bool) {
	output := a.re.ReplaceAllString(input, "${1}"+strings.ReplaceAll(a.expansion, "$", "$$")+"${2}")
	return output, output != input
}

type sedParser struct{}

func (sedParser) Accepts(line string) bool {
	return len(line) > 1 && line[0] == 's' && !isWordByte(line[1])
}

func (sedParser) Parse(line string) (Rule, error) {
	delim := line[1]
	pattern, rest, err := splitDelimited(line[2:], delim)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	replacement, rest, err := splitDelimited(rest, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid replacement: %w", err)
	}

	global := false
	inline := "i"
	for _, flag := range strings.TrimSpace(rest) {
		switch flag {
		case 'g':
			global = true
		case 'i':
		case 'm', 's':
			inline += string(flag)
		default:
			return nil, fmt.Errorf("unsupported flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + inline + ")" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return substitution{re: re, replacement: replacement, global: global}, nil
}

type substitution struct {
	re          *regexp.Regexp
	replacement string
	global      bool
}

func (s substitution) Apply(input string) (string, bool) {
	var output string
	if s.global {
		output = s.re.ReplaceAllString(input, s.replacement)
	} else {
		loc := s.re.FindStringSubmatchIndex(input)
		if loc == nil {
			return input, false
		}
		expanded := s.re.ExpandString(nil, s.replacement, input, loc)
		output = input[:loc[0]] + string(expanded) + input[loc[1]:]
	}
	return output, output != input
}

// splitDelimited reads up to the next unescaped delim and returns the text before it and the remainder after it.
func splitDelimited(s string, delim byte) (string, string, error) {
	escaped := false
	for i := 0; i < len(s); i++ {
		switch {
		case escaped:
			escaped = false
		case s[i] == '\\':
			escaped = true
		case s[i] == delim:
			return s[:i], s[i+1:], nil
		}
	}
	return "", "", errors.New("unterminated expression")
}

func isWordByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == ' ' || c == '\t'
}
