// Package security implements the pre-execution policy gate.
//
// The gate inspects source code before it reaches any execution backend and
// produces a verdict: hard violations (destructive commands, denylisted
// modules, dynamic code evaluation, oversized payloads) block execution,
// while warnings (hardcoded secrets, literal IP addresses, suspected
// unbounded recursion) are informational only.
//
// Go source is checked structurally via go/parser; other languages use
// regex and substring detection of the same symbol names, which is
// best-effort by design.
package security

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// DefaultMaxCodeLength is the source length ceiling applied when the
// configured value is not positive.
const DefaultMaxCodeLength = 10000

// Verdict is the result of a policy check for one (source, language) pair.
type Verdict struct {
	// Safe is true when no violations were found. Warnings never affect it.
	Safe bool

	// Violations are hard blocks. Execution must be refused.
	Violations []string

	// Warnings are informational findings that never block execution.
	Warnings []string

	// Sanitized is a best-effort copy of the source with violating
	// substrings replaced by a marker comment. It is offered for display
	// only and is never executed.
	Sanitized string
}

// Gate applies the security policy. It holds no mutable state and is safe
// for concurrent use.
type Gate struct {
	logger        *zap.Logger
	maxCodeLength int
}

// NewGate creates a gate with the given source length ceiling.
func NewGate(logger *zap.Logger, maxCodeLength int) *Gate {
	if maxCodeLength <= 0 {
		maxCodeLength = DefaultMaxCodeLength
	}
	return &Gate{logger: logger, maxCodeLength: maxCodeLength}
}

// Check runs every policy dimension against the source and returns the
// combined verdict. The source itself is never modified.
func (g *Gate) Check(source, language string) Verdict {
	var violations []string

	if len(source) > g.maxCodeLength {
		violations = append(violations,
			fmt.Sprintf("source too long (%d > %d characters)", len(source), g.maxCodeLength))
	}

	violations = append(violations, checkBlacklistedCommands(source)...)

	switch strings.ToLower(language) {
	case "python":
		violations = append(violations, checkPythonSource(source)...)
	case "javascript", "js":
		violations = append(violations, checkJavaScriptSource(source)...)
	case "bash", "sh":
		violations = append(violations, checkBashSource(source)...)
	case "go":
		violations = append(violations, checkGoSource(source)...)
	}

	warnings := collectWarnings(source)
	if suspectsUnboundedRecursion(source, language) {
		warnings = append(warnings, "possible unbounded recursion: self-call with no conditional or loop in the function body")
	}

	v := Verdict{
		Safe:       len(violations) == 0,
		Violations: violations,
		Warnings:   warnings,
		Sanitized:  source,
	}
	if !v.Safe {
		v.Sanitized = sanitize(source)
		g.logger.Warn("security policy violation",
			zap.String("language", language),
			zap.Strings("violations", violations))
	}
	return v
}

// Summary describes the active policy configuration.
func (g *Gate) Summary() map[string]int {
	return map[string]int{
		"max_code_length":      g.maxCodeLength,
		"blacklisted_commands": len(blacklistedCommands),
		"blacklisted_symbols":  len(pythonBlacklistedSymbols),
		"blacklisted_modules":  len(blacklistedModules),
	}
}

// sanitize replaces violating substrings with a marker. The result is for
// display purposes; execution always uses the original source or nothing.
func sanitize(source string) string {
	out := source
	for _, sym := range pythonBlacklistedSymbols {
		out = strings.ReplaceAll(out, sym, "# removed: "+strings.TrimSuffix(sym, "("))
	}
	for _, cmd := range blacklistedCommands {
		out = replaceFold(out, cmd, "# removed: "+strings.TrimSuffix(cmd, "="))
	}
	return out
}

// replaceFold is a case-insensitive strings.ReplaceAll.
func replaceFold(s, old, replacement string) string {
	if old == "" {
		return s
	}
	var b strings.Builder
	lower := strings.ToLower(s)
	needle := strings.ToLower(old)
	for {
		i := strings.Index(lower, needle)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		b.WriteString(replacement)
		s = s[i+len(old):]
		lower = lower[i+len(needle):]
	}
}
