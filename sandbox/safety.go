package sandbox

import (
	"fmt"
	"regexp"
)

// RiskLevel grades the static safety scan's findings.
type RiskLevel int

const (
	RiskNone RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskNone:
		return "none"
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// SafetyReport is the result of scanning plugin source for dangerous
// constructs. The scan is a heuristic pre-filter over source text, not
// a guarantee; the sandbox remains the enforcement boundary.
type SafetyReport struct {
	IsSafe   bool
	Warnings []string
	Level    RiskLevel
}

// riskPattern pairs a compiled pattern with its severity.
type riskPattern struct {
	re          *regexp.Regexp
	level       RiskLevel
	description string
}

// Patterns cover the four screened construct families: dynamic
// evaluation, process spawning, raw network access, and raw file I/O.
var riskPatterns = []riskPattern{
	{regexp.MustCompile(`\b(load|loadstring|dofile|loadfile)\s*\(`), RiskCritical, "dynamic code evaluation"},
	{regexp.MustCompile(`\bos\.execute\s*\(`), RiskCritical, "process spawning"},
	{regexp.MustCompile(`\bio\.popen\s*\(`), RiskCritical, "process spawning with pipe"},
	{regexp.MustCompile(`\bos\.exit\s*\(`), RiskHigh, "host process termination"},
	{regexp.MustCompile(`\brequire\s*\(?\s*["'](socket|http|ltn12)`), RiskHigh, "raw network access"},
	{regexp.MustCompile(`\bio\.(open|lines|output|input)\s*\(`), RiskMedium, "raw file I/O"},
	{regexp.MustCompile(`\bos\.(remove|rename|tmpname)\s*\(`), RiskMedium, "filesystem mutation"},
	{regexp.MustCompile(`\bdebug\.`), RiskHigh, "debug library introspection"},
	{regexp.MustCompile(`\bpackage\.(loadlib|cpath)\b`), RiskCritical, "native library loading"},
}

// safeThreshold is the highest risk level still considered safe to load.
const safeThreshold = RiskMedium

// CheckSource scans plugin source text for dangerous constructs and
// returns a report. The overall level is the maximum severity found,
// bumped one step when three or more distinct findings accumulate.
func CheckSource(source string) SafetyReport {
	report := SafetyReport{IsSafe: true, Level: RiskNone}

	for _, p := range riskPatterns {
		matches := p.re.FindAllString(source, -1)
		if len(matches) == 0 {
			continue
		}
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("%s: %d occurrence(s) of %s", p.description, len(matches), p.re.String()))
		if p.level > report.Level {
			report.Level = p.level
		}
	}

	if len(report.Warnings) >= 3 && report.Level < RiskCritical {
		report.Level++
	}
	if report.Level > safeThreshold {
		report.IsSafe = false
	}
	return report
}
