package security

import (
	"fmt"
	"regexp"
	"strings"
)

// blacklistedCommands are destructive shell idioms matched case-insensitively
// against the raw source of every language.
var blacklistedCommands = []string{
	"rm -rf",
	"mkfs",
	"dd if=",
	"shutdown",
	"reboot",
	"halt",
	"del /s",
	"rmdir /s",
	"format c:",
}

// blacklistedModules are process, OS and network level modules whose import
// is refused for interpreted languages.
var blacklistedModules = []string{
	"subprocess", "os", "sys", "socket", "ftplib", "urllib", "http",
}

// pythonBlacklistedSymbols are dynamic-evaluation and process-control
// primitives detected by substring match in Python source.
var pythonBlacklistedSymbols = []string{
	"os.system", "subprocess.run", "eval(", "exec(",
	"__import__", "compile(", "pickle.loads", "marshal.loads",
}

// goBlacklistedImports are the Go equivalents of the denylisted module set.
var goBlacklistedImports = map[string]bool{
	"os/exec":  true,
	"syscall":  true,
	"net":      true,
	"net/http": true,
	"plugin":   true,
	"unsafe":   true,
}

var (
	pythonImportRe = regexp.MustCompile(`(?m)^\s*(?:import|from)\s+([A-Za-z_][A-Za-z0-9_.]*)`)

	// bashDestructiveRes are language-specific destructive command forms,
	// including the classic fork bomb.
	bashDestructiveRes = []*regexp.Regexp{
		regexp.MustCompile(`rm\s+-rf\s+/`),
		regexp.MustCompile(`dd\s+if=`),
		regexp.MustCompile(`mkfs\.`),
		regexp.MustCompile(`:\(\)\{\s*:\|:&\s*\};`),
	}

	secretRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)password\s*=\s*['"][^'"]+['"]`),
		regexp.MustCompile(`(?i)api[_-]?key\s*=\s*['"][^'"]+['"]`),
		regexp.MustCompile(`(?i)secret\s*=\s*['"][^'"]+['"]`),
	}

	ipAddressRe = regexp.MustCompile(`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`)
)

func checkBlacklistedCommands(source string) []string {
	lower := strings.ToLower(source)
	var found []string
	for _, cmd := range blacklistedCommands {
		if strings.Contains(lower, cmd) {
			found = append(found, fmt.Sprintf("destructive command detected: %s", cmd))
		}
	}
	return found
}

func checkPythonSource(source string) []string {
	var found []string
	for _, sym := range pythonBlacklistedSymbols {
		if strings.Contains(source, sym) {
			found = append(found, fmt.Sprintf("dangerous call detected: %s", strings.TrimSuffix(sym, "(")))
		}
	}
	for _, m := range pythonImportRe.FindAllStringSubmatch(source, -1) {
		module := m[1]
		if i := strings.IndexByte(module, '.'); i >= 0 {
			module = module[:i]
		}
		for _, banned := range blacklistedModules {
			if module == banned {
				found = append(found, fmt.Sprintf("dangerous module import detected: %s", module))
			}
		}
	}
	return found
}

func checkJavaScriptSource(source string) []string {
	var found []string
	if strings.Contains(source, "eval(") {
		found = append(found, "dangerous call detected: eval")
	}
	if strings.Contains(source, "new Function(") {
		found = append(found, "dangerous call detected: Function constructor")
	}
	if strings.Contains(source, "child_process") {
		found = append(found, "dangerous module import detected: child_process")
	}
	if strings.Contains(source, "document.write") {
		found = append(found, "dangerous call detected: document.write")
	}
	return found
}

func checkBashSource(source string) []string {
	var found []string
	for _, re := range bashDestructiveRes {
		if re.MatchString(source) {
			found = append(found, fmt.Sprintf("destructive shell pattern detected: %s", re.String()))
		}
	}
	return found
}

func collectWarnings(source string) []string {
	var warnings []string
	for _, re := range secretRes {
		if re.MatchString(source) {
			warnings = append(warnings, "source may contain hardcoded credentials")
			break
		}
	}
	if ipAddressRe.MatchString(source) {
		warnings = append(warnings, "source contains a literal IP address")
	}
	return warnings
}
