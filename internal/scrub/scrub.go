// Package scrub redacts credentials from tool output before it is fed back
// to a model provider. File reads and shell commands routinely surface .env
// files and tokens that must not leave the machine.
package scrub

import "regexp"

var (
	// VAR=value lines in .env style; keeps the variable name visible.
	envRegex = regexp.MustCompile(`(?m)^([A-Z_]+)=\S+$`)
	jwtRegex = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`)
	// OpenAI-style and generic sk- keys.
	skRegex   = regexp.MustCompile(`sk-[a-zA-Z0-9\-]{20,}`)
	aizaRegex = regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`)
	ghpRegex  = regexp.MustCompile(`ghp_[a-zA-Z0-9]{36}`)
)

// Clean replaces anything resembling a secret with a redaction marker.
func Clean(input string) string {
	input = envRegex.ReplaceAllString(input, "${1}=[REDACTED]")
	input = skRegex.ReplaceAllString(input, "[REDACTED_KEY]")
	input = jwtRegex.ReplaceAllString(input, "[REDACTED_JWT]")
	input = aizaRegex.ReplaceAllString(input, "[REDACTED_KEY]")
	input = ghpRegex.ReplaceAllString(input, "[REDACTED_KEY]")
	return input
}
