// Package prompt rewrites agent prompts for the LLM.
//
// Agent prompts arrive as one long text mixing a persona, a scripted
// conversation flow, and hard rules. Models follow the section they see
// first, and naive tail-truncation can cut the script entirely. The
// optimizer finds the sections by marker scan and reorders them so the
// script leads, then caps each section so even a pathological prompt fits
// the context window.
package prompt

import "strings"

// Section size caps, in bytes of UTF-8 text.
const (
	maxScriptLen  = 16 * 1024
	maxPersonaLen = 4 * 1024
	maxRulesLen   = 6 * 1024

	// maxPlainLen caps an unstructured prompt (no script section found).
	maxPlainLen = 32 * 1024
)

// ellipsis marks a truncation point.
const ellipsis = "…"

// scriptMarkers open a scripted-flow section. Matched case-insensitively.
var scriptMarkers = []string{"FLUJO", "SCRIPT", "PASO 1", "CONVERSACIÓN", "GUIÓN"}

// ruleMarkers open a rules/restrictions section. Matched case-insensitively.
var ruleMarkers = []string{"IMPORTANTE", "RESTRICCIONES", "REGLAS", "NUNCA", "PROHIBIDO"}

// Optimize reorders a raw agent prompt so the scripted flow precedes the
// rules: [SCRIPT] then [PERSONA] then [RULES], each capped. When no script
// marker is found the prompt is returned as-is, truncated with an ellipsis
// only if it exceeds the plain cap.
func Optimize(raw string) string {
	scriptAt := earliestMarker(raw, scriptMarkers)
	if scriptAt < 0 {
		if len(raw) > maxPlainLen {
			return truncate(raw, maxPlainLen)
		}
		return raw
	}
	ruleAt := earliestMarker(raw, ruleMarkers)

	var persona, script, rules string
	switch {
	case ruleAt < 0:
		persona = raw[:scriptAt]
		script = raw[scriptAt:]
	case ruleAt < scriptAt:
		persona = raw[:ruleAt]
		rules = raw[ruleAt:scriptAt]
		script = raw[scriptAt:]
	default:
		persona = raw[:scriptAt]
		script = raw[scriptAt:ruleAt]
		rules = raw[ruleAt:]
	}

	var sb strings.Builder
	sb.Grow(len(raw) + 32)
	sb.WriteString("[SCRIPT]\n")
	sb.WriteString(truncate(strings.TrimSpace(script), maxScriptLen))
	if p := strings.TrimSpace(persona); p != "" {
		sb.WriteString("\n\n[PERSONA]\n")
		sb.WriteString(truncate(p, maxPersonaLen))
	}
	if r := strings.TrimSpace(rules); r != "" {
		sb.WriteString("\n\n[RULES]\n")
		sb.WriteString(truncate(r, maxRulesLen))
	}
	return sb.String()
}

// earliestMarker returns the lowest index at which any marker occurs in s,
// case-insensitively, or -1.
func earliestMarker(s string, markers []string) int {
	upper := strings.ToUpper(s)
	best := -1
	for _, m := range markers {
		if i := strings.Index(upper, m); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	return best
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence,
// appending the ellipsis marker when anything was cut.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + ellipsis
}
