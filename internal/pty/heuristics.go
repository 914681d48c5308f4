package pty

import (
	"bytes"
	"net/url"
	"regexp"
)

// Prompt detection is a heuristic: a regex guess that the shell has printed
// an interactive prompt again. False positives and negatives are an
// accepted risk, bounded elsewhere by idle timeouts.

// promptPatterns match common shell prompt tails ($, #, %, >, ❯).
var promptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\$\s*$`),
	regexp.MustCompile(`#\s*$`),
	regexp.MustCompile(`%\s*$`),
	regexp.MustCompile(`>\s*$`),
	regexp.MustCompile(`❯\s*$`),
}

// busyPatterns match output that signals work still in progress even when a
// prompt-like character appears: progress percentages, compiler chatter,
// trailing ellipses and spinner frames.
var busyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{1,3}%`),
	regexp.MustCompile(`(?i)compiling|building|downloading|installing`),
	regexp.MustCompile(`(\.{3}|…)\s*$`),
	regexp.MustCompile(`[⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏]`),
}

// ansiPattern matches ANSI escape sequences: CSI, OSC, DCS/SOS/PM/APC and
// private mode sequences.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07]*\x07|\x1b[PX^_][^\x1b]*\x1b\\|\x1b\[\?[0-9]+[hl]|\x1b\(B`)

// osc7Pattern matches the OSC7 cwd report: ESC ] 7 ; file://host/path,
// terminated by BEL or ST.
var osc7Pattern = regexp.MustCompile(`\x1b\]7;(file://[^\x07\x1b]*)(?:\x07|\x1b\\)`)

// StripANSI removes ANSI escape sequences from the input.
func StripANSI(data []byte) []byte {
	return ansiPattern.ReplaceAll(data, nil)
}

// MatchesPrompt reports whether the last line of the chunk, with escape
// sequences removed, looks like a shell prompt.
func MatchesPrompt(chunk []byte) bool {
	line := lastLine(StripANSI(chunk))
	if len(bytes.TrimSpace(line)) == 0 {
		return false
	}
	for _, p := range promptPatterns {
		if p.Match(line) {
			return true
		}
	}
	return false
}

// MatchesBusy reports whether the chunk looks like a command still running.
func MatchesBusy(chunk []byte) bool {
	clean := StripANSI(chunk)
	for _, p := range busyPatterns {
		if p.Match(clean) {
			return true
		}
	}
	return false
}

// ParseCwd extracts the last OSC7-reported working directory from the
// chunk, percent-decoded. Returns "" when no complete report is present.
func ParseCwd(chunk []byte) string {
	matches := osc7Pattern.FindAllSubmatch(chunk, -1)
	if len(matches) == 0 {
		return ""
	}
	raw := string(matches[len(matches)-1][1])
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return ""
	}
	return u.Path
}

// lastLine returns the final non-empty-terminated line of the data.
func lastLine(data []byte) []byte {
	data = bytes.TrimRight(data, "\r\n")
	if i := bytes.LastIndexAny(data, "\r\n"); i >= 0 {
		return data[i+1:]
	}
	return data
}
