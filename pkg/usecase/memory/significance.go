package memory

import (
	"regexp"
	"strings"
)

// The significance filter decides whether an input fact is technical
// content worth remembering. Personal information and conversational
// chatter are dropped; a fact that matches neither a keep signal nor a
// skip signal is dropped as well.

var skipPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmy (name|birthday|address|phone|age|email) is\b`),
	regexp.MustCompile(`(?i)\bi (live|was born) in\b`),
	regexp.MustCompile(`\b[\w.+-]+@[\w-]+\.[\w.]+\b`),
	regexp.MustCompile(`(?i)^(hi|hello|hey|thanks|thank you|good (morning|evening|night)|how are you)\b`),
	regexp.MustCompile(`(?i)\b(lol|haha|nice weather|see you|bye)\b`),
}

var codePunctuation = []string{
	"()", "{}", "[]", "=>", "->", "::", ":=", "==", "!=", "&&", "||", "</", "/>",
}

var identifierRe = regexp.MustCompile(
	`[a-z][a-zA-Z0-9]*[A-Z][a-zA-Z0-9]*|\w+_\w+|\w+\.\w+\(|--?[a-z][\w-]+`)

var urlOrPathRe = regexp.MustCompile(`https?://\S+|(^|\s)(/|\./|~/)[\w./-]+`)

var technicalVocabulary = map[string]bool{
	"api": true, "async": true, "await": true, "backend": true, "branch": true,
	"bug": true, "build": true, "cache": true, "class": true, "cli": true,
	"commit": true, "compile": true, "config": true, "container": true,
	"cpu": true, "database": true, "dependency": true, "deploy": true,
	"docker": true, "endpoint": true, "error": true, "exception": true,
	"framework": true, "function": true, "git": true, "goroutine": true,
	"http": true, "https": true, "index": true, "interface": true, "io": true,
	"json": true, "latency": true, "library": true, "lint": true, "memory": true,
	"method": true, "middleware": true, "migration": true, "module": true,
	"mutex": true, "node": true, "package": true, "parser": true, "pointer": true,
	"protocol": true, "proxy": true, "query": true, "queue": true, "regex": true,
	"repository": true, "request": true, "response": true, "runtime": true,
	"schema": true, "server": true, "socket": true, "sql": true, "struct": true,
	"test": true, "thread": true, "timeout": true, "token": true, "typescript": true,
	"variable": true, "version": true, "yaml": true,
}

const vocabularyDensityThreshold = 0.2

// Significant reports whether a fact should be retained, with a
// human-readable reason either way.
func Significant(fact string) (bool, string) {
	trimmed := strings.TrimSpace(fact)
	if trimmed == "" {
		return false, "empty fact"
	}

	for _, p := range skipPatterns {
		if p.MatchString(trimmed) {
			return false, "matches personal-information or chatter pattern"
		}
	}

	if strings.Contains(trimmed, "```") || strings.Count(trimmed, "`") >= 2 {
		return true, "contains a code fence or inline code"
	}
	if urlOrPathRe.MatchString(trimmed) {
		return true, "contains a URL or file path"
	}
	if identifierRe.MatchString(trimmed) {
		return true, "contains code identifiers"
	}

	punct := 0
	for _, p := range codePunctuation {
		punct += strings.Count(trimmed, p)
	}
	if punct >= 2 {
		return true, "contains code-like punctuation"
	}

	if technicalDensity(trimmed) > vocabularyDensityThreshold {
		return true, "technical vocabulary density above threshold"
	}

	return false, "no technical content signal"
}

func technicalDensity(fact string) float64 {
	// Compound tokens like async/await count as their parts
	words := strings.Fields(strings.ReplaceAll(fact, "/", " "))
	if len(words) == 0 {
		return 0
	}
	hits := 0
	for _, w := range words {
		normalized := strings.ToLower(strings.Trim(w, `.,:;!?"'()`))
		if technicalVocabulary[normalized] {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}
