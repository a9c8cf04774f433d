// Package sanitize cleans document text before it reaches a model prompt.
// Untrusted invoice text is an injection surface like any other user input.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	// MaxInputLength caps sanitized output; anything beyond it is cut.
	MaxInputLength = 8000
	// MaxTokenLength breaks up pathological unbroken runs that would blow
	// past model tokenizer limits.
	MaxTokenLength = 500
)

// Result reports what the sanitizer did. Threats lists the labels of every
// redacted pattern, in document order.
type Result struct {
	Cleaned     string   `json:"cleaned"`
	WasModified bool     `json:"was_modified"`
	Threats     []string `json:"threats"`
	Truncated   bool     `json:"truncated"`
}

type threatPattern struct {
	label string
	re    *regexp.Regexp
}

// Ordered: earlier patterns are matched first, and redaction markers from
// earlier passes are never re-matched by later ones.
var threatPatterns = []threatPattern{
	{"IGNORE_PREV_INSTR", regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|context)`)},
	{"ROLE_REDEFINITION", regexp.MustCompile(`(?i)you\s+are\s+(now\s+)?(a|an|no\s+longer)\s+[^.\n]{0,60}(assistant|ai|model|agent|system)`)},
	{"SYS_PROMPT_EXFIL", regexp.MustCompile(`(?i)(reveal|repeat|print|show|output)\s+(your\s+)?(system\s+prompt|initial\s+instructions|hidden\s+instructions)`)},
	{"ENV_EXFIL", regexp.MustCompile(`(?i)(print|echo|show|dump)\s+(os\.environ|env(ironment)?\s+variables?|\$\{?[A-Z_]{3,}\}?)`)},
	{"CHAT_TEMPLATE_INJECTION", regexp.MustCompile(`<\|?(im_start|im_end|endoftext|system|assistant)\|?>`)},
	{"LLAMA_TEMPLATE", regexp.MustCompile(`\[/?(INST|SYS)\]|<<\/?SYS>>`)},
	{"DELIM_INJECTION", regexp.MustCompile("(?m)^\\s*(```|---|===)\\s*(system|instructions?)\\b")},
	{"CODE_INJECTION", regexp.MustCompile(`(?i)(exec|eval|subprocess|os\.system|__import__)\s*\(`)},
	{"DAN", regexp.MustCompile(`(?i)\b(DAN|do\s+anything\s+now)\b.{0,40}(mode|jailbreak|persona)`)},
	{"JAILBREAK", regexp.MustCompile(`(?i)(jailbreak|developer\s+mode|unrestricted\s+mode|no\s+(ethical|safety)\s+(guidelines|restrictions))`)},
}

// Zero-width and bidi control characters used to hide instructions from
// human reviewers while remaining visible to the tokenizer.
var zeroWidthRe = regexp.MustCompile("[​‌‍‎‏⁠\uFEFF‪-‮]")

var delimiterRunRe = regexp.MustCompile(`([-=_*#~]){6,}`)

// Sanitize runs the full cleaning pipeline: NFC normalization, zero-width
// stripping, threat redaction, delimiter collapse, long-token splitting,
// and the final length cap.
func Sanitize(input string) Result {
	res := Result{}
	cleaned := norm.NFC.String(input)

	if stripped := zeroWidthRe.ReplaceAllString(cleaned, ""); stripped != cleaned {
		cleaned = stripped
		res.WasModified = true
	}

	for _, tp := range threatPatterns {
		if !tp.re.MatchString(cleaned) {
			continue
		}
		cleaned = tp.re.ReplaceAllString(cleaned, "[REDACTED:"+tp.label+"]")
		res.Threats = append(res.Threats, tp.label)
		res.WasModified = true
	}

	if collapsed := delimiterRunRe.ReplaceAllString(cleaned, "$1$1$1"); collapsed != cleaned {
		cleaned = collapsed
		res.WasModified = true
	}

	cleaned, split := splitLongTokens(cleaned)
	if split {
		res.WasModified = true
	}

	if len(cleaned) > MaxInputLength {
		cut := MaxInputLength
		// Back off to a rune boundary so the cut never leaves a broken
		// UTF-8 sequence at the end.
		for cut > 0 && !utf8.RuneStart(cleaned[cut]) {
			cut--
		}
		cleaned = cleaned[:cut]
		res.Truncated = true
		res.WasModified = true
	}

	if cleaned != input {
		res.WasModified = true
	}
	res.Cleaned = cleaned
	return res
}

// splitLongTokens inserts spaces into unbroken runs longer than
// MaxTokenLength. Redaction markers are short and unaffected.
func splitLongTokens(s string) (string, bool) {
	fields := strings.Fields(s)
	modified := false
	for i, f := range fields {
		if len(f) <= MaxTokenLength {
			continue
		}
		var b strings.Builder
		for len(f) > MaxTokenLength {
			b.WriteString(f[:MaxTokenLength])
			b.WriteByte(' ')
			f = f[MaxTokenLength:]
		}
		b.WriteString(f)
		fields[i] = b.String()
		modified = true
	}
	if !modified {
		return s, false
	}
	return strings.Join(fields, " "), true
}
