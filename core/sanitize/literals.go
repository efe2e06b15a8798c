package sanitize

import "strings"

// segment is a run of text that is either a quoted literal (quotes included)
// or plain SQL text.
type segment struct {
	text    string
	literal bool
}

// quote characters that open a literal or quoted identifier
func isQuote(c byte) bool {
	return c == '\'' || c == '"' || c == '`'
}

// splitLiterals splits s into alternating plain and literal segments. The
// scan honors doubled-quote escapes ('' inside a single-quoted literal) and
// backslash escapes. An unterminated literal runs to the end of the string.
func splitLiterals(s string) []segment {
	var segs []segment
	start := 0
	i := 0
	for i < len(s) {
		if !isQuote(s[i]) {
			i++
			continue
		}
		quote := s[i]
		if i > start {
			segs = append(segs, segment{text: s[start:i]})
		}
		litStart := i
		i++
		for i < len(s) {
			if s[i] == '\\' && i+1 < len(s) {
				i += 2
				continue
			}
			if s[i] == quote {
				if i+1 < len(s) && s[i+1] == quote {
					i += 2
					continue
				}
				i++
				break
			}
			i++
		}
		segs = append(segs, segment{text: s[litStart:i], literal: true})
		start = i
	}
	if start < len(s) {
		segs = append(segs, segment{text: s[start:]})
	}
	return segs
}

// mapPlain applies f to every non-literal segment of s and reassembles the
// string. Literal segments pass through untouched.
func mapPlain(s string, f func(string) string) string {
	segs := splitLiterals(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, seg := range segs {
		if seg.literal {
			b.WriteString(seg.text)
			continue
		}
		b.WriteString(f(seg.text))
	}
	return b.String()
}

// parenBalance returns open minus close parenthesis count outside literals.
func parenBalance(s string) int {
	balance := 0
	for _, seg := range splitLiterals(s) {
		if seg.literal {
			continue
		}
		balance += strings.Count(seg.text, "(") - strings.Count(seg.text, ")")
	}
	return balance
}
