package extract

import (
	"encoding/json"
	"strings"
)

// unquotedFields are keys whose values LLMs sometimes emit without quotes.
var unquotedFields = map[string]bool{
	"url":     true,
	"link":    true,
	"title":   true,
	"summary": true,
}

// Repair rewrites common LLM JSON mistakes outside of string literals:
// bare object keys are quoted, missing commas between adjacent values are
// inserted, trailing and doubled commas are dropped, unquoted values of
// known string fields are quoted, single-quoted strings become double-quoted,
// Python literals become JSON literals, and raw newlines inside strings are
// escaped. Valid JSON passes through unchanged.
func Repair(s string) string {
	r := repairer{src: s}
	r.run()
	return r.out.String()
}

type repairer struct {
	src  string
	out  strings.Builder
	last byte   // last significant byte emitted outside strings; 0 at start
	str  string // content of the most recent string literal
	key  string // key awaiting its value, set on ':'
}

func (r *repairer) run() {
	s := r.src
	r.out.Grow(len(s) + 16)
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '"':
			i = r.string(i, '"')
		case c == '\'':
			i = r.string(i, '\'')
		case c == ',':
			i = r.comma(i)
		case c == ':':
			r.out.WriteByte(':')
			r.last = ':'
			r.key = normalizeKey(r.str)
			i++
			if unquotedFields[r.key] {
				i = r.bareValue(i)
			}
		case c == '{' || c == '[':
			r.separate()
			r.out.WriteByte(c)
			r.last = c
			i++
		case c == '}' || c == ']':
			r.out.WriteByte(c)
			r.last = c
			i++
		case isIdentStart(c):
			i = r.word(i)
		case c == '-' || isDigit(c):
			j := i + 1
			for j < len(s) && strings.IndexByte("0123456789.eE+-", s[j]) >= 0 {
				j++
			}
			r.separate()
			r.out.WriteString(s[i:j])
			r.last = '0'
			i = j
		default:
			r.out.WriteByte(c)
			if !isSpace(c) {
				r.last = c
			}
			i++
		}
	}
}

// separate inserts a comma when a new value follows a complete one.
func (r *repairer) separate() {
	switch r.last {
	case '}', ']', '"', '0', 'l':
		r.out.WriteByte(',')
		r.last = ','
	}
}

// string copies a string literal starting at s[i] and returns the index after it.
func (r *repairer) string(i int, quote byte) int {
	s := r.src
	j := i + 1
	var content strings.Builder
	for j < len(s) {
		c := s[j]
		if c == '\\' && j+1 < len(s) {
			content.WriteByte(c)
			content.WriteByte(s[j+1])
			j += 2
			continue
		}
		if c == quote {
			break
		}
		content.WriteByte(c)
		j++
	}

	raw := content.String()
	r.separate()
	if quote == '"' {
		r.out.WriteByte('"')
		r.out.WriteString(escapeControl(raw))
		r.out.WriteByte('"')
	} else {
		raw = strings.ReplaceAll(raw, `\'`, `'`)
		r.out.WriteString(quoteJSON(raw))
	}
	r.str = raw
	r.last = '"'
	if j < len(s) {
		j++ // closing quote
	}
	return j
}

// comma drops commas that are trailing or doubled.
func (r *repairer) comma(i int) int {
	next := r.peek(i + 1)
	if next == '}' || next == ']' || next == 0 || r.last == ',' || r.last == '[' || r.last == '{' {
		return i + 1
	}
	r.out.WriteByte(',')
	r.last = ','
	return i + 1
}

// word handles a bare identifier: an unquoted key, a literal, or stray text.
func (r *repairer) word(i int) int {
	s := r.src
	j := i
	for j < len(s) && isIdentPart(s[j]) {
		j++
	}
	ident := s[i:j]

	if r.peek(j) == ':' && (r.last == '{' || r.last == ',' || r.last == 0 || r.last == '"' || r.last == '0' || r.last == 'l' || r.last == '}') {
		r.separate()
		r.out.WriteByte('"')
		r.out.WriteString(ident)
		r.out.WriteByte('"')
		r.str = ident
		r.last = '"'
		return j
	}

	switch ident {
	case "true", "false", "null":
	case "True":
		ident = "true"
	case "False":
		ident = "false"
	case "None":
		ident = "null"
	default:
		r.out.WriteString(ident)
		r.last = ident[len(ident)-1]
		return j
	}
	r.separate()
	r.out.WriteString(ident)
	r.last = 'l'
	return j
}

// bareValue quotes an unquoted value following "key:" for string fields.
func (r *repairer) bareValue(i int) int {
	s := r.src
	j := i
	for j < len(s) && (s[j] == ' ' || s[j] == '\t') {
		j++
	}
	if j >= len(s) || strings.IndexByte("\"'{[-0123456789\n\r", s[j]) >= 0 {
		return i
	}
	if strings.HasPrefix(s[j:], "true") || strings.HasPrefix(s[j:], "false") || strings.HasPrefix(s[j:], "null") {
		return i
	}

	end := j
	for end < len(s) {
		c := s[end]
		if c == '\n' || c == '\r' || c == '}' || c == ']' {
			break
		}
		if c == ',' && r.keyFollows(end+1) {
			break
		}
		end++
	}
	value := strings.TrimSpace(s[j:end])
	value = strings.TrimSuffix(value, ",")
	r.out.WriteString(" ")
	r.out.WriteString(quoteJSON(strings.TrimSpace(value)))
	r.str = value
	r.last = '"'
	return end
}

// keyFollows reports whether s[i:] starts, after blanks, with `key:`, `"key":` or a new object.
func (r *repairer) keyFollows(i int) bool {
	s := r.src
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	if i >= len(s) {
		return true
	}
	if s[i] == '{' {
		return true
	}
	if s[i] == '"' {
		i++
	}
	j := i
	for j < len(s) && isIdentPart(s[j]) {
		j++
	}
	if j == i {
		return false
	}
	if j < len(s) && s[j] == '"' {
		j++
	}
	return r.peek(j) == ':'
}

// peek returns the next non-space byte at or after i, or 0 at end of input.
func (r *repairer) peek(i int) byte {
	s := r.src
	for i < len(s) {
		if !isSpace(s[i]) {
			return s[i]
		}
		i++
	}
	return 0
}

func escapeControl(s string) string {
	if !strings.ContainsAny(s, "\n\r\t") {
		return s
	}
	return strings.NewReplacer("\n", `\n`, "\r", `\r`, "\t", `\t`).Replace(s)
}

func quoteJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func isSpace(c byte) bool      { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }
func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || (c|0x20 >= 'a' && c|0x20 <= 'z') }
func isIdentPart(c byte) bool  { return isIdentStart(c) || isDigit(c) }
