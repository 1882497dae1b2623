package ftn

import (
	"strings"
)

// MaxAreaTagLen is the longest echo area tag accepted from the wire.
const MaxAreaTagLen = 50

// MalformedArea is the area tag used when an echomail message carries an
// unusable or missing AREA line.
const MalformedArea = "MALFORMED"

// classifyWindow is the number of non-empty lines scanned for echomail
// signals when the first line is not an AREA line.
const classifyWindow = 10

// ParsedBody is a message body split into its parts.
type ParsedBody struct {
	Echomail bool     // classification result
	Area     string   // AREA tag (echomail only)
	Kludges  []string // ^A kludge lines without the ^A prefix, PATH excluded
	Text     string   // message text with "\n" line endings
	SeenBy   []string // SEEN-BY values
	Path     []string // PATH values
}

// SplitLines normalizes CR, CRLF and LF line endings and splits body.
func SplitLines(body string) []string {
	body = strings.ReplaceAll(body, "\r\n", "\r")
	body = strings.ReplaceAll(body, "\n", "\r")
	return strings.Split(body, "\r")
}

// ParseBody separates an FTN message body into its components and
// classifies it as netmail or echomail:
//
//  1. a first line starting with "AREA:" makes it echomail;
//  2. otherwise an "AREA:" line among the first non-empty lines does;
//  3. otherwise SEEN-BY or PATH among those lines does, with area MALFORMED;
//  4. anything else is netmail.
//
// MSGID, REPLY or PID alone never make a message echomail.
func ParseBody(body string) *ParsedBody {
	lines := SplitLines(body)
	result := &ParsedBody{}

	areaLine := -1
	if len(lines) > 0 && strings.HasPrefix(lines[0], "AREA:") {
		areaLine = 0
	} else {
		nonEmpty := 0
		sawSeenBy := false
		for i, line := range lines {
			if strings.TrimSpace(line) == "" {
				continue
			}
			nonEmpty++
			if nonEmpty > classifyWindow {
				break
			}
			if strings.HasPrefix(line, "AREA:") {
				areaLine = i
				break
			}
			if isTrailerLine(line) {
				sawSeenBy = true
			}
		}
		if areaLine < 0 && sawSeenBy {
			result.Echomail = true
			result.Area = MalformedArea
		}
	}
	if areaLine >= 0 {
		result.Echomail = true
		result.Area = AreaTag(lines[areaLine][len("AREA:"):])
	}

	var textLines []string
	trailer := false

	for i, line := range lines {
		if i == areaLine {
			continue
		}

		if len(line) > 0 && line[0] == KludgePrefix {
			kludge := line[1:]
			if strings.HasPrefix(kludge, "PATH:") {
				result.Path = append(result.Path, strings.TrimSpace(kludge[len("PATH:"):]))
				trailer = result.Echomail
				continue
			}
			result.Kludges = append(result.Kludges, kludge)
			continue
		}

		if result.Echomail {
			switch {
			case strings.HasPrefix(line, "SEEN-BY:"):
				result.SeenBy = append(result.SeenBy, strings.TrimSpace(line[len("SEEN-BY:"):]))
				trailer = true
				continue
			case strings.HasPrefix(line, "PATH:"):
				result.Path = append(result.Path, strings.TrimSpace(line[len("PATH:"):]))
				trailer = true
				continue
			}
		}

		// Blank lines inside the routing trailer are padding; any other
		// text after it is still part of the message.
		if trailer && strings.TrimSpace(line) == "" {
			continue
		}
		textLines = append(textLines, line)
	}

	result.Text = strings.TrimRight(strings.Join(textLines, "\n"), "\n")
	return result
}

// isTrailerLine reports whether line is a SEEN-BY or PATH line, with or
// without the ^A prefix.
func isTrailerLine(line string) bool {
	line = strings.TrimPrefix(line, string(KludgePrefix))
	return strings.HasPrefix(line, "SEEN-BY:") || strings.HasPrefix(line, "PATH:")
}

// AreaTag normalizes the text after "AREA:". The tag ends at the first
// whitespace or control character and is upper-cased.
func AreaTag(s string) string {
	s = strings.TrimLeft(s, " \t")
	end := strings.IndexFunc(s, func(r rune) bool {
		return r <= ' ' || r == 0x7f
	})
	if end >= 0 {
		s = s[:end]
	}
	if s == "" || len(s) > MaxAreaTagLen {
		return MalformedArea
	}
	return strings.ToUpper(s)
}

// FormatBody reassembles a message body from its components with FTN
// "\r" line endings.
func FormatBody(parsed *ParsedBody) string {
	var buf strings.Builder

	if parsed.Area != "" {
		buf.WriteString("AREA:")
		buf.WriteString(parsed.Area)
		buf.WriteString("\r")
	}

	for _, k := range parsed.Kludges {
		buf.WriteByte(KludgePrefix)
		buf.WriteString(k)
		buf.WriteString("\r")
	}

	if parsed.Text != "" {
		text := strings.ReplaceAll(parsed.Text, "\r\n", "\r")
		text = strings.ReplaceAll(text, "\n", "\r")
		buf.WriteString(text)
		if !strings.HasSuffix(text, "\r") {
			buf.WriteString("\r")
		}
	}

	for _, sb := range parsed.SeenBy {
		buf.WriteString("SEEN-BY: ")
		buf.WriteString(sb)
		buf.WriteString("\r")
	}

	for _, p := range parsed.Path {
		buf.WriteString("\x01PATH: ")
		buf.WriteString(p)
		buf.WriteString("\r")
	}

	return buf.String()
}
