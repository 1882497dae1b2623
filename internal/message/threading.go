package message

import (
	"regexp"
	"strings"
)

var reReplySuffix = regexp.MustCompile(` -Re: #\d+-$`)

// NormalizeThreadSubject strips "Re:" prefixes and " -Re: #N-" suffixes.
func NormalizeThreadSubject(subject string) string {
	s := strings.TrimSpace(subject)
	s = reReplySuffix.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	for strings.HasPrefix(strings.ToUpper(s), "RE:") {
		s = strings.TrimSpace(s[3:])
	}
	return s
}

// ReplySubject returns the subject for a reply to a message with subject.
func ReplySubject(subject string) string {
	s := NormalizeThreadSubject(subject)
	if s == "" {
		return "Re:"
	}
	return "Re: " + s
}

// SubjectsMatchThread checks if two subjects belong to the same thread.
func SubjectsMatchThread(a, b string) bool {
	return strings.EqualFold(NormalizeThreadSubject(a), NormalizeThreadSubject(b))
}
