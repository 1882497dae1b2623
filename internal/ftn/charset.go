package ftn

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Canonical charset names.
const (
	CharsetUTF8      = "UTF-8"
	CharsetCP437     = "CP437"
	CharsetCP850     = "CP850"
	CharsetCP865     = "CP865"
	CharsetCP866     = "CP866"
	CharsetLatin1    = "ISO-8859-1"
	CharsetLatin9    = "ISO-8859-15"
	CharsetLatin5    = "ISO-8859-5"
	CharsetWin1250   = "WINDOWS-1250"
	CharsetWin1251   = "WINDOWS-1251"
	CharsetWin1252   = "WINDOWS-1252"
	CharsetKOI8R     = "KOI8-R"
	CharsetKOI8U     = "KOI8-U"
	CharsetMacintosh = "MACINTOSH"
)

// charsetAliases maps CHRS/CHARSET/CODEPAGE kludge names seen in the wild
// to canonical names.
var charsetAliases = map[string]string{
	"IBMPC":        CharsetCP437,
	"IBM437":       CharsetCP437,
	"CP437":        CharsetCP437,
	"437":          CharsetCP437,
	"PC-8":         CharsetCP437,
	"CP850":        CharsetCP850,
	"850":          CharsetCP850,
	"CP865":        CharsetCP865,
	"865":          CharsetCP865,
	"CP866":        CharsetCP866,
	"866":          CharsetCP866,
	"RUSSIAN":      CharsetCP866,
	"ALT":          CharsetCP866,
	"LATIN-1":      CharsetLatin1,
	"LATIN1":       CharsetLatin1,
	"ISO-8859-1":   CharsetLatin1,
	"ISO8859-1":    CharsetLatin1,
	"ISO-8859-15":  CharsetLatin9,
	"LATIN-9":      CharsetLatin9,
	"ISO-8859-5":   CharsetLatin5,
	"CP1250":       CharsetWin1250,
	"WINDOWS-1250": CharsetWin1250,
	"CP1251":       CharsetWin1251,
	"WINDOWS-1251": CharsetWin1251,
	"CP1252":       CharsetWin1252,
	"WINDOWS-1252": CharsetWin1252,
	"KOI8-R":       CharsetKOI8R,
	"KOI8R":        CharsetKOI8R,
	"KOI8-U":       CharsetKOI8U,
	"MAC":          CharsetMacintosh,
	"MACINTOSH":    CharsetMacintosh,
	"UTF-8":        CharsetUTF8,
	"UTF8":         CharsetUTF8,
}

var charsetDecoders = map[string]*charmap.Charmap{
	CharsetCP437:     charmap.CodePage437,
	CharsetCP850:     charmap.CodePage850,
	CharsetCP865:     charmap.CodePage865,
	CharsetCP866:     charmap.CodePage866,
	CharsetLatin1:    charmap.ISO8859_1,
	CharsetLatin9:    charmap.ISO8859_15,
	CharsetLatin5:    charmap.ISO8859_5,
	CharsetWin1250:   charmap.Windows1250,
	CharsetWin1251:   charmap.Windows1251,
	CharsetWin1252:   charmap.Windows1252,
	CharsetKOI8R:     charmap.KOI8R,
	CharsetKOI8U:     charmap.KOI8U,
	CharsetMacintosh: charmap.Macintosh,
}

// fallbackCharsets are tried, in order, after the declared charset.
var fallbackCharsets = []string{CharsetCP437, CharsetCP850, CharsetLatin1, CharsetWin1252}

// CanonicalCharset maps a CHRS kludge identifier ("IBMPC", "CP866",
// "LATIN-1 2") to a canonical charset name. Unknown names are returned
// upper-cased.
func CanonicalCharset(name string) string {
	fields := strings.Fields(strings.ToUpper(name))
	if len(fields) == 0 {
		return ""
	}
	if c, ok := charsetAliases[fields[0]]; ok {
		return c
	}
	return fields[0]
}

// DecodeText converts raw message bytes to UTF-8. Valid UTF-8 passes
// through. Otherwise the declared charset is tried first, then the fallback
// list; a candidate is accepted when it produces valid UTF-8 without
// replacement characters. As a last resort invalid sequences are replaced.
// lossy reports that last case; it is never an error.
func DecodeText(raw, declared string) (text string, used string, lossy bool) {
	if utf8.ValidString(raw) {
		return raw, CharsetUTF8, false
	}

	candidates := make([]string, 0, len(fallbackCharsets)+1)
	if c := CanonicalCharset(declared); c != "" && c != CharsetUTF8 {
		candidates = append(candidates, c)
	}
	for _, c := range fallbackCharsets {
		if len(candidates) == 0 || candidates[0] != c {
			candidates = append(candidates, c)
		}
	}

	for _, name := range candidates {
		enc, ok := charsetDecoders[name]
		if !ok {
			continue
		}
		out, err := enc.NewDecoder().String(raw)
		if err != nil || !utf8.ValidString(out) || strings.ContainsRune(out, utf8.RuneError) {
			continue
		}
		return out, name, false
	}

	return strings.ToValidUTF8(raw, string(utf8.RuneError)), "", true
}

// EncodeText converts UTF-8 text to the named charset for legacy
// receivers. Runes the charset cannot represent become '?'. Unknown
// charsets leave the text unchanged.
func EncodeText(text, charset string) string {
	cm, ok := charsetDecoders[CanonicalCharset(charset)]
	if !ok {
		return text
	}
	out := make([]byte, 0, len(text))
	for _, r := range text {
		b, ok := cm.EncodeRune(r)
		if !ok {
			b = '?'
		}
		out = append(out, b)
	}
	return string(out)
}
