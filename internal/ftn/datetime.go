package ftn

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var monthNames = []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun",
	"Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

var weekdayNames = map[string]bool{
	"sun": true, "mon": true, "tue": true, "wed": true, "thu": true, "fri": true, "sat": true,
}

// nowFunc is replaced in tests.
var nowFunc = time.Now

// FormatFTNDateTime formats a time in FTN packed message format.
// Format: "DD Mon YY  HH:MM:SS" (note: double space before time).
func FormatFTNDateTime(t time.Time) string {
	return fmt.Sprintf("%02d %s %02d  %02d:%02d:%02d",
		t.Day(), monthNames[t.Month()-1], t.Year()%100,
		t.Hour(), t.Minute(), t.Second())
}

var tzutcPattern = regexp.MustCompile(`^([+-])?(\d{1,2})(\d{2})$`)

// ParseTZUTC parses a TZUTC kludge value ("0200", "+0200", "-0500") into
// signed minutes east of UTC.
func ParseTZUTC(s string) (int, bool) {
	m := tzutcPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}
	h, _ := strconv.Atoi(m[2])
	mins, _ := strconv.Atoi(m[3])
	if mins >= 60 || h > 14 {
		return 0, false
	}
	total := h*60 + mins
	if m[1] == "-" {
		total = -total
	}
	return total, true
}

// FormatTZUTC renders a UTC offset in seconds as a TZUTC kludge value.
// Positive offsets carry no sign, per FTS-4008.
func FormatTZUTC(offsetSeconds int) string {
	minutes := offsetSeconds / 60
	sign := ""
	if minutes < 0 {
		sign = "-"
		minutes = -minutes
	}
	return fmt.Sprintf("%s%02d%02d", sign, minutes/60, minutes%60)
}

// ResolveDate turns a packed-message date field into a UTC timestamp.
// packetDate supplies the day (and year) when the field omits them. When
// tzKnown is set, tzMinutes is subtracted from the sender's local time;
// otherwise the naive time is returned unconverted. Unparsable input
// resolves to the current time.
func ResolveDate(field string, packetDate time.Time, tzMinutes int, tzKnown bool) time.Time {
	naive, err := ParseFTNDateTime(field, packetDate)
	if err != nil {
		return nowFunc().UTC().Truncate(time.Second)
	}
	if tzKnown {
		return naive.Add(-time.Duration(tzMinutes) * time.Minute)
	}
	return naive
}

// ParseFTNDateTime parses the date shapes seen in the wild:
//
//	"DD Mon YY  HH:MM:SS"   FTS-0001
//	"Www DD Mon YY HH:MM"   SEAdog
//	"Mon DD  HH:MM:SS"      year omitted
//	"Mon YY  HH:MM:SS"      day omitted
//
// The last two are indistinguishable by shape; packetDate decides which
// reading is plausible. The result is a naive timestamp in time.UTC.
func ParseFTNDateTime(field string, packetDate time.Time) (time.Time, error) {
	tokens := strings.Fields(strings.TrimRight(field, "\x00"))

	var hh, mm, ss int
	var rest []string
	timeFound := false
	for _, tok := range tokens {
		if !timeFound && strings.Contains(tok, ":") {
			var err error
			hh, mm, ss, err = parseClock(tok)
			if err != nil {
				return time.Time{}, err
			}
			timeFound = true
			continue
		}
		rest = append(rest, tok)
	}
	if !timeFound {
		return time.Time{}, fmt.Errorf("ftn: no time in date %q", field)
	}
	if len(rest) > 0 && weekdayNames[strings.ToLower(rest[0])] {
		rest = rest[1:]
	}

	if packetDate.IsZero() {
		packetDate = nowFunc().UTC()
	}

	var year, day int
	var month time.Month

	switch len(rest) {
	case 3:
		d, err := strconv.Atoi(rest[0])
		if err != nil || d < 1 || d > 31 {
			return time.Time{}, fmt.Errorf("ftn: bad day in date %q", field)
		}
		m, ok := parseMonth(rest[1])
		if !ok {
			return time.Time{}, fmt.Errorf("ftn: bad month in date %q", field)
		}
		y, err := strconv.Atoi(rest[2])
		if err != nil || y < 0 {
			return time.Time{}, fmt.Errorf("ftn: bad year in date %q", field)
		}
		day, month, year = d, m, expandYear(y)
	case 2:
		m, ok := parseMonth(rest[0])
		if !ok {
			return time.Time{}, fmt.Errorf("ftn: bad month in date %q", field)
		}
		n, err := strconv.Atoi(rest[1])
		if err != nil || n < 0 {
			return time.Time{}, fmt.Errorf("ftn: bad day/year in date %q", field)
		}
		month = m
		year, day = disambiguateDayOrYear(n, m, packetDate)
	default:
		return time.Time{}, fmt.Errorf("ftn: unrecognised date %q", field)
	}

	if last := daysIn(month, year); day > last {
		day = last
	}
	return time.Date(year, month, day, hh, mm, ss, 0, time.UTC), nil
}

// disambiguateDayOrYear decides whether n in "Mon n" is a day of month or a
// two-digit year. A value that cannot be a day, or that equals the packet's
// two-digit year while differing from its day, is read as a year with the
// packet's day. Otherwise n is a day in the packet's year, stepping back one
// year when that would put the message after the packet.
func disambiguateDayOrYear(n int, month time.Month, packetDate time.Time) (year, day int) {
	pktYY := packetDate.Year() % 100
	if n < 1 || n > 31 || (n == pktYY && n != packetDate.Day()) {
		return expandYear(n), packetDate.Day()
	}
	year = packetDate.Year()
	candidate := time.Date(year, month, n, 0, 0, 0, 0, time.UTC)
	if candidate.After(packetDate.Add(24 * time.Hour)) {
		year--
	}
	return year, n
}

// expandYear maps two-digit years: >=80 is 19xx, <80 is 20xx. Years
// 100-199 come from producers that wrote tm_year directly.
func expandYear(y int) int {
	switch {
	case y >= 1000:
		return y
	case y >= 100 && y < 200:
		return 1900 + y
	case y >= 80 && y < 100:
		return 1900 + y
	case y < 80:
		return 2000 + y
	}
	return y
}

func parseMonth(s string) (time.Month, bool) {
	for i, name := range monthNames {
		if strings.EqualFold(s, name) {
			return time.Month(i + 1), true
		}
	}
	return 0, false
}

func parseClock(s string) (hh, mm, ss int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, 0, fmt.Errorf("ftn: bad time %q", s)
	}
	vals := make([]int, 3)
	for i, p := range parts {
		v, convErr := strconv.Atoi(p)
		if convErr != nil || v < 0 {
			return 0, 0, 0, fmt.Errorf("ftn: bad time %q", s)
		}
		vals[i] = v
	}
	if vals[0] > 23 || vals[1] > 59 || vals[2] > 60 {
		return 0, 0, 0, fmt.Errorf("ftn: bad time %q", s)
	}
	if vals[2] == 60 {
		vals[2] = 59
	}
	return vals[0], vals[1], vals[2], nil
}

func daysIn(m time.Month, year int) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
