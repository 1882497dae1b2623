// Package tic reads, validates and writes TIC files, the small text
// records that travel with files distributed through FTN file echoes.
package tic

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/stlalpha/v3ftn/internal/ftn"
)

var (
	// ErrParse is wrapped by every TIC syntax error.
	ErrParse = errors.New("tic: parse error")
	// ErrValidation is wrapped when a TIC disagrees with its data file.
	ErrValidation = errors.New("tic: validation failed")
)

// Ticket is a parsed TIC file.
type Ticket struct {
	Area     string // uppercased
	AreaDesc string
	Origin   string
	From     ftn.Address
	To       string
	File     string
	LFile    string // long file name (LFile or Fullname)
	Replaces string
	Desc     string
	LDesc    []string
	Magic    string
	Created  string
	Date     string
	Pw       string

	Size    int64
	HasSize bool
	CRC     uint32
	HasCRC  bool

	Path   []string
	SeenBy []string

	// Unknown holds unrecognised lines verbatim.
	Unknown []string
}

// ParseFile parses the TIC at path.
func ParseFile(path string) (*Ticket, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Parse reads "Keyword value" lines. Path, Seenby and LDesc repeat; every
// other keyword keeps its last value. Area, File and From are required.
func Parse(r io.Reader) (*Ticket, error) {
	t := &Ticket{}
	var from string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 64*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r\x1a")
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value := splitKeyword(line)
		switch strings.ToLower(key) {
		case "area":
			t.Area = strings.ToUpper(value)
		case "areadesc":
			t.AreaDesc = value
		case "origin":
			t.Origin = value
		case "from":
			from = value
		case "to":
			t.To = value
		case "file":
			t.File = value
		case "lfile", "fullname":
			t.LFile = value
		case "replaces":
			t.Replaces = value
		case "desc":
			t.Desc = value
		case "ldesc":
			t.LDesc = append(t.LDesc, value)
		case "magic":
			t.Magic = value
		case "created":
			t.Created = value
		case "date":
			t.Date = value
		case "pw":
			t.Pw = value
		case "size":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: line %d: bad size %q", ErrParse, lineNo, value)
			}
			t.Size, t.HasSize = n, true
		case "crc":
			n, err := strconv.ParseUint(value, 16, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: bad crc %q", ErrParse, lineNo, value)
			}
			t.CRC, t.HasCRC = uint32(n), true
		case "path":
			t.Path = append(t.Path, value)
		case "seenby":
			t.SeenBy = append(t.SeenBy, value)
		default:
			t.Unknown = append(t.Unknown, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	var missing []string
	if t.Area == "" {
		missing = append(missing, "Area")
	}
	if t.File == "" {
		missing = append(missing, "File")
	}
	if from == "" {
		missing = append(missing, "From")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrParse, strings.Join(missing, ", "))
	}
	addr, err := ftn.ParseAddress(firstField(from))
	if err != nil {
		return nil, fmt.Errorf("%w: From: %v", ErrParse, err)
	}
	t.From = addr
	return t, nil
}

func splitKeyword(line string) (key, value string) {
	line = strings.TrimLeft(line, " \t")
	i := strings.IndexAny(line, " \t")
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimSpace(line[i+1:])
}

func firstField(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}

// Name returns the name the data file is stored under: the long name
// when given, else File.
func (t *Ticket) Name() string {
	if t.LFile != "" {
		return t.LFile
	}
	return t.File
}

// Description returns Desc, falling back to the first LDesc line.
func (t *Ticket) Description() string {
	if t.Desc != "" || len(t.LDesc) == 0 {
		return t.Desc
	}
	return t.LDesc[0]
}

// Bytes renders the ticket with CRLF line endings. Fields are written in
// the conventional order; empty optional fields are omitted.
func (t *Ticket) Bytes() []byte {
	var b bytes.Buffer
	put := func(key, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s %s\r\n", key, value)
		}
	}
	put("Area", t.Area)
	put("Areadesc", t.AreaDesc)
	put("Origin", t.Origin)
	if !t.From.IsZero() {
		put("From", t.From.String())
	}
	put("To", t.To)
	put("File", t.File)
	put("Lfile", t.LFile)
	put("Replaces", t.Replaces)
	if t.HasSize {
		put("Size", strconv.FormatInt(t.Size, 10))
	}
	put("Desc", t.Desc)
	for _, l := range t.LDesc {
		fmt.Fprintf(&b, "LDesc %s\r\n", l)
	}
	put("Magic", t.Magic)
	put("Created", t.Created)
	put("Date", t.Date)
	if t.HasCRC {
		put("Crc", fmt.Sprintf("%08X", t.CRC))
	}
	for _, p := range t.Path {
		put("Path", p)
	}
	for _, s := range t.SeenBy {
		put("Seenby", s)
	}
	for _, u := range t.Unknown {
		b.WriteString(u)
		b.WriteString("\r\n")
	}
	put("Pw", t.Pw)
	return b.Bytes()
}
