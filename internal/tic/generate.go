package tic

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stlalpha/v3ftn/internal/file"
	"github.com/stlalpha/v3ftn/internal/ftn"
	"github.com/stlalpha/v3ftn/internal/logging"
	"github.com/stlalpha/v3ftn/internal/routing"
)

// Outgoing describes a file to send to one uplink.
type Outgoing struct {
	Area     string
	AreaDesc string
	Desc     string
	LDesc    []string
	Replaces string

	// Origin is the system that first hatched the file; defaults to From.
	Origin   ftn.Address
	From     ftn.Address
	To       ftn.Address
	Password string

	// Path and SeenBy carry the lines of a ticket being forwarded.
	Path   []string
	SeenBy []string
}

// Sender writes TIC/data pairs into an outbound directory.
type Sender struct {
	outbound string
	now      func() time.Time
}

// NewSender returns a Sender writing into outbound.
func NewSender(outbound string) *Sender {
	return &Sender{outbound: outbound, now: time.Now}
}

// Send copies dataPath into the outbound directory and writes a TIC for
// it under a random name. The data file keeps its name unless different
// content already sits there, in which case a versioned name is used and
// the TIC refers to it. It returns the path of the written TIC.
func (s *Sender) Send(dataPath string, out Outgoing) (string, error) {
	if out.Area == "" || out.From.IsZero() {
		return "", errors.New("tic: area and from address are required")
	}
	if err := os.MkdirAll(s.outbound, 0755); err != nil {
		return "", err
	}
	d, err := file.DigestFile(dataPath)
	if err != nil {
		return "", err
	}

	name := filepath.Base(dataPath)
	chosen, present, err := file.VersionedName(s.outbound, name, d.Hash)
	if err != nil {
		return "", err
	}
	if !present {
		if err := file.CopyFile(dataPath, filepath.Join(s.outbound, chosen)); err != nil {
			return "", fmt.Errorf("tic: copy %s: %w", name, err)
		}
	}

	now := s.now().UTC()
	origin := out.Origin
	if origin.IsZero() {
		origin = out.From
	}
	t := &Ticket{
		Area:     strings.ToUpper(out.Area),
		AreaDesc: out.AreaDesc,
		Origin:   origin.String(),
		From:     out.From,
		File:     chosen,
		Replaces: out.Replaces,
		Desc:     out.Desc,
		LDesc:    out.LDesc,
		Created:  "by " + ftn.FormatPID(),
		Size:     d.Size,
		HasSize:  true,
		CRC:      d.CRC32,
		HasCRC:   true,
		Path:     append(append([]string(nil), out.Path...), PathLine(out.From, now)),
		SeenBy:   appendSeenBy(out.SeenBy, out.From, out.To),
		Pw:       out.Password,
	}
	if !out.To.IsZero() {
		t.To = out.To.String()
	}

	ticPath, err := s.writeTicket(t.Bytes())
	if err != nil {
		if !present {
			os.Remove(filepath.Join(s.outbound, chosen))
		}
		return "", err
	}
	logging.Info("tic: queued %s for %s in %s (%s)", chosen, t.To, t.Area, filepath.Base(ticPath))
	return ticPath, nil
}

// writeTicket stores data under a fresh random 8.3 name.
func (s *Sender) writeTicket(data []byte) (string, error) {
	for i := 0; i < 16; i++ {
		id := uuid.New()
		name := fmt.Sprintf("%x.tic", id[:4])
		p := filepath.Join(s.outbound, name)
		f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(p)
			return "", err
		}
		if err := f.Close(); err != nil {
			os.Remove(p)
			return "", err
		}
		return p, nil
	}
	return "", errors.New("tic: could not find a free file name")
}

// PathLine formats a Path entry: address, unix time and a readable UTC
// time.
func PathLine(addr ftn.Address, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("%s %d %s UTC", addr, at.Unix(), at.Format("Mon Jan 02 15:04:05 2006"))
}

func appendSeenBy(existing []string, addrs ...ftn.Address) []string {
	out := append([]string(nil), existing...)
	for _, a := range addrs {
		if a.IsZero() {
			continue
		}
		s := a.String()
		dup := false
		for _, e := range out {
			if e == s {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, s)
		}
	}
	return out
}

// Hatch sends dataPath to every uplink carrying the file area tag and
// returns the TICs written.
func Hatch(router *routing.Router, sender *Sender, area, dataPath, desc string, ldesc []string) ([]string, error) {
	uplinks := router.UplinksForFileArea(area)
	if len(uplinks) == 0 {
		return nil, fmt.Errorf("tic: no uplink carries file area %s", area)
	}
	var written []string
	for _, u := range uplinks {
		p, err := sender.Send(dataPath, Outgoing{
			Area:     area,
			Desc:     desc,
			LDesc:    ldesc,
			From:     u.MyAddress,
			To:       u.Address,
			Password: u.Password,
		})
		if err != nil {
			return written, fmt.Errorf("tic: hatch to %s: %w", u.Name, err)
		}
		written = append(written, p)
	}
	return written, nil
}
