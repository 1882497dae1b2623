package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/stlalpha/v3ftn/internal/ftn"
	"github.com/stlalpha/v3ftn/internal/message"
	"github.com/stlalpha/v3ftn/internal/tic"
)

var errHadErrors = errors.New("completed with errors")

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// cmdToss implements 'v3ftn toss': unpack bundles, toss packets into the
// message store and deliver TIC files.
func cmdToss(args []string) error {
	fs := flag.NewFlagSet("toss", flag.ExitOnError)
	g := addGlobalFlags(fs)
	fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()
	d, err := loadDeps(ctx, g)
	if err != nil {
		return err
	}
	defer d.close()

	res, err := d.tosser.ProcessInbound(ctx)
	if err != nil {
		return err
	}
	g.report("Toss complete: %d packets (%d failed), %d bundles, %d netmail, %d echomail, %d bad messages",
		res.PacketsProcessed, res.PacketsFailed, res.BundlesProcessed,
		res.NetmailImported, res.EchomailImported, res.MessagesFailed)
	if res.TicsAccepted+res.TicsDuplicate+res.TicsRejected+res.TicsWaiting > 0 {
		g.report("TIC: %d accepted, %d duplicate, %d rejected, %d waiting for data",
			res.TicsAccepted, res.TicsDuplicate, res.TicsRejected, res.TicsWaiting)
	}
	if reportErrors(res.Errors) {
		return errHadErrors
	}
	return nil
}

// cmdSpool implements 'v3ftn spool': write pending messages into
// outbound packets.
func cmdSpool(args []string) error {
	fs := flag.NewFlagSet("spool", flag.ExitOnError)
	g := addGlobalFlags(fs)
	fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()
	d, err := loadDeps(ctx, g)
	if err != nil {
		return err
	}
	defer d.close()

	res, err := d.tosser.Spool(ctx)
	g.report("Spool complete: %d messages in %d packets, %d unrouted", res.Messages, res.Packets, res.Unrouted)
	for _, f := range res.Files {
		g.report("  %s", f)
	}
	return err
}

// cmdPack implements 'v3ftn pack': bundle staged packets for the mailer.
func cmdPack(args []string) error {
	fs := flag.NewFlagSet("pack", flag.ExitOnError)
	g := addGlobalFlags(fs)
	fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()
	d, err := loadDeps(ctx, g)
	if err != nil {
		return err
	}
	defer d.close()

	res := d.tosser.PackOutbound()
	g.report("Pack complete: %d bundles created, %d packets packed", res.BundlesCreated, res.PacketsPacked)
	for _, b := range res.Bundles {
		g.report("  %s", b)
	}
	if reportErrors(res.Errors) {
		return errHadErrors
	}
	return nil
}

// cmdPost implements 'v3ftn post': queue a message for the next spool.
// The body is read from standard input unless -body is given.
func cmdPost(args []string) error {
	fs := flag.NewFlagSet("post", flag.ExitOnError)
	g := addGlobalFlags(fs)
	area := fs.String("area", "", "Echo area tag (echomail)")
	to := fs.String("to", "", "Destination address (netmail)")
	fromName := fs.String("from-name", "Sysop", "Author name")
	toName := fs.String("to-name", "", "Recipient name")
	subject := fs.String("subject", "", "Subject")
	body := fs.String("body", "", "Message text (default: read stdin)")
	reply := fs.String("reply", "", "Local ID of the message being answered")
	fs.Parse(args)

	if (*area == "") == (*to == "") {
		return errors.New("exactly one of -area or -to is required")
	}
	out := message.Outbound{
		FromName:  *fromName,
		ToName:    *toName,
		Subject:   *subject,
		Body:      *body,
		ReplyToID: *reply,
	}
	if *area != "" {
		out.Kind = ftn.Echomail
		out.AreaTag = *area
	} else {
		addr, err := ftn.ParseAddress(*to)
		if err != nil {
			return err
		}
		out.Kind = ftn.Netmail
		out.To = addr
		if out.ToName == "" {
			out.ToName = "Sysop"
		}
	}
	if out.Body == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		out.Body = string(data)
	}

	ctx, cancel := signalContext()
	defer cancel()
	d, err := loadDeps(ctx, g)
	if err != nil {
		return err
	}
	defer d.close()

	sm, err := d.msgs.Enqueue(ctx, out)
	if err != nil {
		return err
	}
	g.report("Queued %s %s (MSGID %s)", sm.Kind, sm.ID, sm.MessageID)
	return nil
}

// cmdTicSend implements 'v3ftn tic-send': hatch a file to every uplink
// carrying the file area.
func cmdTicSend(args []string) error {
	fs := flag.NewFlagSet("tic-send", flag.ExitOnError)
	g := addGlobalFlags(fs)
	area := fs.String("area", "", "File area tag")
	desc := fs.String("desc", "", "One-line description")
	ldesc := fs.String("ldesc", "", "Long description; lines separated by \\n")
	fs.Parse(args)

	if *area == "" || fs.NArg() != 1 {
		return errors.New("usage: v3ftn tic-send -area TAG [-desc TEXT] FILE")
	}
	var long []string
	if *ldesc != "" {
		long = strings.Split(strings.ReplaceAll(*ldesc, `\n`, "\n"), "\n")
	}

	ctx, cancel := signalContext()
	defer cancel()
	d, err := loadDeps(ctx, g)
	if err != nil {
		return err
	}
	defer d.close()

	written, err := tic.Hatch(d.router, tic.NewSender(d.cfg.Paths.Outbound), strings.ToUpper(*area), fs.Arg(0), *desc, long)
	for _, p := range written {
		g.report("Wrote %s", p)
	}
	return err
}

// cmdRoute implements 'v3ftn route': show the uplink each address routes
// to.
func cmdRoute(args []string) error {
	fs := flag.NewFlagSet("route", flag.ExitOnError)
	g := addGlobalFlags(fs)
	fs.Parse(args)
	if fs.NArg() == 0 {
		return errors.New("usage: v3ftn route ADDRESS...")
	}

	ctx, cancel := signalContext()
	defer cancel()
	d, err := loadDeps(ctx, g)
	if err != nil {
		return err
	}
	defer d.close()

	failed := false
	for _, arg := range fs.Args() {
		addr, err := ftn.ParseAddress(arg)
		if err != nil {
			fmt.Fprintln(os.Stderr, "  "+styled(errorStyle, "ERROR:")+" "+err.Error())
			failed = true
			continue
		}
		u, ok := d.router.UplinkFor(addr)
		if !ok {
			fmt.Printf("%-22s %s\n", addr, styled(dimStyle, "no route"))
			failed = true
			continue
		}
		fmt.Printf("%-22s -> %s %s (as %s, %s, %s)\n", addr, u.Name, u.Address, u.MyAddress, u.Domain, u.Flavour)
	}
	if failed {
		return errHadErrors
	}
	return nil
}

// cmdAreas implements 'v3ftn areas': list echo areas and file areas.
func cmdAreas(args []string) error {
	fs := flag.NewFlagSet("areas", flag.ExitOnError)
	g := addGlobalFlags(fs)
	fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()
	d, err := loadDeps(ctx, g)
	if err != nil {
		return err
	}
	defer d.close()

	areas, err := d.msgs.Areas(ctx)
	if err != nil {
		return err
	}
	fmt.Println(styled(headerStyle, "Echo Areas"))
	fmt.Printf("%-10s %-24s %10s  %s\n", "DOMAIN", "TAG", "MESSAGES", "UPLINK")
	for _, a := range areas {
		fmt.Printf("%-10s %-24s %10s  %s\n", a.Domain, a.Tag, humanize.Comma(a.MessageCount), a.UplinkAddress)
	}
	fmt.Println()

	fmt.Println(styled(headerStyle, "File Areas"))
	fmt.Printf("%-10s %-24s %10s  %s\n", "DOMAIN", "TAG", "FILES", "SIZE")
	for _, a := range d.files.ListAreas() {
		var size int64
		recs := d.files.GetFilesForArea(a.ID)
		for _, r := range recs {
			size += r.Size
		}
		fmt.Printf("%-10s %-24s %10d  %s\n", a.Domain, a.Tag, len(recs), humanize.IBytes(uint64(size)))
	}
	return nil
}
