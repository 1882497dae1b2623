package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/stlalpha/v3ftn/internal/ftn"
	"github.com/stlalpha/v3ftn/internal/logging"
)

func main() {
	if len(os.Args) < 2 {
		printUsage("")
		os.Exit(1)
	}

	cmd := os.Args[1]
	if cmd == "--version" || cmd == "-version" {
		printHeader()
		return
	}
	if cmd == "--help" || cmd == "-h" || cmd == "help" {
		printUsage("")
		return
	}

	var err error
	switch cmd {
	case "toss":
		err = cmdToss(os.Args[2:])
	case "spool":
		err = cmdSpool(os.Args[2:])
	case "pack":
		err = cmdPack(os.Args[2:])
	case "post":
		err = cmdPost(os.Args[2:])
	case "tic-send":
		err = cmdTicSend(os.Args[2:])
	case "route":
		err = cmdRoute(os.Args[2:])
	case "areas":
		err = cmdAreas(os.Args[2:])
	case "daemon":
		err = cmdDaemon(os.Args[2:])
	default:
		printUsage(fmt.Sprintf("Unknown command: %s", cmd))
		os.Exit(1)
	}
	logging.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, bullet("Error: "+err.Error()))
		os.Exit(1)
	}
}

var (
	boldStyle   = lipgloss.NewStyle().Bold(true)
	cyanStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	markStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// styled renders s with st only when stderr is a terminal.
func styled(st lipgloss.Style, s string) string {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return s
	}
	return st.Render(s)
}

func usageBanner() string {
	return fmt.Sprintf("v3ftn FTN Mail Engine v%s", ftn.Version)
}

func printHeader() {
	fmt.Fprintln(os.Stderr, styled(boldStyle, usageBanner()))
	fmt.Fprintln(os.Stderr, styled(dimStyle, "────────────────────────────────────────────────────────────────────────────"))
}

func bullet(msg string) string {
	return styled(markStyle, "■") + "  " + styled(cyanStyle, msg)
}

func usageCmd(name, desc string) string {
	return fmt.Sprintf("  %s - %s", styled(cyanStyle, fmt.Sprintf("%-10s", name)), desc)
}

func usageOpt(flag, desc string) string {
	return fmt.Sprintf("  %s %s", styled(cyanStyle, fmt.Sprintf("%-18s", flag)), desc)
}

func printUsage(errMsg string) {
	w := os.Stderr
	printHeader()
	fmt.Fprintln(w)
	if errMsg != "" {
		fmt.Fprintln(w, bullet(errMsg))
	}
	fmt.Fprintln(w, bullet("Required Format: v3ftn <command> [options]"))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  "+styled(boldStyle, "Mail Processing:"))
	fmt.Fprintln(w, usageCmd("TOSS", "Unpack inbound bundles, toss .PKT files and process TICs"))
	fmt.Fprintln(w, usageCmd("SPOOL", "Write pending outbound messages into .PKT files"))
	fmt.Fprintln(w, usageCmd("PACK", "Bundle outbound .PKT files per uplink and write flow files"))
	fmt.Fprintln(w, usageCmd("POST", "Queue a locally authored netmail or echomail message"))
	fmt.Fprintln(w, usageCmd("TIC-SEND", "Hatch a file into a file echo"))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  "+styled(boldStyle, "Inspection:"))
	fmt.Fprintln(w, usageCmd("ROUTE", "Show which uplink an address routes to"))
	fmt.Fprintln(w, usageCmd("AREAS", "List echo and file areas"))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  "+styled(boldStyle, "Service:"))
	fmt.Fprintln(w, usageCmd("DAEMON", "Run scheduled toss/pack jobs and watch the inbound directory"))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  "+styled(boldStyle, "Global Options:"))
	fmt.Fprintln(w, usageOpt("--config FILE", "Configuration file (default: configs/ftn.json5)"))
	fmt.Fprintln(w, usageOpt("--debug", "Enable debug logging"))
	fmt.Fprintln(w, usageOpt("-q", "Suppress output"))
	fmt.Fprintln(w)
}

type globalFlags struct {
	config *string
	debug  *bool
	quiet  *bool
}

func addGlobalFlags(fs *flag.FlagSet) globalFlags {
	return globalFlags{
		config: fs.String("config", "configs/ftn.json5", "Configuration file"),
		debug:  fs.Bool("debug", os.Getenv("DEBUG") == "1", "Enable debug logging"),
		quiet:  fs.Bool("q", false, "Quiet mode"),
	}
}

// report prints a line to stdout unless quiet.
func (g globalFlags) report(format string, args ...any) {
	if *g.quiet {
		return
	}
	fmt.Printf(format+"\n", args...)
}

// reportErrors prints per-file errors and reports whether there were any.
func reportErrors(errs []string) bool {
	for _, e := range errs {
		fmt.Fprintln(os.Stderr, "  "+styled(errorStyle, "ERROR:")+" "+e)
	}
	return len(errs) > 0
}
