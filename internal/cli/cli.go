// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// Version information (overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdTUI Command = iota
	CmdChat
	CmdAsk
	CmdReport
	CmdSessions
	CmdServe
	CmdConfig
	CmdVersion
	CmdHelp
)

// String returns the command name used in JSON output and errors.
func (c Command) String() string {
	switch c {
	case CmdTUI:
		return "tui"
	case CmdChat:
		return "chat"
	case CmdAsk:
		return "ask"
	case CmdReport:
		return "report"
	case CmdSessions:
		return "sessions"
	case CmdServe:
		return "serve"
	case CmdConfig:
		return "config"
	case CmdVersion:
		return "version"
	default:
		return "help"
	}
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string
	Endpoint   string
	NoStream   bool
	Verbose    bool
	Quiet      bool
	JSON       bool

	// Command-specific
	Query      string
	File       string
	Subcommand string
	Target     string // session id or prefix for sessions subcommands
	Session    string // --session / --resume
	Format     string
	Output     string
	Addr       string
	Limit      int
	Force      bool

	// Raw args remaining after the command name
	Raw []string
}

const usageText = `servechat - chat with a model-serving endpoint from the terminal

Usage:
  servechat                          Start the full-screen chat UI (default)
  servechat chat [--resume ID]       Line-oriented chat with in-place streaming
  servechat ask "prompt"             Send one prompt and print the reply
  servechat report [flags]           Compliance report for a saved session
  servechat sessions [subcommand]    Browse the local session archive
  servechat serve [--addr ADDR]      Serve the chat over HTTP
  servechat config [show|init|path]  Configuration
  servechat version                  Show version information
  servechat help                     Show this help

Global Flags:
  --config PATH      Config file (default ~/.servechat/config.toml)
  --endpoint NAME    Serving endpoint name (overrides config and SERVING_ENDPOINT)
  --no-stream        Use single-shot requests instead of streaming
  --json             Machine-readable output where supported
  -v, --verbose      Debug logging
  -q, --quiet        Minimal output

Ask:
  servechat ask "Which suppliers are at risk?"
  servechat ask -f notes.txt "Summarize these notes"
  echo "prompt" | servechat ask -

Report:
  --session ID       Session id or unique prefix (default: most recent)
  --format FORMAT    json or yaml (default: formatted text)
  --output FILE      Write the report to FILE; a directory gets a dated name

Sessions:
  servechat sessions list [--limit N]
  servechat sessions show ID
  servechat sessions export ID [--format md|html|json] [--output DIR]
  servechat sessions delete ID

Chat Commands:
  /help              Show chat commands
  /clear             Start a new conversation
  /report            Show the compliance report
  /chat              Leave the report view
  /feedback up|down  Rate the last response
  /export FILE       Save the transcript (.md, .html or .json)
  /copy              Copy the last response to the clipboard
  /history           Show the conversation so far
  /quit              Exit

Environment:
  SERVING_ENDPOINT   Endpoint name
  DATABRICKS_HOST    Workspace URL
  DATABRICKS_TOKEN   Access token
  SERVECHAT_API_TOKEN Bearer token required by ` + "`serve`" + ` on /api routes
`

// PrintUsage prints the usage text.
func PrintUsage() {
	fmt.Print(usageText)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Printf("servechat %s (commit %s, built %s, %s)\n", Version, GitCommit, BuildDate, runtime.Version())
}

// Parse parses os.Args and returns the command and arguments.
func Parse() (Command, Args) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs parses argv (without the program name).
func ParseArgs(argv []string) (Command, Args) {
	remaining, parsed := parseGlobalFlags(argv)

	if len(remaining) == 0 {
		return CmdTUI, parsed
	}

	cmd := strings.ToLower(remaining[0])
	remaining = remaining[1:]
	parsed.Raw = remaining

	switch cmd {
	case "tui":
		parseChatArgs(&parsed, remaining)
		return CmdTUI, parsed

	case "chat":
		parseChatArgs(&parsed, remaining)
		return CmdChat, parsed

	case "ask":
		parseAskArgs(&parsed, remaining)
		return CmdAsk, parsed

	case "report":
		parseReportArgs(&parsed, remaining)
		return CmdReport, parsed

	case "sessions", "session":
		parseSessionsArgs(&parsed, remaining)
		return CmdSessions, parsed

	case "serve", "server":
		p := NewArgParser(remaining)
		parsed.Addr = p.Flag("addr", "a")
		return CmdServe, parsed

	case "config":
		p := NewArgParser(remaining, "force")
		parsed.Subcommand = p.Subcommand()
		parsed.Force = p.BoolFlag("force")
		return CmdConfig, parsed

	case "version", "--version":
		return CmdVersion, parsed

	case "help", "-h", "--help":
		return CmdHelp, parsed

	default:
		// A bare prompt is treated as ask
		parseAskArgs(&parsed, append([]string{cmd}, remaining...))
		return CmdAsk, parsed
	}
}

// parseGlobalFlags extracts global flags wherever they appear.
func parseGlobalFlags(args []string) ([]string, Args) {
	var remaining []string
	var parsed Args

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch arg {
		case "-q", "--quiet":
			parsed.Quiet = true
		case "-v", "--verbose":
			parsed.Verbose = true
		case "--json":
			parsed.JSON = true
		case "--no-stream":
			parsed.NoStream = true
		case "--config", "--endpoint":
			if i+1 < len(args) {
				i++
				if arg == "--config" {
					parsed.ConfigPath = args[i]
				} else {
					parsed.Endpoint = args[i]
				}
			}
		default:
			switch {
			case strings.HasPrefix(arg, "--config="):
				parsed.ConfigPath = strings.TrimPrefix(arg, "--config=")
			case strings.HasPrefix(arg, "--endpoint="):
				parsed.Endpoint = strings.TrimPrefix(arg, "--endpoint=")
			default:
				remaining = append(remaining, arg)
			}
		}
	}
	return remaining, parsed
}

func parseChatArgs(args *Args, remaining []string) {
	p := NewArgParser(remaining)
	args.Session = p.Flag("resume", "session", "r")
}

func parseAskArgs(args *Args, remaining []string) {
	p := NewArgParser(remaining)
	args.File = p.Flag("file", "f")
	args.Query = strings.Join(p.PositionalFrom(0), " ")
}

func parseReportArgs(args *Args, remaining []string) {
	p := NewArgParser(remaining)
	args.Session = p.Flag("session", "s")
	args.Format = strings.ToLower(p.Flag("format"))
	args.Output = p.Flag("output", "o")
}

func parseSessionsArgs(args *Args, remaining []string) {
	p := NewArgParser(remaining)
	args.Subcommand = p.Subcommand()
	if args.Subcommand == "" {
		args.Subcommand = "list"
	}
	args.Target = p.Positional(1)
	args.Format = strings.ToLower(p.Flag("format"))
	args.Output = p.Flag("output", "o")
	if n, err := p.FlagInt("limit"); err == nil && n > 0 {
		args.Limit = n
	}
}

// =============================================================================
// COMMAND HANDLERS
// =============================================================================

// Run executes cmd and returns the process exit code.
func Run(cmd Command, args Args) int {
	var err error
	switch cmd {
	case CmdChat:
		err = HandleChatCommand(args)
	case CmdAsk:
		err = HandleAskCommand(args)
	case CmdReport:
		err = HandleReportCommand(args)
	case CmdSessions:
		err = HandleSessionsCommand(args)
	case CmdServe:
		err = HandleServeCommand(args)
	case CmdConfig:
		err = HandleConfigCommand(args)
	case CmdVersion:
		HandleVersion(args)
	case CmdHelp:
		PrintUsage()
	default:
		err = fmt.Errorf("command %s is not handled by the cli package", cmd)
	}

	if err != nil {
		if args.JSON {
			NewJSONErrorResponse(cmd.String(), err).Print()
		} else {
			DisplayError(err)
		}
		return GetExitCode(err)
	}
	return ExitSuccess
}

// HandleVersion handles the "version" command.
func HandleVersion(args Args) {
	if args.JSON {
		NewJSONResponse("version", VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
		}).Print()
		return
	}
	PrintVersion()
}
