// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/servechat/internal/config"
	"github.com/jeranaias/servechat/internal/report"
	"github.com/jeranaias/servechat/internal/serving"
	"github.com/jeranaias/servechat/internal/storage"
)

// =============================================================================
// ARG PARSER TESTS (args.go)
// =============================================================================

func TestArgParser_BasicParsing(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		bools    []string
		wantSub  string
		validate func(*testing.T, *ArgParser)
	}{
		{
			name:    "simple subcommand",
			args:    []string{"show"},
			wantSub: "show",
		},
		{
			name:    "flag with value",
			args:    []string{"list", "--limit", "50"},
			wantSub: "list",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("limit") != "50" {
					t.Errorf("Flag(limit) = %q, want %q", p.Flag("limit"), "50")
				}
			},
		},
		{
			name:    "flag with equals",
			args:    []string{"export", "--format=html"},
			wantSub: "export",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("format") != "html" {
					t.Errorf("Flag(format) = %q, want html", p.Flag("format"))
				}
			},
		},
		{
			name:    "known bool does not consume value",
			args:    []string{"--json", "latest"},
			bools:   []string{"json"},
			wantSub: "latest",
			validate: func(t *testing.T, p *ArgParser) {
				if !p.BoolFlag("json") {
					t.Error("BoolFlag(json) should be true")
				}
			},
		},
		{
			name:    "unknown trailing flag is bool",
			args:    []string{"init", "--force"},
			wantSub: "init",
			validate: func(t *testing.T, p *ArgParser) {
				if !p.BoolFlag("force") {
					t.Error("BoolFlag(force) should be true")
				}
			},
		},
		{
			name:    "double dash stops flag parsing",
			args:    []string{"--", "--not-a-flag", "x"},
			wantSub: "--not-a-flag",
			validate: func(t *testing.T, p *ArgParser) {
				if p.PositionalCount() != 2 {
					t.Errorf("PositionalCount = %d, want 2", p.PositionalCount())
				}
			},
		},
		{
			name:    "bare dash is positional",
			args:    []string{"-"},
			wantSub: "-",
		},
		{
			name:    "short alias",
			args:    []string{"-o", "out.json"},
			wantSub: "",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("output", "o") != "out.json" {
					t.Errorf("Flag(output, o) = %q", p.Flag("output", "o"))
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewArgParser(tt.args, tt.bools...)
			if got := p.Subcommand(); got != tt.wantSub {
				t.Errorf("Subcommand() = %q, want %q", got, tt.wantSub)
			}
			if tt.validate != nil {
				tt.validate(t, p)
			}
		})
	}
}

func TestArgParser_FlagHelpers(t *testing.T) {
	p := NewArgParser([]string{"--limit", "7", "--bad", "x1", "--on=yes"}, "on")

	if n, err := p.FlagInt("limit"); err != nil || n != 7 {
		t.Errorf("FlagInt(limit) = %d, %v", n, err)
	}
	if _, err := p.FlagInt("bad"); err == nil {
		t.Error("FlagInt(bad) should fail")
	}
	if got := p.FlagOrDefault("missing", "dflt"); got != "dflt" {
		t.Errorf("FlagOrDefault = %q", got)
	}
	if !p.BoolFlag("on") {
		t.Error("--on=yes should set the bool")
	}
	if !reflect.DeepEqual(p.Raw(), []string{"--limit", "7", "--bad", "x1", "--on=yes"}) {
		t.Errorf("Raw() = %v", p.Raw())
	}
}

func TestParseBoolString(t *testing.T) {
	for _, in := range []string{"true", "YES", "y", "1", "on"} {
		if v, err := ParseBoolString(in); err != nil || !v {
			t.Errorf("ParseBoolString(%q) = %v, %v", in, v, err)
		}
	}
	for _, in := range []string{"false", "No", "n", "0", "off"} {
		if v, err := ParseBoolString(in); err != nil || v {
			t.Errorf("ParseBoolString(%q) = %v, %v", in, v, err)
		}
	}
	if _, err := ParseBoolString("maybe"); err == nil {
		t.Error("ParseBoolString(maybe) should fail")
	}
}

func TestParseIntWithValidation(t *testing.T) {
	if v, err := ParseIntWithValidation("12", "limit"); err != nil || v != 12 {
		t.Errorf("got %d, %v", v, err)
	}
	for _, in := range []string{"", "abc", "0", "-3"} {
		if _, err := ParseIntWithValidation(in, "limit"); err == nil {
			t.Errorf("ParseIntWithValidation(%q) should fail", in)
		}
	}
}

// =============================================================================
// COMMAND PARSING TESTS (cli.go)
// =============================================================================

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		argv    []string
		wantCmd Command
		check   func(*testing.T, Args)
	}{
		{
			name:    "no args opens the UI",
			argv:    nil,
			wantCmd: CmdTUI,
		},
		{
			name:    "chat resume with global flag after",
			argv:    []string{"chat", "-r", "01HX", "--no-stream"},
			wantCmd: CmdChat,
			check: func(t *testing.T, a Args) {
				if a.Session != "01HX" || !a.NoStream {
					t.Errorf("Session=%q NoStream=%v", a.Session, a.NoStream)
				}
			},
		},
		{
			name:    "bare words are an ask",
			argv:    []string{"--endpoint=agent", "which", "suppliers?"},
			wantCmd: CmdAsk,
			check: func(t *testing.T, a Args) {
				if a.Query != "which suppliers?" || a.Endpoint != "agent" {
					t.Errorf("Query=%q Endpoint=%q", a.Query, a.Endpoint)
				}
			},
		},
		{
			name:    "ask with file",
			argv:    []string{"ask", "-f", "notes.txt", "summarize"},
			wantCmd: CmdAsk,
			check: func(t *testing.T, a Args) {
				if a.File != "notes.txt" || a.Query != "summarize" {
					t.Errorf("File=%q Query=%q", a.File, a.Query)
				}
			},
		},
		{
			name:    "report flags",
			argv:    []string{"--config", "/tmp/c.toml", "report", "--session", "01H", "--format", "YAML", "-o", "out"},
			wantCmd: CmdReport,
			check: func(t *testing.T, a Args) {
				if a.ConfigPath != "/tmp/c.toml" || a.Session != "01H" || a.Format != "yaml" || a.Output != "out" {
					t.Errorf("got %+v", a)
				}
			},
		},
		{
			name:    "sessions default to list",
			argv:    []string{"sessions"},
			wantCmd: CmdSessions,
			check: func(t *testing.T, a Args) {
				if a.Subcommand != "list" {
					t.Errorf("Subcommand = %q", a.Subcommand)
				}
			},
		},
		{
			name:    "sessions export",
			argv:    []string{"sessions", "export", "01HX", "--format", "md", "--limit", "3"},
			wantCmd: CmdSessions,
			check: func(t *testing.T, a Args) {
				if a.Subcommand != "export" || a.Target != "01HX" || a.Format != "md" || a.Limit != 3 {
					t.Errorf("got %+v", a)
				}
			},
		},
		{
			name:    "serve addr",
			argv:    []string{"serve", "--addr", ":9000", "-q"},
			wantCmd: CmdServe,
			check: func(t *testing.T, a Args) {
				if a.Addr != ":9000" || !a.Quiet {
					t.Errorf("Addr=%q Quiet=%v", a.Addr, a.Quiet)
				}
			},
		},
		{
			name:    "config init force",
			argv:    []string{"config", "init", "--force"},
			wantCmd: CmdConfig,
			check: func(t *testing.T, a Args) {
				if a.Subcommand != "init" || !a.Force {
					t.Errorf("Subcommand=%q Force=%v", a.Subcommand, a.Force)
				}
			},
		},
		{name: "version", argv: []string{"--version"}, wantCmd: CmdVersion},
		{name: "help", argv: []string{"-h"}, wantCmd: CmdHelp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, args := ParseArgs(tt.argv)
			if cmd != tt.wantCmd {
				t.Fatalf("command = %v, want %v", cmd, tt.wantCmd)
			}
			if tt.check != nil {
				tt.check(t, args)
			}
		})
	}
}

func TestParseSlash(t *testing.T) {
	tests := []struct {
		in   string
		want SlashCommand
	}{
		{"/help", SlashCommand{Name: "/help", Args: []string{}}},
		{"  /FB down ", SlashCommand{Name: "/feedback", Args: []string{"down"}}},
		{"/new", SlashCommand{Name: "/clear", Args: []string{}}},
		{"/exit", SlashCommand{Name: "/quit", Args: []string{}}},
		{"/export out.html", SlashCommand{Name: "/export", Args: []string{"out.html"}}},
		{"", SlashCommand{}},
	}
	for _, tt := range tests {
		got := ParseSlash(tt.in)
		if got.Name != tt.want.Name || len(got.Args) != len(tt.want.Args) {
			t.Errorf("ParseSlash(%q) = %+v, want %+v", tt.in, got, tt.want)
			continue
		}
		for i := range got.Args {
			if got.Args[i] != tt.want.Args[i] {
				t.Errorf("ParseSlash(%q).Args = %v, want %v", tt.in, got.Args, tt.want.Args)
			}
		}
	}
}

func TestCompleteSlash(t *testing.T) {
	if got := completeSlash("/c"); !reflect.DeepEqual(got, []string{"/clear", "/chat", "/copy"}) {
		t.Errorf("completeSlash(/c) = %v", got)
	}
	if got := completeSlash("hello"); got != nil {
		t.Errorf("completeSlash(hello) = %v, want nil", got)
	}
}

// =============================================================================
// ASK PROMPT TESTS (ask.go)
// =============================================================================

func TestBuildPrompt(t *testing.T) {
	dir := t.TempDir()
	notes := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(notes, []byte("Acme missed two audits."), 0644); err != nil {
		t.Fatal(err)
	}
	big := filepath.Join(dir, "big.txt")
	if err := os.WriteFile(big, make([]byte, MaxFileSize+1), 0644); err != nil {
		t.Fatal(err)
	}

	t.Run("query only", func(t *testing.T) {
		got, err := buildPrompt(Args{Query: "  hi  "}, nil, true)
		if err != nil || got != "hi" {
			t.Errorf("got %q, %v", got, err)
		}
	})

	t.Run("dash reads stdin", func(t *testing.T) {
		got, err := buildPrompt(Args{Query: "-"}, strings.NewReader("from stdin\n"), true)
		if err != nil || got != "from stdin" {
			t.Errorf("got %q, %v", got, err)
		}
	})

	t.Run("piped stdin without query", func(t *testing.T) {
		got, err := buildPrompt(Args{}, strings.NewReader("piped"), false)
		if err != nil || got != "piped" {
			t.Errorf("got %q, %v", got, err)
		}
	})

	t.Run("file attached", func(t *testing.T) {
		got, err := buildPrompt(Args{Query: "summarize", File: notes}, nil, true)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(got, "summarize\n--- File: ") || !strings.Contains(got, "Acme missed two audits.") {
			t.Errorf("got %q", got)
		}
	})

	t.Run("file too large", func(t *testing.T) {
		if _, err := buildPrompt(Args{Query: "x", File: big}, nil, true); err == nil {
			t.Error("expected size error")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := buildPrompt(Args{Query: "x", File: filepath.Join(dir, "nope")}, nil, true)
		if err == nil || !strings.Contains(err.Error(), "file not found") {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("empty is a usage error", func(t *testing.T) {
		_, err := buildPrompt(Args{}, nil, true)
		if GetExitCode(err) != ExitUsageError {
			t.Errorf("exit code = %d, want %d", GetExitCode(err), ExitUsageError)
		}
	})
}

// =============================================================================
// ERROR MAPPING TESTS (errors.go)
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"usage", ErrUnsupportedFormat("xml", reportFormats), ExitUsageError},
		{"no endpoint", fmt.Errorf("load: %w", config.ErrNoEndpoint), ExitConfigError},
		{"validation", config.ValidateErrors{{Field: "log.level", Message: "bad"}}, ExitConfigError},
		{"auth", serving.ErrAuthFailed, ExitAuthError},
		{"session missing", NewCommandError("report", "load", "x", storage.ErrSessionNotFound), ExitNotFoundError},
		{"timeout", context.DeadlineExceeded, ExitTimeoutError},
		{"network", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}, ExitNetworkError},
		{"api", &serving.APIError{Code: "BAD_REQUEST", Message: "nope", Status: 400}, ExitServingError},
		{"rate limited", fmt.Errorf("query: %w", serving.ErrRateLimited), ExitServingError},
		{"other", errors.New("boom"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetExitCode(tt.err); got != tt.want {
				t.Errorf("GetExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestUsageError_Message(t *testing.T) {
	err := &UsageError{Field: "format", Value: "xml", Reason: "supported formats: json", Example: "servechat report --format json"}
	msg := err.Error()
	for _, want := range []string{"invalid format", "(got: xml)", "Example: servechat report"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestErrorHint(t *testing.T) {
	if h := errorHint(config.ErrNoEndpoint); !strings.Contains(h, "config init") {
		t.Errorf("hint = %q", h)
	}
	if h := errorHint(errors.New("x")); h != "" {
		t.Errorf("hint = %q, want empty", h)
	}
}

// =============================================================================
// OUTPUT TESTS
// =============================================================================

func TestJSONResponse(t *testing.T) {
	var buf strings.Builder
	if err := NewJSONErrorResponse("ask", errors.New("endpoint down")).Write(&buf); err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(buf.String()), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["success"] != false || decoded["error"] != "endpoint down" || decoded["command"] != "ask" {
		t.Errorf("decoded = %v", decoded)
	}

	ok := NewJSONResponse("version", VersionData{Version: "1.0"}).String()
	if !strings.Contains(ok, `"success": true`) || !strings.Contains(ok, `"error": null`) {
		t.Errorf("String() = %s", ok)
	}
}

func TestColorsFromEnv(t *testing.T) {
	tests := []struct {
		noColor, force string
		tty, want      bool
	}{
		{"", "", true, true},
		{"", "", false, false},
		{"1", "", true, false},
		{"", "1", false, true},
		{"1", "1", true, false},
	}
	for _, tt := range tests {
		if got := colorsFromEnv(tt.noColor, tt.force, tt.tty); got != tt.want {
			t.Errorf("colorsFromEnv(%q, %q, %v) = %v, want %v", tt.noColor, tt.force, tt.tty, got, tt.want)
		}
	}
}

// =============================================================================
// REPORT FILE TESTS (report_cmd.go)
// =============================================================================

func TestWriteReportFile(t *testing.T) {
	rep := report.Report{
		Suppliers: []report.Supplier{{Name: "Acme", RiskType: "Sanctions", Severity: "High", Details: []string{}}},
	}
	generated := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

	dir := t.TempDir()
	path, err := writeReportFile(rep, generated, "yaml", dir)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "compliance_report_2025-03-04_05-06-07.yaml"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("perm = %o, want 600", info.Mode().Perm())
	}

	explicit := filepath.Join(dir, "nested", "out.json")
	path, err = writeReportFile(rep, generated, "json", explicit)
	if err != nil {
		t.Fatal(err)
	}
	if path != explicit {
		t.Errorf("path = %q, want %q", path, explicit)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"supplier_name": "Acme"`) {
		t.Errorf("report body = %s", data)
	}

	if _, err := writeReportFile(rep, generated, "xml", explicit); err == nil {
		t.Error("unsupported format should fail")
	}
}

// =============================================================================
// APP TESTS (app.go)
// =============================================================================

func TestLoadConfig_FlagOverrides(t *testing.T) {
	for _, k := range []string{"SERVING_ENDPOINT", "DATABRICKS_HOST", "DATABRICKS_TOKEN", "SERVECHAT_LOG_LEVEL", "SERVECHAT_STREAM"} {
		t.Setenv(k, "")
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	body := "[endpoint]\nhost = \"https://example.cloud.databricks.com\"\n[storage]\nenabled = false\n"
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := loadConfig(Args{ConfigPath: path}, true); !errors.Is(err, config.ErrNoEndpoint) {
		t.Fatalf("err = %v, want ErrNoEndpoint", err)
	}

	cfg, err := loadConfig(Args{ConfigPath: path, Endpoint: "agent", NoStream: true, Verbose: true}, true)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Endpoint.Name != "agent" || cfg.Chat.Stream || cfg.Log.Level != "debug" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestApp_FeedbackModes(t *testing.T) {
	a := &App{Config: config.Default()}
	a.Config.Chat.Feedback = "on"
	if !a.FeedbackEnabled(context.Background()) {
		t.Error("on should enable feedback")
	}
	a.Config.Chat.Feedback = "off"
	if a.FeedbackEnabled(context.Background()) {
		t.Error("off should disable feedback")
	}
	a.Config.Chat.Feedback = "auto"
	if a.FeedbackEnabled(context.Background()) {
		t.Error("auto without a client should disable feedback")
	}
}
