// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - config command.
//
// Subcommands:
//
//	show (default)   Display the effective configuration, token masked
//	init [--force]   Write a config file from defaults and the environment
//	path             Show the configuration file path
package cli

import (
	"fmt"
	"os"

	"github.com/jeranaias/servechat/internal/config"
)

// HandleConfigCommand handles the "config" command.
func HandleConfigCommand(args Args) error {
	path, err := configPath(args)
	if err != nil {
		return err
	}

	switch args.Subcommand {
	case "", "show":
		return handleConfigShow(args, path)
	case "init":
		return handleConfigInit(args, path)
	case "path":
		if args.JSON {
			return NewJSONResponse("config", map[string]string{"path": path}).Print()
		}
		fmt.Println(path)
		return nil
	default:
		return &UsageError{
			Field:   "subcommand",
			Value:   args.Subcommand,
			Reason:  "expected show, init or path",
			Example: "servechat config show",
		}
	}
}

func configPath(args Args) (string, error) {
	if args.ConfigPath != "" {
		return args.ConfigPath, nil
	}
	return config.PathTOML()
}

func handleConfigShow(args Args, path string) error {
	cfg, err := loadConfig(args, false)
	if err != nil {
		return err
	}
	red := cfg.Redacted()

	if args.JSON {
		return NewJSONResponse("config", ConfigData{
			Path:     path,
			Endpoint: red.Endpoint.Name,
			Host:     red.Endpoint.Host,
			Token:    red.Endpoint.Token,
			Stream:   red.Chat.Stream,
			Feedback: red.Chat.Feedback,
			Storage:  storageSummary(red),
			LogLevel: red.Log.Level,
		}).Print()
	}

	fmt.Println(TitleStyle.Render("Configuration"))
	fmt.Println(RenderField("File", path))
	if _, err := os.Stat(path); err != nil {
		fmt.Println(DimStyle.Render("(file not found, showing defaults and environment)"))
	}
	fmt.Println()
	fmt.Print(cfg.String())

	if err := cfg.Validate(); err != nil {
		fmt.Println()
		fmt.Println(WarningStyle.Render("Configuration is incomplete:"))
		fmt.Println(err)
	}
	return nil
}

func handleConfigInit(args Args, path string) error {
	if _, err := os.Stat(path); err == nil && !args.Force {
		return NewCommandError("config", "init", "config file already exists", fmt.Errorf("%s (use --force to overwrite)", path))
	}

	// Defaults plus whatever the environment and flags already provide.
	cfg := config.Default()
	cfg.ApplyEnvOverrides()
	if args.Endpoint != "" {
		cfg.Endpoint.Name = args.Endpoint
	}
	if err := cfg.SetDefaults(); err != nil {
		return err
	}
	if err := config.SaveTOML(cfg, path); err != nil {
		return err
	}

	fmt.Fprintln(os.Stderr, SuccessStyle.Render("Wrote ")+path)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, WarningStyle.Render("Edit the file to complete it:"))
		fmt.Fprintln(os.Stderr, err)
	}
	return nil
}

func storageSummary(cfg *config.Config) string {
	if !cfg.Storage.Enabled {
		return "disabled"
	}
	return cfg.Storage.Path
}
