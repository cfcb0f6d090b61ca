// servechat - terminal and HTTP front-end for a model-serving chat endpoint.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"os"

	"github.com/jeranaias/servechat/internal/cli"
	"github.com/jeranaias/servechat/internal/ui/chat"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	// Sync version info with cli package
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	cmd, args := cli.Parse()

	if cmd == cli.CmdTUI {
		if err := chat.Run(args); err != nil {
			cli.DisplayError(err)
			os.Exit(cli.GetExitCode(err))
		}
		return
	}

	os.Exit(cli.Run(cmd, args))
}
