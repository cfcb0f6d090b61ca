// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides string and file helpers shared by servechat packages.
//
// # Key Functions
//
//   - TruncateRunes, TruncateWidth: UTF-8 safe truncation for log previews and tables
//   - DisplayLines: wrapped row count used to rewind in-place terminal regions
//   - WritePrivateFile: crash-safe owner-only writes (config, exports, reports)
//   - OpenPrivate, MkdirPrivate, RestrictFile: owner-only files and directories
//
// # Usage
//
//	preview := util.TruncateRunes(partial, 500)
//	err := util.WritePrivateFile(path, data)
package util
