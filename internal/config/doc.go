// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads the servechat configuration.
//
// # Key Types
//
//   - Config: complete configuration, built once at startup
//   - EndpointConfig: serving endpoint name, host, token, retry and rate settings
//   - ValidateErrors: collection of ValidationError values from Validate
//
// # Configuration Precedence
//
//   - Environment variables (SERVING_ENDPOINT, DATABRICKS_HOST, DATABRICKS_TOKEN, SERVECHAT_*)
//   - --config PATH or ~/.servechat/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	client := serving.New(cfg.Endpoint)
package config
