// Package configs provides the embedded configuration template for zoterag.
//
// The template is embedded at build time with go:embed, so it ships inside
// the binary no matter how zoterag was installed. 'zoterag config init'
// writes it to ~/.config/zoterag/config.yaml.
package configs

import _ "embed"

// UserConfigTemplate is the starter user configuration written by
// 'zoterag config init'. Every setting appears with its default so the
// file documents the full schema; values match internal/config.New.
//
//go:embed config.example.yaml
var UserConfigTemplate string
