// Package configs embeds the configuration template written by
// `swiftsearch config init`.
//
// The template documents every setting with its default. Load order is
// described in internal/config Load().
package configs

import _ "embed"

// ConfigTemplate is written to ~/.config/swiftsearch/config.yaml
// (or $XDG_CONFIG_HOME/swiftsearch/config.yaml).
//
//go:embed config.example.yaml
var ConfigTemplate string
