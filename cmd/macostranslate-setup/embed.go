package main

import _ "embed"

// embeddedConfig holds the YAML defaults embedded at build time.
//
//go:embed defaults.yaml
var embeddedConfig []byte
