// Package presets embeds the bundled catalogs.
package presets

import "embed"

// FS holds one YAML catalog per preset, named <preset>.yaml.
//
//go:embed *.yaml
var FS embed.FS
