package catalog

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/y0f/apiprobe/internal/catalog/presets"
)

// PresetNames lists the bundled catalogs.
func PresetNames() []string {
	entries, err := fs.Glob(presets.FS, "*.yaml")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e, ".yaml"))
	}
	sort.Strings(names)
	return names
}

// LoadPreset parses a bundled catalog by name.
func LoadPreset(name string) (*Document, error) {
	data, err := presets.FS.ReadFile(name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("unknown preset %q (available: %s)", name, strings.Join(PresetNames(), ", "))
	}
	return Parse(data, "preset:"+name)
}
