package config

import (
	"os"
	"path/filepath"
)

func configSearchPaths() []string {
	home, _ := os.UserHomeDir()
	return []string{
		filepath.Join(home, ".macostranslate", "setup.yaml"),
		"/opt/homebrew/etc/macostranslate/setup.yaml",
		"/usr/local/etc/macostranslate/setup.yaml",
	}
}
