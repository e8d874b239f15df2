package setup

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Layout holds the per-user locations of every registration artifact.
type Layout struct {
	Home            string
	LaunchAgentsDir string
	AutostartPath   string
	ServicesDir     string
	BundlePath      string
}

// ResolveLayout computes the well-known paths for identifier and appName
// under home:
//
//	~/Library/LaunchAgents/<identifier>.plist
//	~/Library/Services/<appName>.workflow
//
// Both names become single path elements, so separators and dot-only names
// are rejected.
func ResolveLayout(home, identifier, appName string) (Layout, error) {
	if home == "" || !filepath.IsAbs(home) {
		return Layout{}, fmt.Errorf("home directory %q is not an absolute path", home)
	}
	if err := validateName("identifier", identifier); err != nil {
		return Layout{}, err
	}
	if err := validateName("app name", appName); err != nil {
		return Layout{}, err
	}

	home = filepath.Clean(home)
	agents := filepath.Join(home, "Library", "LaunchAgents")
	services := filepath.Join(home, "Library", "Services")
	return Layout{
		Home:            home,
		LaunchAgentsDir: agents,
		AutostartPath:   filepath.Join(agents, identifier+".plist"),
		ServicesDir:     services,
		BundlePath:      filepath.Join(services, appName+".workflow"),
	}, nil
}

// AppNameFromExec derives the bundle name from the executable's file name.
func AppNameFromExec(execPath string) string {
	name := filepath.Base(execPath)
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return name
}

func validateName(kind, name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%s is empty", kind)
	case name == "." || name == "..":
		return fmt.Errorf("%s %q is not a valid file name", kind, name)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return fmt.Errorf("%s %q must not contain path separators", kind, name)
	}
	return nil
}
