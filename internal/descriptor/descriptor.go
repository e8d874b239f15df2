// Package descriptor renders the property lists that register macostranslate
// with launchd and with the macOS Services menu. All functions are pure: they
// map their inputs to bytes and never touch the filesystem.
package descriptor

import (
	"errors"
	"fmt"
	"path/filepath"
	"unicode/utf8"

	"howett.net/plist"
)

// ErrInvalidInput is returned when an identifier, path or label cannot be
// embedded in a property list.
var ErrInvalidInput = errors.New("invalid descriptor input")

// Bundle-relative paths of the two files that make up a service bundle.
const (
	ManifestFile = "Contents/Info.plist"
	WorkflowFile = "Contents/document.wflow"
)

// launchAgent mirrors the keys launchd reads from a per-user agent plist.
type launchAgent struct {
	Label            string   `plist:"Label"`
	ProgramArguments []string `plist:"ProgramArguments"`
	RunAtLoad        bool     `plist:"RunAtLoad"`
	KeepAlive        bool     `plist:"KeepAlive"`
}

// Autostart renders the LaunchAgent plist that starts execPath at login.
// The program arguments hold exactly one element, the executable itself.
func Autostart(identifier, execPath string) ([]byte, error) {
	if identifier == "" {
		return nil, fmt.Errorf("%w: empty identifier", ErrInvalidInput)
	}
	if err := checkText("identifier", identifier); err != nil {
		return nil, err
	}
	if err := checkExecPath(execPath); err != nil {
		return nil, err
	}

	agent := launchAgent{
		Label:            identifier,
		ProgramArguments: []string{execPath},
		RunAtLoad:        true,
		KeepAlive:        false,
	}
	return encode(agent)
}

// MenuLabel is the Services menu title for appName.
func MenuLabel(appName string) string {
	return "Open " + appName
}

// Bundle renders both files of the shortcut service bundle, keyed by their
// path relative to the bundle directory.
func Bundle(menuLabel, execPath string) (map[string][]byte, error) {
	manifest, err := ServiceManifest(menuLabel)
	if err != nil {
		return nil, err
	}
	workflow, err := ServiceWorkflow(execPath)
	if err != nil {
		return nil, err
	}
	return map[string][]byte{
		ManifestFile: manifest,
		WorkflowFile: workflow,
	}, nil
}

func encode(v interface{}) ([]byte, error) {
	data, err := plist.MarshalIndent(v, plist.XMLFormat, "\t")
	if err != nil {
		return nil, fmt.Errorf("encoding plist: %w", err)
	}
	return append(data, '\n'), nil
}

func checkExecPath(execPath string) error {
	if execPath == "" {
		return fmt.Errorf("%w: empty executable path", ErrInvalidInput)
	}
	if !filepath.IsAbs(execPath) {
		return fmt.Errorf("%w: executable path %q is not absolute", ErrInvalidInput, execPath)
	}
	return checkText("executable path", execPath)
}

// checkText rejects strings that no XML 1.0 document can carry, even escaped.
func checkText(field, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalidInput, field)
	}
	for _, r := range s {
		if !isXMLChar(r) {
			return fmt.Errorf("%w: %s contains character %U", ErrInvalidInput, field, r)
		}
	}
	return nil
}

func isXMLChar(r rune) bool {
	return r == 0x09 || r == 0x0A || r == 0x0D ||
		(r >= 0x20 && r <= 0xD7FF) ||
		(r >= 0xE000 && r <= 0xFFFD) ||
		(r >= 0x10000 && r <= 0x10FFFF)
}
