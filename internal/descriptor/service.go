package descriptor

import (
	"bytes"
	_ "embed"
	"encoding/xml"
	"fmt"
	"text/template"

	"al.essio.dev/pkg/shellescape"
)

//go:embed templates/document.wflow.tmpl
var workflowTemplate string

var workflowTmpl = template.Must(template.New("document.wflow").
	Funcs(template.FuncMap{"xml": xmlEscape}).
	Parse(workflowTemplate))

type serviceManifest struct {
	NSServices []serviceEntry `plist:"NSServices"`
}

type serviceEntry struct {
	NSBackgroundColorName string   `plist:"NSBackgroundColorName"`
	NSIconName            string   `plist:"NSIconName"`
	NSMenuItem            menuItem `plist:"NSMenuItem"`
	NSMessage             string   `plist:"NSMessage"`
	NSRequiredContext     struct{} `plist:"NSRequiredContext"`
}

type menuItem struct {
	Default string `plist:"default"`
}

// ServiceManifest renders the bundle's Info.plist, which advertises a single
// Services menu item titled menuLabel.
func ServiceManifest(menuLabel string) ([]byte, error) {
	if menuLabel == "" {
		return nil, fmt.Errorf("%w: empty menu label", ErrInvalidInput)
	}
	if err := checkText("menu label", menuLabel); err != nil {
		return nil, err
	}

	return encode(serviceManifest{
		NSServices: []serviceEntry{{
			NSBackgroundColorName: "background",
			NSIconName:            "NSActionTemplate",
			NSMenuItem:            menuItem{Default: menuLabel},
			NSMessage:             "runWorkflowAsService",
		}},
	})
}

// ServiceWorkflow renders the Automator document holding one "Run Shell
// Script" action that starts execPath in the background.
func ServiceWorkflow(execPath string) ([]byte, error) {
	if err := checkExecPath(execPath); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	err := workflowTmpl.Execute(&buf, struct{ Command string }{Command: Command(execPath)})
	if err != nil {
		return nil, fmt.Errorf("rendering workflow: %w", err)
	}
	return buf.Bytes(), nil
}

// Command is the shell line the service runs. The trailing "&" detaches the
// app so the Services runner returns immediately.
func Command(execPath string) string {
	return shellescape.Quote(execPath) + " > /dev/null 2>&1 &"
}

func xmlEscape(s string) (string, error) {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return "", err
	}
	return buf.String(), nil
}
