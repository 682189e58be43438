// Package startcfg generates the startup-configuration document consumed
// by the host at launch.
//
// The document is a small key/value tree: status-bar visibility plus, when
// environment variables or a greeting are requested, an ordered list of
// shell-init lines the payload shell replays on startup.
package startcfg

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/console-host-control/engine/internal/model"
)

// Document is the startup-configuration tree, serialized as TOML.
type Document struct {
	StatusBar StatusBar `toml:"statusbar"`
	Init      *Init     `toml:"init,omitempty"`
}

// StatusBar controls host status-bar visibility.
type StatusBar struct {
	Visible bool `toml:"visible"`
}

// Init carries the ordered shell-init lines.
type Init struct {
	Lines []string `toml:"lines"`
}

// Build assembles the document for a session. Environment variables are
// replayed in registration order, followed by the greeting echo.
func Build(info *model.StartInfo, showStatusBar bool) *Document {
	doc := &Document{
		StatusBar: StatusBar{Visible: showStatusBar},
	}

	var lines []string
	for _, ev := range info.Env {
		lines = append(lines, fmt.Sprintf(`set "%s=%s"`, ev.Name, ev.Value))
	}
	if info.GreetingText != "" {
		lines = append(lines, "echo "+EscapeEcho(info.GreetingText))
	}
	if len(lines) > 0 {
		doc.Init = &Init{Lines: lines}
	}
	return doc
}

// WriteFile serializes the document to path.
func (d *Document) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create startup config: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(d); err != nil {
		return fmt.Errorf("failed to encode startup config: %w", err)
	}
	return nil
}

// Load reads a document back from path.
func Load(path string) (*Document, error) {
	var doc Document
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode startup config: %w", err)
	}
	return &doc, nil
}

// echoEscapes maps characters that cannot appear literally inside an
// echoed token to their caret escapes.
var echoEscapes = map[rune]string{
	'"':  `""`,
	'^':  "^^",
	'\r': "^R",
	'\n': "^N",
	'\t': "^T",
	'\a': "^A",
	'\b': "^B",
	'[':  "^E",
}

// EscapeEcho prepares text for an init-line echo: the whole token is
// wrapped in quotes, embedded quotes are doubled, and control characters
// are mapped through the caret table.
func EscapeEcho(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 2)
	b.WriteByte('"')
	for _, r := range text {
		if esc, ok := echoEscapes[r]; ok {
			b.WriteString(esc)
		} else {
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
