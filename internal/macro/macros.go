package macro

import "strings"

// SignalKind names a soft signal delivered to the payload via the host.
type SignalKind string

const (
	SignalCtrlC     SignalKind = "ctrlc"
	SignalCtrlBreak SignalKind = "ctrlbreak"
)

// CloseHost is the graceful-close macro: asks the host to shut down its
// terminal, terminating the payload with it.
func CloseHost() string {
	return "Close()"
}

// Status queries the host for the payload's {pid, exitCode} pair.
func Status() string {
	return "Status()"
}

// Signal asks the host to deliver a soft signal to the payload.
func Signal(kind SignalKind) string {
	return "Signal(" + quoteArg(string(kind)) + ")"
}

// Paste types text into the payload's input as if entered at the keyboard.
func Paste(text string) string {
	return "Paste(" + quoteArg(text) + ")"
}

// Write emits text onto the payload's output stream.
func Write(text string) string {
	return "Write(" + quoteArg(text) + ")"
}

// quoteArg wraps a macro argument in quotes, doubling embedded quotes per
// the macro language's verbatim-string rule.
func quoteArg(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
