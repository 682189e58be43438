// Package macro implements the command-protocol client used to drive the
// host process: macro text builders, the uniform result grammar, and the
// two interchangeable transports (in-process entry point and out-of-process
// helper).
package macro

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// CodeTransport is the error code reported when the transport itself fails
// (spawn, load, timeout) as opposed to a failure reported by the host.
const CodeTransport = -1

// Request identifies one macro call: the target host process and the
// macro text to deliver.
type Request struct {
	HostPID int
	Text    string
}

// Result is the uniform outcome of a macro call, identical for both
// transports: either a success payload or an error code with text.
type Result struct {
	OK   bool   `json:"ok"`
	Data string `json:"data,omitempty"`
	Code int    `json:"code,omitempty"`
	Err  string `json:"error,omitempty"`
}

// Succeed builds a success result carrying payload text.
func Succeed(data string) Result {
	return Result{OK: true, Data: data}
}

// Fail builds an error result.
func Fail(code int, msg string) Result {
	return Result{Code: code, Err: msg}
}

// ParseResult decodes one serialized result. Both transports yield the
// same one-line JSON grammar: {"ok":true,"data":...} on success,
// {"ok":false,"code":N,"error":...} on host-reported failure. Anything
// else maps to a transport error.
func ParseResult(raw string) Result {
	raw = strings.TrimSpace(raw)
	if !gjson.Valid(raw) || !gjson.Get(raw, "ok").Exists() {
		return Fail(CodeTransport, "malformed macro result: "+truncate(raw, 120))
	}
	if gjson.Get(raw, "ok").Bool() {
		return Succeed(gjson.Get(raw, "data").String())
	}
	return Fail(int(gjson.Get(raw, "code").Int()), gjson.Get(raw, "error").String())
}

// EncodeSuccess serializes a success result. Host-side components and
// tests use this to produce the wire form ParseResult consumes.
func EncodeSuccess(data string) string {
	out, _ := sjson.Set(`{"ok":true}`, "data", data)
	return out
}

// EncodeFailure serializes a host-reported failure.
func EncodeFailure(code int, msg string) string {
	out, _ := sjson.Set(`{"ok":false}`, "code", code)
	out, _ = sjson.Set(out, "error", msg)
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
