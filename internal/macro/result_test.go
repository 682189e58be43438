package macro

import (
	"context"
	"testing"
)

func TestParseResult(t *testing.T) {
	t.Run("success result", func(t *testing.T) {
		res := ParseResult(`{"ok":true,"data":"pong"}`)
		if !res.OK || res.Data != "pong" {
			t.Errorf("unexpected result: %+v", res)
		}
	})

	t.Run("host failure result", func(t *testing.T) {
		res := ParseResult(`{"ok":false,"code":12,"error":"unknown macro"}`)
		if res.OK || res.Code != 12 || res.Err != "unknown macro" {
			t.Errorf("unexpected result: %+v", res)
		}
	})

	t.Run("surrounding whitespace is tolerated", func(t *testing.T) {
		res := ParseResult("\n  {\"ok\":true,\"data\":\"x\"}\n")
		if !res.OK || res.Data != "x" {
			t.Errorf("unexpected result: %+v", res)
		}
	})

	t.Run("malformed text maps to a transport error", func(t *testing.T) {
		for _, raw := range []string{"", "not json", `{"data":"no ok field"}`, "<xml/>"} {
			res := ParseResult(raw)
			if res.OK || res.Code != CodeTransport {
				t.Errorf("ParseResult(%q) = %+v, expected transport error", raw, res)
			}
		}
	})
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	if res := ParseResult(EncodeSuccess(`quoted "data" here`)); !res.OK || res.Data != `quoted "data" here` {
		t.Errorf("success round trip lost data: %+v", res)
	}
	if res := ParseResult(EncodeFailure(7, "boom")); res.OK || res.Code != 7 || res.Err != "boom" {
		t.Errorf("failure round trip lost fields: %+v", res)
	}
}

func TestMacroBuilders(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"close", CloseHost(), "Close()"},
		{"status", Status(), "Status()"},
		{"ctrl-c signal", Signal(SignalCtrlC), `Signal("ctrlc")`},
		{"ctrl-break signal", Signal(SignalCtrlBreak), `Signal("ctrlbreak")`},
		{"paste", Paste("dir /b"), `Paste("dir /b")`},
		{"paste doubles embedded quotes", Paste(`say "hi"`), `Paste("say ""hi""")`},
		{"write", Write("banner"), `Write("banner")`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestEncodeStatusData(t *testing.T) {
	pid, code := 4242, 0

	st, err := decodeStatus(EncodeStatusData(&pid, nil))
	if err != nil {
		t.Fatal(err)
	}
	if !st.HasPID || st.PID != 4242 || st.HasExitCode {
		t.Errorf("pid-only status decoded as %+v", st)
	}

	st, err = decodeStatus(EncodeStatusData(&pid, &code))
	if err != nil {
		t.Fatal(err)
	}
	if !st.HasExitCode || st.ExitCode != 0 {
		t.Errorf("full status decoded as %+v", st)
	}

	st, err = decodeStatus(EncodeStatusData(nil, nil))
	if err != nil {
		t.Fatal(err)
	}
	if st.HasPID || st.HasExitCode {
		t.Errorf("empty status decoded as %+v", st)
	}
}

// decodeStatus runs the data payload through a client with a canned entry,
// exercising the same parse path QueryPayloadStatus uses.
func decodeStatus(data string) (PayloadStatus, error) {
	client, err := NewClient(Config{
		Mode:  ModeInProcess,
		Entry: entryFunc(func(pid int, text string) (string, error) { return EncodeSuccess(data), nil }),
	})
	if err != nil {
		return PayloadStatus{}, err
	}
	defer client.Close()
	return client.QueryPayloadStatus(context.Background(), 1)
}
