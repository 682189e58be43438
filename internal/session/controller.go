// Package session composes the supervision engine: it launches the host
// console-emulator process, wires the macro client, exit resolver and
// ANSI pump together, owns all session state, and marshals every
// observable transition onto one home loop.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/console-host-control/engine/internal/ansilog"
	"github.com/console-host-control/engine/internal/buffer"
	"github.com/console-host-control/engine/internal/dispatch"
	"github.com/console-host-control/engine/internal/exitwatch"
	"github.com/console-host-control/engine/internal/host"
	"github.com/console-host-control/engine/internal/journal"
	"github.com/console-host-control/engine/internal/ledger"
	"github.com/console-host-control/engine/internal/macro"
	"github.com/console-host-control/engine/internal/model"
	"github.com/console-host-control/engine/internal/startcfg"
)

const (
	// DefaultHistoryBytes bounds the retained chunk history (64KB).
	DefaultHistoryBytes = 64 * 1024

	startCfgFileName = "start.cfg"
	ansiLogFileName  = "ansi.log"
)

// Config carries everything a session needs besides its StartInfo.
type Config struct {
	// Host locates and parameterizes the host emulator.
	Host host.Config

	// Macro selects and configures the command transport.
	Macro macro.Config

	// TempRoot is the parent for per-session temp directories; empty
	// means the OS default.
	TempRoot string

	// AnsiPollInterval is the ANSI pump's poll period.
	AnsiPollInterval time.Duration

	// QueryInterval is the exit resolver's fixed retry delay.
	QueryInterval time.Duration

	// HistoryBytes bounds the retained chunk history.
	HistoryBytes int

	// Events, when non-nil, is the pre-start subscriber list. Everything
	// registered here is guaranteed delivery of every event.
	Events *Events

	Log zerolog.Logger
}

// Session is the aggregate root: the host process, the payload exit slot,
// the teardown ledger and the two completion futures. All state mutation
// and event delivery happen on the home loop.
type Session struct {
	id        string
	info      *model.StartInfo
	log       zerolog.Logger
	createdAt time.Time

	loop   *dispatch.Loop
	led    *ledger.Ledger
	client *macro.Client
	proc   *host.Process
	pump   *ansilog.Pump
	jrnl   *journal.Journal
	events *Events

	history     *buffer.ChunkBuffer
	tempDir     string
	ansiLogPath string

	payloadExit *ExitFuture
	hostExit    *ExitFuture

	resolver *exitwatch.Resolver

	// hostGone flips as soon as the OS process is observed dead, before
	// the host-exited announcement is delivered.
	hostGone atomic.Bool
}

// New validates the start info, launches the host and starts the
// background machinery. Configuration errors fail before any side
// effects; launch errors fail after immediate ledger teardown.
func New(info *model.StartInfo, cfg Config) (*Session, error) {
	if info == nil {
		return nil, fmt.Errorf("%w: %w", model.ErrConfiguration, model.ErrCommandRequired)
	}
	if err := info.Consume(); err != nil {
		return nil, err
	}
	if cfg.HistoryBytes <= 0 {
		cfg.HistoryBytes = DefaultHistoryBytes
	}

	s := &Session{
		id:          uuid.New().String(),
		info:        info,
		createdAt:   time.Now(),
		led:         ledger.New(),
		history:     buffer.NewChunkBuffer(cfg.HistoryBytes),
		events:      cfg.Events,
		payloadExit: newExitFuture(),
		hostExit:    newExitFuture(),
	}
	if s.events == nil {
		s.events = NewEvents()
	}
	s.log = cfg.Log.With().Str("session", s.id[:8]).Logger()

	fail := func(err error) (*Session, error) {
		s.led.RunAll()
		return nil, err
	}

	tempDir, err := os.MkdirTemp(cfg.TempRoot, "hostctl-*")
	if err != nil {
		return fail(fmt.Errorf("%w: temp dir: %v", model.ErrLaunch, err))
	}
	s.tempDir = tempDir
	s.led.Append(func() { os.RemoveAll(tempDir) })

	jrnl, err := journal.Open(tempDir, s.id)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", model.ErrLaunch, err))
	}
	s.jrnl = jrnl
	s.led.Append(func() { jrnl.Remove() })

	cfgPath := filepath.Join(tempDir, startCfgFileName)
	doc := startcfg.Build(info, cfg.Host.ShowStatusBar)
	if err := doc.WriteFile(cfgPath); err != nil {
		return fail(fmt.Errorf("%w: %v", model.ErrLaunch, err))
	}

	client, err := macro.NewClient(cfg.Macro)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", model.ErrLaunch, err))
	}
	s.client = client
	s.led.Append(func() { client.Close() })

	ansiLogDir := ""
	if info.CaptureAnsi {
		ansiLogDir = tempDir
		s.ansiLogPath = filepath.Join(tempDir, ansiLogFileName)
	}

	s.loop = dispatch.NewLoop()

	proc, err := host.Launch(cfg.Host, info, cfgPath, ansiLogDir)
	if err != nil {
		s.loop.Close()
		return fail(err)
	}
	s.proc = proc
	s.log.Info().Int("hostPid", proc.PID()).Str("cmd", info.CommandLine).Msg("host launched")
	s.jrnl.Record(journal.KindLaunch, "pid="+strconv.Itoa(proc.PID()))

	if s.ansiLogPath != "" {
		s.pump = ansilog.NewPump(s.ansiLogPath, cfg.AnsiPollInterval, s.onPumpData)
		s.led.Append(func() { s.pump.Close() })
		s.pump.Start()
	}

	go s.watchHost()

	s.resolver = exitwatch.Start(exitwatch.Config{
		Interval: cfg.QueryInterval,
		Query: func(ctx context.Context) (macro.PayloadStatus, error) {
			return s.client.QueryPayloadStatus(ctx, s.proc.PID())
		},
		WaitPID: func(ctx context.Context, pid int) error {
			return host.WaitForPID(ctx, pid, 0)
		},
		PayloadResolved: s.payloadExit.Resolved,
		HostExited:      s.hostGone.Load,
		Resolve: func(code int) {
			s.loop.Post(func() { s.resolvePayload(code, "resolver") })
		},
		Log: s.log,
	})

	return s, nil
}

// watchHost waits for the host OS process and hands the exit to the loop.
func (s *Session) watchHost() {
	code, err := s.proc.Wait()
	if err != nil {
		s.log.Warn().Err(err).Msg("host wait failed")
	}
	s.hostGone.Store(true)
	s.loop.Post(func() { s.onHostExit(code) })
}

// onPumpData receives raw pump bytes, either from the poll goroutine or
// inline from the final drain, and marshals them onto the loop.
func (s *Session) onPumpData(data []byte) {
	s.loop.Post(func() {
		c := s.history.Append(data)
		s.events.emitAnsi(c)
	})
}

// resolvePayload is the single point where the payload exit code is set.
// Both racing paths (resolver query and host-exit handler) funnel into it
// on the loop; the first task to run wins and the loser backs off. The
// pump is fully drained before the announcement is queued, so every ANSI
// chunk precedes the payload-exited event.
func (s *Session) resolvePayload(code int, source string) {
	if s.payloadExit.Resolved() {
		return
	}
	s.log.Info().Int("exitCode", code).Str("source", source).Msg("payload exited")
	s.jrnl.Record(journal.KindPayloadExited, "code="+strconv.Itoa(code)+" source="+source)

	if s.pump != nil {
		// Final synchronous drain; remaining chunks are posted ahead of
		// the announcement below.
		s.pump.Close()
	}

	s.payloadExit.Resolve(code)
	s.loop.Post(func() {
		s.events.emitPayloadExited(code)
	})
}

// onHostExit runs on the loop when the host OS process has terminated:
// resolve the payload if the resolver did not get there first (the host's
// own exit code is authoritative fallback), run the ledger, then announce.
func (s *Session) onHostExit(code int) {
	s.resolvePayload(code, "host-exit")

	s.loop.Post(func() {
		s.jrnl.Record(journal.KindHostExited, "code="+strconv.Itoa(code))
		s.led.RunAll()
		s.events.emitHostExited(code)
		s.hostExit.Resolve(code)
		s.log.Info().Int("exitCode", code).Msg("host exited, session torn down")
		go s.resolver.Stop()
		s.loop.Close()
	})
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// HostPID returns the host process id.
func (s *Session) HostPID() int {
	if s.proc == nil {
		return 0
	}
	return s.proc.PID()
}

// AnsiLogPath returns the append-only ANSI log location, or "" when
// capture is disabled.
func (s *Session) AnsiLogPath() string {
	return s.ansiLogPath
}

// History returns the bounded chunk history for reconnect replay.
func (s *Session) History() *buffer.ChunkBuffer {
	return s.history
}

// Events returns the subscriber list. Late subscriptions only see
// subsequent events.
func (s *Session) Events() *Events {
	return s.events
}

// PayloadExited returns the payload completion future.
func (s *Session) PayloadExited() *ExitFuture {
	return s.payloadExit
}

// HostExited returns the host completion future.
func (s *Session) HostExited() *ExitFuture {
	return s.hostExit
}

// Journal returns the per-session event journal. It is removed at
// teardown; reads after host exit fail.
func (s *Session) Journal() *journal.Journal {
	return s.jrnl
}

// Snapshot captures the session's externally visible state.
func (s *Session) Snapshot() model.Snapshot {
	snap := model.Snapshot{
		ID:          s.id,
		CommandLine: s.info.CommandLine,
		Status:      model.SessionStatusRunning,
		HostPID:     s.HostPID(),
		AnsiLogPath: s.ansiLogPath,
		CreatedAt:   s.createdAt,
	}
	if code, ok := s.payloadExit.Code(); ok {
		c := code
		snap.PayloadExitCode = &c
		snap.Status = model.SessionStatusPayloadExited
	}
	if code, ok := s.hostExit.Code(); ok {
		c := code
		snap.HostExitCode = &c
		snap.Status = model.SessionStatusHostExited
	}
	return snap
}

// ExecuteMacro sends a macro to the host asynchronously. The result is
// always delivered as a value; transport and host failures never raise.
func (s *Session) ExecuteMacro(text string) <-chan macro.Result {
	ch := make(chan macro.Result, 1)
	if s.proc == nil {
		ch <- macro.Fail(macro.CodeTransport, model.ErrNoHostProcess.Error())
		return ch
	}
	go func() {
		res := s.client.Exec(context.Background(), s.proc.PID(), text)
		s.jrnl.Record(journal.KindMacro, text)
		ch <- res
	}()
	return ch
}

// ExecuteMacroSync sends a macro and waits for its result. On the home
// loop the wait keeps servicing the task queue, so reentrant calls made
// from event handlers cannot deadlock; on any other goroutine it blocks
// directly.
func (s *Session) ExecuteMacroSync(text string) macro.Result {
	resCh := s.ExecuteMacro(text)

	var res macro.Result
	done := make(chan struct{})
	go func() {
		res = <-resCh
		close(done)
	}()

	s.loop.PumpUntil(done)

	select {
	case <-done:
		return res
	default:
		return macro.Fail(macro.CodeTransport, "session loop stopped before the macro completed")
	}
}

// CloseHost asks the host to close gracefully. The process may already
// have exited, which is not an error; a failed close macro falls back to
// an OS kill.
func (s *Session) CloseHost() {
	go func() {
		res := s.client.Exec(context.Background(), s.proc.PID(), macro.CloseHost())
		if !res.OK && !s.hostGone.Load() {
			if err := s.proc.Kill(); err != nil {
				s.log.Debug().Err(err).Msg("host kill after failed close macro")
			}
		}
	}()
}

// KillPayload resolves the payload pid via the status query and issues an
// OS-level termination. It is a no-op success when the host or payload
// already exited.
func (s *Session) KillPayload(ctx context.Context) error {
	if s.payloadExit.Resolved() || s.hostGone.Load() {
		return nil
	}

	st, err := s.client.QueryPayloadStatus(ctx, s.proc.PID())
	if err != nil {
		if s.hostGone.Load() {
			return nil
		}
		return fmt.Errorf("failed to resolve payload pid: %w", err)
	}
	if st.HasExitCode || !st.HasPID {
		return nil
	}
	// Re-check: the exit may have been recorded while we queried.
	if s.payloadExit.Resolved() {
		return nil
	}
	return host.KillPID(st.PID)
}

// SendControlC delivers a best-effort Ctrl+C to the payload.
func (s *Session) SendControlC() {
	s.fireMacro(macro.Signal(macro.SignalCtrlC))
}

// SendControlBreak delivers a best-effort Ctrl+Break to the payload.
func (s *Session) SendControlBreak() {
	s.fireMacro(macro.Signal(macro.SignalCtrlBreak))
}

// WriteInputText pastes text into the payload's input. Empty text is a
// no-op.
func (s *Session) WriteInputText(text string) {
	if text == "" {
		return
	}
	s.fireMacro(macro.Paste(text))
}

// WriteOutputText emits text onto the payload's output. Empty text is a
// no-op.
func (s *Session) WriteOutputText(text string) {
	if text == "" {
		return
	}
	s.fireMacro(macro.Write(text))
}

// fireMacro sends a macro whose result nobody consumes; failures are
// race-tolerated.
func (s *Session) fireMacro(text string) {
	ch := s.ExecuteMacro(text)
	go func() { <-ch }()
}

// Shutdown closes the host and waits for the host-exited announcement,
// escalating to an OS kill when ctx expires first.
func (s *Session) Shutdown(ctx context.Context) error {
	s.CloseHost()
	select {
	case <-s.hostExit.Done():
		return nil
	case <-ctx.Done():
	}

	if err := s.proc.Kill(); err != nil {
		return err
	}
	select {
	case <-s.hostExit.Done():
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("session %s did not finish teardown", s.id)
	}
}
