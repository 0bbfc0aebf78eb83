// Package bridge hands individual host requests to an embedded application
// using the environ / start_response calling convention and captures the
// status, headers and body it produces.
package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"appbridge/internal/shared"

	"go.uber.org/zap"
)

// HostRequest is the already parsed request record supplied by the host.
type HostRequest struct {
	Method      string
	Path        string
	QueryString string
	// Headers keys are matched case-insensitively.
	Headers       http.Header
	ContentLength *int64
	// Body is the fully read request content, nil when the request has none.
	Body      []byte
	RequestID string
}

// Outcome describes one finished invocation.
type Outcome struct {
	RequestID  string
	Method     string
	Path       string
	StatusCode int
	BodyBytes  int
	Duration   time.Duration
	Failed     bool
	Phase      string
	CreatedAt  time.Time
}

// Observer receives an Outcome after every invocation.
type Observer interface {
	Observe(ctx context.Context, o Outcome)
}

type Config struct {
	// ErrorSink receives full diagnostics of application failures. It is
	// shared by concurrent invocations and must be safe for concurrent use.
	ErrorSink    io.Writer
	Multithread  bool
	Multiprocess bool
	// Variables are exported into every environ, typically from an activated
	// isolated environment.
	Variables map[string]string
	Observers []Observer
	Log       *zap.SugaredLogger
}

// Bridge is safe for concurrent use; it holds no per request state.
type Bridge struct {
	app       Application
	errSink   io.Writer
	cfg       Config
	log       *zap.SugaredLogger
	observers []Observer
}

func New(app Application, cfg Config) *Bridge {
	b := &Bridge{
		app:       app,
		errSink:   cfg.ErrorSink,
		cfg:       cfg,
		log:       cfg.Log,
		observers: cfg.Observers,
	}
	if b.errSink == nil {
		b.errSink = io.Discard
	}
	if b.log == nil {
		b.log = zap.NewNop().Sugar()
	}
	b.cfg.Variables = maps.Clone(cfg.Variables)
	return b
}

// Invoke runs the application exactly once for req. It never panics on
// behalf of the application: failures become a fallback Response.
func (b *Bridge) Invoke(ctx context.Context, req HostRequest) Response {
	started := time.Now()
	env := b.environ(ctx, req)
	state := &responseState{}

	err := b.call(env, state)

	var resp Response
	if err != nil {
		resp = b.fallback(env, state, err)
	} else {
		resp = Response{
			Status:  state.status,
			Headers: state.headers,
			Body:    state.body.Bytes(),
		}
	}

	outcome := Outcome{
		RequestID:  req.RequestID,
		Method:     env.Method(),
		Path:       env.Path(),
		StatusCode: resp.StatusCode(),
		BodyBytes:  len(resp.Body),
		Duration:   time.Since(started),
		Failed:     resp.Failed,
		CreatedAt:  started,
	}
	var ie *shared.InvocationError
	if errors.As(err, &ie) {
		outcome.Phase = ie.Phase
	}
	for _, o := range b.observers {
		o.Observe(ctx, outcome)
	}
	return resp
}

func (b *Bridge) environ(ctx context.Context, req HostRequest) Environ {
	env := environFromRequest(req)
	for k, v := range b.cfg.Variables {
		if _, taken := env[k]; !taken {
			env[k] = v
		}
	}
	env[KeyVersion] = [2]int{shared.ProtocolMajor, shared.ProtocolMinor}
	env[KeyErrors] = b.errSink
	env[KeyRunOnce] = false
	env[KeyMultithread] = b.cfg.Multithread
	env[KeyMultiprocess] = b.cfg.Multiprocess
	env[KeyContext] = ctx
	if req.RequestID != "" {
		env[KeyRequestID] = req.RequestID
	}
	if req.Body != nil {
		env[KeyInput] = bytes.NewReader(req.Body)
		if len(req.Body) > 0 {
			env[KeyContent] = req.Body
		}
	}
	return env
}

func (b *Bridge) call(env Environ, state *responseState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &shared.InvocationError{Phase: shared.PhaseCall, Err: panicError(r), Stack: debug.Stack()}
		}
	}()

	producer, err := b.app.Handle(env, state.start)
	if err != nil {
		if producer != nil {
			err = errors.Join(err, releaseOnce(producer))
		}
		return &shared.InvocationError{Phase: shared.PhaseCall, Err: err, Stack: debug.Stack()}
	}
	if producer != nil {
		if err := state.drain(producer); err != nil {
			return err
		}
	}
	if !state.started {
		return &shared.InvocationError{Phase: shared.PhaseStart, Err: errNoStartResponse}
	}
	if state.statusErr != nil {
		return &shared.InvocationError{Phase: shared.PhaseStart, Err: state.statusErr}
	}
	return nil
}

// drain consumes the producer into the accumulator. Release runs exactly once
// whether draining finished, failed or panicked.
func (s *responseState) drain(p BodyProducer) (err error) {
	defer func() {
		r := recover()
		relErr := releaseOnce(p)
		if r != nil {
			err = &shared.InvocationError{Phase: shared.PhaseDrain, Err: panicError(r), Stack: debug.Stack()}
			return
		}
		if err == nil && relErr != nil {
			err = &shared.InvocationError{Phase: shared.PhaseRelease, Err: relErr}
		}
	}()

	for {
		chunk, nerr := p.Next()
		if len(chunk) > 0 {
			if !s.started {
				return &shared.InvocationError{Phase: shared.PhaseDrain, Err: errBodyBeforeStart}
			}
			s.body.Write(chunk)
		}
		if nerr == io.EOF {
			return nil
		}
		if nerr != nil {
			return &shared.InvocationError{Phase: shared.PhaseDrain, Err: nerr, Stack: debug.Stack()}
		}
	}
}

func releaseOnce(p BodyProducer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return p.Release()
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}

// fallback builds the synthetic response for a failed invocation and writes
// the full diagnostic to the error sink.
func (b *Bridge) fallback(env Environ, state *responseState, err error) Response {
	var ie *shared.InvocationError
	if !errors.As(err, &ie) {
		ie = &shared.InvocationError{Phase: shared.PhaseCall, Err: err}
	}
	stack := ie.Stack
	if stack == nil {
		stack = debug.Stack()
	}

	var diag strings.Builder
	fmt.Fprintf(&diag, "[%s] %s %s: %s\n", env.RequestID(), env.Method(), env.Path(), ie.Error())
	diag.Write(stack)
	if _, werr := io.WriteString(b.errSink, diag.String()); werr != nil {
		b.log.Warnw("Failed writing to error sink", "error", werr)
	}
	b.log.Errorw("Application failed", "request_id", env.RequestID(), "phase", ie.Phase, "error", ie.Err)

	resp := Response{Failed: true, Err: ie}
	if state.started && state.statusErr == nil {
		resp.Status = state.status
		for _, h := range state.headers {
			if strings.EqualFold(h.Name, "Content-Length") {
				continue
			}
			resp.Headers = append(resp.Headers, h)
		}
	} else {
		resp.Status = shared.FallbackStatus
		resp.Headers = []Header{{Name: "Content-Type", Value: shared.FallbackContentType}}
	}
	resp.Body = []byte(ie.Error() + "\n")
	return resp
}
