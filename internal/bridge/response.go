package bridge

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	errNoStartResponse = errors.New("application returned without calling start_response")
	errBodyBeforeStart = errors.New("body chunk produced before start_response")
)

// Response is what the bridge hands back to the host.
type Response struct {
	Status  string
	Headers []Header
	Body    []byte

	// Failed is set when the response is a synthetic fallback; Err holds the
	// captured failure.
	Failed bool
	Err    error
}

// StatusCode parses the leading integer of the status line. A missing or
// malformed code yields 500.
func (r Response) StatusCode() int {
	return statusCode(r.Status)
}

// Header returns the first value recorded for name, case-insensitive.
func (r Response) Header(name string) string {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func statusCode(status string) int {
	code, _, _ := strings.Cut(strings.TrimSpace(status), " ")
	n, err := strconv.Atoi(code)
	if err != nil || len(code) != 3 || n < 100 {
		return 500
	}
	return n
}

func validStatus(status string) error {
	code, _, _ := strings.Cut(status, " ")
	if len(code) != 3 {
		return fmt.Errorf("malformed status line %q", status)
	}
	if _, err := strconv.Atoi(code); err != nil || code[0] < '1' || code[0] > '5' {
		return fmt.Errorf("malformed status line %q", status)
	}
	return nil
}

// responseState is the per invocation capture of start_response and the body
// accumulator. It never escapes the invocation that created it.
type responseState struct {
	started   bool
	status    string
	headers   []Header
	statusErr error
	body      bytes.Buffer
}

func (s *responseState) start(status string, headers []Header) io.Writer {
	s.started = true
	s.status = status
	s.headers = append([]Header(nil), headers...)
	s.statusErr = validStatus(status)
	return bodyWriter{s}
}

// bodyWriter appends to the same accumulator producer chunks go to, so direct
// writes and produced chunks keep their emission order.
type bodyWriter struct {
	s *responseState
}

func (w bodyWriter) Write(p []byte) (int, error) {
	return w.s.body.Write(p)
}

func (w bodyWriter) WriteString(p string) (int, error) {
	return w.s.body.WriteString(p)
}
