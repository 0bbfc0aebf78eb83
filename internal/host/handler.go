// Package host adapts echo requests to the bridge and writes the captured
// response back to the client.
package host

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"appbridge/internal/bridge"
	"appbridge/internal/ctx"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type Handler struct {
	bridge *bridge.Bridge
	log    *zap.SugaredLogger
}

func NewHandler(b *bridge.Bridge, log *zap.SugaredLogger) *Handler {
	return &Handler{bridge: b, log: log}
}

// Register routes every path and method to the bridge.
func (h *Handler) Register(g *echo.Group) {
	g.Any("/*", h.Serve)
	g.Any("", h.Serve)
}

// Serve hands one request to the bridge. The application owns the response;
// the host only fails on its own I/O errors.
func (h *Handler) Serve(cc echo.Context) error {
	log := h.log
	reqID := ""
	var lv *ctx.ContextLogValues
	if c, ok := cc.(*ctx.Context); ok {
		log = c.Log
		reqID = c.Reqid
		lv = c.LogValues
	}

	req, err := HostRequestFromHTTP(cc.Request())
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
			return echo.ErrStatusRequestEntityTooLarge
		}
		log.Warnw("Failed to read request body", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "failed reading request body")
	}
	req.RequestID = reqID

	resp := h.bridge.Invoke(cc.Request().Context(), req)
	if lv != nil {
		lv.ResponseBytes = len(resp.Body)
		lv.Fallback = resp.Failed
		if resp.Err != nil {
			lv.AddError(resp.Err)
		}
	}
	return WriteResponse(cc.Response(), resp)
}

// HostRequestFromHTTP reads the request body fully and builds the record the
// bridge expects.
func HostRequestFromHTTP(r *http.Request) (bridge.HostRequest, error) {
	req := bridge.HostRequest{
		Method:      r.Method,
		Path:        r.URL.Path,
		QueryString: r.URL.RawQuery,
		Headers:     r.Header.Clone(),
	}
	if r.ContentLength > 0 || r.Header.Get("Content-Length") != "" {
		n := r.ContentLength
		req.ContentLength = &n
	}
	if r.Body == nil || r.Body == http.NoBody {
		return req, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return req, err
	}
	if len(body) > 0 || req.ContentLength != nil {
		req.Body = body
	}
	return req, nil
}

// WriteResponse writes the captured status, headers and body.
func WriteResponse(w *echo.Response, resp bridge.Response) error {
	hdr := w.Header()
	for _, h := range resp.Headers {
		hdr.Add(h.Name, h.Value)
	}
	hdr.Set(echo.HeaderContentLength, strconv.Itoa(len(resp.Body)))
	w.WriteHeader(resp.StatusCode())
	if len(resp.Body) == 0 {
		return nil
	}
	if _, err := w.Write(resp.Body); err != nil {
		return fmt.Errorf("writing response body: %w", err)
	}
	return nil
}
