package bridge

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"appbridge/internal/multipart"
	"appbridge/internal/shared"
)

// Environ keys
const (
	KeyMethod        = "REQUEST_METHOD"
	KeyPath          = "PATH_INFO"
	KeyQuery         = "QUERY_STRING"
	KeyContentType   = "CONTENT_TYPE"
	KeyContentLength = "CONTENT_LENGTH"
	KeyHeaderPrefix  = "HTTP_"

	KeyVersion      = "bridge.version"
	KeyInput        = "bridge.input"
	KeyErrors       = "bridge.errors"
	KeyRunOnce      = "bridge.run_once"
	KeyMultithread  = "bridge.multithread"
	KeyMultiprocess = "bridge.multiprocess"
	KeyContent      = "bridge.content"
	KeyRequestID    = "bridge.request_id"
	KeyContext      = "bridge.context"
)

// Environ is the per request context handed to an application. It is owned
// by exactly one invocation and must not be retained after Handle returns.
type Environ map[string]any

// HeaderKey returns the environ key for an HTTP header name.
func HeaderKey(name string) string {
	return KeyHeaderPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

func (e Environ) StringValue(key string) string {
	v, _ := e[key].(string)
	return v
}

func (e Environ) BoolValue(key string) bool {
	v, _ := e[key].(bool)
	return v
}

func (e Environ) Method() string {
	return e.StringValue(KeyMethod)
}

func (e Environ) Path() string {
	return e.StringValue(KeyPath)
}

func (e Environ) Query() string {
	return e.StringValue(KeyQuery)
}

func (e Environ) ContentType() string {
	return e.StringValue(KeyContentType)
}

// Header returns a request header value; name is case-insensitive.
func (e Environ) Header(name string) string {
	if strings.EqualFold(name, "Content-Type") {
		return e.ContentType()
	}
	if strings.EqualFold(name, "Content-Length") {
		return e.StringValue(KeyContentLength)
	}
	return e.StringValue(HeaderKey(name))
}

// ContentLength reports the declared request body length, if any.
func (e Environ) ContentLength() (int64, bool) {
	s := e.StringValue(KeyContentLength)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Body returns the request body reader, or nil when the request has none.
func (e Environ) Body() io.Reader {
	r, _ := e[KeyInput].(io.Reader)
	return r
}

// Content returns the raw buffered request body, or nil.
func (e Environ) Content() []byte {
	b, _ := e[KeyContent].([]byte)
	return b
}

// Errors returns the error sink. It never returns nil.
func (e Environ) Errors() io.Writer {
	if w, ok := e[KeyErrors].(io.Writer); ok && w != nil {
		return w
	}
	return io.Discard
}

func (e Environ) Version() [2]int {
	v, _ := e[KeyVersion].([2]int)
	return v
}

func (e Environ) RequestID() string {
	return e.StringValue(KeyRequestID)
}

// Context returns the context of the invocation, canceled when the client
// goes away. It never returns nil.
func (e Environ) Context() context.Context {
	if ctx, ok := e[KeyContext].(context.Context); ok && ctx != nil {
		return ctx
	}
	return context.Background()
}

// Keys returns the environ keys in sorted order.
func (e Environ) Keys() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Multipart decodes the request body as multipart/form-data. Any error is a
// *shared.DecodeError whose Summary is suitable for returning to a client.
func (e Environ) Multipart(ctx context.Context, cfg multipart.Config) ([]*multipart.Part, error) {
	boundary, err := multipart.BoundaryFromContentType(e.ContentType())
	if err != nil {
		return nil, err
	}
	body := e.Body()
	if body == nil {
		return nil, &shared.DecodeError{Err: shared.ErrTruncated}
	}
	dec, err := multipart.NewDecoder(body, boundary, cfg)
	if err != nil {
		return nil, err
	}
	return dec.Decode(ctx)
}

func environFromRequest(req HostRequest) Environ {
	env := Environ{
		KeyMethod: strings.ToUpper(req.Method),
		KeyPath:   req.Path,
		KeyQuery:  req.QueryString,
	}
	// names differing only in case share one key, joined in sorted order
	names := make([]string, 0, len(req.Headers))
	for name := range req.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	merged := map[string][]string{}
	for _, name := range names {
		canonical := http.CanonicalHeaderKey(name)
		merged[canonical] = append(merged[canonical], req.Headers[name]...)
	}
	for name, values := range merged {
		if len(values) == 0 {
			continue
		}
		switch name {
		case "Content-Type":
			env[KeyContentType] = values[0]
		case "Content-Length":
			// taken from req.ContentLength below
		default:
			env[HeaderKey(name)] = strings.Join(values, ", ")
		}
	}
	if req.ContentLength != nil {
		env[KeyContentLength] = strconv.FormatInt(*req.ContentLength, 10)
	} else if req.Body != nil {
		env[KeyContentLength] = strconv.Itoa(len(req.Body))
	}
	return env
}
