package apps

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	stdmultipart "mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"appbridge/internal/bridge"
	"appbridge/internal/multipart"
	"appbridge/internal/resolver"
	"appbridge/internal/shared"
	"appbridge/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolve(t *testing.T, deps Deps, reference string) (*bridge.Bridge, *bytes.Buffer) {
	t.Helper()
	reg := resolver.NewRegistry()
	require.NoError(t, Register(reg, deps))
	res, err := resolver.New(resolver.Config{Reference: reference}, reg, nil).Resolve()
	require.NoError(t, err)
	var sink bytes.Buffer
	return bridge.New(res.Application, bridge.Config{ErrorSink: &sink}), &sink
}

func TestHello(t *testing.T) {
	b, _ := resolve(t, Deps{}, "demo.hello")

	resp := b.Invoke(context.Background(), bridge.HostRequest{Method: "GET", Path: "/", QueryString: "name=Ada"})
	assert.Equal(t, "200 OK", resp.Status)
	assert.Equal(t, "Hello, Ada!\n", string(resp.Body))

	resp = b.Invoke(context.Background(), bridge.HostRequest{Method: "GET", Path: "/"})
	assert.Equal(t, "Hello, world!\n", string(resp.Body))

	resp = b.Invoke(context.Background(), bridge.HostRequest{Method: "GET", Path: "/", QueryString: "name=%zz"})
	assert.Equal(t, 400, resp.StatusCode())
	assert.False(t, resp.Failed)
}

func TestEnviron(t *testing.T) {
	b, _ := resolve(t, Deps{}, "demo.environ")

	resp := b.Invoke(context.Background(), bridge.HostRequest{
		Method:    "POST",
		Path:      "/env",
		Body:      []byte("xyz"),
		RequestID: "req_env",
	})
	require.False(t, resp.Failed)

	body := string(resp.Body)
	assert.Contains(t, body, "REQUEST_METHOD=POST\n")
	assert.Contains(t, body, "PATH_INFO=/env\n")
	assert.Contains(t, body, "bridge.content=<3 bytes>\n")
	assert.Contains(t, body, "bridge.request_id=req_env\n")
	assert.Contains(t, body, "bridge.version=[1 0]\n")
	assert.Less(t, strings.Index(body, "CONTENT_LENGTH"), strings.Index(body, "REQUEST_METHOD"), "keys are sorted")
}

func uploadRequest(t *testing.T, fill func(w *stdmultipart.Writer)) bridge.HostRequest {
	t.Helper()
	var buf bytes.Buffer
	w := stdmultipart.NewWriter(&buf)
	fill(w)
	require.NoError(t, w.Close())
	return bridge.HostRequest{
		Method:  "POST",
		Path:    "/upload",
		Headers: map[string][]string{"Content-Type": {w.FormDataContentType()}},
		Body:    buf.Bytes(),
	}
}

func TestUpload(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewFileStore(dir, storage.OriginalNames(), nil)
	require.NoError(t, err)
	b, _ := resolve(t, Deps{Uploads: store}, "demo.upload")

	req := uploadRequest(t, func(w *stdmultipart.Writer) {
		require.NoError(t, w.WriteField("caption", "sunset"))
		fw, err := w.CreateFormFile("photo", "sunset.jpg")
		require.NoError(t, err)
		_, err = fw.Write([]byte("jpeg bytes"))
		require.NoError(t, err)
	})

	resp := b.Invoke(context.Background(), req)
	require.False(t, resp.Failed, string(resp.Body))
	assert.Equal(t, "200 OK", resp.Status)
	assert.Equal(t, "application/json", resp.Header("Content-Type"))

	var out struct {
		Parts []uploadedPart `json:"parts"`
	}
	require.NoError(t, json.Unmarshal(resp.Body, &out))
	require.Len(t, out.Parts, 2)
	assert.Equal(t, uploadedPart{Name: "caption", ContentType: shared.DefaultContentType, Size: 6, Value: "sunset"}, out.Parts[0])
	assert.Equal(t, uploadedPart{
		Name:        "photo",
		Filename:    "sunset.jpg",
		ContentType: "application/octet-stream",
		Size:        10,
		Location:    filepath.Join(dir, "sunset.jpg"),
	}, out.Parts[1])

	data, err := os.ReadFile(filepath.Join(dir, "sunset.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))
}

func TestUpload_MalformedBody(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewFileStore(dir, storage.RandomNames(), nil)
	require.NoError(t, err)
	b, sink := resolve(t, Deps{Uploads: store}, "demo.upload")

	body := "--b\r\nContent-Disposition: form-data; name=\"f\"; filename=\"f.bin\"\r\n\r\nhalf a fi"
	resp := b.Invoke(context.Background(), bridge.HostRequest{
		Method:    "POST",
		Path:      "/upload",
		Headers:   map[string][]string{"Content-Type": {"multipart/form-data; boundary=b"}},
		Body:      []byte(body),
		RequestID: "req_bad",
	})

	assert.False(t, resp.Failed, "decode errors are answered by the application")
	assert.Equal(t, 400, resp.StatusCode())
	assert.Contains(t, string(resp.Body), "multipart part 1")
	assert.Contains(t, sink.String(), "req_bad")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUpload_MissingBoundary(t *testing.T) {
	store := multipart.SinkFactoryFunc(func(context.Context, multipart.PartInfo) (multipart.Sink, error) {
		t.Fatal("no sink expected")
		return nil, nil
	})
	b, _ := resolve(t, Deps{Uploads: store}, "demo.upload")

	resp := b.Invoke(context.Background(), bridge.HostRequest{
		Method:  "POST",
		Path:    "/upload",
		Headers: map[string][]string{"Content-Type": {"text/plain"}},
		Body:    []byte("hello"),
	})
	assert.Equal(t, 400, resp.StatusCode())
	assert.Contains(t, string(resp.Body), "multipart body")
}

func TestUpload_WrongMethod(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir(), nil, nil)
	require.NoError(t, err)
	b, _ := resolve(t, Deps{Uploads: store}, "demo.upload")

	resp := b.Invoke(context.Background(), bridge.HostRequest{Method: "GET", Path: "/upload"})
	assert.Equal(t, 405, resp.StatusCode())
	assert.Equal(t, "POST", resp.Header("Allow"))
}

func TestUpload_RequiresStore(t *testing.T) {
	reg := resolver.NewRegistry()
	require.NoError(t, Register(reg, Deps{}))

	_, err := resolver.New(resolver.Config{Reference: "demo.upload"}, reg, nil).Resolve()
	var ce *shared.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, shared.KindFactoryFailed, ce.Kind)
}

type requestKey struct{}

func TestUpload_SinksSeeRequestContext(t *testing.T) {
	var seen []any
	store := multipart.SinkFactoryFunc(func(ctx context.Context, info multipart.PartInfo) (multipart.Sink, error) {
		seen = append(seen, ctx.Value(requestKey{}))
		return nil, errors.New("store offline")
	})
	b, _ := resolve(t, Deps{Uploads: store}, "demo.upload")

	req := uploadRequest(t, func(w *stdmultipart.Writer) {
		fw, err := w.CreateFormFile("photo", "p.jpg")
		require.NoError(t, err)
		_, err = fw.Write([]byte("bytes"))
		require.NoError(t, err)
	})
	ctx := context.WithValue(context.Background(), requestKey{}, "req_ctx")

	resp := b.Invoke(ctx, req)
	assert.Equal(t, 400, resp.StatusCode())
	assert.Contains(t, string(resp.Body), "store offline")
	assert.Equal(t, []any{"req_ctx"}, seen)
}
