package resolver

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"appbridge/internal/bridge"
	"appbridge/internal/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func namedApp(name string) bridge.Application {
	return bridge.ApplicationFunc(func(env bridge.Environ, start bridge.StartResponse) (bridge.BodyProducer, error) {
		start("200 OK", nil)
		return bridge.Chunks([]byte(name)), nil
	})
}

func body(t *testing.T, app bridge.Application) string {
	t.Helper()
	var status string
	p, err := app.Handle(bridge.Environ{}, func(s string, _ []bridge.Header) io.Writer {
		status = s
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "200 OK", status)
	chunk, err := p.Next()
	require.NoError(t, err)
	return string(chunk)
}

func writeActivation(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, filepath.FromSlash(shared.ActivationDescriptor))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return dir
}

func requireConfigError(t *testing.T, err error, kind string) *shared.ConfigurationError {
	t.Helper()
	var ce *shared.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, kind, ce.Kind)
	return ce
}

func TestParseReference(t *testing.T) {
	tests := []struct {
		ref       string
		namespace string
		callable  string
		ok        bool
	}{
		{"demo.hello", "demo", "hello", true},
		{" demo . hello ", "demo", "hello", true},
		{"demo", "", "", false},
		{"", "", "", false},
		{"a.b.c", "", "", false},
		{".hello", "", "", false},
		{"demo.", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			ns, callable, err := ParseReference(tt.ref)
			if !tt.ok {
				requireConfigError(t, err, shared.KindBadReference)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.namespace, ns)
			assert.Equal(t, tt.callable, callable)
		})
	}
}

func TestResolve_BadReferenceNeverTouchesRegistry(t *testing.T) {
	reg := NewRegistry()
	called := false
	require.NoError(t, reg.Register("a", "b", func() (bridge.Application, error) {
		called = true
		return namedApp("x"), nil
	}))

	for _, ref := range []string{"ab", "a.b.c"} {
		_, err := New(Config{Reference: ref}, reg, nil).Resolve()
		requireConfigError(t, err, shared.KindBadReference)
	}
	assert.False(t, called)
}

func TestResolve_BareNamespace(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterApplication("demo", "hello", namedApp("bare")))

	res, err := New(Config{Reference: "demo.hello"}, reg, nil).Resolve()
	require.NoError(t, err)
	assert.Equal(t, "demo", res.Namespace)
	assert.Equal(t, "hello", res.Callable)
	assert.Equal(t, "demo.hello", res.Reference)
	assert.False(t, res.Activated)
	assert.Equal(t, "bare", body(t, res.Application))
}

func TestResolve_SearchPathOrder(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterApplication("demo", "hello", namedApp("bare")))
	require.NoError(t, reg.RegisterApplication("site/demo", "hello", namedApp("site")))
	require.NoError(t, reg.RegisterApplication("vendor/demo", "hello", namedApp("vendor")))

	res, err := New(Config{Reference: "demo.hello", SearchPath: []string{"missing", "/vendor/", "site"}}, reg, nil).Resolve()
	require.NoError(t, err)
	assert.Equal(t, "vendor/demo", res.Namespace)
	assert.Equal(t, "vendor", body(t, res.Application))
}

func TestResolve_NoSuchNamespace(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterApplication("other", "hello", namedApp("x")))

	_, err := New(Config{Reference: "demo.hello", SearchPath: []string{"site"}}, reg, nil).Resolve()
	ce := requireConfigError(t, err, shared.KindNoSuchNamespace)
	assert.Equal(t, "demo.hello", ce.Reference)
	assert.Contains(t, ce.Error(), "site/demo")
	assert.Contains(t, ce.Error(), "demo")
}

func TestResolve_NoSuchCallable(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterApplication("site/demo", "other", namedApp("x")))
	require.NoError(t, reg.RegisterApplication("demo", "hello", namedApp("bare")))

	// the first namespace found decides, later candidates are not consulted
	_, err := New(Config{Reference: "demo.hello", SearchPath: []string{"site"}}, reg, nil).Resolve()
	requireConfigError(t, err, shared.KindNoSuchCallable)
}

func TestResolve_FactoryFailures(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("demo", "broken", func() (bridge.Application, error) {
		return nil, errors.New("missing dependency")
	}))
	require.NoError(t, reg.Register("demo", "empty", func() (bridge.Application, error) {
		return nil, nil
	}))

	_, err := New(Config{Reference: "demo.broken"}, reg, nil).Resolve()
	ce := requireConfigError(t, err, shared.KindFactoryFailed)
	assert.Contains(t, ce.Error(), "missing dependency")

	_, err = New(Config{Reference: "demo.empty"}, reg, nil).Resolve()
	requireConfigError(t, err, shared.KindFactoryFailed)
}

func TestResolve_Activation(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterApplication("demo", "hello", namedApp("bare")))
	require.NoError(t, reg.RegisterApplication("env/demo", "hello", namedApp("env")))

	envPath := writeActivation(t, `
search_path:
  - env
variables:
  VIRTUAL_ENV: /srv/env
  APP_MODE: test
`)

	res, err := New(Config{Reference: "demo.hello", EnvPath: envPath}, reg, nil).Resolve()
	require.NoError(t, err)
	assert.True(t, res.Activated)
	assert.Equal(t, "env/demo", res.Namespace)
	assert.Equal(t, map[string]string{"VIRTUAL_ENV": "/srv/env", "APP_MODE": "test"}, res.Variables)
	assert.Equal(t, "env", body(t, res.Application))
}

func TestResolve_MissingActivationIsNotAnError(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterApplication("demo", "hello", namedApp("bare")))

	res, err := New(Config{Reference: "demo.hello", EnvPath: t.TempDir()}, reg, nil).Resolve()
	require.NoError(t, err)
	assert.False(t, res.Activated)
	assert.Nil(t, res.Variables)
}

func TestLoadActivation_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"NotYAML", "search_path: [unterminated"},
		{"UnknownField", "search_paths:\n  - env\n"},
		{"WrongType", "variables: [a, b]\n"},
		{"EmptyRoot", "search_path:\n  - \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envPath := writeActivation(t, tt.content)

			_, found, err := LoadActivation(envPath)
			assert.True(t, found)
			requireConfigError(t, err, shared.KindMalformedActivate)

			reg := NewRegistry()
			require.NoError(t, reg.RegisterApplication("demo", "hello", namedApp("bare")))
			_, err = New(Config{Reference: "demo.hello", EnvPath: envPath}, reg, nil).Resolve()
			requireConfigError(t, err, shared.KindMalformedActivate)
		})
	}
}

func TestLoadActivation_EmptyFile(t *testing.T) {
	desc, found, err := LoadActivation(writeActivation(t, ""))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, desc.SearchPath)
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()
	app := namedApp("x")

	require.NoError(t, reg.RegisterApplication("demo", "hello", app))
	assert.ErrorIs(t, reg.RegisterApplication("demo", "hello", app), shared.ErrDuplicateEntry)
	assert.Error(t, reg.RegisterApplication("", "hello", app))
	assert.Error(t, reg.RegisterApplication("demo", "", app))
	assert.Error(t, reg.RegisterApplication("a.b", "hello", app))
	assert.Error(t, reg.RegisterApplication("demo", "a.b", app))
	assert.Error(t, reg.Register("demo", "nil", nil))

	require.NoError(t, reg.RegisterApplication("site/demo", "hello", app))
	assert.Equal(t, []string{"demo", "site/demo"}, reg.Namespaces())
}
