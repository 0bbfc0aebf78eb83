// Package apps holds the applications bundled with the bridge host. They are
// registered under the "demo" namespace.
package apps

import (
	"errors"

	"appbridge/internal/bridge"
	"appbridge/internal/multipart"
	"appbridge/internal/resolver"

	"go.uber.org/zap"
)

const Namespace = "demo"

type Deps struct {
	// Uploads receives file parts decoded by demo.upload.
	Uploads   multipart.SinkFactory
	Multipart multipart.Config
	Log       *zap.SugaredLogger
}

// Register adds every bundled application to reg.
func Register(reg *resolver.Registry, deps Deps) error {
	if deps.Log == nil {
		deps.Log = zap.NewNop().Sugar()
	}
	return errors.Join(
		reg.RegisterApplication(Namespace, "hello", Hello()),
		reg.RegisterApplication(Namespace, "environ", Environ()),
		reg.Register(Namespace, "upload", func() (bridge.Application, error) {
			if deps.Uploads == nil {
				return nil, errors.New("upload application needs an upload store")
			}
			return NewUpload(deps.Uploads, deps.Multipart, deps.Log), nil
		}),
	)
}

func textHeaders() []bridge.Header {
	return []bridge.Header{{Name: "Content-Type", Value: "text/plain; charset=utf-8"}}
}
