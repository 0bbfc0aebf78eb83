package apps

import (
	"encoding/json"
	"errors"
	"fmt"

	"appbridge/internal/bridge"
	"appbridge/internal/metrics"
	"appbridge/internal/multipart"
	"appbridge/internal/shared"

	"go.uber.org/zap"
)

type uploadedPart struct {
	Name        string `json:"name"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Location    string `json:"location,omitempty"`
	Value       string `json:"value,omitempty"`
}

// Upload decodes multipart/form-data bodies, writing file parts to an upload
// store, and answers with a JSON listing of the parts.
type Upload struct {
	cfg multipart.Config
	log *zap.SugaredLogger
}

func NewUpload(sinks multipart.SinkFactory, cfg multipart.Config, log *zap.SugaredLogger) *Upload {
	cfg.Sinks = sinks
	return &Upload{cfg: cfg, log: log}
}

func (u *Upload) Handle(env bridge.Environ, start bridge.StartResponse) (bridge.BodyProducer, error) {
	if env.Method() != "POST" {
		start("405 Method Not Allowed", append(textHeaders(), bridge.Header{Name: "Allow", Value: "POST"}))
		return bridge.Chunks([]byte("use POST with a multipart/form-data body\n")), nil
	}

	parts, err := env.Multipart(env.Context(), u.cfg)
	if err != nil {
		var de *shared.DecodeError
		if !errors.As(err, &de) {
			return nil, err
		}
		metrics.DecodeErrors.WithLabelValues(Namespace + ".upload").Inc()
		fmt.Fprintf(env.Errors(), "[%s] %s\n", env.RequestID(), de.Error())
		u.log.Warnw("Rejected multipart body", "request_id", env.RequestID(), "error", de.Summary())
		start("400 Bad Request", textHeaders())
		return bridge.Chunks([]byte(de.Summary() + "\n")), nil
	}

	out := make([]uploadedPart, 0, len(parts))
	for _, p := range parts {
		up := uploadedPart{Name: p.Name, ContentType: p.ContentType}
		if p.File {
			up.Filename = p.Filename
			up.Size = p.Size
			up.Location = p.Location
		} else {
			up.Size = int64(len(p.Value))
			up.Value = p.Text()
		}
		out = append(out, up)
	}
	body, err := json.Marshal(map[string]any{"parts": out})
	if err != nil {
		return nil, err
	}
	start("200 OK", []bridge.Header{{Name: "Content-Type", Value: "application/json"}})
	return bridge.Chunks(body, []byte("\n")), nil
}
