package resolver

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"appbridge/internal/shared"

	"gopkg.in/yaml.v3"
)

// Activation is the descriptor found at <env>/bridge/activate.yaml.
type Activation struct {
	SearchPath []string          `yaml:"search_path"`
	Variables  map[string]string `yaml:"variables"`
}

// LoadActivation reads the activation descriptor of an isolated environment.
// A missing descriptor is reported with found=false and no error.
func LoadActivation(envPath string) (desc *Activation, found bool, err error) {
	path := filepath.Join(envPath, filepath.FromSlash(shared.ActivationDescriptor))
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, true, malformed(path, err)
	}

	desc = &Activation{}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(desc); err != nil && !errors.Is(err, io.EOF) {
		return nil, true, malformed(path, err)
	}
	for i, root := range desc.SearchPath {
		if root == "" {
			return nil, true, malformed(path, fmt.Errorf("search_path[%d] is empty", i))
		}
	}
	for k := range desc.Variables {
		if k == "" {
			return nil, true, malformed(path, errors.New("empty variable name"))
		}
	}
	return desc, true, nil
}

func malformed(path string, err error) error {
	return &shared.ConfigurationError{Kind: shared.KindMalformedActivate, Reference: path, Err: err}
}
