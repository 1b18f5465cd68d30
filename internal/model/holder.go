package model

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

// Info describes the loaded predictor.
type Info struct {
	Loaded   bool      `json:"loaded"`
	Name     string    `json:"name,omitempty"`
	Version  string    `json:"version,omitempty"`
	Kind     string    `json:"kind,omitempty"`
	Path     string    `json:"path,omitempty"`
	LoadedAt time.Time `json:"loadedAt,omitempty"`
}

type loaded struct {
	predictor domain.Predictor
	info      Info
}

// Holder serves the current predictor and swaps it on reload.
// Readers never block; a reload replaces the whole predictor at once.
type Holder struct {
	path    string
	current atomic.Pointer[loaded]
}

// NewHolder creates an empty holder bound to an artifact path.
func NewHolder(path string) *Holder {
	return &Holder{path: path}
}

// Load reads the artifact at the holder's path and installs it.
// On failure the previously loaded predictor stays in place.
func (h *Holder) Load() error {
	if h.path == "" {
		return fmt.Errorf("no model artifact path configured")
	}

	a, err := ReadArtifact(h.path)
	if err != nil {
		return err
	}
	p, err := Build(a)
	if err != nil {
		return fmt.Errorf("failed to build model %s: %w", h.path, err)
	}

	kind := a.Kind
	if kind == "" {
		kind = KindLinear
	}
	h.current.Store(&loaded{
		predictor: p,
		info: Info{
			Loaded:   true,
			Name:     a.Name,
			Version:  a.Version,
			Kind:     kind,
			Path:     h.path,
			LoadedAt: time.Now().UTC(),
		},
	})
	return nil
}

// Set installs a predictor directly.
func (h *Holder) Set(p domain.Predictor, name string) {
	h.current.Store(&loaded{
		predictor: p,
		info:      Info{Loaded: true, Name: name, Kind: "custom", LoadedAt: time.Now().UTC()},
	})
}

// Predict implements domain.Predictor using the current model.
func (h *Holder) Predict(ctx context.Context, row domain.FeatureRow) (float64, error) {
	cur := h.current.Load()
	if cur == nil {
		return 0, ErrNoModel
	}
	return cur.predictor.Predict(ctx, row)
}

// Loaded reports whether a predictor is installed.
func (h *Holder) Loaded() bool {
	return h.current.Load() != nil
}

// Info returns metadata of the current predictor.
func (h *Holder) Info() Info {
	cur := h.current.Load()
	if cur == nil {
		return Info{Path: h.path}
	}
	return cur.info
}
