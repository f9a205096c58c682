// Package photo implements the local still pipeline: normalizing an input
// image to a clean baseline JPEG and splicing the forged metadata block into
// it. Normalization strips everything the source carried, so the only
// metadata in an output is what the embed step wrote.
package photo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"camforge/internal/config"
	"camforge/internal/logging"
)

// DecodeError reports a source image the active tool could not read.
type DecodeError struct {
	Tool string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode (%s): %v", e.Tool, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Normalized is a flattened, metadata-free baseline JPEG.
type Normalized struct {
	JPEG   []byte
	Width  int
	Height int
}

// Normalizer is one tool able to flatten and re-encode a source image.
type Normalizer interface {
	Name() string
	IsAvailable() bool
	Normalize(ctx context.Context, src []byte, quality int) (Normalized, error)
}

// Manager selects between the registered normalizers, preferring the
// configured tool and walking the fallback list when it is unavailable.
type Manager struct {
	tools     map[string]Normalizer
	preferred string
	fallbacks []string
	quality   int
}

// NewManager registers the built-in tools from config.
func NewManager(cfg config.Export) *Manager {
	m := &Manager{
		tools:     make(map[string]Normalizer),
		preferred: cfg.NormalizeTool,
		fallbacks: cfg.Fallbacks,
		quality:   cfg.JPEGQuality,
	}
	m.Register(&ImagingNormalizer{})
	m.Register(&ImagickNormalizer{})
	return m
}

// Register adds a tool by its Name().
func (m *Manager) Register(n Normalizer) {
	if n == nil {
		return
	}
	m.tools[n.Name()] = n
}

// Best returns the preferred tool when available, else the first available
// fallback.
func (m *Manager) Best() Normalizer {
	if n, ok := m.tools[m.preferred]; ok && n.IsAvailable() {
		return n
	}
	for _, name := range m.fallbacks {
		if n, ok := m.tools[name]; ok && n.IsAvailable() {
			return n
		}
	}
	return nil
}

// Normalize runs src through the preferred tool, falling back in order when
// a tool is unavailable or fails to decode. All tools failing yields a
// DecodeError so the caller clears the slot for a retry.
func (m *Manager) Normalize(ctx context.Context, src []byte) (Normalized, error) {
	order := append([]string{m.preferred}, m.fallbacks...)

	var errs []string
	for _, name := range order {
		n, ok := m.tools[name]
		if !ok || !n.IsAvailable() {
			errs = append(errs, fmt.Sprintf("%s not available", name))
			continue
		}
		out, err := n.Normalize(ctx, src, m.quality)
		if err == nil {
			return out, nil
		}
		errs = append(errs, fmt.Sprintf("%s failed: %v", name, err))
	}
	return Normalized{}, &DecodeError{
		Tool: m.preferred,
		Err:  fmt.Errorf("all normalizers failed:\n  %s", strings.Join(errs, "\n  ")),
	}
}

// DetectAvailable probes every registered tool, logging each one's status,
// and returns the names of the usable ones.
func (m *Manager) DetectAvailable(logger *slog.Logger) []string {
	var available []string
	for name, n := range m.tools {
		ok := n.IsAvailable()
		logging.LogToolStatus(logger, name, ok, nil)
		if ok {
			available = append(available, name)
		}
	}
	return available
}
