// Package cli implements the camforge command tree. The one-shot commands
// (photo, video, live) build a session, attach the inputs and run a single
// export attempt to completion.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"camforge/internal/config"
	"camforge/internal/dispatch"
	"camforge/internal/export"
	"camforge/internal/meta"
	"camforge/internal/photo"
	"camforge/internal/preset"
	"camforge/internal/session"
	"camforge/internal/storage"
)

// Root wires CLI commands to the export machinery.
type Root struct {
	cfg *config.Config
	log *slog.Logger

	// Injection points so tests can run exports without live services.
	newDispatcher func(config.Services, *slog.Logger) export.Dispatcher
	newNormalizer func(config.Export) *photo.Manager
}

// NewRoot constructs the command wiring.
func NewRoot(cfg *config.Config, logger *slog.Logger) *Root {
	return &Root{
		cfg: cfg,
		log: logger,
		newDispatcher: func(svc config.Services, log *slog.Logger) export.Dispatcher {
			return dispatch.NewClient(svc, log)
		},
		newNormalizer: photo.NewManager,
	}
}

// defaultFields seeds a session from the configured default device.
func (r *Root) defaultFields() meta.Input {
	d := r.cfg.Defaults
	return meta.Input{
		Make:      d.Make,
		Model:     d.Model,
		CaptureAt: time.Now().Format(meta.CaptureTimeLayout),
		Aperture:  d.Aperture,
		FocalMm:   d.Focal,
		Focal35Mm: d.Focal35,
		ISO:       d.ISO,
		Width:     d.Width,
	}
}

// watchDefaults is defaultFields with the capture time left empty, so the
// watcher stamps each dropped file with its own modification time instead.
func (r *Root) watchDefaults() meta.Input {
	in := r.defaultFields()
	in.CaptureAt = ""
	return in
}

// metaFlags holds the per-command metadata overrides.
type metaFlags struct {
	device     string
	resolution string

	make_    string
	model    string
	date     string
	aperture string
	focal    string
	focal35  string
	iso      string
	width    string
	height   string
}

// apply layers presets and explicit overrides onto the session, in that
// order, matching the upload surface.
func (f *metaFlags) apply(sess *session.Session) error {
	if f.device != "" {
		d, ok := preset.DeviceByName(f.device)
		if !ok {
			return fmt.Errorf("unknown device preset %q", f.device)
		}
		sess.ApplyDevice(d)
	}
	if f.resolution != "" {
		res, ok := preset.ResolutionByName(f.resolution)
		if !ok {
			return fmt.Errorf("unknown resolution preset %q", f.resolution)
		}
		sess.ApplyResolution(res)
	}

	in := sess.Fields()
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&in.Make, f.make_)
	override(&in.Model, f.model)
	override(&in.CaptureAt, f.date)
	override(&in.Aperture, f.aperture)
	override(&in.FocalMm, f.focal)
	override(&in.Focal35Mm, f.focal35)
	override(&in.ISO, f.iso)
	override(&in.Width, f.width)
	override(&in.Height, f.height)
	sess.SetFields(in)
	return nil
}

func isImagePath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".heic", ".heif", ".webp":
		return true
	default:
		return false
	}
}

func isVideoPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".mov":
		return true
	default:
		return false
	}
}

// attachImage normalizes the still and loads it into the session.
func (r *Root) attachImage(ctx context.Context, sess *session.Session, path string) error {
	if !isImagePath(path) {
		return fmt.Errorf("%s: not a supported image type", path)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	norm, err := r.newNormalizer(r.cfg.Export).Normalize(ctx, src)
	if err != nil {
		return err
	}
	sess.SetImage(norm.JPEG, norm.Width, norm.Height)
	return nil
}

func (r *Root) attachLivePhoto(sess *session.Session, path string) error {
	if !isImagePath(path) {
		return fmt.Errorf("%s: not a supported image type", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	sess.SetPhotoFile(abs)
	return nil
}

func (r *Root) attachVideo(sess *session.Session, path string) error {
	if !isVideoPath(path) {
		return fmt.Errorf("%s: not a supported video type", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	sess.SetVideoFile(abs)
	return nil
}

// runExport executes one attempt over sess and blocks for its result.
func (r *Root) runExport(ctx context.Context, out io.Writer, sess *session.Session, outputDir string) error {
	if outputDir == "" {
		outputDir = r.cfg.Export.OutputDir
	}

	store, err := storage.New(r.cfg.Paths.DatabasePath)
	if err != nil {
		r.log.Warn("export history unavailable", "error", err)
		store = nil
	} else {
		defer store.Close()
	}

	client := r.newDispatcher(r.cfg.Services, r.log)
	runner := export.New(ctx, export.NewRouter(r.log, client, outputDir), r.log, store)
	defer runner.Stop()

	results, unsub := runner.Subscribe()
	defer unsub()

	req := export.Request{ID: newID(string(sess.Mode())), Session: sess}
	for {
		err := runner.Submit(req)
		if err == nil {
			break
		}
		if !errors.Is(err, export.ErrExportInFlight) {
			return err
		}
		// The worker may not have scheduled yet right after New.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-results:
			if !ok {
				return fmt.Errorf("export runner stopped before completion")
			}
			if res.Request.ID != req.ID {
				continue
			}
			if res.Error != nil {
				return res.Error
			}
			fmt.Fprintln(out, res.Artifact)
			return nil
		}
	}
}

func newID(prefix string) string {
	ts := time.Now().UTC().Format("20060102T150405")
	return fmt.Sprintf("%s-%s-%04d", prefix, ts, rand.Intn(10000))
}
