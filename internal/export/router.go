package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"camforge/internal/dispatch"
	"camforge/internal/meta"
	"camforge/internal/photo"
	"camforge/internal/session"
)

// Dispatcher is the remote-service surface the router needs.
type Dispatcher interface {
	SendVideo(ctx context.Context, req dispatch.VideoRequest) (dispatch.Result, error)
	SendLive(ctx context.Context, req dispatch.LiveRequest) (dispatch.Result, error)
}

// router implements Processor and dispatches an attempt by the session's
// active mode.
type router struct {
	log        *slog.Logger
	client     Dispatcher
	outputDir  string
	newAssetID func() string
	now        func() time.Time
}

// NewRouter wires the mode handlers.
func NewRouter(logger *slog.Logger, client Dispatcher, outputDir string) Processor {
	return &router{
		log:        logger,
		client:     client,
		outputDir:  outputDir,
		newAssetID: meta.NewAssetID,
		now:        time.Now,
	}
}

func (r *router) Process(ctx context.Context, req Request) Result {
	sess := req.Session
	res := Result{Request: req, Mode: sess.Mode()}

	// The validation gate runs first; nothing below it executes on a
	// missing input.
	if err := sess.Validate(); err != nil {
		res.Error = err
		return res
	}

	switch sess.Mode() {
	case session.ModePhoto:
		res.Artifact, res.Error = r.exportPhoto(sess)
	case session.ModeVideo:
		res.Artifact, res.Error = r.exportVideo(ctx, sess)
	case session.ModeLive:
		res.AssetID = r.newAssetID()
		res.Artifact, res.Error = r.exportLive(ctx, sess, res.AssetID)
	default:
		res.Error = fmt.Errorf("unknown mode: %s", sess.Mode())
	}

	if res.Error == nil {
		sess.SetArtifact(res.Artifact)
		sess.CleanupStaged()
	}
	return res
}

// exportPhoto runs entirely locally: derive, build the tag set, splice it
// into the normalized still.
func (r *router) exportPhoto(sess *session.Session) (string, error) {
	in := sess.Fields()
	img, w, h := sess.Image()
	// A resolution preset pins both dimensions; without one the staged
	// still's own dimensions are what gets embedded.
	if in.Height == "" && w > 0 {
		in.Width = strconv.Itoa(w)
		in.Height = strconv.Itoa(h)
	}
	fields, err := meta.Derive(in)
	if err != nil {
		return "", err
	}

	out, err := photo.EmbedTags(img, meta.BuildTagSet(fields))
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("IMG_%s.jpg", r.now().Format("20060102T150405"))
	return r.save(name, out)
}

func (r *router) exportVideo(ctx context.Context, sess *session.Session) (string, error) {
	fields, err := meta.DeriveIdentity(sess.Fields())
	if err != nil {
		return "", err
	}

	f, err := os.Open(sess.VideoFile())
	if err != nil {
		return "", fmt.Errorf("open video: %w", err)
	}
	defer f.Close()

	res, err := r.client.SendVideo(ctx, dispatch.VideoRequest{
		Video:    f,
		Filename: filepath.Base(sess.VideoFile()),
		Fields:   fields,
	})
	if err != nil {
		return "", err
	}
	return r.save(res.ArtifactName, res.Body)
}

func (r *router) exportLive(ctx context.Context, sess *session.Session, assetID string) (string, error) {
	fields, err := meta.Derive(sess.Fields())
	if err != nil {
		return "", err
	}

	pf, err := os.Open(sess.PhotoFile())
	if err != nil {
		return "", fmt.Errorf("open photo: %w", err)
	}
	defer pf.Close()
	vf, err := os.Open(sess.VideoFile())
	if err != nil {
		return "", fmt.Errorf("open video: %w", err)
	}
	defer vf.Close()

	res, err := r.client.SendLive(ctx, dispatch.LiveRequest{
		Photo:     pf,
		PhotoName: filepath.Base(sess.PhotoFile()),
		Video:     vf,
		VideoName: filepath.Base(sess.VideoFile()),
		Fields:    fields,
		AssetID:   assetID,
	})
	if err != nil {
		return "", err
	}
	return r.save(res.ArtifactName, res.Body)
}

func (r *router) save(name string, data []byte) (string, error) {
	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(r.outputDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
