// Package dispatch talks to the two remote processing services. Each export
// attempt makes exactly one call, with no retry and no client-imposed
// timeout; video work can legitimately take minutes.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"camforge/internal/config"
	"camforge/internal/meta"
)

// RemoteError is a non-2xx reply from a service.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote service: %s (status %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("remote service returned status %d", e.Status)
}

// TransportError is a connection-level failure before any HTTP status was
// received. Its text is deliberately generic; the wrapped cause stays
// available for logs.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "service unreachable, try again later" }

func (e *TransportError) Unwrap() error { return e.Err }

// Client sends export payloads to the configured endpoints.
type Client struct {
	videoURL string
	liveURL  string
	http     *http.Client
	logger   *slog.Logger
}

// NewClient builds a Client from the services section of the config.
func NewClient(cfg config.Services, logger *slog.Logger) *Client {
	return &Client{
		videoURL: cfg.VideoURL,
		liveURL:  cfg.LiveURL,
		http:     &http.Client{},
		logger:   logger,
	}
}

// VideoRequest is the payload of the video leg.
type VideoRequest struct {
	Video    io.Reader
	Filename string
	Fields   meta.Fields // identity subset: make, model, capture time
}

// LiveRequest is the payload of the live leg.
type LiveRequest struct {
	Photo     io.Reader
	PhotoName string
	Video     io.Reader
	VideoName string
	Fields    meta.Fields
	AssetID   string
}

// Result carries a service reply body and the name its artifact should be
// saved under.
type Result struct {
	Body         []byte
	ArtifactName string
}

type part struct {
	field, value string
}

// SendVideo posts the video and identity fields to the video service. A 2xx
// body is the rewritten clip, named by the moment of completion.
func (c *Client) SendVideo(ctx context.Context, req VideoRequest) (Result, error) {
	parts := []part{
		{"make", req.Fields.Make},
		{"model", req.Fields.Model},
		{"date", meta.WireTimestamp(req.Fields.CaptureAt)},
	}
	files := []filePart{{"file", req.Filename, req.Video}}

	body, err := c.post(ctx, c.videoURL, parts, files, false)
	if err != nil {
		return Result{}, err
	}
	name := fmt.Sprintf("Vid_Edited_%d.mov", time.Now().UnixMilli())
	return Result{Body: body, ArtifactName: name}, nil
}

// SendLive posts the photo/video pair under one asset id. The identity
// fields ride along even though the service cannot rewrite them in the
// video leg of the pair. A 2xx body is a zip of the bound pair.
func (c *Client) SendLive(ctx context.Context, req LiveRequest) (Result, error) {
	f := req.Fields
	parts := []part{
		{"make", f.Make},
		{"model", f.Model},
		{"date", meta.WireTimestamp(f.CaptureAt)},
		{"asset_id", req.AssetID},
		{"aperture", meta.FormatNumber(f.Aperture)},
		{"focal", meta.FormatNumber(f.FocalMm)},
		{"focal35", strconv.Itoa(f.Focal35Mm)},
		{"iso", strconv.Itoa(f.ISO)},
		{"lens", f.Lens},
		{"width", strconv.Itoa(f.Width)},
		{"height", strconv.Itoa(f.Height)},
	}
	files := []filePart{
		{"photo", req.PhotoName, req.Photo},
		{"video", req.VideoName, req.Video},
	}

	body, err := c.post(ctx, c.liveURL, parts, files, true)
	if err != nil {
		return Result{}, err
	}
	short := req.AssetID
	if len(short) > 8 {
		short = short[:8]
	}
	return Result{Body: body, ArtifactName: fmt.Sprintf("LivePhoto_%s.zip", short)}, nil
}

type filePart struct {
	field, filename string
	r               io.Reader
}

// post streams a multipart form through a pipe so large videos never sit in
// memory twice.
func (c *Client) post(ctx context.Context, url string, fields []part, files []filePart, jsonErrors bool) ([]byte, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeForm(mw, fields, files)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		if c.logger != nil {
			c.logger.Error("dispatch failed", "url", url, "error", err)
		}
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, remoteError(resp, jsonErrors)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	return body, nil
}

func writeForm(mw *multipart.Writer, fields []part, files []filePart) error {
	for _, p := range fields {
		if err := mw.WriteField(p.field, p.value); err != nil {
			return err
		}
	}
	for _, f := range files {
		w, err := mw.CreateFormFile(f.field, f.filename)
		if err != nil {
			return err
		}
		if _, err := io.Copy(w, f.r); err != nil {
			return err
		}
	}
	return nil
}

// remoteError reads the failure reply. Only the live service documents a
// JSON {"error": ...} body; anything unparseable falls back to the bare
// status.
func remoteError(resp *http.Response, jsonErrors bool) error {
	re := &RemoteError{Status: resp.StatusCode}
	if !jsonErrors {
		return re
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return re
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		re.Message = payload.Error
	}
	return re
}
