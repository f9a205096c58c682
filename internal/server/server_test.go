package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"camforge/internal/config"
	"camforge/internal/dispatch"
	"camforge/internal/export"
	"camforge/internal/photo"
	"camforge/internal/session"
	"camforge/internal/storage"
)

type stubDispatcher struct{}

func (stubDispatcher) SendVideo(ctx context.Context, req dispatch.VideoRequest) (dispatch.Result, error) {
	io.Copy(io.Discard, req.Video)
	return dispatch.Result{Body: []byte("mov"), ArtifactName: "Vid_Edited_1.mov"}, nil
}

func (stubDispatcher) SendLive(ctx context.Context, req dispatch.LiveRequest) (dispatch.Result, error) {
	io.Copy(io.Discard, req.Photo)
	io.Copy(io.Discard, req.Video)
	return dispatch.Result{Body: []byte("zip"), ArtifactName: "LivePhoto_1.zip"}, nil
}

type blockingProcessor struct {
	started chan struct{}
	release chan struct{}
}

func (p *blockingProcessor) Process(ctx context.Context, req export.Request) export.Result {
	close(p.started)
	<-p.release
	return export.Result{Request: req, Mode: req.Session.Mode()}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Server:   config.Server{Listen: "127.0.0.1:0"},
		Services: config.Services{VideoURL: "http://invalid/video", LiveURL: "http://invalid/live"},
		Export: config.Export{
			OutputDir:     filepath.Join(dir, "out"),
			JPEGQuality:   100,
			NormalizeTool: "imaging",
		},
		Defaults: config.Defaults{
			Make: "Apple", Model: "iPhone 17 Pro Max",
			Aperture: "1.78", Focal: "24", Focal35: "24", ISO: "100", Width: "4032",
		},
		Paths: config.Paths{
			DatabasePath: filepath.Join(dir, "test.db"),
			TempDir:      filepath.Join(dir, "tmp"),
		},
	}
}

// newTestServer builds the full stack behind an httptest server, with the
// given processor driving exports.
func newTestServer(t *testing.T, proc export.Processor) (*httptest.Server, *Server, *export.Runner) {
	t.Helper()
	cfg := testConfig(t)
	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner := export.New(context.Background(), proc, logger, store)
	t.Cleanup(runner.Stop)

	s := NewServer(cfg, store, runner, photo.NewManager(cfg.Export), logger)
	r := mux.NewRouter()
	s.setupRoutes(r)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts, s, runner
}

func realProcessor(t *testing.T, cfg *config.Config) export.Processor {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return export.NewRouter(logger, stubDispatcher{}, cfg.Export.OutputDir)
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeSnapshot(t *testing.T, resp *http.Response) session.Snapshot {
	t.Helper()
	defer resp.Body.Close()
	var snap session.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	return snap
}

func createSession(t *testing.T, base string) session.Snapshot {
	t.Helper()
	resp := postJSON(t, base+"/api/sessions", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session: status %d", resp.StatusCode)
	}
	return decodeSnapshot(t, resp)
}

func tinyJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4)), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func uploadFile(t *testing.T, url, field, filename string, content []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(content)
	mw.Close()

	resp, err := http.Post(url, mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestHealthz(t *testing.T) {
	ts, _, _ := newTestServer(t, &blockingProcessor{started: make(chan struct{}), release: make(chan struct{})})
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestPresets(t *testing.T) {
	ts, _, _ := newTestServer(t, &blockingProcessor{started: make(chan struct{}), release: make(chan struct{})})
	resp, err := http.Get(ts.URL + "/api/presets")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Devices     []map[string]any `json:"devices"`
		Resolutions []map[string]any `json:"resolutions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Devices) == 0 || len(body.Resolutions) == 0 {
		t.Errorf("empty catalogs: %d devices, %d resolutions", len(body.Devices), len(body.Resolutions))
	}
}

func TestSessionLifecycle(t *testing.T) {
	ts, _, _ := newTestServer(t, &blockingProcessor{started: make(chan struct{}), release: make(chan struct{})})

	snap := createSession(t, ts.URL)
	if snap.Mode != session.ModePhoto {
		t.Errorf("initial mode = %q", snap.Mode)
	}
	if snap.Fields.Make != "Apple" || snap.Fields.Aperture != "1.78" {
		t.Errorf("defaults not applied: %+v", snap.Fields)
	}

	base := ts.URL + "/api/sessions/" + snap.ID

	resp := postJSON(t, base+"/mode", map[string]string{"mode": "video"})
	got := decodeSnapshot(t, resp)
	if got.Mode != session.ModeVideo {
		t.Errorf("mode = %q", got.Mode)
	}

	resp = postJSON(t, base+"/mode", map[string]string{"mode": "slideshow"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad mode status = %d", resp.StatusCode)
	}
}

func TestApplyPreset(t *testing.T) {
	ts, _, _ := newTestServer(t, &blockingProcessor{started: make(chan struct{}), release: make(chan struct{})})
	snap := createSession(t, ts.URL)
	base := ts.URL + "/api/sessions/" + snap.ID

	resp := postJSON(t, base+"/preset", map[string]string{"device": "Huawei Mate 70 Pro", "resolution": "4K UHD"})
	got := decodeSnapshot(t, resp)
	if got.Fields.Make != "HUAWEI" || got.Fields.Aperture != "1.4" {
		t.Errorf("device preset not applied: %+v", got.Fields)
	}
	if got.Fields.Width != "3840" || got.Fields.Height != "2160" {
		t.Errorf("resolution preset not applied: %+v", got.Fields)
	}

	resp = postJSON(t, base+"/preset", map[string]string{"device": "Nokia 3310"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown device status = %d", resp.StatusCode)
	}
}

func TestUploadImage(t *testing.T) {
	ts, _, _ := newTestServer(t, &blockingProcessor{started: make(chan struct{}), release: make(chan struct{})})
	snap := createSession(t, ts.URL)
	url := ts.URL + "/api/sessions/" + snap.ID + "/files"

	resp := uploadFile(t, url, "image", "src.jpg", tinyJPEG(t))
	got := decodeSnapshot(t, resp)
	if !got.HasImage {
		t.Error("image slot empty after upload")
	}
}

func TestUploadImageDecodeError(t *testing.T) {
	ts, srv, _ := newTestServer(t, &blockingProcessor{started: make(chan struct{}), release: make(chan struct{})})
	snap := createSession(t, ts.URL)
	url := ts.URL + "/api/sessions/" + snap.ID + "/files"

	resp := uploadFile(t, url, "image", "broken.jpg", []byte("not an image"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d", resp.StatusCode)
	}
	var apiErr struct {
		Kind string `json:"kind"`
	}
	json.NewDecoder(resp.Body).Decode(&apiErr)
	if apiErr.Kind != "decode_error" {
		t.Errorf("kind = %q", apiErr.Kind)
	}

	sess, _ := srv.session(snap.ID)
	if img, _, _ := sess.Image(); img != nil {
		t.Error("slot not cleared after decode failure")
	}
}

func TestUploadUnsupportedExtension(t *testing.T) {
	ts, _, _ := newTestServer(t, &blockingProcessor{started: make(chan struct{}), release: make(chan struct{})})
	snap := createSession(t, ts.URL)
	url := ts.URL + "/api/sessions/" + snap.ID + "/files"

	resp := uploadFile(t, url, "image", "doc.pdf", []byte("%PDF"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestExportMissingInput(t *testing.T) {
	ts, _, _ := newTestServer(t, &blockingProcessor{started: make(chan struct{}), release: make(chan struct{})})
	snap := createSession(t, ts.URL)

	resp := postJSON(t, ts.URL+"/api/sessions/"+snap.ID+"/export", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d", resp.StatusCode)
	}
	var apiErr struct {
		Kind string `json:"kind"`
	}
	json.NewDecoder(resp.Body).Decode(&apiErr)
	if apiErr.Kind != "missing_input" {
		t.Errorf("kind = %q", apiErr.Kind)
	}
}

func TestExportPhoto(t *testing.T) {
	cfg := testConfig(t)
	ts, _, runner := newTestServer(t, realProcessor(t, cfg))

	results, unsub := runner.Subscribe()
	defer unsub()

	snap := createSession(t, ts.URL)
	base := ts.URL + "/api/sessions/" + snap.ID

	resp := uploadFile(t, base+"/files", "image", "src.jpg", tinyJPEG(t))
	resp.Body.Close()

	resp = postJSON(t, base+"/export", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var accepted struct {
		AttemptID string `json:"attempt_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		t.Fatal(err)
	}
	if accepted.AttemptID == "" {
		t.Fatal("no attempt id returned")
	}

	select {
	case res := <-results:
		if res.Error != nil {
			t.Fatalf("export failed: %v", res.Error)
		}
		if filepath.Ext(res.Artifact) != ".jpg" {
			t.Errorf("artifact = %q", res.Artifact)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no export result")
	}
}

func TestExportConflictWhileInFlight(t *testing.T) {
	proc := &blockingProcessor{started: make(chan struct{}), release: make(chan struct{})}
	ts, _, _ := newTestServer(t, proc)
	defer close(proc.release)

	snap := createSession(t, ts.URL)
	base := ts.URL + "/api/sessions/" + snap.ID

	resp := uploadFile(t, base+"/files", "image", "src.jpg", tinyJPEG(t))
	resp.Body.Close()

	resp = postJSON(t, base+"/export", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first export status = %d", resp.StatusCode)
	}
	<-proc.started

	resp = postJSON(t, base+"/export", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second export status = %d, want 409", resp.StatusCode)
	}
}

func TestExportsHistory(t *testing.T) {
	ts, srv, _ := newTestServer(t, &blockingProcessor{started: make(chan struct{}), release: make(chan struct{})})

	if err := srv.store.RecordQueued(storage.AttemptRecord{ID: "e1", Mode: "photo", Status: "queued"}); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(ts.URL + "/api/exports")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var recs []storage.AttemptRecord
	if err := json.NewDecoder(resp.Body).Decode(&recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].ID != "e1" {
		t.Errorf("records = %+v", recs)
	}
}

func TestSessionNotFound(t *testing.T) {
	ts, _, _ := newTestServer(t, &blockingProcessor{started: make(chan struct{}), release: make(chan struct{})})
	resp, err := http.Get(ts.URL + "/api/sessions/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestModeSwitchRemovesStagedUpload(t *testing.T) {
	ts, _, _ := newTestServer(t, &blockingProcessor{started: make(chan struct{}), release: make(chan struct{})})
	snap := createSession(t, ts.URL)
	base := ts.URL + "/api/sessions/" + snap.ID

	resp := postJSON(t, base+"/mode", map[string]string{"mode": "video"})
	resp.Body.Close()

	resp = uploadFile(t, base+"/files", "video", "clip.mov", []byte("raw video"))
	got := decodeSnapshot(t, resp)
	if got.VideoFile == "" {
		t.Fatal("video slot empty after upload")
	}
	if _, err := os.Stat(got.VideoFile); err != nil {
		t.Fatalf("staged file missing: %v", err)
	}

	resp = postJSON(t, base+"/mode", map[string]string{"mode": "photo"})
	resp.Body.Close()

	if _, err := os.Stat(got.VideoFile); !os.IsNotExist(err) {
		t.Errorf("staged file survived the mode switch: %v", err)
	}
}
