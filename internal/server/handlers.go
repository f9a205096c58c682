package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"camforge/internal/dispatch"
	"camforge/internal/export"
	"camforge/internal/meta"
	"camforge/internal/photo"
	"camforge/internal/preset"
	"camforge/internal/session"
)

// maxUploadBytes bounds a single multipart upload; videos dominate.
const maxUploadBytes = 2 << 30

var (
	imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".heic": true, ".heif": true, ".webp": true}
	videoExts = map[string]bool{".mp4": true, ".mov": true}
)

func newID(prefix string) string {
	ts := time.Now().UTC().Format("20060102T150405")
	return fmt.Sprintf("%s-%s-%04d", prefix, ts, rand.Intn(10000))
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"devices":     preset.Devices(),
		"resolutions": preset.Resolutions(),
	})
}

func (s *Server) handleExports(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentAttempts(100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := session.New(newID("sess"), s.defaultFields())
	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no such session")
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no such session")
		return
	}
	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	mode, err := session.ParseMode(body.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	sess.SetMode(mode)
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleSetFields(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no such session")
		return
	}
	var in meta.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	sess.SetFields(in)
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleApplyPreset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no such session")
		return
	}
	var body struct {
		Device     string `json:"device,omitempty"`
		Resolution string `json:"resolution,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if body.Device != "" {
		d, ok := preset.DeviceByName(body.Device)
		if !ok {
			writeError(w, http.StatusBadRequest, "bad_request", "unknown device preset")
			return
		}
		sess.ApplyDevice(d)
	}
	if body.Resolution != "" {
		res, ok := preset.ResolutionByName(body.Resolution)
		if !ok {
			writeError(w, http.StatusBadRequest, "bad_request", "unknown resolution preset")
			return
		}
		sess.ApplyResolution(res)
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// handleUpload stages files into the session's active-mode slots. Photo-mode
// stills are normalized immediately so a decode failure surfaces here, with
// the slot left empty for a retry.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no such session")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid multipart form")
		return
	}

	switch sess.Mode() {
	case session.ModePhoto:
		if err := s.stageImage(r, sess); err != nil {
			s.uploadError(w, err)
			return
		}
	case session.ModeVideo:
		if err := s.stageFile(r, sess, "video", videoExts, sess.StageVideoFile); err != nil {
			s.uploadError(w, err)
			return
		}
	case session.ModeLive:
		staged := 0
		for _, slot := range []struct {
			field string
			exts  map[string]bool
			set   func(string)
		}{
			{"photo", imageExts, sess.StagePhotoFile},
			{"video", videoExts, sess.StageVideoFile},
		} {
			if len(r.MultipartForm.File[slot.field]) == 0 {
				continue
			}
			if err := s.stageFile(r, sess, slot.field, slot.exts, slot.set); err != nil {
				s.uploadError(w, err)
				return
			}
			staged++
		}
		if staged == 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "expected a photo and/or video part")
			return
		}
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

var errUnsupportedExt = errors.New("unsupported file extension")

func (s *Server) stageImage(r *http.Request, sess *session.Session) error {
	f, hdr, err := r.FormFile("image")
	if err != nil {
		return fmt.Errorf("expected an image part: %w", err)
	}
	defer f.Close()
	if !imageExts[strings.ToLower(filepath.Ext(hdr.Filename))] {
		return errUnsupportedExt
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	norm, err := s.normalizer.Normalize(r.Context(), data)
	if err != nil {
		sess.ClearImage()
		return err
	}
	sess.SetImage(norm.JPEG, norm.Width, norm.Height)
	return nil
}

func (s *Server) stageFile(r *http.Request, sess *session.Session, field string, exts map[string]bool, set func(string)) error {
	f, hdr, err := r.FormFile(field)
	if err != nil {
		return fmt.Errorf("expected a %s part: %w", field, err)
	}
	defer f.Close()
	if !exts[strings.ToLower(filepath.Ext(hdr.Filename))] {
		return errUnsupportedExt
	}

	if err := os.MkdirAll(s.cfg.Paths.TempDir, 0o755); err != nil {
		return err
	}
	dst, err := os.CreateTemp(s.cfg.Paths.TempDir, "stage-*"+filepath.Ext(hdr.Filename))
	if err != nil {
		return err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, f); err != nil {
		os.Remove(dst.Name())
		return err
	}
	set(dst.Name())
	return nil
}

func (s *Server) uploadError(w http.ResponseWriter, err error) {
	var de *photo.DecodeError
	switch {
	case errors.As(err, &de):
		writeError(w, http.StatusUnprocessableEntity, "decode_error", err.Error())
	case errors.Is(err, errUnsupportedExt):
		writeError(w, http.StatusUnprocessableEntity, "unsupported_type", err.Error())
	default:
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	}
}

// handleExport triggers one attempt. Missing inputs are refused here before
// anything is queued; a busy runner yields 409.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no such session")
		return
	}

	if err := sess.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "missing_input", err.Error())
		return
	}
	derive := meta.Derive
	if sess.Mode() == session.ModeVideo {
		derive = meta.DeriveIdentity
	}
	if _, err := derive(sess.Fields()); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "encode_error", err.Error())
		return
	}

	req := export.Request{ID: newID("exp"), Session: sess}
	if err := s.runner.Submit(req); err != nil {
		if errors.Is(err, export.ErrExportInFlight) {
			writeError(w, http.StatusConflict, "in_flight", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"attempt_id": req.ID})
}

// errKind maps taxonomy errors onto the API's kind strings, for the history
// endpoint and tests.
func errKind(err error) string {
	var (
		mi *session.MissingInputError
		de *photo.DecodeError
		ee *meta.EncodeError
		re *dispatch.RemoteError
		te *dispatch.TransportError
	)
	switch {
	case errors.As(err, &mi):
		return "missing_input"
	case errors.As(err, &de):
		return "decode_error"
	case errors.As(err, &ee):
		return "encode_error"
	case errors.As(err, &re):
		return "remote_error"
	case errors.As(err, &te):
		return "transport_error"
	default:
		return "internal"
	}
}
