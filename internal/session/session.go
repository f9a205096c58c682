// Package session holds the mutable editing state behind one export: which
// mode is active, the staged input files, and the raw metadata fields.
package session

import (
	"fmt"
	"os"
	"sync"

	"camforge/internal/meta"
	"camforge/internal/preset"
)

// Mode selects which export path a session drives.
type Mode string

const (
	ModePhoto Mode = "photo"
	ModeLive  Mode = "live"
	ModeVideo Mode = "video"
)

// ParseMode maps a user-supplied mode name onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModePhoto, ModeLive, ModeVideo:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// MissingInputError reports an export trigger with required inputs absent.
type MissingInputError struct {
	Detail string
}

func (e *MissingInputError) Error() string {
	return "missing input: " + e.Detail
}

// Session is safe for concurrent use. A new session starts in photo mode
// with empty slots.
type Session struct {
	mu sync.Mutex

	id       string
	mode     Mode
	fields   meta.Input
	image    []byte // normalized still, photo mode only
	imgW     int
	imgH     int
	photoSrc string // staged photo file, live mode only
	videoSrc string // staged video file, live and video modes
	artifact string // path of the last produced artifact

	// Owned slots hold temp copies the session staged itself; those files
	// are removed when the slot is replaced, on a mode switch, or once an
	// export consumed them. Caller-provided paths are never touched.
	photoOwned bool
	videoOwned bool
}

// New returns a photo-mode session seeded with the given default fields.
func New(id string, defaults meta.Input) *Session {
	return &Session{id: id, mode: ModePhoto, fields: defaults}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode switches the session to m. Every switch drops all staged files and
// the last artifact, including a switch back to the same mode, so stale
// inputs never leak across modes.
func (s *Session) SetMode(m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
	s.image = nil
	s.imgW, s.imgH = 0, 0
	s.dropPhotoLocked()
	s.dropVideoLocked()
	s.artifact = ""
}

// dropPhotoLocked clears the photo slot, deleting the file when the session
// staged it. Caller holds s.mu.
func (s *Session) dropPhotoLocked() {
	if s.photoOwned && s.photoSrc != "" {
		os.Remove(s.photoSrc)
	}
	s.photoSrc = ""
	s.photoOwned = false
}

func (s *Session) dropVideoLocked() {
	if s.videoOwned && s.videoSrc != "" {
		os.Remove(s.videoSrc)
	}
	s.videoSrc = ""
	s.videoOwned = false
}

// Fields returns the raw metadata fields as currently entered.
func (s *Session) Fields() meta.Input {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fields
}

// SetFields replaces the raw metadata fields.
func (s *Session) SetFields(in meta.Input) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields = in
}

// ApplyDevice overwrites the identity and optics fields from a device
// preset. The user can still edit them afterwards; nothing reverts.
func (s *Session) ApplyDevice(d preset.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields.Make = d.Make
	s.fields.Model = d.Model
	s.fields.Aperture = formatNum(d.Aperture)
	s.fields.FocalMm = formatNum(d.FocalMm)
}

// ApplyResolution pins the pixel dimensions from a resolution preset,
// disabling the 4:3 height inference.
func (s *Session) ApplyResolution(r preset.Resolution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields.Width = fmt.Sprintf("%d", r.Width)
	s.fields.Height = fmt.Sprintf("%d", r.Height)
}

func formatNum(v float64) string {
	return fmt.Sprintf("%g", v)
}

// SetImage stages a normalized still for photo mode.
func (s *Session) SetImage(jpeg []byte, w, h int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.image = jpeg
	s.imgW, s.imgH = w, h
}

// ClearImage empties the photo slot, used after a failed decode so the user
// can retry with a different file.
func (s *Session) ClearImage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.image = nil
	s.imgW, s.imgH = 0, 0
}

// Image returns the staged normalized still and its dimensions.
func (s *Session) Image() ([]byte, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.image, s.imgW, s.imgH
}

// SetPhotoFile stages the photo leg of a live pair. The file belongs to the
// caller and is never deleted.
func (s *Session) SetPhotoFile(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropPhotoLocked()
	s.photoSrc = path
}

// SetVideoFile stages a video, used by both live and video modes. The file
// belongs to the caller and is never deleted.
func (s *Session) SetVideoFile(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropVideoLocked()
	s.videoSrc = path
}

// StagePhotoFile stages a temp copy the session owns: it is removed when
// replaced, on a mode switch, or once an export consumed it.
func (s *Session) StagePhotoFile(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropPhotoLocked()
	s.photoSrc = path
	s.photoOwned = true
}

// StageVideoFile is StagePhotoFile for the video slot.
func (s *Session) StageVideoFile(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropVideoLocked()
	s.videoSrc = path
	s.videoOwned = true
}

// CleanupStaged removes the session-owned temp files and empties their
// slots. Caller-provided paths stay staged.
func (s *Session) CleanupStaged() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.photoOwned {
		s.dropPhotoLocked()
	}
	if s.videoOwned {
		s.dropVideoLocked()
	}
}

func (s *Session) PhotoFile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.photoSrc
}

func (s *Session) VideoFile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoSrc
}

// SetArtifact records the path of the artifact the last export produced.
func (s *Session) SetArtifact(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifact = path
}

func (s *Session) Artifact() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifact
}

// Validate checks that the active mode has every input it needs. It is the
// gate in front of an export trigger; nothing downstream runs when it fails.
func (s *Session) Validate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.mode {
	case ModePhoto:
		if len(s.image) == 0 {
			return &MissingInputError{Detail: "no image attached"}
		}
	case ModeVideo:
		if s.videoSrc == "" {
			return &MissingInputError{Detail: "no video attached"}
		}
	case ModeLive:
		switch {
		case s.photoSrc == "" && s.videoSrc == "":
			return &MissingInputError{Detail: "live pair needs a photo and a video"}
		case s.photoSrc == "":
			return &MissingInputError{Detail: "live pair is missing its photo"}
		case s.videoSrc == "":
			return &MissingInputError{Detail: "live pair is missing its video"}
		}
	}
	return nil
}

// Snapshot is a read-only view of the session for API responses.
type Snapshot struct {
	ID        string     `json:"id"`
	Mode      Mode       `json:"mode"`
	Fields    meta.Input `json:"fields"`
	HasImage  bool       `json:"has_image"`
	PhotoFile string     `json:"photo_file,omitempty"`
	VideoFile string     `json:"video_file,omitempty"`
	Artifact  string     `json:"artifact,omitempty"`
}

// Snapshot captures the current state under the lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:        s.id,
		Mode:      s.mode,
		Fields:    s.fields,
		HasImage:  len(s.image) > 0,
		PhotoFile: s.photoSrc,
		VideoFile: s.videoSrc,
		Artifact:  s.artifact,
	}
}
