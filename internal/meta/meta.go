// Package meta derives the forged capture metadata for an export attempt
// from the raw user-entered fields. Everything here is pure computation;
// parsing failures surface before any file write or network call.
package meta

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Input carries the fields exactly as the user entered them. Numeric values
// stay strings until Derive so a typo is reported as an encoding problem
// rather than silently defaulted.
type Input struct {
	Make      string `json:"make"`
	Model     string `json:"model"`
	CaptureAt string `json:"date"` // "2006-01-02T15:04", minute precision
	Aperture  string `json:"aperture"`
	FocalMm   string `json:"focal"`
	Focal35Mm string `json:"focal35"`
	ISO       string `json:"iso"`
	Width     string `json:"width"`
	Height    string `json:"height,omitempty"` // empty unless a resolution preset was chosen
}

// Fields is the typed result of parsing an Input.
type Fields struct {
	Make      string
	Model     string
	CaptureAt time.Time
	Aperture  float64
	FocalMm   float64
	Focal35Mm int
	ISO       int
	Width     int
	Height    int
	Lens      string
}

// EncodeError reports a field that could not be turned into wire metadata.
type EncodeError struct {
	Field string
	Value string
	Err   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s: invalid value %q: %v", e.Field, e.Value, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// CaptureTimeLayout is the minute-precision layout of Input.CaptureAt.
const CaptureTimeLayout = "2006-01-02T15:04"

// Derive parses all fields of in, computes the lens description, and infers
// the pixel height when no resolution preset supplied one.
func Derive(in Input) (Fields, error) {
	f := Fields{Make: in.Make, Model: in.Model}

	var err error
	if f.CaptureAt, err = time.Parse(CaptureTimeLayout, in.CaptureAt); err != nil {
		return Fields{}, &EncodeError{Field: "date", Value: in.CaptureAt, Err: err}
	}
	if f.Aperture, err = parseFloat("aperture", in.Aperture); err != nil {
		return Fields{}, err
	}
	if f.FocalMm, err = parseFloat("focal", in.FocalMm); err != nil {
		return Fields{}, err
	}
	if f.Focal35Mm, err = parseInt("focal35", in.Focal35Mm); err != nil {
		return Fields{}, err
	}
	if f.ISO, err = parseInt("iso", in.ISO); err != nil {
		return Fields{}, err
	}
	if f.Width, err = parseInt("width", in.Width); err != nil {
		return Fields{}, err
	}
	if in.Height != "" {
		if f.Height, err = parseInt("height", in.Height); err != nil {
			return Fields{}, err
		}
	} else {
		f.Height = int(math.Round(float64(f.Width) * 0.75))
	}
	f.Lens = LensDescription(f.Model, f.FocalMm, f.Aperture)
	return f, nil
}

// DeriveIdentity parses only the device identity and capture time, the
// subset the video leg sends.
func DeriveIdentity(in Input) (Fields, error) {
	f := Fields{Make: in.Make, Model: in.Model}
	var err error
	if f.CaptureAt, err = time.Parse(CaptureTimeLayout, in.CaptureAt); err != nil {
		return Fields{}, &EncodeError{Field: "date", Value: in.CaptureAt, Err: err}
	}
	return f, nil
}

func parseFloat(field, s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, &EncodeError{Field: field, Value: s, Err: err}
	}
	return v, nil
}

func parseInt(field, s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, &EncodeError{Field: field, Value: s, Err: err}
	}
	return v, nil
}

// LensDescription renders the synthetic rear-camera lens string shown in the
// capture metadata. Decimals print without trailing zeros.
func LensDescription(model string, focalMm, aperture float64) string {
	return fmt.Sprintf("%s 后置摄像头 — %smm f/%s",
		model, FormatNumber(focalMm), FormatNumber(aperture))
}

// FormatNumber renders a float without trailing zeros, the way the wire
// fields and the lens description expect.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WireTimestamp renders t in the colon-separated EXIF form with the seconds
// forced to zero, matching the minute precision of the input.
func WireTimestamp(t time.Time) string {
	return t.Format("2006:01:02 15:04") + ":00"
}

// Rational converts v to an unsigned rational scaled by 100. Two decimal
// places are enough for apertures and focal lengths and keep the wire value
// exact.
func Rational(v float64) (num, den uint32) {
	return uint32(math.Round(v * 100)), 100
}

// NewAssetID returns a fresh version-4 UUID string. If the system entropy
// source fails, a math/rand-backed identifier with the same shape is used so
// an export attempt never aborts over the id.
func NewAssetID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	var b [16]byte
	for i := range b {
		b[i] = byte(rand.Intn(256))
	}
	b[6] = b[6]&0x0f | 0x40
	b[8] = b[8]&0x3f | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
