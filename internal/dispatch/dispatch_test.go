package dispatch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"camforge/internal/config"
	"camforge/internal/meta"
)

func testFields(t *testing.T) meta.Fields {
	t.Helper()
	f, err := meta.Derive(meta.Input{
		Make:      "Apple",
		Model:     "iPhone 17 Pro Max",
		CaptureAt: "2024-06-01T10:30",
		Aperture:  "1.78",
		FocalMm:   "24",
		Focal35Mm: "24",
		ISO:       "100",
		Width:     "4032",
	})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func newTestClient(videoURL, liveURL string) *Client {
	return NewClient(config.Services{VideoURL: videoURL, LiveURL: liveURL}, nil)
}

func TestSendVideo(t *testing.T) {
	var gotFields map[string]string
	var gotFile []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		gotFields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			gotFields[k] = v[0]
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("file part: %v", err)
			return
		}
		defer f.Close()
		gotFile, _ = io.ReadAll(f)
		w.Write([]byte("mov-bytes"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "")
	res, err := c.SendVideo(context.Background(), VideoRequest{
		Video:    strings.NewReader("fake video"),
		Filename: "input.mp4",
		Fields:   testFields(t),
	})
	if err != nil {
		t.Fatalf("SendVideo: %v", err)
	}
	if string(res.Body) != "mov-bytes" {
		t.Errorf("body = %q", res.Body)
	}
	if !strings.HasPrefix(res.ArtifactName, "Vid_Edited_") || !strings.HasSuffix(res.ArtifactName, ".mov") {
		t.Errorf("artifact name = %q", res.ArtifactName)
	}
	if string(gotFile) != "fake video" {
		t.Errorf("file payload = %q", gotFile)
	}
	want := map[string]string{
		"make":  "Apple",
		"model": "iPhone 17 Pro Max",
		"date":  "2024:06:01 10:30:00",
	}
	for k, v := range want {
		if gotFields[k] != v {
			t.Errorf("field %s = %q, want %q", k, gotFields[k], v)
		}
	}
	if len(gotFields) != len(want) {
		t.Errorf("extra fields sent: %v", gotFields)
	}
}

func TestSendLive(t *testing.T) {
	var gotFields map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		gotFields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			gotFields[k] = v[0]
		}
		for _, field := range []string{"photo", "video"} {
			if _, _, err := r.FormFile(field); err != nil {
				t.Errorf("%s part: %v", field, err)
			}
		}
		w.Write([]byte("zip-bytes"))
	}))
	defer srv.Close()

	c := newTestClient("", srv.URL)
	assetID := "a1b2c3d4-0000-4000-8000-000000000000"
	res, err := c.SendLive(context.Background(), LiveRequest{
		Photo:     strings.NewReader("photo"),
		PhotoName: "p.jpg",
		Video:     strings.NewReader("video"),
		VideoName: "v.mov",
		Fields:    testFields(t),
		AssetID:   assetID,
	})
	if err != nil {
		t.Fatalf("SendLive: %v", err)
	}
	if res.ArtifactName != "LivePhoto_a1b2c3d4.zip" {
		t.Errorf("artifact name = %q", res.ArtifactName)
	}
	want := map[string]string{
		"make":     "Apple",
		"model":    "iPhone 17 Pro Max",
		"date":     "2024:06:01 10:30:00",
		"asset_id": assetID,
		"aperture": "1.78",
		"focal":    "24",
		"focal35":  "24",
		"iso":      "100",
		"lens":     "iPhone 17 Pro Max 后置摄像头 — 24mm f/1.78",
		"width":    "4032",
		"height":   "3024",
	}
	for k, v := range want {
		if gotFields[k] != v {
			t.Errorf("field %s = %q, want %q", k, gotFields[k], v)
		}
	}
}

func TestRemoteErrorPlainStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "")
	_, err := c.SendVideo(context.Background(), VideoRequest{
		Video: strings.NewReader("v"), Filename: "v.mp4", Fields: testFields(t),
	})
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if re.Status != http.StatusInternalServerError || re.Message != "" {
		t.Errorf("RemoteError = %+v", re)
	}
}

func TestRemoteErrorJSONMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "unsupported video codec"}`))
	}))
	defer srv.Close()

	c := newTestClient("", srv.URL)
	_, err := c.SendLive(context.Background(), LiveRequest{
		Photo: strings.NewReader("p"), PhotoName: "p.jpg",
		Video: strings.NewReader("v"), VideoName: "v.mov",
		Fields: testFields(t), AssetID: "x",
	})
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if re.Status != http.StatusBadRequest || re.Message != "unsupported video codec" {
		t.Errorf("RemoteError = %+v", re)
	}
	if !strings.Contains(re.Error(), "unsupported video codec") {
		t.Errorf("error text = %q", re.Error())
	}
}

func TestTransportError(t *testing.T) {
	// A closed server guarantees a connection failure.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := newTestClient(url, "")
	_, err := c.SendVideo(context.Background(), VideoRequest{
		Video: strings.NewReader("v"), Filename: "v.mp4", Fields: testFields(t),
	})
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.Error() != "service unreachable, try again later" {
		t.Errorf("error text = %q", te.Error())
	}
	if te.Unwrap() == nil {
		t.Error("cause not preserved")
	}
}

func TestSendVideoContextCancel(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	c := newTestClient(srv.URL, "")
	_, err := c.SendVideo(ctx, VideoRequest{
		Video: strings.NewReader("v"), Filename: "v.mp4", Fields: testFields(t),
	})
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError on cancel, got %v", err)
	}
}
