package imaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func TestIngestBase64(t *testing.T) {
	ing := NewIngestor(1<<20, zap.NewNop())
	payload := base64.StdEncoding.EncodeToString(pngBytes(t))

	img, err := ing.Ingest(context.Background(), "id_card", Input{Base64: payload})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if img.Format != "png" {
		t.Fatalf("expected png, got %s", img.Format)
	}
}

func TestIngestStripsDataURIPrefix(t *testing.T) {
	ing := NewIngestor(1<<20, zap.NewNop())
	payload := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t))

	if _, err := ing.Ingest(context.Background(), "id_card", Input{Base64: payload}); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestIngestURL(t *testing.T) {
	raw := pngBytes(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(raw)
	}))
	defer server.Close()

	ing := NewIngestor(1<<20, zap.NewNop())
	img, err := ing.Ingest(context.Background(), "selfie", Input{URL: server.URL})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !bytes.Equal(img.Bytes, raw) {
		t.Fatal("fetched bytes differ from served bytes")
	}
}

func TestIngestRejectsAmbiguousSource(t *testing.T) {
	ing := NewIngestor(1<<20, zap.NewNop())
	_, err := ing.Ingest(context.Background(), "id_card", Input{Base64: "aGk=", URL: "http://example.com/a.png"})
	if !errors.Is(err, ErrAmbiguousSource) {
		t.Fatalf("expected ErrAmbiguousSource, got %v", err)
	}
}

func TestIngestRejectsMissingSource(t *testing.T) {
	ing := NewIngestor(1<<20, zap.NewNop())
	_, err := ing.Ingest(context.Background(), "id_card", Input{})
	if !errors.Is(err, ErrMissingSource) {
		t.Fatalf("expected ErrMissingSource, got %v", err)
	}
}

func TestIngestRejectsUndecodablePayload(t *testing.T) {
	ing := NewIngestor(1<<20, zap.NewNop())

	// Valid base64, but not an image.
	payload := base64.StdEncoding.EncodeToString([]byte("not an image"))
	_, err := ing.Ingest(context.Background(), "id_card", Input{Base64: payload})
	if !errors.Is(err, ErrUndecodable) {
		t.Fatalf("expected ErrUndecodable, got %v", err)
	}

	// Not even base64.
	_, err = ing.Ingest(context.Background(), "id_card", Input{Base64: "%%%"})
	if !errors.Is(err, ErrUndecodable) {
		t.Fatalf("expected ErrUndecodable, got %v", err)
	}
}

func TestIngestRejectsOversizedPayload(t *testing.T) {
	raw := pngBytes(t)
	ing := NewIngestor(len(raw)-1, zap.NewNop())

	payload := base64.StdEncoding.EncodeToString(raw)
	_, err := ing.Ingest(context.Background(), "id_card", Input{Base64: payload})
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestIngestRejectsFailedFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	ing := NewIngestor(1<<20, zap.NewNop())
	if _, err := ing.Ingest(context.Background(), "selfie", Input{URL: server.URL}); err == nil {
		t.Fatal("expected error for 404 fetch")
	}
}
