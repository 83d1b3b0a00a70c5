package e2e

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestUploads_ServesVideo(t *testing.T) {
	ta := setupApp(t, "exit 0\n")

	content := []byte(strings.Repeat("0123456789", 100))
	if err := os.WriteFile(filepath.Join(ta.uploads, "clip.mp4"), content, 0o644); err != nil {
		t.Fatalf("failed to write video: %v", err)
	}

	resp := doRequest(t, ta.app, mustRequest(t, http.MethodGet, "/uploads/clip.mp4"))
	assertStatus(t, resp, http.StatusOK)
	if got := resp.Header.Get("Content-Type"); got != "video/mp4" {
		t.Errorf("expected video/mp4, got %s", got)
	}
	if got := resp.Header.Get("Accept-Ranges"); got != "bytes" {
		t.Errorf("expected Accept-Ranges bytes, got %s", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != "public, max-age=3600" {
		t.Errorf("unexpected Cache-Control %s", got)
	}
	if body := readBody(t, resp); body != string(content) {
		t.Errorf("expected %d bytes, got %d", len(content), len(body))
	}
}

func TestUploads_RangeRequest(t *testing.T) {
	ta := setupApp(t, "exit 0\n")

	if err := os.WriteFile(filepath.Join(ta.uploads, "clip.mp4"), []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("failed to write video: %v", err)
	}

	req := mustRequest(t, http.MethodGet, "/uploads/clip.mp4")
	req.Header.Set("Range", "bytes=2-5")
	resp := doRequest(t, ta.app, req)

	assertStatus(t, resp, http.StatusPartialContent)
	if body := readBody(t, resp); body != "2345" {
		t.Errorf("expected bytes 2-5, got %q", body)
	}
}

func TestUploads_Missing(t *testing.T) {
	ta := setupApp(t, "exit 0\n")

	resp := doRequest(t, ta.app, mustRequest(t, http.MethodGet, "/uploads/nope.mp4"))
	assertStatus(t, resp, http.StatusNotFound)
}

func TestFrontend(t *testing.T) {
	ta := setupApp(t, "exit 0\n")

	resp := doRequest(t, ta.app, mustRequest(t, http.MethodGet, "/"))
	assertStatus(t, resp, http.StatusOK)
	if body := readBody(t, resp); !strings.Contains(body, "script.js") {
		t.Error("expected the frontend page")
	}
}

func TestWebSocket_RequiresUpgrade(t *testing.T) {
	ta := setupApp(t, "exit 0\n")

	resp := doRequest(t, ta.app, mustRequest(t, http.MethodGet, "/ws"))
	assertStatus(t, resp, http.StatusUpgradeRequired)
}
