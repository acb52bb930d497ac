package recordings

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFilesystemStoreUpload(t *testing.T) {
	dir := t.TempDir()
	st := NewFilesystemStore(dir, nil)

	path, err := st.Upload(context.Background(), "sess-1", "caller.wav", strings.NewReader("RIFFdata"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	want := filepath.Join(dir, "sess-1", "caller.wav")
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading stored file: %v", err)
	}
	if string(data) != "RIFFdata" {
		t.Errorf("stored content = %q", data)
	}
}

func TestFilesystemStoreStripsPathComponents(t *testing.T) {
	dir := t.TempDir()
	st := NewFilesystemStore(dir, nil)

	path, err := st.Upload(context.Background(), "sess-1", "../../escape.wav", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if path != filepath.Join(dir, "sess-1", "escape.wav") {
		t.Errorf("name with path components must be flattened, got %q", path)
	}
}

func TestHTTPStoreUpload(t *testing.T) {
	var gotPath, gotAuth, gotContentType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
	}))
	defer srv.Close()

	st := NewHTTPStore(srv.URL+"/recordings/", "Bearer tok", nil)
	url, err := st.Upload(context.Background(), "sess-2", "agent.wav", strings.NewReader("wavbytes"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if gotPath != "/recordings/sess-2/agent.wav" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if gotContentType != "audio/wav" {
		t.Errorf("content-type = %q", gotContentType)
	}
	if gotBody != "wavbytes" {
		t.Errorf("body = %q", gotBody)
	}
	if !strings.HasSuffix(url, "/recordings/sess-2/agent.wav") {
		t.Errorf("returned url = %q", url)
	}
}

func TestHTTPStoreUploadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()

	st := NewHTTPStore(srv.URL, "", nil)
	if _, err := st.Upload(context.Background(), "s", "a.wav", strings.NewReader("x")); err == nil {
		t.Fatal("expected error on 403")
	} else if !strings.Contains(err.Error(), "403") {
		t.Errorf("error should carry status: %v", err)
	}
}

func TestNewStore(t *testing.T) {
	if _, err := NewStore(Config{Backend: "fs", BaseDir: t.TempDir()}, nil); err != nil {
		t.Errorf("fs backend: %v", err)
	}
	if _, err := NewStore(Config{}, nil); err != nil {
		t.Errorf("default backend: %v", err)
	}
	if _, err := NewStore(Config{Backend: "http"}, nil); err == nil {
		t.Error("http backend without upload_url should fail")
	}
	if _, err := NewStore(Config{Backend: "http", UploadURL: "https://example.com"}, nil); err != nil {
		t.Errorf("http backend: %v", err)
	}
	if _, err := NewStore(Config{Backend: "ftp"}, nil); err == nil {
		t.Error("unknown backend should fail")
	}
}
