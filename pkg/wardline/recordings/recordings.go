// Package recordings stores finished call recordings. The finalizer hands
// over the temporary WAV files of a session; upload is best-effort and
// never blocks call teardown.
package recordings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store persists one recording file and returns its access URL.
type Store interface {
	// Upload stores the recording under a session-scoped name.
	Upload(ctx context.Context, sessionID, name string, r io.Reader) (string, error)
}

// Config configures recording storage.
type Config struct {
	// Backend selects the store: "fs" (default) or "http".
	Backend string `yaml:"backend"`

	// BaseDir is the filesystem store root.
	BaseDir string `yaml:"base_dir"`

	// UploadURL is the HTTP store endpoint. The session ID and file name
	// are appended to the path; the body is PUT as audio/wav. Works with
	// S3-style presigned prefixes.
	UploadURL string `yaml:"upload_url"`

	// AuthHeader is an optional Authorization header value for HTTP uploads.
	AuthHeader string `yaml:"auth_header"`
}

// DefaultConfig returns recording storage defaults.
func DefaultConfig() Config {
	return Config{
		Backend: "fs",
		BaseDir: "./data/recordings",
	}
}

// NewStore creates a store from config.
func NewStore(cfg Config, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "fs":
		return NewFilesystemStore(cfg.BaseDir, logger), nil
	case "http":
		if cfg.UploadURL == "" {
			return nil, errors.New("recordings: http backend requires upload_url")
		}
		return NewHTTPStore(cfg.UploadURL, cfg.AuthHeader, logger), nil
	default:
		return nil, fmt.Errorf("recordings: unknown backend %q", cfg.Backend)
	}
}

// ---------- Filesystem Store ----------

// FilesystemStore writes recordings under baseDir/<sessionID>/<name>.
type FilesystemStore struct {
	baseDir string
	logger  *slog.Logger
}

// NewFilesystemStore creates a local recording store.
func NewFilesystemStore(baseDir string, logger *slog.Logger) *FilesystemStore {
	if logger == nil {
		logger = slog.Default()
	}
	if baseDir == "" {
		baseDir = DefaultConfig().BaseDir
	}
	return &FilesystemStore{
		baseDir: baseDir,
		logger:  logger.With("component", "recordings"),
	}
}

// Upload copies the recording into the session directory.
func (s *FilesystemStore) Upload(_ context.Context, sessionID, name string, r io.Reader) (string, error) {
	dir := filepath.Join(s.baseDir, sessionID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("recordings: creating directory: %w", err)
	}

	path := filepath.Join(dir, filepath.Base(name))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return "", fmt.Errorf("recordings: creating file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		return "", fmt.Errorf("recordings: writing file: %w", err)
	}

	s.logger.Debug("recording stored", "session_id", sessionID, "name", name, "bytes", n)
	return path, nil
}

// ---------- HTTP Store ----------

// HTTPStore PUTs recordings to a remote endpoint.
type HTTPStore struct {
	uploadURL  string
	authHeader string
	client     *http.Client
	logger     *slog.Logger
}

// NewHTTPStore creates an HTTP recording store.
func NewHTTPStore(uploadURL, authHeader string, logger *slog.Logger) *HTTPStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPStore{
		uploadURL:  strings.TrimRight(uploadURL, "/"),
		authHeader: authHeader,
		client:     &http.Client{Timeout: 60 * time.Second},
		logger:     logger.With("component", "recordings"),
	}
}

// Upload PUTs the recording body to uploadURL/<sessionID>/<name>.
func (s *HTTPStore) Upload(ctx context.Context, sessionID, name string, r io.Reader) (string, error) {
	url := fmt.Sprintf("%s/%s/%s", s.uploadURL, sessionID, filepath.Base(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, r)
	if err != nil {
		return "", fmt.Errorf("recordings: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")
	if s.authHeader != "" {
		req.Header.Set("Authorization", s.authHeader)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("recordings: upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("recordings: upload returned %d: %s", resp.StatusCode, string(body))
	}

	s.logger.Debug("recording uploaded", "session_id", sessionID, "name", name, "url", url)
	return url, nil
}
