// Package naturalearth fetches and reads the admin-0 country boundaries that
// crisis records are merged onto.
package naturalearth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/crisis-data-service/internal/domain"
)

// maxDownloadBytes bounds the boundary download. The 50m file is ~25 MB.
const maxDownloadBytes = 128 << 20

// Loader keeps a local copy of the boundary GeoJSON.
type Loader struct {
	path       string
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewLoader creates a Loader that stores the download at path.
func NewLoader(path, url string, timeout time.Duration, logger *slog.Logger) *Loader {
	return &Loader{
		path: path,
		url:  url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Path returns the local boundary file path.
func (l *Loader) Path() string { return l.path }

// Ensure downloads the boundaries when the local file is missing, or always
// when force is set. It reports whether a download happened. The body must
// decode as a FeatureCollection before it replaces the local file.
func (l *Loader) Ensure(ctx context.Context, force bool) (bool, error) {
	if !force {
		_, err := os.Stat(l.path)
		if err == nil {
			l.logger.Debug("using existing boundaries", "path", l.path)
			return false, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("stat boundaries: %w", err)
		}
	}

	l.logger.Info("downloading boundaries", "url", l.url, "path", l.path)
	data, err := l.download(ctx)
	if err != nil {
		return false, err
	}
	if _, err := domain.DecodeFeatureCollection(data); err != nil {
		return false, fmt.Errorf("decode downloaded boundaries: %w", err)
	}
	if err := writeFileAtomic(l.path, data); err != nil {
		return false, err
	}
	l.logger.Info("saved boundaries", "path", l.path, "bytes", len(data))
	return true, nil
}

// Load ensures the boundaries exist locally and decodes them.
func (l *Loader) Load(ctx context.Context) (domain.FeatureCollection, error) {
	if _, err := l.Ensure(ctx, false); err != nil {
		return domain.FeatureCollection{}, err
	}
	return Load(l.path)
}

// Load reads and decodes a GeoJSON FeatureCollection from path.
func Load(path string) (domain.FeatureCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.FeatureCollection{}, fmt.Errorf("read boundaries: %w", err)
	}
	fc, err := domain.DecodeFeatureCollection(data)
	if err != nil {
		return domain.FeatureCollection{}, fmt.Errorf("decode boundaries %s: %w", path, err)
	}
	return fc, nil
}

func (l *Loader) download(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch boundaries: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch boundaries: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read boundaries body: %w", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("boundaries exceed %d bytes", maxDownloadBytes)
	}
	return data, nil
}

// writeFileAtomic writes through a temp file in the target directory so a
// failed write never leaves a truncated file behind.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create boundaries dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".boundaries-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // already renamed on success

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write boundaries: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close boundaries: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename boundaries: %w", err)
	}
	return nil
}
