// Package storage is the durable derivative store. Objects live under
// <root>/transcoded/<h>/<hh>/<asset>/<name>, where h and hh are the first one
// and two hex digits of the MD5 of the asset id, and are served from the same
// relative path under the configured base URL.
package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"transcoder/internal/fileutil"
	"transcoder/internal/logging"
	"transcoder/internal/services"
)

const (
	zoneDir        = "transcoded"
	headersSuffix  = ".headers.json"
	lockSuffix     = ".lock"
	lockRetryDelay = 50 * time.Millisecond
	stageStorage   = "storage"
)

// FileStore stores derivatives on a local or mounted filesystem.
type FileStore struct {
	root    string
	baseURL string
	logger  *slog.Logger
}

// NewFileStore returns a store rooted at root. baseURL may be empty, in
// which case URL returns the slash-separated relative path.
func NewFileStore(root, baseURL string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &FileStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logging.NewComponentLogger(logger, "storage"),
	}
}

// RelativePath returns the slash-separated object path inside the zone.
func RelativePath(assetID, name string) string {
	sum := md5.Sum([]byte(assetID))
	hash := hex.EncodeToString(sum[:])
	return path.Join(zoneDir, hash[:1], hash[:2], assetID, name)
}

// LocalPath returns where the object lives on disk. Keys that would
// resolve outside the store root are rejected with ErrValidation.
func (s *FileStore) LocalPath(assetID, name string) (string, error) {
	if err := services.ValidateAssetID(assetID); err != nil {
		return "", err
	}
	if err := services.ValidateAssetID(name); err != nil {
		return "", services.Wrap(services.ErrValidation, stageStorage, "resolve", fmt.Sprintf("invalid object name %q", name), err)
	}
	local := filepath.Join(s.root, filepath.FromSlash(RelativePath(assetID, name)))
	if rel, err := filepath.Rel(s.root, local); err != nil || !filepath.IsLocal(rel) {
		return "", services.Wrap(services.ErrValidation, stageStorage, "resolve",
			fmt.Sprintf("object %s/%s escapes the store root", assetID, name), err)
	}
	return local, nil
}

// URL returns the public URL of the object.
func (s *FileStore) URL(assetID, name string) string {
	rel := RelativePath(assetID, name)
	segments := strings.Split(rel, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	escaped := strings.Join(segments, "/")
	if s.baseURL == "" {
		return escaped
	}
	return s.baseURL + "/" + escaped
}

// Exists reports whether the object is present.
func (s *FileStore) Exists(assetID, name string) (bool, error) {
	local, err := s.LocalPath(assetID, name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(local)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// Size returns the stored object size in bytes.
func (s *FileStore) Size(assetID, name string) (int64, error) {
	local, err := s.LocalPath(assetID, name)
	if err != nil {
		return 0, err
	}
	return fileutil.FileSize(local)
}

// Import copies src into the store, replacing any existing object, and
// records headers in a sidecar. The copy is verified and renamed into place
// while holding a per-object lock so concurrent imports do not interleave.
func (s *FileStore) Import(ctx context.Context, src, assetID, name string, headers map[string]string) error {
	dst, err := s.LocalPath(assetID, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return services.Wrap(services.ErrPublication, stageStorage, "import", "create object directory", err)
	}

	unlock, err := s.lock(ctx, dst)
	if err != nil {
		return err
	}
	defer unlock()

	if err := fileutil.ReplaceFile(src, dst); err != nil {
		return services.Wrap(services.ErrPublication, stageStorage, "import",
			fmt.Sprintf("store %s", RelativePath(assetID, name)), err)
	}
	if err := s.writeHeaders(dst, headers); err != nil {
		return services.Wrap(services.ErrPublication, stageStorage, "import", "write headers", err)
	}
	s.logger.Debug("object stored",
		logging.String("object", RelativePath(assetID, name)),
		logging.Int("headers", len(headers)),
	)
	return nil
}

// Remove deletes the object and its header sidecar. Missing objects are not
// an error.
func (s *FileStore) Remove(ctx context.Context, assetID, name string) error {
	dst, err := s.LocalPath(assetID, name)
	if err != nil {
		return err
	}
	unlock, err := s.lock(ctx, dst)
	if err != nil {
		return err
	}
	defer unlock()

	for _, p := range []string{dst, dst + headersSuffix} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return services.Wrap(services.ErrPublication, stageStorage, "remove", p, err)
		}
	}
	return nil
}

// Headers returns the headers recorded at import time.
func (s *FileStore) Headers(assetID, name string) (map[string]string, error) {
	local, err := s.LocalPath(assetID, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(local + headersSuffix)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	headers := map[string]string{}
	if err := json.Unmarshal(data, &headers); err != nil {
		return nil, fmt.Errorf("decode headers: %w", err)
	}
	return headers, nil
}

func (s *FileStore) writeHeaders(dst string, headers map[string]string) error {
	sidecar := dst + headersSuffix
	if len(headers) == 0 {
		if err := os.Remove(sidecar); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	data, err := json.MarshalIndent(headers, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(sidecar, data)
}

func (s *FileStore) lock(ctx context.Context, dst string) (func(), error) {
	fl := flock.New(dst + lockSuffix)
	ok, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, services.Wrap(services.ErrPublication, stageStorage, "lock", filepath.Base(dst), err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrPublication, stageStorage, "lock", filepath.Base(dst)+" is locked", nil)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Warn("failed to release object lock",
				logging.String("lock", fl.Path()),
				logging.Error(err),
			)
		}
	}, nil
}
