// Package photos stores captured stills on disk and optionally mirrors
// them to Google Drive.
package photos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-spider/internal/log"
)

// ErrEmpty is returned when asked to save an empty image.
var ErrEmpty = errors.New("photos: empty image")

// Photo describes one stored still.
type Photo struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Size     int       `json:"size"`
	TakenAt  time.Time `json:"taken_at"`
	RemoteID string    `json:"remote_id,omitempty"`
}

// Uploader mirrors a stored photo somewhere else and returns its remote ID.
type Uploader interface {
	Upload(ctx context.Context, p Photo, jpeg []byte) (string, error)
}

// Recorder is notified of every saved and uploaded photo.
type Recorder interface {
	RecordPhoto(ctx context.Context, p Photo) error
}

// Archive saves JPEG stills into a directory.
type Archive struct {
	dir      string
	uploader Uploader
	recorder Recorder
	timeout  time.Duration
	log      *slog.Logger
	now      func() time.Time
}

// Option configures an Archive.
type Option func(*Archive)

// WithUploader mirrors every saved photo through u in the background.
func WithUploader(u Uploader) Option { return func(a *Archive) { a.uploader = u } }

// WithRecorder records photo metadata.
func WithRecorder(r Recorder) Option { return func(a *Archive) { a.recorder = r } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(a *Archive) { a.log = l } }

// NewArchive creates dir if needed.
func NewArchive(dir string, opts ...Option) (*Archive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("photos: create %s: %w", dir, err)
	}
	a := &Archive{dir: dir, timeout: time.Minute, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	a.log = log.Or(a.log).With("component", "photos")
	return a, nil
}

// Dir returns the archive directory.
func (a *Archive) Dir() string { return a.dir }

// Save writes jpeg to disk as photo_<timestamp>_<id>.jpg. Upload, when
// configured, happens in the background and does not delay Save.
func (a *Archive) Save(ctx context.Context, jpeg []byte) (Photo, error) {
	if len(jpeg) == 0 {
		return Photo{}, ErrEmpty
	}
	taken := a.now()
	id := uuid.NewString()
	name := fmt.Sprintf("photo_%s_%s.jpg", taken.Format("20060102_150405"), id[:8])
	path := filepath.Join(a.dir, name)
	if err := os.WriteFile(path, jpeg, 0o644); err != nil {
		return Photo{}, fmt.Errorf("photos: write %s: %w", name, err)
	}
	p := Photo{ID: id, Name: name, Path: path, Size: len(jpeg), TakenAt: taken}
	a.log.Info("photo saved", "name", name, "bytes", len(jpeg))

	if a.recorder != nil {
		if err := a.recorder.RecordPhoto(ctx, p); err != nil {
			a.log.Warn("record photo failed", "error", err)
		}
	}
	if a.uploader != nil {
		data := append([]byte(nil), jpeg...)
		go a.upload(context.WithoutCancel(ctx), p, data)
	}
	return p, nil
}

func (a *Archive) upload(ctx context.Context, p Photo, jpeg []byte) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	remote, err := a.uploader.Upload(ctx, p, jpeg)
	if err != nil {
		a.log.Warn("upload failed", "name", p.Name, "error", err)
		return
	}
	p.RemoteID = remote
	a.log.Info("photo uploaded", "name", p.Name, "remote_id", remote)
	if a.recorder != nil {
		if err := a.recorder.RecordPhoto(ctx, p); err != nil {
			a.log.Warn("record upload failed", "error", err)
		}
	}
}

// List returns stored photo names, newest first.
func (a *Archive) List(limit int) ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("photos: list: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jpg") {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}
	return names, nil
}

// Open returns the path of a stored photo, rejecting names that would
// escape the archive directory.
func (a *Archive) Open(name string) (string, error) {
	if name != filepath.Base(name) || !strings.HasSuffix(name, ".jpg") {
		return "", fmt.Errorf("photos: invalid name %q", name)
	}
	path := filepath.Join(a.dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("photos: %s: %w", name, err)
	}
	return path, nil
}
