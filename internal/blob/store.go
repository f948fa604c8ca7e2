package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Directory and file permissions for stored objects.
const (
	dirPerm  = 0o750
	filePerm = 0o640
)

var (
	// ErrStoreFailed is returned when an object could not be written.
	ErrStoreFailed = errors.New("blob: store failed")

	// ErrNotFound is returned by Load for unknown references.
	ErrNotFound = errors.New("blob: not found")

	// ErrInvalidRef is returned for references that escape the store root.
	ErrInvalidRef = errors.New("blob: invalid reference")
)

// Store persists binary objects (snapshots, enrolment photos) and returns an
// opaque reference.
type Store interface {
	Store(ctx context.Context, data []byte, name, contentType, category string) (string, error)
}

// FileStore keeps objects on the local filesystem under Root.
//
// References have the form category/yyyy/mm/dd/uuid-name and are always
// slash-separated regardless of platform.
type FileStore struct {
	root string
	now  func() time.Time
}

// NewFileStore creates a store rooted at root. The directory is created
// lazily on first write.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root, now: time.Now}
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// sanitize reduces a caller-supplied name or category to a single safe path
// element.
func sanitize(s, fallback string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, "._")
	if s == "" {
		return fallback
	}
	return s
}

// Store writes data and returns its reference. The content type is not
// persisted; callers that care encode it in the name extension.
//
// Parameters:
//   - data: object bytes, must be non-empty
//   - name: original filename, sanitised
//   - contentType: MIME type of data (currently informational only)
//   - category: top-level grouping such as "snapshots"
//
// Returns:
//   - string: reference usable with Load
//   - error: wraps ErrStoreFailed on any failure
func (s *FileStore) Store(ctx context.Context, data []byte, name, contentType, category string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty object", ErrStoreFailed)
	}

	now := s.now().UTC()
	ref := path.Join(
		sanitize(category, "misc"),
		now.Format("2006"), now.Format("01"), now.Format("02"),
		uuid.New().String()+"-"+sanitize(name, "object"),
	)

	full := filepath.Join(s.root, filepath.FromSlash(ref))
	if err := os.MkdirAll(filepath.Dir(full), dirPerm); err != nil {
		return "", fmt.Errorf("%w: creating directory: %w", ErrStoreFailed, err)
	}

	// Write to a temp file first so readers never see a partial object.
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		return "", fmt.Errorf("%w: writing object: %w", ErrStoreFailed, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp) //nolint:errcheck // best-effort cleanup
		return "", fmt.Errorf("%w: finalising object: %w", ErrStoreFailed, err)
	}

	return ref, nil
}

// Load reads the object behind ref.
//
// Parameters:
//   - ctx: Context for cancellation
//   - ref: reference returned by Store
//
// Returns:
//   - []byte: object contents
//   - error: ErrInvalidRef for malformed refs, ErrNotFound when absent
func (s *FileStore) Load(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ref == "" || !fs.ValidPath(ref) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}

	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(ref)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("reading blob %s: %w", ref, err)
	}
	return data, nil
}

// Root returns the store's base directory.
func (s *FileStore) Root() string {
	return s.root
}
