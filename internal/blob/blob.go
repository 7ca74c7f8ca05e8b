package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/teris-io/shortid"
)

// SavedFile describes a stored blob and the public URL it is served from.
type SavedFile struct {
	URL      string
	FileName string
	Size     int64
}

// Store persists uploaded files and returns a URL the chat clients can embed
// in message payloads.
type Store interface {
	Save(fileName string, r io.Reader) (SavedFile, error)
}

// DiskStore writes blobs to a local directory served under baseURL/uploads/.
type DiskStore struct {
	dir     string
	baseURL string
}

func NewDiskStore(dir, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	return &DiskStore{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

func (s *DiskStore) Save(fileName string, r io.Reader) (SavedFile, error) {
	sid, err := shortid.Generate()
	if err != nil {
		return SavedFile{}, fmt.Errorf("generate id: %w", err)
	}

	// prefix with a short id so same-named uploads never collide
	stored := sid + "-" + sanitizeFileName(fileName)
	f, err := os.Create(filepath.Join(s.dir, stored))
	if err != nil {
		return SavedFile{}, fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		return SavedFile{}, fmt.Errorf("write file: %w", err)
	}

	return SavedFile{
		URL:      s.baseURL + "/uploads/" + stored,
		FileName: fileName,
		Size:     size,
	}, nil
}

func sanitizeFileName(name string) string {
	name = filepath.Base(name)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
