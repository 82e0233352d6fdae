package coordinator

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/tinymem-dev/tinymem/internal/store"
)

// ErrFileNotFound is returned when an artifact points at a missing file.
var ErrFileNotFound = errors.New("file not found")

// maxExtractBytes caps how much of a file is cached as artifact text.
const maxExtractBytes = 4 << 20

var textTypes = map[string]bool{
	"md": true, "markdown": true, "txt": true, "text": true, "rst": true,
	"json": true, "yaml": true, "yml": true, "toml": true, "ini": true, "csv": true,
	"log": true, "xml": true, "html": true, "htm": true, "sql": true,
	"go": true, "rs": true, "py": true, "js": true, "ts": true, "tsx": true, "jsx": true,
	"java": true, "c": true, "h": true, "cpp": true, "rb": true, "sh": true,
}

// resolveArtifactPath checks that path names an existing regular file and
// returns its absolute form.
func resolveArtifactPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrFileNotFound)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, abs)
	}
	if err != nil {
		return "", fmt.Errorf("checking %s: %w", abs, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrFileNotFound, abs)
	}
	return abs, nil
}

// ExtractText returns the searchable text of a text-like file. ok is false
// for file types that have no extractor (pdf, images, archives) and for
// content that is not valid UTF-8.
func ExtractText(path string) (text string, ok bool, err error) {
	if !textTypes[store.FileType(path)] {
		return "", false, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", false, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxExtractBytes))
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(data) == maxExtractBytes {
		// The limit may have cut a multi-byte rune in half.
		for i := 0; i < utf8.UTFMax-1 && !utf8.Valid(data); i++ {
			data = data[:len(data)-1]
		}
	}
	if !utf8.Valid(data) {
		return "", false, nil
	}
	return string(data), true, nil
}
