package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xhad/docchat/internal/models"
)

// Extractor converts PDF, DOCX, HTML, and plain-text files into strings.
type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

// supported maps file extensions to their extraction functions.
var supported = map[string]func(path string) (string, error){
	".txt":  textToText,
	".md":   textToText,
	".pdf":  pdfToText,
	".docx": docxToText,
	".html": htmlToText,
	".htm":  htmlToText,
}

// Extract returns the plain text of the file at path.
func (e *Extractor) Extract(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("file not found: %s: %w", path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	fn, ok := supported[ext]
	if !ok {
		return "", fmt.Errorf("%w: %s", models.ErrUnsupportedFormat, ext)
	}
	return fn(path)
}

// ListSupported returns the ingestible files of a directory, sorted by name.
func ListSupported(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if _, ok := supported[ext]; ok {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func textToText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
