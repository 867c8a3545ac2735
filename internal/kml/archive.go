package kml

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/edsrzf/mmap-go"
)

// zipMagic is the local file header signature every KMZ starts with
var zipMagic = []byte("PK\x03\x04")

// IsZip reports whether data looks like a zip archive
func IsZip(data []byte) bool {
	return bytes.HasPrefix(data, zipMagic)
}

// ParseKMZ unwraps a KMZ archive held in memory and parses its markup
func ParseKMZ(data []byte, opts Options) (*Result, error) {
	return ParseKMZReader(bytes.NewReader(data), int64(len(data)), opts)
}

// ParseKMZReader unwraps a KMZ archive and parses its markup
func ParseKMZReader(r io.ReaderAt, size int64, opts Options) (*Result, error) {
	text, err := ExtractKML(r, size)
	if err != nil {
		return nil, err
	}
	return ParseKML(text, opts)
}

// ExtractKML returns the markup of the archive's KML entry. A root doc.kml is
// preferred; otherwise the first .kml entry in archive order is used.
func ExtractKML(r io.ReaderAt, size int64) ([]byte, error) {
	if size == 0 {
		return nil, fmt.Errorf("%w: empty archive", ErrArchive)
	}
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArchive, err)
	}

	var entry *zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(path.Ext(f.Name), ".kml") {
			continue
		}
		if strings.EqualFold(f.Name, "doc.kml") {
			entry = f
			break
		}
		if entry == nil {
			entry = f
		}
	}
	if entry == nil {
		return nil, ErrNoMarkup
	}

	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %w", ErrArchive, entry.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %w", ErrArchive, entry.Name, err)
	}
	return data, nil
}

// ParseBytes parses an uploaded file, choosing the format from its name
func ParseBytes(name string, data []byte, opts Options) (*Result, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".kmz":
		return ParseKMZ(data, opts)
	case ".kml":
		return ParseKML(data, opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
}

// ParseFile parses a .kml or .kmz file from disk; archives are memory-mapped
func ParseFile(filename string, opts Options) (*Result, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".kml":
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		return ParseKML(data, opts)
	case ".kmz":
		return parseMappedKMZ(filename, opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}
}

func parseMappedKMZ(filename string, opts Options) (*Result, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: empty archive", ErrArchive)
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap file: %w", err)
	}
	defer m.Unmap()

	return ParseKMZReader(bytes.NewReader(m), int64(len(m)), opts)
}
