package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidFilename = errors.New("invalid image filename")
	ErrImageExists     = errors.New("image already exists")
)

// DiskStore keeps uploaded images as files named food_<id><ext> under one directory
type DiskStore struct {
	dir string
}

// NewDiskStore creates the image directory if needed
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create images directory: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

// Dir returns the directory images are stored in
func (s *DiskStore) Dir() string {
	return s.dir
}

// Filename derives the stored filename for an item's image, keeping the
// original extension
func Filename(id, originalFilename string) string {
	return "food_" + id + strings.ToLower(filepath.Ext(originalFilename))
}

// Save writes r as the image for id and returns the stored filename.
// It never replaces an existing file; that case returns ErrImageExists.
func (s *DiskStore) Save(ctx context.Context, id, originalFilename string, r io.Reader) (string, error) {
	filename := Filename(id, originalFilename)
	if err := checkFilename(filename); err != nil {
		return "", err
	}

	tmpPath, err := s.stage(r)
	if err != nil {
		return "", err
	}
	defer os.Remove(tmpPath)

	if err := os.Link(tmpPath, filepath.Join(s.dir, filename)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrImageExists, filename)
		}
		return "", fmt.Errorf("failed to store image: %w", err)
	}
	return filename, nil
}

// Replace writes r as the image for id, overwriting a file of the same name
func (s *DiskStore) Replace(ctx context.Context, id, originalFilename string, r io.Reader) (string, error) {
	filename := Filename(id, originalFilename)
	if err := checkFilename(filename); err != nil {
		return "", err
	}

	tmpPath, err := s.stage(r)
	if err != nil {
		return "", err
	}
	defer os.Remove(tmpPath)

	if err := os.Rename(tmpPath, filepath.Join(s.dir, filename)); err != nil {
		return "", fmt.Errorf("failed to store image: %w", err)
	}
	return filename, nil
}

// stage copies r into a hidden temp file in the image directory
func (s *DiskStore) stage(r io.Reader) (string, error) {
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp image: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close image: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to chmod image: %w", err)
	}
	return tmpPath, nil
}

// Delete removes a stored image. A missing file is not an error.
func (s *DiskStore) Delete(ctx context.Context, filename string) error {
	if filename == "" {
		return nil
	}
	if err := checkFilename(filename); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.dir, filename))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return nil
}

func checkFilename(name string) error {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\"`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	return nil
}
