// Package cache remembers which events were announced last, so an unchanged
// list is not posted twice.
package cache

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"ctfhooks/internal/models"
)

// File is a single-line cache of comma-joined event IDs.
type File struct {
	path string
}

// New returns a cache stored at path.
func New(path string) *File {
	return &File{path: path}
}

// Path returns the location of the cache file.
func (f *File) Path() string { return f.path }

// Ensure creates an empty cache file at path unless one already exists.
func Ensure(path string) error {
	fh, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return models.FileError("create cache "+path, err)
	}
	if err := fh.Close(); err != nil {
		return models.FileError("create cache "+path, err)
	}
	return nil
}

// Load returns the cached ID list with surrounding whitespace removed.
func (f *File) Load() (string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return "", models.FileError("read cache "+f.path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Store overwrites the cache with ids.
func (f *File) Store(ids string) error {
	if err := os.WriteFile(f.path, []byte(ids), 0644); err != nil {
		return models.FileError("write cache "+f.path, err)
	}
	return nil
}

// JoinIDs joins the event IDs with commas, in the order given.
func JoinIDs(events []models.Event) string {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = strconv.Itoa(e.ID)
	}
	return strings.Join(ids, ",")
}
