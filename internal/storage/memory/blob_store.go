// Package memory keeps snapshots and lookup history in process memory, for
// development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/certlookup/internal/grading"
)

// BlobStore keeps archived blobs in a map and returns memory:// URIs.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string]grading.Blob
}

// NewBlobStore creates an empty BlobStore.
func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string]grading.Blob)}
}

// PutObject stores a copy of blob under its path.
func (s *BlobStore) PutObject(_ context.Context, blob grading.Blob) (string, error) {
	if strings.TrimSpace(blob.Path) == "" {
		return "", fmt.Errorf("path is required")
	}
	stored := grading.Blob{
		Path:        blob.Path,
		ContentType: blob.ContentType,
		Data:        append([]byte(nil), blob.Data...),
	}
	if len(blob.Metadata) > 0 {
		stored.Metadata = make(map[string]string, len(blob.Metadata))
		for k, v := range blob.Metadata {
			stored.Metadata[k] = v
		}
	}

	s.mu.Lock()
	s.blobs[blob.Path] = stored
	s.mu.Unlock()
	return "memory://" + blob.Path, nil
}

// Get returns the blob stored at path.
func (s *BlobStore) Get(path string) (grading.Blob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[path]
	return blob, ok
}

// Paths lists stored paths in lexical order.
func (s *BlobStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.blobs))
	for p := range s.blobs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
