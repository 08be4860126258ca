// Package archive stores rendered result pages as evidence for successful
// lookups.
package archive

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/certlookup/internal/grading"
)

const contentType = "text/html; charset=utf-8"

// Snapshotter names snapshots by content hash and writes them to a BlobStore
// at <prefix>/<service>/<cert>/<hash>.html.
type Snapshotter struct {
	store  grading.BlobStore
	hasher grading.Hasher
	prefix string
}

// New constructs a Snapshotter. An empty prefix writes at the bucket root.
func New(store grading.BlobStore, hasher grading.Hasher, prefix string) *Snapshotter {
	return &Snapshotter{
		store:  store,
		hasher: hasher,
		prefix: strings.Trim(prefix, "/"),
	}
}

// Snapshot implements grading.Snapshotter.
func (s *Snapshotter) Snapshot(ctx context.Context, source grading.ServiceKey, cert grading.CertificationNumber, html []byte) (string, error) {
	digest, err := s.hasher.Hash(html)
	if err != nil {
		return "", fmt.Errorf("hash snapshot: %w", err)
	}
	uri, err := s.store.PutObject(ctx, grading.Blob{
		Path:        s.objectPath(source, cert, digest),
		ContentType: contentType,
		Data:        html,
		Metadata: map[string]string{
			"service":     source.String(),
			"cert_number": cert.String(),
			"sha256":      digest,
		},
	})
	if err != nil {
		return "", fmt.Errorf("store snapshot: %w", err)
	}
	return uri, nil
}

func (s *Snapshotter) objectPath(source grading.ServiceKey, cert grading.CertificationNumber, digest string) string {
	return path.Join(s.prefix, strings.ToLower(source.String()), cert.String(), digest+".html")
}
