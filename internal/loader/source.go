package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
)

// Source opens named input files from a data location.
type Source interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Exists reports whether name can be opened.
	Exists(ctx context.Context, name string) (bool, error)
	String() string
	Close() error
}

// NewSource returns a GCS source for gs://bucket/prefix locations and a
// local directory source otherwise.
func NewSource(ctx context.Context, location string) (Source, error) {
	if strings.HasPrefix(location, "gs://") {
		bucket, prefix, _ := strings.Cut(strings.TrimPrefix(location, "gs://"), "/")
		if bucket == "" {
			return nil, fmt.Errorf("invalid GCS location %q", location)
		}
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		return &GCSSource{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
	}
	return DirSource(location), nil
}

// DirSource reads files from a local directory.
type DirSource string

func (d DirSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(string(d), name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingFile, filepath.Join(string(d), name))
		}
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

func (d DirSource) Exists(ctx context.Context, name string) (bool, error) {
	_, err := os.Stat(filepath.Join(string(d), name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (d DirSource) String() string { return string(d) }

func (d DirSource) Close() error { return nil }

// GCSSource reads objects under a bucket prefix.
type GCSSource struct {
	client *storage.Client
	bucket string
	prefix string
}

func (g *GCSSource) object(name string) *storage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(path.Join(g.prefix, name))
}

func (g *GCSSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	r, err := g.object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: gs://%s/%s", ErrMissingFile, g.bucket, path.Join(g.prefix, name))
		}
		return nil, fmt.Errorf("open GCS object reader: %w", err)
	}
	return r, nil
}

func (g *GCSSource) Exists(ctx context.Context, name string) (bool, error) {
	_, err := g.object(name).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat GCS object: %w", err)
}

func (g *GCSSource) String() string {
	return "gs://" + path.Join(g.bucket, g.prefix)
}

func (g *GCSSource) Close() error {
	return g.client.Close()
}
