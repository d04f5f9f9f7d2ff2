package loader

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// compressedSuffixes are tried in order after the plain file name.
var compressedSuffixes = []string{"", ".gz", ".zst", ".lz4"}

// openTable finds name or one of its compressed variants and returns a
// decompressing reader together with the resolved file name.
func openTable(ctx context.Context, src Source, name string) (io.ReadCloser, string, error) {
	for _, suffix := range compressedSuffixes {
		candidate := name + suffix
		ok, err := src.Exists(ctx, candidate)
		if err != nil {
			return nil, "", fmt.Errorf("stat %s: %w", candidate, err)
		}
		if !ok {
			continue
		}
		raw, err := src.Open(ctx, candidate)
		if err != nil {
			return nil, "", err
		}
		rc, err := decompress(raw, candidate)
		if err != nil {
			raw.Close()
			return nil, "", err
		}
		return rc, candidate, nil
	}
	return nil, "", fmt.Errorf("%w: %s in %s", ErrMissingFile, name, src)
}

func decompress(raw io.ReadCloser, name string) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(name, ".gz"):
		zr, err := gzip.NewReader(raw)
		if err != nil {
			return nil, fmt.Errorf("open gzip %s: %w", name, err)
		}
		return &stackedReader{Reader: zr, closers: []func() error{zr.Close, raw.Close}}, nil
	case strings.HasSuffix(name, ".zst"):
		zr, err := zstd.NewReader(raw)
		if err != nil {
			return nil, fmt.Errorf("open zstd %s: %w", name, err)
		}
		return &stackedReader{Reader: zr, closers: []func() error{
			func() error { zr.Close(); return nil },
			raw.Close,
		}}, nil
	case strings.HasSuffix(name, ".lz4"):
		return &stackedReader{Reader: lz4.NewReader(raw), closers: []func() error{raw.Close}}, nil
	default:
		return raw, nil
	}
}

// stackedReader closes the decoder before the underlying file.
type stackedReader struct {
	io.Reader
	closers []func() error
}

func (s *stackedReader) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
