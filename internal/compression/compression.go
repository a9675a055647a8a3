// Package compression provides payload compression for the HTTP upload path.
package compression

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type represents a compression algorithm.
type Type string

const (
	// TypeNone means no compression.
	TypeNone Type = "none"
	// TypeGzip uses gzip compression.
	TypeGzip Type = "gzip"
	// TypeZstd uses zstd compression.
	TypeZstd Type = "zstd"
	// TypeSnappy uses snappy block compression.
	TypeSnappy Type = "snappy"
	// TypeLZ4 uses lz4 frame compression.
	TypeLZ4 Type = "lz4"
)

// Level represents a compression level. Zero means the algorithm default.
type Level int

// Config holds compression configuration.
type Config struct {
	// Type is the compression algorithm to use.
	Type Type
	// Level is the compression level (algorithm-specific, 0 = default).
	Level Level
}

// ParseType parses a compression type string.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return TypeNone, nil
	case "gzip":
		return TypeGzip, nil
	case "zstd":
		return TypeZstd, nil
	case "snappy":
		return TypeSnappy, nil
	case "lz4":
		return TypeLZ4, nil
	default:
		return TypeNone, fmt.Errorf("unsupported compression type: %s", s)
	}
}

// ContentEncoding returns the HTTP Content-Encoding header value for the
// compression type, or empty for none.
func (t Type) ContentEncoding() string {
	switch t {
	case TypeGzip, TypeZstd, TypeSnappy, TypeLZ4:
		return string(t)
	default:
		return ""
	}
}

// Compress compresses data using the configured algorithm and level.
func Compress(data []byte, cfg Config) ([]byte, error) {
	if cfg.Type == TypeNone || cfg.Type == "" {
		return data, nil
	}

	var buf bytes.Buffer
	var err error

	switch cfg.Type {
	case TypeGzip:
		err = compressGzip(&buf, data, cfg.Level)
	case TypeZstd:
		err = compressZstd(&buf, data, cfg.Level)
	case TypeSnappy:
		return snappy.Encode(nil, data), nil
	case TypeLZ4:
		err = compressLZ4(&buf, data)
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", cfg.Type)
	}

	if err != nil {
		return nil, err
	}
	recordCompression(cfg.Type, len(data), buf.Len())
	return buf.Bytes(), nil
}

// Decompress reverses Compress. Used by tests and by backends that accept
// the raw payload.
func Decompress(data []byte, t Type) ([]byte, error) {
	switch t {
	case TypeNone, "":
		return data, nil
	case TypeGzip:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gr.Close()
		return io.ReadAll(gr)
	case TypeZstd:
		decoder, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		defer decoder.Close()
		return io.ReadAll(decoder)
	case TypeSnappy:
		return snappy.Decode(nil, data)
	case TypeLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", t)
	}
}

func compressGzip(w io.Writer, data []byte, level Level) error {
	gzLevel := gzip.DefaultCompression
	if level != 0 {
		gzLevel = int(level)
	}
	gw, err := gzip.NewWriterLevel(w, gzLevel)
	if err != nil {
		return fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if _, err := gw.Write(data); err != nil {
		return fmt.Errorf("failed to write gzip data: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return nil
}

func compressZstd(w io.Writer, data []byte, level Level) error {
	zstdLevel := zstd.SpeedDefault
	if level != 0 {
		zstdLevel = zstd.EncoderLevelFromZstd(int(level))
	}
	encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstdLevel))
	if err != nil {
		return fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	if _, err := encoder.Write(data); err != nil {
		return fmt.Errorf("failed to write zstd data: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("failed to close zstd encoder: %w", err)
	}
	return nil
}

func compressLZ4(w io.Writer, data []byte) error {
	lw := lz4.NewWriter(w)
	if _, err := lw.Write(data); err != nil {
		return fmt.Errorf("failed to write lz4 data: %w", err)
	}
	if err := lw.Close(); err != nil {
		return fmt.Errorf("failed to close lz4 writer: %w", err)
	}
	return nil
}
