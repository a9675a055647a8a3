package compression

import (
	"bytes"
	"testing"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("columnar log payload "), 100)

	for _, typ := range []Type{TypeNone, TypeGzip, TypeZstd, TypeSnappy, TypeLZ4} {
		t.Run(string(typ), func(t *testing.T) {
			compressed, err := Compress(payload, Config{Type: typ})
			if err != nil {
				t.Fatalf("Compress failed: %v", err)
			}
			if typ != TypeNone && len(compressed) >= len(payload) {
				t.Errorf("expected compression to shrink payload, got %d >= %d", len(compressed), len(payload))
			}
			decompressed, err := Decompress(compressed, typ)
			if err != nil {
				t.Fatalf("Decompress failed: %v", err)
			}
			if !bytes.Equal(decompressed, payload) {
				t.Error("round trip did not restore the payload")
			}
		})
	}
}

func TestCompressGzipLevels(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefgh"), 1000)
	fast, err := Compress(payload, Config{Type: TypeGzip, Level: 1})
	if err != nil {
		t.Fatalf("Compress level 1 failed: %v", err)
	}
	best, err := Compress(payload, Config{Type: TypeGzip, Level: 9})
	if err != nil {
		t.Fatalf("Compress level 9 failed: %v", err)
	}
	for _, data := range [][]byte{fast, best} {
		out, err := Decompress(data, TypeGzip)
		if err != nil {
			t.Fatalf("Decompress failed: %v", err)
		}
		if !bytes.Equal(out, payload) {
			t.Error("round trip did not restore the payload")
		}
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    Type
		wantErr bool
	}{
		{"", TypeNone, false},
		{"none", TypeNone, false},
		{"gzip", TypeGzip, false},
		{"GZIP", TypeGzip, false},
		{" zstd ", TypeZstd, false},
		{"snappy", TypeSnappy, false},
		{"lz4", TypeLZ4, false},
		{"brotli", TypeNone, true},
	}
	for _, tt := range tests {
		got, err := ParseType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseType(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestContentEncoding(t *testing.T) {
	if got := TypeGzip.ContentEncoding(); got != "gzip" {
		t.Errorf("gzip content encoding = %q", got)
	}
	if got := TypeNone.ContentEncoding(); got != "" {
		t.Errorf("none content encoding = %q, want empty", got)
	}
}

func TestDecompressRejectsGarbage(t *testing.T) {
	if _, err := Decompress([]byte("garbage"), TypeGzip); err == nil {
		t.Error("expected gzip decompress of garbage to fail")
	}
	if _, err := Decompress([]byte("garbage"), "unknown"); err == nil {
		t.Error("expected unknown type to fail")
	}
}
