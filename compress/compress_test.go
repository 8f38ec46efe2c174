package compress

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func TestParse(t *testing.T) {
	for _, tag := range []Tag{None, LZ4, Zstd} {
		got, err := Parse(tag.String())
		if err != nil || got != tag {
			t.Errorf("Parse(%q) = %v, %v", tag.String(), got, err)
		}
	}
	if got, err := Parse(""); err != nil || got != None {
		t.Errorf("Parse(\"\") = %v, %v", got, err)
	}
	if _, err := Parse("gzip"); err == nil {
		t.Errorf("expected an error for an unknown name")
	}
}

func TestRoundTrip(t *testing.T) {
	text := bytes.Repeat([]byte("erasure coded object store "), 200)
	for _, tag := range []Tag{None, LZ4, Zstd} {
		t.Run(tag.String(), func(t *testing.T) {
			compressed, err := Compress(text, tag)
			if err != nil {
				t.Fatal(err)
			}
			if tag != None && len(compressed) >= len(text) {
				t.Errorf("expected compression, got %d bytes from %d", len(compressed), len(text))
			}
			out, err := Decompress(compressed, tag, len(text))
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(out, text) {
				t.Errorf("round trip mismatch")
			}
		})
	}
}

func TestIncompressible(t *testing.T) {
	random := make([]byte, 4096)
	rand.New(rand.NewSource(1)).Read(random)

	for _, tag := range []Tag{LZ4, Zstd} {
		if _, err := Compress(random, tag); !errors.Is(err, ErrIncompressible) {
			t.Errorf("%s: expected ErrIncompressible, got %v", tag, err)
		}
		out, applied, err := Auto(random, tag)
		if err != nil {
			t.Fatal(err)
		}
		if applied != None || !bytes.Equal(out, random) {
			t.Errorf("%s: expected a fallback to none", tag)
		}
	}
}

func TestDecompressSizeMismatch(t *testing.T) {
	text := bytes.Repeat([]byte("abc"), 100)
	for _, tag := range []Tag{None, LZ4, Zstd} {
		compressed, err := Compress(text, tag)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := Decompress(compressed, tag, len(text)+1); err == nil {
			t.Errorf("%s: expected a size mismatch error", tag)
		}
	}
}
