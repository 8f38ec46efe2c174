package checksum

import (
	"encoding/hex"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		expected Algorithm
		hasError bool
	}{
		{"", BLAKE3, false},
		{"blake3", BLAKE3, false},
		{"sha256", SHA256, false},
		{"md5", "", true},
	}
	for _, tt := range tests {
		got, err := Parse(tt.name)
		if (err != nil) != tt.hasError {
			t.Errorf("Parse(%q): expected error %v, got %v", tt.name, tt.hasError, err)
		}
		if got != tt.expected {
			t.Errorf("Parse(%q) = %q, expected %q", tt.name, got, tt.expected)
		}
	}
}

func TestKnownDigests(t *testing.T) {
	tests := []struct {
		algorithm Algorithm
		expected  string
	}{
		{SHA256, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{BLAKE3, "6437b3ac38465133ffb63b75273a8db548c558465d79db03fd359c6cd5bd9d85"},
	}
	for _, tt := range tests {
		sum, err := tt.algorithm.Sum([]byte("abc"))
		if err != nil {
			t.Fatal(err)
		}
		if sum != tt.expected {
			t.Errorf("%s(abc) = %s, expected %s", tt.algorithm, sum, tt.expected)
		}

		h, err := tt.algorithm.New()
		if err != nil {
			t.Fatal(err)
		}
		h.Write([]byte("a"))
		h.Write([]byte("bc"))
		if got := hex.EncodeToString(h.Sum(nil)); got != tt.expected {
			t.Errorf("%s streaming digest = %s, expected %s", tt.algorithm, got, tt.expected)
		}
	}
}

func TestVerify(t *testing.T) {
	data := []byte("shard bytes")
	for _, a := range []Algorithm{BLAKE3, SHA256} {
		sum, err := a.Sum(data)
		if err != nil {
			t.Fatal(err)
		}
		if ok, err := a.Verify(data, sum); err != nil || !ok {
			t.Errorf("%s: expected a match, got %v, %v", a, ok, err)
		}
		if ok, _ := a.Verify([]byte("other bytes"), sum); ok {
			t.Errorf("%s: expected a mismatch", a)
		}
	}
	if _, err := Algorithm("crc32").Verify(data, ""); err == nil {
		t.Errorf("expected an error for an unknown algorithm")
	}
}
