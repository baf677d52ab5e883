package embed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// testVocab lays out ids 0..9.
var testVocab = []string{
	"[PAD]", "[UNK]", "[CLS]", "[SEP]",
	"hello", "world", "un", "##believ", "##able", ".",
}

func writeVocab(t *testing.T, tokens []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vocab.txt")
	if err := os.WriteFile(path, []byte(strings.Join(tokens, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("writing vocab: %v", err)
	}
	return path
}

func newTestTokenizer(t *testing.T) *Tokenizer {
	t.Helper()
	tok, err := NewTokenizer(writeVocab(t, testVocab))
	if err != nil {
		t.Fatalf("NewTokenizer: %v", err)
	}
	return tok
}

func TestNewTokenizer_MissingFile(t *testing.T) {
	if _, err := NewTokenizer(filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Fatal("expected error for missing vocab file")
	}
}

func TestNewTokenizer_NoUnkToken(t *testing.T) {
	path := writeVocab(t, []string{"hello", "world"})
	if _, err := NewTokenizer(path); err == nil {
		t.Fatal("expected error for vocab without [UNK]")
	}
}

func TestEncode_Simple(t *testing.T) {
	tok := newTestTokenizer(t)

	ids, mask := tok.Encode("Hello world.")
	want := []int64{2, 4, 5, 9, 3} // [CLS] hello world . [SEP]
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %d, want %d", i, ids[i], want[i])
		}
	}
	if len(mask) != len(ids) {
		t.Fatalf("mask length %d != ids length %d", len(mask), len(ids))
	}
	for i, m := range mask {
		if m != 1 {
			t.Errorf("mask[%d] = %d, want 1", i, m)
		}
	}
}

func TestEncode_WordpieceContinuation(t *testing.T) {
	tok := newTestTokenizer(t)

	ids, _ := tok.Encode("unbelievable")
	want := []int64{2, 6, 7, 8, 3} // [CLS] un ##believ ##able [SEP]
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %d, want %d", i, ids[i], want[i])
		}
	}
}

func TestEncode_UnknownWord(t *testing.T) {
	tok := newTestTokenizer(t)

	ids, _ := tok.Encode("xyzzy")
	want := []int64{2, 1, 3} // [CLS] [UNK] [SEP]
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	if ids[1] != 1 {
		t.Errorf("unknown word mapped to %d, want [UNK]", ids[1])
	}
}

func TestEncode_Blank(t *testing.T) {
	tok := newTestTokenizer(t)

	for _, text := range []string{"", "   ", "\t\n"} {
		ids, mask := tok.Encode(text)
		if len(ids) != 0 || len(mask) != 0 {
			t.Errorf("Encode(%q) = %v, %v; want empty", text, ids, mask)
		}
	}
}
