// Package embed turns transcript text into fixed-length vectors and ranks
// segments by semantic similarity to a query.
package embed

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// Special vocabulary entries of BERT-style wordpiece models.
const (
	unkToken = "[UNK]"
	clsToken = "[CLS]"
	sepToken = "[SEP]"
)

// maxWordChars caps wordpiece matching; longer words map straight to [UNK].
const maxWordChars = 100

// Tokenizer is a lowercasing wordpiece tokenizer loaded from a vocab file
// (one token per line, line number = id).
type Tokenizer struct {
	vocab map[string]int64
	unkID int64
	clsID int64
	sepID int64
	hasCls bool
	hasSep bool
}

// NewTokenizer loads the vocabulary file. A missing or unreadable vocab is a
// fatal startup error; the engine must not run without it.
func NewTokenizer(vocabPath string) (*Tokenizer, error) {
	f, err := os.Open(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("opening vocabulary %s: %w", vocabPath, err)
	}
	defer f.Close()

	vocab := make(map[string]int64)
	scanner := bufio.NewScanner(f)
	var id int64
	for scanner.Scan() {
		token := strings.TrimRight(scanner.Text(), "\r\n")
		if token == "" {
			id++
			continue
		}
		vocab[token] = id
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading vocabulary %s: %w", vocabPath, err)
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("vocabulary %s is empty", vocabPath)
	}

	t := &Tokenizer{vocab: vocab}
	var ok bool
	if t.unkID, ok = vocab[unkToken]; !ok {
		return nil, fmt.Errorf("vocabulary %s has no %s token", vocabPath, unkToken)
	}
	t.clsID, t.hasCls = vocab[clsToken]
	t.sepID, t.hasSep = vocab[sepToken]
	return t, nil
}

// Encode tokenizes text into input ids and an attention mask of equal length.
// Whitespace-only text yields empty slices.
func (t *Tokenizer) Encode(text string) (inputIDs, attentionMask []int64) {
	words := splitWords(strings.ToLower(text))
	if len(words) == 0 {
		return nil, nil
	}

	if t.hasCls {
		inputIDs = append(inputIDs, t.clsID)
	}
	for _, word := range words {
		inputIDs = append(inputIDs, t.wordpieces(word)...)
	}
	if t.hasSep {
		inputIDs = append(inputIDs, t.sepID)
	}

	attentionMask = make([]int64, len(inputIDs))
	for i := range attentionMask {
		attentionMask[i] = 1
	}
	return inputIDs, attentionMask
}

// wordpieces splits one word into vocabulary pieces using greedy
// longest-match-first, with "##" continuation pieces. A word with no match
// becomes a single [UNK].
func (t *Tokenizer) wordpieces(word string) []int64 {
	runes := []rune(word)
	if len(runes) > maxWordChars {
		return []int64{t.unkID}
	}

	var ids []int64
	start := 0
	for start < len(runes) {
		end := len(runes)
		var pieceID int64
		found := false
		for end > start {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := t.vocab[piece]; ok {
				pieceID = id
				found = true
				break
			}
			end--
		}
		if !found {
			return []int64{t.unkID}
		}
		ids = append(ids, pieceID)
		start = end
	}
	return ids
}

// splitWords performs basic tokenization: whitespace splits, and punctuation
// becomes its own word.
func splitWords(text string) []string {
	var words []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return words
}
