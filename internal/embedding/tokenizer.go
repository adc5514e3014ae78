package embedding

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// BERT special tokens and vocabulary bounds used by SimpleTokenizer.
const (
	tokenPad   = 0
	tokenCLS   = 101
	tokenSEP   = 102
	firstWord  = 1000
	vocabSize  = 30522
	defaultLen = 256
)

// Tokenizer produces the three BERT input tensors for one text, padded to maxTokens.
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// SimpleTokenizer maps lower-cased words to hashed vocabulary IDs. It has no real
// vocabulary, so it only suits models fine-tuned on the same scheme, tests, and
// smoke runs.
type SimpleTokenizer struct{}

// Tokenize returns [CLS] word... [SEP] followed by padding. Words beyond maxTokens-2
// are dropped.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = defaultLen
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	ids := []int64{tokenCLS}
	for _, w := range SplitWords(strings.ToLower(text)) {
		if len(ids) >= maxTokens-1 {
			break
		}
		ids = append(ids, wordID(w))
	}
	if len(ids) < maxTokens {
		ids = append(ids, tokenSEP)
	}
	for i, id := range ids {
		inputIDs[i] = id
		attentionMask[i] = 1
	}
	for i := len(ids); i < maxTokens; i++ {
		inputIDs[i] = tokenPad
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

func wordID(w string) int64 {
	return int64(firstWord + HashString(w)%(vocabSize-firstWord))
}

// SplitWords splits text on Unicode whitespace and returns non-empty words.
func SplitWords(text string) []string {
	words := strings.FieldsFunc(text, unicode.IsSpace)
	if len(words) == 0 {
		return nil
	}
	return words
}

// HashString returns the 64-bit FNV-1a hash of s.
func HashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
