package embedding

import (
	"hash/fnv"
	"strings"
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

const (
	clsToken = 101
	sepToken = 102
	// Hashed tokens map into [firstHashToken, vocabSize) so they never
	// collide with the special tokens below 1000.
	firstHashToken = 1000
	vocabSize      = 30000
)

// LabelTokenizer maps each whitespace-separated label to a hashed vocabulary id.
// Sequences longer than maxTokens-2 are truncated; the BFS order puts the
// root and day-level labels first, so truncation drops leaves before structure.
type LabelTokenizer struct{}

// Tokenize produces [CLS] tokens... [SEP] padded to maxTokens.
func (t *LabelTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 2 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = clsToken
	attentionMask[0] = 1

	pos := 1
	for _, word := range strings.Fields(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = TokenID(word)
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = sepToken
	attentionMask[pos] = 1
	return inputIDs, attentionMask, tokenTypeIDs
}

// TokenID returns the hashed vocabulary id for a token.
func TokenID(token string) int64 {
	return firstHashToken + int64(HashString(token)%(vocabSize-firstHashToken))
}

// HashString returns a deterministic 64-bit FNV-1a hash.
func HashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
