// Package sequence linearizes a relabelled temporal tree into a token sequence.
package sequence

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/hyperjump/uttree/internal/relabel"
	"github.com/hyperjump/uttree/internal/tree"
)

// Sequence is the breadth-first list of final-round labels of one tree.
// It is never mutated after Generate returns.
type Sequence []relabel.Label

// Generate walks t breadth-first from the root, visiting children in
// structural order (days ascending, then Retrospective, NewFinding, RealTime,
// then event order) and emits each node's label from a.
func Generate(t *tree.Tree, a relabel.Assignment) (Sequence, error) {
	if t == nil {
		return nil, fmt.Errorf("nil tree")
	}
	if a.Len() != t.Len() {
		return nil, fmt.Errorf("label assignment covers %d nodes, tree has %d", a.Len(), t.Len())
	}
	seq := make(Sequence, 0, t.Len())
	queue := make([]tree.NodeID, 0, t.Len())
	queue = append(queue, tree.Root)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		seq = append(seq, a.Label(id))
		queue = append(queue, t.Children(id)...)
	}
	return seq, nil
}

// Tokens returns the hex rendering of every label.
func (s Sequence) Tokens() []string {
	out := make([]string, len(s))
	for i, l := range s {
		out[i] = l.String()
	}
	return out
}

// String joins the tokens with single spaces. This is the text handed to
// text embedding models.
func (s Sequence) String() string {
	return strings.Join(s.Tokens(), " ")
}

// Bytes concatenates the raw labels.
func (s Sequence) Bytes() []byte {
	out := make([]byte, 0, len(s)*relabel.Size)
	for _, l := range s {
		out = append(out, l[:]...)
	}
	return out
}

// Key is a short stable digest of the sequence, used as a cache key.
func (s Sequence) Key() string {
	sum := sha256.Sum256(s.Bytes())
	return hex.EncodeToString(sum[:])
}

// Equal reports whether s and o are identical.
func (s Sequence) Equal(o Sequence) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Parse reads a sequence written by String.
func Parse(text string) (Sequence, error) {
	fields := strings.Fields(text)
	seq := make(Sequence, 0, len(fields))
	for _, f := range fields {
		l, err := relabel.ParseLabel(f)
		if err != nil {
			return nil, err
		}
		seq = append(seq, l)
	}
	return seq, nil
}
