// Package relabel assigns Weisfeiler-Lehman labels to temporal tree nodes.
// Labels are content hashes: two nodes in any two trees share a label exactly
// when their subtrees are isomorphic under node-content equality.
package relabel

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Size is the label width in bytes (SHA-256 truncated to 128 bits).
const Size = 16

// Label is a truncated content hash.
type Label [Size]byte

// String renders the label as lowercase hex.
func (l Label) String() string { return hex.EncodeToString(l[:]) }

// IsZero reports whether l is the zero label, which no hash produces in practice.
func (l Label) IsZero() bool { return l == Label{} }

// Compare orders labels bytewise.
func (l Label) Compare(o Label) int { return bytes.Compare(l[:], o[:]) }

// MarshalText implements encoding.TextMarshaler.
func (l Label) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Label) UnmarshalText(b []byte) error {
	v, err := ParseLabel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// ParseLabel parses a hex-rendered label.
func ParseLabel(s string) (Label, error) {
	var l Label
	if len(s) != 2*Size {
		return l, fmt.Errorf("label %q: want %d hex characters", s, 2*Size)
	}
	if _, err := hex.Decode(l[:], []byte(s)); err != nil {
		return l, fmt.Errorf("label %q: %w", s, err)
	}
	return l, nil
}

// hasher builds a length-prefixed tuple encoding and hashes it.
type hasher struct {
	buf []byte
}

func newHasher(tag string) *hasher {
	h := &hasher{buf: make([]byte, 0, 64)}
	return h.str(tag)
}

func (h *hasher) str(s string) *hasher {
	h.buf = binary.BigEndian.AppendUint32(h.buf, uint32(len(s)))
	h.buf = append(h.buf, s...)
	return h
}

func (h *hasher) bytes(b []byte) *hasher {
	h.buf = binary.BigEndian.AppendUint32(h.buf, uint32(len(b)))
	h.buf = append(h.buf, b...)
	return h
}

func (h *hasher) int(n int64) *hasher {
	h.buf = binary.BigEndian.AppendUint32(h.buf, 8)
	h.buf = binary.BigEndian.AppendUint64(h.buf, uint64(n))
	return h
}

func (h *hasher) sum() Label {
	full := sha256.Sum256(h.buf)
	var l Label
	copy(l[:], full[:Size])
	return l
}
