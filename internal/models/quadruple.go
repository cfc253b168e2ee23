// Package models defines the clinical event data model: quadruples, admissions, and query results.
package models

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TemporalType classifies an event relative to the admission.
type TemporalType uint8

const (
	// Retrospective is pre-existing history.
	Retrospective TemporalType = iota + 1
	// NewFinding is a condition identified during this stay with lasting effect.
	NewFinding
	// RealTime is a short-acting event such as a drug administration or lab result.
	RealTime
)

// TemporalTypes lists the temporal types in canonical tree order.
var TemporalTypes = []TemporalType{Retrospective, NewFinding, RealTime}

func (t TemporalType) String() string {
	switch t {
	case Retrospective:
		return "Retrospective"
	case NewFinding:
		return "NewFinding"
	case RealTime:
		return "RealTime"
	default:
		return "TemporalType(" + strconv.Itoa(int(t)) + ")"
	}
}

// Valid reports whether t is one of the known temporal types.
func (t TemporalType) Valid() bool {
	return t >= Retrospective && t <= RealTime
}

// ParseTemporalType parses a temporal type name. Spellings used by the
// upstream extraction scripts ("Retro", "New Finding", "New_Finding") are accepted.
func ParseTemporalType(s string) (TemporalType, error) {
	switch normalizeName(s) {
	case "retrospective", "retro":
		return Retrospective, nil
	case "newfinding":
		return NewFinding, nil
	case "realtime":
		return RealTime, nil
	}
	return 0, fmt.Errorf("unknown temporal type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t TemporalType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid temporal type %d", t)
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TemporalType) UnmarshalText(b []byte) error {
	v, err := ParseTemporalType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Category is the coarse kind of a clinical event.
type Category uint8

const (
	Diagnosis Category = iota + 1
	Drug
	Lab
	Procedure
	ExtractedConcept
)

func (c Category) String() string {
	switch c {
	case Diagnosis:
		return "Diagnosis"
	case Drug:
		return "Drug"
	case Lab:
		return "Lab"
	case Procedure:
		return "Procedure"
	case ExtractedConcept:
		return "ExtractedConcept"
	default:
		return "Category(" + strconv.Itoa(int(c)) + ")"
	}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	return c >= Diagnosis && c <= ExtractedConcept
}

// ParseCategory parses a category name (case and separator insensitive).
func ParseCategory(s string) (Category, error) {
	switch normalizeName(s) {
	case "diagnosis":
		return Diagnosis, nil
	case "drug", "prescription":
		return Drug, nil
	case "lab", "labevent":
		return Lab, nil
	case "procedure":
		return Procedure, nil
	case "extractedconcept", "concept":
		return ExtractedConcept, nil
	}
	return 0, fmt.Errorf("unknown category %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (c Category) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid category %d", c)
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Category) UnmarshalText(b []byte) error {
	v, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
}

// ValueKind tags the variant held by a Value.
type ValueKind uint8

const (
	// ValueNumeric is a measurement with an optional unit.
	ValueNumeric ValueKind = iota + 1
	// ValueCoded is a concept from a terminology (system + code).
	ValueCoded
	// ValueText is a free-text descriptor such as "glucose-high".
	ValueText
)

func (k ValueKind) String() string {
	switch k {
	case ValueNumeric:
		return "numeric"
	case ValueCoded:
		return "coded"
	case ValueText:
		return "text"
	default:
		return "unknown"
	}
}

// ParseValueKind parses "numeric", "coded", or "text". Empty means text.
func ParseValueKind(s string) (ValueKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "numeric", "number":
		return ValueNumeric, nil
	case "coded", "code":
		return ValueCoded, nil
	case "text", "":
		return ValueText, nil
	}
	return 0, fmt.Errorf("unknown value kind %q", s)
}

// Value is the event-specific descriptor. It is a closed union over
// ValueKind; construct it with Numeric, Coded, or Text.
type Value struct {
	kind   ValueKind
	number float64
	unit   string
	system string
	code   string
	text   string
}

// Numeric returns a numeric value. Negative zero is folded into zero.
func Numeric(v float64, unit string) Value {
	if v == 0 {
		v = 0
	}
	return Value{kind: ValueNumeric, number: v, unit: strings.TrimSpace(unit)}
}

// Coded returns a terminology concept value.
func Coded(system, code string) Value {
	return Value{kind: ValueCoded, system: strings.TrimSpace(system), code: strings.TrimSpace(code)}
}

// Text returns a free-text value.
func Text(s string) Value {
	return Value{kind: ValueText, text: strings.TrimSpace(s)}
}

// Kind returns the variant tag.
func (v Value) Kind() ValueKind { return v.kind }

// Number returns the numeric payload and unit; ok is false for other kinds.
func (v Value) Number() (n float64, unit string, ok bool) {
	return v.number, v.unit, v.kind == ValueNumeric
}

// Code returns the coded payload; ok is false for other kinds.
func (v Value) Code() (system, code string, ok bool) {
	return v.system, v.code, v.kind == ValueCoded
}

// IsZero reports whether the value carries no usable payload.
func (v Value) IsZero() bool {
	switch v.kind {
	case ValueNumeric:
		return math.IsNaN(v.number) || math.IsInf(v.number, 0)
	case ValueCoded:
		return v.code == ""
	case ValueText:
		return v.text == ""
	default:
		return true
	}
}

// String renders the value for display and keyword indexing.
func (v Value) String() string {
	switch v.kind {
	case ValueNumeric:
		s := strconv.FormatFloat(v.number, 'g', -1, 64)
		if v.unit != "" {
			s += " " + v.unit
		}
		return s
	case ValueCoded:
		if v.system == "" {
			return v.code
		}
		return v.system + ":" + v.code
	case ValueText:
		return v.text
	default:
		return ""
	}
}

// AppendCanonical appends an unambiguous byte encoding of v to b:
// the kind tag followed by each field as a length-prefixed string.
func (v Value) AppendCanonical(b []byte) []byte {
	b = append(b, byte(v.kind))
	switch v.kind {
	case ValueNumeric:
		b = appendField(b, strconv.FormatFloat(v.number, 'g', -1, 64))
		b = appendField(b, v.unit)
	case ValueCoded:
		b = appendField(b, v.system)
		b = appendField(b, v.code)
	case ValueText:
		b = appendField(b, v.text)
	}
	return b
}

func appendField(b []byte, s string) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(s)))
	return append(b, s...)
}

// Compare orders values by their canonical encoding, so distinct values never
// compare equal.
func (v Value) Compare(o Value) int {
	return bytes.Compare(v.AppendCanonical(nil), o.AppendCanonical(nil))
}

type valueJSON struct {
	Kind   string   `json:"kind"`
	Number *float64 `json:"number,omitempty"`
	Unit   string   `json:"unit,omitempty"`
	System string   `json:"system,omitempty"`
	Code   string   `json:"code,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	out := valueJSON{Kind: v.kind.String()}
	switch v.kind {
	case ValueNumeric:
		n := v.number
		out.Number = &n
		out.Unit = v.unit
	case ValueCoded:
		out.System = v.system
		out.Code = v.code
	case ValueText:
		out.Text = v.text
	default:
		return []byte("null"), nil
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler. A bare JSON string is read as a text value.
func (v *Value) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*v = Text(s)
		return nil
	}
	var in valueJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	kind, err := ParseValueKind(in.Kind)
	if err != nil {
		return err
	}
	switch kind {
	case ValueNumeric:
		if in.Number == nil {
			return fmt.Errorf("numeric value requires number")
		}
		*v = Numeric(*in.Number, in.Unit)
	case ValueCoded:
		*v = Coded(in.System, in.Code)
	default:
		*v = Text(in.Text)
	}
	return nil
}

// Quadruple is a single timestamped clinical event.
type Quadruple struct {
	Timestamp    time.Time    `json:"timestamp"`
	TemporalType TemporalType `json:"temporal_type"`
	Category     Category     `json:"category"`
	Value        Value        `json:"value"`
}

// Validate checks the required fields. It does not check the admission window.
func (q Quadruple) Validate() error {
	switch {
	case q.Timestamp.IsZero():
		return fmt.Errorf("missing timestamp")
	case !q.TemporalType.Valid():
		return fmt.Errorf("invalid temporal type %d", q.TemporalType)
	case !q.Category.Valid():
		return fmt.Errorf("invalid category %d", q.Category)
	case q.Value.IsZero():
		return fmt.Errorf("missing value")
	}
	return nil
}

// Less orders quadruples by timestamp, then category, then value.
func (q Quadruple) Less(o Quadruple) bool {
	if !q.Timestamp.Equal(o.Timestamp) {
		return q.Timestamp.Before(o.Timestamp)
	}
	if q.Category != o.Category {
		return q.Category < o.Category
	}
	return q.Value.Compare(o.Value) < 0
}
