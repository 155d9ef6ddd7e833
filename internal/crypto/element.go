// element.go - Field element helpers shared by the wire, storage and circuit layers.

package crypto

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// FromUint64 lifts a machine integer into the field.
func FromUint64(v uint64) fr.Element {
	var e fr.Element
	e.SetUint64(v)
	return e
}

// FromBool maps true to one and false to zero.
func FromBool(b bool) fr.Element {
	if b {
		return FromUint64(1)
	}
	return fr.Element{}
}

// Format renders an element as a decimal string.
func Format(e fr.Element) string {
	return e.String()
}

// Parse reads a decimal string. Values at or above the modulus are rejected
// rather than reduced, so every element has exactly one wire form.
func Parse(s string) (fr.Element, error) {
	var e fr.Element
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return e, fmt.Errorf("invalid field element %q", s)
	}
	if v.Sign() < 0 || v.Cmp(fr.Modulus()) >= 0 {
		return e, fmt.Errorf("field element %q out of range", s)
	}
	e.SetBigInt(v)
	return e, nil
}

// FormatAll renders a slice of elements.
func FormatAll(es []fr.Element) []string {
	out := make([]string, len(es))
	for i := range es {
		out[i] = Format(es[i])
	}
	return out
}

// ParseAll parses a slice of decimal strings.
func ParseAll(ss []string) ([]fr.Element, error) {
	out := make([]fr.Element, len(ss))
	for i, s := range ss {
		e, err := Parse(s)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = e
	}
	return out, nil
}

// Key returns the fixed-width map key of an element.
func Key(e fr.Element) [32]byte {
	return e.Bytes()
}

// RandomElement samples a uniform field element from crypto/rand.
func RandomElement() (fr.Element, error) {
	var e fr.Element
	if _, err := e.SetRandom(); err != nil {
		return e, fmt.Errorf("sample field element: %w", err)
	}
	return e, nil
}
