// Package bitset implements a growable set of small non-negative integers.
package bitset

import (
	"fmt"
	"math/bits"
	"strings"
)

// Set is a set of non-negative integers. The zero value is an empty set.
//
// Sets share their backing array when copied by value; use Clone to get an independent copy.
type Set struct {
	bits []uint64
}

// New returns a set with room for n elements without growing.
func New(n int) Set {
	return Set{bits: make([]uint64, 0, (n+63)/64)}
}

// Has returns true if i is in the set.
func (s *Set) Has(i int) bool {
	index, shift := i/64, uint(i%64)
	return index < len(s.bits) && s.bits[index]&(1<<shift) != 0
}

// Add inserts i.
func (s *Set) Add(i int) {
	if i < 0 {
		panic(fmt.Sprintf("BUG: negative set element %d", i))
	}
	index, shift := i/64, uint(i%64)
	if index >= len(s.bits) {
		s.bits = append(s.bits, make([]uint64, index+1-len(s.bits))...)
	}
	s.bits[index] |= 1 << shift
}

// Remove deletes i.
func (s *Set) Remove(i int) {
	index, shift := i/64, uint(i%64)
	if index < len(s.bits) {
		s.bits[index] &^= 1 << shift
	}
}

// Reset empties the set, keeping its storage.
func (s *Set) Reset() {
	s.bits = s.bits[:0]
}

// Clone returns an independent copy.
func (s *Set) Clone() Set {
	return Set{bits: append([]uint64(nil), s.bits...)}
}

// Assign makes s hold the elements of o.
func (s *Set) Assign(o *Set) {
	s.bits = append(s.bits[:0], o.bits...)
}

// Len returns the number of elements.
func (s *Set) Len() (n int) {
	for _, w := range s.bits {
		n += bits.OnesCount64(w)
	}
	return
}

// Empty returns true if the set has no elements.
func (s *Set) Empty() bool {
	for _, w := range s.bits {
		if w != 0 {
			return false
		}
	}
	return true
}

// Range calls f for each element in ascending order.
func (s *Set) Range(f func(i int)) {
	for i, v := range s.bits {
		for v != 0 {
			n := bits.TrailingZeros64(v)
			f(i*64 + n)
			v &= v - 1
		}
	}
}

// Slice returns the elements in ascending order, nil for an empty set.
func (s *Set) Slice() (ret []int) {
	s.Range(func(i int) { ret = append(ret, i) })
	return
}

// Equal returns true if both sets hold the same elements.
func (s *Set) Equal(o *Set) bool {
	a, b := s.bits, o.bits
	if len(a) < len(b) {
		a, b = b, a
	}
	for i := range b {
		if a[i] != b[i] {
			return false
		}
	}
	for _, w := range a[len(b):] {
		if w != 0 {
			return false
		}
	}
	return true
}

// Union adds the elements of o and reports whether s changed.
func (s *Set) Union(o *Set) (changed bool) {
	if len(o.bits) > len(s.bits) {
		s.bits = append(s.bits, make([]uint64, len(o.bits)-len(s.bits))...)
	}
	for i, w := range o.bits {
		if n := s.bits[i] | w; n != s.bits[i] {
			s.bits[i] = n
			changed = true
		}
	}
	return
}

// Subtract removes the elements of o.
func (s *Set) Subtract(o *Set) {
	for i := range s.bits {
		if i >= len(o.bits) {
			break
		}
		s.bits[i] &^= o.bits[i]
	}
}

// Intersect keeps only the elements also in o.
func (s *Set) Intersect(o *Set) {
	for i := range s.bits {
		if i < len(o.bits) {
			s.bits[i] &= o.bits[i]
		} else {
			s.bits[i] = 0
		}
	}
}

// String implements fmt.Stringer.
func (s Set) String() string {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	s.Range(func(i int) {
		if !first {
			b.WriteString(", ")
		}
		first = false
		fmt.Fprint(&b, i)
	})
	b.WriteByte('}')
	return b.String()
}
