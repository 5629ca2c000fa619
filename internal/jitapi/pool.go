// Package jitapi holds small utilities shared by the allocator packages.
package jitapi

const poolPageSize = 128

// Pool is a paged arena of T. Pointers returned by Allocate stay valid until Reset.
type Pool[T any] struct {
	pages            []*[poolPageSize]T
	resetFn          func(*T)
	allocated, index int
}

// NewPool returns a new Pool. resetFn, if non-nil, is applied to every item handed out by Allocate.
func NewPool[T any](resetFn func(*T)) Pool[T] {
	ret := Pool[T]{resetFn: resetFn}
	ret.Reset()
	return ret
}

// Allocated returns the number of items handed out since the last Reset.
func (p *Pool[T]) Allocated() int {
	return p.allocated
}

// Allocate returns the next free item.
func (p *Pool[T]) Allocate() *T {
	if p.index == poolPageSize {
		if len(p.pages) == cap(p.pages) {
			p.pages = append(p.pages, new([poolPageSize]T))
		} else {
			i := len(p.pages)
			p.pages = p.pages[:i+1]
			if p.pages[i] == nil {
				p.pages[i] = new([poolPageSize]T)
			}
		}
		p.index = 0
	}
	ret := &p.pages[len(p.pages)-1][p.index]
	if p.resetFn != nil {
		p.resetFn(ret)
	}
	p.index++
	p.allocated++
	return ret
}

// Reset releases all items. Pages are kept for reuse.
func (p *Pool[T]) Reset() {
	p.pages = p.pages[:0]
	p.index = poolPageSize
	p.allocated = 0
}
