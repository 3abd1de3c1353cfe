// Package bitmap is a fixed-size set of numbered bits used to track free
// physical frames and free stack slots.
package bitmap

import "math/bits"

// Bitmap is not safe for concurrent use; owners guard it with their own lock.
type Bitmap struct {
	n     int
	words []uint64
}

func New(n int) *Bitmap {
	if n < 0 {
		n = 0
	}
	return &Bitmap{n: n, words: make([]uint64, (n+63)/64)}
}

func (b *Bitmap) Len() int { return b.n }

func (b *Bitmap) Mark(i int) {
	b.check(i)
	b.words[i/64] |= 1 << uint(i%64)
}

func (b *Bitmap) Clear(i int) {
	b.check(i)
	b.words[i/64] &^= 1 << uint(i%64)
}

func (b *Bitmap) Test(i int) bool {
	b.check(i)
	return b.words[i/64]&(1<<uint(i%64)) != 0
}

// Find marks and returns the lowest clear bit, or -1 if every bit is set.
func (b *Bitmap) Find() int {
	for w, word := range b.words {
		if word == ^uint64(0) {
			continue
		}
		i := w*64 + bits.TrailingZeros64(^word)
		if i >= b.n {
			return -1
		}
		b.words[w] |= 1 << uint(i%64)
		return i
	}
	return -1
}

// NumClear counts the clear bits.
func (b *Bitmap) NumClear() int {
	set := 0
	for _, word := range b.words {
		set += bits.OnesCount64(word)
	}
	return b.n - set
}

func (b *Bitmap) check(i int) {
	if i < 0 || i >= b.n {
		panic("bitmap: index out of range")
	}
}
