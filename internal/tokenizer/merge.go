package tokenizer

import (
	"container/heap"
	"unicode/utf8"
)

// Pair represents a pair of BPE tokens.
type Pair struct {
	A string
	B string
}

type symbol struct {
	start int
	n     int
	prev  int
	next  int
}

type mergeCandidate struct {
	left  int
	right int
	rank  int
	size  int
}

type mergeQueue []mergeCandidate

func (q mergeQueue) Len() int { return len(q) }
func (q mergeQueue) Less(i, j int) bool {
	if q[i].rank == q[j].rank {
		return q[i].left < q[j].left
	}
	return q[i].rank < q[j].rank
}
func (q mergeQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *mergeQueue) Push(x any)   { *q = append(*q, x.(mergeCandidate)) }
func (q *mergeQueue) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}

// mergeWord applies ranked merges to word, lowest rank first and leftmost
// on ties, and returns the resulting pieces.
func mergeWord(word string, ranks map[Pair]int) []string {
	if word == "" {
		return nil
	}
	syms := make([]symbol, 0, utf8.RuneCountInString(word))
	for i := 0; i < len(word); {
		_, size := utf8.DecodeRuneInString(word[i:])
		syms = append(syms, symbol{start: i, n: size, prev: len(syms) - 1, next: len(syms) + 1})
		i += size
	}
	syms[len(syms)-1].next = -1

	piece := func(idx int) string {
		s := syms[idx]
		return word[s.start : s.start+s.n]
	}

	q := &mergeQueue{}
	push := func(left, right int) {
		if left < 0 || right < 0 {
			return
		}
		a, b := piece(left), piece(right)
		rank, ok := ranks[Pair{A: a, B: b}]
		if !ok {
			return
		}
		heap.Push(q, mergeCandidate{left: left, right: right, rank: rank, size: len(a) + len(b)})
	}

	for i := 1; i < len(syms); i++ {
		push(i-1, i)
	}

	for q.Len() > 0 {
		c := heap.Pop(q).(mergeCandidate)
		left := &syms[c.left]
		right := &syms[c.right]
		// Stale: one side was merged away since the candidate was queued.
		if left.n == 0 || right.n == 0 || left.next != c.right || left.n+right.n != c.size {
			continue
		}
		left.n += right.n
		right.n = 0
		left.next = right.next
		if right.next >= 0 {
			syms[right.next].prev = c.left
		}
		push(left.prev, c.left)
		push(c.left, left.next)
	}

	out := make([]string, 0, 4)
	for i := 0; i != -1; i = syms[i].next {
		out = append(out, piece(i))
	}
	return out
}
