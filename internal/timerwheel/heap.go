// Package timerwheel implements the indexed min-heap used to expire idle
// connections. One node exists per live connection file descriptor,
// ordered by absolute deadline ascending.
package timerwheel

import (
	"container/heap"
	"time"
)

// node is a single timer entry. idx is maintained by the heap's Swap hook
// so ref[fd] always points at the node's current array position.
type node struct {
	fd       int
	deadline time.Time
	cb       func()
	idx      int
}

// innerHeap implements heap.Interface. Swap is the synchronization point
// that keeps ref[fd] -> idx correct across every sift.
type innerHeap struct {
	nodes []*node
	ref   map[int]int
}

func (h innerHeap) Len() int            { return len(h.nodes) }
func (h innerHeap) Less(i, j int) bool  { return h.nodes[i].deadline.Before(h.nodes[j].deadline) }
func (h innerHeap) Swap(i, j int) {
	h.nodes[i], h.nodes[j] = h.nodes[j], h.nodes[i]
	h.nodes[i].idx = i
	h.nodes[j].idx = j
	h.ref[h.nodes[i].fd] = i
	h.ref[h.nodes[j].fd] = j
}

func (h *innerHeap) Push(x any) {
	n := x.(*node)
	n.idx = len(h.nodes)
	h.ref[n.fd] = n.idx
	h.nodes = append(h.nodes, n)
}

func (h *innerHeap) Pop() any {
	old := h.nodes
	n := len(old)
	last := old[n-1]
	old[n-1] = nil
	h.nodes = old[:n-1]
	delete(h.ref, last.fd)
	return last
}

// Wheel is the indexed min-heap timer.
type Wheel struct {
	h innerHeap
}

// New returns an empty timer wheel.
func New() *Wheel {
	return &Wheel{h: innerHeap{ref: make(map[int]int)}}
}

// Add registers or re-registers fd with a deadline of now+timeout and the
// given callback. If fd already has a node, its deadline and callback are
// replaced and the heap is re-sifted from that position; otherwise a new
// node is pushed at the tail and sifted up.
func (w *Wheel) Add(fd int, timeout time.Duration, cb func()) {
	deadline := time.Now().Add(timeout)
	if i, ok := w.h.ref[fd]; ok {
		w.h.nodes[i].deadline = deadline
		w.h.nodes[i].cb = cb
		heap.Fix(&w.h, i)
		return
	}
	heap.Push(&w.h, &node{fd: fd, deadline: deadline, cb: cb})
}

// Adjust moves fd's deadline to now+timeout, re-sifting the heap. It is a
// no-op if fd is not present.
func (w *Wheel) Adjust(fd int, timeout time.Duration) {
	i, ok := w.h.ref[fd]
	if !ok {
		return
	}
	w.h.nodes[i].deadline = time.Now().Add(timeout)
	heap.Fix(&w.h, i)
}

// Remove drops fd's node, if present, without invoking its callback. Used
// when a connection closes for a reason other than timer expiry.
func (w *Wheel) Remove(fd int) {
	i, ok := w.h.ref[fd]
	if !ok {
		return
	}
	heap.Remove(&w.h, i)
}

// Tick invokes and pops every node whose deadline has passed. Callbacks
// must not attempt to remove their own node — Tick has already popped it
// by the time the callback runs.
func (w *Wheel) Tick() {
	now := time.Now()
	for w.h.Len() > 0 {
		top := w.h.nodes[0]
		if top.deadline.After(now) {
			return
		}
		heap.Pop(&w.h)
		top.cb()
	}
}

// NextTick runs Tick() and then reports the duration until the next
// deadline. ok is false when the wheel is empty (caller should pass an
// indefinite wait to the dispatcher).
func (w *Wheel) NextTick() (d time.Duration, ok bool) {
	w.Tick()
	if w.h.Len() == 0 {
		return 0, false
	}
	d = w.h.nodes[0].deadline.Sub(time.Now())
	if d < 0 {
		d = 0
	}
	return d, true
}

// Len reports the number of live timer nodes, for tests and diagnostics.
func (w *Wheel) Len() int { return w.h.Len() }
