package ot

import (
	"unicode/utf16"

	"Co-Edit/backend/types"
)

// stepIterator walks the steps of an operation and lets callers consume a
// step partially. The remainder of a partially consumed step stays current.
type stepIterator struct {
	op   types.Operation
	next int

	cur types.Step
	ok  bool
}

func newStepIterator(op types.Operation) *stepIterator {
	it := &stepIterator{op: op}
	it.advance()
	return it
}

func (it *stepIterator) advance() {
	if it.next >= it.op.Len() {
		it.ok = false
		it.cur = types.Step{}
		return
	}
	it.cur = it.op.At(it.next)
	it.next++
	it.ok = true
}

func (it *stepIterator) is(kind types.StepKind) bool {
	return it.ok && it.cur.Kind == kind
}

// take consumes n characters of the current step, n <= it.cur.Len().
func (it *stepIterator) take(n int) {
	if n >= it.cur.Len() {
		it.advance()
		return
	}
	if it.cur.Kind == types.InsertStep {
		units := utf16.Encode([]rune(it.cur.Text))
		it.cur.Text = string(utf16.Decode(units[n:]))
		return
	}
	it.cur.N -= n
}

// head returns the first n characters of the current insert.
func (it *stepIterator) head(n int) string {
	units := utf16.Encode([]rune(it.cur.Text))
	if n >= len(units) {
		return it.cur.Text
	}
	return string(utf16.Decode(units[:n]))
}

