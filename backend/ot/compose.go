package ot

import (
	"Co-Edit/backend/types"

	"golang.org/x/xerrors"
)

// Compose merges a and b into a single operation such that applying it has
// the same effect as applying a then b.
func Compose(a, b types.Operation) (types.Operation, error) {
	if a.TargetLength() != b.BaseLength() {
		return types.Operation{}, xerrors.Errorf("%d != %d: %w", a.TargetLength(), b.BaseLength(), ErrComposeLengthMismatch)
	}

	composed := types.NewBuilder()
	ia := newStepIterator(a)
	ib := newStepIterator(b)

	for ia.ok || ib.ok {
		// deletes of a never reach b
		if ia.is(types.DeleteStep) {
			composed.Delete(ia.cur.N)
			ia.advance()
			continue
		}
		// inserts of b do not consume anything from a
		if ib.is(types.InsertStep) {
			composed.Insert(ib.cur.Text)
			ib.advance()
			continue
		}

		if !ia.ok {
			return types.Operation{}, xerrors.Errorf("first operation exhausted before %s: %w", ib.cur, ErrShortOperation)
		}
		if !ib.ok {
			return types.Operation{}, xerrors.Errorf("second operation exhausted before %s: %w", ia.cur, ErrShortOperation)
		}

		n := min(ia.cur.Len(), ib.cur.Len())

		switch {
		case ia.cur.Kind == types.RetainStep && ib.cur.Kind == types.RetainStep:
			composed.Retain(n)
		case ia.cur.Kind == types.InsertStep && ib.cur.Kind == types.DeleteStep:
			// inserted then deleted: nothing survives
		case ia.cur.Kind == types.InsertStep && ib.cur.Kind == types.RetainStep:
			composed.Insert(ia.head(n))
		case ia.cur.Kind == types.RetainStep && ib.cur.Kind == types.DeleteStep:
			composed.Delete(n)
		}

		ia.take(n)
		ib.take(n)
	}

	return composed.Build()
}
