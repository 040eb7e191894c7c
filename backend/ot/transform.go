package ot

import (
	"Co-Edit/backend/types"

	"golang.org/x/xerrors"
)

// Transform takes two operations a and b made concurrently against the same
// document and returns a' and b' such that
//
//	Apply(Apply(S, a), b') == Apply(Apply(S, b), a')
//
// When both operations insert at the same position, a's text is placed first.
func Transform(a, b types.Operation) (aPrime, bPrime types.Operation, err error) {
	if a.BaseLength() != b.BaseLength() {
		return types.Operation{}, types.Operation{}, xerrors.Errorf("%d != %d: %w", a.BaseLength(), b.BaseLength(), ErrBaseLengthMismatch)
	}

	ap := types.NewBuilder()
	bp := types.NewBuilder()
	ia := newStepIterator(a)
	ib := newStepIterator(b)

	for ia.ok || ib.ok {
		if ia.is(types.InsertStep) {
			ap.Insert(ia.cur.Text)
			bp.Retain(ia.cur.Len())
			ia.advance()
			continue
		}
		if ib.is(types.InsertStep) {
			ap.Retain(ib.cur.Len())
			bp.Insert(ib.cur.Text)
			ib.advance()
			continue
		}

		if !ia.ok || !ib.ok {
			return types.Operation{}, types.Operation{}, xerrors.Errorf("%s vs %s: %w", a, b, ErrShortOperation)
		}

		n := min(ia.cur.Len(), ib.cur.Len())

		switch {
		case ia.cur.Kind == types.RetainStep && ib.cur.Kind == types.RetainStep:
			ap.Retain(n)
			bp.Retain(n)
		case ia.cur.Kind == types.DeleteStep && ib.cur.Kind == types.DeleteStep:
			// both deleted the same span
		case ia.cur.Kind == types.DeleteStep && ib.cur.Kind == types.RetainStep:
			ap.Delete(n)
		case ia.cur.Kind == types.RetainStep && ib.cur.Kind == types.DeleteStep:
			bp.Delete(n)
		}

		ia.take(n)
		ib.take(n)
	}

	aPrime, err = ap.Build()
	if err != nil {
		return types.Operation{}, types.Operation{}, err
	}
	bPrime, err = bp.Build()
	if err != nil {
		return types.Operation{}, types.Operation{}, err
	}
	return aPrime, bPrime, nil
}

// TransformAgainst folds Transform over history, carrying op forward past
// every entry. Each history entry is the first operand, so at equal offsets
// the already committed insert stays in front of the incoming one. Clients
// rebasing their pending edits must use the same operand order or replicas
// diverge.
func TransformAgainst(op types.Operation, history []types.Operation) (types.Operation, error) {
	for i, h := range history {
		var err error
		_, op, err = Transform(h, op)
		if err != nil {
			return types.Operation{}, xerrors.Errorf("failed to transform against history entry %d: %w", i, err)
		}
	}
	return op, nil
}
