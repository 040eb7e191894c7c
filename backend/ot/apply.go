package ot

import (
	"unicode/utf16"

	"Co-Edit/backend/types"

	"golang.org/x/xerrors"
)

// Apply runs op over doc and returns the resulting text.
func Apply(doc string, op types.Operation) (string, error) {
	units := utf16.Encode([]rune(doc))
	out := make([]uint16, 0, len(units))

	cursor := 0
	for i := 0; i < op.Len(); i++ {
		step := op.At(i)

		err := checkSpan(step, cursor, len(units))
		if err != nil {
			return "", err
		}

		switch step.Kind {
		case types.RetainStep:
			out = append(out, units[cursor:cursor+step.N]...)
			cursor += step.N
		case types.InsertStep:
			out = append(out, utf16.Encode([]rune(step.Text))...)
		case types.DeleteStep:
			cursor += step.N
		}
	}

	if cursor != len(units) {
		return "", xerrors.Errorf("consumed %d of %d: %w", cursor, len(units), ErrLengthMismatch)
	}

	return string(utf16.Decode(out)), nil
}

// Invert returns the operation that undoes op once it has been applied to doc.
// doc is the text op was applied to, not the result.
func Invert(doc string, op types.Operation) (types.Operation, error) {
	units := utf16.Encode([]rune(doc))
	inverse := types.NewBuilder()

	cursor := 0
	for i := 0; i < op.Len(); i++ {
		step := op.At(i)

		err := checkSpan(step, cursor, len(units))
		if err != nil {
			return types.Operation{}, err
		}

		switch step.Kind {
		case types.RetainStep:
			inverse.Retain(step.N)
			cursor += step.N
		case types.InsertStep:
			inverse.Delete(step.Len())
		case types.DeleteStep:
			inverse.Insert(string(utf16.Decode(units[cursor : cursor+step.N])))
			cursor += step.N
		}
	}

	return inverse.Build()
}

// checkSpan makes sure a retain or a delete at cursor stays inside a document
// of length units.
func checkSpan(step types.Step, cursor, length int) error {
	if step.Kind == types.InsertStep {
		return nil
	}
	if step.N <= 0 {
		return xerrors.Errorf("%s: %w", step, types.ErrInvalidStep)
	}
	if step.N > length-cursor {
		return xerrors.Errorf("%s at %d of %d: %w", step, cursor, length, ErrRange)
	}
	return nil
}
