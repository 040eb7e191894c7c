package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

// Adjacent steps of the same kind are merged.
func Test_Builder_Merges_Same_Kind(t *testing.T) {
	op := NewBuilder().Retain(2).Retain(3).Insert("ab").Insert("c").Delete(1).Delete(4).Operation()

	require.Equal(t, []Step{Retain(5), Insert("abc"), Delete(5)}, op.Steps())
	require.Equal(t, 10, op.BaseLength())
	require.Equal(t, 8, op.TargetLength())
}

// An insert given after a delete ends up in front of it.
func Test_Builder_Insert_Before_Delete(t *testing.T) {
	op := NewBuilder().Retain(1).Delete(2).Insert("x").Operation()
	require.Equal(t, []Step{Retain(1), Insert("x"), Delete(2)}, op.Steps())

	// merged into the insert preceding the delete
	op = NewBuilder().Insert("a").Delete(2).Insert("b").Operation()
	require.Equal(t, []Step{Insert("ab"), Delete(2)}, op.Steps())
}

func Test_Builder_Zero_And_Negative(t *testing.T) {
	b := NewBuilder().Retain(0).Insert("").Delete(0)
	op, err := b.Build()
	require.NoError(t, err)
	require.Equal(t, 0, op.Len())
	require.True(t, op.IsNoop())

	_, err = NewBuilder().Retain(-1).Build()
	require.True(t, xerrors.Is(err, ErrInvalidStep))

	_, err = NewBuilder().Delete(-3).Build()
	require.True(t, xerrors.Is(err, ErrInvalidStep))
}

// Lengths are counted in UTF-16 code units, not bytes nor code points.
func Test_Builder_UTF16_Lengths(t *testing.T) {
	op := NewBuilder().Retain(1).Insert("héé").Operation()
	require.Equal(t, 1, op.BaseLength())
	require.Equal(t, 4, op.TargetLength())

	// an astral character is a surrogate pair
	op = NewBuilder().Retain(2).Insert("😀!").Operation()
	require.Equal(t, 2, op.BaseLength())
	require.Equal(t, 5, op.TargetLength())
	require.Equal(t, 3, op.At(1).Len())

	require.Equal(t, 4, TextLength("a😀b"))
	require.Equal(t, 0, TextLength(""))
}

// Spans and lengths cannot grow past MaxLength, in particular they never wrap
// around.
func Test_Builder_Length_Bound(t *testing.T) {
	_, err := NewBuilder().Retain(MaxLength).Retain(1).Build()
	require.True(t, xerrors.Is(err, ErrInvalidStep))

	_, err = NewBuilder().Delete(MaxLength).Delete(1).Build()
	require.True(t, xerrors.Is(err, ErrInvalidStep))

	_, err = NewBuilder().Retain(MaxLength).Insert("x").Build()
	require.True(t, xerrors.Is(err, ErrInvalidStep))

	_, err = NewBuilder().Retain(MaxLength + 1).Build()
	require.True(t, xerrors.Is(err, ErrInvalidStep))

	op, err := NewBuilder().Retain(MaxLength).Build()
	require.NoError(t, err)
	require.Equal(t, MaxLength, op.BaseLength())
}

// The builder does not share its slice with built operations.
func Test_Builder_Operation_Is_Copy(t *testing.T) {
	b := NewBuilder().Retain(3)
	first := b.Operation()
	b.Retain(2)

	require.Equal(t, []Step{Retain(3)}, first.Steps())
	require.Equal(t, []Step{Retain(5)}, b.Operation().Steps())

	steps := first.Steps()
	steps[0] = Delete(1)
	require.Equal(t, Retain(3), first.At(0))
}

func Test_NewOperation(t *testing.T) {
	op, err := NewOperation(Retain(1), Delete(1), Insert("z"))
	require.NoError(t, err)
	require.Equal(t, []Step{Retain(1), Insert("z"), Delete(1)}, op.Steps())

	_, err = NewOperation(Retain(0))
	require.True(t, xerrors.Is(err, ErrInvalidStep))

	_, err = NewOperation(Insert(""))
	require.True(t, xerrors.Is(err, ErrInvalidStep))

	_, err = NewOperation(Step{Kind: 42, N: 1})
	require.Error(t, err)
}

func Test_Operation_IsNoop(t *testing.T) {
	require.True(t, Operation{}.IsNoop())
	require.True(t, NewBuilder().Retain(4).Operation().IsNoop())
	require.False(t, NewBuilder().Retain(4).Insert("a").Operation().IsNoop())
	require.False(t, NewBuilder().Delete(1).Operation().IsNoop())
}

func Test_Operation_String(t *testing.T) {
	op := NewBuilder().Retain(5).Insert("hi").Delete(2).Operation()
	require.Equal(t, `Operation[retain(5), insert("hi"), delete(2)]`, op.String())
}

func Test_Operation_JSON(t *testing.T) {
	op := NewBuilder().Retain(5).Insert(" Beautiful ").Delete(3).Retain(2).Operation()

	data, err := json.Marshal(op)
	require.NoError(t, err)
	require.JSONEq(t, `[5, " Beautiful ", -3, 2]`, string(data))

	decoded, err := ParseOperation(data)
	require.NoError(t, err)
	require.True(t, op.Equal(decoded))
	require.Equal(t, op.BaseLength(), decoded.BaseLength())
	require.Equal(t, op.TargetLength(), decoded.TargetLength())
}

// Decoding canonicalises non-canonical input.
func Test_Operation_JSON_Canonicalises(t *testing.T) {
	op, err := ParseOperation([]byte(`[1, 2, -1, "a", "b"]`))
	require.NoError(t, err)
	require.Equal(t, []Step{Retain(3), Insert("ab"), Delete(1)}, op.Steps())
}

func Test_Operation_JSON_Rejects(t *testing.T) {
	inputs := []string{
		`[0]`,
		`[""]`,
		`[1.5]`,
		`[true]`,
		`[null]`,
		`{"retain": 1}`,
		`[[1]]`,
		`[9223372036854775807, 1]`,
		`[-9223372036854775808]`,
		`[2147483647, 1]`,
		`[-2147483647, -1]`,
		`[99999999999999999999]`,
	}

	for _, input := range inputs {
		op, err := ParseOperation([]byte(input))
		require.Error(t, err, input)
		require.Equal(t, 0, op.BaseLength(), input)
	}
}

func Test_Message_In_Envelope(t *testing.T) {
	msg := OperationMessage{
		SessionID:  "s1",
		DocumentID: "d1",
		ClientID:   "c1",
		Revision:   3,
		Operation:  NewBuilder().Retain(1).Insert("x").Operation(),
	}

	env, err := NewEnvelope(msg)
	require.NoError(t, err)
	require.Equal(t, "operation", env.Type)

	var decoded OperationMessage
	require.NoError(t, json.Unmarshal(env.Payload, &decoded))
	require.Equal(t, msg.Revision, decoded.Revision)
	require.True(t, msg.Operation.Equal(decoded.Operation))
	require.Nil(t, decoded.Selection)
}
