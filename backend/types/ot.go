package types

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"

	"golang.org/x/xerrors"
)

// ErrInvalidStep is returned when a step has a non-positive span or an
// unknown kind, or when a wire element cannot be decoded into a step.
var ErrInvalidStep = xerrors.New("invalid operation step")

// MaxLength bounds every span and document length an operation may carry.
const MaxLength = math.MaxInt32

// TextLength returns the length of s in UTF-16 code units. Every offset and
// span of an operation is counted in this unit, as browser clients count them.
func TextLength(s string) int {
	n := 0
	for _, r := range s {
		n += len(utf16.Encode([]rune{r}))
	}
	return n
}

// Retain returns a retain step of n characters.
func Retain(n int) Step { return Step{Kind: RetainStep, N: n} }

// Insert returns an insert step of s.
func Insert(s string) Step { return Step{Kind: InsertStep, Text: s} }

// Delete returns a delete step of n characters.
func Delete(n int) Step { return Step{Kind: DeleteStep, N: n} }

// Len returns the number of characters the step spans.
func (s Step) Len() int {
	if s.Kind == InsertStep {
		return TextLength(s.Text)
	}
	return s.N
}

func (s Step) String() string {
	switch s.Kind {
	case RetainStep:
		return "retain(" + strconv.Itoa(s.N) + ")"
	case InsertStep:
		return "insert(" + strconv.Quote(s.Text) + ")"
	case DeleteStep:
		return "delete(" + strconv.Itoa(s.N) + ")"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Builder

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Retain appends a retain of n characters. Zero is ignored. A step that would
// take a length past MaxLength fails the builder.
func (b *Builder) Retain(n int) *Builder {
	if n < 0 || n > MaxLength-b.baseLength || n > MaxLength-b.targetLength {
		b.fail(Retain(n))
		return b
	}
	if n == 0 {
		return b
	}
	b.baseLength += n
	b.targetLength += n
	b.steps = push(b.steps, Retain(n))
	return b
}

// Insert appends an insertion of s. The empty string is ignored.
func (b *Builder) Insert(s string) *Builder {
	if s == "" {
		return b
	}
	n := TextLength(s)
	if n > MaxLength-b.targetLength {
		if b.err == nil {
			b.err = xerrors.Errorf("insert of %d characters: %w", n, ErrInvalidStep)
		}
		return b
	}
	b.targetLength += n
	b.steps = push(b.steps, Insert(s))
	return b
}

// Delete appends a deletion of n characters. Zero is ignored.
func (b *Builder) Delete(n int) *Builder {
	if n < 0 || n > MaxLength-b.baseLength {
		b.fail(Delete(n))
		return b
	}
	if n == 0 {
		return b
	}
	b.baseLength += n
	b.steps = push(b.steps, Delete(n))
	return b
}

// Step appends any step.
func (b *Builder) Step(s Step) *Builder {
	switch s.Kind {
	case RetainStep:
		return b.Retain(s.N)
	case InsertStep:
		return b.Insert(s.Text)
	case DeleteStep:
		return b.Delete(s.N)
	default:
		b.fail(s)
		return b
	}
}

// Err returns the first invalid step the builder was given, if any.
func (b *Builder) Err() error {
	return b.err
}

// Operation returns the operation built so far. The builder may keep being
// used afterwards; the returned operation does not share memory with it.
func (b *Builder) Operation() Operation {
	steps := make([]Step, len(b.steps))
	copy(steps, b.steps)
	return Operation{
		steps:        steps,
		baseLength:   b.baseLength,
		targetLength: b.targetLength,
	}
}

// Build returns the operation or the first construction error.
func (b *Builder) Build() (Operation, error) {
	if b.err != nil {
		return Operation{}, b.err
	}
	return b.Operation(), nil
}

func (b *Builder) fail(s Step) {
	if b.err == nil {
		b.err = xerrors.Errorf("%s: %w", s, ErrInvalidStep)
	}
}

// push folds s into steps, merging with the last step when both have the same
// kind and moving an insert in front of a trailing delete.
func push(steps []Step, s Step) []Step {
	n := len(steps)
	if n == 0 {
		return append(steps, s)
	}
	last := steps[n-1]
	if last.Kind == s.Kind {
		steps[n-1] = merge(last, s)
		return steps
	}
	if s.Kind == InsertStep && last.Kind == DeleteStep {
		if n >= 2 && steps[n-2].Kind == InsertStep {
			steps[n-2] = merge(steps[n-2], s)
			return steps
		}
		steps = append(steps, last)
		steps[n-1] = s
		return steps
	}
	return append(steps, s)
}

func merge(a, b Step) Step {
	if a.Kind == InsertStep {
		return Insert(a.Text + b.Text)
	}
	return Step{Kind: a.Kind, N: a.N + b.N}
}

// -----------------------------------------------------------------------------
// Operation

// NewOperation builds a canonical operation out of steps.
func NewOperation(steps ...Step) (Operation, error) {
	b := NewBuilder()
	for _, s := range steps {
		if s.Kind != InsertStep && s.N <= 0 {
			return Operation{}, xerrors.Errorf("%s: %w", s, ErrInvalidStep)
		}
		if s.Kind == InsertStep && s.Text == "" {
			return Operation{}, xerrors.Errorf("empty insert: %w", ErrInvalidStep)
		}
		b.Step(s)
	}
	return b.Build()
}

// Steps returns a copy of the operation's steps.
func (o Operation) Steps() []Step {
	steps := make([]Step, len(o.steps))
	copy(steps, o.steps)
	return steps
}

// Len returns the number of steps.
func (o Operation) Len() int {
	return len(o.steps)
}

// At returns the i-th step.
func (o Operation) At(i int) Step {
	return o.steps[i]
}

// BaseLength is the length of the document the operation applies to.
func (o Operation) BaseLength() int {
	return o.baseLength
}

// TargetLength is the length of the document the operation produces.
func (o Operation) TargetLength() int {
	return o.targetLength
}

// IsNoop reports whether applying the operation leaves a document unchanged.
func (o Operation) IsNoop() bool {
	return len(o.steps) == 0 || (len(o.steps) == 1 && o.steps[0].Kind == RetainStep)
}

// Equal reports whether both operations have the same steps.
func (o Operation) Equal(other Operation) bool {
	if len(o.steps) != len(other.steps) {
		return false
	}
	for i := range o.steps {
		if o.steps[i] != other.steps[i] {
			return false
		}
	}
	return true
}

func (o Operation) String() string {
	parts := make([]string, len(o.steps))
	for i, s := range o.steps {
		parts[i] = s.String()
	}
	return "Operation[" + strings.Join(parts, ", ") + "]"
}

// MarshalJSON encodes the operation as an array where a positive integer is a
// retain, a string an insert and a negative integer a delete.
func (o Operation) MarshalJSON() ([]byte, error) {
	values := make([]interface{}, len(o.steps))
	for i, s := range o.steps {
		switch s.Kind {
		case RetainStep:
			values[i] = s.N
		case InsertStep:
			values[i] = s.Text
		case DeleteStep:
			values[i] = -s.N
		}
	}
	return json.Marshal(values)
}

// UnmarshalJSON decodes the array form produced by MarshalJSON. The steps are
// rebuilt through a Builder so the result is canonical.
func (o *Operation) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var values []interface{}
	err := dec.Decode(&values)
	if err != nil {
		return xerrors.Errorf("failed to decode operation: %w", err)
	}

	b := NewBuilder()
	for _, v := range values {
		switch value := v.(type) {
		case string:
			if value == "" {
				return xerrors.Errorf("empty insert: %w", ErrInvalidStep)
			}
			b.Insert(value)
		case json.Number:
			n, err := value.Int64()
			if err != nil || n > MaxLength || n < -MaxLength {
				return xerrors.Errorf("%s: %w", value, ErrInvalidStep)
			}
			switch {
			case n > 0:
				b.Retain(int(n))
			case n < 0:
				b.Delete(int(-n))
			default:
				return xerrors.Errorf("zero count: %w", ErrInvalidStep)
			}
		default:
			return xerrors.Errorf("%v: %w", v, ErrInvalidStep)
		}
	}

	op, err := b.Build()
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// ParseOperation decodes the wire form of an operation.
func ParseOperation(data []byte) (Operation, error) {
	var op Operation
	err := op.UnmarshalJSON(data)
	return op, err
}
