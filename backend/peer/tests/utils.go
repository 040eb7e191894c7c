package tests

import (
	"sort"

	"Co-Edit/backend/ot"
	"Co-Edit/backend/types"

	"golang.org/x/exp/rand"
)

const alphabet = "abcdefghijklmnopqrstuvwxyzé€"

// RandomText returns n random runes, some of them outside ASCII.
func RandomText(rng *rand.Rand, n int) string {
	letters := []rune(alphabet)
	text := make([]rune, n)
	for i := range text {
		text[i] = letters[rng.Intn(len(letters))]
	}
	return string(text)
}

// RandomOperation returns an edit of content: an insert, a delete or a
// replacement at a random position.
func RandomOperation(rng *rand.Rand, content string) types.Operation {
	length := types.TextLength(content)
	pos := rng.Intn(length + 1)

	b := types.NewBuilder().Retain(pos)

	remaining := length - pos
	switch {
	case remaining == 0 || rng.Intn(3) == 0:
		b.Insert(RandomText(rng, 1+rng.Intn(4)))
	case rng.Intn(2) == 0:
		n := 1 + rng.Intn(remaining)
		b.Delete(n)
		remaining -= n
	default:
		n := 1 + rng.Intn(remaining)
		b.Delete(n).Insert(RandomText(rng, 1+rng.Intn(3)))
		remaining -= n
	}

	// the builder ignores a zero retain
	return b.Retain(remaining).Operation()
}

// CreateInsertsFromString returns one operation per rune of content, each
// appending it to the text built by the previous ones.
func CreateInsertsFromString(content string) []types.Operation {
	var ops []types.Operation
	length := 0
	for _, r := range content {
		ops = append(ops, types.NewBuilder().Retain(length).Insert(string(r)).Operation())
		length += types.TextLength(string(r))
	}
	return ops
}

// Revisioned is a committed operation along with its revision.
type Revisioned struct {
	Revision  int
	Operation types.Operation
}

// Replay applies the operations to base in revision order.
func Replay(base string, ops []Revisioned) (string, error) {
	sorted := make([]Revisioned, len(ops))
	copy(sorted, ops)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Revision < sorted[j].Revision
	})

	content := base
	for _, op := range sorted {
		var err error
		content, err = ot.Apply(content, op.Operation)
		if err != nil {
			return "", err
		}
	}
	return content, nil
}
