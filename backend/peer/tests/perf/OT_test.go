//go:build performance
// +build performance

package perf

import (
	"context"
	"testing"
	"time"

	z "Co-Edit/backend/internal/testing"
	"Co-Edit/backend/peer"
	"Co-Edit/backend/peer/impl"
	"Co-Edit/backend/peer/tests"
	"Co-Edit/backend/transport/channel"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

var peerFac peer.Factory = impl.NewPeer

type speedThresholds struct {
	name string
	max  time.Duration
}

type allocThresholds struct {
	name      string
	maxAllocs int64
	maxBytes  int64
}

func assessSpeed(t *testing.T, res testing.BenchmarkResult, thresholds []speedThresholds) {
	perOp := time.Duration(res.NsPerOp())
	for _, threshold := range thresholds {
		t.Run(threshold.name, func(t *testing.T) {
			require.LessOrEqual(t, perOp, threshold.max)
		})
	}
}

func assessAllocs(t *testing.T, res testing.BenchmarkResult, thresholds []allocThresholds) {
	for _, threshold := range thresholds {
		t.Run(threshold.name, func(t *testing.T) {
			require.LessOrEqual(t, res.AllocsPerOp(), threshold.maxAllocs)
			require.LessOrEqual(t, res.AllocedBytesPerOp(), threshold.maxBytes)
		})
	}
}

// This test executes the exact same function as the BenchmarkOTAppend below.
// Its goal is mainly to raise any error that could occur during its execution as the benchmark hides them.
func Test_OT_Append_Benchmark_Correctness(t *testing.T) {
	runOTAppend(t, 1000)
}

// Run BenchmarkOTAppend and compare results to reference assessments.
func Test_OT_BenchmarkOTAppend(t *testing.T) {
	res := testing.Benchmark(BenchmarkOTAppend)

	assessSpeed(t, res, []speedThresholds{
		{"speed great", 100 * time.Millisecond},
		{"speed ok", 1 * time.Second},
		{"speed passable", 5 * time.Second},
	})
}

// Commit opN single character appends, each against the current revision.
func BenchmarkOTAppend(b *testing.B) {
	for i := 0; i < b.N; i++ {
		runOTAppend(b, 1000)
	}
}

func runOTAppend(t testing.TB, opN int) {
	node := z.NewTestNode(t, peerFac, channel.NewTransport())
	defer node.Stop()

	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))

	ops := tests.CreateInsertsFromString(tests.RandomText(rng, opN))
	for revision, op := range ops {
		_, _, err := node.ReceiveOperation(ctx, "session", "doc", revision, op)
		require.NoError(t, err)
	}
}

// This test executes the exact same function as the BenchmarkOTStale below.
// Its goal is mainly to raise any error that could occur during its execution as the benchmark hides them.
func Test_OT_Stale_Benchmark_Correctness(t *testing.T) {
	runOTStale(t, 200, 50)
}

// Run BenchmarkOTStale and compare results to reference assessments.
func Test_OT_BenchmarkOTStale(t *testing.T) {
	res := testing.Benchmark(BenchmarkOTStale)

	assessAllocs(t, res, []allocThresholds{
		{"allocs great", 500_000, 50_000_000},
		{"allocs ok", 1_000_000, 100_000_000},
		{"allocs passable", 2_000_000, 200_000_000},
	})

	assessSpeed(t, res, []speedThresholds{
		{"speed great", 1 * time.Second},
		{"speed ok", 5 * time.Second},
		{"speed passable", 15 * time.Second},
	})
}

// Commit opN random edits, each made against a revision up to depth behind,
// so that every commit is transformed against part of the history.
func BenchmarkOTStale(b *testing.B) {
	for i := 0; i < b.N; i++ {
		runOTStale(b, 200, 50)
	}
}

func runOTStale(t testing.TB, opN, depth int) {
	node := z.NewTestNode(t, peerFac, channel.NewTransport())
	defer node.Stop()

	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))

	require.NoError(t, node.SetContent(ctx, "session", "doc", tests.RandomText(rng, 500)))

	initial, err := node.GetContent(ctx, "session", "doc")
	require.NoError(t, err)

	// contents[r] is the text at revision r
	contents := []string{initial}

	for i := 0; i < opN; i++ {
		base := len(contents) - 1 - rng.Intn(min(depth, len(contents)))

		op := tests.RandomOperation(rng, contents[base])
		_, revision, err := node.ReceiveOperation(ctx, "session", "doc", base, op)
		require.NoError(t, err)
		require.Equal(t, len(contents), revision, "edit %d", i)

		content, err := node.GetContent(ctx, "session", "doc")
		require.NoError(t, err)
		contents = append(contents, content)
	}
}
