package orderlist

import (
	"testing"

	. "obreserve/internal/common"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestProperty_HintEquivalence drives two lists through the same operations,
// one with arbitrary hints and one always scanning, and checks they never
// diverge and stay sorted.
func TestProperty_HintEquivalence(t *testing.T) {
	makers := []Address{alice, bob, HexToAddress("0xca7")}

	rapid.Check(t, func(rt *rapid.T) {
		hinted := New(8)
		scanned := New(8)

		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			ids := scanned.IDs()
			hint := OrderID(rapid.IntRange(0, 40).Draw(rt, "hint"))
			src := u(rapid.Uint64Range(1, 20).Draw(rt, "src"))
			dst := u(rapid.Uint64Range(1, 20).Draw(rt, "dst"))

			switch op := rapid.IntRange(0, 2).Draw(rt, "op"); {
			case op == 0 || len(ids) == 0:
				maker := rapid.SampledFrom(makers).Draw(rt, "maker")
				id1, _, err1 := hinted.Add(maker, src, dst, hint)
				id2, _, err2 := scanned.Add(maker, src, dst, NoOrder)
				require.Equal(rt, err1 == nil, err2 == nil)
				require.Equal(rt, id1, id2)
			case op == 1:
				id := rapid.SampledFrom(ids).Draw(rt, "update")
				_, err1 := hinted.Update(id, src, dst, hint)
				_, err2 := scanned.Update(id, src, dst, NoOrder)
				require.NoError(rt, err1)
				require.NoError(rt, err2)
			default:
				id := rapid.SampledFrom(ids).Draw(rt, "remove")
				require.NoError(rt, hinted.Remove(id))
				require.NoError(rt, scanned.Remove(id))
			}

			require.Equal(rt, scanned.Orders(), hinted.Orders())
			orders := hinted.Orders()
			for j := 1; j < len(orders); j++ {
				a, b := &orders[j-1], &orders[j]
				require.GreaterOrEqual(rt, CompareRates(&a.SrcAmount, &a.DstAmount, &b.SrcAmount, &b.DstAmount), 0)
			}
		}
	})
}

// TestProperty_FindPositionMatchesInsert checks the read-only position
// helpers predict where a mutation ends up.
func TestProperty_FindPositionMatchesInsert(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		l := New(64)
		n := rapid.IntRange(0, 20).Draw(rt, "n")
		for i := 0; i < n; i++ {
			_, _, err := l.Add(alice, u(rapid.Uint64Range(1, 9).Draw(rt, "src")), u(rapid.Uint64Range(1, 9).Draw(rt, "dst")), NoOrder)
			require.NoError(rt, err)
		}

		src := u(rapid.Uint64Range(1, 9).Draw(rt, "newSrc"))
		dst := u(rapid.Uint64Range(1, 9).Draw(rt, "newDst"))
		hint := OrderID(rapid.IntRange(0, 30).Draw(rt, "hint"))

		want, _ := l.FindInsertPosition(src, dst, hint)
		_, p, err := l.Add(bob, src, dst, hint)
		require.NoError(rt, err)
		require.Equal(rt, want, p.Prev)

		// A correct hint always takes the short path.
		correct, _ := l.FindInsertPosition(src, dst, NoOrder)
		_, steps := l.FindInsertPosition(src, dst, correct)
		require.LessOrEqual(rt, steps, 2)
	})
}

// TestProperty_RollbackRestoresSnapshot runs random mutations inside a
// transaction and checks rolling back leaves no trace of them.
func TestProperty_RollbackRestoresSnapshot(t *testing.T) {
	makers := []Address{alice, bob, HexToAddress("0xca7")}

	rapid.Check(t, func(rt *rapid.T) {
		l := New(4)
		mutate := func(label string) {
			ids := l.IDs()
			src := u(rapid.Uint64Range(1, 20).Draw(rt, label+"src"))
			dst := u(rapid.Uint64Range(1, 20).Draw(rt, label+"dst"))
			switch op := rapid.IntRange(0, 2).Draw(rt, label+"op"); {
			case op == 0 || len(ids) == 0:
				_, _, _ = l.Add(rapid.SampledFrom(makers).Draw(rt, label+"maker"), src, dst, NoOrder)
			case op == 1:
				_, err := l.Update(rapid.SampledFrom(ids).Draw(rt, label+"update"), src, dst, NoOrder)
				require.NoError(rt, err)
			default:
				require.NoError(rt, l.Remove(rapid.SampledFrom(ids).Draw(rt, label+"remove")))
			}
		}

		for i := rapid.IntRange(0, 20).Draw(rt, "setup"); i > 0; i-- {
			mutate("setup ")
		}
		before := l.Snapshot()

		l.Begin()
		for i := rapid.IntRange(1, 20).Draw(rt, "steps"); i > 0; i-- {
			mutate("tx ")
		}
		l.Rollback()

		require.Equal(rt, before, l.Snapshot())
		require.Equal(rt, len(before.Orders), l.Len())
	})
}
