package book

import (
	"math/rand"
	"sort"
	"testing"
)

func TestRBTreeInsertFindDelete(t *testing.T) {
	tree := NewRBTree()
	pl1 := tree.UpsertLevel(100)
	if pl1 == nil {
		t.Fatal("UpsertLevel failed")
	}
	if pl2 := tree.FindLevel(100); pl2 != pl1 {
		t.Error("FindLevel did not return same PriceLevel")
	}

	tree.UpsertLevel(200)
	if tree.MinLevel().Price != 100 {
		t.Error("expected min=100")
	}
	if tree.MaxLevel().Price != 200 {
		t.Error("expected max=200")
	}

	if !tree.DeleteLevel(100) {
		t.Error("DeleteLevel failed")
	}
	if tree.FindLevel(100) != nil {
		t.Error("expected level 100 to be gone")
	}
}

func TestDeleteNonExistentLevel(t *testing.T) {
	tree := NewRBTree()
	if tree.DeleteLevel(123) {
		t.Error("expected false when deleting non-existent level")
	}
}

func TestEmptyTreeMinMax(t *testing.T) {
	tree := NewRBTree()
	if tree.MinLevel() != nil || tree.MaxLevel() != nil {
		t.Error("expected nil for min/max on empty tree")
	}
}

func TestUpsertDuplicateLevel(t *testing.T) {
	tree := NewRBTree()
	pl1 := tree.UpsertLevel(150)
	pl2 := tree.UpsertLevel(150)
	if pl1 != pl2 {
		t.Error("Upsert should return the same node for duplicate level")
	}
	if tree.Size() != 1 {
		t.Errorf("size = %d, want 1", tree.Size())
	}
}

func TestRBTreeRandomizedOrdering(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tree := NewRBTree()
	present := map[int64]bool{}

	for i := 0; i < 5000; i++ {
		p := int64(rng.Intn(500))
		if rng.Intn(3) == 0 {
			deleted := tree.DeleteLevel(p)
			if deleted != present[p] {
				t.Fatalf("DeleteLevel(%d) = %v, want %v", p, deleted, present[p])
			}
			delete(present, p)
		} else {
			tree.UpsertLevel(p)
			present[p] = true
		}
	}

	want := make([]int64, 0, len(present))
	for p := range present {
		want = append(want, p)
	}
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

	var got []int64
	tree.ForEachAscending(func(lvl *PriceLevel) bool {
		got = append(got, lvl.Price)
		return true
	})

	if len(got) != len(want) {
		t.Fatalf("tree walk yielded %d levels, want %d", len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("walk[%d] = %d, want %d", i, got[i], want[i])
		}
	}
	if tree.Size() != len(want) {
		t.Errorf("Size() = %d, want %d", tree.Size(), len(want))
	}
}
