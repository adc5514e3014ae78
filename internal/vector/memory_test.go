package vector

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryIndex_AddSearch(t *testing.T) {
	idx, err := NewMemoryIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()

	vecs := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
	}
	ids := []string{"a", "b", "c"}
	if err := idx.Add(ctx, ids, vecs); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 3 {
		t.Errorf("Size=%d", idx.Size())
	}

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "a" || results[1].ID != "b" {
		t.Errorf("order = %s, %s; want a, b", results[0].ID, results[1].ID)
	}
	if results[1].Position != 1 {
		t.Errorf("position of b = %d", results[1].Position)
	}
}

func TestMemoryIndex_tiesKeepInsertionOrder(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	ids := []string{"p0", "p1", "p2", "p3", "p4"}
	vecs := [][]float32{{0, 1}, {1, 0}, {0, 1}, {1, 0}, {1, 0}}
	if err := idx.Add(ctx, ids, vecs); err != nil {
		t.Fatal(err)
	}
	for run := 0; run < 5; run++ {
		results, err := idx.Search(ctx, []float32{1, 0}, 10)
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"p1", "p3", "p4", "p0", "p2"}
		if len(results) != len(want) {
			t.Fatalf("k beyond size should return all, got %d", len(results))
		}
		for i, r := range results {
			if r.ID != want[i] {
				t.Fatalf("run %d: result %d = %s, want %s", run, i, r.ID, want[i])
			}
		}
	}
}

func TestMemoryIndex_emptyAndInvalid(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	results, err := idx.Search(ctx, []float32{1, 0}, 5)
	if err != nil || len(results) != 0 {
		t.Errorf("empty index: %v, %v", results, err)
	}
	if _, err := idx.Search(ctx, []float32{1, 0, 0}, 5); err == nil {
		t.Error("expected query dimension error")
	}
	if err := idx.Add(ctx, []string{"x"}, [][]float32{{1}}); err == nil {
		t.Error("expected vector dimension error")
	}
	if err := idx.Add(ctx, []string{"x", "y"}, [][]float32{{1, 0}}); err == nil {
		t.Error("expected length mismatch error")
	}
	if _, err := NewMemoryIndex(0); err == nil {
		t.Error("expected error for zero dimensions")
	}
}

func TestMemoryIndex_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "vectors.bin")
	idx, _ := NewMemoryIndex(3)
	ctx := context.Background()
	ids := []string{"7b0e7c5a-0000-5000-8000-000000000001", "short"}
	vecs := [][]float32{{0.6, 0.8, 0}, {0, 0, 1}}
	if err := idx.Add(ctx, ids, vecs); err != nil {
		t.Fatal(err)
	}
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadMemoryIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Dimensions() != 3 || loaded.Size() != 2 {
		t.Fatalf("loaded dims=%d size=%d", loaded.Dimensions(), loaded.Size())
	}
	gotIDs := loaded.IDs()
	if gotIDs[0] != ids[0] || gotIDs[1] != ids[1] {
		t.Errorf("ids = %v", gotIDs)
	}
	results, _ := loaded.Search(ctx, []float32{0.6, 0.8, 0}, 1)
	if results[0].ID != ids[0] || math.Abs(results[0].Score-1) > 1e-6 {
		t.Errorf("unexpected top result %+v", results[0])
	}
}

func TestLoadMemoryIndex_errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadMemoryIndex(filepath.Join(dir, "missing.bin")); err == nil {
		t.Error("expected error for missing file")
	}
	truncated := filepath.Join(dir, "truncated.bin")
	idx, _ := NewMemoryIndex(4)
	_ = idx.Add(context.Background(), []string{"a"}, [][]float32{{1, 0, 0, 0}})
	if err := idx.Save(truncated); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(truncated)
	if err := os.WriteFile(truncated, data[:len(data)-3], 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadMemoryIndex(truncated); err == nil {
		t.Error("expected error for truncated file")
	}
}

func TestInnerProduct(t *testing.T) {
	if got := InnerProduct([]float32{1, 2}, []float32{3, 4}); got != 11 {
		t.Errorf("inner product = %f", got)
	}
	if got := InnerProduct([]float32{1}, []float32{1, 2}); got != 0 {
		t.Errorf("mismatched lengths = %f", got)
	}
}

func TestLoadMemoryIndex_rejectsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	cases := map[string][]byte{
		"wrong magic":   []byte("FAISS000000000000000"),
		"wrong version": append([]byte("KVEC"), 9, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0),
		"zero dims":     append([]byte("KVEC"), 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0),
	}
	for name, data := range cases {
		path := filepath.Join(dir, name+".bin")
		if err := os.WriteFile(path, data, 0600); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadMemoryIndex(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestMemoryIndex_SaveLoadEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.bin")
	idx, _ := NewMemoryIndex(5)
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadMemoryIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Dimensions() != 5 || loaded.Size() != 0 {
		t.Errorf("loaded dims=%d size=%d", loaded.Dimensions(), loaded.Size())
	}
}
