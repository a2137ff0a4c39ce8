package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Basilakis/kai-sub003/internal/store"
	"github.com/Basilakis/kai-sub003/pkg/types"
)

const testDims = 8

func TestNew(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "kai.db")

	s, err := New(Config{Path: dbPath, Dimensions: testDims})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestStore_AddAndGet(t *testing.T) {
	s := createTestStore(t)
	defer s.Close()
	ctx := context.Background()

	rec := &types.MaterialRecord{
		MaterialID: "oak",
		Category:   "wood",
		Method:     types.MethodHybrid,
		Quality:    0.8,
		ImagePath:  "/img/oak.png",
		Metadata:   map[string]string{"finish": "oiled"},
		Embedding:  axis(0),
	}
	if err := s.Add(ctx, rec); err != nil {
		t.Fatalf("failed to add record: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("expected an ID to be assigned")
	}

	got, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("failed to get record: %v", err)
	}
	if got.MaterialID != "oak" || got.Category != "wood" || got.Method != types.MethodHybrid {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.Quality != 0.8 {
		t.Errorf("quality mismatch: got %v", got.Quality)
	}
	if got.Metadata["finish"] != "oiled" {
		t.Errorf("metadata mismatch: got %v", got.Metadata)
	}
	if len(got.Embedding) != testDims || got.Embedding[0] != 1 {
		t.Errorf("embedding mismatch: got %v", got.Embedding)
	}
	if d := got.CreatedAt.Sub(rec.CreatedAt); d > time.Second || d < -time.Second {
		t.Errorf("created_at mismatch: got %v, want %v", got.CreatedAt, rec.CreatedAt)
	}
}

func TestStore_Add_Validation(t *testing.T) {
	s := createTestStore(t)
	defer s.Close()
	ctx := context.Background()

	cases := map[string]*types.MaterialRecord{
		"missing material":  {Method: types.MethodHybrid, Embedding: axis(0)},
		"missing embedding": {MaterialID: "oak", Method: types.MethodHybrid},
		"wrong dimensions":  {MaterialID: "oak", Method: types.MethodHybrid, Embedding: []float32{1, 2}},
	}
	for name, rec := range cases {
		if err := s.Add(ctx, rec); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestStore_Get_NotFound(t *testing.T) {
	s := createTestStore(t)
	defer s.Close()

	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_Delete(t *testing.T) {
	s := createTestStore(t)
	defer s.Close()
	ctx := context.Background()

	rec := addRecord(t, s, "oak", "wood", types.MethodHybrid, axis(0))
	if err := s.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if _, err := s.Get(ctx, rec.ID); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected record to be gone, got %v", err)
	}
	if err := s.Delete(ctx, rec.ID); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestStore_AddBatchAndDeleteByMaterial(t *testing.T) {
	s := createTestStore(t)
	defer s.Close()
	ctx := context.Background()

	var recs []*types.MaterialRecord
	for i := 0; i < 5; i++ {
		material := "oak"
		if i%2 == 1 {
			material = "slate"
		}
		recs = append(recs, &types.MaterialRecord{MaterialID: material, Method: types.MethodFeatureBased, Embedding: axis(i)})
	}
	if err := s.AddBatch(ctx, recs); err != nil {
		t.Fatalf("failed to add batch: %v", err)
	}

	total, _ := s.Count(ctx, "")
	oak, _ := s.Count(ctx, "oak")
	if total != 5 || oak != 3 {
		t.Fatalf("expected 5 total and 3 oak, got %d and %d", total, oak)
	}

	removed, err := s.DeleteByMaterial(ctx, "oak")
	if err != nil {
		t.Fatalf("failed to delete by material: %v", err)
	}
	if removed != 3 {
		t.Errorf("expected 3 removed, got %d", removed)
	}
	if total, _ := s.Count(ctx, ""); total != 2 {
		t.Errorf("expected 2 remaining, got %d", total)
	}
}

func TestStore_AddBatch_RollsBack(t *testing.T) {
	s := createTestStore(t)
	defer s.Close()
	ctx := context.Background()

	recs := []*types.MaterialRecord{
		{MaterialID: "oak", Method: types.MethodHybrid, Embedding: axis(0)},
		{MaterialID: "", Method: types.MethodHybrid, Embedding: axis(1)},
	}
	if err := s.AddBatch(ctx, recs); err == nil {
		t.Fatal("expected batch to fail")
	}
	if n, _ := s.Count(ctx, ""); n != 0 {
		t.Errorf("expected rollback, found %d records", n)
	}
}

func TestStore_Search(t *testing.T) {
	s := createTestStore(t)
	defer s.Close()
	ctx := context.Background()

	addRecord(t, s, "oak", "wood", types.MethodHybrid, axis(0))
	addRecord(t, s, "pine", "wood", types.MethodHybrid, mix(0, 1))
	addRecord(t, s, "slate", "stone", types.MethodHybrid, axis(3))

	results, err := s.Search(ctx, axis(0), store.SearchOptions{Limit: 10})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Record.MaterialID != "oak" || results[1].Record.MaterialID != "pine" {
		t.Errorf("unexpected order: %s, %s", results[0].Record.MaterialID, results[1].Record.MaterialID)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Similarity > results[i-1].Similarity {
			t.Errorf("results not sorted at %d", i)
		}
	}

	limited, _ := s.Search(ctx, axis(0), store.SearchOptions{Limit: 1})
	if len(limited) != 1 || limited[0].Record.MaterialID != "oak" {
		t.Errorf("expected only oak with limit 1, got %+v", limited)
	}
}

func TestStore_Search_WithFilters(t *testing.T) {
	s := createTestStore(t)
	defer s.Close()
	ctx := context.Background()

	addRecord(t, s, "oak", "wood", types.MethodHybrid, axis(0))
	addRecord(t, s, "oak", "wood", types.MethodFeatureBased, axis(0))
	addRecord(t, s, "slate", "stone", types.MethodHybrid, mix(0, 3))

	byCategory, _ := s.Search(ctx, axis(0), store.SearchOptions{Category: "stone"})
	if len(byCategory) != 1 || byCategory[0].Record.MaterialID != "slate" {
		t.Errorf("category filter failed: %+v", byCategory)
	}

	byMethod, _ := s.Search(ctx, axis(0), store.SearchOptions{Method: types.MethodFeatureBased})
	if len(byMethod) != 1 || byMethod[0].Record.Method != types.MethodFeatureBased {
		t.Errorf("method filter failed: %+v", byMethod)
	}

	strict, _ := s.Search(ctx, axis(0), store.SearchOptions{Threshold: 0.99})
	if len(strict) != 2 {
		t.Errorf("expected 2 exact matches above threshold, got %d", len(strict))
	}

	short, _ := s.Search(ctx, []float32{1, 0}, store.SearchOptions{})
	if len(short) != 0 {
		t.Errorf("expected mismatched dimensions to be skipped, got %d", len(short))
	}
}

func TestStore_List(t *testing.T) {
	s := createTestStore(t)
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := &types.MaterialRecord{
			MaterialID: fmt.Sprintf("m%d", i),
			Method:     types.MethodHybrid,
			Quality:    float64(i) / 10,
			Embedding:  axis(i),
			CreatedAt:  time.Now().Add(time.Duration(i) * time.Minute),
		}
		if err := s.Add(ctx, rec); err != nil {
			t.Fatalf("failed to add: %v", err)
		}
	}

	page, err := s.List(ctx, store.ListOptions{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(page) != 2 || page[0].MaterialID != "m1" {
		t.Errorf("unexpected page: %d records", len(page))
	}

	best, _ := s.List(ctx, store.ListOptions{OrderBy: "quality", Descending: true, Limit: 1})
	if len(best) != 1 || best[0].MaterialID != "m4" {
		t.Errorf("expected m4 first by quality")
	}

	if _, err := s.List(ctx, store.ListOptions{OrderBy: "embedding; DROP TABLE materials"}); err == nil {
		t.Error("expected unsupported order column to fail")
	}
}

func TestStore_References(t *testing.T) {
	s := createTestStore(t)
	defer s.Close()
	ctx := context.Background()

	addRecord(t, s, "oak", "wood", types.MethodHybrid, axis(0))
	addRecord(t, s, "oak", "wood", types.MethodHybrid, axis(1))
	addRecord(t, s, "slate", "stone", types.MethodHybrid, axis(2))

	refs, err := s.References(ctx)
	if err != nil {
		t.Fatalf("references failed: %v", err)
	}
	if len(refs["oak"]) != 2 || len(refs["slate"]) != 1 {
		t.Errorf("unexpected references: %v", refs)
	}
}

func TestStore_Stats(t *testing.T) {
	s := createTestStore(t)
	defer s.Close()
	ctx := context.Background()

	addRecord(t, s, "oak", "wood", types.MethodHybrid, axis(0))
	addRecord(t, s, "oak", "wood", types.MethodFeatureBased, axis(1))
	addRecord(t, s, "slate", "", types.MethodHybrid, axis(2))

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.TotalRecords != 3 {
		t.Errorf("expected 3 records, got %d", stats.TotalRecords)
	}
	if stats.MaterialCount != 2 {
		t.Errorf("expected 2 materials, got %d", stats.MaterialCount)
	}
	if stats.CategoryCount != 1 {
		t.Errorf("expected 1 category, got %d", stats.CategoryCount)
	}
	if stats.RecordsByMethod["hybrid"] != 2 || stats.RecordsByMethod["feature-based"] != 1 {
		t.Errorf("unexpected method counts: %v", stats.RecordsByMethod)
	}
	if stats.StorageBytes == 0 {
		t.Error("expected storage size to be reported")
	}
}

func TestStore_Compact(t *testing.T) {
	s := createTestStore(t)
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		addRecord(t, s, "oak", "wood", types.MethodHybrid, axis(i))
	}
	if _, err := s.DeleteByMaterial(ctx, "oak"); err != nil {
		t.Fatal(err)
	}
	addRecord(t, s, "slate", "stone", types.MethodHybrid, axis(0))
	if err := s.Compact(ctx); err != nil {
		t.Fatalf("compact failed: %v", err)
	}
	if n, _ := s.Count(ctx, ""); n != 1 {
		t.Errorf("expected 1 record after compact, got %d", n)
	}
}

func TestStore_InMemory(t *testing.T) {
	s, err := New(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open in-memory store: %v", err)
	}
	defer s.Close()

	addRecord(t, s, "oak", "wood", types.MethodHybrid, []float32{1, 2, 3})
	if n, _ := s.Count(context.Background(), "oak"); n != 1 {
		t.Errorf("expected 1 record, got %d", n)
	}
}

// Helper functions

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{
		Path:       filepath.Join(t.TempDir(), "test.db"),
		Dimensions: testDims,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s
}

func addRecord(t *testing.T, s *Store, material, category string, method types.EmbeddingMethod, emb []float32) *types.MaterialRecord {
	t.Helper()
	rec := &types.MaterialRecord{MaterialID: material, Category: category, Method: method, Embedding: emb}
	if err := s.Add(context.Background(), rec); err != nil {
		t.Fatalf("failed to add record: %v", err)
	}
	return rec
}

func axis(i int) []float32 {
	v := make([]float32, testDims)
	v[i%testDims] = 1
	return v
}

func mix(i, j int) []float32 {
	v := axis(i)
	v[j%testDims] = 1
	return v
}

// Benchmarks

func BenchmarkStore_Search(b *testing.B) {
	s, _ := New(Config{Path: filepath.Join(b.TempDir(), "bench.db"), Dimensions: testDims})
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		s.Add(ctx, &types.MaterialRecord{
			MaterialID: fmt.Sprintf("m%d", i%50),
			Method:     types.MethodHybrid,
			Embedding:  mix(i, i/testDims),
		})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Search(ctx, axis(i), store.SearchOptions{Limit: 10})
	}
}
