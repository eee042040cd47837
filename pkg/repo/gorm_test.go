package repo

import (
	"context"
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type widget struct {
	ID    string `gorm:"primaryKey"`
	Name  string
	Score  int
	Color string
}

func newTestRepo(t *testing.T) *GormRepo[widget, string] {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := db.AutoMigrate(&widget{}); err != nil {
		t.Fatal(err)
	}
	return NewGormRepo[widget, string](db)
}

func seed(t *testing.T, r *GormRepo[widget, string], ws ...widget) {
	t.Helper()
	for _, w := range ws {
		if _, err := r.Create(context.Background(), w); err != nil {
			t.Fatal(err)
		}
	}
}

func TestGormRepoCreateGet(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	created, err := r.Create(ctx, widget{ID: "w1", Name: "first", Score: 1})
	if err != nil {
		t.Fatal(err)
	}
	if created.ID != "w1" {
		t.Fatalf("expected w1, got %q", created.ID)
	}

	got, err := r.Get(ctx, "w1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "first" || got.Score != 1 {
		t.Fatalf("unexpected widget: %+v", got)
	}
}

func TestGormRepoGetMissing(t *testing.T) {
	r := newTestRepo(t)
	_, err := r.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGormRepoCreateDuplicateKey(t *testing.T) {
	r := newTestRepo(t)
	seed(t, r, widget{ID: "w1"})
	if _, err := r.Create(context.Background(), widget{ID: "w1"}); err == nil {
		t.Fatal("expected error on duplicate primary key")
	}
}

func TestGormRepoListOrderLimitFilter(t *testing.T) {
	r := newTestRepo(t)
	seed(t, r,
		widget{ID: "a", Score: 2, Color: "red"},
		widget{ID: "b", Score: 3, Color: "blue"},
		widget{ID: "c", Score: 1, Color: "red"},
	)
	ctx := context.Background()

	all, err := r.List(ctx, ListOpts{Order: "score desc"})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "b" || all[2].ID != "c" {
		t.Fatalf("unexpected order: %+v", all)
	}

	page, err := r.List(ctx, ListOpts{Order: "score", Offset: 1, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].ID != "a" {
		t.Fatalf("unexpected page: %+v", page)
	}

	red, err := r.List(ctx, ListOpts{Filter: map[string]any{"color": "red"}, Order: "score asc"})
	if err != nil {
		t.Fatal(err)
	}
	if len(red) != 2 || red[0].ID != "c" {
		t.Fatalf("unexpected filter result: %+v", red)
	}
}

func TestGormRepoListRejectsOrderInjection(t *testing.T) {
	r := newTestRepo(t)
	_, err := r.List(context.Background(), ListOpts{Order: "score; drop table widgets"})
	if err == nil {
		t.Fatal("expected invalid order error")
	}
}

func TestGormRepoUpdate(t *testing.T) {
	r := newTestRepo(t)
	seed(t, r, widget{ID: "w1", Name: "old", Score: 5})
	ctx := context.Background()

	if _, err := r.Update(ctx, widget{ID: "w1", Name: "new", Score: 0}); err != nil {
		t.Fatal(err)
	}
	got, err := r.Get(ctx, "w1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "new" || got.Score != 0 {
		t.Fatalf("update not applied: %+v", got)
	}

	if _, err := r.Update(ctx, widget{ID: "missing", Name: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGormRepoDelete(t *testing.T) {
	r := newTestRepo(t)
	seed(t, r, widget{ID: "w1"})
	ctx := context.Background()

	if err := r.Delete(ctx, "w1"); err != nil {
		t.Fatal(err)
	}
	if err := r.Delete(ctx, "w1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}
