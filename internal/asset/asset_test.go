package asset

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"devicetrack/internal/model"
)

func TestLoadCatalogDir(t *testing.T) {
	dir := t.TempDir()
	content := `
hardware:
  - id: forklift-7
    name: Forklift 7
    description: yellow one
persons:
  - id: jdoe
    name: Jane Doe
    email: jane@example.com
`
	if err := os.WriteFile(filepath.Join(dir, "assets.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadCatalogDir(dir, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != 2 {
		t.Fatalf("len = %d, want 2", c.Len())
	}

	name, ok, err := c.ResolveDisplayName(context.Background(), model.AssetHardware, "forklift-7")
	if err != nil || !ok || name != "Forklift 7" {
		t.Errorf("forklift = %q, %v, %v; want Forklift 7", name, ok, err)
	}
	// Same id under another kind does not resolve.
	if _, ok, _ := c.ResolveDisplayName(context.Background(), model.AssetPerson, "forklift-7"); ok {
		t.Error("person forklift-7 resolved, want miss")
	}
	if a, ok := c.Lookup(model.AssetPerson, "jdoe"); !ok || a.Email != "jane@example.com" {
		t.Errorf("jdoe = %+v, %v", a, ok)
	}
}

func TestLoadCatalogDirEmpty(t *testing.T) {
	c, err := LoadCatalogDir(filepath.Join(t.TempDir(), "missing"), slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != 0 {
		t.Errorf("len = %d, want 0", c.Len())
	}
}

func TestLoadCatalogDirBadYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("hardware: [\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCatalogDir(dir, slog.Default()); err == nil {
		t.Fatal("expected parse error, got nil")
	}
}

type countingResolver struct {
	calls int
	err   error
}

func (r *countingResolver) ResolveDisplayName(_ context.Context, _ model.AssetType, id string) (string, bool, error) {
	r.calls++
	if r.err != nil {
		return "", false, r.err
	}
	if id == "unknown" {
		return "", false, nil
	}
	return "name-" + id, true, nil
}

func TestCachingResolver(t *testing.T) {
	next := &countingResolver{}
	r := NewCachingResolver(next, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		name, ok, err := r.ResolveDisplayName(ctx, model.AssetHardware, "x")
		if err != nil || !ok || name != "name-x" {
			t.Fatalf("resolve = %q, %v, %v", name, ok, err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, ok, _ := r.ResolveDisplayName(ctx, model.AssetHardware, "unknown"); ok {
			t.Fatal("unknown resolved")
		}
	}
	if next.calls != 2 {
		t.Errorf("underlying calls = %d, want 2", next.calls)
	}

	r.Flush()
	r.ResolveDisplayName(ctx, model.AssetHardware, "x")
	if next.calls != 3 {
		t.Errorf("calls after flush = %d, want 3", next.calls)
	}
}

func TestCachingResolverDoesNotCacheErrors(t *testing.T) {
	next := &countingResolver{err: errors.New("catalog down")}
	r := NewCachingResolver(next, time.Minute)

	for i := 0; i < 2; i++ {
		if _, _, err := r.ResolveDisplayName(context.Background(), model.AssetPerson, "p"); err == nil {
			t.Fatal("expected error")
		}
	}
	if next.calls != 2 {
		t.Errorf("calls = %d, want 2", next.calls)
	}
}
