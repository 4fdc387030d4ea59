package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/marshallshelly/pebble-integrity/pkg/integrity"
	"github.com/marshallshelly/pebble-integrity/pkg/models"
	"github.com/marshallshelly/pebble-integrity/pkg/registry"
	"github.com/marshallshelly/pebble-integrity/pkg/runtime"
	"github.com/marshallshelly/pebble-integrity/pkg/schema"
	"github.com/marshallshelly/pebble-integrity/pkg/store"
)

const librarySource = `package library

// table_name: authors
type Author struct {
	ID    int64   ` + "`po:\"id,primaryKey,serial\"`" + `
	Name  string  ` + "`po:\"name,varchar(64),notNull\"`" + `
	Email *string ` + "`po:\"email,unique\"`" + `

	Books []Book ` + "`po:\"books,hasMany,foreignKey(author_id)\"`" + `
}

type Book struct {
	ID       int64 ` + "`po:\"id,primaryKey,serial\"`" + `
	AuthorID int64 ` + "`po:\"author_id,notNull,fk(authors.id),onDelete(cascade)\"`" + `
	Pages    int32 ` + "`po:\"pages\"`" + `
	internal string

	Author *Author ` + "`po:\"author,belongsTo,foreignKey(author_id)\"`" + `
}

func (Book) TableName() string { return "books" }

type NotAModel struct {
	Value string
}
`

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return dir
}

func TestLoadModelsFromPath_Library(t *testing.T) {
	dir := writeSource(t, "library.go", librarySource)

	reg := registry.NewRegistry()
	count, err := LoadModelsFromPath(dir, reg)
	if err != nil {
		t.Fatalf("LoadModelsFromPath failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 models, got %d", count)
	}
	if err := reg.Freeze(); err != nil {
		t.Fatalf("Freeze failed: %v", err)
	}

	if got := reg.Kinds(); !slices.Equal(got, []string{"authors", "books"}) {
		t.Errorf("kinds = %v", got)
	}

	authors, err := reg.Entity("authors")
	if err != nil {
		t.Fatalf("Entity(authors): %v", err)
	}
	email, ok := authors.Field("email")
	if !ok {
		t.Fatal("email field missing")
	}
	if email.Type != schema.TextType || !email.Unique || !email.Nullable {
		t.Errorf("email = %+v", email)
	}
	name, _ := authors.Field("name")
	if name.MaxLength != 64 || name.Nullable {
		t.Errorf("name = %+v", name)
	}

	books, err := reg.Entity("books")
	if err != nil {
		t.Fatalf("Entity(books): %v", err)
	}
	if _, ok := books.Field("internal"); ok {
		t.Error("unexported field should be skipped")
	}
	pages, _ := books.Field("pages")
	if pages.Type != schema.IntegerType {
		t.Errorf("pages type = %s, want integer from Go type", pages.Type)
	}
	fk, ok := books.ForeignKey("author_id")
	if !ok {
		t.Fatal("author_id foreign key missing")
	}
	if fk.ReferencedEntity != "authors" || fk.OnDelete != schema.Cascade {
		t.Errorf("fk = %+v", fk)
	}

	rel, err := reg.Relationship("authors", "books")
	if err != nil {
		t.Fatalf("Relationship: %v", err)
	}
	if rel.Target != "books" || rel.ForeignKey != "author_id" {
		t.Errorf("relationship = %+v", rel)
	}
}

func TestLoadModelsFromPath_NewKindsNeedNoEngineChanges(t *testing.T) {
	dir := writeSource(t, "library.go", librarySource)
	reg := registry.NewRegistry()
	if _, err := LoadModelsFromPath(dir, reg); err != nil {
		t.Fatalf("LoadModelsFromPath failed: %v", err)
	}
	if err := reg.Freeze(); err != nil {
		t.Fatalf("Freeze failed: %v", err)
	}

	ctx := context.Background()
	e, err := integrity.Open(ctx, reg, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	author, err := e.Insert(ctx, "authors", store.Fields{"name": "Le Guin"})
	if err != nil {
		t.Fatalf("insert author: %v", err)
	}
	if _, err := e.Insert(ctx, "books", store.Fields{"author_id": author.Fields["id"], "pages": 248}); err != nil {
		t.Fatalf("insert book: %v", err)
	}
	if _, err := e.Insert(ctx, "books", store.Fields{"author_id": 99}); !errors.Is(err, runtime.ErrDanglingReference) {
		t.Errorf("expected dangling reference, got %v", err)
	}

	if _, err := e.Delete(ctx, "authors", author.Key); err != nil {
		t.Fatalf("delete author: %v", err)
	}
	if n := e.Stats()["books"]; n != 0 {
		t.Errorf("expected books to cascade, %d left", n)
	}
}

func TestLoadModelsFromPath_MatchesReflection(t *testing.T) {
	loaded := registry.NewRegistry()
	if _, err := LoadModelsFromPath("../models", loaded); err != nil {
		t.Fatalf("LoadModelsFromPath failed: %v", err)
	}
	if err := loaded.Freeze(); err != nil {
		t.Fatalf("Freeze failed: %v", err)
	}
	reflected, err := models.NewRegistry()
	if err != nil {
		t.Fatalf("models.NewRegistry failed: %v", err)
	}

	if !slices.Equal(loaded.Kinds(), reflected.Kinds()) {
		t.Fatalf("kinds = %v, want %v", loaded.Kinds(), reflected.Kinds())
	}
	for _, kind := range reflected.Kinds() {
		want, _ := reflected.Entity(kind)
		got, _ := loaded.Entity(kind)

		if !slices.Equal(got.PrimaryKey, want.PrimaryKey) {
			t.Errorf("%s primary key = %v, want %v", kind, got.PrimaryKey, want.PrimaryKey)
		}
		if len(got.Fields) != len(want.Fields) {
			t.Errorf("%s has %d fields, want %d", kind, len(got.Fields), len(want.Fields))
			continue
		}
		for i := range want.Fields {
			g, w := got.Fields[i], want.Fields[i]
			if g.Name != w.Name || g.Type != w.Type || g.MaxLength != w.MaxLength || g.Nullable != w.Nullable {
				t.Errorf("%s.%s = %+v, want %+v", kind, w.Name, g, w)
			}
		}
		if !slices.Equal(loaded.DeleteClosure(kind), reflected.DeleteClosure(kind)) {
			t.Errorf("%s delete closure differs", kind)
		}
	}

	rel, err := loaded.ManyToMany("posts", "categories")
	if err != nil {
		t.Fatalf("ManyToMany: %v", err)
	}
	if rel.JoinForeignKey != "post_id" || rel.JoinReferences != "category_id" {
		t.Errorf("junction columns = %s/%s", rel.JoinForeignKey, rel.JoinReferences)
	}
}

func TestLoadModelsFromPath_Errors(t *testing.T) {
	reg := registry.NewRegistry()

	if _, err := LoadModelsFromPath(filepath.Join(t.TempDir(), "missing"), reg); err == nil {
		t.Error("expected error for missing path")
	}

	txt := filepath.Join(t.TempDir(), "models.txt")
	if err := os.WriteFile(txt, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadModelsFromPath(txt, reg); err == nil {
		t.Error("expected error for non-Go file")
	}

	if _, err := LoadModelsFromPath(t.TempDir(), reg); err == nil {
		t.Error("expected error for empty directory")
	}

	noKey := writeSource(t, "bad.go", "package bad\n\ntype Thing struct {\n\tName string `po:\"name,text\"`\n}\n")
	if _, err := LoadModelsFromPath(noKey, reg); err == nil {
		t.Error("expected error for entity without primary key")
	}

	broken := writeSource(t, "broken.go", "package broken\n\ntype {")
	if _, err := LoadModelsFromPath(broken, reg); err == nil {
		t.Error("expected parse error")
	}
}

func TestFieldTypeFromAST(t *testing.T) {
	dir := writeSource(t, "types.go", `package types

import "database/sql"

type Row struct {
	ID    int64          `+"`po:\"id,primaryKey\"`"+`
	Count *int           `+"`po:\"count\"`"+`
	Label sql.NullString `+"`po:\"label\"`"+`
}
`)
	reg := registry.NewRegistry()
	if _, err := LoadModelsFromPath(dir, reg); err != nil {
		t.Fatalf("LoadModelsFromPath failed: %v", err)
	}
	row, err := reg.Entity("row")
	if err != nil {
		t.Fatalf("Entity(row): %v", err)
	}

	tests := map[string]schema.FieldType{
		"id":    schema.IntegerType,
		"count": schema.IntegerType,
		"label": schema.TextType,
	}
	for name, want := range tests {
		f, ok := row.Field(name)
		if !ok {
			t.Errorf("field %s missing", name)
			continue
		}
		if f.Type != want {
			t.Errorf("%s type = %s, want %s", name, f.Type, want)
		}
	}
}
