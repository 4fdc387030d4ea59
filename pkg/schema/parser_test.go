package schema

import (
	"reflect"
	"testing"
)

type testAccount struct {
	ID      int64   `po:"id,primaryKey,serial"`
	Handle  string  `po:"handle,varchar(32),notNull,unique"`
	Bio     *string `po:"bio,text"`
	Karma   *int64  `po:"karma,integer"`
	private string
	Ignored string `po:"-"`

	Notes []testNote `po:"notes,hasMany,foreignKey(account_id)"`
}

type testNote struct {
	ID        int64  `po:"id,primaryKey,serial"`
	AccountID int64  `po:"account_id,integer,notNull,fk(accounts.id),onDelete(cascade)"`
	Body      string `po:"body,varchar(10)"`

	Account *testAccount `po:"account,belongsTo,foreignKey(account_id)"`
}

func (testAccount) TableName() string { return "accounts" }

type testTagLink struct {
	NoteID int64 `po:"note_id,primaryKey,notNull,fk:test_note(id)"`
	TagID  int64 `po:"tag_id,primaryKey,notNull,fk(tags.id),onDelete(set_null)"`
}

func TestParser_Parse(t *testing.T) {
	parser := NewParser()

	t.Run("entity name and fields", func(t *testing.T) {
		entity, err := parser.Parse(reflect.TypeOf(testAccount{}))
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if entity.Name != "accounts" {
			t.Errorf("expected entity name 'accounts', got '%s'", entity.Name)
		}
		if len(entity.Fields) != 4 {
			t.Fatalf("expected 4 fields, got %d", len(entity.Fields))
		}
		if len(entity.PrimaryKey) != 1 || entity.PrimaryKey[0] != "id" {
			t.Errorf("expected primary key [id], got %v", entity.PrimaryKey)
		}

		id, _ := entity.Field("id")
		if !id.AutoIncrement || id.Nullable || id.Type != IntegerType {
			t.Errorf("unexpected id field: %+v", id)
		}

		handle, _ := entity.Field("handle")
		if handle.MaxLength != 32 || handle.Nullable || !handle.Unique {
			t.Errorf("unexpected handle field: %+v", handle)
		}

		bio, _ := entity.Field("bio")
		if !bio.Nullable || bio.Type != TextType {
			t.Errorf("expected nullable text bio, got %+v", bio)
		}
	})

	t.Run("snake case fallback", func(t *testing.T) {
		entity, err := parser.Parse(reflect.TypeOf(&testNote{}))
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if entity.Name != "test_note" {
			t.Errorf("expected 'test_note', got '%s'", entity.Name)
		}
	})

	t.Run("foreign keys", func(t *testing.T) {
		entity, err := parser.Parse(reflect.TypeOf(testNote{}))
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		fk, ok := entity.ForeignKey("account_id")
		if !ok {
			t.Fatal("account_id foreign key not found")
		}
		if fk.ReferencedEntity != "accounts" || fk.ReferencedColumn != "id" {
			t.Errorf("unexpected reference %s.%s", fk.ReferencedEntity, fk.ReferencedColumn)
		}
		if fk.OnDelete != Cascade {
			t.Errorf("expected CASCADE, got %s", fk.OnDelete)
		}
	})

	t.Run("junction with both fk syntaxes", func(t *testing.T) {
		entity, err := parser.Parse(reflect.TypeOf(testTagLink{}))
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if !entity.IsJunction() {
			t.Error("expected composite foreign-key identity to be a junction")
		}
		noteFK, _ := entity.ForeignKey("note_id")
		if noteFK.ReferencedEntity != "test_note" || noteFK.EffectiveOnDelete() != Restrict {
			t.Errorf("unexpected note fk: %+v", noteFK)
		}
		tagFK, _ := entity.ForeignKey("tag_id")
		if tagFK.OnDelete != SetNull {
			t.Errorf("expected SET NULL, got %s", tagFK.OnDelete)
		}
	})

	t.Run("relationships", func(t *testing.T) {
		account, _ := parser.Parse(reflect.TypeOf(testAccount{}))
		notes := account.GetRelationship("notes")
		if notes == nil {
			t.Fatal("notes relationship not found")
		}
		if notes.Type != HasMany || notes.ForeignKey != "account_id" || notes.References != "id" {
			t.Errorf("unexpected relationship: %+v", notes)
		}
		if notes.TargetType != reflect.TypeOf(testNote{}) {
			t.Errorf("expected target type testNote, got %v", notes.TargetType)
		}

		note, _ := parser.Parse(reflect.TypeOf(testNote{}))
		if got := note.GetRelationshipsByType(BelongsTo); len(got) != 1 || got[0].Name != "account" {
			t.Errorf("expected one belongsTo named account, got %+v", got)
		}
	})
}

func TestParser_Errors(t *testing.T) {
	type noKey struct {
		Name string `po:"name,text"`
	}
	type badType struct {
		ID   int64 `po:"id,primaryKey"`
		Size int64 `po:"size,varchar(10)"`
	}
	type badAction struct {
		ID  int64 `po:"id,primaryKey"`
		Ref int64 `po:"ref,fk(x.id),onDelete(explode)"`
	}

	tests := []struct {
		name  string
		model any
	}{
		{"missing primary key", noKey{}},
		{"sql type mismatch", badType{}},
		{"unknown action", badAction{}},
		{"not a struct", 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewParser().Parse(reflect.TypeOf(tt.model)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestParseTag(t *testing.T) {
	opts, err := ParseTag("user_id,integer,notNull,fk:users(id),onDelete(cascade)")
	if err != nil {
		t.Fatalf("ParseTag failed: %v", err)
	}
	if opts.Name != "user_id" {
		t.Errorf("expected name user_id, got %s", opts.Name)
	}
	if got := opts.Get("fk"); got != "users(id)" {
		t.Errorf("expected fk users(id), got %s", got)
	}
	if got := opts.Get("onDelete"); got != "cascade" {
		t.Errorf("expected onDelete cascade, got %s", got)
	}
	if !opts.Has("notNull") || opts.GetSQLType() != "integer" {
		t.Errorf("unexpected options: %+v", opts.Options)
	}

	if _, err := ParseTag(""); err == nil {
		t.Error("expected error for empty tag")
	}
	if _, err := ParseTag("x,varchar(10"); err == nil {
		t.Error("expected error for unbalanced option")
	}
}

func TestToSnakeCase(t *testing.T) {
	tests := map[string]string{
		"PostCategory": "post_category",
		"User":         "user",
		"Profile":      "profile",
	}
	for in, want := range tests {
		if got := ToSnakeCase(in); got != want {
			t.Errorf("ToSnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseSQLType(t *testing.T) {
	tests := []struct {
		in   string
		want SQLType
	}{
		{"serial", SQLType{Name: "serial", Type: IntegerType, AutoIncrement: true}},
		{"varchar(100)", SQLType{Name: "varchar", Size: 100, Type: TextType}},
		{"BIGINT", SQLType{Name: "bigint", Type: IntegerType}},
		{"jsonb", SQLType{Name: "jsonb"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseSQLType(tt.in); got != tt.want {
				t.Errorf("ParseSQLType(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}
