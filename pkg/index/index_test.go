package index

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marshallshelly/pebble-integrity/pkg/models"
	"github.com/marshallshelly/pebble-integrity/pkg/runtime"
	"github.com/marshallshelly/pebble-integrity/pkg/schema"
	"github.com/marshallshelly/pebble-integrity/pkg/store"
)

func TestIndex_AttachDetach(t *testing.T) {
	ix := New("posts", schema.ForeignKeyMetadata{Column: "author_id", ReferencedEntity: "users"})

	require.NoError(t, ix.Attach("1", "10"))
	require.NoError(t, ix.Attach("1", "11"))
	require.NoError(t, ix.Attach("2", "12"))

	assert.Equal(t, []store.Key{"10", "11"}, ix.Children("1"))
	assert.Equal(t, 2, ix.Count("1"))

	parent, ok := ix.Parent("12")
	require.True(t, ok)
	assert.Equal(t, store.Key("2"), parent)

	t.Run("re-attach moves the child", func(t *testing.T) {
		require.NoError(t, ix.Attach("2", "10"))
		assert.Equal(t, []store.Key{"11"}, ix.Children("1"))
		assert.Equal(t, []store.Key{"12", "10"}, ix.Children("2"))
	})

	t.Run("detach", func(t *testing.T) {
		parent, ok := ix.Detach("11")
		assert.True(t, ok)
		assert.Equal(t, store.Key("1"), parent)
		assert.Zero(t, ix.Count("1"))

		_, ok = ix.Detach("11")
		assert.False(t, ok)
	})
}

func TestIndex_Unique(t *testing.T) {
	ix := New("profiles", schema.ForeignKeyMetadata{Column: "user_id", ReferencedEntity: "users", Unique: true})

	require.NoError(t, ix.Attach("1", "5"))
	require.NoError(t, ix.Attach("1", "5"), "re-attaching the same child is a no-op")

	err := ix.Attach("1", "6")
	require.ErrorIs(t, err, runtime.ErrCardinalityViolation)
	var ce *runtime.CardinalityError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "users", ce.ParentKind)
	assert.Equal(t, "1", ce.ParentKey)

	assert.Equal(t, []store.Key{"5"}, ix.Children("1"))
}

func TestIndex_CloneIsolation(t *testing.T) {
	ix := New("posts", schema.ForeignKeyMetadata{Column: "author_id", ReferencedEntity: "users"})
	require.NoError(t, ix.Attach("1", "10"))

	clone := ix.Clone()
	require.NoError(t, clone.Attach("1", "11"))
	clone.Detach("10")

	assert.Equal(t, []store.Key{"10"}, ix.Children("1"))
	assert.Equal(t, []store.Key{"11"}, clone.Children("1"))
}

// fixture builds a store and index set holding one user with two posts,
// a profile and two categories linked to the first post.
func fixture(t *testing.T) (*store.Store, *Set) {
	t.Helper()
	reg, err := models.NewRegistry()
	require.NoError(t, err)

	st := store.New(reg.All())
	set := NewSet(reg.All())

	insert := func(kind string, fields store.Fields) store.Record {
		rec, err := st.Insert(kind, fields)
		require.NoError(t, err)
		require.NoError(t, set.Add(rec))
		return rec
	}

	insert("users", store.Fields{"full_name": "Ada"})
	insert("profiles", store.Fields{"user_id": 1, "bio": "hi"})
	insert("posts", store.Fields{"author_id": 1, "text": "b"})
	insert("posts", store.Fields{"author_id": 1, "text": "a"})
	insert("categories", store.Fields{"name": "go"})
	insert("categories", store.Fields{"name": "db"})
	insert("post_categories", store.Fields{"post_id": 1, "category_id": 2})
	insert("post_categories", store.Fields{"post_id": 1, "category_id": 1})
	return st, set
}

func keys(t *testing.T, st *store.Store, set *Set, kind, name string, key store.Key, opts ...Option) []store.Key {
	t.Helper()
	reg, err := models.Registry()
	require.NoError(t, err)
	rel, err := reg.Relationship(kind, name)
	require.NoError(t, err)
	seq, err := Related(st, set, rel, key, opts...)
	require.NoError(t, err)
	var out []store.Key
	for rec := range seq {
		out = append(out, rec.Key)
	}
	return out
}

func TestRelated(t *testing.T) {
	st, set := fixture(t)

	tests := []struct {
		name string
		kind string
		rel  string
		key  store.Key
		opts []Option
		want []store.Key
	}{
		{"has one", "users", "profile", "1", nil, []store.Key{"1"}},
		{"has many in insertion order", "users", "posts", "1", nil, []store.Key{"1", "2"}},
		{"has many sorted", "users", "posts", "1", []Option{SortBy("text", false)}, []store.Key{"2", "1"}},
		{"has many sorted desc", "users", "posts", "1", []Option{SortBy("id", true)}, []store.Key{"2", "1"}},
		{"belongs to", "posts", "author", "2", nil, []store.Key{"1"}},
		{"many to many", "posts", "categories", "1", nil, []store.Key{"2", "1"}},
		{"many to many inverse", "categories", "posts", "2", nil, []store.Key{"1"}},
		{"junction rows", "posts", "post_categories", "1", nil, []store.Key{"1/2", "1/1"}},
		{"no related records", "posts", "categories", "2", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, keys(t, st, set, tt.kind, tt.rel, tt.key, tt.opts...))
		})
	}
}

func TestRelated_Errors(t *testing.T) {
	st, set := fixture(t)
	reg, err := models.Registry()
	require.NoError(t, err)
	rel, err := reg.Relationship("users", "posts")
	require.NoError(t, err)

	_, err = Related(st, set, rel, "1", SortBy("nope", false))
	assert.Error(t, err)
}

func TestSet_CheckAndRemove(t *testing.T) {
	st, set := fixture(t)

	second := store.Record{Kind: "profiles", Key: "2", Fields: store.Fields{"user_id": int64(1)}}
	assert.ErrorIs(t, set.Check(second), runtime.ErrCardinalityViolation)

	post, err := st.Get("posts", "1")
	require.NoError(t, err)

	clone := set.Clone("posts")
	clone.Remove(post)

	authorIx, _ := set.Get("posts", "author_id")
	cloneIx, _ := clone.Get("posts", "author_id")
	assert.Equal(t, 2, authorIx.Count("1"))
	assert.Equal(t, 1, cloneIx.Count("1"))

	set.Adopt(clone, "posts")
	authorIx, _ = set.Get("posts", "author_id")
	assert.Equal(t, 1, authorIx.Count("1"))

	parents := set.ForParent("users")
	names := make([]string, len(parents))
	for i, ix := range parents {
		names[i] = ix.Kind
	}
	slices.Sort(names)
	assert.Equal(t, []string{"posts", "profiles"}, names)
}
