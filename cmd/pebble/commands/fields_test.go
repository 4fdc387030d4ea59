package commands

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marshallshelly/pebble-integrity/pkg/integrity"
	"github.com/marshallshelly/pebble-integrity/pkg/models"
	"github.com/marshallshelly/pebble-integrity/pkg/runtime"
	"github.com/marshallshelly/pebble-integrity/pkg/store"
)

func TestParseAssignments(t *testing.T) {
	reg, err := models.Registry()
	require.NoError(t, err)

	tests := []struct {
		name    string
		kind    string
		args    []string
		want    store.Fields
		wantErr string
	}{
		{
			name: "typed values",
			kind: "posts",
			args: []string{"author_id=7", "text=a=b"},
			want: store.Fields{"author_id": int64(7), "text": "a=b"},
		},
		{
			name: "null clears",
			kind: "users",
			args: []string{"phone=null"},
			want: store.Fields{"phone": nil},
		},
		{
			name: "unknown field passes through",
			kind: "users",
			args: []string{"nickname=ada"},
			want: store.Fields{"nickname": "ada"},
		},
		{
			name:    "not an integer",
			kind:    "users",
			args:    []string{"score=high"},
			wantErr: "not an integer",
		},
		{
			name:    "missing equals",
			kind:    "users",
			args:    []string{"score"},
			wantErr: "expected field=value",
		},
		{
			name:    "unknown kind",
			kind:    "comments",
			wantErr: "unknown entity kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAssignments(reg, tt.kind, tt.args)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatching(t *testing.T) {
	assert.Nil(t, matching(nil))

	pred := matching(store.Fields{"author_id": int64(1), "text": nil})
	assert.True(t, pred(store.Record{Fields: store.Fields{"author_id": int64(1)}}))
	assert.False(t, pred(store.Record{Fields: store.Fields{"author_id": int64(2)}}))
	assert.False(t, pred(store.Record{Fields: store.Fields{"author_id": int64(1), "text": "x"}}))
}

func TestSeed(t *testing.T) {
	reg, err := models.NewRegistry()
	require.NoError(t, err)
	ctx := context.Background()
	e, err := integrity.Open(ctx, reg, nil)
	require.NoError(t, err)

	require.NoError(t, seed(ctx, e, 3))

	assert.Equal(t, map[string]int{
		"users":           3,
		"profiles":        3,
		"posts":           6,
		"categories":      len(seedCategories),
		"post_categories": 9,
	}, e.Stats())

	_, err = e.Delete(ctx, "users", "1")
	assert.ErrorIs(t, err, runtime.ErrRestrictedDeletion, "seeded users have posts")

	rep, err := e.Verify(ctx)
	require.NoError(t, err)
	assert.Empty(t, rep.Drift)
}
