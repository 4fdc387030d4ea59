package tui

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marshallshelly/pebble-integrity/pkg/integrity"
	"github.com/marshallshelly/pebble-integrity/pkg/models"
	"github.com/marshallshelly/pebble-integrity/pkg/store"
)

func browseEngine(t *testing.T) (*integrity.Engine, store.Record) {
	t.Helper()
	reg, err := models.NewRegistry()
	require.NoError(t, err)
	ctx := context.Background()
	e, err := integrity.Open(ctx, reg, nil)
	require.NoError(t, err)

	user, err := e.Insert(ctx, "users", store.Fields{"full_name": "Ada"})
	require.NoError(t, err)
	_, err = e.Insert(ctx, "profiles", store.Fields{"user_id": user.Fields["id"], "bio": "hi"})
	require.NoError(t, err)
	return e, user
}

// run applies cmd and feeds its message back into the model.
func run(t *testing.T, m tea.Model, cmd tea.Cmd) tea.Model {
	t.Helper()
	require.NotNil(t, cmd)
	m, _ = m.Update(cmd())
	return m
}

func TestBrowseModel_Kinds(t *testing.T) {
	e, _ := browseEngine(t)
	m := NewBrowseModel(e)

	items := m.kinds.Items()
	require.Len(t, items, 5)
	users := items[0].(KindItem)
	assert.Equal(t, "users", users.Name)
	assert.Equal(t, 1, users.Count)
	assert.True(t, items[4].(KindItem).Junction)
}

func TestBrowseModel_DeleteCascades(t *testing.T) {
	e, user := browseEngine(t)
	var m tea.Model = NewBrowseModel(e)

	m = run(t, m, loadRecordsCmd(e, "users"))
	bm := m.(BrowseModel)
	require.Equal(t, ModeRecords, bm.mode)
	require.Len(t, bm.records.Items(), 1)

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	bm = m.(BrowseModel)
	require.Equal(t, ModeConfirm, bm.mode)
	assert.Contains(t, bm.confirmation.Message, "profiles")

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyLeft})
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = run(t, m, cmd)

	bm = m.(BrowseModel)
	require.Len(t, bm.logs.Logs, 2)
	assert.Contains(t, bm.logs.Logs[0], "deleted users "+string(user.Key))
	assert.Contains(t, bm.logs.Logs[1], "1 profiles")
	assert.Zero(t, e.Stats()["profiles"])
}

func TestBrowseModel_CancelKeepsRecord(t *testing.T) {
	e, _ := browseEngine(t)
	var m tea.Model = NewBrowseModel(e)
	m = run(t, m, loadRecordsCmd(e, "users"))

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = run(t, m, cmd)

	assert.Equal(t, ModeRecords, m.(BrowseModel).mode)
	assert.Equal(t, 1, e.Stats()["users"])
}

func TestBrowseModel_Detail(t *testing.T) {
	e, user := browseEngine(t)
	var m tea.Model = NewBrowseModel(e)
	m = run(t, m, loadRecordsCmd(e, "users"))

	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.Equal(t, ModeDetail, m.(BrowseModel).mode)
	m = run(t, m, cmd)

	bm := m.(BrowseModel)
	assert.Equal(t, user.Key, bm.selected.Key)
	counts := map[string]int{}
	for _, r := range bm.related {
		counts[r.name] = r.count
	}
	assert.Equal(t, map[string]int{"profile": 1, "posts": 0}, counts)
	assert.Contains(t, bm.View(), "Ada")
}
