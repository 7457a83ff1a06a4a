package scene

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func populatedDirectory(t *testing.T) (*Directory, map[int64]*fakeSession) {
	t.Helper()
	dir := NewDirectory(nil)
	sessions := map[int64]*fakeSession{
		1: {userID: 1, scene: "card_edit", page: "detail", data: map[string]any{"card_id": 100}},
		2: {userID: 2, scene: "card_edit", page: "list", data: map[string]any{"card_id": 200}},
		3: {userID: 3, scene: "task_view", page: "detail", data: map[string]any{"card_id": 100}},
	}
	for id, s := range sessions {
		_, err := dir.Create(id, sessionFactory(s))
		require.NoError(t, err)
	}
	return dir, sessions
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		raw     string
		want    Action
		wantErr bool
	}{
		{raw: "", want: ActionUpdate},
		{raw: "update", want: ActionUpdate},
		{raw: "close", want: ActionClose},
		{raw: "purge", wantErr: true},
	}
	for _, tt := range tests {
		t.Run("action_"+tt.raw, func(t *testing.T) {
			got, err := ParseAction(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBroadcastEmptyFilterMatchesAll(t *testing.T) {
	dir, sessions := populatedDirectory(t)
	b := NewBroadcaster(dir, nil)

	total, updated := b.Apply(context.Background(), Filter{}, ActionUpdate)
	assert.Equal(t, 3, total)
	assert.Equal(t, 3, updated)
	for _, s := range sessions {
		assert.Equal(t, 1, s.updateCount())
	}
}

func TestBroadcastSceneNameFilter(t *testing.T) {
	dir, sessions := populatedDirectory(t)
	b := NewBroadcaster(dir, nil)

	total, updated := b.Apply(context.Background(), Filter{SceneName: "card_edit"}, ActionUpdate)
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, updated)
	assert.Equal(t, 1, sessions[1].updateCount())
	assert.Equal(t, 1, sessions[2].updateCount())
	assert.Equal(t, 0, sessions[3].updateCount())
}

func TestBroadcastDataFilterCoercesValues(t *testing.T) {
	dir, sessions := populatedDirectory(t)
	b := NewBroadcaster(dir, nil)

	// card_id is stored as an int; the wire filter carries strings.
	_, updated := b.Apply(context.Background(), Filter{DataKey: "card_id", DataValue: "100"}, ActionUpdate)
	assert.Equal(t, 2, updated)
	assert.Equal(t, 1, sessions[1].updateCount())
	assert.Equal(t, 0, sessions[2].updateCount())
	assert.Equal(t, 1, sessions[3].updateCount())
}

func TestBroadcastUserIDFilter(t *testing.T) {
	dir, sessions := populatedDirectory(t)
	b := NewBroadcaster(dir, nil)

	_, updated := b.Apply(context.Background(), Filter{UserIDs: []int64{2, 3}}, ActionUpdate)
	assert.Equal(t, 2, updated)
	assert.Equal(t, 0, sessions[1].updateCount())
}

func TestBroadcastCloseRemovesSessions(t *testing.T) {
	dir, sessions := populatedDirectory(t)
	b := NewBroadcaster(dir, nil)

	total, updated := b.Apply(context.Background(), Filter{PageName: "detail"}, ActionClose)
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, updated)
	assert.Equal(t, 1, sessions[1].endCount())
	assert.Equal(t, 1, sessions[3].endCount())

	_, ok := dir.Get(1)
	assert.False(t, ok)
	_, ok = dir.Get(3)
	assert.False(t, ok)
	assert.Equal(t, 1, dir.Len())
}

func TestBroadcastIsolatesFailingSession(t *testing.T) {
	dir, sessions := populatedDirectory(t)
	sessions[1].updateErr = fmt.Errorf("message deleted by user")
	b := NewBroadcaster(dir, nil)

	total, updated := b.Apply(context.Background(), Filter{}, ActionUpdate)
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, updated)
	assert.Equal(t, 1, sessions[2].updateCount())
	assert.Equal(t, 1, sessions[3].updateCount())
}

func TestBroadcastIsolatesPanickingSession(t *testing.T) {
	dir, sessions := populatedDirectory(t)
	sessions[2].panicOn = true
	b := NewBroadcaster(dir, nil)

	total, updated := b.Apply(context.Background(), Filter{}, ActionUpdate)
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, updated)
}

func TestBroadcastFailedCloseKeepsSessionRegistered(t *testing.T) {
	dir, sessions := populatedDirectory(t)
	sessions[3].endErr = fmt.Errorf("already ended")
	b := NewBroadcaster(dir, nil)

	_, updated := b.Apply(context.Background(), Filter{SceneName: "task_view"}, ActionClose)
	assert.Equal(t, 0, updated)
	_, ok := dir.Get(3)
	assert.True(t, ok)
}
