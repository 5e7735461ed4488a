package headless

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consentcompanion/policywatch/pkg/host"
)

func TestTabs(t *testing.T) {
	ctx := context.Background()
	h := New(nil, nil)

	_, err := h.URL(ctx, 1)
	assert.ErrorIs(t, err, host.ErrNoTab)

	h.SetTabURL(1, "https://example.com/")
	url, err := h.URL(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", url)

	require.NoError(t, h.SetBadge(ctx, 1, host.Badge{Text: "OK"}))
	h.RemoveTab(1)
	_, err = h.URL(ctx, 1)
	assert.ErrorIs(t, err, host.ErrNoTab)
	assert.Empty(t, h.Badges())

	require.NoError(t, h.Open(ctx, "https://api.example.org/ui/1"))
	assert.Equal(t, []string{"https://api.example.org/ui/1"}, h.Opened())
}

func TestNotifications(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h := New(nil, func() time.Time { now = now.Add(time.Second); return now })

	require.NoError(t, h.Notify(ctx, "b", host.Notification{Title: "first"}))
	require.NoError(t, h.Notify(ctx, "a", host.Notification{Title: "second"}))

	notes := h.Notifications()
	require.Len(t, notes, 2)
	assert.Equal(t, "b", notes[0].ID)
	assert.Equal(t, "second", notes[1].Title)

	assert.True(t, h.Dismiss("b"))
	assert.False(t, h.Dismiss("b"))
	assert.Len(t, h.Notifications(), 1)
}

func TestAlarms(t *testing.T) {
	ctx := context.Background()
	h := New(nil, nil)
	defer h.Stop()

	fired := make(chan string, 16)
	h.HandleAlarms(func(_ context.Context, name string) { fired <- name })

	require.NoError(t, h.Create(ctx, host.Alarm{Name: "poll", Period: 10 * time.Millisecond}))
	alarms, err := h.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []host.Alarm{{Name: "poll", Period: 10 * time.Millisecond}}, alarms)

	select {
	case name := <-fired:
		assert.Equal(t, "poll", name)
	case <-time.After(2 * time.Second):
		t.Fatal("alarm never fired")
	}

	// Replacing keeps a single alarm under the name.
	require.NoError(t, h.Create(ctx, host.Alarm{Name: "poll", Period: time.Hour}))
	alarms, _ = h.All(ctx)
	assert.Equal(t, []host.Alarm{{Name: "poll", Period: time.Hour}}, alarms)

	require.NoError(t, h.Clear(ctx, "poll"))
	alarms, _ = h.All(ctx)
	assert.Empty(t, alarms)
	assert.NoError(t, h.Clear(ctx, "poll"))
}
