package chatclient

import (
	"testing"

	"github.com/stretchr/testify/require"

	"crm_server/server/chat/domain"
)

func TestReconcilerResolvesOldestMatch(t *testing.T) {
	r := NewReconciler()
	r.Track(domain.Message{ID: "temp-1", ChatID: "chat-1", Content: "oi"})
	r.Track(domain.Message{ID: "temp-2", ChatID: "chat-1", Content: "oi"})

	tempID, ok := r.Resolve(domain.Message{ID: "msg-9", ChatID: "chat-1", Content: "oi", Direction: domain.DirectionOutbound})
	require.True(t, ok)
	require.Equal(t, "temp-1", tempID)

	pending := r.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, "temp-2", pending[0].ID)
}

func TestReconcilerIgnoresUnmatchedMessages(t *testing.T) {
	r := NewReconciler()
	r.Track(domain.Message{ID: "temp-1", ChatID: "chat-1", Content: "oi"})

	_, ok := r.Resolve(domain.Message{ID: "msg-9", ChatID: "chat-2", Content: "oi"})
	require.False(t, ok)
	_, ok = r.Resolve(domain.Message{ID: "msg-9", ChatID: "chat-1", Content: "outra coisa"})
	require.False(t, ok)
	require.Len(t, r.Pending(), 1)
}

func TestReconcilerCallback(t *testing.T) {
	r := NewReconciler()
	var gotTemp string
	var gotServer domain.Message
	r.OnReconciled = func(tempID string, server domain.Message) {
		gotTemp = tempID
		gotServer = server
	}
	r.Track(domain.Message{ID: "temp-1", ChatID: "chat-1", Content: "oi"})

	_, ok := r.Resolve(domain.Message{ID: "msg-9", ChatID: "chat-1", Content: "oi"})
	require.True(t, ok)
	require.Equal(t, "temp-1", gotTemp)
	require.Equal(t, "msg-9", gotServer.ID)
}

func TestReconcilerMarkFailedKeepsTracking(t *testing.T) {
	r := NewReconciler()
	r.Track(domain.Message{ID: "temp-1", ChatID: "chat-1", Content: "oi", Status: domain.StatusSent})

	failed, ok := r.MarkFailed("temp-1")
	require.True(t, ok)
	require.Equal(t, domain.StatusFailed, failed.Status)

	// A later retry can still reconcile the provisional.
	tempID, ok := r.Resolve(domain.Message{ID: "msg-9", ChatID: "chat-1", Content: "oi"})
	require.True(t, ok)
	require.Equal(t, "temp-1", tempID)
}

func TestReconcilerMarkFailedUnknownID(t *testing.T) {
	r := NewReconciler()
	_, ok := r.MarkFailed("temp-404")
	require.False(t, ok)
}

func TestReconcilerDiscardEvicts(t *testing.T) {
	r := NewReconciler()
	r.Track(domain.Message{ID: "temp-1", ChatID: "chat-1", Content: "oi", Status: domain.StatusFailed})

	discarded, ok := r.Discard("temp-1")
	require.True(t, ok)
	require.Equal(t, domain.StatusSent, discarded.Status)
	require.Empty(t, r.Pending())

	_, ok = r.Discard("temp-1")
	require.False(t, ok)
}
