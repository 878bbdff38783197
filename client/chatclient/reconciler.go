package chatclient

import (
	"sync"

	"crm_server/server/chat/domain"
)

// Reconciler pairs optimistic provisional messages with the authoritative
// copies the server broadcasts. A provisional stays tracked until a server
// message in the same chat with the same body claims it, oldest first.
type Reconciler struct {
	mu      sync.Mutex
	pending []domain.Message

	// OnReconciled fires when a provisional is replaced by its server copy.
	OnReconciled func(tempID string, server domain.Message)
}

func NewReconciler() *Reconciler {
	return &Reconciler{}
}

func (r *Reconciler) Track(provisional domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, provisional)
}

// Resolve matches a server-side outbound message against the oldest tracked
// provisional with the same chat and content. Unmatched messages pass through
// untouched; they came from another operator session.
func (r *Reconciler) Resolve(server domain.Message) (string, bool) {
	r.mu.Lock()
	var tempID string
	for i, p := range r.pending {
		if p.ChatID == server.ChatID && p.Content == server.Content && p.MediaURL == server.MediaURL {
			tempID = p.ID
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			break
		}
	}
	callback := r.OnReconciled
	r.mu.Unlock()

	if tempID == "" {
		return "", false
	}
	if callback != nil {
		callback(tempID, server)
	}
	return tempID, true
}

// MarkStatus updates a tracked provisional's status. The provisional stays
// tracked either way so a later retry or server copy can still reconcile it.
func (r *Reconciler) MarkStatus(tempID string, status domain.MessageStatus) (domain.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.pending {
		if p.ID == tempID {
			r.pending[i].Status = status
			return r.pending[i], true
		}
	}
	return domain.Message{}, false
}

// MarkFailed flips a tracked provisional to FAILED.
func (r *Reconciler) MarkFailed(tempID string) (domain.Message, bool) {
	return r.MarkStatus(tempID, domain.StatusFailed)
}

// Discard drops a tracked provisional. Used when a REST fallback send has
// fully landed: the server copy may never be observed (the client is not
// necessarily in the chat room), so waiting for Resolve would leak the entry.
func (r *Reconciler) Discard(tempID string) (domain.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.pending {
		if p.ID == tempID {
			p.Status = domain.StatusSent
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return p, true
		}
	}
	return domain.Message{}, false
}

// Pending returns the provisionals still waiting for a server copy.
func (r *Reconciler) Pending() []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Message, len(r.pending))
	copy(out, r.pending)
	return out
}
