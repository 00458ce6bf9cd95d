package store

import "sync"

// Unseen maintains per-contact counts of messages that arrived while that
// contact's conversation was not open. An absent key means zero; the
// currently open contact is never a key. The counter is purely in-memory
// and is only reconciled against the backend's own count at login, when
// the directory response seeds it.
type Unseen struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewUnseen creates an empty unseen counter.
func NewUnseen() *Unseen {
	return &Unseen{counts: make(map[string]int)}
}

// SeedCounts loads the initial snapshot from the directory fetch. Zero
// and negative entries are dropped so the absent-means-zero invariant
// holds from the start.
func (u *Unseen) SeedCounts(counts map[string]int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.counts = make(map[string]int, len(counts))
	for id, n := range counts {
		if n > 0 {
			u.counts[id] = n
		}
	}
}

// MessageArrived applies one inbound push event. Messages not addressed
// to the current user are ignored. When the sender's conversation is the
// open one the count is unchanged and openConvo is true, telling the
// caller to issue an immediate mark-seen instead. Otherwise the sender's
// count is incremented. counted reports whether a count changed.
func (u *Unseen) MessageArrived(msg *Message, selectedContactID, currentUserID string) (counted, openConvo bool) {
	if msg.ReceiverID != currentUserID {
		return false, false
	}
	if selectedContactID != "" && msg.SenderID == selectedContactID {
		return false, true
	}
	u.mu.Lock()
	u.counts[msg.SenderID]++
	u.mu.Unlock()
	return true, false
}

// ConversationOpened clears the count for contactID in a single state
// transition. There is no partial-seen state within a conversation.
// Reports whether an entry was removed.
func (u *Unseen) ConversationOpened(contactID string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.counts[contactID]; !ok {
		return false
	}
	delete(u.counts, contactID)
	return true
}

// Count returns the unseen count for contactID (zero when absent).
func (u *Unseen) Count(contactID string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[contactID]
}

// Counts returns a snapshot copy of the counter map.
func (u *Unseen) Counts() map[string]int {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make(map[string]int, len(u.counts))
	for id, n := range u.counts {
		out[id] = n
	}
	return out
}

// Reset clears all counts. Called on logout.
func (u *Unseen) Reset() {
	u.mu.Lock()
	u.counts = make(map[string]int)
	u.mu.Unlock()
}
