package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrEmptyMessage is returned when a send carries neither text nor image.
// It is rejected before any network call.
var ErrEmptyMessage = errors.New("message has no text and no image")

// ErrNoConversation is returned when a send is attempted with no contact
// selected.
var ErrNoConversation = errors.New("no conversation selected")

// SendRejectedError is returned when the backend refuses a send. The
// message is not added to the transcript.
type SendRejectedError struct {
	Cause error
}

func (e *SendRejectedError) Error() string {
	return fmt.Sprintf("send rejected: %v", e.Cause)
}

func (e *SendRejectedError) Unwrap() error { return e.Cause }

// Sender performs the backend send call and returns the authoritative
// server message (id, timestamp) on success.
type Sender interface {
	Send(ctx context.Context, contactID, text, image string) (*Message, error)
}

// Conversation holds the ordered transcript of the currently open
// conversation. Messages are kept strictly in arrival order and
// de-duplicated by server id, which makes it safe for a send response and
// a push event to deliver the same message. Every Reset bumps an epoch
// token; history pages resolved under an older epoch are discarded.
type Conversation struct {
	sender Sender

	mu        sync.Mutex
	contactID string
	epoch     uint64
	order     []Message
	present   map[string]struct{}
}

// NewConversation creates an empty conversation view backed by sender.
func NewConversation(sender Sender) *Conversation {
	return &Conversation{
		sender:  sender,
		present: make(map[string]struct{}),
	}
}

// Reset clears the transcript, binds the view to contactID and returns
// the new epoch. A caller issuing an asynchronous history load captures
// the returned epoch and passes it back to Seed.
func (c *Conversation) Reset(contactID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contactID = contactID
	c.epoch++
	c.order = c.order[:0]
	c.present = make(map[string]struct{})
	return c.epoch
}

// Epoch returns the current epoch token.
func (c *Conversation) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// ContactID returns the contact the view is bound to, or "" when none.
func (c *Conversation) ContactID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contactID
}

// Append inserts msg at the tail unless a message with the same id is
// already present. Reports whether the transcript changed.
func (c *Conversation) Append(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.append(msg)
}

func (c *Conversation) append(msg Message) bool {
	if _, ok := c.present[msg.ID]; ok {
		return false
	}
	c.present[msg.ID] = struct{}{}
	c.order = append(c.order, msg)
	return true
}

// Seed applies a resolved history page, oldest first, through the same
// de-duplication path as Append. The page is discarded when epoch no
// longer matches the current epoch (the conversation was switched while
// the load was in flight). Reports whether the page was applied.
func (c *Conversation) Seed(epoch uint64, msgs []Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return false
	}
	for _, m := range msgs {
		c.append(m)
	}
	return true
}

// PrependOlder inserts an older history page, oldest first, ahead of the
// current transcript. Messages already present are skipped. Subject to
// the same epoch guard as Seed.
func (c *Conversation) PrependOlder(epoch uint64, msgs []Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return false
	}
	var fresh []Message
	for _, m := range msgs {
		if _, ok := c.present[m.ID]; ok {
			continue
		}
		c.present[m.ID] = struct{}{}
		fresh = append(fresh, m)
	}
	if len(fresh) == 0 {
		return true
	}
	c.order = append(fresh, c.order...)
	return true
}

// Messages returns a snapshot copy of the transcript in display order.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.order))
	copy(out, c.order)
	return out
}

// Len returns the number of messages in the transcript.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// SendLocal validates the payload, performs the backend send and appends
// the authoritative message via the de-duplication path. The UI renders
// only the returned server message; there is no optimistic placeholder.
func (c *Conversation) SendLocal(ctx context.Context, text, image string) (*Message, error) {
	if strings.TrimSpace(text) == "" && image == "" {
		return nil, ErrEmptyMessage
	}

	c.mu.Lock()
	contactID := c.contactID
	c.mu.Unlock()
	if contactID == "" {
		return nil, ErrNoConversation
	}

	msg, err := c.sender.Send(ctx, contactID, strings.TrimSpace(text), image)
	if err != nil {
		return nil, &SendRejectedError{Cause: err}
	}

	c.Append(*msg)
	return msg, nil
}
