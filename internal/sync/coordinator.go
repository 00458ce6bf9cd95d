// Package sync reconciles the three concurrent message sources (history
// loads, push events and local sends) into the per-conversation view and
// the unseen-badge counters.
package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pigeonchat/pigeon/internal/api"
	"github.com/pigeonchat/pigeon/internal/bus"
	"github.com/pigeonchat/pigeon/internal/session"
	"github.com/pigeonchat/pigeon/internal/status"
	"github.com/pigeonchat/pigeon/internal/store"
	"go.uber.org/zap"
)

const ackTimeout = 10 * time.Second

// Backend is the slice of the API client the coordinator needs.
type Backend interface {
	History(ctx context.Context, contactID string, page int) ([]store.Message, error)
	MarkSeen(ctx context.Context, messageID string) error
}

// PushChannel is the slice of the session channel the coordinator needs
// for teardown.
type PushChannel interface {
	Disconnect()
}

// Coordinator orchestrates conversation switching and inbound event
// dispatch. All derived state (conversation view, presence set, unseen
// counts) is mutated only from here, so the stores never see concurrent
// writers racing on the same conversation.
type Coordinator struct {
	backend  Backend
	convo    *store.Conversation
	presence *store.Presence
	unseen   *store.Unseen
	machine  *status.Machine
	sess     *session.Session
	channel  PushChannel
	bus      *bus.Bus
	logger   *zap.Logger
	cancel   context.CancelFunc

	mu       sync.Mutex
	selected string
	page     int
	acked    map[string]struct{}
}

// NewCoordinator wires the coordinator to its collaborators.
func NewCoordinator(
	backend Backend,
	convo *store.Conversation,
	presence *store.Presence,
	unseen *store.Unseen,
	machine *status.Machine,
	sess *session.Session,
	channel PushChannel,
	b *bus.Bus,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		backend:  backend,
		convo:    convo,
		presence: presence,
		unseen:   unseen,
		machine:  machine,
		sess:     sess,
		channel:  channel,
		bus:      b,
		logger:   logger,
		acked:    make(map[string]struct{}),
	}
}

// Start subscribes to push-channel events on the bus.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	ch, unsub := c.bus.Subscribe("channel.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				c.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the event loop.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// SelectContact switches the open conversation to contactID. Any
// in-flight history load for a previous selection is logically cancelled:
// its result is discarded when it resolves under a stale epoch.
func (c *Coordinator) SelectContact(ctx context.Context, contactID string) {
	// The badge clear is atomic with the selection change, so an
	// inbound message deciding against the old selection can never
	// leave a badge on the newly selected contact.
	c.mu.Lock()
	c.selected = contactID
	c.page = 0
	cleared := c.unseen.ConversationOpened(contactID)
	c.mu.Unlock()

	epoch := c.convo.Reset(contactID)
	if err := c.machine.Transition(status.Loading); err != nil {
		c.logger.Warn("slot transition failed", zap.Error(err))
	}

	// Badge gone before the fetch resolves; opening the conversation
	// is one state transition, not a decrement loop.
	if cleared {
		c.publishUnseen()
	}

	go c.loadHistory(ctx, contactID, epoch, 1)
}

// Deselect returns the slot to Idle with no contact selected.
func (c *Coordinator) Deselect() {
	c.mu.Lock()
	c.selected = ""
	c.page = 0
	c.mu.Unlock()

	c.convo.Reset("")
	if c.machine.Current() != status.Idle {
		if err := c.machine.Transition(status.Idle); err != nil {
			c.logger.Warn("slot transition failed", zap.Error(err))
		}
	}
}

// LoadOlder fetches the next (older) history page for the current
// selection and prepends it to the view.
func (c *Coordinator) LoadOlder(ctx context.Context) {
	c.mu.Lock()
	contactID := c.selected
	nextPage := c.page + 1
	c.mu.Unlock()
	if contactID == "" || c.machine.Current() != status.Synced {
		return
	}

	epoch := c.convo.Epoch()
	msgs, err := c.backend.History(ctx, contactID, nextPage)
	if err != nil {
		c.logger.Warn("older page load failed", zap.String("contact_id", contactID), zap.Error(err))
		c.fetchFailed(err)
		return
	}
	if !c.convo.PrependOlder(epoch, msgs) {
		return
	}

	c.mu.Lock()
	if c.selected == contactID && nextPage > c.page {
		c.page = nextPage
	}
	c.mu.Unlock()
	c.publishConversation(contactID)
}

// SendMessage sends to the currently open conversation and appends the
// authoritative result. Validation failures return store.ErrEmptyMessage
// without a notice (the send control is expected to be disabled);
// backend rejections produce a transient notice, except an expired
// session, which is signalled for teardown instead.
func (c *Coordinator) SendMessage(ctx context.Context, text, image string) (*store.Message, error) {
	msg, err := c.convo.SendLocal(ctx, text, image)
	if err != nil {
		var rejected *store.SendRejectedError
		if errors.As(err, &rejected) {
			c.logger.Warn("send rejected", zap.Error(err))
			if errors.Is(err, api.ErrAuthFailure) {
				c.bus.Publish(bus.Event{Kind: bus.KindAuthExpired})
			} else {
				c.notify("error", "message not sent")
			}
		}
		return nil, err
	}
	c.publishConversation(c.convo.ContactID())
	return msg, nil
}

// Teardown discards all derived state and disconnects the push channel.
// Called on logout.
func (c *Coordinator) Teardown() {
	c.channel.Disconnect()

	c.mu.Lock()
	c.selected = ""
	c.page = 0
	c.acked = make(map[string]struct{})
	c.mu.Unlock()

	c.convo.Reset("")
	c.presence.Reset()
	c.unseen.Reset()
	if c.machine.Current() != status.Idle {
		if err := c.machine.Transition(status.Idle); err != nil {
			c.logger.Warn("slot transition failed", zap.Error(err))
		}
	}

	c.bus.Publish(bus.Event{Kind: bus.KindLoggedOut})
	c.logger.Info("session torn down")
}

func (c *Coordinator) loadHistory(ctx context.Context, contactID string, epoch uint64, page int) {
	msgs, err := c.backend.History(ctx, contactID, page)
	if err != nil {
		if epoch != c.convo.Epoch() {
			// The selection already moved on; nobody is waiting.
			return
		}
		c.logger.Warn("history load failed", zap.String("contact_id", contactID), zap.Error(err))
		c.fetchFailed(err)
		return
	}

	if !c.convo.Seed(epoch, msgs) {
		c.logger.Debug("stale history discarded", zap.String("contact_id", contactID), zap.Uint64("epoch", epoch))
		return
	}

	c.mu.Lock()
	if c.selected == contactID {
		c.page = page
	}
	c.mu.Unlock()

	if err := c.machine.Transition(status.Synced); err != nil {
		c.logger.Warn("slot transition failed", zap.Error(err))
	}
	c.publishConversation(contactID)
}

func (c *Coordinator) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindPresenceSnapshot:
		ids, ok := evt.Payload.([]string)
		if !ok {
			return
		}
		c.presence.SetOnline(ids)
	case bus.KindMessageArrived:
		msg, ok := evt.Payload.(*store.Message)
		if !ok {
			return
		}
		c.handleMessage(msg)
	case bus.KindChannelError:
		c.notify("warn", "live connection lost")
	}
}

// handleMessage performs the dual dispatch for one inbound push event:
// the unseen tracker always sees it, and the conversation view
// additionally sees it when the message's pair matches the selection.
// Neither dispatch is conditional on the other.
func (c *Coordinator) handleMessage(msg *store.Message) {
	userID := c.sess.UserID()

	// The unseen decision runs under the selection lock: it must see
	// the same selection a concurrent SelectContact badge-clear saw.
	c.mu.Lock()
	selected := c.selected
	counted, openConvo := c.unseen.MessageArrived(msg, selected, userID)
	c.mu.Unlock()
	if counted {
		c.publishUnseen()
	}
	if openConvo {
		c.ackSeen(msg.ID)
	}

	if selected == "" || !msg.InConversation(userID, selected) {
		return
	}
	if c.convo.Append(*msg) {
		c.publishConversation(selected)
	}
	if msg.ReceiverID == userID {
		c.ackSeen(msg.ID)
	}
}

// ackSeen issues a fire-and-forget mark-seen, at most once per message
// id. Failures are swallowed; the backend re-sends its unseen snapshot
// on the next login anyway.
func (c *Coordinator) ackSeen(messageID string) {
	c.mu.Lock()
	if _, done := c.acked[messageID]; done {
		c.mu.Unlock()
		return
	}
	c.acked[messageID] = struct{}{}
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
		defer cancel()
		if err := c.backend.MarkSeen(ctx, messageID); err != nil {
			c.logger.Debug("mark-seen failed", zap.String("message_id", messageID), zap.Error(err))
		}
	}()
}

// fetchFailed converts a history-load failure into either an
// auth-expired signal (the session is gone, someone must log out) or a
// transient notice the user can act on by re-selecting.
func (c *Coordinator) fetchFailed(err error) {
	if errors.Is(err, api.ErrAuthFailure) {
		c.bus.Publish(bus.Event{Kind: bus.KindAuthExpired})
		return
	}
	c.notify("error", "unable to load messages")
}

func (c *Coordinator) notify(level, text string) {
	c.bus.Publish(bus.Event{Kind: bus.KindNotice, Payload: bus.Notice{Level: level, Text: text}})
}

func (c *Coordinator) publishConversation(contactID string) {
	c.bus.Publish(bus.Event{Kind: bus.KindConversationUpdated, Payload: contactID})
}

func (c *Coordinator) publishUnseen() {
	c.bus.Publish(bus.Event{Kind: bus.KindUnseenChanged, Payload: c.unseen.Counts()})
}
