package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pigeonchat/pigeon/internal/bus"
	"github.com/pigeonchat/pigeon/internal/store"
	"go.uber.org/zap"
)

// pushServer is a fake backend push endpoint. It records connections and
// lets tests write frames to the most recent one.
type pushServer struct {
	srv      *httptest.Server
	upgrades atomic.Int64
	conns    chan *websocket.Conn
	userIDs  chan string
}

func newPushServer(t *testing.T) *pushServer {
	t.Helper()
	ps := &pushServer{
		conns:   make(chan *websocket.Conn, 4),
		userIDs: make(chan string, 4),
	}
	upgrader := websocket.Upgrader{}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		ps.upgrades.Add(1)
		ps.userIDs <- r.URL.Query().Get("userId")
		ps.conns <- conn
	}))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *pushServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ps.srv.URL, "http")
}

func (ps *pushServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-ps.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for connection")
		return nil
	}
}

func waitEvent(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s event", kind)
		}
	}
}

func TestChannelDeliversFrames(t *testing.T) {
	ps := newPushServer(t)
	b := bus.New()
	ch, unsub := b.Subscribe("channel.", 16)
	defer unsub()

	c := NewChannel(ps.wsURL(), b, zap.NewNop())
	if err := c.Connect(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()

	if got := <-ps.userIDs; got != "u1" {
		t.Errorf("connect userId = %q, want u1", got)
	}
	server := ps.accept(t)

	if err := server.WriteJSON(frame{Event: framePresence, UserIDs: []string{"c2", "c3"}}); err != nil {
		t.Fatal(err)
	}
	evt := waitEvent(t, ch, bus.KindPresenceSnapshot)
	if ids := evt.Payload.([]string); len(ids) != 2 {
		t.Errorf("presence payload = %v, want 2 ids", ids)
	}

	if err := server.WriteJSON(frame{Event: frameMessage, Message: &store.Message{ID: "m1", SenderID: "c2", ReceiverID: "u1", Text: "hi"}}); err != nil {
		t.Fatal(err)
	}
	evt = waitEvent(t, ch, bus.KindMessageArrived)
	if msg := evt.Payload.(*store.Message); msg.ID != "m1" {
		t.Errorf("message payload = %+v, want m1", msg)
	}
}

func TestConnectIsIdempotentPerUser(t *testing.T) {
	ps := newPushServer(t)
	b := bus.New()
	c := NewChannel(ps.wsURL(), b, zap.NewNop())

	if err := c.Connect(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()
	ps.accept(t)

	// Same user again: no second connection.
	if err := c.Connect(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	if n := ps.upgrades.Load(); n != 1 {
		t.Errorf("upgrades = %d, want 1 (idempotent connect)", n)
	}
}

func TestConcurrentConnectDialsOnce(t *testing.T) {
	ps := newPushServer(t)
	b := bus.New()
	c := NewChannel(ps.wsURL(), b, zap.NewNop())
	defer c.Disconnect()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Connect(context.Background(), "u1"); err != nil {
				t.Errorf("Connect: %v", err)
			}
		}()
	}
	wg.Wait()

	ps.accept(t)
	if got := ps.upgrades.Load(); got != 1 {
		t.Errorf("server upgrades = %d, want 1; racing connects must share one socket", got)
	}
	if !c.Connected() {
		t.Error("channel not connected after racing connects")
	}
}

func TestConnectNewUserReplacesConnection(t *testing.T) {
	ps := newPushServer(t)
	b := bus.New()
	c := NewChannel(ps.wsURL(), b, zap.NewNop())

	if err := c.Connect(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	ps.accept(t)

	if err := c.Connect(context.Background(), "u2"); err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()
	ps.accept(t)

	if n := ps.upgrades.Load(); n != 2 {
		t.Errorf("upgrades = %d, want 2", n)
	}
	if got := c.UserID(); got != "u2" {
		t.Errorf("channel user = %q, want u2", got)
	}
}

func TestDisconnectSafeWhenNotConnected(t *testing.T) {
	c := NewChannel("ws://unused", bus.New(), zap.NewNop())
	c.Disconnect() // must not panic
	if c.Connected() {
		t.Error("Connected = true for never-connected channel")
	}
}

func TestTransportFailurePublishesChannelError(t *testing.T) {
	ps := newPushServer(t)
	b := bus.New()
	ch, unsub := b.Subscribe("channel.", 16)
	defer unsub()

	c := NewChannel(ps.wsURL(), b, zap.NewNop())
	if err := c.Connect(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	server := ps.accept(t)

	// Server drops the connection without a close handshake.
	_ = server.NetConn().Close()

	waitEvent(t, ch, bus.KindChannelError)
	// Give the read loop a moment to clear state.
	deadline := time.Now().Add(time.Second)
	for c.Connected() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if c.Connected() {
		t.Error("channel still marked connected after transport failure")
	}
}

func TestDeliberateDisconnectEmitsNoError(t *testing.T) {
	ps := newPushServer(t)
	b := bus.New()
	ch, unsub := b.Subscribe("channel.", 16)
	defer unsub()

	c := NewChannel(ps.wsURL(), b, zap.NewNop())
	if err := c.Connect(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	ps.accept(t)

	c.Disconnect()

	select {
	case evt := <-ch:
		if evt.Kind == bus.KindChannelError {
			t.Error("deliberate Disconnect published channel.error")
		}
	case <-time.After(200 * time.Millisecond):
		// Expected: silence.
	}
}
