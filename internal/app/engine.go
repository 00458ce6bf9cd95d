package app

import (
	"context"
	"errors"

	"github.com/pigeonchat/pigeon/internal/api"
	"github.com/pigeonchat/pigeon/internal/bus"
	"github.com/pigeonchat/pigeon/internal/profile"
	"github.com/pigeonchat/pigeon/internal/session"
	"github.com/pigeonchat/pigeon/internal/store"
	intsync "github.com/pigeonchat/pigeon/internal/sync"
	"go.uber.org/zap"
)

// ErrNoCredentials indicates no token is stored for the profile; the
// user must log in before the engine can come up.
var ErrNoCredentials = errors.New("no stored credentials, login required")

// Engine ties the session lifecycle together: login/logout, the push
// channel and the directory seed. Everything after bootstrap is driven
// by the coordinator.
type Engine struct {
	profileName string
	client      *api.Client
	sess        *session.Session
	channel     *session.Channel
	coord       *intsync.Coordinator
	directory   *store.Directory
	unseen      *store.Unseen
	bus         *bus.Bus
	logger      *zap.Logger
	cancel      context.CancelFunc
}

// NewEngine wires the engine to its collaborators.
func NewEngine(
	profileName string,
	client *api.Client,
	sess *session.Session,
	channel *session.Channel,
	coord *intsync.Coordinator,
	directory *store.Directory,
	unseen *store.Unseen,
	b *bus.Bus,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		profileName: profileName,
		client:      client,
		sess:        sess,
		channel:     channel,
		coord:       coord,
		directory:   directory,
		unseen:      unseen,
		bus:         b,
		logger:      logger,
	}
}

// Watch reacts to session-level signals on the bus. An auth-expired
// event (a fetch or send came back unauthenticated mid-session) tears
// the session down the same way an explicit logout would.
func (e *Engine) Watch(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe(bus.KindAuthExpired, 8)

	go func() {
		defer unsub()
		for {
			select {
			case <-ch:
				if e.sess.Active() {
					e.logger.Warn("session expired, logging out")
					e.Logout()
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Unwatch stops the session watcher started by Watch.
func (e *Engine) Unwatch() {
	if e.cancel != nil {
		e.cancel()
	}
}

// Bootstrap restores the session from the stored token: validates it,
// connects the push channel and seeds the directory. Returns
// ErrNoCredentials when no token is stored, ErrAuthFailure (after
// clearing local state) when the backend rejects it.
func (e *Engine) Bootstrap(ctx context.Context) error {
	token := profile.ReadToken(e.profileName)
	if token == "" {
		return ErrNoCredentials
	}
	e.client.SetToken(token)

	user, err := e.client.CheckAuth(ctx)
	if err != nil {
		if errors.Is(err, api.ErrAuthFailure) {
			e.logger.Warn("stored token rejected, logging out")
			e.Logout()
		}
		return err
	}

	e.start(ctx, *user, token)
	return nil
}

// Login authenticates (mode "login") or registers (mode "signup"),
// persists the token and brings the session up.
func (e *Engine) Login(ctx context.Context, mode string, creds api.Credentials) error {
	user, token, err := e.client.Login(ctx, mode, creds)
	if err != nil {
		return err
	}
	if err := profile.WriteToken(e.profileName, token); err != nil {
		e.logger.Warn("could not persist token", zap.Error(err))
	}
	e.start(ctx, *user, token)
	return nil
}

func (e *Engine) start(ctx context.Context, user store.Contact, token string) {
	e.sess.Init(user, token)
	e.logger.Info("session established", zap.String("user_id", user.ID))

	if err := e.channel.Connect(ctx, user.ID); err != nil {
		// Presence and live delivery degrade to last-known; history
		// and sends still work over the request path.
		e.logger.Warn("push channel connect failed", zap.Error(err))
		e.bus.Publish(bus.Event{Kind: bus.KindNotice, Payload: bus.Notice{Level: "warn", Text: "live connection unavailable"}})
	}

	if err := e.RefreshDirectory(ctx); err != nil {
		e.logger.Warn("directory fetch failed", zap.Error(err))
		e.bus.Publish(bus.Event{Kind: bus.KindNotice, Payload: bus.Notice{Level: "error", Text: "unable to load contacts"}})
	}
}

// RefreshDirectory refetches the contact list, replacing it wholesale,
// and seeds the unseen counters from the backend snapshot.
func (e *Engine) RefreshDirectory(ctx context.Context) error {
	contacts, unseenSnapshot, err := e.client.Contacts(ctx)
	if err != nil {
		return err
	}
	e.directory.Replace(contacts)
	e.unseen.SeedCounts(unseenSnapshot)
	e.bus.Publish(bus.Event{Kind: bus.KindUnseenChanged, Payload: e.unseen.Counts()})
	return nil
}

// Logout tears the session down: coordinator state, push channel,
// directory, token. Safe to call when not logged in.
func (e *Engine) Logout() {
	e.coord.Teardown()
	e.directory.Reset()
	e.sess.Teardown()
	e.client.SetToken("")
	if err := profile.ClearToken(e.profileName); err != nil {
		e.logger.Warn("could not clear token", zap.Error(err))
	}
	e.logger.Info("logged out")
}
