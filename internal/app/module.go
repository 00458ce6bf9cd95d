package app

import (
	"context"
	"errors"

	"github.com/pigeonchat/pigeon/internal/api"
	"github.com/pigeonchat/pigeon/internal/bus"
	"github.com/pigeonchat/pigeon/internal/config"
	"github.com/pigeonchat/pigeon/internal/lock"
	"github.com/pigeonchat/pigeon/internal/logging"
	"github.com/pigeonchat/pigeon/internal/profile"
	"github.com/pigeonchat/pigeon/internal/session"
	"github.com/pigeonchat/pigeon/internal/status"
	"github.com/pigeonchat/pigeon/internal/store"
	intsync "github.com/pigeonchat/pigeon/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx
// module.
type Params struct {
	ProfileName string
	ServerURL   string // optional override for testing; empty = use config
}

// Module returns the fx module for the client engine, composing all
// providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("engine",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideMachine,
			provideLock,
			provideAPIClient,
			provideSession,
			provideChannel,
			provideDirectory,
			providePresence,
			provideUnseen,
			provideConversation,
			provideCoordinator,
			provideEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		// Missing config falls back to local defaults.
		cfg = &config.Config{
			ServerURL:       "http://localhost:5000",
			SocketURL:       "ws://localhost:5000/ws",
			HistoryPageSize: config.DefaultHistoryPageSize,
		}
	}
	if p.ServerURL != "" {
		cfg.ServerURL = p.ServerURL
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(p.ProfileName)
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideAPIClient(cfg *config.Config) *api.Client {
	c := api.NewClient(cfg.ServerURL)
	c.SetHistoryPageSize(cfg.HistoryPageSize)
	return c
}

func provideSession() *session.Session {
	return session.New()
}

func provideChannel(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *session.Channel {
	return session.NewChannel(cfg.SocketURL, b, logger)
}

func provideDirectory() *store.Directory {
	return store.NewDirectory()
}

func providePresence() *store.Presence {
	return store.NewPresence()
}

func provideUnseen() *store.Unseen {
	return store.NewUnseen()
}

func provideConversation(client *api.Client) *store.Conversation {
	return store.NewConversation(client)
}

func provideCoordinator(
	client *api.Client,
	convo *store.Conversation,
	presence *store.Presence,
	unseen *store.Unseen,
	machine *status.Machine,
	sess *session.Session,
	channel *session.Channel,
	b *bus.Bus,
	logger *zap.Logger,
) *intsync.Coordinator {
	return intsync.NewCoordinator(client, convo, presence, unseen, machine, sess, channel, b, logger)
}

func provideEngine(
	p Params,
	client *api.Client,
	sess *session.Session,
	channel *session.Channel,
	coord *intsync.Coordinator,
	directory *store.Directory,
	unseen *store.Unseen,
	b *bus.Bus,
	logger *zap.Logger,
) *Engine {
	return NewEngine(p.ProfileName, client, sess, channel, coord, directory, unseen, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, engine *Engine, coord *intsync.Coordinator, lk *lock.Lock, sess *session.Session, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start the coordinator first so push events arriving during
			// bootstrap are not lost.
			coord.Start(context.Background())
			engine.Watch(context.Background())

			go func() {
				err := engine.Bootstrap(context.Background())
				switch {
				case err == nil:
				case errors.Is(err, ErrNoCredentials):
					logger.Warn("no stored credentials; run login first")
				default:
					logger.Error("bootstrap failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			coord.Stop()
			engine.Unwatch()
			if sess.Active() {
				engine.Logout()
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("engine stopped")
			return nil
		},
	})
}
