package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"snitchbot/internal/config"
	"snitchbot/internal/snitch"
	"snitchbot/internal/store"
	"snitchbot/internal/transport"
	"snitchbot/internal/transport/telegram"
	logx "snitchbot/pkg/logx"
)

// App assembles and runs the whole bot: config, logging, transport,
// storage, detection and dispatch, the command surface and the digest.
type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	adapter *telegram.Adapter
	st      store.Store
	lim     *snitch.Limiter
	det     *snitch.Detector
	disp    *snitch.Dispatcher
	cm      *CommandManager
	lst     *Listener
	digest  *Digest

	sup     *Supervisor
	updates chan transport.Update
	cfgSub  chan *config.Config
	token   string
}

func NewApp(configPath string) (*App, error) {
	cfgm := config.NewManager(configPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logs, log := logx.New(logxConfig(cfg), nil)
	cfgm.SetLogger(log.With(logx.String("component", "config")))

	adapter, err := newAdapter(cfg, log)
	if err != nil {
		logs.Close()
		return nil, err
	}
	logs.SetSender(adapter)
	if id := groupLogID(cfg, log); id != 0 {
		logs.SetChatTarget(id)
	}

	busy, _ := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	st, err := store.Open(store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("component", "store")))
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	lim := snitch.NewLimiter(cfg.RateLimit.MaxPerSecond, cfg.RateLimit.MaxConcurrent,
		log.With(logx.String("component", "ratelimit")))
	det := snitch.NewDetector(log.With(logx.String("component", "detector")))
	disp := snitch.NewDispatcher(adapter, lim, log.With(logx.String("component", "dispatch")))
	cm := NewCommandManager(log.With(logx.String("component", "commands")), adapter, st, disp,
		cfg.Telegram.OwnerUserIDs)
	lst := NewListener(log.With(logx.String("component", "listener")), cm, st, det, disp)
	digest := NewDigest(log.With(logx.String("component", "digest")), adapter, disp)

	return &App{
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		adapter: adapter,
		st:      st,
		lim:     lim,
		det:     det,
		disp:    disp,
		cm:      cm,
		lst:     lst,
		digest:  digest,
		updates: make(chan transport.Update, 256),
		token:   cfg.Telegram.Token,
	}, nil
}

func newAdapter(cfg *config.Config, log logx.Logger) (*telegram.Adapter, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	return telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: poll,
	}, log.With(logx.String("component", "telegram")))
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx,
		WithLogger(a.log.With(logx.String("component", "supervisor"))),
		WithCancelOnError(true),
	)

	// Reloads must still parse and validate before they are published.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}

	cfg := a.cfgm.Get()
	if err := a.digest.Apply(cfg.Digest.Enabled, cfg.Digest.Schedule, groupLogID(cfg, a.log)); err != nil {
		a.log.Warn("digest setup failed", logx.Err(err))
	}
	a.digest.Start()

	a.sup.Go("listener", func(ctx context.Context) error {
		return a.lst.Run(ctx, a.updates)
	})

	a.cfgSub = a.cfgm.Subscribe(1)
	a.sup.Go0("config-reload", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-a.cfgSub:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	})
	a.sup.Go("config-watch", a.cfgm.Watch)

	a.log.Info("snitchbot started")
	return nil
}

// applyConfig pushes a hot-reloaded config into the running components.
// Token and storage changes need a restart and are only noted.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logxConfig(cfg))
	a.logs.SetChatTarget(groupLogID(cfg, a.log))
	a.cm.SetOwners(cfg.Telegram.OwnerUserIDs)

	if n := cfg.RateLimit.MaxPerSecond; n != 0 && !a.lim.SetMaxPerSecond(n) {
		a.log.Warn("ratelimit.max_per_second out of range; keeping previous", logx.Int("value", n))
	}
	if err := a.digest.Apply(cfg.Digest.Enabled, cfg.Digest.Schedule, groupLogID(cfg, a.log)); err != nil {
		a.log.Warn("digest reconfigure failed", logx.Err(err))
	}

	if a.token != cfg.Telegram.Token {
		a.log.Warn("telegram.token changed; restart required to take effect")
		a.token = cfg.Telegram.Token
	}
	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("snitchbot stopping")

	if a.sup != nil {
		a.sup.Cancel()
	}
	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("transport stop", logx.Err(err))
	}
	a.digest.Stop(ctx)
	if a.cfgSub != nil {
		a.cfgm.Unsubscribe(a.cfgSub)
		a.cfgSub = nil
	}

	var werr error
	if a.sup != nil {
		werr = a.sup.Wait(ctx)
	}
	if err := a.st.Close(); err != nil {
		a.log.Warn("store close", logx.Err(err))
	}
	a.logs.Close()
	return werr
}

func logxConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

func groupLogID(cfg *config.Config, log logx.Logger) int64 {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Warn("telegram.group_log is not a chat id", logx.String("value", raw))
		return 0
	}
	return id
}
