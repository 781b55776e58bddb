package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/z3i0/MusicBot/internal/commands"
	"github.com/z3i0/MusicBot/internal/config"
	"github.com/z3i0/MusicBot/internal/domain/repositories"
	"github.com/z3i0/MusicBot/internal/domain/valueobjects"
	apperrors "github.com/z3i0/MusicBot/internal/errors"
	"github.com/z3i0/MusicBot/internal/services/audio"
	"github.com/z3i0/MusicBot/internal/services/cache"
	"github.com/z3i0/MusicBot/internal/services/notify"
	"github.com/z3i0/MusicBot/internal/services/playback"
	"github.com/z3i0/MusicBot/internal/services/resolver"
	"github.com/z3i0/MusicBot/internal/services/restore"
	"github.com/z3i0/MusicBot/internal/services/soundcloud"
	"github.com/z3i0/MusicBot/internal/services/spotify"
	"github.com/z3i0/MusicBot/internal/services/statestore"
	"github.com/z3i0/MusicBot/internal/services/supervisor"
	"github.com/z3i0/MusicBot/internal/services/youtube"
	"github.com/z3i0/MusicBot/pkg/logger"
)

const (
	notifyQueueSize   = 256
	prefetchQueueSize = 64

	cacheCleanupInterval = 5 * time.Minute
)

// MusicBot is one Discord identity and every session it serves
type MusicBot struct {
	config     *config.Config
	botConfig  config.BotConfig
	logger     *logger.Logger
	session    *discordgo.Session
	store      *statestore.Store
	transport  *audio.Transport
	resolver   *resolver.Resolver
	prefetcher *cache.Prefetcher
	dispatcher *notify.Dispatcher
	manager    *playback.Manager
	supervisor *supervisor.Supervisor
	janitor    *cache.Janitor
	cmdHandler *commands.Handler

	ctx       context.Context
	cancel    context.CancelFunc
	readyOnce sync.Once
	startup   sync.WaitGroup
}

var _ commands.Backend = (*MusicBot)(nil)

// New wires one bot over its session repository
func New(cfg *config.Config, botCfg config.BotConfig, repo repositories.SessionRepository, log *logger.Logger) (*MusicBot, error) {
	session, err := discordgo.New("Bot " + botCfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates
	session.StateEnabled = true

	runner, err := youtube.LookupRunner()
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube service: %w", err)
	}

	layout := cache.NewLayout(botCfg.CacheDir(cfg.CacheDir))

	res := resolver.New(layout, resolver.Options{
		Fallback: valueobjects.PlatformYouTube,
		CacheTTL: time.Duration(cfg.CacheDurationMinutes) * time.Minute,
	}, log)
	res.Register(valueobjects.PlatformYouTube, youtube.NewService(runner, log))
	res.Register(valueobjects.PlatformSoundCloud, soundcloud.NewService(runner, log))

	if cfg.SpotifyClientID != "" && cfg.SpotifyClientSecret != "" {
		sp, err := spotify.NewService(spotify.Config{
			ClientID:     cfg.SpotifyClientID,
			ClientSecret: cfg.SpotifyClientSecret,
		}, log)
		if err != nil {
			log.WithError(err).Warn("Failed to initialize Spotify service - Spotify links will not work")
		} else {
			res.Register(valueobjects.PlatformSpotify, sp)
		}
	} else {
		log.Info("Spotify credentials not provided - Spotify links will not work")
	}

	store := statestore.New(repo, statestore.Config{
		Debounce: cfg.PersistDebounce,
		Layout:   layout,
	}, log)

	encoder := audio.NewEncoder(audio.DefaultEncodeOptions(), log)
	transport := audio.NewTransport(session, encoder, audio.TransportConfig{}, log)
	dispatcher := notify.NewDispatcher(notify.NewDiscordNotifier(session), notifyQueueSize, log)

	deps := playback.Deps{
		Transport: transport,
		Streams:   res,
		Store:     store,
		Events:    dispatcher,
		Logger:    log,
	}

	protected := cache.Union{store}
	var prefetcher *cache.Prefetcher
	if cfg.PrefetchEnabled {
		prefetcher = cache.NewPrefetcher(layout, encoder, cfg.PrefetchWorkers, prefetchQueueSize, log).WithLocator(res)
		deps.Prefetch = prefetcher
		protected = append(protected, prefetcher)
	}

	manager := playback.NewManager(playback.Config{
		MaxQueueSize:      cfg.MaxQueueSize,
		ResolveAttempts:   cfg.ResolveAttempts,
		ResolveRetryDelay: cfg.ResolveRetryDelay,
		FlushTimeout:      cfg.ShutdownFlushTimeout,
	}, deps)

	ctx, cancel := context.WithCancel(context.Background())
	b := &MusicBot{
		config:     cfg,
		botConfig:  botCfg,
		logger:     log,
		session:    session,
		store:      store,
		transport:  transport,
		resolver:   res,
		prefetcher: prefetcher,
		dispatcher: dispatcher,
		manager:    manager,
		janitor:    cache.NewJanitor(layout, protected, log),
		ctx:        ctx,
		cancel:     cancel,
	}

	autoJoin := map[string]string{}
	if botCfg.AutoJoinGuild != "" && botCfg.AutoJoinChannel != "" {
		autoJoin[botCfg.AutoJoinGuild] = botCfg.AutoJoinChannel
	}
	b.supervisor = supervisor.New(supervisor.ManagerSessions(manager), b.joinBare, supervisor.Config{
		Delay:    cfg.RejoinDelay,
		AutoJoin: autoJoin,
	}, log)

	b.cmdHandler = commands.NewHandler(session, b, botCfg.Name, log)

	session.AddHandler(b.onReady)
	session.AddHandler(b.cmdHandler.HandleInteraction)
	session.AddHandler(b.onVoiceStateUpdate)

	return b, nil
}

// Name returns the bot's configured name
func (b *MusicBot) Name() string {
	return b.botConfig.Name
}

// Start opens the gateway; restore runs once the first Ready arrives
func (b *MusicBot) Start(ctx context.Context) error {
	b.logger.Info("Starting services...")

	b.dispatcher.Start()
	go b.resolver.RunCleanup(cacheCleanupInterval, b.ctx.Done())
	if b.prefetcher != nil {
		b.prefetcher.Start()
	}

	b.logger.WithField("token", b.botConfig.GetSafeToken()).Info("Opening Discord connection...")
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	b.logger.Info("Registering slash commands...")
	if err := b.cmdHandler.RegisterCommands(); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	return nil
}

// Stop persists every session and closes the bot's resources
func (b *MusicBot) Stop(ctx context.Context) {
	b.logger.Info("Shutting down services...")

	b.cancel()
	b.startup.Wait()
	b.supervisor.Close()

	if err := b.manager.Shutdown(ctx); err != nil {
		b.logger.WithError(err).Warn("Some sessions did not close cleanly")
	}
	if err := b.store.Close(ctx); err != nil {
		b.logger.WithError(err).Error("Failed to flush session state")
	}

	if b.prefetcher != nil {
		b.prefetcher.Stop()
	}
	b.dispatcher.Stop()
	b.transport.Close()

	b.logger.Info("Closing Discord connection...")
	if err := b.session.Close(); err != nil {
		b.logger.WithError(err).Error("Failed to close Discord session")
	}
}

// EmergencyFlush writes every session's last state in immediate mode
func (b *MusicBot) EmergencyFlush() {
	b.manager.EmergencyFlush(b.config.ShutdownFlushTimeout)
}

// Resolve turns a play query into tracks
func (b *MusicBot) Resolve(ctx context.Context, query, guildID string) (resolver.Resolution, error) {
	return b.resolver.Resolve(ctx, query, guildID)
}

// Session returns the guild's live engine
func (b *MusicBot) Session(guildID string) (*playback.Engine, bool) {
	return b.manager.Get(guildID)
}

// OpenSession returns the guild's engine, creating it bound to the given
// channels when none exists
func (b *MusicBot) OpenSession(guildID, voiceChannelID, textChannelID string) *playback.Engine {
	engine, created := b.manager.GetOrCreate(guildID, voiceChannelID, textChannelID)
	if created {
		b.logger.ForGuild(guildID).WithField("channel", voiceChannelID).Info("🎶 Session created")
	}
	return engine
}

// Join connects to a channel without starting a session
func (b *MusicBot) Join(ctx context.Context, guildID, channelID string) error {
	return b.joinBare(ctx, guildID, channelID)
}

func (b *MusicBot) joinBare(ctx context.Context, guildID, channelID string) error {
	_, err := b.transport.Join(ctx, guildID, channelID)
	return err
}

// Leave disconnects on request and forgets the guild's saved state
func (b *MusicBot) Leave(ctx context.Context, guildID string) error {
	b.supervisor.Forget(guildID)

	if engine, ok := b.manager.Get(guildID); ok {
		return engine.Leave(ctx)
	}

	conn := b.transport.Connection(guildID)
	if conn == nil {
		return apperrors.ErrNoVoiceConnection
	}
	return conn.Destroy()
}

// SessionCount returns the number of live sessions
func (b *MusicBot) SessionCount() int {
	return b.manager.Len()
}

// onReady is called when the bot is ready
func (b *MusicBot) onReady(s *discordgo.Session, event *discordgo.Ready) {
	b.logger.Infof("✅ Bot is ready! Logged in as %s", event.User.Username)
	b.logger.Infof("📊 Connected to %d guilds", len(event.Guilds))

	if err := s.UpdateGameStatus(0, "🎵 /play • /help"); err != nil {
		b.logger.WithError(err).Warn("Failed to update status")
	}

	b.readyOnce.Do(func() {
		b.startup.Add(1)
		go b.restoreAndSweep()
	})
}

// restoreAndSweep rebuilds persisted sessions, then performs auto-join and
// the cache sweep. The sweep is skipped when records could not be loaded so
// that files of unreadable sessions survive.
func (b *MusicBot) restoreAndSweep() {
	defer b.startup.Done()
	defer b.manager.Recover("startup")

	gateway := restore.NewDiscordGateway(b.session)
	restorer := restore.New(b.store, gateway, b.manager, restore.Config{
		Attempts:    b.config.RestoreAttempts,
		Backoff:     b.config.RestoreBackoff,
		Concurrency: b.config.RestoreConcurrency,
	}, b.logger)

	if _, err := restorer.Run(b.ctx); err != nil {
		b.logger.WithError(err).Error("Session restore failed, cache sweep skipped")
		b.autoJoin(b.ctx, gateway)
		return
	}

	b.autoJoin(b.ctx, gateway)

	if _, err := b.janitor.Sweep(b.ctx); err != nil {
		b.logger.WithError(err).Warn("Cache sweep failed")
	}
}

// autoJoin holds the configured voice channel when no session owns the guild
func (b *MusicBot) autoJoin(ctx context.Context, gateway restore.Gateway) {
	guildID, channelID := b.botConfig.AutoJoinGuild, b.botConfig.AutoJoinChannel
	if guildID == "" || channelID == "" {
		return
	}
	if _, ok := b.manager.Get(guildID); ok {
		return
	}

	log := b.logger.ForGuild(guildID).WithField("channel", channelID)

	info, err := gateway.Channel(ctx, channelID)
	if err != nil {
		log.WithError(err).Warn("Auto-join channel lookup failed")
		return
	}
	if info.Kind != restore.KindVoice || info.GuildID != guildID {
		log.WithField("kind", info.Kind).Warn("Auto-join channel is not a voice channel in that guild")
		return
	}

	joinCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := b.joinBare(joinCtx, guildID, channelID); err != nil {
		log.WithError(err).Warn("Auto-join failed")
		return
	}
	log.Info("🔊 Auto-joined voice channel")
}

// onVoiceStateUpdate feeds the bot's own voice membership to the supervisor
func (b *MusicBot) onVoiceStateUpdate(s *discordgo.Session, event *discordgo.VoiceStateUpdate) {
	if s.State == nil || s.State.User == nil || event.UserID != s.State.User.ID {
		return
	}
	b.transport.VoiceStateChanged(event.GuildID, event.ChannelID)
	b.supervisor.HandleVoiceState(event.GuildID, event.ChannelID)
}
