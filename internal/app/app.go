package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/samber/do/v2"

	"github.com/lukasbauer/livecaptions/internal/broadcast"
	"github.com/lukasbauer/livecaptions/internal/eventlog"
	"github.com/lukasbauer/livecaptions/internal/httpapi"
	"github.com/lukasbauer/livecaptions/internal/language"
	"github.com/lukasbauer/livecaptions/internal/llm"
	"github.com/lukasbauer/livecaptions/internal/publish"
	"github.com/lukasbauer/livecaptions/internal/room"
	"github.com/lukasbauer/livecaptions/internal/settings"
	"github.com/lukasbauer/livecaptions/internal/stt"
)

// displayScope is the event log room for process-wide display events.
const displayScope = "display"

type App struct {
	cfg      Config
	log      zerolog.Logger
	db       *pgxpool.Pool
	rooms    *room.Manager
	handler  http.Handler
}

func New(cfg Config, log zerolog.Logger) (*App, error) {
	injector := do.New()
	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, log)
	registerDI(injector)

	a := &App{cfg: cfg, log: log}

	if cfg.DatabaseURL != "" {
		db, err := do.Invoke[*pgxpool.Pool](injector)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.db = db
	}

	rooms, err := do.Invoke[*room.Manager](injector)
	if err != nil {
		a.closeDB()
		return nil, fmt.Errorf("build rooms: %w", err)
	}
	handler, err := do.Invoke[http.Handler](injector)
	if err != nil {
		a.closeDB()
		return nil, fmt.Errorf("build router: %w", err)
	}
	a.rooms = rooms
	a.handler = handler
	return a, nil
}

func registerDI(i do.Injector) {
	do.Provide(i, provideDatabase)
	do.Provide(i, provideEventLog)
	do.Provide(i, provideSettingsPersister)
	do.Provide(i, provideSettingsStore)
	do.Provide(i, provideCatalog)
	do.Provide(i, provideLLM)
	do.Provide(i, provideRecognizer)
	do.Provide(i, provideSink)
	do.Provide(i, provideRegistry)
	do.Provide(i, provideRooms)
	do.Provide(i, provideRouter)
}

func provideDatabase(i do.Injector) (*pgxpool.Pool, error) {
	cfg := do.MustInvoke[Config](i)
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func provideEventLog(i do.Injector) (*eventlog.Logger, error) {
	cfg := do.MustInvoke[Config](i)
	if cfg.DatabaseURL == "" {
		return eventlog.New(nil), nil
	}

	db := do.MustInvoke[*pgxpool.Pool](i)
	el := eventlog.New(db)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := el.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate event log: %w", err)
	}
	return el, nil
}

func provideSettingsPersister(i do.Injector) (settings.Persister, error) {
	cfg := do.MustInvoke[Config](i)
	if cfg.DatabaseURL == "" {
		return settings.NewFilePersister(cfg.SettingsFile), nil
	}

	p := settings.NewPostgresPersister(do.MustInvoke[*pgxpool.Pool](i))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate settings: %w", err)
	}
	return p, nil
}

func provideSettingsStore(i do.Injector) (*settings.Store, error) {
	log := do.MustInvoke[zerolog.Logger](i)
	s := settings.NewStore(do.MustInvoke[settings.Persister](i), log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Load(ctx)
	return s, nil
}

func provideCatalog(i do.Injector) (*language.Catalog, error) {
	cfg := do.MustInvoke[Config](i)
	if cfg.LanguagesJSON == "" {
		return language.DefaultCatalog(), nil
	}
	c, err := language.ParseCatalogJSON([]byte(cfg.LanguagesJSON))
	if err != nil {
		return nil, fmt.Errorf("LANGUAGES_JSON: %w", err)
	}
	return c, nil
}

func provideLLM(i do.Injector) (llm.Client, error) {
	cfg := do.MustInvoke[Config](i)

	// Shared client with connection pooling; every translator talks to the
	// same host.
	httpClient := &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   32,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	return llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:     cfg.OpenAIAPIKey,
		Model:      cfg.OpenAIModel,
		BaseURL:    cfg.OpenAIBaseURL,
		HTTPClient: httpClient,
	}), nil
}

func provideRecognizer(i do.Injector) (stt.Recognizer, error) {
	cfg := do.MustInvoke[Config](i)
	log := do.MustInvoke[zerolog.Logger](i)

	switch cfg.STTProvider {
	case STTDeepgram:
		return stt.NewDeepgramRecognizer(stt.DeepgramConfig{
			APIKey:      cfg.DeepgramAPIKey,
			Model:       cfg.DeepgramModel,
			Endpointing: cfg.DeepgramEndpointingMs,
			Log:         log,
		}), nil
	case STTGoogle:
		return stt.NewCloudSpeechRecognizer(stt.CloudSpeechConfig{
			ProjectID:       cfg.GoogleCloudProjectID,
			CredentialsJSON: cfg.GoogleCloudCredentialsJSON,
			Location:        cfg.GoogleCloudSpeechLocation,
			Model:           cfg.GoogleCloudSpeechModel,
			LanguageCodes:   cfg.GoogleCloudLanguageCodes,
			Log:             log,
		}), nil
	case STTManual:
		return stt.ManualRecognizer{}, nil
	}
	return nil, fmt.Errorf("unknown STT provider %q", cfg.STTProvider)
}

func provideSink(i do.Injector) (publish.Sink, error) {
	cfg := do.MustInvoke[Config](i)
	log := do.MustInvoke[zerolog.Logger](i)

	sinks := publish.Multi{publish.NewLogSink(log)}
	if cfg.DiscordWebhookURL != "" {
		sinks = append(sinks, publish.NewDiscordWebhook(cfg.DiscordWebhookURL, log))
	}
	if cfg.DiscordBotToken != "" {
		ch, err := publish.NewDiscordChannel(cfg.DiscordBotToken, cfg.DiscordChannelID)
		if err != nil {
			return nil, fmt.Errorf("discord channel: %w", err)
		}
		sinks = append(sinks, ch)
	}
	return sinks, nil
}

func provideRegistry(i do.Injector) (*broadcast.Registry, error) {
	log := do.MustInvoke[zerolog.Logger](i)
	events := do.MustInvoke[*eventlog.Logger](i)

	return broadcast.NewRegistry(log, broadcast.WithDropHook(func(id string, err error) {
		events.LogAsync(displayScope, eventlog.EventSubscriberDropped, map[string]any{
			"subscriber": id,
			"reason":     err.Error(),
		})
	})), nil
}

func provideRooms(i do.Injector) (*room.Manager, error) {
	cfg := do.MustInvoke[Config](i)

	return room.NewManager(room.Config{
		SourceLanguage:       cfg.SourceLanguage,
		DefaultLanguages:     cfg.DefaultLanguages,
		ContinuationMaxWords: cfg.ContinuationMaxWords,
		StrictFallback:       cfg.StrictFallback,
	}, room.Deps{
		Catalog:  do.MustInvoke[*language.Catalog](i),
		Client:   do.MustInvoke[llm.Client](i),
		Settings: do.MustInvoke[*settings.Store](i),
		Sink:     do.MustInvoke[publish.Sink](i),
		Registry: do.MustInvoke[*broadcast.Registry](i),
		Events:   do.MustInvoke[*eventlog.Logger](i),
		Log:      do.MustInvoke[zerolog.Logger](i),
	}), nil
}

func provideRouter(i do.Injector) (http.Handler, error) {
	cfg := do.MustInvoke[Config](i)

	return httpapi.NewRouter(httpapi.RouterConfig{
		ServiceName:     cfg.ServiceName,
		JWTSecret:       cfg.JWTSecret,
		AudioEncoding:   cfg.AudioEncoding,
		AudioSampleRate: cfg.AudioSampleRate,
		DisplayBuffer:   cfg.DisplayBuffer,
	}, httpapi.Deps{
		Settings:   do.MustInvoke[*settings.Store](i),
		Catalog:    do.MustInvoke[*language.Catalog](i),
		Rooms:      do.MustInvoke[*room.Manager](i),
		Registry:   do.MustInvoke[*broadcast.Registry](i),
		Recognizer: do.MustInvoke[stt.Recognizer](i),
		Log:        do.MustInvoke[zerolog.Logger](i),
	}), nil
}

func (a *App) Router() http.Handler { return a.handler }

func (a *App) Rooms() *room.Manager { return a.rooms }

// Close drains running sessions, lets queued translations finish until ctx
// is done and releases the database.
func (a *App) Close(ctx context.Context) error {
	err := a.rooms.Close(ctx)
	a.closeDB()
	return err
}

func (a *App) closeDB() {
	if a.db != nil {
		a.db.Close()
	}
}
