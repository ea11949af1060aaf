package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/psds-microservice/support-bot/internal/bot"
	"github.com/psds-microservice/support-bot/internal/claim"
	"github.com/psds-microservice/support-bot/internal/closure"
	"github.com/psds-microservice/support-bot/internal/config"
	"github.com/psds-microservice/support-bot/internal/database"
	"github.com/psds-microservice/support-bot/internal/discord"
	"github.com/psds-microservice/support-bot/internal/handler"
	"github.com/psds-microservice/support-bot/internal/intake"
	"github.com/psds-microservice/support-bot/internal/kafka"
	"github.com/psds-microservice/support-bot/internal/relay"
	"github.com/psds-microservice/support-bot/internal/router"
	"github.com/psds-microservice/support-bot/internal/store"
	"github.com/psds-microservice/support-bot/internal/ticket"
	"github.com/psds-microservice/support-bot/internal/transcript"
)

// App: процесс бота: шлюз Discord, обработчики тикетов и read-only HTTP API.
// В режиме api (без токена Discord) поднимается только HTTP.
type App struct {
	cfg      *config.Config
	httpSrv  *http.Server
	session  *discordgo.Session
	bot      *bot.Bot
	producer *kafka.Producer
}

// NewBot собирает все компоненты бота поверх Postgres и сессии Discord.
func NewBot(cfg *config.Config) (*App, error) {
	if err := cfg.ValidateBot(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	kv, files, err := openStorage(cfg)
	if err != nil {
		return nil, err
	}
	types, err := config.LoadTicketTypes(cfg.TicketTypesFile)
	if err != nil {
		return nil, fmt.Errorf("ticket types: %w", err)
	}
	session, err := discord.NewSession(cfg.Discord.Token)
	if err != nil {
		return nil, err
	}
	client := discord.NewClient(session, cfg.Discord.GuildID)
	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicTicket, true)

	registry := ticket.NewRegistry(kv)
	// The guild id doubles as the id of its @everyone role.
	prov := ticket.NewProvisioner(client, types, registry, kv, cfg.Discord.GuildID, cfg.Discord.AdminRoleID)
	collector := intake.NewCollector()
	sessions := intake.NewSessions()
	runner := intake.NewRunner(client, types, collector, sessions, intake.Options{
		QuestionTimeout: cfg.Intake.QuestionTimeout,
		RetryAttempts:   cfg.Intake.RetryAttempts,
		RetryBackoff:    cfg.Intake.RetryBackoff,
		CancelKeyword:   cfg.Intake.CancelKeyword,
	})
	rel := relay.New(client, kv, types, relay.Options{
		ChunkLimit:        cfg.Relay.ChunkLimit,
		AllowedExtensions: cfg.Relay.AllowedExtensions,
	})
	claims := claim.NewManager(client, kv, types, prov, cfg.Discord.AdminRoleID, cfg.Discord.ClaimOverrideRoles)
	closer := closure.New(client, kv, types, registry, transcript.NewRenderer(), files, closure.Options{
		GraceDelay:        cfg.CloseGraceDelay,
		TranscriptBaseURL: cfg.TranscriptBaseURL,
		TranscriptKey:     []byte(cfg.TranscriptKey),
	})

	var events kafka.TicketEventProducer = kafka.Nop{}
	if producer.Enabled() {
		events = producer
	}
	b := bot.New(bot.Deps{
		Client:      client,
		Types:       types,
		Registry:    registry,
		Provisioner: prov,
		Intake:      runner,
		Collector:   collector,
		Sessions:    sessions,
		Relay:       rel,
		Claims:      claims,
		Closure:     closer,
		Events:      events,
	})

	return &App{
		cfg:      cfg,
		httpSrv:  newHTTPServer(cfg, registry, kv, files),
		session:  session,
		bot:      b,
		producer: producer,
	}, nil
}

// NewAPI собирает только read-only HTTP API (без подключения к Discord).
func NewAPI(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	kv, files, err := openStorage(cfg)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, httpSrv: newHTTPServer(cfg, ticket.NewRegistry(kv), kv, files)}, nil
}

func openStorage(cfg *config.Config) (*store.Postgres, *transcript.FileStore, error) {
	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}
	return store.NewPostgres(db), transcript.NewFileStore(cfg.TranscriptDir), nil
}

func newHTTPServer(cfg *config.Config, registry *ticket.Registry, kv store.KV, files *transcript.FileStore) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router.New(handler.NewTicketHandler(registry, kv), handler.NewTranscriptHandler(files, []byte(cfg.TranscriptKey))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Run запускает HTTP сервер и (если собран) шлюз Discord, блокируется до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	log.Printf("HTTP server listening on %s", a.httpSrv.Addr)
	log.Printf("  Swagger UI:    %s/swagger", base)
	log.Printf("  Swagger spec:  %s/swagger/openapi.json", base)
	log.Printf("  Health:        %s/health", base)
	log.Printf("  Ready:         %s/ready", base)
	log.Printf("  API v1:        %s/api/v1/", base)

	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http: %v", err)
		}
	}()

	if a.session != nil {
		discord.Attach(ctx, a.session, a.bot)
		if err := a.session.Open(); err != nil {
			a.shutdownHTTP()
			return fmt.Errorf("discord open: %w", err)
		}
		if err := discord.RegisterCommands(a.session, a.cfg.Discord.GuildID, a.bot.Commands()); err != nil {
			log.Printf("discord: %v", err)
		}
		if !a.producer.Enabled() {
			log.Println("kafka: KAFKA_BROKERS not set, ticket events are dropped")
		}
	}

	<-ctx.Done()
	var errOut error
	if a.session != nil {
		if err := a.session.Close(); err != nil {
			errOut = errors.Join(errOut, fmt.Errorf("discord close: %w", err))
		}
		a.bot.Wait()
		if err := a.producer.Close(); err != nil {
			errOut = errors.Join(errOut, fmt.Errorf("kafka close: %w", err))
		}
	}
	if err := a.shutdownHTTP(); err != nil {
		errOut = errors.Join(errOut, err)
	}
	return errOut
}

func (a *App) shutdownHTTP() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
