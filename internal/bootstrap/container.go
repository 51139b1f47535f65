package bootstrap

import (
	"context"
	"log"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"

	"sales-intel-be/internal/config"
	"sales-intel-be/internal/controller"
	"sales-intel-be/internal/handler"
	"sales-intel-be/internal/metrics"
	"sales-intel-be/internal/pkg/logger"
	"sales-intel-be/internal/service"
	"sales-intel-be/internal/websocket"
	"sales-intel-be/pkg/agentic"
	"sales-intel-be/pkg/agentic/connection"
	"sales-intel-be/pkg/agentic/fallback"
	"sales-intel-be/pkg/agentic/session"
	pktNats "sales-intel-be/pkg/nats"
	"sales-intel-be/pkg/notify"
)

type Container struct {
	// Controllers
	SearchController controller.ISearchController

	// Background Services (Exposed for main.go to run)
	ConsumerService service.IConsumerService
	SearchService   service.ISearchService

	// WebSockets
	StreamHandler *handler.StreamHandler
	WebSocketHub  *websocket.Hub

	Metrics *metrics.Metrics
	Logger  logger.ILogger

	closers []func()
}

func NewContainer(ctx context.Context, cfg *config.Config) *Container {
	// 1. Core Facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	m := metrics.New()

	// 2. Event Bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 256},
		watermillLogger,
	)

	// 3. Infrastructure
	// NATS
	natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL, sysLogger)
	if err != nil {
		log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
	}

	// Redis
	opt, err := redis.ParseURL(cfg.App.RedisURL)
	if err != nil {
		log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
		opt = &redis.Options{
			Addr: cfg.App.RedisURL,
		}
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Printf("[WARN] Failed to connect to Redis: %v", err)
	}

	// WebSocket Hub
	wsLogger := logger.NewIsolatedLogger("logs/stream.log")
	wsHub := websocket.NewHub(rdb, wsLogger)
	go wsHub.Run(ctx)

	// 4. Search core
	dialer, err := connection.NewWebSocketDialer(cfg.Backend.WSURL, cfg.Backend.HandshakeTimeout)
	if err != nil {
		log.Fatalf("[FATAL] Invalid search WebSocket URL %q: %v", cfg.Backend.WSURL, err)
	}
	log.Printf("[INFO] Search stream: %s", dialer.URL)

	var directory fallback.Directory
	if cfg.Fallback.Directory == "redis" {
		directory = fallback.NewRedisDirectory(rdb)
		log.Printf("[INFO] Using Partner Directory: REDIS")
	} else {
		directory = fallback.NewMemoryDirectory(cfg.Fallback.DirectoryTTL)
		log.Printf("[INFO] Using Partner Directory: MEMORY")
	}

	restClient := fallback.NewRESTClient(cfg.Backend.APIURL, cfg.Backend.RequestTimeout, staticToken(cfg.Keys.BackendToken))
	coordinator := fallback.NewCoordinator(restClient, directory, sysLogger, fallback.Config{
		DomainLimit:    cfg.Fallback.DomainLimit,
		HeuristicLimit: cfg.Fallback.HeuristicLimit,
		Timeout:        cfg.Backend.RequestTimeout,
	})

	defaults := agentic.DefaultSearchOptions()
	defaults.Limit = cfg.Search.DefaultLimit
	defaults.PartnerSuggestionLimit = cfg.Search.PartnerSuggestionLimit

	searchService := service.NewSearchService(
		ctx,
		func() session.Channel { return connection.NewManager(dialer, sysLogger) },
		coordinator,
		wsHub,
		pubSub,
		m,
		sysLogger,
		service.SearchServiceConfig{
			Defaults:    defaults,
			IdleTimeout: cfg.Search.IdleTimeout,
			SessionTTL:  cfg.Search.SessionTTL,
			PlainLimit:  cfg.Fallback.PlainLimit,
			EventsTopic: cfg.Search.EventsTopic,
		},
	)

	consumerService := service.NewConsumerService(
		pubSub,
		cfg.Search.EventsTopic,
		notify.NewNatsPublisher(natsPub, sysLogger),
		sysLogger,
	)

	streamHandler := handler.NewStreamHandler(searchService, wsHub, cfg.Keys.JWTSecret, wsLogger)

	c := &Container{
		SearchController: controller.NewSearchController(searchService, cfg.Keys.JWTSecret),
		ConsumerService:  consumerService,
		SearchService:    searchService,
		StreamHandler:    streamHandler,
		WebSocketHub:     wsHub,
		Metrics:          m,
		Logger:           sysLogger,
	}
	c.closers = append(c.closers,
		searchService.Close,
		func() { _ = pubSub.Close() },
		func() { _ = rdb.Close() },
	)
	if natsPub != nil {
		c.closers = append(c.closers, natsPub.Close)
	}
	c.closers = append(c.closers, func() {
		_ = wsLogger.Sync()
		_ = sysLogger.Sync()
	})
	return c
}

// Close releases sessions, brokers and loggers in dependency order.
func (c *Container) Close() {
	for _, fn := range c.closers {
		fn()
	}
}

func staticToken(token string) fallback.TokenSource {
	if token == "" {
		return nil
	}
	return func(context.Context) (string, error) { return token, nil }
}
