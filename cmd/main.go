package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kollektive-hackathon/battleblocks-escrow/internal/escrow"
	"github.com/kollektive-hackathon/battleblocks-escrow/internal/escrow/store"
	"github.com/kollektive-hackathon/battleblocks-escrow/internal/game"
	"github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/blockchain"
	"github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/firebase"
	"github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/middleware"
	"github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/pubsub"
	pkgws "github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/ws"
	"github.com/kollektive-hackathon/battleblocks-escrow/internal/ws"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	setupViper()
	setupZerolog()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := escrow.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid escrow configuration")
	}

	ps, err := pubsub.NewClient(ctx, viper.GetString("GOOGLE_PROJECT_ID"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize pubsub")
	}
	defer func() { ps.Close() }()

	firebase.InitFirebaseSdk()

	hub := pkgws.NewNotificationHub()
	custody := blockchain.NewReleaseBridge(ps, blockchain.GetAdminAuthorizer())
	service, err := escrow.NewService(cfg, setupStore(), custody,
		escrow.WithNotifier(escrow.NewHubNotifier(hub)),
		escrow.WithIdentityNormalizer(blockchain.NormalizeAddress))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize escrow service")
	}

	subscriptions := game.NewSubscriptions(service,
		viper.GetString("GAME_MOVED_SUBSCRIPTION"),
		viper.GetString("GAME_OVER_SUBSCRIPTION"))
	subscriptions = append(subscriptions,
		escrow.NewInvocationSubscription(service, viper.GetString("ESCROW_INVOCATION_SUBSCRIPTION")))
	for _, sub := range subscriptions {
		if sub.SubscriptionId == "" {
			continue
		}
		go ps.Subscribe(ctx, sub)
	}

	apiRouter := setupApiRouter(service, hub)

	port := viper.GetString("PORT")
	server := &http.Server{
		Addr:         port,
		Handler:      apiRouter,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	if err := server.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func setupStore() store.Store {
	switch kind := viper.GetString("ESCROW_STORE"); kind {
	case "memory":
		log.Warn().Msg("Escrow records are kept in memory only")
		return store.NewMemoryStore()
	case "redis":
		return store.NewRedisStore(
			viper.GetString("REDIS_URL"),
			viper.GetString("REDIS_PASSWORD"),
			viper.GetInt("REDIS_DB"))
	case "postgres":
		pg := store.NewPostgresStore(setupDb())
		if err := pg.Migrate(); err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate escrow table")
		}
		return pg
	default:
		log.Fatal().Msgf("Unknown ESCROW_STORE %q", kind)
	}
	return nil
}

func setupDb() *gorm.DB {
	dbUrl := viper.GetString("DB_URL")

	db, err := gorm.Open(postgres.Open(dbUrl), &gorm.Config{})

	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	sqlDb, _ := db.DB()

	sqlDb.SetMaxOpenConns(50)
	sqlDb.SetConnMaxLifetime(time.Minute * 10)

	return db
}

func setupApiRouter(service *escrow.Service, hub *pkgws.WebSocketNotificationHub) *gin.Engine {
	apiRouter := gin.New()
	middleware.RegisterGlobalMiddleware(apiRouter)

	routerGroup := apiRouter.Group("/battleblocks-api")

	ws.RegisterRoutes(routerGroup, hub, middleware.VerifyAuthToken)
	escrow.RegisterRoutes(routerGroup, service, middleware.VerifyAuthToken)
	apiRouter.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return apiRouter
}

func setupViper() {
	viper.SetConfigFile("./.env")
	if err := viper.ReadInConfig(); err != nil {
		log.Info().Msg("No .env file, using environment only")
	}
	viper.AutomaticEnv()
	viper.SetDefault("PORT", ":8080")
	viper.SetDefault("ESCROW_STORE", "postgres")
	escrow.SetViperDefaults()
}

func setupZerolog() {
	zerolog.LevelFieldName = "severity"
	zerolog.TimestampFieldName = "time"
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
