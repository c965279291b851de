package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"wedding-bet-service/internal/app"
	"wedding-bet-service/internal/config"
	"wedding-bet-service/internal/domain"
	"wedding-bet-service/internal/infra/memory"
	"wedding-bet-service/internal/infra/postgres"
	redisinfra "wedding-bet-service/internal/infra/redis"
	transport "wedding-bet-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the wedding bet server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

type storage interface {
	app.Store
	app.UserRepository
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	printBanner()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var store storage = memory.NewStore()
	if cfg.Postgres.URL != "" {
		if err := RunMigrations(ctx, cfg, log); err != nil {
			return err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		store = postgres.NewStore(pool)
		log.Info().Msg("using postgres store")
	} else {
		log.Warn().Msg("postgres url not configured, data lives in memory")
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
	}

	sessionTTL := config.TTLDuration(cfg.Auth.SessionTTL, 24*time.Hour)
	keyTTL := config.TTLDuration(cfg.Keys.TTL, time.Minute)

	group, ctx := errgroup.WithContext(ctx)

	feed := app.NewFeed()
	var notifier app.Notifier = feed
	var sessions app.SessionStore
	var keys app.KeyCache
	if redisClient != nil {
		bus := redisinfra.NewChangeBus(redisClient, cfg.Redis.Channel, feed, log)
		group.Go(func() error { return bus.Run(ctx) })
		notifier = bus
		sessions = redisinfra.NewSessionStore(redisClient, sessionTTL)
		keys = redisinfra.NewKeyCache(redisClient, store, keyTTL)
	} else {
		sessions = memory.NewSessionStore(sessionTTL)
		keys = memory.NewKeyCache(store, keyTTL)
	}

	if cfg.Auth.SuperAdminID == "" {
		log.Warn().Msg("no super admin configured, admin grants are disabled")
	}
	cost := cfg.Auth.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	bets := app.NewBetService(store, keys, notifier, log)
	auth := app.NewAuthService(store, sessions, notifier, log).WithHashCost(cost)
	admin := app.NewAdminService(store, cfg.Auth.SuperAdminID, log)

	stopWatch := feed.Watch(domain.CollectionWinners, func(c domain.Change) {
		log.Debug().Time("at", c.At).Msg("homepage winners changed")
	})
	defer stopWatch()

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      transport.NewRouter(transport.NewAPI(bets, auth, admin, log), transport.NewWSHandler(bets, auth, feed, log)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	group.Go(func() error {
		log.Info().Str("port", finalPort).Msg("starting wedding bet service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || cfg.Log.Level == "" {
		level = zerolog.InfoLevel
	}
	var log zerolog.Logger
	if cfg.Log.Pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	} else {
		log = zerolog.New(os.Stdout)
	}
	return log.Level(level).With().Timestamp().Logger()
}

func printBanner() {
	fmt.Println(color.HiMagentaString("Wedding Bets"))
	fmt.Println("Guess the day, win the homepage")
	color.HiBlack("==============================")
}
