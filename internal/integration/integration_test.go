package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"wedding-bet-service/internal/app"
	"wedding-bet-service/internal/cli"
	"wedding-bet-service/internal/config"
	"wedding-bet-service/internal/domain"
	"wedding-bet-service/internal/infra/postgres"
	infraredis "wedding-bet-service/internal/infra/redis"
)

func TestResolveWinnersEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	cfg := config.Config{}
	cfg.Postgres.URL = pgURL
	if err := cli.RunMigrations(ctx, cfg, zerolog.Nop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// A second run must be a no-op.
	if err := cli.RunMigrations(ctx, cfg, zerolog.Nop()); err != nil {
		t.Fatalf("migrate again: %v", err)
	}

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()
	store := postgres.NewStore(pool)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	feed := app.NewFeed()
	bus := infraredis.NewChangeBus(redisClient, "", feed, zerolog.Nop())
	go func() { _ = bus.Run(runCtx) }()
	select {
	case <-bus.Ready():
	case <-time.After(10 * time.Second):
		t.Fatalf("change bus never subscribed")
	}
	winnerChanges, stop := feed.Subscribe(domain.CollectionWinners)
	defer stop()

	keys := infraredis.NewKeyCache(redisClient, store, 5*time.Minute)
	sessions := infraredis.NewSessionStore(redisClient, 5*time.Minute)
	bets := app.NewBetService(store, keys, bus, zerolog.Nop())
	auth := app.NewAuthService(store, sessions, bus, zerolog.Nop()).WithHashCost(bcrypt.MinCost)

	admin := signIn(t, ctx, auth, store, "Admin", "admin@example.com", true)
	alice := signIn(t, ctx, auth, store, "Alice", "alice@example.com", false)
	bob := signIn(t, ctx, auth, store, "Bob", "bob@example.com", false)

	dance, err := bets.CreateBet(ctx, &admin, domain.BetDraft{
		Question: "First dance song?", Kind: domain.KindMultipleChoice, Options: []string{"Perfect", "Thinking Out Loud"},
	})
	if err != nil {
		t.Fatalf("create bet: %v", err)
	}
	cake, err := bets.CreateBet(ctx, &admin, domain.BetDraft{Question: "Cake flavour?", Kind: domain.KindOpenEnded})
	if err != nil {
		t.Fatalf("create bet: %v", err)
	}

	if _, err := bets.SubmitAnswers(ctx, &alice, map[string]string{dance.ID: "Perfect", cake.ID: "lemon"}); err != nil {
		t.Fatalf("alice submit: %v", err)
	}
	if _, err := bets.SubmitAnswers(ctx, &bob, map[string]string{dance.ID: "Perfect", cake.ID: "chocolate"}); err != nil {
		t.Fatalf("bob submit: %v", err)
	}

	if _, err := bets.ResolveWinners(ctx, &admin); !errors.Is(err, domain.ErrMissingAnswerKey) {
		t.Fatalf("expected missing key, got %v", err)
	}

	if _, err := bets.SubmitAnswerKey(ctx, &admin, map[string]string{dance.ID: "Perfect", cake.ID: "chocolate"}); err != nil {
		t.Fatalf("submit key: %v", err)
	}
	if _, err := bets.SubmitAnswerKey(ctx, &admin, map[string]string{dance.ID: "Perfect", cake.ID: "lemon"}); err != nil {
		t.Fatalf("replace key: %v", err)
	}
	var active int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM keys WHERE active`).Scan(&active); err != nil {
		t.Fatalf("count keys: %v", err)
	}
	if active != 1 {
		t.Fatalf("expected exactly one active key, got %d", active)
	}

	res, err := bets.ResolveWinners(ctx, &admin)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.MaxScore != 2 || len(res.Winners) != 1 || res.Winners[0].UserID != alice.UserID {
		t.Fatalf("expected alice to win with 2, got %+v", res)
	}

	if _, err := bets.PublishWinners(ctx, &admin, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case <-winnerChanges:
	case <-time.After(5 * time.Second):
		t.Fatalf("winner change never relayed through redis")
	}

	published, err := bets.PublishedWinners(ctx)
	if err != nil {
		t.Fatalf("published winners: %v", err)
	}
	if len(published) != 1 || published[0].UserName != "Alice" || published[0].Score != 2 {
		t.Fatalf("unexpected homepage winners %+v", published)
	}

	assertConcurrentPublishesSerialize(t, ctx, store)
}

func assertConcurrentPublishesSerialize(t *testing.T, ctx context.Context, store *postgres.Store) {
	t.Helper()
	sets := [][]domain.PublishedWinner{
		{{UserID: "a", UserName: "A", Score: 1}, {UserID: "b", UserName: "B", Score: 1}},
		{{UserID: "c", UserName: "C", Score: 2}},
	}
	for round := 0; round < 10; round++ {
		var group errgroup.Group
		for _, set := range sets {
			set := set
			group.Go(func() error { return store.ReplaceWinners(ctx, set) })
		}
		if err := group.Wait(); err != nil {
			t.Fatalf("concurrent replace: %v", err)
		}
		got, err := store.ListWinners(ctx)
		if err != nil {
			t.Fatalf("list winners: %v", err)
		}
		if len(got) != len(sets[0]) && len(got) != len(sets[1]) {
			t.Fatalf("expected one complete set, got %+v", got)
		}
	}
}

func signIn(t *testing.T, ctx context.Context, auth *app.AuthService, store *postgres.Store, name, email string, admin bool) domain.Principal {
	t.Helper()
	user, err := auth.SignUp(ctx, name, email, "Secret#123")
	if err != nil {
		t.Fatalf("sign up %s: %v", email, err)
	}
	if admin {
		if err := store.SetAdmin(ctx, user.ID, true); err != nil {
			t.Fatalf("set admin: %v", err)
		}
	}
	p, err := auth.SignIn(ctx, email, "Secret#123")
	if err != nil {
		t.Fatalf("sign in %s: %v", email, err)
	}
	return p
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "bets", "POSTGRES_PASSWORD": "betspass", "POSTGRES_DB": "betsdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://bets:betspass@%s:%s/betsdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
