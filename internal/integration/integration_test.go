package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"classroom-live/internal/app"
	"classroom-live/internal/domain"
	"classroom-live/internal/infra/memory"
	mongostore "classroom-live/internal/infra/mongo"
	"classroom-live/internal/infra/postgres"
	infraredis "classroom-live/internal/infra/redis"
	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestClassroomOnPostgresAndRedis(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := postgres.OpenBun(pgURL)
	defer db.Close()
	if _, err := postgres.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	sessions := postgres.NewSessionStore(db)
	cache := infraredis.NewSessionCache(redisClient, sessions, time.Minute)
	classroom := app.NewClassroom(app.Deps{
		Sessions:  sessions,
		Directory: cache,
		Tracker:   cache,
		Quiz:      postgres.NewQuizStore(pool),
	})

	code := runQuizScenario(t, ctx, classroom)

	if _, ok := cache.Live(ctx, code); !ok {
		t.Fatalf("expected liveness marker for %s while members are connected", code)
	}
}

func TestQuizStoreOnMongo(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	uri, cleanup := startMongo(t, ctx)
	defer cleanup()

	client, err := mongostore.Connect(ctx, uri)
	if err != nil {
		t.Fatalf("connect mongo: %v", err)
	}
	defer client.Disconnect(ctx)

	store := mongostore.NewQuizStore(client, "classroom_test")
	if err := store.EnsureIndexes(ctx); err != nil {
		t.Fatalf("indexes: %v", err)
	}
	classroom := app.NewClassroom(app.Deps{
		Sessions: memory.NewSessionStore(),
		Quiz:     store,
	})

	runQuizScenario(t, ctx, classroom)
}

// runQuizScenario drives a session end to end through the app layer and
// returns its room code. Members stay connected afterwards.
func runQuizScenario(t *testing.T, ctx context.Context, classroom *app.Classroom) string {
	t.Helper()
	session, err := classroom.Sessions.Create(ctx, "t1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := classroom.Sessions.Join(ctx, session.Code, "s1"); err != nil {
		t.Fatalf("join session: %v", err)
	}

	teacher, student := &discardSink{}, &discardSink{}
	if _, _, err := classroom.Connect(ctx, session.Code, "t1", "Teacher", domain.RoleTeacher, teacher); err != nil {
		t.Fatalf("connect teacher: %v", err)
	}
	if _, _, err := classroom.Connect(ctx, session.Code, "s1", "Sam", domain.RoleStudent, student); err != nil {
		t.Fatalf("connect student: %v", err)
	}

	q, err := classroom.Quiz.SubmitQuestion(ctx, session.Code, "t1", domain.QuestionDraft{
		Text:          "2 + 2?",
		Type:          "ONE_WORD",
		CorrectAnswer: "Four",
		DurationSec:   60,
	})
	if err != nil {
		t.Fatalf("submit question: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = classroom.Quiz.SubmitAnswer(ctx, session.Code, q.ID, "s1", "Sam", "four")
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range results {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, domain.ErrDuplicateSubmission):
		default:
			t.Fatalf("unexpected submit error: %v", err)
		}
	}
	if accepted != 1 {
		t.Fatalf("expected exactly one accepted answer, got %d", accepted)
	}

	lb, err := classroom.Board.Leaderboard(ctx, session.Code, 0)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(lb.Entries) != 1 || lb.Entries[0].ParticipantID != "s1" || lb.Entries[0].Score != 10 {
		t.Fatalf("unexpected leaderboard: %+v", lb.Entries)
	}

	if err := classroom.Sessions.Teardown(ctx, session.Code, "t1"); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	lb, _ = classroom.Board.Leaderboard(ctx, session.Code, 0)
	if len(lb.Entries) != 0 {
		t.Fatalf("expected history removed, got %+v", lb.Entries)
	}
	return session.Code
}

type discardSink struct {
	mu   sync.Mutex
	seen []string
}

func (s *discardSink) Send(env app.Envelope) bool {
	s.mu.Lock()
	s.seen = append(s.seen, env.Type)
	s.mu.Unlock()
	return true
}

func (s *discardSink) Close() {}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "classroom", "POSTGRES_PASSWORD": "classpass", "POSTGRES_DB": "classroom"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container := startContainer(t, ctx, req)
	host, port := endpoint(t, ctx, container, "5432/tcp")
	dsn := fmt.Sprintf("postgres://classroom:classpass@%s:%s/classroom?sslmode=disable", host, port)
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
	container := startContainer(t, ctx, req)
	host, port := endpoint(t, ctx, container, "6379/tcp")
	return fmt.Sprintf("redis://%s:%s", host, port), func() {
		_ = container.Terminate(ctx)
	}
}

func startMongo(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(60 * time.Second),
	}
	container := startContainer(t, ctx, req)
	host, port := endpoint(t, ctx, container, "27017/tcp")
	return fmt.Sprintf("mongodb://%s:%s", host, port), func() {
		_ = container.Terminate(ctx)
	}
}

func startContainer(t *testing.T, ctx context.Context, req tc.ContainerRequest) tc.Container {
	t.Helper()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start %s: %v", req.Image, err)
	}
	return container
}

func endpoint(t *testing.T, ctx context.Context, container tc.Container, port string) (string, string) {
	t.Helper()
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	return host, mapped.Port()
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
