package postgres

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bossm747/agentboyong/pkg/history"
)

func init() {
	// Point testcontainers at the podman socket when DOCKER_HOST is unset.
	if os.Getenv("DOCKER_HOST") == "" {
		out, err := exec.Command("podman", "machine", "inspect", "--format", "{{.ConnectionInfo.PodmanSocket.Path}}").Output()
		if err == nil {
			if sock := strings.TrimSpace(string(out)); sock != "" {
				os.Setenv("DOCKER_HOST", "unix://"+sock)
			}
		}
	}
	if os.Getenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED", "true")
	}
}

// setupTestDB starts PostgreSQL in a container. Tests are skipped when no
// container runtime is available.
func setupTestDB(t *testing.T) *Store {
	t.Helper()

	if os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("SKIP_INTEGRATION=true, skipping PostgreSQL integration tests")
	}
	_, podmanErr := exec.LookPath("podman")
	_, dockerErr := exec.LookPath("docker")
	if podmanErr != nil && dockerErr != nil {
		t.Skip("no container runtime found, skipping integration tests")
	}

	ctx := context.Background()
	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("boyong_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skipf("skipping: could not start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	store, err := New(ctx, Config{DSN: dsn, MigrateOnStart: true})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPostgres_AppendList(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	for i, e := range []history.Entry{
		{AgentID: "a", ShellIndex: 0, SessionID: "1", Command: "pwd"},
		{AgentID: "a", ShellIndex: 1, SessionID: "2", Command: "ls -la"},
		{AgentID: "b", ShellIndex: 0, SessionID: "3", Command: "echo hi"},
		{AgentID: "a", ShellIndex: 0, SessionID: "1", Command: "python /tmp/x.py"},
	} {
		e.ExecutedAt = base.Add(time.Duration(i) * time.Second)
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := store.List(ctx, history.Query{AgentID: "a", ShellIndex: 0})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].Command != "pwd" || got[1].Command != "python /tmp/x.py" {
		t.Fatalf("List = %+v", got)
	}
	if got[0].SessionID != "1" || !got[0].ExecutedAt.Equal(base) {
		t.Errorf("entry = %+v", got[0])
	}

	recent, err := store.List(ctx, history.Query{ShellIndex: history.AllShells, Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recent) != 2 || recent[0].Command != "echo hi" {
		t.Errorf("recent = %+v", recent)
	}
}

func TestPostgres_MigrateIdempotent(t *testing.T) {
	store := setupTestDB(t)
	if err := store.migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestPostgres_RejectsEmptyCommand(t *testing.T) {
	store := setupTestDB(t)
	if err := store.Append(context.Background(), history.Entry{AgentID: "a"}); err == nil {
		t.Error("expected error for empty command")
	}
}
