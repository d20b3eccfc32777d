package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cadencehq/cadence/internal/store"
	"github.com/cadencehq/cadence/internal/store/storetest"
)

// makePGStore provides a store backed either by CADENCE_POSTGRES_TEST_DSN or,
// when unset, by a throwaway postgres container.
func makePGStore(t *testing.T) store.Store {
	t.Helper()
	ctx := context.Background()

	dsn := os.Getenv("CADENCE_POSTGRES_TEST_DSN")
	if dsn == "" {
		if testing.Short() {
			t.Skip("short mode: skipping postgres container test")
		}
		req := testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "cadence",
				"POSTGRES_PASSWORD": "cadence",
				"POSTGRES_DB":       "cadence_test",
			},
			WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
		}
		container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
		if err != nil {
			t.Skipf("docker unavailable: %v", err)
		}
		t.Cleanup(func() { _ = container.Terminate(ctx) })

		host, err := container.Host(ctx)
		if err != nil {
			t.Fatalf("container host: %v", err)
		}
		port, err := container.MappedPort(ctx, "5432/tcp")
		if err != nil {
			t.Fatalf("container port: %v", err)
		}
		dsn = fmt.Sprintf("postgres://cadence:cadence@%s:%s/cadence_test?sslmode=disable", host, port.Port())
	}

	db, err := Open(dsn)
	if err != nil {
		t.Fatalf("postgres open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := EnsureSchema(ctx, db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return NewWithDB(db)
}

func TestPostgresStore_Compliance(t *testing.T) {
	storetest.Run(t, makePGStore)
}
