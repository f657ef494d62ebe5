//go:build integration

package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tinoosan/fanfetch/internal/data"
)

func TestIntegrationPostgresRepo(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "fanfetch",
			"POSTGRES_PASSWORD": "fanfetch",
			"POSTGRES_DB":       "fanfetch",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}
	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	host, err := pg.Host(ctx)
	if err != nil {
		t.Fatalf("get container host: %v", err)
	}
	port, err := pg.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("get container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://fanfetch:fanfetch@%s:%s/fanfetch?sslmode=disable", host, port.Port())
	r, err := NewPostgresRepo(dsn)
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	defer r.Close()

	for _, k := range []string{"a", "b", "c"} {
		if _, err := r.Record(ctx, &data.HistoryEntry{Key: k, Status: data.StatusComplete, Path: "/c/" + k}); err != nil {
			t.Fatalf("record %s: %v", k, err)
		}
	}
	list, err := r.List(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "c" || list[1].Key != "b" {
		t.Fatalf("unexpected entries: %+v", list)
	}
}
