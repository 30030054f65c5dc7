// Package testutil provides disposable Docker-backed dependencies for
// component integration tests, adapted from the reference pack's
// testcontainers-go usage (petrijr-fluxo's internal/testutil) and
// generalized into one file covering every backing store a components/*
// package needs: redis, MySQL, and Postgres.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type containerOnce struct {
	once sync.Once
	addr string
	err  error
}

var (
	redisOnce    containerOnce
	mysqlOnce    containerOnce
	postgresOnce containerOnce
)

// GetRedisAddress returns "host:port" for a shared Testcontainers redis
// instance, starting it on first use. Tests are skipped, not failed, if
// Docker is unavailable.
func GetRedisAddress(t *testing.T) string {
	t.Helper()
	redisOnce.once.Do(func() {
		redisOnce.addr, redisOnce.err = startRedis()
	})
	if redisOnce.err != nil {
		t.Skipf("skipping redis integration test: %v", redisOnce.err)
	}
	return redisOnce.addr
}

func startRedis() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	c, err := testcontainers.Run(
		ctx, "redis:7-alpine",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp").WithStartupTimeout(2*time.Minute)),
	)
	if err != nil {
		return "", fmt.Errorf("starting redis container: %w", err)
	}
	endpoint, err := c.Endpoint(ctx, "")
	if err != nil {
		_ = c.Terminate(context.Background())
		return "", fmt.Errorf("redis container endpoint: %w", err)
	}
	return endpoint, nil
}

// GetMySQLDSN returns a go-sql-driver/mysql DSN for a shared Testcontainers
// MySQL instance.
func GetMySQLDSN(t *testing.T) string {
	t.Helper()
	mysqlOnce.once.Do(func() {
		mysqlOnce.addr, mysqlOnce.err = startMySQL()
	})
	if mysqlOnce.err != nil {
		t.Skipf("skipping mysql integration test: %v", mysqlOnce.err)
	}
	return mysqlOnce.addr
}

func startMySQL() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	c, err := testcontainers.Run(
		ctx, "mysql:8",
		testcontainers.WithExposedPorts("3306/tcp"),
		testcontainers.WithEnv(map[string]string{
			"MYSQL_ROOT_PASSWORD": "userver",
			"MYSQL_DATABASE":      "userver_test",
		}),
		testcontainers.WithWaitStrategy(
			wait.ForSQL("3306/tcp", "mysql", func(host string, port nat.Port) string {
				return fmt.Sprintf("root:userver@tcp(%s:%s)/userver_test?parseTime=true", host, port.Port())
			}).WithStartupTimeout(3*time.Minute),
		),
	)
	if err != nil {
		return "", fmt.Errorf("starting mysql container: %w", err)
	}
	endpoint, err := c.Endpoint(ctx, "")
	if err != nil {
		_ = c.Terminate(context.Background())
		return "", fmt.Errorf("mysql container endpoint: %w", err)
	}
	return fmt.Sprintf("root:userver@tcp(%s)/userver_test?parseTime=true", endpoint), nil
}

// GetPostgresDSN returns a DSN for a shared Testcontainers Postgres
// instance.
func GetPostgresDSN(t *testing.T) string {
	t.Helper()
	postgresOnce.once.Do(func() {
		postgresOnce.addr, postgresOnce.err = startPostgres()
	})
	if postgresOnce.err != nil {
		t.Skipf("skipping postgres integration test: %v", postgresOnce.err)
	}
	return postgresOnce.addr
}

func startPostgres() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	c, err := testcontainers.Run(
		ctx, "postgres:16-alpine",
		testcontainers.WithExposedPorts("5432/tcp"),
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_USER":     "userver",
			"POSTGRES_PASSWORD": "userver",
			"POSTGRES_DB":       "userver_test",
		}),
		testcontainers.WithWaitStrategy(
			wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("database system is ready to accept connections"),
				wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
					return fmt.Sprintf("postgres://userver:userver@%s:%s/userver_test?sslmode=disable", host, port.Port())
				}).WithQuery("SELECT 1"),
			).WithDeadline(2*time.Minute),
		),
	)
	if err != nil {
		return "", fmt.Errorf("starting postgres container: %w", err)
	}
	endpoint, err := c.Endpoint(ctx, "")
	if err != nil {
		_ = c.Terminate(context.Background())
		return "", fmt.Errorf("postgres container endpoint: %w", err)
	}
	return fmt.Sprintf("postgres://userver:userver@%s/userver_test?sslmode=disable", endpoint), nil
}
