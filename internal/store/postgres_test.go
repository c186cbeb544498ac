package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/stretchr/testify/suite"
)

// Postgres test database configuration
const (
	postgresUser     = "mappa"
	postgresPassword = "mappa_pwd"
	postgresDB       = "mappa_test"
)

func postgresDSN(port string) string {
	return fmt.Sprintf("postgres://%s:%s@localhost:%s/%s?sslmode=disable", postgresUser, postgresPassword, port, postgresDB)
}

type PostgresSuite struct {
	suite.Suite
	pool     *dockertest.Pool
	resource *dockertest.Resource
	db       *DB
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping docker-backed test in short mode")
	}
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) SetupSuite() {
	pool, err := dockertest.NewPool("")
	if err != nil {
		s.T().Skipf("docker unavailable: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		s.T().Skipf("docker unavailable: %v", err)
	}
	pool.MaxWait = 60 * time.Second
	s.pool = pool

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "16-alpine",
		Env: []string{
			"POSTGRES_USER=" + postgresUser,
			"POSTGRES_PASSWORD=" + postgresPassword,
			"POSTGRES_DB=" + postgresDB,
		},
	})
	if err != nil {
		s.T().Fatalf("Could not start postgres: %s", err)
	}
	s.resource = resource
	_ = resource.Expire(120)

	dsn := postgresDSN(resource.GetPort("5432/tcp"))
	err = pool.Retry(func() error {
		db, err := New("pgx", dsn)
		if err != nil {
			return err
		}
		s.db = db
		return nil
	})
	if err != nil {
		s.T().Fatalf("Could not connect to postgres: %s", err)
	}
	s.Require().NoError(s.db.Migrate(context.Background()))
}

func (s *PostgresSuite) TearDownSuite() {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.pool != nil && s.resource != nil {
		_ = s.pool.Purge(s.resource)
	}
}

func (s *PostgresSuite) TestContract() {
	runStoreContract(s.T(), s.db)
}
