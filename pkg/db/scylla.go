package db

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/rs/zerolog"
)

// Session wraps a gocql session bound to one keyspace.
type Session struct {
	*gocql.Session
	Keyspace string
}

type Config struct {
	Hosts    []string
	Keyspace string
	Timeout  time.Duration
}

func NewSession(cfg Config, log zerolog.Logger) (*Session, error) {
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("scylla: no hosts configured")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = cfg.Timeout
	cluster.ConnectTimeout = cfg.Timeout

	// Retry policy
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("scylla: connect to %v: %w", cfg.Hosts, err)
	}

	log.Info().Strs("hosts", cfg.Hosts).Str("keyspace", cfg.Keyspace).Msg("connected to ScyllaDB cluster")
	return &Session{Session: session, Keyspace: cfg.Keyspace}, nil
}

// CreateKeyspace connects to the system keyspace and creates keyspace if it
// does not exist yet.
func CreateKeyspace(cfg Config, keyspace string, replication int, log zerolog.Logger) error {
	sys := cfg
	sys.Keyspace = "system"

	session, err := NewSession(sys, log)
	if err != nil {
		return err
	}
	defer session.Close()

	stmt := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : %d }`,
		keyspace, replication)
	if err := session.Query(stmt).Exec(); err != nil {
		return fmt.Errorf("scylla: create keyspace %s: %w", keyspace, err)
	}
	return nil
}
