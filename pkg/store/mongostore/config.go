package mongostore

import "time"

// Config represents the connection and placement settings of the store.
type Config struct {
	ConnectionURL   string        `env:"MONGODB_URL,required"`                         // ConnectionURL is the URL of the database.
	Database        string        `env:"MONGODB_DATABASE" envDefault:"entitlements"`   // Database holds the entitlement collection.
	Collection      string        `env:"MONGODB_COLLECTION" envDefault:"entitlements"` // Collection stores one document per user.
	ConnectTimeout  time.Duration `env:"MONGODB_CONNECT_TIMEOUT" envDefault:"10s"`     // ConnectTimeout is the timeout for connecting to the database.
	MaxPoolSize     uint64        `env:"MONGODB_MAX_POOL_SIZE" envDefault:"100"`       // MaxPoolSize is the maximum number of connections in the connection pool.
	MinPoolSize     uint64        `env:"MONGODB_MIN_POOL_SIZE" envDefault:"1"`         // MinPoolSize is the minimum number of connections in the connection pool.
	MaxConnIdleTime time.Duration `env:"MONGODB_MAX_CONN_IDLE_TIME" envDefault:"300s"` // MaxConnIdleTime is the maximum time that a connection can remain idle in the connection pool.
	RetryAttempts   int           `env:"MONGODB_RETRY_ATTEMPTS" envDefault:"3"`        // RetryAttempts is the number of retry attempts to connect to the database.
	RetryInterval   time.Duration `env:"MONGODB_RETRY_INTERVAL" envDefault:"5s"`       // RetryInterval is the interval between retry attempts.

	DedupCollection string        `env:"MONGODB_DEDUP_COLLECTION" envDefault:"processed_events"` // DedupCollection stores processed webhook event ids.
	DedupClaimTTL   time.Duration `env:"MONGODB_DEDUP_CLAIM_TTL" envDefault:"10m"`               // DedupClaimTTL bounds how long an unfinished event blocks redelivery.
	DedupRetention  time.Duration `env:"MONGODB_DEDUP_RETENTION" envDefault:"720h"`              // DedupRetention is how long processed event ids are remembered.
}
