package redisstore

import "time"

type Config struct {
	ConnectionURL  string        `env:"REDIS_URL,required" envDefault:"redis://localhost:6379/0"` // ConnectionURL should be in the format "redis://:password@localhost:6379/0"
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
	KeyPrefix      string        `env:"REDIS_KEY_PREFIX" envDefault:"entitlements:"`
	ClaimTTL       time.Duration `env:"REDIS_DEDUP_CLAIM_TTL" envDefault:"10m"`  // ClaimTTL bounds how long an unfinished event blocks redelivery.
	DedupRetention time.Duration `env:"REDIS_DEDUP_RETENTION" envDefault:"720h"` // DedupRetention is how long processed event ids are remembered.
}
