package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 10
	DBMaxIdleConns    = 2
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 30 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Ping timeout for database and redis checks at boot
const PingTimeout = 5 * time.Second

// Pairing code bounds
const (
	MinCodeLength = 4
	MaxCodeLength = 16
)

// Shortest accepted OPERATOR_TOKEN
const MinOperatorTokenLength = 16

// The sweep must run at least once a minute.
const MaxSweepIntervalSeconds = 60

// Window for the per-IP code issuance limit
const CodeRateLimitWindow = time.Minute
