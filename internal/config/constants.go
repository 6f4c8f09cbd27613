package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerWriteTimeout    = 90 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const CleanupJobInterval = 5 * time.Minute

// Detached task timeouts. Audit writes run past request cancellation.
const (
	DetachedTaskTimeout = 10 * time.Second
	AuditWriteTimeout   = 5 * time.Second
)

// Upper bound on a shared security policy read
const PolicyLoadTimeout = 5 * time.Second

// Default rate limiting, used when the policy snapshot carries no value
const DefaultRateLimitPerMin = 60

// Admin session lifetime
const AdminSessionTTL = 24 * time.Hour

// Per-IP ceiling on the game API, applied before credential verification
const IPRateLimitPerMin = 600
