package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	apperrors "callrelay-backend/pkg/errors"
	"callrelay-backend/pkg/logger"
)

// poolUsageThreshold is the share of acquired connections above which requests are shed
const poolUsageThreshold = 0.9

// DBPoolLimiter sheds REST requests while the CockroachDB pool is exhausted
type DBPoolLimiter struct {
	pool *pgxpool.Pool
}

// NewDBPoolLimiter creates a new database pool limiter
func NewDBPoolLimiter(pool *pgxpool.Pool) *DBPoolLimiter {
	return &DBPoolLimiter{pool: pool}
}

// Middleware returns a Gin middleware for database connection pool protection
func (dpl *DBPoolLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if usage := dpl.Usage(); usage >= poolUsageThreshold {
			stats := dpl.pool.Stat()
			logger.FromContext(c.Request.Context()).Warn("Database connection pool exhausted",
				zap.Int32("max_conns", stats.MaxConns()),
				zap.Int32("acquired_conns", stats.AcquiredConns()),
				zap.Float64("pool_usage", usage))
			abortWith(c, apperrors.DependencyUnavailableError("database", nil))
			return
		}
		c.Next()
	}
}

// Usage returns the share of pool connections currently acquired
func (dpl *DBPoolLimiter) Usage() float64 {
	stats := dpl.pool.Stat()
	if stats.MaxConns() == 0 {
		return 0
	}
	return float64(stats.AcquiredConns()) / float64(stats.MaxConns())
}
