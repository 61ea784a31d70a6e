package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const healthTimeout = 2 * time.Second

// HandlePrometheusMetrics exports metrics in Prometheus format
func HandlePrometheusMetrics(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// HealthCheck is a named dependency check
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// DatabaseCheck pings db
func DatabaseCheck(name string, db *gorm.DB) HealthCheck {
	return HealthCheck{
		Name: name,
		Check: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
}

// HandleHealth reports OK when every check passes, 503 otherwise
func HandleHealth(log *zap.Logger, checks ...HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		for _, check := range checks {
			if err := check.Check(ctx); err != nil {
				log.Warn("Health check failed", zap.String("check", check.Name), zap.Error(err))
				http.Error(w, check.Name+" unavailable", http.StatusServiceUnavailable)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}
