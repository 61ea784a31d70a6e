package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fuomag9/creator-connect/internal/models"
)

const collectTimeout = 5 * time.Second

// ConnectionCollector exports platform connection counts, queried at scrape
// time. db must bypass row-level security.
type ConnectionCollector struct {
	db   *gorm.DB
	log  *zap.Logger
	desc *prometheus.Desc
}

// NewConnectionCollector creates the collector; register it on the same
// registry as New.
func NewConnectionCollector(db *gorm.DB, log *zap.Logger) *ConnectionCollector {
	return &ConnectionCollector{
		db:  db,
		log: log.Named("metrics"),
		desc: prometheus.NewDesc(
			"creator_connect_platform_connections",
			"Platform connections by platform and active state.",
			[]string{"platform", "active"}, nil,
		),
	}
}

func (c *ConnectionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *ConnectionCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	var rows []struct {
		Platform string
		IsActive bool
		Total    int64
	}
	err := c.db.WithContext(ctx).
		Model(&models.PlatformConnection{}).
		Select("platform, is_active, COUNT(*) AS total").
		Group("platform, is_active").
		Scan(&rows).Error
	if err != nil {
		c.log.Warn("failed to count platform connections", zap.Error(err))
		return
	}

	for _, row := range rows {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue,
			float64(row.Total), row.Platform, strconv.FormatBool(row.IsActive))
	}
}
