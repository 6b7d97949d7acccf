package cassandra

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"vidlink-backend/internal/domain"
)

// MetricsRepository stores quality telemetry samples in Cassandra. Samples
// are write-heavy fire-and-forget time series partitioned by call.
type MetricsRepository struct {
	session *gocql.Session
}

// NewMetricsRepository creates a new MetricsRepository
func NewMetricsRepository(session *gocql.Session) *MetricsRepository {
	return &MetricsRepository{session: session}
}

// Save inserts one quality sample
func (r *MetricsRepository) Save(sample *domain.QualityMetricsSample) error {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO call_quality_metrics (
			call_id, user_id, sampled_at, bandwidth_kbps, latency_ms,
			packet_loss_percent, video_quality, audio_quality
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := r.session.Query(query,
		sample.CallID,
		sample.UserID,
		sample.Timestamp,
		sample.BandwidthKbps,
		sample.LatencyMs,
		sample.PacketLossPct,
		sample.VideoQuality,
		sample.AudioQuality,
	).Exec()

	if err != nil {
		return fmt.Errorf("failed to save quality sample: %w", err)
	}

	return nil
}

// RecentByCall retrieves the latest samples for a call, newest first
func (r *MetricsRepository) RecentByCall(callID uuid.UUID, limit int) ([]*domain.QualityMetricsSample, error) {
	query := `
		SELECT call_id, user_id, sampled_at, bandwidth_kbps, latency_ms,
		       packet_loss_percent, video_quality, audio_quality
		FROM call_quality_metrics
		WHERE call_id = ?
		ORDER BY sampled_at DESC
		LIMIT ?
	`

	iter := r.session.Query(query, callID, limit).Iter()

	var samples []*domain.QualityMetricsSample
	for {
		s := &domain.QualityMetricsSample{}
		if !iter.Scan(
			&s.CallID,
			&s.UserID,
			&s.Timestamp,
			&s.BandwidthKbps,
			&s.LatencyMs,
			&s.PacketLossPct,
			&s.VideoQuality,
			&s.AudioQuality,
		) {
			break
		}
		samples = append(samples, s)
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to read quality samples: %w", err)
	}

	return samples, nil
}
