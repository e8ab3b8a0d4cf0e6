package cockroach

import (
	"time"

	apperrors "callrelay-backend/pkg/errors"
	"callrelay-backend/pkg/metrics"
)

// observe records the latency of one storage operation. A not-found result
// is an answer, not a failed query.
func observe(m *metrics.Metrics, operation string, start time.Time, err error) {
	if apperrors.IsNotFound(err) {
		err = nil
	}
	m.RecordDBQuery(operation, time.Since(start), err)
}
