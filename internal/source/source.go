// Package source delivers new schedule exports to the ingestor: files dropped
// into an inbox directory and an optional published URL.
package source

import (
	"context"

	"tariffd/internal/model"
)

// Ingester is satisfied by *schedule.Ingestor.
type Ingester interface {
	IngestFile(path string) (model.ScheduleMap, error)
}

// Source is polled by the sensor on the check schedule. Check reports whether
// a new schedule was stored.
type Source interface {
	Name() string
	Check(ctx context.Context) (bool, error)
}
