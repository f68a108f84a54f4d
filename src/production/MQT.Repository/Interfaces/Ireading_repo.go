package interfaces

import (
	"context"

	mqtmodels "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Models"
)

// ReadingSession is a store connection scoped to one operation. It must not
// be shared between goroutines and must be released after use.
type ReadingSession interface {
	Insert(ctx context.Context, reading mqtmodels.DeviceReading) (int64, error)
	Release() error
}

// ReadingRepository hands out scoped sessions for the ingestion path.
type ReadingRepository interface {
	Acquire(ctx context.Context) (ReadingSession, error)
}

// StoreMaintenance covers the whole-store operations run at startup or by
// an operator.
type StoreMaintenance interface {
	Bootstrap(ctx context.Context) error
	Backup() error
	Restore() error
	HealthCheck(ctx context.Context) bool
}
