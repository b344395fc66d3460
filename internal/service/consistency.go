package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/iliyamo/ticket-reservation-engine/internal/model"
)

// ConsistencyChecker quarantines units whose status disagrees with the
// reservation that holds them, so they are never sold while inconsistent.
type ConsistencyChecker struct {
	store ConsistencyStore
	log   *zap.Logger
}

func NewConsistencyChecker(store ConsistencyStore, logger *zap.Logger) *ConsistencyChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsistencyChecker{store: store, log: logger}
}

// Run inspects up to limit inconsistent units and quarantines each one.
// It returns the number of units quarantined.
func (c *ConsistencyChecker) Run(ctx context.Context, limit int) (int, error) {
	found, err := c.store.FindInconsistentUnits(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("find inconsistent units: %w", err)
	}
	quarantined := 0
	for _, m := range found {
		reason := describeMismatch(m)
		var ok bool
		err := c.store.WithTx(ctx, func(ctx context.Context) error {
			var err error
			ok, err = c.store.QuarantineUnit(ctx, m.UnitID, m.UnitStatus, reason)
			return err
		})
		if err != nil {
			return quarantined, fmt.Errorf("quarantine unit %d: %w", m.UnitID, err)
		}
		if !ok {
			continue
		}
		quarantined++
		c.log.Error("unit quarantined",
			zap.Uint64("unit_id", m.UnitID),
			zap.String("unit_status", string(m.UnitStatus)),
			zap.String("reason", reason),
		)
	}
	return quarantined, nil
}

func describeMismatch(m model.UnitMismatch) string {
	if m.ReservationID == nil {
		return fmt.Sprintf("unit is %s without a reservation", m.UnitStatus)
	}
	status := "unknown"
	if m.ReservationStatus != nil {
		status = string(*m.ReservationStatus)
	}
	return fmt.Sprintf("unit is %s but reservation %d is %s", m.UnitStatus, *m.ReservationID, status)
}
