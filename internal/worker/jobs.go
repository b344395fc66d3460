package worker

import (
	"context"

	"github.com/iliyamo/ticket-reservation-engine/internal/service"
)

// ExpireReservations releases up to batch active holds past their deadline.
func ExpireReservations(svc *service.ReservationService, batch int) Job {
	return Job{Name: "expire-reservations", Run: func(ctx context.Context) error {
		_, err := svc.ExpireDue(ctx, batch)
		return err
	}}
}

// ExpireTransfers marks pending transfers past their deadline expired.
func ExpireTransfers(svc *service.TransferService) Job {
	return Job{Name: "expire-transfers", Run: func(ctx context.Context) error {
		_, err := svc.ExpirePending(ctx)
		return err
	}}
}

// CheckConsistency quarantines units that disagree with their reservation.
func CheckConsistency(c *service.ConsistencyChecker, batch int) Job {
	return Job{Name: "consistency-check", Run: func(ctx context.Context) error {
		_, err := c.Run(ctx, batch)
		return err
	}}
}
