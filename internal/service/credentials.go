package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"

	"github.com/iliyamo/ticket-reservation-engine/internal/clock"
	"github.com/iliyamo/ticket-reservation-engine/internal/model"
	"github.com/iliyamo/ticket-reservation-engine/internal/repository"
)

const (
	tokenPrefix = "WT1"
	sigHexLen   = 32
)

// CredentialService issues and validates the signed single-use entry
// credentials bound to reservation units.
type CredentialService struct {
	store CredentialStore
	clock clock.Clock
	log   *zap.Logger
	key   []byte
}

// NewCredentialService derives the signing key from secret.  The secret
// must be non-empty.
func NewCredentialService(store CredentialStore, secret string, clk clock.Clock, logger *zap.Logger) (*CredentialService, error) {
	if secret == "" {
		return nil, errors.New("credential secret is empty")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte("ticket-credential-signing")), key); err != nil {
		return nil, fmt.Errorf("derive credential key: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CredentialService{store: store, clock: clk, log: logger, key: key}, nil
}

// claims is the signed content of a credential token.
type claims struct {
	ID                string
	ReservationUnitID uint64
	EventID           uint64
	IssuedAt          int64
}

func (c claims) payload() string {
	return fmt.Sprintf("%s.%d.%d.%d", c.ID, c.ReservationUnitID, c.EventID, c.IssuedAt)
}

func (s *CredentialService) sign(payload string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))[:sigHexLen]
}

// encode renders WT1.<id>.<reservation unit>.<event>.<issued unix>.<sig>.
func (s *CredentialService) encode(c claims) string {
	p := c.payload()
	return tokenPrefix + "." + p + "." + s.sign(p)
}

// decode parses and authenticates a token.
func (s *CredentialService) decode(token string) (claims, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 6 || parts[0] != tokenPrefix {
		return claims{}, fmt.Errorf("%w: malformed token", ErrBadSignature)
	}
	ru, err1 := strconv.ParseUint(parts[2], 10, 64)
	ev, err2 := strconv.ParseUint(parts[3], 10, 64)
	iat, err3 := strconv.ParseInt(parts[4], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return claims{}, fmt.Errorf("%w: malformed token", ErrBadSignature)
	}
	c := claims{ID: parts[1], ReservationUnitID: ru, EventID: ev, IssuedAt: iat}
	want := s.sign(c.payload())
	if !hmac.Equal([]byte(want), []byte(parts[5])) {
		return claims{}, ErrBadSignature
	}
	return c, nil
}

// issue creates a fresh credential for ru.  It must run inside the
// caller's transaction.
func (s *CredentialService) issue(ctx context.Context, ru model.ReservationUnit) (model.Credential, error) {
	now := s.clock.Now()
	c := claims{
		ID:                uuid.NewString(),
		ReservationUnitID: ru.ID,
		EventID:           ru.EventID,
		IssuedAt:          now.Unix(),
	}
	cred := model.Credential{
		ID:                c.ID,
		ReservationUnitID: ru.ID,
		EventID:           ru.EventID,
		Token:             s.encode(c),
		IssuedAt:          time.Unix(c.IssuedAt, 0).UTC(),
	}
	if err := s.store.InsertCredential(ctx, cred); err != nil {
		return model.Credential{}, fmt.Errorf("insert credential: %w", err)
	}
	return cred, nil
}

// Validate checks token for entry to expectedEvent and consumes it.  Only
// one concurrent caller can ever succeed for a given credential.
func (s *CredentialService) Validate(ctx context.Context, token string, expectedEvent, staffID uint64) (model.Credential, error) {
	c, err := s.decode(token)
	if err != nil {
		return model.Credential{}, err
	}
	if c.EventID != expectedEvent {
		return model.Credential{}, fmt.Errorf("%w: credential is for event %d", ErrWrongEvent, c.EventID)
	}

	now := s.clock.Now()
	var cred model.Credential
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		cur, err := s.store.GetCredential(ctx, c.ID)
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: unknown credential", ErrBadSignature)
		}
		if err != nil {
			return err
		}
		if cur.Token != token || cur.ReservationUnitID != c.ReservationUnitID {
			return fmt.Errorf("%w: token does not match credential", ErrBadSignature)
		}
		if cur.Superseded {
			return ErrCredentialSuperseded
		}
		won, err := s.store.MarkCredentialUsed(ctx, cur.ID, now)
		if err != nil {
			return err
		}
		if !won {
			again, err := s.store.GetCredential(ctx, cur.ID)
			if err != nil {
				return err
			}
			if again.Superseded {
				return ErrCredentialSuperseded
			}
			return ErrAlreadyUsed
		}

		ru, err := s.store.GetReservationUnit(ctx, cur.ReservationUnitID, true)
		if err != nil {
			return err
		}
		if err := s.moveUnit(ctx, ru, model.RUUsed, &staffID, "entry validated"); err != nil {
			return err
		}
		cur.Used = true
		cur.UsedAt = &now
		cred = cur
		return nil
	})
	if err != nil {
		return model.Credential{}, err
	}
	s.log.Info("credential validated",
		zap.String("credential_id", cred.ID),
		zap.Uint64("reservation_unit_id", cred.ReservationUnitID),
		zap.Uint64("event_id", cred.EventID),
		zap.Uint64("staff_id", staffID),
	)
	return cred, nil
}

// Reset clears the used flag of a unit's current credential.  It is a
// privileged operation and always leaves an audit row.
func (s *CredentialService) Reset(ctx context.Context, reservationUnitID, operatorID uint64, reason string) (model.Credential, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "operator reset"
	}
	var cred model.Credential
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		ru, err := s.store.GetReservationUnit(ctx, reservationUnitID, true)
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("reservation unit %d: %w", reservationUnitID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		cur, err := s.store.GetActiveCredential(ctx, ru.ID)
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("reservation unit %d has no credential: %w", ru.ID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if !cur.Used || ru.Status != model.RUUsed {
			return fmt.Errorf("%w: credential is not used", ErrInvalidRequest)
		}
		ok, err := s.store.ResetCredential(ctx, cur.ID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyProcessed
		}
		back := model.RUConfirmed
		if ru.OriginalUserID != nil {
			back = model.RUTransferred
		}
		if err := s.moveUnit(ctx, ru, back, &operatorID, reason); err != nil {
			return err
		}
		cur.Used = false
		cur.UsedAt = nil
		cred = cur
		return nil
	})
	if err != nil {
		return model.Credential{}, err
	}
	s.log.Warn("credential reset",
		zap.String("credential_id", cred.ID),
		zap.Uint64("reservation_unit_id", reservationUnitID),
		zap.Uint64("operator_id", operatorID),
		zap.String("reason", reason),
	)
	return cred, nil
}

// CheckInStats reports how many of an event's tickets were validated.
func (s *CredentialService) CheckInStats(ctx context.Context, eventID uint64) (model.CheckInStats, error) {
	st, err := s.store.CheckInStats(ctx, eventID)
	if err != nil {
		return model.CheckInStats{}, err
	}
	st.EventID = eventID
	if st.TotalTickets > 0 {
		pct := float64(st.CheckedIn) / float64(st.TotalTickets) * 100
		st.CheckInPercentage = float64(int64(pct*100+0.5)) / 100
	}
	return st, nil
}

// moveUnit transitions a reservation unit and its unit together and
// appends the status history row.
func (s *CredentialService) moveUnit(ctx context.Context, ru model.ReservationUnit, to model.ReservationUnitStatus, actor *uint64, reason string) error {
	ok, err := s.store.UpdateReservationUnitStatus(ctx, ru.ID, ru.Status, to)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("reservation unit %d changed concurrently: %w", ru.ID, ErrAlreadyProcessed)
	}
	if _, err := s.store.SetUnitsStatus(ctx, []uint64{ru.UnitID}, unitStatusFor(ru.Status), unitStatusFor(to)); err != nil {
		return err
	}
	return s.store.InsertStatusChange(ctx, model.UnitStatusChange{
		ReservationUnitID: ru.ID,
		FromStatus:        string(ru.Status),
		ToStatus:          string(to),
		ActorUserID:       actor,
		Reason:            reason,
		CreatedAt:         s.clock.Now(),
	})
}

// unitStatusFor maps a reservation unit state to the unit state it implies.
func unitStatusFor(s model.ReservationUnitStatus) model.UnitStatus {
	switch s {
	case model.RUReserved:
		return model.UnitReserved
	case model.RUConfirmed:
		return model.UnitConfirmed
	case model.RUUsed:
		return model.UnitUsed
	case model.RUTransferred:
		return model.UnitTransferred
	default:
		return model.UnitAvailable
	}
}
