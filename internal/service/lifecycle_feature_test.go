package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cucumber/godog"

	"github.com/iliyamo/ticket-reservation-engine/internal/model"
	"github.com/iliyamo/ticket-reservation-engine/internal/pricing"
)

// errorsByMessage lets scenarios name domain errors by their text.
var errorsByMessage = map[string]error{}

func init() {
	for _, e := range []error{
		ErrInsufficientInventory, ErrPromotionInvalid, ErrNoApplicableRule,
		ErrReservationExpired, ErrAlreadyProcessed, ErrNotOwner,
		ErrTransferAlreadyPending, ErrTransferExpired, ErrTransferNotFound,
		ErrNotTransferable, ErrBadSignature, ErrAlreadyUsed, ErrWrongEvent,
		ErrCredentialSuperseded, ErrNotFound, ErrInvalidRequest,
	} {
		errorsByMessage[e.Error()] = e
	}
}

type lifecycleContext struct {
	t        *testing.T
	h        *harness
	areas    map[string]model.Area
	quote    pricing.Decision
	res      model.Reservation
	err      error
	result   string
	issued   []model.Credential
	previous map[int]model.Credential
	current  map[int]model.Credential
	transfer model.Transfer
}

func (c *lifecycleContext) reset() {
	c.h = newHarness(c.t)
	c.areas = map[string]model.Area{}
	c.quote = pricing.Decision{}
	c.res = model.Reservation{}
	c.err = nil
	c.result = ""
	c.issued = nil
	c.previous = map[int]model.Credential{}
	c.current = map[int]model.Credential{}
	c.transfer = model.Transfer{}
}

func (c *lifecycleContext) eventHasArea(eventID int, name string, base, fee, units int) error {
	c.areas[name] = c.h.area(uint64(eventID), name, fmt.Sprint(base), fmt.Sprint(fee), units)
	return nil
}

func (c *lifecycleContext) percentageStage(value int, name string) error {
	a, ok := c.areas[name]
	if !ok {
		return fmt.Errorf("unknown area %q", name)
	}
	percentStage(c.h, a.EventID, fmt.Sprint(value), 100, a.ID)
	return nil
}

func (c *lifecycleContext) quoteUnits(quantity int, name string) error {
	var err error
	c.quote, err = c.h.reservations.QuotePrice(context.Background(), c.areas[name].ID, quantity, time.Time{})
	return err
}

func (c *lifecycleContext) quotedUnitPrice(want int) error {
	if !c.quote.UnitPrice.Equal(dec(fmt.Sprint(want))) {
		return fmt.Errorf("expected unit price %d, got %s", want, c.quote.UnitPrice)
	}
	return nil
}

func (c *lifecycleContext) quotedTotal(quantity, want int) error {
	c.quote.Quantity = quantity
	got := pricing.Quote{Decisions: []pricing.Decision{c.quote}}.Total()
	if !got.Equal(dec(fmt.Sprint(want))) {
		return fmt.Errorf("expected total %d, got %s", want, got)
	}
	return nil
}

func (c *lifecycleContext) reserve(user, quantity int, name string) error {
	c.res, c.err = c.h.reservations.Create(context.Background(), CreateReservationInput{
		UserID: uint64(user),
		Lines:  []pricing.Line{{AreaID: c.areas[name].ID, Quantity: quantity}},
	})
	return nil
}

func (c *lifecycleContext) holds(user, quantity int, name string) error {
	_, err := c.h.reservations.Create(context.Background(), CreateReservationInput{
		UserID: uint64(user),
		Lines:  []pricing.Line{{AreaID: c.areas[name].ID, Quantity: quantity}},
	})
	return err
}

func (c *lifecycleContext) requestFails(msg string) error {
	want, ok := errorsByMessage[msg]
	if !ok {
		return fmt.Errorf("unknown error %q", msg)
	}
	if !errors.Is(c.err, want) {
		return fmt.Errorf("expected %q, got %v", msg, c.err)
	}
	return nil
}

func (c *lifecycleContext) availableUnits(name string, want int) error {
	if got := c.h.store.UnitsByStatus(c.areas[name].ID, model.UnitAvailable); got != want {
		return fmt.Errorf("expected %d available units, got %d", want, got)
	}
	return nil
}

func (c *lifecycleContext) gatewayReports(outcome, eventID string) error {
	if c.err != nil {
		return fmt.Errorf("no reservation to pay: %w", c.err)
	}
	before := c.h.notifier.count()
	var err error
	c.result, err = c.h.payments.Handle(context.Background(), GatewayEvent{EventID: eventID, Outcome: outcome, ReservationID: c.res.ID})
	if err != nil {
		return err
	}
	if c.h.notifier.count() > before {
		ev := c.h.notifier.events[len(c.h.notifier.events)-1]
		c.issued = c.issued[:0]
		for i, ic := range ev.Credentials {
			cred := model.Credential{ID: ic.CredentialID, ReservationUnitID: ic.ReservationUnitID, EventID: ev.EventID, Token: ic.Token}
			c.issued = append(c.issued, cred)
			c.current[i] = cred
		}
	}
	return nil
}

func (c *lifecycleContext) paymentResult(want string) error {
	if c.result != want {
		return fmt.Errorf("expected payment result %q, got %q", want, c.result)
	}
	return nil
}

func (c *lifecycleContext) credentialsIssued(n int) error {
	if len(c.issued) != n {
		return fmt.Errorf("expected %d credentials, got %d", n, len(c.issued))
	}
	return nil
}

func ordinal(word string) int {
	if word == "second" {
		return 1
	}
	return 0
}

func (c *lifecycleContext) offers(from int, which string, to int) error {
	cred := c.current[ordinal(which)]
	var err error
	c.transfer, err = c.h.transfers.Initiate(context.Background(), cred.ReservationUnitID, uint64(from), uint64(to))
	return err
}

func (c *lifecycleContext) accepts(user int) error {
	ru, cred, err := c.h.transfers.Accept(context.Background(), c.transfer.Token, uint64(user))
	if err != nil {
		return err
	}
	for i, cur := range c.current {
		if cur.ReservationUnitID == ru.ID {
			c.previous[i] = cur
			c.current[i] = cred
		}
	}
	return nil
}

func (c *lifecycleContext) credential(generation, which string) (model.Credential, error) {
	set := c.current
	if generation == "previous" {
		set = c.previous
	}
	cred, ok := set[ordinal(which)]
	if !ok {
		return model.Credential{}, fmt.Errorf("no %s credential for the %s ticket", generation, which)
	}
	return cred, nil
}

func (c *lifecycleContext) admitted(generation, which string, eventID int) error {
	cred, err := c.credential(generation, which)
	if err != nil {
		return err
	}
	_, err = c.h.creds.Validate(context.Background(), cred.Token, uint64(eventID), staffID)
	return err
}

func (c *lifecycleContext) validationFails(generation, which, msg string) error {
	cred, err := c.credential(generation, which)
	if err != nil {
		return err
	}
	_, c.err = c.h.creds.Validate(context.Background(), cred.Token, cred.EventID, staffID)
	return c.requestFails(msg)
}

func (c *lifecycleContext) validationFailsAt(generation, which string, eventID int, msg string) error {
	cred, err := c.credential(generation, which)
	if err != nil {
		return err
	}
	_, c.err = c.h.creds.Validate(context.Background(), cred.Token, uint64(eventID), staffID)
	return c.requestFails(msg)
}

func (c *lifecycleContext) minutesPass(n int) error {
	c.h.clock.Advance(time.Duration(n) * time.Minute)
	return nil
}

func (c *lifecycleContext) expirySweep() error {
	_, err := c.h.reservations.ExpireDue(context.Background(), 100)
	return err
}

func (c *lifecycleContext) reservationIs(status string) error {
	r, err := c.h.reservations.Get(context.Background(), c.res.ID)
	if err != nil {
		return err
	}
	if string(r.Status) != status {
		return fmt.Errorf("expected reservation %s, got %s", status, r.Status)
	}
	return nil
}

func initializeLifecycle(t *testing.T) func(*godog.ScenarioContext) {
	return func(ctx *godog.ScenarioContext) {
		lc := &lifecycleContext{t: t}

		ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
			lc.reset()
			return ctx, nil
		})

		ctx.Step(`^event (\d+) has an area "([^"]*)" priced (\d+) with a fee of (\d+) and (\d+) units$`, lc.eventHasArea)
		ctx.Step(`^an active percentage sale stage of (-?\d+) applies to "([^"]*)"$`, lc.percentageStage)
		ctx.Step(`^I quote (\d+) units? of "([^"]*)"$`, lc.quoteUnits)
		ctx.Step(`^the quoted unit price is (\d+)$`, lc.quotedUnitPrice)
		ctx.Step(`^the quoted total for (\d+) units is (\d+)$`, lc.quotedTotal)
		ctx.Step(`^user (\d+) holds (\d+) units? of "([^"]*)"$`, lc.holds)
		ctx.Step(`^user (\d+) reserves (\d+) units? of "([^"]*)"$`, lc.reserve)
		ctx.Step(`^the request fails with "([^"]*)"$`, lc.requestFails)
		ctx.Step(`^"([^"]*)" has (\d+) available units?$`, lc.availableUnits)
		ctx.Step(`^the gateway reports "([^"]*)" for the reservation as event "([^"]*)"$`, lc.gatewayReports)
		ctx.Step(`^the payment result is "([^"]*)"$`, lc.paymentResult)
		ctx.Step(`^(\d+) credentials are issued$`, lc.credentialsIssued)
		ctx.Step(`^user (\d+) offers the (first|second) ticket to user (\d+)$`, lc.offers)
		ctx.Step(`^user (\d+) accepts the offer$`, lc.accepts)
		ctx.Step(`^the (previous|current) credential of the (first|second) ticket is admitted at event (\d+)$`, lc.admitted)
		ctx.Step(`^the (previous|current) credential of the (first|second) ticket fails with "([^"]*)"$`, lc.validationFails)
		ctx.Step(`^the (previous|current) credential of the (first|second) ticket fails at event (\d+) with "([^"]*)"$`, lc.validationFailsAt)
		ctx.Step(`^(\d+) minutes pass$`, lc.minutesPass)
		ctx.Step(`^the expiry sweep runs$`, lc.expirySweep)
		ctx.Step(`^the reservation is "([^"]*)"$`, lc.reservationIs)
	}
}

func TestTicketLifecycleFeature(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: initializeLifecycle(t),
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			Strict:   true,
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
