// Package billing applies Stripe subscription events to user profiles. It
// is the only writer of the profile billing fields.
package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"homeproject-backend/internal/errs"
	"homeproject-backend/internal/metrics"
	"homeproject-backend/internal/models"
	"homeproject-backend/internal/store"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// Store is the slice of persistence the processor writes.
type Store interface {
	LinkCustomer(ctx context.Context, userID, customerID, subscriptionID string) error
	UpdateSubscription(ctx context.Context, customerID string, upd store.SubscriptionUpdate) (*models.Profile, error)
}

// Prices maps Stripe price ids to tiers.
type Prices struct {
	Casual string
	Pro    string
}

type Processor struct {
	store  Store
	secret string
	prices Prices
	logger zerolog.Logger
}

func NewProcessor(st Store, secret string, prices Prices, logger zerolog.Logger) *Processor {
	return &Processor{
		store:  st,
		secret: secret,
		prices: prices,
		logger: logger.With().Str("component", "billing").Logger(),
	}
}

// Process verifies payload against the Stripe-Signature header and applies
// the event. It returns the event type so callers can log it.
func (p *Processor) Process(ctx context.Context, payload []byte, signature string) (stripe.EventType, error) {
	if p.secret == "" {
		return "", errs.Precondition("stripe webhook secret is not configured")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		metrics.BillingEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		return "", &errs.Error{Kind: errs.ErrValidation, Message: ErrInvalidSignature.Error(), Cause: err}
	}

	err = p.Handle(ctx, event)
	outcome := "applied"
	switch {
	case errors.Is(err, errIgnored):
		outcome, err = "ignored", nil
	case err != nil:
		outcome = "failed"
	}
	metrics.BillingEventsTotal.WithLabelValues(string(event.Type), outcome).Inc()
	return event.Type, err
}

var errIgnored = errors.New("event ignored")

// Handle applies an already verified event.
func (p *Processor) Handle(ctx context.Context, event stripe.Event) error {
	log := p.logger.With().Str("event_id", event.ID).Str("event_type", string(event.Type)).Logger()
	if event.Data == nil {
		return errs.Validation("event %s has no data", event.ID)
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return errs.Validation("failed to parse checkout session: %v", err)
		}
		return p.checkoutCompleted(ctx, log, &session)

	case stripe.EventTypeCustomerSubscriptionCreated, stripe.EventTypeCustomerSubscriptionUpdated:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return errs.Validation("failed to parse subscription: %v", err)
		}
		return p.applySubscription(ctx, log, &sub, p.TierFor(&sub))

	case stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return errs.Validation("failed to parse subscription: %v", err)
		}
		return p.applySubscription(ctx, log, &sub, models.TierFree)
	}

	log.Debug().Msg("ignoring stripe event")
	return errIgnored
}

func (p *Processor) checkoutCompleted(ctx context.Context, log zerolog.Logger, session *stripe.CheckoutSession) error {
	userID := session.ClientReferenceID
	if userID == "" {
		log.Warn().Str("session_id", session.ID).Msg("checkout session has no client reference id")
		return errIgnored
	}
	if session.Customer == nil || session.Customer.ID == "" {
		return errs.Validation("checkout session %s has no customer", session.ID)
	}
	subscriptionID := ""
	if session.Subscription != nil {
		subscriptionID = session.Subscription.ID
	}

	if err := p.store.LinkCustomer(ctx, userID, session.Customer.ID, subscriptionID); err != nil {
		return errs.Storage(err, "failed to link stripe customer")
	}
	log.Info().
		Str("user_id", userID).
		Str("customer_id", session.Customer.ID).
		Str("subscription_id", subscriptionID).
		Msg("stripe customer linked")
	return nil
}

func (p *Processor) applySubscription(ctx context.Context, log zerolog.Logger, sub *stripe.Subscription, tier models.Tier) error {
	if sub.Customer == nil || sub.Customer.ID == "" {
		return errs.Validation("subscription %s has no customer", sub.ID)
	}

	upd := store.SubscriptionUpdate{
		SubscriptionID: sub.ID,
		Status:         string(sub.Status),
		Tier:           tier,
	}
	if sub.CurrentPeriodEnd > 0 {
		upd.CurrentPeriodEnd = sql.NullTime{Time: time.Unix(sub.CurrentPeriodEnd, 0).UTC(), Valid: true}
	}

	profile, err := p.store.UpdateSubscription(ctx, sub.Customer.ID, upd)
	if errors.Is(err, errs.ErrNotFound) {
		// Subscription events can arrive before checkout.session.completed.
		log.Warn().Str("customer_id", sub.Customer.ID).Msg("no profile linked to stripe customer yet")
		return err
	}
	if err != nil {
		return errs.Storage(err, "failed to update subscription")
	}

	log.Info().
		Str("user_id", profile.UserID).
		Str("tier", string(tier)).
		Str("status", string(sub.Status)).
		Msg("subscription applied")
	return nil
}

// TierFor maps a subscription to a tier. Only active or trialing
// subscriptions grant a paid tier. The price id wins over metadata.tier.
func (p *Processor) TierFor(sub *stripe.Subscription) models.Tier {
	if sub.Status != stripe.SubscriptionStatusActive && sub.Status != stripe.SubscriptionStatusTrialing {
		return models.TierFree
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil || item.Price == nil {
				continue
			}
			switch item.Price.ID {
			case "":
			case p.prices.Pro:
				return models.TierPro
			case p.prices.Casual:
				return models.TierCasual
			}
		}
	}
	if tier, ok := models.ParseTier(sub.Metadata["tier"]); ok {
		return tier
	}
	return models.TierFree
}
