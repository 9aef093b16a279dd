package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ManuelReschke/billingkit/app/models"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// Archiver stores verified raw webhook bodies.
type Archiver interface {
	ArchiveWebhook(ctx context.Context, provider, eventID string, body []byte) (string, error)
}

// OutcomeRecorder counts webhook outcomes per provider.
type OutcomeRecorder interface {
	RecordWebhookOutcome(ctx context.Context, provider, outcome string) error
}

// Options tune a Service. Archiver and Outcomes are optional.
type Options struct {
	SiteURL          string
	WebhookLedger    bool
	RequireKnownPlan bool
	Archiver         Archiver
	Outcomes         OutcomeRecorder
}

// Service is the application facing billing entry point. It resolves the
// configured provider from the registry on every call.
type Service struct {
	provider   ProviderID
	registry   *Registry
	repo       Repository
	reconciler *Reconciler
	opts       Options
}

// NewService creates a billing service for the configured provider.
func NewService(provider ProviderID, registry *Registry, repo Repository, opts Options) *Service {
	return &Service{
		provider:   provider,
		registry:   registry,
		repo:       repo,
		reconciler: NewReconciler(provider, repo),
		opts:       opts,
	}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(provider ProviderID, registry *Registry, db *gorm.DB, opts Options) *Service {
	return NewService(provider, registry, NewRepository(db), opts)
}

// Provider returns the configured provider id.
func (s *Service) Provider() ProviderID {
	return s.provider
}

// CreateCheckoutSession validates the request, resolves the plan against the
// catalog when required, and starts a provider checkout.
func (s *Service) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error) {
	if err := Validate(params); err != nil {
		return nil, err
	}
	strategy, err := s.registry.Strategy(s.provider)
	if err != nil {
		return nil, err
	}

	plan, err := s.repo.FindActivePlan(string(s.provider), params.Plan.PriceID)
	switch {
	case err == nil:
		if !matchesCatalog(params.Plan, plan) {
			if s.opts.RequireKnownPlan {
				return nil, fmt.Errorf("%w: price %s does not belong to product %s (%s)", ErrPlanNotFound, params.Plan.PriceID, params.Plan.ProductID, params.Plan.Interval)
			}
			log.Warnf("[Billing] Price %s is cataloged as %s (%s), request named %s (%s)", params.Plan.PriceID, plan.ProductID, plan.BillingInterval, params.Plan.ProductID, params.Plan.Interval)
		}
		if params.Plan.TrialDays == nil && plan.TrialDays != nil {
			params.Plan.TrialDays = plan.TrialDays
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		if s.opts.RequireKnownPlan {
			return nil, fmt.Errorf("%w: price %s", ErrPlanNotFound, params.Plan.PriceID)
		}
	default:
		return nil, fmt.Errorf("lookup plan: %w", err)
	}

	session, err := strategy.CreateCheckoutSession(ctx, params)
	if err != nil {
		log.Errorf("[Billing] Checkout for account %s failed: %v", params.AccountID, err)
		return nil, err
	}
	log.Infof("[Billing] Checkout created for account %s (price %s)", params.AccountID, params.Plan.PriceID)
	return session, nil
}

// CreateBillingPortalSession opens the provider portal for the account's
// customer. Accounts without a customer fail with *CustomerNotFoundError.
func (s *Service) CreateBillingPortalSession(ctx context.Context, req BillingPortalRequest) (*BillingPortalSession, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	strategy, err := s.registry.Strategy(s.provider)
	if err != nil {
		return nil, err
	}

	customer, err := s.repo.FindCustomerByAccount(string(s.provider), req.AccountID)
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && customer.ProviderCustomerID == "") {
		return nil, &CustomerNotFoundError{AccountID: req.AccountID}
	}
	if err != nil {
		return nil, fmt.Errorf("lookup billing customer: %w", err)
	}

	return strategy.CreateBillingPortalSession(ctx, BillingPortalSessionParams{
		CustomerID: customer.ProviderCustomerID,
		ReturnURL:  s.portalReturnURL(req.Slug),
	})
}

func (s *Service) RetrieveCheckoutSession(ctx context.Context, params RetrieveCheckoutSessionParams) (*RetrievedCheckoutSession, error) {
	if err := Validate(params); err != nil {
		return nil, err
	}
	strategy, err := s.registry.Strategy(s.provider)
	if err != nil {
		return nil, err
	}
	return strategy.RetrieveCheckoutSession(ctx, params)
}

func (s *Service) CancelSubscription(ctx context.Context, params CancelSubscriptionParams) (*CancelSubscriptionResult, error) {
	if err := Validate(params); err != nil {
		return nil, err
	}
	strategy, err := s.registry.Strategy(s.provider)
	if err != nil {
		return nil, err
	}
	res, err := strategy.CancelSubscription(ctx, params)
	if err != nil {
		return nil, err
	}
	log.Infof("[Billing] Cancel requested for subscription %s/%s", s.provider, params.SubscriptionID)
	return res, nil
}

// GetSubscription returns the reconciled state of a subscription.
func (s *Service) GetSubscription(ctx context.Context, subscriptionID string) (*models.BillingSubscription, error) {
	_ = ctx
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return nil, fmt.Errorf("%w: subscription id is required", ErrInvalidRequest)
	}
	sub, err := s.repo.GetSubscription(string(s.provider), id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load subscription %s: %w", id, err)
	}
	return sub, nil
}

// ProcessWebhook verifies a delivery, records it in the webhook ledger when
// enabled, and dispatches it to the reconciler. Errors from the reconciler
// are returned unchanged so the caller can ask the provider to retry.
func (s *Service) ProcessWebhook(ctx context.Context, req WebhookRequest) (*WebhookOutcome, error) {
	handler, err := s.registry.WebhookHandler(s.provider)
	if err != nil {
		return nil, err
	}

	event, err := handler.VerifyWebhookSignature(ctx, req)
	if err != nil {
		s.recordOutcome(ctx, OutcomeRejected)
		return nil, err
	}
	eventID := event.ID
	if strings.TrimSpace(eventID) == "" {
		sum := sha256.Sum256(event.Raw)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}
	out := &WebhookOutcome{EventID: eventID, EventType: event.Type}

	var stored *models.BillingWebhookEvent
	if s.opts.WebhookLedger {
		created, rec, err := s.repo.CreateWebhookEventIfNotExists(&models.BillingWebhookEvent{
			Provider:          string(s.provider),
			ProviderEventID:   eventID,
			EventType:         event.Type,
			PayloadJSON:       string(event.Raw),
			ProviderCreatedAt: event.Created,
		})
		if err != nil {
			return nil, fmt.Errorf("persist webhook event: %w", err)
		}
		if !created && rec.IsSettled() {
			out.Duplicate = true
			s.recordOutcome(ctx, OutcomeDuplicate)
			return out, nil
		}
		stored = rec
	}

	handleErr := handler.HandleWebhookEvent(ctx, event, s.reconciler)

	if stored != nil {
		processingError := ""
		if handleErr != nil {
			processingError = handleErr.Error()
		}
		if err := s.repo.MarkWebhookProcessed(stored.ID, processingError); err != nil {
			log.Warnf("[Webhook] Could not mark event %s processed: %v", eventID, err)
		}
	}

	if handleErr != nil {
		log.Errorf("[Webhook] %s event %s (%s) failed: %v", s.provider, eventID, event.Type, handleErr)
		s.recordOutcome(ctx, OutcomeFailed)
		return out, handleErr
	}

	s.archive(ctx, eventID, event.Raw)
	if !handler.Handles(event.Type) {
		out.Ignored = true
		s.recordOutcome(ctx, OutcomeIgnored)
		return out, nil
	}
	s.recordOutcome(ctx, OutcomeProcessed)
	return out, nil
}

func (s *Service) portalReturnURL(slug string) string {
	base := strings.TrimRight(s.opts.SiteURL, "/")
	return base + "/home/" + url.PathEscape(strings.TrimSpace(slug)) + "/billing"
}

func (s *Service) archive(ctx context.Context, eventID string, body []byte) {
	if s.opts.Archiver == nil {
		return
	}
	key, err := s.opts.Archiver.ArchiveWebhook(ctx, string(s.provider), eventID, body)
	if err != nil {
		log.Warnf("[Archive] Could not archive webhook %s: %v", eventID, err)
		return
	}
	log.Debugf("[Archive] Webhook %s archived as %s", eventID, key)
}

func (s *Service) recordOutcome(ctx context.Context, outcome string) {
	if s.opts.Outcomes == nil {
		return
	}
	if err := s.opts.Outcomes.RecordWebhookOutcome(ctx, string(s.provider), outcome); err != nil {
		log.Warnf("[Webhook] Could not record outcome %s: %v", outcome, err)
	}
}
