package billing

import (
	"context"
	"sync"
	"time"

	"github.com/ManuelReschke/billingkit/app/models"
	"gorm.io/gorm"
)

type memoryRepo struct {
	mu        sync.Mutex
	plans     map[string]*models.BillingPlan
	customers []*models.BillingCustomer
	subs      map[string]*models.BillingSubscription
	events    map[string]*models.BillingWebhookEvent
	nextID    uint
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		plans:  make(map[string]*models.BillingPlan),
		subs:   make(map[string]*models.BillingSubscription),
		events: make(map[string]*models.BillingWebhookEvent),
	}
}

func (r *memoryRepo) id() uint {
	r.nextID++
	return r.nextID
}

func (r *memoryRepo) FindActivePlan(provider, priceID string) (*models.BillingPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plans[provider+"/"+priceID]
	if !ok || !p.IsActive {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

// UpsertCustomer enforces the table's only unique key, (account_id, provider).
// The slice is kept in link order, most recent last.
func (r *memoryRepo) UpsertCustomer(customer *models.BillingCustomer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.customers {
		if c.AccountID == customer.AccountID && c.Provider == customer.Provider {
			c.ProviderCustomerID = customer.ProviderCustomerID
			if customer.Email != "" {
				c.Email = customer.Email
			}
			r.customers = append(append(r.customers[:i:i], r.customers[i+1:]...), c)
			*customer = *c
			return nil
		}
	}
	customer.ID = r.id()
	cp := *customer
	r.customers = append(r.customers, &cp)
	return nil
}

func (r *memoryRepo) FindCustomerByAccount(provider, accountID string) (*models.BillingCustomer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.customers {
		if c.Provider == provider && c.AccountID == accountID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memoryRepo) FindCustomerByProviderID(provider, providerCustomerID string) (*models.BillingCustomer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.customers) - 1; i >= 0; i-- {
		c := r.customers[i]
		if c.Provider == provider && c.ProviderCustomerID == providerCustomerID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memoryRepo) ApplySubscription(sub *models.BillingSubscription, items []models.BillingSubscriptionItem, decide SubscriptionDecision) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := sub.Provider + "/" + sub.ProviderSubscriptionID
	var existing *models.BillingSubscription
	if s, ok := r.subs[key]; ok {
		cp := *s
		existing = &cp
	}
	ok, err := decide(existing)
	if err != nil || !ok {
		return false, err
	}
	if existing != nil {
		sub.ID = existing.ID
		if sub.AccountID == "" {
			sub.AccountID = existing.AccountID
		}
		if sub.ProviderCustomerID == "" {
			sub.ProviderCustomerID = existing.ProviderCustomerID
		}
	} else {
		sub.ID = r.id()
	}
	stored := *sub
	stored.Items = append([]models.BillingSubscriptionItem(nil), items...)
	r.subs[key] = &stored
	return true, nil
}

func (r *memoryRepo) CancelSubscription(provider, providerSubscriptionID string, canceledAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := provider + "/" + providerSubscriptionID
	s, ok := r.subs[key]
	if !ok {
		r.subs[key] = &models.BillingSubscription{
			ID:                     r.id(),
			Provider:               provider,
			ProviderSubscriptionID: providerSubscriptionID,
			Status:                 models.BillingStatusCanceled,
			CanceledAt:             &canceledAt,
		}
		return nil
	}
	if s.IsCanceled() {
		return nil
	}
	s.Status = models.BillingStatusCanceled
	s.Active = false
	s.CanceledAt = &canceledAt
	return nil
}

func (r *memoryRepo) GetSubscription(provider, providerSubscriptionID string) (*models.BillingSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[provider+"/"+providerSubscriptionID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memoryRepo) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := event.Provider + "/" + event.ProviderEventID
	if e, ok := r.events[key]; ok {
		cp := *e
		return false, &cp, nil
	}
	event.ID = r.id()
	cp := *event
	r.events[key] = &cp
	return true, event, nil
}

func (r *memoryRepo) MarkWebhookProcessed(id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			now := time.Now()
			e.ProcessedAt = &now
			e.ProcessingError = processingError
			e.Attempts++
		}
	}
	return nil
}

func (r *memoryRepo) event(provider, eventID string) *models.BillingWebhookEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[provider+"/"+eventID]
}

// stubProvider is a scriptable Provider.
type stubProvider struct {
	id ProviderID

	checkoutCalls []CheckoutSessionParams
	portalCalls   []BillingPortalSessionParams
	checkoutErr   error

	verify  func(req WebhookRequest) (*VerifiedEvent, error)
	handle  func(ctx context.Context, event *VerifiedEvent, cb WebhookCallbacks) error
	handled map[string]bool
}

func (p *stubProvider) ID() ProviderID { return p.id }

func (p *stubProvider) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error) {
	p.checkoutCalls = append(p.checkoutCalls, params)
	if p.checkoutErr != nil {
		return nil, p.checkoutErr
	}
	return &CheckoutSession{CheckoutToken: "tok_" + params.AccountID}, nil
}

func (p *stubProvider) CreateBillingPortalSession(ctx context.Context, params BillingPortalSessionParams) (*BillingPortalSession, error) {
	p.portalCalls = append(p.portalCalls, params)
	return &BillingPortalSession{URL: "https://portal.example.com/" + params.CustomerID}, nil
}

func (p *stubProvider) RetrieveCheckoutSession(ctx context.Context, params RetrieveCheckoutSessionParams) (*RetrievedCheckoutSession, error) {
	return &RetrievedCheckoutSession{Status: CheckoutSessionExpired}, nil
}

func (p *stubProvider) CancelSubscription(ctx context.Context, params CancelSubscriptionParams) (*CancelSubscriptionResult, error) {
	return &CancelSubscriptionResult{Success: true}, nil
}

func (p *stubProvider) VerifyWebhookSignature(ctx context.Context, req WebhookRequest) (*VerifiedEvent, error) {
	return p.verify(req)
}

func (p *stubProvider) HandleWebhookEvent(ctx context.Context, event *VerifiedEvent, cb WebhookCallbacks) error {
	if p.handle == nil {
		return nil
	}
	return p.handle(ctx, event, cb)
}

func (p *stubProvider) Handles(eventType string) bool {
	return p.handled[eventType]
}

type countingOutcomes struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingOutcomes) RecordWebhookOutcome(ctx context.Context, provider, outcome string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = make(map[string]int)
	}
	o.counts[provider+":"+outcome]++
	return nil
}

type recordingArchiver struct {
	keys []string
}

func (a *recordingArchiver) ArchiveWebhook(ctx context.Context, provider, eventID string, body []byte) (string, error) {
	key := provider + "/" + eventID
	a.keys = append(a.keys, key)
	return key, nil
}
