package lemonsqueezy

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	ls "github.com/NdoleStudio/lemonsqueezy-go"
)

func newAPIClient(cfg Config) *ls.Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	opts := []ls.Option{
		ls.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		ls.WithSigningSecret(cfg.WebhookSecret),
		ls.WithHTTPClient(httpClient),
	}
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		opts = append(opts, ls.WithBaseURL(base))
	}
	return ls.New(opts...)
}

// callError normalizes an SDK result into an error and the HTTP status.
// Non 2xx answers are errors even when the SDK decoded them without one.
func callError(resp *ls.Response, err error) (int, error) {
	status := 0
	if resp != nil && resp.HTTPResponse != nil {
		status = resp.HTTPResponse.StatusCode
	}
	if err == nil && (status < 200 || status >= 300) && status != 0 {
		err = fmt.Errorf("lemon squeezy api answered status %d", status)
	}
	return status, err
}

// decodeResource re-reads an SDK resource into the subset of fields used
// here.
func decodeResource(data any, out any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

type checkoutResource struct {
	ID         string `json:"id"`
	Attributes struct {
		URL          string     `json:"url"`
		ExpiresAt    *time.Time `json:"expires_at"`
		CheckoutData struct {
			Email string `json:"email"`
		} `json:"checkout_data"`
	} `json:"attributes"`
}

type customerResource struct {
	ID         string `json:"id"`
	Attributes struct {
		Email string `json:"email"`
		URLs  struct {
			CustomerPortal string `json:"customer_portal"`
		} `json:"urls"`
	} `json:"attributes"`
}

type subscriptionObject struct {
	ID         string                 `json:"id"`
	Attributes subscriptionAttributes `json:"attributes"`
}

type subscriptionAttributes struct {
	StoreID               int64                  `json:"store_id"`
	CustomerID            int64                  `json:"customer_id"`
	ProductID             int64                  `json:"product_id"`
	VariantID             int64                  `json:"variant_id"`
	UserEmail             string                 `json:"user_email"`
	Status                string                 `json:"status"`
	Cancelled             bool                   `json:"cancelled"`
	TrialEndsAt           *time.Time             `json:"trial_ends_at"`
	RenewsAt              *time.Time             `json:"renews_at"`
	EndsAt                *time.Time             `json:"ends_at"`
	CreatedAt             time.Time              `json:"created_at"`
	UpdatedAt             time.Time              `json:"updated_at"`
	FirstSubscriptionItem *subscriptionItemAttrs `json:"first_subscription_item"`
}

type subscriptionItemAttrs struct {
	ID       int64 `json:"id"`
	PriceID  int64 `json:"price_id"`
	Quantity int64 `json:"quantity"`
}

// setTime treats the zero time the SDK emits for null timestamps as unset.
func setTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
