package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrymomot/quotakit/pkg/subscription"
)

// HMACSignatureHeader carries "t=<unix>,v1=<hex hmac-sha256>".
const HMACSignatureHeader = "X-Webhook-Signature"

const maxClockSkew = time.Minute

// HMACProvider accepts already-normalized events signed with a shared
// secret. It is used by internal billing bridges and local development.
type HMACProvider struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

func NewHMAC(cfg Config) (*HMACProvider, error) {
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	return &HMACProvider{
		secret: []byte(cfg.WebhookSecret),
		maxAge: cfg.SignatureMaxAge,
		now:    time.Now,
	}, nil
}

type hmacPeriod struct {
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
}

type hmacEvent struct {
	ID                string            `json:"id"`
	Type              string            `json:"type"`
	OccurredAt        time.Time         `json:"occurred_at"`
	SubscriptionID    string            `json:"subscription_id"`
	CustomerID        string            `json:"customer_id"`
	PriceID           string            `json:"price_id"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	InitialInvoice    bool              `json:"initial_invoice"`
	Metadata          map[string]string `json:"metadata"`
	Period            *hmacPeriod       `json:"period"`
}

var hmacEventTypes = map[string]subscription.EventType{
	string(subscription.EventCheckoutCompleted):       subscription.EventCheckoutCompleted,
	string(subscription.EventSubscriptionUpdated):     subscription.EventSubscriptionUpdated,
	string(subscription.EventSubscriptionDeleted):     subscription.EventSubscriptionDeleted,
	string(subscription.EventInvoicePaymentSucceeded): subscription.EventInvoicePaymentSucceeded,
	string(subscription.EventInvoicePaymentFailed):    subscription.EventInvoicePaymentFailed,
}

func (p *HMACProvider) ParseEvent(_ context.Context, payload []byte, signature string) (*subscription.Event, error) {
	if err := p.verify(payload, signature); err != nil {
		return nil, signatureError(err)
	}

	var raw hmacEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, malformed(err)
	}

	ev := &subscription.Event{
		ID:                raw.ID,
		Type:              subscription.EventUnrecognized,
		ProviderType:      raw.Type,
		OccurredAt:        raw.OccurredAt.UTC(),
		SubscriptionID:    raw.SubscriptionID,
		CustomerID:        raw.CustomerID,
		PriceID:           raw.PriceID,
		Status:            mapStatus(raw.Status),
		CancelAtPeriodEnd: raw.CancelAtPeriodEnd,
		InitialInvoice:    raw.InitialInvoice,
		Metadata: subscription.Metadata{
			UserID:       metadataValue(raw.Metadata, "userId", "user_id"),
			Plan:         raw.Metadata["plan"],
			BillingCycle: metadataValue(raw.Metadata, "billingCycle", "billing_cycle"),
		},
	}
	if t, ok := hmacEventTypes[raw.Type]; ok {
		ev.Type = t
	}
	if raw.Period != nil {
		ev.Period = &subscription.Period{StartAt: raw.Period.StartAt, EndAt: raw.Period.EndAt}
	}
	return ev, nil
}

// FetchPeriod is unsupported; HMAC events must carry their period.
func (p *HMACProvider) FetchPeriod(context.Context, string) (*subscription.Period, error) {
	return nil, subscription.ErrPeriodUnavailable
}

func (p *HMACProvider) verify(payload []byte, header string) error {
	ts, sig, err := parseHMACHeader(header)
	if err != nil {
		return err
	}
	if p.maxAge > 0 {
		age := p.now().Sub(time.Unix(ts, 0))
		if age > p.maxAge {
			return fmt.Errorf("signature timestamp too old: %v", age)
		}
		if age < -maxClockSkew {
			return errors.New("signature timestamp is in the future")
		}
	}
	expected := computeHMAC(p.secret, ts, payload)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return errors.New("signature mismatch")
	}
	return nil
}

func parseHMACHeader(header string) (int64, string, error) {
	var (
		ts  int64
		sig string
	)
	for part := range strings.SplitSeq(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, "", fmt.Errorf("invalid signature timestamp: %w", err)
			}
			ts = n
		case "v1":
			sig = v
		}
	}
	if ts == 0 || sig == "" {
		return 0, "", errors.New("signature header must contain t and v1")
	}
	return ts, sig, nil
}

func computeHMAC(secret []byte, ts int64, payload []byte) string {
	h := hmac.New(sha256.New, secret)
	fmt.Fprintf(h, "%d.", ts)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// SignHMAC returns the signature header value for payload at ts.
func SignHMAC(secret string, payload []byte, ts time.Time) string {
	unix := ts.Unix()
	return "t=" + strconv.FormatInt(unix, 10) + ",v1=" + computeHMAC([]byte(secret), unix, payload)
}

