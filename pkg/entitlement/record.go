package entitlement

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/quotakit/pkg/plans"
)

// Status mirrors the provider-side subscription state.
type Status string

const (
	StatusInactive Status = "inactive"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// ParseStatus validates a stored status value.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusInactive, StatusActive, StatusPastDue, StatusCanceled:
		return st, nil
	}
	return "", errors.Join(ErrInvalidRecord, fmt.Errorf("unknown subscription status %q", s))
}

// Resource is a metered action type.
type Resource string

const (
	ResourceImage Resource = "image"
	ResourceText  Resource = "text"
)

// ParseResource accepts singular and plural forms.
func ParseResource(s string) (Resource, error) {
	switch strings.ToLower(s) {
	case "image", "images":
		return ResourceImage, nil
	case "text", "texts":
		return ResourceText, nil
	}
	return "", errors.Join(ErrInvalidResource, fmt.Errorf("unknown resource %q", s))
}

// Subscription is the provider-synchronized half of a record.
// Empty strings stand for absent identifiers.
type Subscription struct {
	Plan           plans.Plan
	Status         Status
	SubscriptionID string
	CustomerID     string
	BillingCycle   plans.Cycle
	StartAt        *time.Time
	EndAt          *time.Time
}

// Validate checks the cross-field rules of the subscription state.
func (s Subscription) Validate() error {
	if _, err := plans.ParsePlan(string(s.Plan)); err != nil {
		return errors.Join(ErrInvalidRecord, err)
	}
	if _, err := ParseStatus(string(s.Status)); err != nil {
		return err
	}
	if s.Status == StatusActive && (s.SubscriptionID == "" || s.CustomerID == "") {
		return errors.Join(ErrInvalidRecord, errors.New("active subscription requires subscription and customer ids"))
	}
	if s.BillingCycle != "" {
		if _, err := plans.ParseCycle(string(s.BillingCycle)); err != nil {
			return errors.Join(ErrInvalidRecord, err)
		}
	}
	return nil
}

// Record is the per-user entitlement row.
type Record struct {
	UserID uuid.UUID
	Subscription

	TokensImages plans.Quota
	TokensText   plans.Quota
	ResetAt      time.Time

	LastEventAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Quota returns the effective allowance for a resource.
// Pro is unlimited regardless of the stored counters.
func (r Record) Quota(res Resource) plans.Quota {
	if r.Plan == plans.PlanPro {
		return plans.Unlimited()
	}
	if res == ResourceImage {
		return r.TokensImages
	}
	return r.TokensText
}

// HasQuota reports whether one action of the resource may be consumed.
func (r Record) HasQuota(res Resource) bool {
	return r.Quota(res).Available()
}

// Remaining returns the effective allowances of every resource.
func (r Record) Remaining() plans.Quotas {
	return plans.Quotas{Images: r.Quota(ResourceImage), Text: r.Quota(ResourceText)}
}

// ResetDue reports whether counters must be refilled before use.
// Pro records are never metered, so they are never due.
func (r Record) ResetDue(now time.Time) bool {
	return r.Plan != plans.PlanPro && !now.Before(r.ResetAt)
}

// NextReset returns the first instant of the month following t, in UTC.
func NextReset(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

// Reset is a full counter refill.
type Reset struct {
	Quotas  plans.Quotas
	ResetAt time.Time
}

// Change is a webhook-driven transition of one record.
// A nil Reset keeps the stored counters. Watermark is the provider event
// time; stores reject changes older than the stored watermark.
type Change struct {
	Subscription Subscription
	Reset        *Reset
	Watermark    time.Time
}

func (c Change) apply(r Record, now time.Time) Record {
	r.Subscription = c.Subscription
	if c.Reset != nil {
		r.TokensImages = c.Reset.Quotas.Images
		r.TokensText = c.Reset.Quotas.Text
		r.ResetAt = c.Reset.ResetAt
	}
	w := c.Watermark
	r.LastEventAt = &w
	r.UpdatedAt = now
	return r
}

// Stale reports whether the change is older than what the record has seen.
func (c Change) Stale(r Record) bool {
	return r.LastEventAt != nil && c.Watermark.Before(*r.LastEventAt)
}
