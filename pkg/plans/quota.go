package plans

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

const unlimitedLiteral = "unlimited"

// Quota is either Unlimited or a finite count of remaining actions.
// The zero value is Limited(0).
type Quota struct {
	unlimited bool
	n         uint64
}

// Unlimited returns a quota that is never exhausted.
func Unlimited() Quota { return Quota{unlimited: true} }

// Limited returns a finite quota of n actions.
func Limited(n uint64) Quota { return Quota{n: n} }

func (q Quota) IsUnlimited() bool { return q.unlimited }

// Count returns the remaining count; ok is false for Unlimited.
func (q Quota) Count() (n uint64, ok bool) {
	if q.unlimited {
		return 0, false
	}
	return q.n, true
}

// Available reports whether at least one action may be consumed.
func (q Quota) Available() bool { return q.unlimited || q.n > 0 }

// Decrement consumes one action. Unlimited is returned unchanged.
// An exhausted quota is never decremented below zero.
func (q Quota) Decrement() (Quota, bool) {
	switch {
	case q.unlimited:
		return q, true
	case q.n == 0:
		return q, false
	}
	return Quota{n: q.n - 1}, true
}

// String renders the quota as a count or "unlimited".
func (q Quota) String() string {
	if q.unlimited {
		return unlimitedLiteral
	}
	return strconv.FormatUint(q.n, 10)
}

// MarshalJSON renders Unlimited as the string "unlimited" and finite
// quotas as numbers.
func (q Quota) MarshalJSON() ([]byte, error) {
	if q.unlimited {
		return json.Marshal(unlimitedLiteral)
	}
	return json.Marshal(q.n)
}

func (q *Quota) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return q.parse(s)
	}
	var n uint64
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.Join(ErrInvalidQuota, err)
	}
	*q = Limited(n)
	return nil
}

func (q *Quota) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return errors.Join(ErrInvalidQuota, fmt.Errorf("line %d: quota must be a scalar", node.Line))
	}
	return q.parse(node.Value)
}

func (q *Quota) parse(s string) error {
	if s == unlimitedLiteral {
		*q = Unlimited()
		return nil
	}
	n, err := strconv.ParseUint(s, 10, 63)
	if err != nil {
		return errors.Join(ErrInvalidQuota, fmt.Errorf("quota %q is neither a count nor %q", s, unlimitedLiteral))
	}
	*q = Limited(n)
	return nil
}

// Quotas is the per-resource allowance of a plan.
type Quotas struct {
	Images Quota `json:"images" yaml:"images"`
	Text   Quota `json:"text" yaml:"text"`
}

// UnlimitedQuotas grants every resource without a counter.
func UnlimitedQuotas() Quotas { return Quotas{Images: Unlimited(), Text: Unlimited()} }
