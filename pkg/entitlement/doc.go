// Package entitlement keeps the per-user metered quota record and guards
// billed work with an atomic check-and-deduct.
//
// A Ledger owns the record lifecycle: signup provisioning, lazy monthly
// resets, and the full-record changes written by subscription webhooks. A
// Gate sits in front of feature handlers and answers every consume with a
// typed Result that is granted only when one unit was actually taken.
//
// Key concepts:
//
//   - Record: plan, subscription status, counters and the next reset time
//   - Store: persistence with one atomic primitive per use case
//   - Change: a webhook transition guarded by an event watermark
//   - Result: the outcome of a consume, with NeedsUpgrade on exhaustion
//
// Basic usage:
//
//	ledger := entitlement.NewLedger(pgstore.New(pool), plans.Default())
//	gate := entitlement.NewGate(ledger, entitlement.WithUserResolver(auth.UserFromContext))
//
//	res, err := gate.ConsumeFromContext(ctx, entitlement.ResourceImage)
//	if err != nil {
//	    return err
//	}
//	if !res.Granted {
//	    // res.NeedsUpgrade is set when the quota ran out
//	}
//
// Decrements never go below zero and are never read-then-write: both stores
// express them as a single conditional update. Pro records are unlimited and
// their counters are never touched.
//
// Resets are lazy. The gate refills a record whose reset time has passed
// before checking quota, so a dormant user sees a stale balance from Peek
// until their next metered action, unless the ledger is built with
// WithReadPathReset.
package entitlement
