// Package subscription turns payment-provider webhooks into entitlement
// changes.
//
// A Processor verifies the delivery through a Provider, claims the event in
// an EventLog, runs the transition table and writes the result through the
// entitlement ledger. Every verified delivery is acknowledged; the Ack
// outcome says what happened:
//
//   - applied: the record changed
//   - duplicate: the event was already processed
//   - ignored: the event does not apply to any record or state
//   - stale: a newer event already updated the record
//   - failed: an internal error; the claim is released for a redelivery
//
// Only a signature failure is rejected, so providers do not retry a
// delivery that already reached the ledger.
//
// The transition table is keyed by event type and the state derived from
// the record (inactive, active, past due, canceled). Its guards mirror the
// provider contract: a checkout needs a user id and a paid plan, renewals
// need a paid plan, and so on.
package subscription
