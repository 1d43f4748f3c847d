// Package httpserver runs an http.Server bound to a context: Run serves until
// the context is canceled and then shuts down gracefully within a
// configurable deadline. Options come from functional Option helpers or from
// an env-tagged Config via NewFromConfig. HealthCheckHandler serves liveness
// and readiness checks over named dependency checks.
package httpserver
