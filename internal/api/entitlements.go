package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/quotakit/pkg/auth"
	"github.com/dmitrymomot/quotakit/pkg/entitlement"
)

func (s *server) handleProvision(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeErr(w, entitlement.ErrUnauthenticated)
		return
	}
	if _, err := s.ledger.Provision(r.Context(), userID); err != nil {
		writeErr(w, err)
		return
	}
	snap, err := s.ledger.Peek(r.Context(), userID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, snap)
}

func (s *server) handleEntitlements(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeErr(w, entitlement.ErrUnauthenticated)
		return
	}
	snap, err := s.ledger.Peek(r.Context(), userID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, snap)
}

func (s *server) handleConsume(w http.ResponseWriter, r *http.Request) {
	res, err := entitlement.ParseResource(chi.URLParam(r, "resource"))
	if err != nil {
		writeErr(w, err)
		return
	}
	result, err := s.gate.ConsumeFromContext(r.Context(), res)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !result.Granted {
		writeDenied(w, result)
		return
	}
	writeData(w, http.StatusOK, result)
}
