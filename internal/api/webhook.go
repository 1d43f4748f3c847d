package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/dmitrymomot/quotakit/pkg/logger"
)

func (s *server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "webhook payload exceeds limit")
			return
		}
		writeError(w, http.StatusBadRequest, CodeBadRequest, "failed to read request body")
		return
	}

	ack, err := s.processor.Handle(r.Context(), payload, r.Header.Get(s.sigHeader))
	if err != nil || !ack.Accepted() {
		s.logger.WarnContext(r.Context(), "billing webhook refused", logger.Error(err))
		writeError(w, http.StatusBadRequest, CodeInvalidSignature, "webhook signature verification failed")
		return
	}
	writeData(w, http.StatusOK, ack)
}
