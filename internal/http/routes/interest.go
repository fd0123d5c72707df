package routes

import (
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/queuecx/dashboard/internal/interest"
)

func (s *Server) handleInterestSubmit(w http.ResponseWriter, r *http.Request) {
	var sub interest.Submission
	if err := decode(r, &sub); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Interest.Submit(r.Context(), sub); err != nil {
		if statusFor(err) == http.StatusBadRequest {
			s.writeError(w, r, err)
			return
		}
		hlog.FromRequest(r).Error().Err(err).Str("from", sub.Email).Msg("interest submission failed")
		s.writeJSON(w, r, http.StatusInternalServerError, map[string]string{
			"message": "An error occurred while sending your message.",
		})
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]string{
		"message": "Form submitted successfully! We will be in touch.",
	})
}
