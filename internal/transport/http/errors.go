package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"time-attack-quiz/internal/domain"
	"time-attack-quiz/internal/infra/quizfile"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrLobbyNotFound),
		errors.Is(err, domain.ErrGroupNotFound),
		errors.Is(err, domain.ErrQuizNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrQuestionNotFound),
		errors.Is(err, domain.ErrChoiceNotFound),
		errors.Is(err, domain.ErrInvalidGroupName),
		errors.Is(err, domain.ErrInvalidSettings):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrLobbyNotPlaying),
		errors.Is(err, domain.ErrLobbyClosed),
		errors.Is(err, domain.ErrNoGroups):
		return http.StatusConflict
	case errors.Is(err, quizfile.ErrInvalidQuiz):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeHTTPError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("internal error: %v", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
