package domain

import "errors"

var (
	// ErrLobbyNotFound is returned when a lobby id is unknown to the store.
	ErrLobbyNotFound = errors.New("lobby not found")
	// ErrGroupNotFound is returned when a group does not belong to the lobby.
	ErrGroupNotFound = errors.New("group not found in lobby")
	// ErrQuizNotFound indicates the question set could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a submitted question index is outside the question set.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrChoiceNotFound indicates a submitted choice index is outside the question's choices.
	ErrChoiceNotFound = errors.New("choice not found")
	// ErrInvalidTransition is returned for lifecycle moves other than one step forward.
	ErrInvalidTransition = errors.New("invalid lobby status transition")
	// ErrLobbyNotPlaying rejects answers outside the playing window.
	ErrLobbyNotPlaying = errors.New("lobby is not accepting answers")
	// ErrLobbyClosed rejects joins once the game is over.
	ErrLobbyClosed = errors.New("lobby is closed")
	// ErrNoGroups prevents starting a lobby nobody joined.
	ErrNoGroups = errors.New("lobby has no groups")
	// ErrInvalidGroupName rejects empty or oversized team names.
	ErrInvalidGroupName = errors.New("invalid group name")
	// ErrInvalidSettings rejects lobby settings that fail validation.
	ErrInvalidSettings = errors.New("invalid lobby settings")
)
