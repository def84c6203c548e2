package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"time-attack-quiz/internal/app"
	"time-attack-quiz/internal/domain"
)

// ConnectionTracker counts open websocket connections.
type ConnectionTracker interface {
	ConnectionOpened(role string) func()
}

type WSHandler struct {
	service  *app.LobbyService
	upgrader websocket.Upgrader
	tracker  ConnectionTracker
	// answers per second a connection may submit, with an equal burst
	answerRate rate.Limit
}

func NewWSHandler(service *app.LobbyService, tracker ConnectionTracker) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		tracker:    tracker,
		answerRate: 5,
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionIndex  *int  `json:"questionIndex"`
	SelectedAnswer *int  `json:"selectedAnswer"`
	AnswerTimeMs   int64 `json:"answerTimeMs"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type joinedPayload struct {
	Lobby domain.Lobby  `json:"lobby"`
	Group *domain.Group `json:"group,omitempty"`
}

// ServeWS upgrades a request for /ws?lobbyId=&groupId=. Group connections
// may submit answers; connections without groupId (the admin screen) only
// receive pushes.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	lobbyID := r.URL.Query().Get("lobbyId")
	groupID := r.URL.Query().Get("groupId")
	if lobbyID == "" {
		http.Error(w, "missing lobbyId", http.StatusBadRequest)
		return
	}

	lobby, err := h.service.GetLobby(r.Context(), lobbyID)
	if err != nil {
		writeHTTPError(w, err)
		return
	}
	var group *domain.Group
	if groupID != "" {
		g, err := h.service.GetGroup(r.Context(), lobbyID, groupID)
		if err != nil {
			writeHTTPError(w, err)
			return
		}
		group = &g
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	role := "admin"
	if group != nil {
		role = "group"
	}
	if h.tracker != nil {
		defer h.tracker.ConnectionOpened(role)()
	}

	ctx, cancelCtx := context.WithCancel(r.Context())
	defer cancelCtx()

	updates, cancel, err := h.service.Watch(ctx, lobbyID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				cancelCtx()
				// keep draining so producers never block
				for range send {
				}
				return
			}
		}
	}()

	push := func(msg outboundMessage[any]) bool {
		select {
		case send <- msg:
			return true
		case <-closeSignals:
			return false
		}
	}

	send <- outboundMessage[any]{Type: "joined", Payload: joinedPayload{Lobby: lobby, Group: group}}

	go func() {
		defer close(updatesDone)
		var status domain.LobbyStatus
		for {
			select {
			case standings, ok := <-updates:
				if !ok {
					return
				}
				if standings.Lobby.Status != status {
					status = standings.Lobby.Status
					if !push(outboundMessage[any]{Type: "lobby", Payload: standings.Lobby}) {
						return
					}
					if status == domain.StatusResult || status == domain.StatusFinished {
						results, err := h.service.Results(ctx, lobbyID)
						if err != nil {
							log.Printf("lobby %s: results for ws: %v", lobbyID, err)
						} else if !push(outboundMessage[any]{Type: "results", Payload: results}) {
							return
						}
					}
				}
				if !push(outboundMessage[any]{Type: "standings", Payload: standings}) {
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	limiter := rate.NewLimiter(h.answerRate, int(h.answerRate))
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			if group == nil {
				push(errorMessage("admin connections cannot answer"))
				continue
			}
			if !limiter.Allow() {
				push(errorMessage("too many answers, slow down"))
				continue
			}
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.QuestionIndex == nil || payload.SelectedAnswer == nil {
				push(errorMessage("invalid answer payload"))
				continue
			}
			result, err := h.service.SubmitAnswer(ctx, lobbyID, group.ID, domain.AnswerSubmission{
				QuestionIndex:  *payload.QuestionIndex,
				SelectedAnswer: *payload.SelectedAnswer,
				AnswerTimeMs:   payload.AnswerTimeMs,
			})
			if err != nil {
				push(errorMessage(err.Error()))
				continue
			}
			push(outboundMessage[any]{Type: "answerResult", Payload: result})
		default:
			push(errorMessage("unsupported message type"))
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func errorMessage(msg string) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: msg}}
}
