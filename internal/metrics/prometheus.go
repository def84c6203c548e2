// Package metrics records competition activity in Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"time-attack-quiz/internal/domain"
)

// Prometheus implements app.Metrics and tracks live websocket connections.
type Prometheus struct {
	transitions *prometheus.CounterVec
	groups      prometheus.Counter
	answers     *prometheus.CounterVec
	connections *prometheus.GaugeVec
}

// NewPrometheus registers the collectors with reg. Pass
// prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	factory := promauto.With(reg)
	return &Prometheus{
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_lobby_transitions_total",
				Help: "Lobby status transitions, by target status.",
			},
			[]string{"status"},
		),
		groups: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "quiz_groups_joined_total",
				Help: "Groups that joined a lobby.",
			},
		),
		answers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_answers_total",
				Help: "Recorded answers, by correctness.",
			},
			[]string{"result"},
		),
		connections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quiz_ws_connections",
				Help: "Open websocket connections, by role.",
			},
			[]string{"role"},
		),
	}
}

func (p *Prometheus) LobbyTransitioned(status domain.LobbyStatus) {
	p.transitions.WithLabelValues(string(status)).Inc()
}

func (p *Prometheus) GroupJoined() {
	p.groups.Inc()
}

func (p *Prometheus) AnswerRecorded(correct bool) {
	result := "incorrect"
	if correct {
		result = "correct"
	}
	p.answers.WithLabelValues(result).Inc()
}

// ConnectionOpened counts a websocket connection until the returned func is called.
func (p *Prometheus) ConnectionOpened(role string) func() {
	g := p.connections.WithLabelValues(role)
	g.Inc()
	return g.Dec
}
