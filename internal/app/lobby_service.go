package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"time-attack-quiz/internal/domain"
	"time-attack-quiz/internal/realtime"
	"time-attack-quiz/internal/scoring"
)

const tracerName = "time-attack-quiz/app"

// MaxGroupNameLength bounds team names, counted in runes.
const MaxGroupNameLength = 32

// LobbyDefaults fill settings a lobby creator leaves out.
type LobbyDefaults struct {
	DurationSeconds int
	PointsCorrect   int
	PointsIncorrect int
}

// DefaultLobbyDefaults is a ten minute game, +5 for a correct answer and -2 for a wrong one.
var DefaultLobbyDefaults = LobbyDefaults{DurationSeconds: 600, PointsCorrect: 5, PointsIncorrect: -2}

// LobbySettings configure a new lobby. Nil fields take the service defaults.
type LobbySettings struct {
	QuizID          string `json:"quizId" validate:"required,max=128"`
	DurationSeconds *int   `json:"durationSeconds" validate:"omitempty,gt=0,lte=86400"`
	PointsCorrect   *int   `json:"pointsCorrect" validate:"omitempty,gt=0,lte=1000"`
	PointsIncorrect *int   `json:"pointsIncorrect" validate:"omitempty,gte=-1000,lte=1000"`
}

// LobbyService contains the competition use cases.
type LobbyService struct {
	store     Store
	feed      *realtime.Feed
	quizzes   QuizRepository
	publisher Publisher
	metrics   Metrics
	defaults  LobbyDefaults
	validate  *validator.Validate
	tracer    trace.Tracer
	now       func() time.Time
	timers    *Timekeeper
}

// Option customises a LobbyService.
type Option func(*LobbyService)

// WithClock replaces time.Now, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *LobbyService) { s.now = now }
}

// WithPublisher emits domain events through p.
func WithPublisher(p Publisher) Option {
	return func(s *LobbyService) { s.publisher = p }
}

// WithMetrics records activity through m.
func WithMetrics(m Metrics) Option {
	return func(s *LobbyService) { s.metrics = m }
}

// WithTracerProvider records spans through tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *LobbyService) { s.tracer = tp.Tracer(tracerName) }
}

// WithDefaults overrides DefaultLobbyDefaults.
func WithDefaults(d LobbyDefaults) Option {
	return func(s *LobbyService) { s.defaults = d }
}

func NewLobbyService(store Store, broker realtime.Broker, quizzes QuizRepository, opts ...Option) *LobbyService {
	s := &LobbyService{
		store:    store,
		feed:     realtime.NewFeed(store, broker),
		quizzes:  quizzes,
		metrics:  nopMetrics{},
		defaults: DefaultLobbyDefaults,
		validate: validator.New(),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.timers = NewTimekeeper(s.expire)
	return s
}

// Feed exposes the realtime feed backing the service.
func (s *LobbyService) Feed() *realtime.Feed {
	return s.feed
}

// Close stops pending auto-finish timers.
func (s *LobbyService) Close() {
	s.timers.Stop()
}

// CreateLobby opens a new lobby in the waiting state.
func (s *LobbyService) CreateLobby(ctx context.Context, settings LobbySettings) (lobby domain.Lobby, err error) {
	ctx, end := s.span(ctx, "LobbyService.CreateLobby", &err)
	defer end()

	if err := s.validate.Struct(settings); err != nil {
		return domain.Lobby{}, fmt.Errorf("%w: %v", domain.ErrInvalidSettings, err)
	}
	if _, err := s.quizzes.GetQuiz(ctx, settings.QuizID); err != nil {
		return domain.Lobby{}, err
	}

	lobby = domain.Lobby{
		ID:              uuid.NewString(),
		Status:          domain.StatusWaiting,
		QuizID:          settings.QuizID,
		CreatedAt:       s.now(),
		DurationSeconds: intOr(settings.DurationSeconds, s.defaults.DurationSeconds),
		PointsCorrect:   intOr(settings.PointsCorrect, s.defaults.PointsCorrect),
		PointsIncorrect: intOr(settings.PointsIncorrect, s.defaults.PointsIncorrect),
	}
	if err := s.store.CreateLobby(ctx, lobby); err != nil {
		return domain.Lobby{}, err
	}
	s.emit("lobby.created", lobby)
	return lobby, nil
}

// GetLobby returns the current lobby state.
func (s *LobbyService) GetLobby(ctx context.Context, lobbyID string) (domain.Lobby, error) {
	return s.store.GetLobby(ctx, lobbyID)
}

// ListLobbies returns lobbies in creation order, optionally filtered by status.
func (s *LobbyService) ListLobbies(ctx context.Context, status domain.LobbyStatus) ([]domain.Lobby, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidSettings, status)
	}
	return s.store.ListLobbies(ctx, status)
}

// GetGroup returns one group of a lobby.
func (s *LobbyService) GetGroup(ctx context.Context, lobbyID, groupID string) (domain.Group, error) {
	return s.store.GetGroup(ctx, lobbyID, groupID)
}

// ListGroups returns the groups of a lobby in join order.
func (s *LobbyService) ListGroups(ctx context.Context, lobbyID string) ([]domain.Group, error) {
	if _, err := s.store.GetLobby(ctx, lobbyID); err != nil {
		return nil, err
	}
	return s.store.ListGroups(ctx, lobbyID)
}

// ListQuizzes returns the ids of available question sets.
func (s *LobbyService) ListQuizzes(ctx context.Context) ([]string, error) {
	catalog, ok := s.quizzes.(QuizCatalog)
	if !ok {
		return []string{}, nil
	}
	return catalog.ListQuizzes(ctx)
}

// GetQuiz returns the question set of a lobby.
func (s *LobbyService) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	return s.quizzes.GetQuiz(ctx, quizID)
}

// JoinGroup registers a team in a lobby that has not finished yet.
func (s *LobbyService) JoinGroup(ctx context.Context, lobbyID, name string) (group domain.Group, err error) {
	ctx, end := s.span(ctx, "LobbyService.JoinGroup", &err)
	defer end()

	name, err = NormalizeGroupName(name)
	if err != nil {
		return domain.Group{}, err
	}
	lobby, err := s.store.GetLobby(ctx, lobbyID)
	if err != nil {
		return domain.Group{}, err
	}
	if lobby.Status == domain.StatusFinished || lobby.Status == domain.StatusResult {
		return domain.Group{}, domain.ErrLobbyClosed
	}

	group = domain.Group{
		ID:        uuid.NewString(),
		LobbyID:   lobbyID,
		Name:      name,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateGroup(ctx, group); err != nil {
		return domain.Group{}, err
	}
	s.feed.GroupsChanged(ctx, lobbyID)
	s.metrics.GroupJoined()
	s.emit("group.joined", group)
	return group, nil
}

// NormalizeGroupName folds compatibility characters (full-width letters and
// digits) and trims surrounding space.
func NormalizeGroupName(name string) (string, error) {
	name = strings.TrimSpace(norm.NFKC.String(name))
	if name == "" || utf8.RuneCountInString(name) > MaxGroupNameLength {
		return "", domain.ErrInvalidGroupName
	}
	return name, nil
}

// StartLobby starts the countdown. At least one group must have joined.
func (s *LobbyService) StartLobby(ctx context.Context, lobbyID string) (lobby domain.Lobby, err error) {
	ctx, end := s.span(ctx, "LobbyService.StartLobby", &err)
	defer end()

	groups, err := s.store.ListGroups(ctx, lobbyID)
	if err != nil {
		return domain.Lobby{}, err
	}
	if len(groups) == 0 {
		if _, err := s.store.GetLobby(ctx, lobbyID); err != nil {
			return domain.Lobby{}, err
		}
		return domain.Lobby{}, domain.ErrNoGroups
	}
	lobby, err = s.transition(ctx, lobbyID, domain.StatusPlaying)
	if err != nil {
		return domain.Lobby{}, err
	}
	s.timers.Schedule(lobby, s.now())
	return lobby, nil
}

// FinishLobby ends the game. Finishing an already finished lobby is a no-op.
func (s *LobbyService) FinishLobby(ctx context.Context, lobbyID string) (lobby domain.Lobby, err error) {
	ctx, end := s.span(ctx, "LobbyService.FinishLobby", &err)
	defer end()

	lobby, err = s.transition(ctx, lobbyID, domain.StatusFinished)
	if errors.Is(err, domain.ErrInvalidTransition) {
		current, getErr := s.store.GetLobby(ctx, lobbyID)
		if getErr == nil && (current.Status == domain.StatusFinished || current.Status == domain.StatusResult) {
			return current, nil
		}
	}
	if err != nil {
		return domain.Lobby{}, err
	}
	s.timers.Cancel(lobbyID)
	return lobby, nil
}

// ShowResults moves a finished lobby to the results screen.
func (s *LobbyService) ShowResults(ctx context.Context, lobbyID string) (lobby domain.Lobby, err error) {
	ctx, end := s.span(ctx, "LobbyService.ShowResults", &err)
	defer end()
	return s.transition(ctx, lobbyID, domain.StatusResult)
}

func (s *LobbyService) transition(ctx context.Context, lobbyID string, to domain.LobbyStatus) (domain.Lobby, error) {
	lobby, err := s.store.GetLobby(ctx, lobbyID)
	if err != nil {
		return domain.Lobby{}, err
	}
	from := lobby.Status
	if err := lobby.Transition(to, s.now()); err != nil {
		return domain.Lobby{}, err
	}
	if err := s.store.TransitionLobby(ctx, lobby, from); err != nil {
		return domain.Lobby{}, err
	}
	log.Printf("lobby %s: %s -> %s", lobbyID, from, to)
	s.feed.LobbyChanged(ctx, lobbyID)
	s.metrics.LobbyTransitioned(to)
	s.emit(lobbyEvent(to), lobby)
	return lobby, nil
}

func lobbyEvent(status domain.LobbyStatus) string {
	switch status {
	case domain.StatusPlaying:
		return "lobby.started"
	case domain.StatusFinished:
		return "lobby.finished"
	}
	return "lobby." + string(status)
}

// expire is called by the timekeeper when a countdown reaches zero.
func (s *LobbyService) expire(lobbyID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.FinishLobby(ctx, lobbyID); err != nil {
		log.Printf("lobby %s: auto-finish failed: %v", lobbyID, err)
	}
}

// Restore re-arms auto-finish for lobbies left playing by a previous process
// and finishes those whose countdown already ran out.
func (s *LobbyService) Restore(ctx context.Context) error {
	playing, err := s.store.ListLobbies(ctx, domain.StatusPlaying)
	if err != nil {
		return fmt.Errorf("list playing lobbies: %w", err)
	}
	now := s.now()
	for _, lobby := range playing {
		if lobby.Expired(now) {
			if _, err := s.FinishLobby(ctx, lobby.ID); err != nil {
				log.Printf("lobby %s: finish on restore: %v", lobby.ID, err)
			}
			continue
		}
		s.timers.Schedule(lobby, now)
	}
	return nil
}

// SubmitAnswer scores a group's answer against the question set and appends
// it. Answers are only accepted while the lobby is playing and the countdown
// has not run out.
func (s *LobbyService) SubmitAnswer(ctx context.Context, lobbyID, groupID string, submission domain.AnswerSubmission) (result domain.AnswerResult, err error) {
	ctx, end := s.span(ctx, "LobbyService.SubmitAnswer", &err)
	defer end()

	lobby, err := s.store.GetLobby(ctx, lobbyID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if lobby.Status != domain.StatusPlaying || lobby.StartedAt == nil {
		return domain.AnswerResult{}, domain.ErrLobbyNotPlaying
	}
	if lobby.Expired(s.now()) {
		if _, err := s.FinishLobby(ctx, lobbyID); err != nil {
			log.Printf("lobby %s: finish on late answer: %v", lobbyID, err)
		}
		return domain.AnswerResult{}, domain.ErrLobbyNotPlaying
	}
	if _, err := s.store.GetGroup(ctx, lobbyID, groupID); err != nil {
		return domain.AnswerResult{}, err
	}

	quiz, err := s.quizzes.GetQuiz(ctx, lobby.QuizID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	correctAnswer, err := scoreSubmission(quiz, submission)
	if err != nil {
		return domain.AnswerResult{}, err
	}

	isCorrect := submission.SelectedAnswer == correctAnswer
	answerTime := submission.AnswerTimeMs
	if answerTime < 0 {
		answerTime = 0
	}
	stored, err := s.feed.WriteAnswer(ctx, lobbyID, domain.Answer{
		ID:             uuid.NewString(),
		GroupID:        groupID,
		QuestionIndex:  submission.QuestionIndex,
		SelectedAnswer: submission.SelectedAnswer,
		CorrectAnswer:  correctAnswer,
		IsCorrect:      isCorrect,
		AnswerTimeMs:   answerTime,
		ScoreChange:    lobby.ScoreFor(isCorrect),
	})
	if err != nil {
		return domain.AnswerResult{}, err
	}
	s.metrics.AnswerRecorded(isCorrect)
	s.emit("answer.recorded", stored)

	answers, err := s.store.ListAnswers(ctx, lobbyID, groupID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	agg := scoring.Aggregate(domain.GroupAnswers{GroupID: groupID, Answers: answers})
	return domain.AnswerResult{
		Answer:       stored,
		RawScore:     agg.RawScore,
		DisplayScore: agg.DisplayScore,
	}, nil
}

// scoreSubmission validates the submission against the question set and
// returns the correct choice at submission time.
func scoreSubmission(quiz domain.Quiz, submission domain.AnswerSubmission) (int, error) {
	if !quiz.HasQuestion(submission.QuestionIndex) {
		return 0, domain.ErrQuestionNotFound
	}
	question := quiz.Questions[submission.QuestionIndex]
	if submission.SelectedAnswer < 0 ||
		(len(question.Choices) > 0 && submission.SelectedAnswer >= len(question.Choices)) {
		return 0, domain.ErrChoiceNotFound
	}
	return question.CorrectAnswer, nil
}

// Snapshot loads a lobby and every group's answers.
func (s *LobbyService) Snapshot(ctx context.Context, lobbyID string) (domain.Lobby, []domain.GroupAnswers, error) {
	lobby, err := s.store.GetLobby(ctx, lobbyID)
	if err != nil {
		return domain.Lobby{}, nil, err
	}
	groups, err := s.store.ListGroups(ctx, lobbyID)
	if err != nil {
		return domain.Lobby{}, nil, err
	}

	view := make([]domain.GroupAnswers, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	for i, group := range groups {
		i, group := i, group
		g.Go(func() error {
			answers, err := s.store.ListAnswers(gctx, lobbyID, group.ID)
			if err != nil {
				return fmt.Errorf("answers of group %s: %w", group.ID, err)
			}
			view[i] = domain.GroupAnswers{GroupID: group.ID, GroupName: group.Name, Answers: answers}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Lobby{}, nil, err
	}
	return lobby, view, nil
}

// Standings computes the live ranking of a lobby.
func (s *LobbyService) Standings(ctx context.Context, lobbyID string) (domain.Standings, error) {
	lobby, view, err := s.Snapshot(ctx, lobbyID)
	if err != nil {
		return domain.Standings{}, err
	}
	return s.standings(lobby, view), nil
}

func (s *LobbyService) standings(lobby domain.Lobby, view []domain.GroupAnswers) domain.Standings {
	now := s.now()
	aggregates, ranking := scoring.Standings(view)
	return domain.Standings{
		Lobby:            lobby,
		RemainingSeconds: lobby.RemainingSeconds(now),
		Groups:           aggregates,
		Ranking:          ranking,
		UpdatedAt:        now,
	}
}

// Results computes the full post-game view: ranking, minute-by-minute
// history, awards and per-question correct rates.
func (s *LobbyService) Results(ctx context.Context, lobbyID string) (results domain.Results, err error) {
	ctx, end := s.span(ctx, "LobbyService.Results", &err)
	defer end()

	lobby, view, err := s.Snapshot(ctx, lobbyID)
	if err != nil {
		return domain.Results{}, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, lobby.QuizID)
	if err != nil {
		log.Printf("lobby %s: results without question set %q: %v", lobbyID, lobby.QuizID, err)
		quiz = domain.Quiz{}
	}

	aggregates, ranking := scoring.Standings(view)
	return domain.Results{
		Lobby:         lobby,
		Groups:        aggregates,
		Ranking:       ranking,
		History:       scoring.History(lobby, view),
		Awards:        scoring.Awards(lobby, view, quiz),
		QuestionStats: scoring.QuestionStats(view, len(quiz.Questions)),
	}, nil
}

func (s *LobbyService) emit(eventType string, payload interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(eventType, payload); err != nil {
		log.Printf("publish %s: %v", eventType, err)
	}
}

func (s *LobbyService) span(ctx context.Context, name string, errp *error) (context.Context, func()) {
	ctx, span := s.tracer.Start(ctx, name)
	return ctx, func() {
		if *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		span.End()
	}
}

func intOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}
