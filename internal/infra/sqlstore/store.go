package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"time-attack-quiz/internal/domain"
)

const maxInsertRetries = 5

type lobbyRow struct {
	bun.BaseModel `bun:"table:lobbies"`

	ID              string     `bun:"id,pk"`
	Status          string     `bun:"status,notnull"`
	QuizID          string     `bun:"quiz_id,notnull"`
	CreatedAt       time.Time  `bun:"created_at,notnull"`
	StartedAt       *time.Time `bun:"started_at"`
	FinishedAt      *time.Time `bun:"finished_at"`
	DurationSeconds int        `bun:"duration_seconds,notnull"`
	PointsCorrect   int        `bun:"points_correct,notnull"`
	PointsIncorrect int        `bun:"points_incorrect,notnull"`
}

type groupRow struct {
	bun.BaseModel `bun:"table:lobby_groups"`

	ID        string    `bun:"id,pk"`
	LobbyID   string    `bun:"lobby_id,notnull"`
	Position  int       `bun:"position,notnull"`
	Name      string    `bun:"name,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

type answerRow struct {
	bun.BaseModel `bun:"table:group_answers"`

	ID             string    `bun:"id,pk"`
	LobbyID        string    `bun:"lobby_id,notnull"`
	GroupID        string    `bun:"group_id,notnull"`
	Position       int       `bun:"position,notnull"`
	QuestionIndex  int       `bun:"question_index,notnull"`
	SelectedAnswer int       `bun:"selected_answer,notnull"`
	CorrectAnswer  int       `bun:"correct_answer,notnull"`
	IsCorrect      bool      `bun:"is_correct,notnull"`
	AnsweredAt     time.Time `bun:"answered_at,notnull"`
	AnswerTimeMs   int64     `bun:"answer_time_ms,notnull"`
	ScoreChange    int       `bun:"score_change,notnull"`
}

// Store implements app.Store on bun.
type Store struct {
	db  *bun.DB
	now func() time.Time
}

func NewStore(db *bun.DB) *Store {
	return NewStoreWithClock(db, time.Now)
}

// NewStoreWithClock allows deterministic answer timestamps in tests.
func NewStoreWithClock(db *bun.DB, now func() time.Time) *Store {
	return &Store{db: db, now: now}
}

func (s *Store) CreateLobby(ctx context.Context, lobby domain.Lobby) error {
	row := toLobbyRow(lobby)
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("insert lobby: %w", err)
	}
	return nil
}

func (s *Store) GetLobby(ctx context.Context, lobbyID string) (domain.Lobby, error) {
	return getLobby(ctx, s.db, lobbyID)
}

func getLobby(ctx context.Context, db bun.IDB, lobbyID string) (domain.Lobby, error) {
	var row lobbyRow
	err := db.NewSelect().Model(&row).Where("id = ?", lobbyID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Lobby{}, domain.ErrLobbyNotFound
	}
	if err != nil {
		return domain.Lobby{}, fmt.Errorf("select lobby: %w", err)
	}
	return row.toDomain(), nil
}

// TransitionLobby updates the row only while its status is still from.
func (s *Store) TransitionLobby(ctx context.Context, lobby domain.Lobby, from domain.LobbyStatus) error {
	row := toLobbyRow(lobby)
	res, err := s.db.NewUpdate().
		Model(&row).
		Column("status", "started_at", "finished_at").
		Where("id = ?", lobby.ID).
		Where("status = ?", string(from)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update lobby: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return nil
	}
	if _, err := s.GetLobby(ctx, lobby.ID); err != nil {
		return err
	}
	return domain.ErrInvalidTransition
}

func (s *Store) ListLobbies(ctx context.Context, status domain.LobbyStatus) ([]domain.Lobby, error) {
	var rows []lobbyRow
	q := s.db.NewSelect().Model(&rows).Order("created_at ASC")
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("select lobbies: %w", err)
	}
	out := make([]domain.Lobby, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// CreateGroup appends the group at the next position of its lobby.
func (s *Store) CreateGroup(ctx context.Context, group domain.Group) error {
	return s.insertWithRetry(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := getLobby(ctx, tx, group.LobbyID); err != nil {
			return err
		}
		count, err := tx.NewSelect().Model((*groupRow)(nil)).Where("lobby_id = ?", group.LobbyID).Count(ctx)
		if err != nil {
			return fmt.Errorf("count groups: %w", err)
		}
		row := groupRow{
			ID:        group.ID,
			LobbyID:   group.LobbyID,
			Position:  count,
			Name:      group.Name,
			CreatedAt: group.CreatedAt,
		}
		if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
			return fmt.Errorf("insert group: %w", err)
		}
		return nil
	})
}

func (s *Store) GetGroup(ctx context.Context, lobbyID, groupID string) (domain.Group, error) {
	var row groupRow
	err := s.db.NewSelect().Model(&row).
		Where("id = ?", groupID).
		Where("lobby_id = ?", lobbyID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Group{}, domain.ErrGroupNotFound
	}
	if err != nil {
		return domain.Group{}, fmt.Errorf("select group: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListGroups(ctx context.Context, lobbyID string) ([]domain.Group, error) {
	var rows []groupRow
	err := s.db.NewSelect().Model(&rows).
		Where("lobby_id = ?", lobbyID).
		Order("position ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select groups: %w", err)
	}
	groups := make([]domain.Group, 0, len(rows))
	for _, row := range rows {
		groups = append(groups, row.toDomain())
	}
	return groups, nil
}

// AppendAnswer stamps the answer with the store clock, never earlier than
// the group's previous answer, and appends it at the next position.
func (s *Store) AppendAnswer(ctx context.Context, lobbyID string, answer domain.Answer) (domain.Answer, error) {
	var stored domain.Answer
	err := s.insertWithRetry(ctx, func(ctx context.Context, tx bun.Tx) error {
		if err := requirePlaying(ctx, tx, lobbyID); err != nil {
			return err
		}

		var last []answerRow
		err := tx.NewSelect().Model(&last).
			Where("group_id = ?", answer.GroupID).
			Order("position DESC").
			Limit(1).
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("select last answer: %w", err)
		}

		answeredAt := s.now().UTC()
		position := 0
		if len(last) == 1 {
			position = last[0].Position + 1
			if answeredAt.Before(last[0].AnsweredAt) {
				answeredAt = last[0].AnsweredAt
			}
		}

		row := toAnswerRow(lobbyID, position, answer)
		row.AnsweredAt = answeredAt
		if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
			return fmt.Errorf("insert answer: %w", err)
		}
		stored = row.toDomain()
		return nil
	})
	if err != nil {
		return domain.Answer{}, err
	}
	return stored, nil
}

func (s *Store) ListAnswers(ctx context.Context, lobbyID, groupID string) ([]domain.Answer, error) {
	var rows []answerRow
	err := s.db.NewSelect().Model(&rows).
		Where("lobby_id = ?", lobbyID).
		Where("group_id = ?", groupID).
		Order("position ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select answers: %w", err)
	}
	answers := make([]domain.Answer, 0, len(rows))
	for _, row := range rows {
		answers = append(answers, row.toDomain())
	}
	return answers, nil
}

// requirePlaying checks the lobby status inside the append transaction. On
// Postgres the row is share-locked so a concurrent transition waits for the
// append to commit; sqlite serialises writers on its single connection.
func requirePlaying(ctx context.Context, tx bun.Tx, lobbyID string) error {
	var row lobbyRow
	q := tx.NewSelect().Model(&row).Column("status").Where("id = ?", lobbyID)
	if tx.Dialect().Name() == dialect.PG {
		q = q.For("SHARE")
	}
	err := q.Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrLobbyNotFound
	}
	if err != nil {
		return fmt.Errorf("select lobby status: %w", err)
	}
	if domain.LobbyStatus(row.Status) != domain.StatusPlaying {
		return domain.ErrLobbyNotPlaying
	}
	return nil
}

// insertWithRetry runs fn in a transaction. A concurrent append taking the
// same position fails the unique constraint; the append is then retried.
func (s *Store) insertWithRetry(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	var err error
	for i := 0; i < maxInsertRetries; i++ {
		err = s.db.RunInTx(ctx, nil, fn)
		if err == nil || isDomainError(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func isDomainError(err error) bool {
	return errors.Is(err, domain.ErrLobbyNotFound) || errors.Is(err, domain.ErrGroupNotFound) ||
		errors.Is(err, domain.ErrLobbyNotPlaying)
}

func toLobbyRow(l domain.Lobby) lobbyRow {
	return lobbyRow{
		ID:              l.ID,
		Status:          string(l.Status),
		QuizID:          l.QuizID,
		CreatedAt:       l.CreatedAt.UTC(),
		StartedAt:       utcPtr(l.StartedAt),
		FinishedAt:      utcPtr(l.FinishedAt),
		DurationSeconds: l.DurationSeconds,
		PointsCorrect:   l.PointsCorrect,
		PointsIncorrect: l.PointsIncorrect,
	}
}

func (r lobbyRow) toDomain() domain.Lobby {
	return domain.Lobby{
		ID:              r.ID,
		Status:          domain.LobbyStatus(r.Status),
		QuizID:          r.QuizID,
		CreatedAt:       r.CreatedAt.UTC(),
		StartedAt:       utcPtr(r.StartedAt),
		FinishedAt:      utcPtr(r.FinishedAt),
		DurationSeconds: r.DurationSeconds,
		PointsCorrect:   r.PointsCorrect,
		PointsIncorrect: r.PointsIncorrect,
	}
}

func (r groupRow) toDomain() domain.Group {
	return domain.Group{ID: r.ID, LobbyID: r.LobbyID, Name: r.Name, CreatedAt: r.CreatedAt.UTC()}
}

func toAnswerRow(lobbyID string, position int, a domain.Answer) answerRow {
	return answerRow{
		ID:             a.ID,
		LobbyID:        lobbyID,
		GroupID:        a.GroupID,
		Position:       position,
		QuestionIndex:  a.QuestionIndex,
		SelectedAnswer: a.SelectedAnswer,
		CorrectAnswer:  a.CorrectAnswer,
		IsCorrect:      a.IsCorrect,
		AnswerTimeMs:   a.AnswerTimeMs,
		ScoreChange:    a.ScoreChange,
	}
}

func (r answerRow) toDomain() domain.Answer {
	return domain.Answer{
		ID:             r.ID,
		GroupID:        r.GroupID,
		QuestionIndex:  r.QuestionIndex,
		SelectedAnswer: r.SelectedAnswer,
		CorrectAnswer:  r.CorrectAnswer,
		IsCorrect:      r.IsCorrect,
		AnsweredAt:     r.AnsweredAt.UTC(),
		AnswerTimeMs:   r.AnswerTimeMs,
		ScoreChange:    r.ScoreChange,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
