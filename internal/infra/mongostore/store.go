// Package mongostore keeps lobbies, groups and answers in MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"time-attack-quiz/internal/domain"
)

type lobbyDoc struct {
	ID              string     `bson:"_id"`
	Status          string     `bson:"status"`
	QuizID          string     `bson:"quizId"`
	CreatedAt       time.Time  `bson:"createdAt"`
	StartedAt       *time.Time `bson:"startedAt,omitempty"`
	FinishedAt      *time.Time `bson:"finishedAt,omitempty"`
	DurationSeconds int        `bson:"durationSeconds"`
	PointsCorrect   int        `bson:"pointsCorrect"`
	PointsIncorrect int        `bson:"pointsIncorrect"`
	GroupCount      int        `bson:"groupCount"`
	AnswerCount     int        `bson:"answerCount"`
}

type groupDoc struct {
	ID             string    `bson:"_id"`
	LobbyID        string    `bson:"lobbyId"`
	Position       int       `bson:"position"`
	Name           string    `bson:"name"`
	CreatedAt      time.Time `bson:"createdAt"`
	AnswerCount    int       `bson:"answerCount"`
	LastAnsweredAt time.Time `bson:"lastAnsweredAt"`
}

type answerDoc struct {
	ID             string    `bson:"_id"`
	LobbyID        string    `bson:"lobbyId"`
	GroupID        string    `bson:"groupId"`
	Position       int       `bson:"position"`
	QuestionIndex  int       `bson:"questionIndex"`
	SelectedAnswer int       `bson:"selectedAnswer"`
	CorrectAnswer  int       `bson:"correctAnswer"`
	IsCorrect      bool      `bson:"isCorrect"`
	AnsweredAt     time.Time `bson:"answeredAt"`
	AnswerTimeMs   int64     `bson:"answerTimeMs"`
	ScoreChange    int       `bson:"scoreChange"`
}

// Store implements app.Store on three collections. Positions of groups and
// answers come from counters on the parent document, bumped atomically.
type Store struct {
	lobbies *mongo.Collection
	groups  *mongo.Collection
	answers *mongo.Collection
	now     func() time.Time
}

func NewStore(db *mongo.Database) *Store {
	return &Store{
		lobbies: db.Collection("lobbies"),
		groups:  db.Collection("groups"),
		answers: db.Collection("answers"),
		now:     time.Now,
	}
}

// Connect dials MongoDB and pings it.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the indexes listing queries rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.lobbies.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}},
	}); err != nil {
		return fmt.Errorf("lobby index: %w", err)
	}
	if _, err := s.groups.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "lobbyId", Value: 1}, {Key: "position", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("group index: %w", err)
	}
	if _, err := s.answers.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "groupId", Value: 1}, {Key: "position", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("answer index: %w", err)
	}
	return nil
}

func (s *Store) CreateLobby(ctx context.Context, lobby domain.Lobby) error {
	doc := toLobbyDoc(lobby)
	if _, err := s.lobbies.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert lobby: %w", err)
	}
	return nil
}

func (s *Store) GetLobby(ctx context.Context, lobbyID string) (domain.Lobby, error) {
	var doc lobbyDoc
	err := s.lobbies.FindOne(ctx, bson.M{"_id": lobbyID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Lobby{}, domain.ErrLobbyNotFound
	}
	if err != nil {
		return domain.Lobby{}, fmt.Errorf("find lobby: %w", err)
	}
	return doc.toDomain(), nil
}

// TransitionLobby matches on the expected status so concurrent transitions
// cannot both apply.
func (s *Store) TransitionLobby(ctx context.Context, lobby domain.Lobby, from domain.LobbyStatus) error {
	set := bson.M{"status": string(lobby.Status)}
	if lobby.StartedAt != nil {
		set["startedAt"] = lobby.StartedAt.UTC()
	}
	if lobby.FinishedAt != nil {
		set["finishedAt"] = lobby.FinishedAt.UTC()
	}
	res, err := s.lobbies.UpdateOne(ctx,
		bson.M{"_id": lobby.ID, "status": string(from)},
		bson.M{"$set": set},
	)
	if err != nil {
		return fmt.Errorf("update lobby: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	if _, err := s.GetLobby(ctx, lobby.ID); err != nil {
		return err
	}
	return domain.ErrInvalidTransition
}

func (s *Store) ListLobbies(ctx context.Context, status domain.LobbyStatus) ([]domain.Lobby, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = string(status)
	}
	cursor, err := s.lobbies.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find lobbies: %w", err)
	}
	var docs []lobbyDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode lobbies: %w", err)
	}
	out := make([]domain.Lobby, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out, nil
}

// CreateGroup reserves the next position by bumping the lobby's group counter.
func (s *Store) CreateGroup(ctx context.Context, group domain.Group) error {
	var lobby lobbyDoc
	err := s.lobbies.FindOneAndUpdate(ctx,
		bson.M{"_id": group.LobbyID},
		bson.M{"$inc": bson.M{"groupCount": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&lobby)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.ErrLobbyNotFound
	}
	if err != nil {
		return fmt.Errorf("reserve group position: %w", err)
	}
	doc := groupDoc{
		ID:        group.ID,
		LobbyID:   group.LobbyID,
		Position:  lobby.GroupCount - 1,
		Name:      group.Name,
		CreatedAt: group.CreatedAt.UTC(),
	}
	if _, err := s.groups.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	return nil
}

func (s *Store) GetGroup(ctx context.Context, lobbyID, groupID string) (domain.Group, error) {
	var doc groupDoc
	err := s.groups.FindOne(ctx, bson.M{"_id": groupID, "lobbyId": lobbyID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Group{}, domain.ErrGroupNotFound
	}
	if err != nil {
		return domain.Group{}, fmt.Errorf("find group: %w", err)
	}
	return doc.toDomain(), nil
}

func (s *Store) ListGroups(ctx context.Context, lobbyID string) ([]domain.Group, error) {
	cursor, err := s.groups.Find(ctx, bson.M{"lobbyId": lobbyID}, options.Find().SetSort(bson.D{{Key: "position", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find groups: %w", err)
	}
	var docs []groupDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode groups: %w", err)
	}
	groups := make([]domain.Group, 0, len(docs))
	for _, doc := range docs {
		groups = append(groups, doc.toDomain())
	}
	return groups, nil
}

// AppendAnswer admits the answer with a status-guarded update of the lobby
// document, so it orders against TransitionLobby on the same document. It
// then bumps the group's answer counter and its last answer time in one
// update. $max keeps the group's timestamps non-decreasing.
func (s *Store) AppendAnswer(ctx context.Context, lobbyID string, answer domain.Answer) (domain.Answer, error) {
	if err := s.admitAnswer(ctx, lobbyID); err != nil {
		return domain.Answer{}, err
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	var group groupDoc
	err := s.groups.FindOneAndUpdate(ctx,
		bson.M{"_id": answer.GroupID, "lobbyId": lobbyID},
		bson.M{
			"$inc": bson.M{"answerCount": 1},
			"$max": bson.M{"lastAnsweredAt": now},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&group)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Answer{}, domain.ErrGroupNotFound
	}
	if err != nil {
		return domain.Answer{}, fmt.Errorf("reserve answer position: %w", err)
	}

	answer.AnsweredAt = group.LastAnsweredAt.UTC()
	doc := answerDoc{
		ID:             answer.ID,
		LobbyID:        lobbyID,
		GroupID:        answer.GroupID,
		Position:       group.AnswerCount - 1,
		QuestionIndex:  answer.QuestionIndex,
		SelectedAnswer: answer.SelectedAnswer,
		CorrectAnswer:  answer.CorrectAnswer,
		IsCorrect:      answer.IsCorrect,
		AnsweredAt:     answer.AnsweredAt,
		AnswerTimeMs:   answer.AnswerTimeMs,
		ScoreChange:    answer.ScoreChange,
	}
	if _, err := s.answers.InsertOne(ctx, doc); err != nil {
		return domain.Answer{}, fmt.Errorf("insert answer: %w", err)
	}
	return answer, nil
}

func (s *Store) admitAnswer(ctx context.Context, lobbyID string) error {
	res, err := s.lobbies.UpdateOne(ctx,
		bson.M{"_id": lobbyID, "status": string(domain.StatusPlaying)},
		bson.M{"$inc": bson.M{"answerCount": 1}},
	)
	if err != nil {
		return fmt.Errorf("admit answer: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	if _, err := s.GetLobby(ctx, lobbyID); err != nil {
		return err
	}
	return domain.ErrLobbyNotPlaying
}

func (s *Store) ListAnswers(ctx context.Context, lobbyID, groupID string) ([]domain.Answer, error) {
	cursor, err := s.answers.Find(ctx,
		bson.M{"lobbyId": lobbyID, "groupId": groupID},
		options.Find().SetSort(bson.D{{Key: "position", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("find answers: %w", err)
	}
	var docs []answerDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	answers := make([]domain.Answer, 0, len(docs))
	for _, doc := range docs {
		answers = append(answers, doc.toDomain())
	}
	return answers, nil
}

func toLobbyDoc(l domain.Lobby) lobbyDoc {
	doc := lobbyDoc{
		ID:              l.ID,
		Status:          string(l.Status),
		QuizID:          l.QuizID,
		CreatedAt:       l.CreatedAt.UTC(),
		DurationSeconds: l.DurationSeconds,
		PointsCorrect:   l.PointsCorrect,
		PointsIncorrect: l.PointsIncorrect,
	}
	if l.StartedAt != nil {
		t := l.StartedAt.UTC()
		doc.StartedAt = &t
	}
	if l.FinishedAt != nil {
		t := l.FinishedAt.UTC()
		doc.FinishedAt = &t
	}
	return doc
}

func (d lobbyDoc) toDomain() domain.Lobby {
	l := domain.Lobby{
		ID:              d.ID,
		Status:          domain.LobbyStatus(d.Status),
		QuizID:          d.QuizID,
		CreatedAt:       d.CreatedAt.UTC(),
		DurationSeconds: d.DurationSeconds,
		PointsCorrect:   d.PointsCorrect,
		PointsIncorrect: d.PointsIncorrect,
	}
	if d.StartedAt != nil {
		t := d.StartedAt.UTC()
		l.StartedAt = &t
	}
	if d.FinishedAt != nil {
		t := d.FinishedAt.UTC()
		l.FinishedAt = &t
	}
	return l
}

func (d groupDoc) toDomain() domain.Group {
	return domain.Group{ID: d.ID, LobbyID: d.LobbyID, Name: d.Name, CreatedAt: d.CreatedAt.UTC()}
}

func (d answerDoc) toDomain() domain.Answer {
	return domain.Answer{
		ID:             d.ID,
		GroupID:        d.GroupID,
		QuestionIndex:  d.QuestionIndex,
		SelectedAnswer: d.SelectedAnswer,
		CorrectAnswer:  d.CorrectAnswer,
		IsCorrect:      d.IsCorrect,
		AnsweredAt:     d.AnsweredAt.UTC(),
		AnswerTimeMs:   d.AnswerTimeMs,
		ScoreChange:    d.ScoreChange,
	}
}
