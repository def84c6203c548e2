package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"time-attack-quiz/internal/domain"
)

const maxTxRetries = 16

// Store keeps lobbies, groups and answers in Redis so several service
// instances can share one competition.
//
//	lobby:{id}                          JSON lobby
//	lobbies                             ZSET of lobby ids scored by creation time
//	lobby:{id}:groups                   LIST of JSON groups in join order
//	lobby:{id}:group:{gid}:answers      LIST of JSON answers in submission order
//
// Answer timestamps come from the Redis server clock so every instance
// stamps answers against the same time source.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore creates a Store. A positive ttl expires a lobby's keys that long
// after its last write.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func (s *Store) CreateLobby(ctx context.Context, lobby domain.Lobby) error {
	raw, err := json.Marshal(lobby)
	if err != nil {
		return fmt.Errorf("encode lobby: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, lobbyKey(lobby.ID), raw, s.ttl)
		pipe.ZAdd(ctx, lobbiesKey, redis.Z{Score: float64(lobby.CreatedAt.UnixMilli()), Member: lobby.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("create lobby: %w", err)
	}
	return nil
}

func (s *Store) GetLobby(ctx context.Context, lobbyID string) (domain.Lobby, error) {
	return getLobby(ctx, s.client, lobbyID)
}

func getLobby(ctx context.Context, c redis.Cmdable, lobbyID string) (domain.Lobby, error) {
	raw, err := c.Get(ctx, lobbyKey(lobbyID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Lobby{}, domain.ErrLobbyNotFound
	}
	if err != nil {
		return domain.Lobby{}, fmt.Errorf("get lobby: %w", err)
	}
	var lobby domain.Lobby
	if err := json.Unmarshal(raw, &lobby); err != nil {
		return domain.Lobby{}, fmt.Errorf("decode lobby: %w", err)
	}
	return lobby, nil
}

// TransitionLobby compares and sets under WATCH on the lobby key.
func (s *Store) TransitionLobby(ctx context.Context, lobby domain.Lobby, from domain.LobbyStatus) error {
	raw, err := json.Marshal(lobby)
	if err != nil {
		return fmt.Errorf("encode lobby: %w", err)
	}
	key := lobbyKey(lobby.ID)
	return s.retry(ctx, func(tx *redis.Tx) error {
		current, err := getLobby(ctx, tx, lobby.ID)
		if err != nil {
			return err
		}
		if current.Status != from {
			return domain.ErrInvalidTransition
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, s.ttl)
			return nil
		})
		return err
	}, key)
}

func (s *Store) ListLobbies(ctx context.Context, status domain.LobbyStatus) ([]domain.Lobby, error) {
	ids, err := s.client.ZRange(ctx, lobbiesKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list lobbies: %w", err)
	}
	out := make([]domain.Lobby, 0, len(ids))
	var stale []interface{}
	for _, id := range ids {
		lobby, err := s.GetLobby(ctx, id)
		if errors.Is(err, domain.ErrLobbyNotFound) {
			stale = append(stale, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if status == "" || lobby.Status == status {
			out = append(out, lobby)
		}
	}
	if len(stale) > 0 {
		// the lobby keys expired, drop their ids from the index
		if err := s.client.ZRem(ctx, lobbiesKey, stale...).Err(); err != nil {
			log.Printf("redis: prune %d expired lobbies: %v", len(stale), err)
		}
	}
	return out, nil
}

func (s *Store) CreateGroup(ctx context.Context, group domain.Group) error {
	raw, err := json.Marshal(group)
	if err != nil {
		return fmt.Errorf("encode group: %w", err)
	}
	key := groupsKey(group.LobbyID)
	return s.retry(ctx, func(tx *redis.Tx) error {
		if _, err := getLobby(ctx, tx, group.LobbyID); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, key, raw)
			s.touch(ctx, pipe, lobbyKey(group.LobbyID), key)
			return nil
		})
		return err
	}, lobbyKey(group.LobbyID))
}

func (s *Store) GetGroup(ctx context.Context, lobbyID, groupID string) (domain.Group, error) {
	groups, err := s.ListGroups(ctx, lobbyID)
	if err != nil {
		return domain.Group{}, err
	}
	for _, g := range groups {
		if g.ID == groupID {
			return g, nil
		}
	}
	return domain.Group{}, domain.ErrGroupNotFound
}

func (s *Store) ListGroups(ctx context.Context, lobbyID string) ([]domain.Group, error) {
	items, err := s.client.LRange(ctx, groupsKey(lobbyID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	groups := make([]domain.Group, 0, len(items))
	for _, item := range items {
		var g domain.Group
		if err := json.Unmarshal([]byte(item), &g); err != nil {
			return nil, fmt.Errorf("decode group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// AppendAnswer stamps the answer with the Redis server time, never earlier
// than the group's previous answer. The lobby key is watched so a transition
// out of playing committed first rejects the append.
func (s *Store) AppendAnswer(ctx context.Context, lobbyID string, answer domain.Answer) (domain.Answer, error) {
	key := answersKey(lobbyID, answer.GroupID)
	var stored domain.Answer
	err := s.retry(ctx, func(tx *redis.Tx) error {
		lobby, err := getLobby(ctx, tx, lobbyID)
		if err != nil {
			return err
		}
		if lobby.Status != domain.StatusPlaying {
			return domain.ErrLobbyNotPlaying
		}

		now, err := tx.Time(ctx).Result()
		if err != nil {
			return fmt.Errorf("server time: %w", err)
		}
		answer.AnsweredAt = now.UTC()

		last, err := tx.LIndex(ctx, key, -1).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("last answer: %w", err)
		default:
			var prev domain.Answer
			if err := json.Unmarshal(last, &prev); err == nil && answer.AnsweredAt.Before(prev.AnsweredAt) {
				answer.AnsweredAt = prev.AnsweredAt
			}
		}

		raw, err := json.Marshal(answer)
		if err != nil {
			return fmt.Errorf("encode answer: %w", err)
		}
		touched := []string{key, groupsKey(lobbyID)}
		if s.lobbyNeedsTouch(ctx, tx, lobbyID) {
			touched = append(touched, lobbyKey(lobbyID))
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, key, raw)
			s.touch(ctx, pipe, touched...)
			return nil
		})
		if err == nil {
			stored = answer
		}
		return err
	}, lobbyKey(lobbyID), key)
	if err != nil {
		return domain.Answer{}, err
	}
	return stored, nil
}

func (s *Store) ListAnswers(ctx context.Context, lobbyID, groupID string) ([]domain.Answer, error) {
	items, err := s.client.LRange(ctx, answersKey(lobbyID, groupID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	answers := make([]domain.Answer, 0, len(items))
	for _, item := range items {
		var a domain.Answer
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			return nil, fmt.Errorf("decode answer: %w", err)
		}
		answers = append(answers, a)
	}
	return answers, nil
}

// touch refreshes the TTL of keys so a lobby expires as a whole, counted
// from its last write.
func (s *Store) touch(ctx context.Context, pipe redis.Pipeliner, keys ...string) {
	if s.ttl <= 0 {
		return
	}
	for _, key := range keys {
		pipe.Expire(ctx, key, s.ttl)
	}
}

// lobbyNeedsTouch reports whether the watched lobby key has used up half of
// its TTL. Expiring the lobby key invalidates every concurrent append
// watching it, so answers refresh it only then.
func (s *Store) lobbyNeedsTouch(ctx context.Context, tx *redis.Tx, lobbyID string) bool {
	if s.ttl <= 0 {
		return false
	}
	remaining, err := tx.TTL(ctx, lobbyKey(lobbyID)).Result()
	if err != nil {
		log.Printf("redis: ttl of lobby %s: %v", lobbyID, err)
		return true
	}
	return remaining < s.ttl/2
}

// retry runs fn under WATCH, retrying while a concurrent writer touches keys.
func (s *Store) retry(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("redis transaction on %v: too much contention", keys)
}

const lobbiesKey = "lobbies"

func lobbyKey(lobbyID string) string {
	return "lobby:" + lobbyID
}

func groupsKey(lobbyID string) string {
	return "lobby:" + lobbyID + ":groups"
}

func answersKey(lobbyID, groupID string) string {
	return "lobby:" + lobbyID + ":group:" + groupID + ":answers"
}
