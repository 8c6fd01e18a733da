// Package gameloop sequences a room's rounds and turns.
package gameloop

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quillapp/quill-server/internal/cache"
	"github.com/quillapp/quill-server/internal/events"
	"github.com/quillapp/quill-server/internal/logging"
	"github.com/quillapp/quill-server/internal/metrics"
	"github.com/quillapp/quill-server/internal/room"
)

// subscribeRetryBudget bounds retries of a transient cache disconnect before
// the loop gives up on this room entirely.
const subscribeRetryBudget = 50

const pollInterval = 500 * time.Millisecond
const turnCooldown = 2 * time.Second

// Config tunes round/turn pacing; both fields are env-overridable at the
// process level (GAME_ROUNDS, GAME_SEC_PER_ROUND).
type Config struct {
	Rounds      int
	SecPerRound time.Duration
}

// DefaultConfig matches the distilled defaults: one round, 60s per turn.
func DefaultConfig() Config {
	return Config{Rounds: 1, SecPerRound: 60 * time.Second}
}

// LoadWordlist reads one word per line from path, skipping blank lines.
func LoadWordlist(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wordlist %s: %w", path, err)
	}
	defer f.Close()

	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		w := strings.TrimSpace(scanner.Text())
		if w != "" {
			words = append(words, w)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read wordlist %s: %w", path, err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("wordlist %s is empty", path)
	}
	return words, nil
}

// Loop is a per-room background task; construct one and call Run in its
// own goroutine right after the room is created.
type Loop struct {
	cache  *cache.Client
	words  []string
	config Config
}

// New constructs a Loop bound to the given word pool and pacing config.
func New(c *cache.Client, words []string, cfg Config) *Loop {
	return &Loop{cache: c, words: words, config: cfg}
}

// Run blocks until the room's game starts, then drives rounds*N turns before
// publishing the terminal GAME_STATE_CHANGE{ended} event and returning.
func (l *Loop) Run(ctx context.Context, roomID string) {
	channel := room.Channel(roomID)
	sub, err := cache.SubscribeWithRetry(ctx, l.cache, channel, subscribeRetryBudget)
	if err != nil {
		logging.Error(ctx, "game loop failed to subscribe, giving up", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	defer func() { _ = sub.Close() }()

	if !l.waitForStart(ctx, sub) {
		return
	}

	r, ok, err := room.FromCache(ctx, l.cache, roomID)
	if err != nil || !ok {
		logging.Error(ctx, "game loop could not load room after start", zap.String("room_id", roomID), zap.Error(err))
		return
	}

	members := r.Users
	if len(members) == 0 {
		logging.Warn(ctx, "game loop starting with no members", zap.String("room_id", roomID))
	}

	for round := 0; round < l.config.Rounds; round++ {
		for idx, member := range members {
			present, err := room.HasMember(ctx, l.cache, roomID, member)
			if err != nil {
				logging.Error(ctx, "game loop membership check failed", zap.Error(err))
				continue
			}
			if !present {
				continue
			}

			l.runTurn(ctx, roomID, idx, member, len(members))

			select {
			case <-ctx.Done():
				return
			case <-time.After(turnCooldown):
			}
		}
	}

	l.endGame(ctx, roomID)
}

// waitForStart blocks until a GAME_STATE_CHANGE{ongoing} event is observed,
// or the context is canceled.
func (l *Loop) waitForStart(ctx context.Context, sub *redis.PubSub) bool {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-ch:
			if !ok {
				return false
			}
			var env events.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				continue
			}
			if env.EventType != events.TypeGameStateChange {
				continue
			}
			var r room.Room
			if err := json.Unmarshal(env.Data, &r); err != nil {
				continue
			}
			if r.Status == room.StatusOngoing {
				return true
			}
		}
	}
}

func (l *Loop) runTurn(ctx context.Context, roomID string, turn int, drawer events.Member, memberCount int) {
	word := l.words[rand.Intn(len(l.words))]

	if err := l.cache.Set(ctx, room.AnswerKey(roomID), word, 0); err != nil {
		logging.Error(ctx, "failed to set answer", zap.Error(err))
		return
	}
	if err := l.cache.Del(ctx, room.GuessedKey(roomID)); err != nil {
		logging.Error(ctx, "failed to reset guessed set", zap.Error(err))
	}
	// I4: the drawer is pre-seeded into guessed so the completion predicate
	// only waits on the other members.
	if err := l.cache.SAdd(ctx, room.GuessedKey(roomID), drawer.UserID); err != nil {
		logging.Error(ctx, "failed to seed drawer into guessed set", zap.Error(err))
	}

	metrics.TurnsStarted.WithLabelValues(roomID).Inc()

	startEnv, err := events.New(events.TypeTurnStart, events.TurnStartData{User: drawer, Answer: word})
	if err == nil {
		l.publish(ctx, roomID, startEnv)
	}

	turnStarted := time.Now()
	outcome := l.waitForEveryoneGuessed(ctx, roomID, memberCount)
	metrics.TurnGuessedDuration.WithLabelValues(roomID, outcome).Observe(time.Since(turnStarted).Seconds())

	if err := l.cache.Del(ctx, room.GuessedKey(roomID), room.AnswerKey(roomID)); err != nil {
		logging.Error(ctx, "failed to clear turn state", zap.Error(err))
	}

	endEnv, err := events.New(events.TypeTurnEnd, events.TurnEndData{Turn: turn})
	if err == nil {
		l.publish(ctx, roomID, endEnv)
	}
}

// waitForEveryoneGuessed polls until every member has guessed or the per-turn
// timeout elapses; a timeout is not an error.
func (l *Loop) waitForEveryoneGuessed(ctx context.Context, roomID string, memberCount int) string {
	deadline := time.After(l.config.SecPerRound)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "canceled"
		case <-deadline:
			return "timeout"
		case <-ticker.C:
			n, err := l.cache.SCard(ctx, room.GuessedKey(roomID))
			if err != nil {
				logging.Error(ctx, "failed to poll guessed count", zap.Error(err))
				continue
			}
			if int(n) >= memberCount {
				return "all_guessed"
			}
		}
	}
}

func (l *Loop) endGame(ctx context.Context, roomID string) {
	r, ok, err := room.FromCache(ctx, l.cache, roomID)
	if err != nil || !ok {
		logging.Error(ctx, "failed to reload room at game end", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	if err := r.End(ctx, l.cache); err != nil {
		logging.Error(ctx, "failed to mark room ended", zap.Error(err))
		return
	}
	metrics.ActiveRooms.Dec()

	env, err := events.New(events.TypeGameStateChange, r)
	if err != nil {
		logging.Error(ctx, "failed to build end-of-game event", zap.Error(err))
		return
	}
	l.publish(ctx, roomID, env)
}

func (l *Loop) publish(ctx context.Context, roomID string, env events.Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		logging.Error(ctx, "failed to marshal event", zap.Error(err))
		return
	}
	if err := l.cache.Publish(ctx, room.Channel(roomID), string(payload)); err != nil {
		logging.Error(ctx, "failed to publish event", zap.Error(err))
	}
}
