package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/scythe504/poison-grid/internal"
	"github.com/scythe504/poison-grid/internal/game"
	"github.com/scythe504/poison-grid/internal/pubsub"
	"github.com/scythe504/poison-grid/internal/store"
	"github.com/scythe504/poison-grid/internal/utils"
	"go.uber.org/zap"
)

var (
	// ErrRetry is a lost optimistic race. Nothing was written; the client
	// may resubmit against the state it is about to receive.
	ErrRetry = errors.New("room state changed, please retry")
	// ErrUnavailable wraps store or notifier failures.
	ErrUnavailable = errors.New("room service unavailable")
)

const suggestAttempts = 10

// Session is what the transport knows about a connection.
type Session struct {
	RoomID   string
	PlayerID string
}

func (s Session) Bound() bool {
	return s.RoomID != "" && s.PlayerID != ""
}

// Result describes a committed action.
type Result struct {
	// Room is the committed state, nil when nothing was written.
	Room     *internal.Room
	PlayerID string
	Rejoined bool
}

type Config struct {
	Capacity int
	// DisconnectAttempts bounds replays of the server-originated
	// disconnect on conflict.
	DisconnectAttempts int
}

// Coordinator turns client actions into versioned room writes and
// publishes every committed state.
type Coordinator struct {
	store    store.Store
	notifier pubsub.Notifier
	log      *zap.SugaredLogger
	metrics  *Metrics

	capacity           int
	disconnectAttempts int

	now   func() time.Time
	newID func() string
}

func New(st store.Store, nt pubsub.Notifier, log *zap.SugaredLogger, cfg Config) *Coordinator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.Capacity < internal.MinPlayersToStart {
		cfg.Capacity = internal.MaxPlayersPerRoom
	}
	if cfg.DisconnectAttempts <= 0 {
		cfg.DisconnectAttempts = store.DefaultWriteAttempts
	}
	return &Coordinator{
		store:              st,
		notifier:           nt,
		log:                log,
		metrics:            &Metrics{},
		capacity:           cfg.Capacity,
		disconnectAttempts: cfg.DisconnectAttempts,
		now:                func() time.Time { return time.Now().UTC() },
		newID:              uuid.NewString,
	}
}

func (c *Coordinator) Metrics() *Metrics {
	return c.metrics
}

// Room loads the latest committed state of a room.
func (c *Coordinator) Room(ctx context.Context, roomID string) (*internal.Room, error) {
	room, err := c.store.Load(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("coordinator: load room %s: %w", roomID, err)
	}
	return room, nil
}

// Execute runs one action for the session. Rejections come back as
// *game.RuleError and belong to the requester alone. A result with a
// non-nil Room was committed and published even if err is set.
func (c *Coordinator) Execute(ctx context.Context, sess Session, action Action) (Result, error) {
	switch a := action.(type) {
	case JoinRoom:
		return c.join(ctx, sess, a)

	case PlaceSecret:
		return c.apply(ctx, sess, action, func(room *internal.Room) (*internal.Room, error) {
			return game.PlaceSecret(room, sess.PlayerID, a.Cell)
		})

	case StartGame:
		return c.apply(ctx, sess, action, func(room *internal.Room) (*internal.Room, error) {
			return game.Start(room, sess.PlayerID)
		})

	case RevealCell:
		return c.apply(ctx, sess, action, func(room *internal.Room) (*internal.Room, error) {
			return game.Reveal(room, sess.PlayerID, a.Cell)
		})

	case RestartGame:
		return c.apply(ctx, sess, action, func(room *internal.Room) (*internal.Room, error) {
			return game.Restart(room, sess.PlayerID)
		})

	case LeaveRoom:
		return c.apply(ctx, sess, action, func(room *internal.Room) (*internal.Room, error) {
			return game.Leave(room, sess.PlayerID)
		})

	case TransferHost:
		return c.apply(ctx, sess, action, func(room *internal.Room) (*internal.Room, error) {
			return game.TransferHost(room, sess.PlayerID, a.PlayerID)
		})

	case Disconnect:
		return c.disconnect(ctx, sess)

	default:
		c.metrics.Rejected.Add(1)
		return Result{}, game.Invalid("unsupported action %T", action)
	}
}

func (c *Coordinator) join(ctx context.Context, sess Session, a JoinRoom) (Result, error) {
	if sess.Bound() {
		c.metrics.Rejected.Add(1)
		return Result{}, game.Violation("already in room %s, leave it first", sess.RoomID)
	}
	if !utils.IsValidRoomID(a.RoomID) {
		c.metrics.Rejected.Add(1)
		return Result{}, game.Invalid("room id must be 1-%d letters, digits, '-' or '_'", internal.MaxRoomIDLength)
	}

	res := Result{}
	room, err := store.Mutate(ctx, c.store, a.RoomID, func(current *internal.Room) (*internal.Room, error) {
		res.PlayerID, res.Rejoined = "", false

		if current == nil {
			if a.BoardSize == nil {
				return nil, game.ErrRoomNotFound
			}
			fresh, err := game.NewRoom(a.RoomID, *a.BoardSize, a.AccessSecret, c.capacity, c.now())
			if err != nil {
				return nil, err
			}
			current = fresh
		}

		if a.PlayerID != "" && current.GetPlayer(a.PlayerID) != nil {
			res.PlayerID, res.Rejoined = a.PlayerID, true
			return c.checked(game.Rejoin(current, a.PlayerID, a.AccessSecret))
		}

		// Unknown identities get a fresh one rather than the one asked for.
		res.PlayerID = c.newID()
		return c.checked(game.Join(current, game.JoinRequest{
			PlayerID: res.PlayerID,
			Name:     a.Name,
			Avatar:   a.Avatar,
			Secret:   a.AccessSecret,
		}, c.now()))
	})

	if room == nil {
		res.PlayerID, res.Rejoined = "", false
	}
	return c.finish(ctx, a, a.RoomID, res, room, err)
}

func (c *Coordinator) apply(ctx context.Context, sess Session, action Action, step func(*internal.Room) (*internal.Room, error)) (Result, error) {
	if !sess.Bound() {
		c.metrics.Rejected.Add(1)
		return Result{}, game.Violation("join a room first")
	}

	room, err := store.Mutate(ctx, c.store, sess.RoomID, func(current *internal.Room) (*internal.Room, error) {
		if current == nil {
			return nil, game.ErrRoomNotFound
		}
		return c.checked(step(current))
	})
	return c.finish(ctx, action, sess.RoomID, Result{PlayerID: sess.PlayerID}, room, err)
}

// disconnect replays on conflict: the socket is gone and nobody else will
// resubmit it.
func (c *Coordinator) disconnect(ctx context.Context, sess Session) (Result, error) {
	if !sess.Bound() {
		return Result{}, nil
	}

	room, err := store.MutateRetry(ctx, c.store, sess.RoomID, c.disconnectAttempts, func(current *internal.Room) (*internal.Room, error) {
		if current == nil {
			return nil, game.ErrRoomNotFound
		}
		return c.checked(game.Disconnect(current, sess.PlayerID))
	})
	return c.finish(ctx, Disconnect{}, sess.RoomID, Result{PlayerID: sess.PlayerID}, room, err)
}

// checked refuses to hand a room that breaks an invariant to the store.
func (c *Coordinator) checked(next *internal.Room, err error) (*internal.Room, error) {
	if next == nil {
		return nil, err
	}
	if verr := game.Validate(next); verr != nil {
		return nil, fmt.Errorf("coordinator: invariant broken in room %s: %w", next.Id, verr)
	}
	return next, err
}

// finish publishes a committed room and sorts err into what the requester
// should see.
func (c *Coordinator) finish(ctx context.Context, action Action, roomID string, res Result, room *internal.Room, err error) (Result, error) {
	if room != nil {
		res.Room = room
		c.metrics.Accepted.Add(1)
		c.log.Debugf("[Execute] Room %s: %s committed at version %d", roomID, action.Kind(), room.Version)
		c.publish(ctx, room)
	}
	if err == nil {
		return res, nil
	}

	var ruleErr *game.RuleError
	switch {
	case errors.Is(err, store.ErrConflict):
		c.metrics.Conflicts.Add(1)
		c.log.Infof("[Execute] Room %s: %s lost a version race", roomID, action.Kind())
		return res, ErrRetry

	case errors.As(err, &ruleErr):
		c.metrics.Rejected.Add(1)
		c.log.Debugf("[Execute] Room %s: %s rejected: %s", roomID, action.Kind(), ruleErr.Message)
		return res, ruleErr

	default:
		c.metrics.Failures.Add(1)
		c.log.Errorf("[Execute] Room %s: %s failed: %v", roomID, action.Kind(), err)
		return res, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

// publish failures are not action failures: the write is durable and the
// next publish carries the full state again.
func (c *Coordinator) publish(ctx context.Context, room *internal.Room) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Publish(ctx, room); err != nil {
		c.metrics.PublishFailures.Add(1)
		c.log.Warnf("[Publish] Room %s: version %d not published: %v", room.Id, room.Version, err)
		return
	}
	c.metrics.Published.Add(1)
}

// SuggestRoomID returns a six digit id that is not currently in use.
func (c *Coordinator) SuggestRoomID(ctx context.Context) (string, error) {
	for i := 0; i < suggestAttempts; i++ {
		id, err := utils.GenerateRoomCode()
		if err != nil {
			return "", err
		}
		exists, err := c.store.Exists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if !exists {
			return id, nil
		}
	}
	c.log.Warnf("[SuggestRoomID] %d random codes taken, using fallback", suggestAttempts)
	return utils.FallbackRoomCode(), nil
}

// IsRetryable reports whether the requester can simply try again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetry) || errors.Is(err, ErrUnavailable)
}
