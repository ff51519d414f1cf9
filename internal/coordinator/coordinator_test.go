package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/scythe504/poison-grid/internal"
	"github.com/scythe504/poison-grid/internal/game"
	"github.com/scythe504/poison-grid/internal/pubsub"
	"github.com/scythe504/poison-grid/internal/store"
	"github.com/scythe504/poison-grid/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a Notifier that keeps every publish.
type recorder struct {
	mu    sync.Mutex
	rooms []*internal.Room
	fail  error
}

func (r *recorder) Publish(_ context.Context, room *internal.Room) error {
	if r.fail != nil {
		return r.fail
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = append(r.rooms, room.Clone())
	return nil
}

func (r *recorder) Subscribe(context.Context, pubsub.Handler) error { return nil }
func (r *recorder) Close() error                                    { return nil }

func (r *recorder) versions(roomID string) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int64
	for _, room := range r.rooms {
		if room.Id == roomID {
			out = append(out, room.Version)
		}
	}
	return out
}

type fixture struct {
	coord *Coordinator
	store *store.MemoryStore
	pub   *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore(store.DefaultRetention())
	pub := &recorder{}
	return &fixture{coord: New(st, pub, nil, Config{}), store: st, pub: pub}
}

func boardSize(n int) *int { return &n }

func (f *fixture) join(t *testing.T, roomID, name string, size *int) Session {
	t.Helper()
	res, err := f.coord.Execute(context.Background(), Session{}, JoinRoom{RoomID: roomID, Name: name, BoardSize: size})
	require.NoError(t, err)
	require.NotEmpty(t, res.PlayerID)
	return Session{RoomID: roomID, PlayerID: res.PlayerID}
}

func (f *fixture) do(t *testing.T, sess Session, a Action) *internal.Room {
	t.Helper()
	res, err := f.coord.Execute(context.Background(), sess, a)
	require.NoError(t, err)
	require.NotNil(t, res.Room)
	return res.Room
}

// startedRoom: two players with secrets at (0,0) and (4,4), round started.
func (f *fixture) startedRoom(t *testing.T, roomID string) (Session, Session) {
	t.Helper()
	host := f.join(t, roomID, "Ann", boardSize(5))
	guest := f.join(t, roomID, "Bob", nil)
	f.do(t, host, PlaceSecret{Cell: internal.Cell{Row: 0, Col: 0}})
	f.do(t, guest, PlaceSecret{Cell: internal.Cell{Row: 4, Col: 4}})
	f.do(t, host, StartGame{})
	return host, guest
}

func TestJoin_CreatesRoomAndFirstPlayerHosts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.coord.Execute(ctx, Session{}, JoinRoom{RoomID: "100200", Name: "Ann", BoardSize: boardSize(6)})
	require.NoError(t, err)
	assert.False(t, res.Rejoined)
	assert.Equal(t, 6, res.Room.BoardSize)
	assert.Equal(t, res.PlayerID, res.Room.HostId)
	assert.Equal(t, int64(1), res.Room.Version)

	res2, err := f.coord.Execute(ctx, Session{}, JoinRoom{RoomID: "100200", Name: "Bob", BoardSize: boardSize(9)})
	require.NoError(t, err)
	assert.Equal(t, 6, res2.Room.BoardSize, "board size only applies on creation")
	assert.NotEqual(t, res.PlayerID, res2.PlayerID)
	assert.Equal(t, []int64{1, 2}, f.pub.versions("100200"))
}

func TestJoin_MissingRoomNeedsBoardSize(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.Execute(context.Background(), Session{}, JoinRoom{RoomID: "404404"})
	assert.ErrorIs(t, err, game.ErrRoomNotFound)
	assert.Equal(t, int64(1), f.coord.Metrics().Rejected.Load())
	assert.Empty(t, f.pub.versions("404404"))
}

func TestJoin_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.join(t, "room-a", "Ann", boardSize(5))

	_, err := f.coord.Execute(ctx, sess, JoinRoom{RoomID: "room-b", BoardSize: boardSize(5)})
	var ruleErr *game.RuleError
	require.ErrorAs(t, err, &ruleErr)
	assert.Equal(t, game.KindRule, ruleErr.Kind)

	_, err = f.coord.Execute(ctx, Session{}, JoinRoom{RoomID: "no spaces", BoardSize: boardSize(5)})
	require.ErrorAs(t, err, &ruleErr)
	assert.Equal(t, game.KindValidation, ruleErr.Kind)

	_, err = f.coord.Execute(ctx, Session{}, JoinRoom{RoomID: "tiny", BoardSize: boardSize(3)})
	require.ErrorAs(t, err, &ruleErr)
	assert.Equal(t, game.KindValidation, ruleErr.Kind)
}

func TestActionsNeedABoundSession(t *testing.T) {
	f := newFixture(t)
	for _, a := range []Action{StartGame{}, RevealCell{}, PlaceSecret{}, RestartGame{}, LeaveRoom{}, TransferHost{PlayerID: "x"}} {
		_, err := f.coord.Execute(context.Background(), Session{}, a)
		var ruleErr *game.RuleError
		assert.ErrorAs(t, err, &ruleErr, a.Kind())
	}
}

func TestVersionsIncreaseByOne(t *testing.T) {
	f := newFixture(t)
	host, guest := f.startedRoom(t, "seq")

	f.do(t, host, RevealCell{Cell: internal.Cell{Row: 2, Col: 2}})
	f.do(t, guest, RevealCell{Cell: internal.Cell{Row: 2, Col: 3}})

	versions := f.pub.versions("seq")
	require.Len(t, versions, 7)
	for i, v := range versions {
		assert.Equal(t, int64(i+1), v)
	}
	assert.Equal(t, int64(7), f.coord.Metrics().Accepted.Load())
	assert.Equal(t, int64(7), f.coord.Metrics().Published.Load())
}

func TestRejectionIsNotWritten(t *testing.T) {
	f := newFixture(t)
	_, guest := f.startedRoom(t, "turns")

	_, err := f.coord.Execute(context.Background(), guest, RevealCell{Cell: internal.Cell{Row: 1, Col: 1}})
	var ruleErr *game.RuleError
	require.ErrorAs(t, err, &ruleErr)
	assert.Equal(t, "it is not your turn", ruleErr.Message)

	room, err := f.store.Load(context.Background(), "turns")
	require.NoError(t, err)
	assert.Equal(t, int64(5), room.Version)
	assert.Len(t, f.pub.versions("turns"), 5)
}

func TestSecretCollisionCommitsAndReports(t *testing.T) {
	f := newFixture(t)
	host := f.join(t, "clash", "Ann", boardSize(5))
	guest := f.join(t, "clash", "Bob", nil)
	f.do(t, host, PlaceSecret{Cell: internal.Cell{Row: 1, Col: 1}})

	res, err := f.coord.Execute(context.Background(), guest, PlaceSecret{Cell: internal.Cell{Row: 1, Col: 1}})
	assert.ErrorIs(t, err, game.ErrSecretCollision)
	require.NotNil(t, res.Room, "cleared state is committed")
	for _, p := range res.Room.Players {
		assert.Nil(t, p.PoisonPosition)
	}
	assert.Equal(t, []int64{1, 2, 3, 4}, f.pub.versions("clash"))

	f.do(t, host, PlaceSecret{Cell: internal.Cell{Row: 1, Col: 1}})
	f.do(t, guest, PlaceSecret{Cell: internal.Cell{Row: 2, Col: 2}})
	room := f.do(t, host, StartGame{})
	assert.True(t, room.Started)
}

// barrierStore holds every Load until two have happened while armed.
type barrierStore struct {
	store.Store
	armed atomic.Bool
	loads sync.WaitGroup
}

func (b *barrierStore) Load(ctx context.Context, roomID string) (*internal.Room, error) {
	room, err := b.Store.Load(ctx, roomID)
	if b.armed.Load() {
		b.loads.Done()
		b.loads.Wait()
	}
	return room, err
}

func TestConcurrentRevealsOneWins(t *testing.T) {
	mem := store.NewMemoryStore(store.DefaultRetention())
	bs := &barrierStore{Store: mem}
	pub := &recorder{}
	coord := New(bs, pub, nil, Config{})
	f := &fixture{coord: coord, store: mem, pub: pub}

	host, _ := f.startedRoom(t, "race")

	bs.loads.Add(2)
	bs.armed.Store(true)

	cells := []internal.Cell{{Row: 2, Col: 2}, {Row: 3, Col: 3}}
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range cells {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = coord.Execute(context.Background(), host, RevealCell{Cell: cells[i]})
		}(i)
	}
	wg.Wait()
	bs.armed.Store(false)

	ok, retry := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrRetry):
			retry++
			assert.Equal(t, "room state changed, please retry", err.Error())
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, retry)
	assert.Equal(t, int64(1), coord.Metrics().Conflicts.Load())

	room, err := mem.Load(context.Background(), "race")
	require.NoError(t, err)
	assert.Len(t, room.RevealedCells, 1)
	assert.Equal(t, int64(6), room.Version)
}

func TestDisconnectAndRejoin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	host := f.join(t, "back", "Ann", boardSize(5))
	guest := f.join(t, "back", "Bob", nil)
	third := f.join(t, "back", "Cy", nil)
	for i, s := range []Session{host, guest, third} {
		f.do(t, s, PlaceSecret{Cell: internal.Cell{Row: 0, Col: i}})
	}
	f.do(t, host, StartGame{})

	room := f.do(t, guest, Disconnect{})
	assert.False(t, room.GetPlayer(guest.PlayerID).Connected)
	assert.True(t, room.GetPlayer(guest.PlayerID).Alive)

	room = f.do(t, host, RevealCell{Cell: internal.Cell{Row: 4, Col: 4}})
	turn := room.CurrentTurnIndex
	assert.Equal(t, third.PlayerID, room.CurrentPlayer().Id)

	res, err := f.coord.Execute(ctx, Session{}, JoinRoom{RoomID: "back", PlayerID: guest.PlayerID})
	require.NoError(t, err)
	assert.True(t, res.Rejoined)
	assert.Equal(t, guest.PlayerID, res.PlayerID)
	assert.True(t, res.Room.GetPlayer(guest.PlayerID).Connected)
	assert.True(t, res.Room.GetPlayer(guest.PlayerID).Alive)
	assert.Equal(t, turn, res.Room.CurrentTurnIndex)
}

func TestRejoin_ConnectedPlayerCannotBeTakenOver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join(t, "seat", "Ann", boardSize(5))
	guest := f.join(t, "seat", "Bob", nil)
	before := f.pub.versions("seat")

	res, err := f.coord.Execute(ctx, Session{}, JoinRoom{RoomID: "seat", PlayerID: guest.PlayerID})
	var ruleErr *game.RuleError
	require.ErrorAs(t, err, &ruleErr)
	assert.Contains(t, ruleErr.Message, "already connected")
	assert.Nil(t, res.Room)
	assert.Empty(t, res.PlayerID)
	assert.Equal(t, before, f.pub.versions("seat"), "nothing published")

	room, err := f.coord.Room(ctx, "seat")
	require.NoError(t, err)
	assert.True(t, room.GetPlayer(guest.PlayerID).Connected)
	assert.Equal(t, int64(2), room.Version)
}

func TestJoin_UnknownPlayerIDGetsFreshIdentity(t *testing.T) {
	f := newFixture(t)
	f.join(t, "fresh", "Ann", boardSize(5))

	res, err := f.coord.Execute(context.Background(), Session{}, JoinRoom{RoomID: "fresh", PlayerID: "made-up"})
	require.NoError(t, err)
	assert.False(t, res.Rejoined)
	assert.NotEqual(t, "made-up", res.PlayerID)
}

func TestDisconnectOfUnboundSessionIsNoop(t *testing.T) {
	f := newFixture(t)
	res, err := f.coord.Execute(context.Background(), Session{}, Disconnect{})
	assert.NoError(t, err)
	assert.Nil(t, res.Room)
}

func TestLeaveAndTransferHost(t *testing.T) {
	f := newFixture(t)
	host := f.join(t, "exit", "Ann", boardSize(5))
	guest := f.join(t, "exit", "Bob", nil)

	room := f.do(t, host, TransferHost{PlayerID: guest.PlayerID})
	assert.Equal(t, guest.PlayerID, room.HostId)

	room = f.do(t, host, LeaveRoom{})
	p := room.GetPlayer(host.PlayerID)
	require.NotNil(t, p)
	assert.False(t, p.Connected)
	assert.False(t, p.Alive)
}

func TestPublishFailureDoesNotFailAction(t *testing.T) {
	st := store.NewMemoryStore(store.DefaultRetention())
	pub := &recorder{fail: errors.New("bus down")}
	coord := New(st, pub, nil, Config{})

	res, err := coord.Execute(context.Background(), Session{}, JoinRoom{RoomID: "quiet", BoardSize: boardSize(5)})
	require.NoError(t, err)
	require.NotNil(t, res.Room)
	assert.Equal(t, int64(1), coord.Metrics().PublishFailures.Load())

	exists, err := st.Exists(context.Background(), "quiet")
	require.NoError(t, err)
	assert.True(t, exists)
}

// brokenStore fails every call.
type brokenStore struct{ store.Store }

func (brokenStore) Load(context.Context, string) (*internal.Room, error) {
	return nil, errors.New("connection refused")
}

func (brokenStore) Exists(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}

func TestStoreFailureIsUnavailable(t *testing.T) {
	coord := New(brokenStore{}, &recorder{}, nil, Config{})

	_, err := coord.Execute(context.Background(), Session{}, JoinRoom{RoomID: "x", BoardSize: boardSize(5)})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, int64(1), coord.Metrics().Failures.Load())

	_, err = coord.SuggestRoomID(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSuggestRoomID(t *testing.T) {
	f := newFixture(t)
	id, err := f.coord.SuggestRoomID(context.Background())
	require.NoError(t, err)
	assert.Len(t, id, 6)
	assert.True(t, utils.IsValidRoomID(id))

	exists, err := f.store.Exists(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, exists)
}
