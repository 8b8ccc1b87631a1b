package confctl

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Concord/internal/adapters/db"
	"github.com/dkeye/Concord/internal/adapters/keyvalue"
	"github.com/dkeye/Concord/internal/app/breakout"
	"github.com/dkeye/Concord/internal/app/chat"
	"github.com/dkeye/Concord/internal/app/permissions"
	"github.com/dkeye/Concord/internal/app/rooms"
	"github.com/dkeye/Concord/internal/app/syncobj"
	"github.com/dkeye/Concord/internal/core"
	"github.com/dkeye/Concord/internal/scheduler"
)

type sentEvent struct {
	event   string
	payload any
}

type fakeClientConn struct {
	mu     sync.Mutex
	events []sentEvent
	closed bool
}

func (c *fakeClientConn) Send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, sentEvent{event: event, payload: payload})
	return nil
}

func (c *fakeClientConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeClientConn) sent() []sentEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sentEvent, len(c.events))
	copy(out, c.events)
	return out
}

func (c *fakeClientConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeClientConn) countEvent(name string) int {
	n := 0
	for _, e := range c.sent() {
		if e.event == name {
			n++
		}
	}
	return n
}

type testEnv struct {
	svc   *Service
	repo  *db.MemoryRepository
	rooms *rooms.Service
	sync  *syncobj.Registry
}

func newTestEnv(t *testing.T, conf *db.Conference) *testEnv {
	t.Helper()
	repo := db.NewMemoryRepository()
	if err := repo.CreateConference(context.Background(), conf); err != nil {
		t.Fatal(err)
	}

	locks := keyvalue.NewMemoryStore()
	registry := syncobj.NewRegistry()
	conns := NewConnections()
	lockTimeout := time.Second

	roomsSvc := rooms.NewService(registry, locks, lockTimeout)
	permsSvc := permissions.NewService(repo, roomsSvc, registry, locks, lockTimeout)
	breakoutSvc := breakout.NewService(roomsSvc, registry, locks, lockTimeout, scheduler.NewManual())
	chatSvc := chat.NewService(registry, conns, locks, lockTimeout)
	svc := NewService(repo, roomsSvc, permsSvc, breakoutSvc, chatSvc, registry, conns, locks, lockTimeout)

	registry.Register(CategoryConferenceInfo, NewProvider(svc))
	registry.Register(rooms.CategoryRooms, rooms.NewProvider(roomsSvc))
	registry.Register(breakout.CategoryBreakoutRooms, breakout.NewProvider(breakoutSvc))
	registry.Register(chat.CategoryChat, chat.NewProvider(chatSvc))
	registry.Register(permissions.CategoryPermissions, permissions.NewProvider(permsSvc))

	return &testEnv{svc: svc, repo: repo, rooms: roomsSvc, sync: registry}
}

func join(t *testing.T, env *testEnv, participantID, connectionID string) (*fakeClientConn, core.Participant) {
	t.Helper()
	conn := &fakeClientConn{}
	p := core.NewParticipant("conf1", participantID)
	meta := core.ParticipantMetadata{DisplayName: participantID}
	if derr := env.svc.Join(context.Background(), p, meta, connectionID, conn); derr != nil {
		t.Fatalf("Join: %v", derr)
	}
	return conn, p
}

func TestJoinEstablishesDefaultSubscriptions(t *testing.T) {
	env := newTestEnv(t, &db.Conference{ID: "conf1"})
	conn, p := join(t, env, "u1", "c1")

	if got := conn.countEvent(core.EventSyncObjState); got != 5 {
		t.Errorf("full-state pushes = %d, want 5", got)
	}

	seen := make(map[string]bool)
	for _, e := range conn.sent() {
		if e.event != core.EventSyncObjState {
			continue
		}
		state := e.payload.(syncobj.StatePayload)
		seen[state.ID.Category] = true
	}
	for _, category := range []string{CategoryConferenceInfo, rooms.CategoryRooms, breakout.CategoryBreakoutRooms, chat.CategoryChat, permissions.CategoryPermissions} {
		if !seen[category] {
			t.Errorf("missing default subscription for %s", category)
		}
	}

	if snap := env.rooms.Snapshot("conf1"); snap.Participants[p.ID] != rooms.DefaultRoomID {
		t.Errorf("joiner must sit in the default room, got %s", snap.Participants[p.ID])
	}
}

func TestJoinSubscribeFailureLeavesNoTrace(t *testing.T) {
	repo := db.NewMemoryRepository()
	if err := repo.CreateConference(context.Background(), &db.Conference{ID: "conf1"}); err != nil {
		t.Fatal(err)
	}

	locks := keyvalue.NewMemoryStore()
	registry := syncobj.NewRegistry()
	conns := NewConnections()
	lockTimeout := time.Second

	roomsSvc := rooms.NewService(registry, locks, lockTimeout)
	permsSvc := permissions.NewService(repo, roomsSvc, registry, locks, lockTimeout)
	breakoutSvc := breakout.NewService(roomsSvc, registry, locks, lockTimeout, scheduler.NewManual())
	chatSvc := chat.NewService(registry, conns, locks, lockTimeout)
	svc := NewService(repo, roomsSvc, permsSvc, breakoutSvc, chatSvc, registry, conns, locks, lockTimeout)

	// The permissions provider is left unregistered, so the last default
	// subscription fails mid-join.
	registry.Register(CategoryConferenceInfo, NewProvider(svc))
	registry.Register(rooms.CategoryRooms, rooms.NewProvider(roomsSvc))
	registry.Register(breakout.CategoryBreakoutRooms, breakout.NewProvider(breakoutSvc))
	registry.Register(chat.CategoryChat, chat.NewProvider(chatSvc))

	conn := &fakeClientConn{}
	p := core.NewParticipant("conf1", "u1")
	derr := svc.Join(context.Background(), p, core.ParticipantMetadata{DisplayName: "u1"}, "c1", conn)
	if derr == nil {
		t.Fatal("join must fail when a default subscription cannot be established")
	}

	if snap := roomsSvc.Snapshot("conf1"); len(snap.Participants) != 0 {
		t.Errorf("room assignment must be rolled back, got %v", snap.Participants)
	}
	if _, ok := svc.Connections().Get(p); ok {
		t.Error("connection binding must be rolled back")
	}

	// The partial subscriptions are gone as well: later pushes reach nobody.
	before := conn.countEvent(core.EventSyncObjUpdated)
	if _, derr := roomsSvc.CreateRooms(context.Background(), "conf1", []rooms.RoomCreationInfo{{DisplayName: "Side"}}); derr != nil {
		t.Fatal(derr)
	}
	if after := conn.countEvent(core.EventSyncObjUpdated); after != before {
		t.Errorf("rejected participant received %d patches after join failure", after-before)
	}
}

func TestJoinUnknownConferenceRejected(t *testing.T) {
	env := newTestEnv(t, &db.Conference{ID: "conf1"})
	conn := &fakeClientConn{}
	p := core.NewParticipant("missing", "u1")
	derr := env.svc.Join(context.Background(), p, core.ParticipantMetadata{}, "c1", conn)
	if derr == nil || derr.Code != core.CodeConferenceNotFound {
		t.Fatalf("derr = %v", derr)
	}
}

func TestReconnectPushesOutOldConnection(t *testing.T) {
	env := newTestEnv(t, &db.Conference{ID: "conf1"})
	oldConn, _ := join(t, env, "u1", "c1")
	newConn, p := join(t, env, "u1", "c2")

	if oldConn.countEvent(core.EventRequestDisconnect) != 1 {
		t.Error("old connection must be asked to disconnect")
	}
	if !oldConn.isClosed() {
		t.Error("old connection must be closed")
	}

	// The late disconnect of the old connection must not evict the new one.
	env.svc.OnDisconnected(context.Background(), p, "c1")
	pc, ok := env.svc.Connections().Get(p)
	if !ok || pc.ConnectionID != "c2" {
		t.Fatalf("new connection must survive the stale disconnect, got %+v", pc)
	}
	if newConn.isClosed() {
		t.Error("new connection must stay open")
	}
}

func TestOnDisconnectedCleansUp(t *testing.T) {
	env := newTestEnv(t, &db.Conference{ID: "conf1"})
	conn, p := join(t, env, "u1", "c1")

	env.svc.OnDisconnected(context.Background(), p, "c1")

	if _, ok := env.svc.Connections().Get(p); ok {
		t.Error("connection must be unbound")
	}
	if snap := env.rooms.Snapshot("conf1"); len(snap.Participants) != 0 {
		t.Errorf("room assignment must be dropped, got %v", snap.Participants)
	}

	// No further pushes reach the closed subscriptions.
	before := len(conn.sent())
	if derr := env.svc.OpenConference(context.Background(), "conf1"); derr != nil {
		t.Fatal(derr)
	}
	if after := len(conn.sent()); after != before {
		t.Errorf("disconnected participant received %d new events", after-before)
	}
}

func TestOpenAndCloseConference(t *testing.T) {
	env := newTestEnv(t, &db.Conference{ID: "conf1"})
	conn, _ := join(t, env, "u1", "c1")

	if derr := env.svc.OpenConference(context.Background(), "conf1"); derr != nil {
		t.Fatalf("OpenConference: %v", derr)
	}
	open, err := env.svc.IsConferenceOpen(context.Background(), "conf1")
	if err != nil || !open {
		t.Fatalf("open = %v, err = %v", open, err)
	}
	if conn.countEvent(core.EventSyncObjUpdated) == 0 {
		t.Error("open flag change must be pushed")
	}

	if derr := env.svc.CloseConference(context.Background(), "conf1"); derr != nil {
		t.Fatalf("CloseConference: %v", derr)
	}
	open, err = env.svc.IsConferenceOpen(context.Background(), "conf1")
	if err != nil || open {
		t.Fatalf("open = %v, err = %v", open, err)
	}
}

func TestCloseConferenceEndsBreakoutSession(t *testing.T) {
	env := newTestEnv(t, &db.Conference{ID: "conf1"})
	join(t, env, "u1", "c1")

	if derr := env.svc.OpenConference(context.Background(), "conf1"); derr != nil {
		t.Fatal(derr)
	}
	if derr := env.svc.breakout.Open(context.Background(), "conf1", breakout.OpenRequest{
		Config: breakout.Config{Amount: 2},
	}); derr != nil {
		t.Fatal(derr)
	}

	if derr := env.svc.CloseConference(context.Background(), "conf1"); derr != nil {
		t.Fatal(derr)
	}

	if state := env.svc.breakout.Snapshot("conf1"); state.Active != nil {
		t.Error("closing the conference must end the breakout session")
	}
	if snap := env.rooms.Snapshot("conf1"); len(snap.Rooms) != 1 {
		t.Errorf("breakout rooms must be gone, have %d", len(snap.Rooms))
	}
}

func TestKickParticipant(t *testing.T) {
	env := newTestEnv(t, &db.Conference{ID: "conf1"})
	conn, p := join(t, env, "u1", "c1")

	if derr := env.svc.KickParticipant(context.Background(), p); derr != nil {
		t.Fatalf("KickParticipant: %v", derr)
	}

	if conn.countEvent(core.EventRequestDisconnect) != 1 {
		t.Error("kick must request a disconnect")
	}
	if !conn.isClosed() {
		t.Error("kick must close the connection")
	}
	if _, ok := env.svc.Connections().Get(p); ok {
		t.Error("kicked participant must be unbound")
	}

	ghost := core.NewParticipant("conf1", "nobody")
	if derr := env.svc.KickParticipant(context.Background(), ghost); derr == nil {
		t.Error("kicking an unconnected participant must fail")
	}
}

func TestBroadcastReachesConferenceOnly(t *testing.T) {
	env := newTestEnv(t, &db.Conference{ID: "conf1"})
	if err := env.repo.CreateConference(context.Background(), &db.Conference{ID: "conf2"}); err != nil {
		t.Fatal(err)
	}

	conn1, _ := join(t, env, "u1", "c1")

	conn2 := &fakeClientConn{}
	p2 := core.NewParticipant("conf2", "u2")
	if derr := env.svc.Join(context.Background(), p2, core.ParticipantMetadata{}, "c2", conn2); derr != nil {
		t.Fatal(derr)
	}

	before1, before2 := len(conn1.sent()), len(conn2.sent())
	env.svc.Connections().Broadcast("conf1", "TestEvent", "hi")

	if got := len(conn1.sent()) - before1; got != 1 {
		t.Errorf("conf1 connection got %d events, want 1", got)
	}
	if got := len(conn2.sent()) - before2; got != 0 {
		t.Errorf("conf2 connection got %d events, want 0", got)
	}
}
