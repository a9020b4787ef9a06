package platform

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ewjax/SubBots/internal/bus"
	"github.com/ewjax/SubBots/internal/config"
	"github.com/ewjax/SubBots/internal/keyexchange"
	"github.com/ewjax/SubBots/internal/observability"
	"github.com/ewjax/SubBots/internal/protocol"
	"github.com/ewjax/SubBots/internal/session"
	"github.com/ewjax/SubBots/model"
)

// scriptedBus replays one batch of messages per Poll call and records
// every publish. When the script runs out it either cancels the run
// context or keeps returning empty batches.
type scriptedBus struct {
	mu         sync.Mutex
	connectErr error
	polls      [][]bus.Message
	pollCount  int
	onExhaust  func()
	published  []bus.Message
	subscribed []string
	connected  bool
}

func (b *scriptedBus) Connect(context.Context) error {
	if b.connectErr != nil {
		return b.connectErr
	}
	b.connected = true
	return nil
}

func (b *scriptedBus) Subscribe(_ context.Context, topics ...string) error {
	b.subscribed = append(b.subscribed, topics...)
	return nil
}

func (b *scriptedBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, bus.Message{Topic: topic, Payload: payload})
	return nil
}

func (b *scriptedBus) Poll(context.Context, time.Duration) ([]bus.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pollCount++
	if b.pollCount > len(b.polls) {
		if b.onExhaust != nil {
			b.onExhaust()
		}
		return nil, nil
	}
	return b.polls[b.pollCount-1], nil
}

func (b *scriptedBus) Disconnect() error {
	if !b.connected {
		return bus.ErrNotConnected
	}
	b.connected = false
	return nil
}

func (b *scriptedBus) count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, m := range b.published {
		if m.Topic == topic {
			n++
		}
	}
	return n
}

func (b *scriptedBus) statuses(t *testing.T) []protocol.Status {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []protocol.Status
	for _, m := range b.published {
		if m.Topic != protocol.TopicPlatformStatus {
			continue
		}
		st, err := protocol.DecodeStatus(m.Payload)
		if err != nil {
			t.Fatalf("platform published undecodable status: %v", err)
		}
		out = append(out, st)
	}
	return out
}

func testSim(announceEvery int) config.SimulationConfig {
	realTime := false
	return config.SimulationConfig{
		TickInterval:  100 * time.Millisecond,
		PollInterval:  time.Millisecond,
		AnnounceEvery: &announceEvery,
		RealTime:      &realTime,
	}
}

func testIdentity(t *testing.T) model.PlatformIdentity {
	t.Helper()
	id, err := model.NewPlatformIdentity(model.RoleSubmarine, model.DefaultBaselineSoundLevel)
	if err != nil {
		t.Fatalf("NewPlatformIdentity: %v", err)
	}
	return id
}

func umpireKey(t *testing.T) (*keyexchange.SessionKeys, bus.Message) {
	t.Helper()
	keys, err := keyexchange.NewSessionKeys()
	if err != nil {
		t.Fatalf("NewSessionKeys: %v", err)
	}
	payload := protocol.EncodeKeyOffer(protocol.KeyOffer{
		SenderID:  protocol.UmpireSenderID,
		PublicKey: keys.PublicBytes(),
	})
	return keys, bus.Message{Topic: protocol.TopicUmpirePublicKey, Payload: payload}
}

func disco() bus.Message { return bus.Message{Topic: protocol.TopicDisco} }

type countingHook struct {
	calls int
	ticks []uint64
}

func (h *countingHook) CommandAndControl(_ context.Context, helm *Helm) error {
	h.calls++
	h.ticks = append(h.ticks, helm.Tick())
	return nil
}

func TestNewRequiresHook(t *testing.T) {
	_, err := New(testIdentity(t), &scriptedBus{}, nil, testSim(0), Options{})
	if !errors.Is(err, ErrNoDecisionHook) {
		t.Fatalf("New without hook err = %v, want ErrNoDecisionHook", err)
	}
}

func TestNewRejectsInvalidRolesAndState(t *testing.T) {
	id := testIdentity(t)
	id.Roles = 0
	if _, err := New(id, &scriptedBus{}, &countingHook{}, testSim(0), Options{}); !errors.Is(err, model.ErrInvalidRoles) {
		t.Fatalf("New with empty roles err = %v", err)
	}

	bad := model.DefaultKinematicState()
	bad.Depth = -5
	_, err := New(testIdentity(t), &scriptedBus{}, &countingHook{}, testSim(0), Options{Initial: &bad})
	if !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("New with invalid state err = %v", err)
	}
}

func TestRunConnectFailure(t *testing.T) {
	b := &scriptedBus{connectErr: errors.New("refused")}
	p, err := New(testIdentity(t), b, &countingHook{}, testSim(0), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = p.Run(context.Background())
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("Run err = %v, want ErrConnect", err)
	}
	if p.SessionState() != session.Disconnected {
		t.Fatalf("state = %v, want disconnected", p.SessionState())
	}
}

func TestRunHandshakeAndDisco(t *testing.T) {
	umpire, keyMsg := umpireKey(t)
	hook := &countingHook{}
	b := &scriptedBus{polls: [][]bus.Message{
		{keyMsg},
		nil,
		{disco()},
		nil,
	}}
	p, err := New(testIdentity(t), b, hook, testSim(0), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The disco arrives during tick 3; that tick completes and the loop
	// exits before polling again.
	if b.pollCount != 3 {
		t.Fatalf("poll count = %d, want 3", b.pollCount)
	}
	if hook.calls != 3 {
		t.Fatalf("hook calls = %d, want 3 (ticks %v)", hook.calls, hook.ticks)
	}
	if p.SessionState() != session.Disconnected {
		t.Fatalf("state = %v, want disconnected", p.SessionState())
	}
	if b.connected {
		t.Fatalf("bus still connected after Run")
	}

	shared, err := p.SharedKey()
	if err != nil {
		t.Fatalf("SharedKey: %v", err)
	}
	offer := lastKeyOffer(t, b)
	if err := umpire.Exchange(offer.PublicKey); err != nil {
		t.Fatalf("umpire exchange: %v", err)
	}
	want, _ := umpire.SharedKey()
	if string(shared) != string(want) {
		t.Fatalf("shared keys differ")
	}
	if len(b.subscribed) != len(protocol.PlatformTopics()) {
		t.Fatalf("subscribed to %v", b.subscribed)
	}
}

func TestDiscoEntersShuttingDownAndFinishesTick(t *testing.T) {
	_, keyMsg := umpireKey(t)
	b := &scriptedBus{polls: [][]bus.Message{
		{keyMsg},
		{disco(), disco()},
	}}
	var p *Platform
	var seen []session.State
	hook := HookFunc(func(context.Context, *Helm) error {
		seen = append(seen, p.SessionState())
		return nil
	})
	var err error
	p, err = New(testIdentity(t), b, hook, testSim(0), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []session.State{session.Running, session.ShuttingDown}
	if len(seen) != len(want) {
		t.Fatalf("hook saw %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("hook saw %v, want %v", seen, want)
		}
	}
	if got := b.count(protocol.TopicPlatformStatus); got != 2 {
		t.Fatalf("status reports = %d, want 2", got)
	}
	if p.SessionState() != session.Disconnected {
		t.Fatalf("state = %v, want disconnected", p.SessionState())
	}
}

func lastKeyOffer(t *testing.T, b *scriptedBus) protocol.KeyOffer {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.published) - 1; i >= 0; i-- {
		if b.published[i].Topic == protocol.TopicPlatformPublicKey {
			offer, err := protocol.DecodeKeyOffer(b.published[i].Payload)
			if err != nil {
				t.Fatalf("DecodeKeyOffer: %v", err)
			}
			return offer
		}
	}
	t.Fatalf("no key offer published")
	return protocol.KeyOffer{}
}

func TestRunningPlatformReportsStatusEachTick(t *testing.T) {
	_, keyMsg := umpireKey(t)
	id := testIdentity(t)
	hook := HookFunc(func(_ context.Context, helm *Helm) error {
		helm.OrderSpeed(20)
		helm.OrderCourse(-90)
		if helm.Tick() == 2 {
			helm.Say("ping")
		}
		return nil
	})
	b := &scriptedBus{polls: [][]bus.Message{{keyMsg}, nil, nil, {disco()}}}
	start := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	p, err := New(id, b, hook, testSim(0), Options{Start: start})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	statuses := b.statuses(t)
	if len(statuses) != 4 {
		t.Fatalf("published %d statuses, want 4", len(statuses))
	}
	for i, st := range statuses {
		if st.Authoritative || st.PlatformID != id.ID {
			t.Fatalf("status %d = %+v", i, st)
		}
		want := start.Add(time.Duration(i+1) * 100 * time.Millisecond)
		if !st.State.Timestamp.Equal(want) {
			t.Fatalf("status %d timestamp = %v, want %v", i, st.State.Timestamp, want)
		}
	}
	// Orders given on tick 1 take effect from tick 2: 5 knots per tick.
	if got := statuses[3].State.Speed; got != 15 {
		t.Fatalf("speed after 4 ticks = %v, want 15", got)
	}
	if got := p.State().CourseOrdered; got != 270 {
		t.Fatalf("course ordered = %v, want 270", got)
	}
	if got := b.count(protocol.TopicGeneral); got != 1 {
		t.Fatalf("general messages = %d, want 1", got)
	}
	// Initial announcement plus one after entering Running.
	if got := b.count(protocol.TopicRegister); got != 2 {
		t.Fatalf("register messages = %d, want 2", got)
	}
}

func TestMalformedStatusIsDroppedThenValidApplied(t *testing.T) {
	id := testIdentity(t)
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	authoritative := model.DefaultKinematicState()
	authoritative.Location = model.Point{X: 120, Y: -40}
	authoritative.Hull = 75
	good := protocol.EncodeStatus(protocol.Status{PlatformID: id.ID, Authoritative: true, State: authoritative})
	other := protocol.EncodeStatus(protocol.Status{PlatformID: id.ID, State: model.DefaultKinematicState()})

	b := &scriptedBus{polls: [][]bus.Message{
		{
			{Topic: protocol.TopicPlatformStatus, Payload: []byte{0xff, 0x01, 0x02}},
			{Topic: protocol.TopicPlatformStatus, Payload: good},
			{Topic: protocol.TopicPlatformStatus, Payload: other},
		},
		{disco()},
	}}
	p, err := New(id, b, &countingHook{}, testSim(0), Options{Metrics: metrics})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := p.State()
	if got.Location != authoritative.Location || got.Hull != 75 {
		t.Fatalf("state = %+v, want authoritative snapshot applied", got)
	}
	dropped := testutil.ToFloat64(metrics.MessagesDropped.WithLabelValues("platform", protocol.TopicPlatformStatus, observability.DropMalformed))
	if dropped != 1 {
		t.Fatalf("dropped malformed = %v, want 1", dropped)
	}
}

func TestFailedKeyExchangeStaysRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	badKey := bus.Message{
		Topic: protocol.TopicUmpirePublicKey,
		Payload: protocol.EncodeKeyOffer(protocol.KeyOffer{
			SenderID:  protocol.UmpireSenderID,
			PublicKey: []byte{0x04, 0x01, 0x02},
		}),
	}
	_, goodKey := umpireKey(t)

	var states []session.State
	hook := &countingHook{}
	b := &scriptedBus{}
	p, err := New(testIdentity(t), b, hook, testSim(0), Options{Metrics: metrics})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b.polls = [][]bus.Message{{badKey}, {goodKey}, {disco()}}
	b.onExhaust = func() { t.Errorf("polled after disco") }
	p.machine.OnTransition(func(_, to session.State) { states = append(states, to) })

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []session.State{
		session.Connected, session.Registered,
		session.KeyExchanged, session.Running,
		session.ShuttingDown, session.Disconnected,
	}
	if len(states) != len(want) {
		t.Fatalf("transitions = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", states, want)
		}
	}
	// Tick 1 failed the exchange; the hook ran on ticks 2 and 3 only.
	if hook.calls != 2 {
		t.Fatalf("hook calls = %d, want 2", hook.calls)
	}
	if v := testutil.ToFloat64(metrics.KeyExchanges.WithLabelValues("platform", "error")); v != 1 {
		t.Fatalf("failed exchanges = %v, want 1", v)
	}
	if v := testutil.ToFloat64(metrics.KeyExchanges.WithLabelValues("platform", "ok")); v != 1 {
		t.Fatalf("successful exchanges = %v, want 1", v)
	}
}

func TestReannounceAndCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hook := &countingHook{}
	b := &scriptedBus{polls: make([][]bus.Message, 4), onExhaust: cancel}
	p, err := New(testIdentity(t), b, hook, testSim(2), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Cancellation is seen on poll 5; that tick completes, then the loop
	// exits. Announcements: initial, tick 2, tick 4.
	if b.pollCount != 5 {
		t.Fatalf("poll count = %d, want 5", b.pollCount)
	}
	if got := b.count(protocol.TopicRegister); got != 3 {
		t.Fatalf("register messages = %d, want 3", got)
	}
	if got := b.count(protocol.TopicPlatformPublicKey); got != 3 {
		t.Fatalf("key offers = %d, want 3", got)
	}
	if hook.calls != 0 {
		t.Fatalf("hook ran without a shared key")
	}
	if _, err := p.SharedKey(); !errors.Is(err, keyexchange.ErrNoSharedKey) {
		t.Fatalf("SharedKey err = %v", err)
	}
	if p.SessionState() != session.Disconnected {
		t.Fatalf("state = %v, want disconnected", p.SessionState())
	}
}

func TestHookErrorDoesNotStopLoop(t *testing.T) {
	_, keyMsg := umpireKey(t)
	calls := 0
	hook := HookFunc(func(context.Context, *Helm) error {
		calls++
		return errors.New("sonar offline")
	})
	b := &scriptedBus{polls: [][]bus.Message{{keyMsg}, nil, {disco()}}}
	p, err := New(testIdentity(t), b, hook, testSim(0), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 3 {
		t.Fatalf("hook calls = %d, want 3", calls)
	}
	if got := len(b.statuses(t)); got != 3 {
		t.Fatalf("statuses = %d, want 3", got)
	}
}

func TestNonTextGeneralAndUnknownTopicAreSurvived(t *testing.T) {
	b := &scriptedBus{polls: [][]bus.Message{
		{
			{Topic: protocol.TopicGeneral, Payload: []byte{0xff, 0xfe}},
			{Topic: "sonar_contact", Payload: []byte("x")},
		},
		{disco()},
	}}
	p, err := New(testIdentity(t), b, &countingHook{}, testSim(0), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if b.pollCount != 2 {
		t.Fatalf("poll count = %d, want 2", b.pollCount)
	}
}

func TestPlatformOverMemoryBroker(t *testing.T) {
	broker := bus.NewBroker()
	defer broker.Close()

	umpire := broker.Client()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := umpire.Connect(ctx); err != nil {
		t.Fatalf("umpire connect: %v", err)
	}
	if err := umpire.Subscribe(ctx, protocol.UmpireTopics()...); err != nil {
		t.Fatalf("umpire subscribe: %v", err)
	}

	p, err := New(testIdentity(t), broker.Client(), &countingHook{}, testSim(1), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	umpireKeys, keyMsg := umpireKey(t)
	var offer protocol.KeyOffer
	for offer.PublicKey == nil {
		msgs, err := umpire.Poll(ctx, 50*time.Millisecond)
		if err != nil {
			t.Fatalf("umpire poll: %v", err)
		}
		for _, m := range msgs {
			if m.Topic == protocol.TopicPlatformPublicKey {
				offer, err = protocol.DecodeKeyOffer(m.Payload)
				if err != nil {
					t.Fatalf("DecodeKeyOffer: %v", err)
				}
			}
		}
	}
	if err := umpireKeys.Exchange(offer.PublicKey); err != nil {
		t.Fatalf("umpire exchange: %v", err)
	}
	if err := umpire.Publish(ctx, keyMsg.Topic, keyMsg.Payload); err != nil {
		t.Fatalf("publish umpire key: %v", err)
	}

	for statusSeen := false; !statusSeen; {
		msgs, err := umpire.Poll(ctx, 50*time.Millisecond)
		if err != nil {
			t.Fatalf("umpire poll: %v", err)
		}
		for _, m := range msgs {
			if m.Topic == protocol.TopicPlatformStatus {
				statusSeen = true
			}
		}
	}
	if err := umpire.Publish(ctx, protocol.TopicDisco, nil); err != nil {
		t.Fatalf("publish disco: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	shared, _ := p.SharedKey()
	want, _ := umpireKeys.SharedKey()
	if string(shared) != string(want) {
		t.Fatalf("shared keys differ")
	}
}
