package room_test

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/lingopair/lingopair/internal/observe"
	"github.com/lingopair/lingopair/internal/room"
)

// recorder is an Observer that captures every callback in order.
type recorder struct {
	mu     sync.Mutex
	phases []room.Phase
	joins  []string
	lefts  int
	mutes  []bool
}

func (r *recorder) PhaseChanged(p room.Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, p)
}

func (r *recorder) PartnerJoined(name, language string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joins = append(r.joins, name+"/"+language)
}

func (r *recorder) PartnerLeft() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lefts++
}

func (r *recorder) PartnerMuteChanged(muted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mutes = append(r.mutes, muted)
}

func (r *recorder) phaseLog() []room.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]room.Phase, len(r.phases))
	copy(out, r.phases)
	return out
}

func testConfig() room.Config {
	return room.Config{
		CodeLength:    6,
		IdleTTL:       10 * time.Minute,
		SweepInterval: time.Minute,
		LockoutMargin: 300 * time.Millisecond,
		LockoutMin:    time.Second,
		LockoutMax:    4 * time.Second,
		HostGrace:     2 * time.Second,
		GuestGrace:    time.Second,
	}
}

func newTestRegistry(t *testing.T, cfg room.Config) *room.Registry {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics() error: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return room.NewRegistry(cfg, m, log)
}

// pair creates a room and joins a guest, returning everything the tests poke
// at.
func pair(t *testing.T, reg *room.Registry) (*room.Room, *room.Participant, *room.Participant, *recorder, *recorder) {
	t.Helper()
	hostObs, guestObs := &recorder{}, &recorder{}
	r, host, err := reg.Create("Alice", "en", "es", hostObs)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	_, guest, err := reg.Join(r.Code, "Bob", guestObs)
	if err != nil {
		t.Fatalf("Join() error: %v", err)
	}
	return r, host, guest, hostObs, guestObs
}

func TestCreate_CodeShape(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, testConfig())
	r, host, err := reg.Create("Alice", "en", "es", &recorder{})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if len(r.Code) != 6 {
		t.Errorf("code length = %d, want 6", len(r.Code))
	}
	const alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	for _, c := range r.Code {
		if !strings.ContainsRune(alphabet, c) {
			t.Errorf("code %q contains %q outside the alphabet", r.Code, c)
		}
	}
	if r.Phase() != room.PhaseWaiting {
		t.Errorf("phase = %v, want waiting", r.Phase())
	}
	if host.Role != room.RoleHost || host.Language != "en" {
		t.Errorf("host = %v/%s, want host/en", host.Role, host.Language)
	}
}

func TestCreate_SameLanguageRejected(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, testConfig())
	_, _, err := reg.Create("Alice", "en", "en", &recorder{})
	if !errors.Is(err, room.ErrSameLanguage) {
		t.Fatalf("error = %v, want ErrSameLanguage", err)
	}
}

func TestCreate_CodesUnique(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.CodeLength = 4
	reg := newTestRegistry(t, cfg)

	seen := make(map[string]bool)
	for range 200 {
		r, _, err := reg.Create("Alice", "en", "es", &recorder{})
		if err != nil {
			t.Fatalf("Create() error: %v", err)
		}
		if seen[r.Code] {
			t.Fatalf("code %q allocated twice", r.Code)
		}
		seen[r.Code] = true
	}
}

func TestJoin_AssignsServerSideLanguage(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, testConfig())
	r, _, guest, hostObs, guestObs := pair(t, reg)

	if guest.Language != "es" {
		t.Errorf("guest language = %q, want es", guest.Language)
	}
	if r.Phase() != room.PhaseReady {
		t.Errorf("phase = %v, want ready", r.Phase())
	}
	if got := hostObs.joins; len(got) != 1 || got[0] != "Bob/es" {
		t.Errorf("host joins = %v, want [Bob/es]", got)
	}
	if got := hostObs.phaseLog(); len(got) != 1 || got[0] != room.PhaseReady {
		t.Errorf("host phases = %v, want [ready]", got)
	}
	if got := guestObs.phaseLog(); len(got) != 1 || got[0] != room.PhaseReady {
		t.Errorf("guest phases = %v, want [ready]", got)
	}
}

func TestJoin_MissingRoom(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, testConfig())
	_, _, err := reg.Join("ZZZZZZ", "Bob", &recorder{})
	if !errors.Is(err, room.ErrRoomNotFound) {
		t.Fatalf("error = %v, want ErrRoomNotFound", err)
	}
}

func TestJoin_CaseInsensitive(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, testConfig())
	r, _, err := reg.Create("Alice", "en", "pt", &recorder{})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, _, err := reg.Join(strings.ToLower(r.Code), "Bob", &recorder{}); err != nil {
		t.Fatalf("Join(lowercase) error: %v", err)
	}
}

func TestJoin_FullRoom(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, testConfig())
	r, _, _, _, _ := pair(t, reg)

	_, _, err := reg.Join(r.Code, "Carol", &recorder{})
	if !errors.Is(err, room.ErrRoomFull) {
		t.Fatalf("error = %v, want ErrRoomFull", err)
	}
}

func TestStart_HostOnly(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, testConfig())
	r, host, guest, hostObs, guestObs := pair(t, reg)

	if r.Start(guest) {
		t.Error("guest Start succeeded, want rejection")
	}
	if r.Phase() != room.PhaseReady {
		t.Errorf("phase = %v after guest start, want ready", r.Phase())
	}

	if !r.Start(host) {
		t.Fatal("host Start failed")
	}
	if r.Phase() != room.PhaseActive {
		t.Errorf("phase = %v, want active", r.Phase())
	}
	for name, obs := range map[string]*recorder{"host": hostObs, "guest": guestObs} {
		got := obs.phaseLog()
		if len(got) != 2 || got[1] != room.PhaseActive {
			t.Errorf("%s phases = %v, want [... active]", name, got)
		}
	}
}

func TestEnd_HostOnly(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, testConfig())
	r, host, guest, _, _ := pair(t, reg)
	r.Start(host)

	if r.End(guest) {
		t.Error("guest End succeeded, want rejection")
	}
	if !r.End(host) {
		t.Fatal("host End failed")
	}
	if r.Phase() != room.PhaseReady {
		t.Errorf("phase = %v, want ready", r.Phase())
	}
}

func TestLeave_GuestReturnsToWaiting(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, testConfig())
	r, host, guest, hostObs, _ := pair(t, reg)
	r.Start(host)

	reg.Leave(guest)
	if r.Phase() != room.PhaseWaiting {
		t.Errorf("phase = %v, want waiting", r.Phase())
	}
	if hostObs.lefts != 1 {
		t.Errorf("host PartnerLeft calls = %d, want 1", hostObs.lefts)
	}
}

func TestLeave_HostEndsRoom(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, testConfig())
	r, host, _, _, guestObs := pair(t, reg)
	r.Start(host)

	reg.Leave(host)
	if r.Phase() != room.PhaseEnded {
		t.Errorf("phase = %v, want ended", r.Phase())
	}
	if guestObs.lefts != 1 {
		t.Errorf("guest PartnerLeft calls = %d, want 1", guestObs.lefts)
	}
	got := guestObs.phaseLog()
	if len(got) == 0 || got[len(got)-1] != room.PhaseEnded {
		t.Errorf("guest phases = %v, want trailing ended", got)
	}
}

func TestMute_NotifiesPartnerAndDropsAudio(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, testConfig())
	r, host, guest, _, guestObs := pair(t, reg)
	r.Start(host)

	if !r.AcceptAudio(host) {
		t.Fatal("AcceptAudio = false for active unmuted host")
	}

	if !r.SetMuted(host, true) {
		t.Fatal("SetMuted(true) reported no change")
	}
	if r.SetMuted(host, true) {
		t.Error("repeated SetMuted(true) reported a change")
	}
	if r.AcceptAudio(host) {
		t.Error("AcceptAudio = true for muted participant")
	}
	if got := guestObs.mutes; len(got) != 1 || got[0] != true {
		t.Errorf("guest mute notifications = %v, want [true]", got)
	}

	r.SetMuted(host, false)
	if !r.AcceptAudio(host) {
		t.Error("AcceptAudio = false after unmute")
	}
	_ = guest
}

func TestAcceptAudio_OnlyWhenActive(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, testConfig())
	r, host, _, _, _ := pair(t, reg)

	if r.AcceptAudio(host) {
		t.Error("AcceptAudio = true in ready phase")
	}
	r.Start(host)
	if !r.AcceptAudio(host) {
		t.Error("AcceptAudio = false in active phase")
	}
}

func TestArmLock_ClampsAndBlocksAudio(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, testConfig())
	r, host, guest, _, _ := pair(t, reg)
	r.Start(host)

	tests := []struct {
		name     string
		audioLen time.Duration
		want     time.Duration
	}{
		{"short audio clamps up", 100 * time.Millisecond, time.Second},
		{"mid audio adds margin", 2 * time.Second, 2300 * time.Millisecond},
		{"long audio clamps down", 10 * time.Second, 4 * time.Second},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := r.ArmLock(guest, tc.audioLen); got != tc.want {
				t.Errorf("ArmLock(%v) = %v, want %v", tc.audioLen, got, tc.want)
			}
		})
	}

	if r.AcceptAudio(guest) {
		t.Error("AcceptAudio = true inside the lock window")
	}
	if !r.AcceptAudio(host) {
		t.Error("AcceptAudio = false for the unlocked partner")
	}
}

func TestFloor_GraceKeepsTurn(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.HostGrace = 50 * time.Millisecond
	cfg.GuestGrace = 50 * time.Millisecond
	reg := newTestRegistry(t, cfg)
	r, host, guest, _, _ := pair(t, reg)
	r.Start(host)

	if !r.ClaimFloor(host) {
		t.Fatal("host failed to claim a free floor")
	}
	if r.ClaimFloor(guest) {
		t.Error("guest claimed the floor while host was speaking")
	}

	r.YieldFloor(host)
	if r.ClaimFloor(guest) {
		t.Error("guest claimed the floor inside host grace")
	}
	if !r.ClaimFloor(host) {
		t.Error("host could not reclaim its own floor during grace")
	}

	r.YieldFloor(host)
	time.Sleep(80 * time.Millisecond)
	if !r.ClaimFloor(guest) {
		t.Error("guest could not claim the floor after grace lapsed")
	}
}

func TestSweep_CollectsEndedAndIdleRooms(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.IdleTTL = 10 * time.Millisecond
	reg := newTestRegistry(t, cfg)

	ended, host, _, _, _ := pair(t, reg)
	reg.Leave(host)

	idle, _, err := reg.Create("Carol", "en", "pt", &recorder{})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	fresh, _, err := reg.Create("Dave", "es", "en", &recorder{})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	reg.Sweep(time.Now())

	if _, ok := reg.Get(ended.Code); ok {
		t.Error("ended room survived the sweep")
	}
	if _, ok := reg.Get(idle.Code); ok {
		t.Error("idle room survived the sweep")
	}
	if idle.Phase() != room.PhaseEnded {
		t.Errorf("idle room phase = %v, want ended", idle.Phase())
	}
	if _, ok := reg.Get(fresh.Code); !ok {
		t.Error("fresh room was swept")
	}
}
