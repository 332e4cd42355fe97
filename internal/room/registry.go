package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lingopair/lingopair/internal/observe"
)

// codeAlphabet excludes the lookalikes I, L, O, 0, 1 so codes survive being
// read aloud.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

var (
	// ErrRoomNotFound is returned when joining a nonexistent or ended room.
	ErrRoomNotFound = errors.New("room: not found")

	// ErrRoomFull is returned when joining a room that already has a guest.
	ErrRoomFull = errors.New("room: full")

	// ErrSameLanguage is returned when a room is created with an identical
	// language pair.
	ErrSameLanguage = errors.New("room: host and guest languages must differ")
)

// Registry owns every live room in the process. Safe for concurrent use.
type Registry struct {
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRegistry creates an empty registry. Call [Registry.Run] to start the
// idle sweeper.
func NewRegistry(cfg Config, metrics *observe.Metrics, log *slog.Logger) *Registry {
	return &Registry{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		rooms:   make(map[string]*Room),
	}
}

// Create allocates a room with a fresh code, installing the caller as host.
func (reg *Registry) Create(hostName, hostLang, guestLang string, obs Observer) (*Room, *Participant, error) {
	if hostLang == guestLang {
		return nil, nil, ErrSameLanguage
	}

	host := &Participant{
		ID:       uuid.New(),
		Name:     hostName,
		Role:     RoleHost,
		Language: hostLang,
		observer: obs,
	}

	reg.mu.Lock()
	code := reg.freshCodeLocked()
	r := newRoom(code, reg.cfg, time.Now())
	r.host = host
	r.guestLanguage = guestLang
	host.room = r
	reg.rooms[code] = r
	reg.mu.Unlock()

	reg.metrics.ActiveRooms.Add(context.Background(), 1)
	reg.log.Info("room created", "room", code, "host_lang", hostLang, "guest_lang", guestLang)
	return r, host, nil
}

// Join installs the caller as guest of the room with the given code. The
// guest's language is server-assigned: whichever side of the creation pair
// the host did not take. The code is matched case-insensitively.
func (reg *Registry) Join(code, guestName string, obs Observer) (*Room, *Participant, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	reg.mu.Lock()
	r, ok := reg.rooms[code]
	reg.mu.Unlock()
	if !ok || r.ended() {
		return nil, nil, fmt.Errorf("%w: %q", ErrRoomNotFound, code)
	}

	guest := &Participant{
		ID:       uuid.New(),
		Name:     guestName,
		Role:     RoleGuest,
		observer: obs,
	}

	if err := r.attachGuest(guest); err != nil {
		return nil, nil, fmt.Errorf("%w: %q", err, code)
	}
	reg.log.Info("guest joined", "room", code, "guest_lang", guest.Language)
	return r, guest, nil
}

// Get returns the live room with the given code.
func (reg *Registry) Get(code string) (*Room, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[code]
	return r, ok
}

// Leave removes p from its room. Ended rooms stay registered until the
// sweeper collects them, so a late join gets room_not_found rather than a
// recycled code.
func (reg *Registry) Leave(p *Participant) {
	r := p.room
	if r == nil {
		return
	}
	if r.Leave(p) {
		reg.log.Info("room ended", "room", r.Code)
	}
}

// Codes returns the codes of all registered rooms.
func (reg *Registry) Codes() []string {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make([]string, 0, len(reg.rooms))
	for code := range reg.rooms {
		out = append(out, code)
	}
	return out
}

// Run sweeps ended and idle rooms until ctx is cancelled.
func (reg *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(reg.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.Sweep(time.Now())
		}
	}
}

// Sweep deletes rooms that ended or have been idle past the TTL.
func (reg *Registry) Sweep(now time.Time) {
	cutoff := now.Add(-reg.cfg.IdleTTL)

	reg.mu.Lock()
	var expired []*Room
	for code, r := range reg.rooms {
		if r.ended() || r.idleSince(cutoff) {
			expired = append(expired, r)
			delete(reg.rooms, code)
		}
	}
	reg.mu.Unlock()

	for _, r := range expired {
		// Idle rooms that never ended are pushed to ended so connected
		// participants observe the shutdown.
		r.mu.Lock()
		r.setPhaseLocked(PhaseEnded)
		r.mu.Unlock()
		reg.metrics.ActiveRooms.Add(context.Background(), -1)
		reg.log.Info("room expired", "room", r.Code)
	}
}

// freshCodeLocked rejection-samples a code not currently registered.
func (reg *Registry) freshCodeLocked() string {
	for {
		code := randomCode(reg.cfg.CodeLength)
		if _, taken := reg.rooms[code]; !taken {
			return code
		}
	}
}

func randomCode(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = codeAlphabet[rand.IntN(len(codeAlphabet))]
	}
	return string(b)
}
