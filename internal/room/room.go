// Package room implements the two-party session registry: room lifecycle,
// the session phase machine, mute state, echo suppression, and turn taking.
//
// A Room binds a host and at most one guest. All phase mutation, slot
// assignment, and observer notification happen under the room's lock; model
// calls never do.
package room

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Phase is the session-level state controlling mic capture and which
// control markers are accepted.
type Phase string

const (
	PhaseWaiting Phase = "waiting"
	PhaseReady   Phase = "ready"
	PhaseActive  Phase = "active"
	PhaseEnded   Phase = "ended"
)

// Role distinguishes the room creator from the joiner. Only the host may
// start and end the session.
type Role int

const (
	RoleHost Role = iota
	RoleGuest
)

// String returns the wire name of the role.
func (r Role) String() string {
	if r == RoleHost {
		return "host"
	}
	return "guest"
}

// Observer receives a participant's session events. Implementations must not
// block: callbacks run under the room lock and should only enqueue.
type Observer interface {
	PhaseChanged(phase Phase)
	PartnerJoined(name, language string)
	PartnerLeft()
	PartnerMuteChanged(muted bool)
}

// Participant is one side of a room. Fields are fixed at join time; mutable
// state is guarded by the owning room's lock.
type Participant struct {
	ID       uuid.UUID
	Name     string
	Role     Role
	Language string

	room     *Room
	observer Observer

	muted       bool
	lockedUntil time.Time
}

// Room returns the room this participant belongs to.
func (p *Participant) Room() *Room {
	return p.room
}

// Config tunes room behavior. Zero values are not defaulted here; callers
// build it from the validated configuration.
type Config struct {
	CodeLength    int
	IdleTTL       time.Duration
	SweepInterval time.Duration

	// Echo suppression lock window: synthesized audio length plus
	// LockoutMargin, clamped to [LockoutMin, LockoutMax].
	LockoutMargin time.Duration
	LockoutMin    time.Duration
	LockoutMax    time.Duration

	// Floor-holding grace per role.
	HostGrace  time.Duration
	GuestGrace time.Duration
}

// Room is a two-party session. Safe for concurrent use.
type Room struct {
	Code string

	cfg Config

	// guestLanguage is the side of the creation pair the host did not take.
	// Assigned to the guest at join.
	guestLanguage string

	mu           sync.Mutex
	phase        Phase
	host         *Participant
	guest        *Participant
	floor        floor
	lastActivity time.Time
}

func newRoom(code string, cfg Config, now time.Time) *Room {
	return &Room{
		Code:         code,
		cfg:          cfg,
		phase:        PhaseWaiting,
		lastActivity: now,
	}
}

// Phase returns the current session phase.
func (r *Room) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Partner returns the other participant, or nil while the room is waiting.
func (r *Room) Partner(p *Participant) *Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.partnerLocked(p)
}

func (r *Room) partnerLocked(p *Participant) *Participant {
	if p == r.host {
		return r.guest
	}
	return r.host
}

// GuestLanguage returns the language the guest slot is assigned at join.
func (r *Room) GuestLanguage() string {
	return r.guestLanguage
}

// Touch marks the room active for the idle sweeper.
func (r *Room) Touch() {
	r.mu.Lock()
	r.lastActivity = time.Now()
	r.mu.Unlock()
}

// Start transitions waiting|ready to active. Only the host may start;
// requests from the guest or in other phases are ignored and return false.
func (r *Room) Start(p *Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.Role != RoleHost {
		return false
	}
	if r.phase != PhaseWaiting && r.phase != PhaseReady {
		return false
	}
	r.setPhaseLocked(PhaseActive)
	return true
}

// End transitions active back to ready. Host only.
func (r *Room) End(p *Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.Role != RoleHost || r.phase != PhaseActive {
		return false
	}
	r.floor.clear()
	r.setPhaseLocked(PhaseReady)
	return true
}

// Leave removes the participant. A departing host ends the session; a
// departing guest returns the room to waiting. The remaining participant is
// notified. Reports whether the room is now ended.
func (r *Room) Leave(p *Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	partner := r.partnerLocked(p)
	switch p.Role {
	case RoleHost:
		r.host = nil
		if partner != nil {
			partner.observer.PartnerLeft()
		}
		r.setPhaseLocked(PhaseEnded)
	case RoleGuest:
		r.guest = nil
		if partner != nil {
			partner.observer.PartnerLeft()
		}
		if r.phase != PhaseEnded {
			r.floor.clear()
			r.setPhaseLocked(PhaseWaiting)
		}
	}
	r.lastActivity = time.Now()
	return r.phase == PhaseEnded
}

// SetMuted toggles the participant's mute state and notifies the partner.
// Reports whether the state changed.
func (r *Room) SetMuted(p *Participant, muted bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.muted == muted {
		return false
	}
	p.muted = muted
	if partner := r.partnerLocked(p); partner != nil {
		partner.observer.PartnerMuteChanged(muted)
	}
	return true
}

// Muted reports the participant's mute state.
func (r *Room) Muted(p *Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return p.muted
}

// ArmLock opens the echo-suppression window on p after synthesized audio of
// the given length was dispatched to it. Returns the lock duration the
// client should honor.
func (r *Room) ArmLock(p *Participant, audioLen time.Duration) time.Duration {
	lock := audioLen + r.cfg.LockoutMargin
	if lock < r.cfg.LockoutMin {
		lock = r.cfg.LockoutMin
	}
	if lock > r.cfg.LockoutMax {
		lock = r.cfg.LockoutMax
	}
	r.mu.Lock()
	p.lockedUntil = time.Now().Add(lock)
	r.mu.Unlock()
	return lock
}

// AcceptAudio reports whether an encoded-audio frame from p should enter the
// decode path right now. Audio outside the active phase, from a muted
// participant, or inside the echo-suppression window is dropped silently.
func (r *Room) AcceptAudio(p *Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhaseActive || p.muted {
		return false
	}
	return time.Now().After(p.lockedUntil)
}

// ClaimFloor attempts to take the speaking floor for p, called on a detected
// speech onset. The floor is granted when free, already held by p, or when
// the previous holder's grace window has lapsed.
func (r *Room) ClaimFloor(p *Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.floor.claim(p, time.Now())
}

// YieldFloor starts p's grace window, called on speech end. The holder keeps
// the floor until the grace lapses so a short pause does not hand the turn
// to the partner.
func (r *Room) YieldFloor(p *Participant) {
	grace := r.cfg.GuestGrace
	if p.Role == RoleHost {
		grace = r.cfg.HostGrace
	}
	r.mu.Lock()
	r.floor.yield(p, time.Now().Add(grace))
	r.mu.Unlock()
}

// setPhaseLocked mutates the phase and broadcasts it to both participants.
// Both observers see every transition in the same order.
func (r *Room) setPhaseLocked(phase Phase) {
	if r.phase == phase {
		return
	}
	r.phase = phase
	if r.host != nil {
		r.host.observer.PhaseChanged(phase)
	}
	if r.guest != nil {
		r.guest.observer.PhaseChanged(phase)
	}
}

// attachGuest fills the guest slot and moves the room to ready.
func (r *Room) attachGuest(guest *Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == PhaseEnded {
		return ErrRoomNotFound
	}
	if r.guest != nil {
		return ErrRoomFull
	}
	guest.Language = r.guestLanguage
	guest.room = r
	r.guest = guest
	r.lastActivity = time.Now()
	if r.host != nil {
		r.host.observer.PartnerJoined(guest.Name, guest.Language)
	}
	r.setPhaseLocked(PhaseReady)
	return nil
}

// idleSince reports whether the room has seen no activity since the cutoff.
func (r *Room) idleSince(cutoff time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivity.Before(cutoff)
}

// ended reports whether the room reached its terminal phase.
func (r *Room) ended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase == PhaseEnded
}
