package room

import "time"

// floor is the turn-taking state: who holds the speaking floor and until
// when their post-utterance grace runs. Guarded by the owning room's lock.
//
// The holder keeps the floor while speaking and through a per-role grace
// window after each utterance, so a breath between sentences does not hand
// the turn over. The host's longer grace reflects that they moderate the
// session.
type floor struct {
	holder     *Participant
	graceUntil time.Time
	speaking   bool
}

// claim grants the floor to p when it is free, already p's, or the previous
// holder's grace has lapsed.
func (f *floor) claim(p *Participant, now time.Time) bool {
	switch {
	case f.holder == nil, f.holder == p:
	case !f.speaking && now.After(f.graceUntil):
	default:
		return false
	}
	f.holder = p
	f.speaking = true
	return true
}

// yield marks the holder's utterance finished and starts its grace window.
// A yield from a non-holder is ignored.
func (f *floor) yield(p *Participant, graceUntil time.Time) {
	if f.holder != p {
		return
	}
	f.speaking = false
	f.graceUntil = graceUntil
}

// clear releases the floor entirely, used on phase changes and departures.
func (f *floor) clear() {
	f.holder = nil
	f.speaking = false
	f.graceUntil = time.Time{}
}
