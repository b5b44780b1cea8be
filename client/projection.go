package client

import (
	"sort"
	"strings"
	"time"

	"github.com/creastat/chatsync/store"
)

// phase is the load state of the active session's projection.
type phase int

const (
	phaseIdle phase = iota
	phaseLoading
	phaseReady
	phaseFailed
)

// entry is one projected message. seq records local arrival order and
// breaks ties between equal creation timestamps, so two optimistic
// sends issued in the same instant keep submission order.
type entry struct {
	msg store.Message
	seq uint64
}

// projection is the client's view of the active session. It is an
// immutable value: every mutation goes through reduce, which returns a
// new projection, so interleaved async completions can never lose an
// update. The epoch increments on every session switch; any event
// stamped with an older epoch is discarded, which is what keeps a late
// completion from a previous session out of the current one.
type projection struct {
	epoch     uint64
	sessionID string
	phase     phase
	nextSeq   uint64
	entries   []entry
}

// event is a projection state transition request.
type event interface {
	eventEpoch() uint64
}

type evReset struct {
	epoch     uint64
	sessionID string
}

type evHistory struct {
	epoch uint64
	msgs  []store.Message
}

type evLoadFailed struct {
	epoch uint64
}

type evOptimistic struct {
	epoch uint64
	msg   store.Message
}

type evOptimisticResolved struct {
	epoch  uint64
	tempID string
	msg    store.Message
}

type evOptimisticFailed struct {
	epoch  uint64
	tempID string
}

type evPlaceholder struct {
	epoch uint64
	msg   store.Message
}

type evRemoteInsert struct {
	epoch uint64
	msg   store.Message
}

type evRemoteUpdate struct {
	epoch uint64
	msg   store.Message
}

type evRemoteDelete struct {
	epoch uint64
	id    string
}

type evReplyTimeout struct {
	epoch   uint64
	now     time.Time
	timeout time.Duration
}

func (e evReset) eventEpoch() uint64              { return e.epoch }
func (e evHistory) eventEpoch() uint64            { return e.epoch }
func (e evLoadFailed) eventEpoch() uint64         { return e.epoch }
func (e evOptimistic) eventEpoch() uint64         { return e.epoch }
func (e evOptimisticResolved) eventEpoch() uint64 { return e.epoch }
func (e evOptimisticFailed) eventEpoch() uint64   { return e.epoch }
func (e evPlaceholder) eventEpoch() uint64        { return e.epoch }
func (e evRemoteInsert) eventEpoch() uint64       { return e.epoch }
func (e evRemoteUpdate) eventEpoch() uint64       { return e.epoch }
func (e evRemoteDelete) eventEpoch() uint64       { return e.epoch }
func (e evReplyTimeout) eventEpoch() uint64       { return e.epoch }

// reduce computes the next projection from the current one and a
// single event. It is pure: no IO, no clock reads, no mutation of the
// input. Events from an epoch other than the projection's are dropped,
// except a reset, which is the transition that advances the epoch.
func reduce(p projection, ev event) projection {
	if r, ok := ev.(evReset); ok {
		if r.epoch <= p.epoch {
			return p
		}
		return projection{epoch: r.epoch, sessionID: r.sessionID, phase: phaseLoading}
	}
	if ev.eventEpoch() != p.epoch {
		return p
	}

	switch e := ev.(type) {
	case evHistory:
		next := projection{epoch: p.epoch, sessionID: p.sessionID, phase: phaseReady, nextSeq: p.nextSeq}
		for _, msg := range e.msgs {
			if next.has(msg.ID) {
				continue
			}
			next = next.insert(msg)
		}
		return next.carryLocal(p)

	case evLoadFailed:
		next := p
		next.phase = phaseFailed
		return next

	case evOptimistic:
		return p.insert(e.msg)

	case evOptimisticResolved:
		// The authoritative row may already be present via the
		// realtime channel; then the optimistic entry just goes away.
		if p.has(e.msg.ID) {
			return p.remove(e.tempID)
		}
		if idx := p.index(e.tempID); idx >= 0 {
			return p.replaceAt(idx, e.msg)
		}
		return p.insert(e.msg)

	case evOptimisticFailed:
		return p.remove(e.tempID)

	case evPlaceholder:
		return p.insert(e.msg)

	case evRemoteInsert:
		if p.has(e.msg.ID) {
			return p
		}
		// A replayed row and its original must not both render.
		if origin := e.msg.OriginID(); origin != "" && p.has(origin) {
			return p
		}
		if p.hasOrigin(e.msg.ID) {
			return p
		}
		next := p
		switch e.msg.Role {
		case store.RoleAssistant:
			next = next.removeProcessingPlaceholders()
		case store.RoleUser:
			next = next.removeMatchingOptimistic(e.msg.Content)
		}
		return next.insert(e.msg)

	case evRemoteUpdate:
		if idx := p.index(e.msg.ID); idx >= 0 {
			return p.replaceAt(idx, e.msg)
		}
		// The row may have arrived via history already; no match is
		// not an error.
		return p

	case evRemoteDelete:
		return p.remove(e.id)

	case evReplyTimeout:
		return p.expirePlaceholders(e.now, e.timeout)
	}
	return p
}

// messages returns the projected message list, always in nondecreasing
// creation-timestamp order.
func (p projection) messages() []store.Message {
	out := make([]store.Message, len(p.entries))
	for i, e := range p.entries {
		out[i] = e.msg
	}
	return out
}

func (p projection) has(id string) bool {
	return p.index(id) >= 0
}

func (p projection) index(id string) int {
	for i, e := range p.entries {
		if e.msg.ID == id {
			return i
		}
	}
	return -1
}

func (p projection) hasOrigin(id string) bool {
	for _, e := range p.entries {
		if e.msg.OriginID() == id {
			return true
		}
	}
	return false
}

func (p projection) insert(msg store.Message) projection {
	entries := make([]entry, len(p.entries), len(p.entries)+1)
	copy(entries, p.entries)
	entries = append(entries, entry{msg: msg, seq: p.nextSeq})
	p.entries = entries
	p.nextSeq++
	p.sort()
	return p
}

func (p projection) remove(id string) projection {
	idx := p.index(id)
	if idx < 0 {
		return p
	}
	entries := make([]entry, 0, len(p.entries)-1)
	entries = append(entries, p.entries[:idx]...)
	entries = append(entries, p.entries[idx+1:]...)
	p.entries = entries
	return p
}

// replaceAt swaps in a new message at idx, keeping the entry's seq so
// ties still resolve in submission order, then re-sorts because the
// authoritative timestamp may differ from the optimistic one.
func (p projection) replaceAt(idx int, msg store.Message) projection {
	entries := make([]entry, len(p.entries))
	copy(entries, p.entries)
	entries[idx].msg = msg
	p.entries = entries
	p.sort()
	return p
}

// removeProcessingPlaceholders drops local assistant placeholders,
// both the ones still processing and the ones the reply timeout has
// already marked as errored: the authoritative reply supersedes either.
func (p projection) removeProcessingPlaceholders() projection {
	entries := make([]entry, 0, len(p.entries))
	for _, e := range p.entries {
		if e.msg.Role == store.RoleAssistant && e.msg.Status == store.StatusProcessing {
			continue
		}
		if e.msg.Role == store.RoleAssistant && e.msg.Status == store.StatusError && isLocalID(e.msg.ID) {
			continue
		}
		entries = append(entries, e)
	}
	p.entries = entries
	return p
}

// carryLocal re-adds the previous projection's client-side entries,
// which an authoritative history snapshot cannot know about: a still
// "sending" optimistic message whose store write has not resolved, and
// the assistant placeholder awaiting its reply. A history reload that
// closes a notification gap after a channel drop must not make a
// pending turn vanish. Entries the new history supersedes stay out.
func (p projection) carryLocal(prev projection) projection {
	next := p
	for _, e := range prev.entries {
		if !isLocalID(e.msg.ID) {
			continue
		}
		switch {
		case e.msg.Role == store.RoleUser && e.msg.Status == store.StatusSending:
			if !next.hasUserContent(e.msg.Content) {
				next = next.insertEntry(e)
			}
		case e.msg.Role == store.RoleAssistant &&
			(e.msg.Status == store.StatusProcessing || e.msg.Status == store.StatusError):
			if !next.hasAssistantSince(e.msg.CreatedAt) {
				next = next.insertEntry(e)
			}
		}
	}
	return next
}

func (p projection) hasUserContent(content string) bool {
	for _, e := range p.entries {
		if e.msg.Role == store.RoleUser && e.msg.Content == content {
			return true
		}
	}
	return false
}

// hasAssistantSince reports whether an authoritative assistant row at
// or after t is present, meaning the reply a placeholder from t was
// waiting for has already landed.
func (p projection) hasAssistantSince(t time.Time) bool {
	for _, e := range p.entries {
		if e.msg.Role == store.RoleAssistant && !isLocalID(e.msg.ID) && !e.msg.CreatedAt.Before(t) {
			return true
		}
	}
	return false
}

// insertEntry re-inserts an entry keeping its original seq, so carried
// entries still break timestamp ties in submission order.
func (p projection) insertEntry(e entry) projection {
	entries := make([]entry, len(p.entries), len(p.entries)+1)
	copy(entries, p.entries)
	entries = append(entries, e)
	p.entries = entries
	p.sort()
	return p
}

// isLocalID reports whether an id was synthesized client-side.
func isLocalID(id string) bool {
	return strings.HasPrefix(id, "local-")
}

// removeMatchingOptimistic drops the oldest still-sending optimistic
// entry with the given content: the authoritative row delivered by the
// realtime channel supersedes it.
func (p projection) removeMatchingOptimistic(content string) projection {
	for _, e := range p.entries {
		if e.msg.Status == store.StatusSending && e.msg.Role == store.RoleUser && e.msg.Content == content {
			return p.remove(e.msg.ID)
		}
	}
	return p
}

func (p projection) expirePlaceholders(now time.Time, timeout time.Duration) projection {
	changed := false
	entries := make([]entry, len(p.entries))
	copy(entries, p.entries)
	for i, e := range entries {
		if e.msg.Status == store.StatusProcessing && now.Sub(e.msg.CreatedAt) >= timeout {
			entries[i].msg.Status = store.StatusError
			changed = true
		}
	}
	if !changed {
		return p
	}
	p.entries = entries
	return p
}

// sort orders entries by creation timestamp; equal timestamps fall
// back to local arrival order. The re-sort on every insert is what
// turns out-of-order acknowledgments back into submission order.
func (p *projection) sort() {
	sort.SliceStable(p.entries, func(i, j int) bool {
		a, b := p.entries[i], p.entries[j]
		if a.msg.CreatedAt.Equal(b.msg.CreatedAt) {
			return a.seq < b.seq
		}
		return a.msg.CreatedAt.Before(b.msg.CreatedAt)
	})
}
