package reactor

import "time"

// wheelSlots matches spec.md §4.3: "stored in a hashed wheel with 64
// buckets × configurable granularity".
const wheelSlots = 64

type timerEntry struct {
	id       TimerID
	cb       func()
	period   time.Duration // 0 for one-shot
	rounds   int           // remaining full wheel cycles before due
	slot     int
	cancelled bool
}

// timerWheel is a classic hashed timer wheel: advancing by one granularity
// tick rotates to the next slot and fires every entry there whose rounds
// counter has reached zero, decrementing it otherwise. It is only ever
// touched by the reactor's owning shard goroutine, so it needs no locking
// (spec.md §4.3 is explicitly per-shard, single-threaded).
type timerWheel struct {
	granularity time.Duration
	slots       [wheelSlots][]*timerEntry
	current     int
	lastAdvance time.Time
	nextID      uint64
	byID        map[TimerID]*timerEntry
}

func newTimerWheel(granularity time.Duration) *timerWheel {
	return &timerWheel{
		granularity: granularity,
		lastAdvance: time.Now(),
		byID:        make(map[TimerID]*timerEntry),
	}
}

func (w *timerWheel) schedule(delay, period time.Duration, cb func()) TimerID {
	w.nextID++
	id := TimerID(w.nextID)
	ticks := int(delay / w.granularity)
	if ticks < 1 {
		ticks = 1
	}
	slot := (w.current + ticks) % wheelSlots
	e := &timerEntry{
		id:     id,
		cb:     cb,
		period: period,
		rounds: ticks / wheelSlots,
		slot:   slot,
	}
	w.slots[slot] = append(w.slots[slot], e)
	w.byID[id] = e
	return id
}

func (w *timerWheel) cancel(id TimerID) {
	if e, ok := w.byID[id]; ok {
		e.cancelled = true
		delete(w.byID, id)
	}
}

// nextDeadline returns a best-effort estimate of the next due instant: the
// tick boundary at which the nearest non-empty slot with rounds==0 would
// fire. If nothing is scheduled, ok is false and the reactor falls back to
// blocking until deadline or I/O.
func (w *timerWheel) nextDeadline() (time.Time, bool) {
	found := false
	best := wheelSlots + 1
	for i := 0; i < wheelSlots; i++ {
		slot := (w.current + i) % wheelSlots
		for _, e := range w.slots[slot] {
			if e.cancelled {
				continue
			}
			if e.rounds == 0 {
				if i < best {
					best = i
					found = true
				}
				break
			}
		}
		if found && i == best {
			break
		}
	}
	if !found {
		return time.Time{}, false
	}
	return w.lastAdvance.Add(time.Duration(best) * w.granularity), true
}

// advance rotates the wheel by however many whole granularity ticks have
// elapsed since the previous advance, firing due entries along the way.
// Expiry precision is best-effort: never earlier than the requested
// instant, no later than instant+granularity (spec.md §4.3), since an
// entry only fires once its slot is reached and its rounds counter is 0.
func (w *timerWheel) advance(now time.Time) {
	elapsed := now.Sub(w.lastAdvance)
	ticks := int(elapsed / w.granularity)
	if ticks <= 0 {
		return
	}
	if ticks > wheelSlots*4 {
		// Large clock jump (e.g. process was suspended); avoid spinning
		// through millions of empty slots.
		ticks = wheelSlots
	}
	for i := 0; i < ticks; i++ {
		w.current = (w.current + 1) % wheelSlots
		w.fireSlot(w.current)
	}
	w.lastAdvance = w.lastAdvance.Add(time.Duration(ticks) * w.granularity)
}

func (w *timerWheel) fireSlot(slot int) {
	entries := w.slots[slot]
	if len(entries) == 0 {
		return
	}
	remaining := entries[:0]
	for _, e := range entries {
		if e.cancelled {
			continue
		}
		if e.rounds > 0 {
			e.rounds--
			remaining = append(remaining, e)
			continue
		}
		e.cb()
		if e.period > 0 && !e.cancelled {
			ticks := int(e.period / w.granularity)
			if ticks < 1 {
				ticks = 1
			}
			e.slot = (slot + ticks) % wheelSlots
			e.rounds = ticks / wheelSlots
			w.slots[e.slot] = append(w.slots[e.slot], e)
		} else {
			delete(w.byID, e.id)
		}
	}
	w.slots[slot] = remaining
}
