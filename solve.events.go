package ribasim

import (
	"sort"

	"github.com/Deltares/Ribasim-sub006/forcing"
)

// The driver never interpolates across a discontinuity: every forcing
// breakpoint, allocation interval and save time is a mandatory stop,
// held in one sorted queue popped between steps.

type eventKind uint8

const (
	evForcing eventKind = iota // forward-filled inputs change value
	evAlloc                    // allocation interval elapsed
	evSave                     // output accumulation time
	evEnd                      // end of run
)

type event struct {
	t    float64
	kind eventKind
}

type eventQueue struct {
	ev []event
	k  int
}

// buildEvents assembles the queue for (t0, tend]. Events at equal times
// keep the dispatch order forcing, allocation, save, end.
func (m *Model) buildEvents(t0, tend, allocDt, saveat float64) *eventQueue {
	var ev []event
	for _, t := range forcing.MergeBreaks(t0, tend, m.allSeries()...) {
		ev = append(ev, event{t, evForcing})
	}
	if allocDt > 0. {
		for t := t0 + allocDt; t < tend; t += allocDt {
			ev = append(ev, event{t, evAlloc})
		}
	}
	if saveat > 0. {
		for t := t0 + saveat; t < tend; t += saveat {
			ev = append(ev, event{t, evSave})
		}
	}
	ev = append(ev, event{tend, evSave}, event{tend, evEnd})
	sort.SliceStable(ev, func(a, b int) bool {
		if ev[a].t != ev[b].t {
			return ev[a].t < ev[b].t
		}
		return ev[a].kind < ev[b].kind
	})
	return &eventQueue{ev: ev}
}

// nextTime returns the time of the next pending event.
func (q *eventQueue) nextTime() float64 { return q.ev[q.k].t }

// popDue pops every event scheduled at or before t, preserving order.
func (q *eventQueue) popDue(t float64) []event {
	i := q.k
	for i < len(q.ev) && q.ev[i].t <= t+nearzero {
		i++
	}
	due := q.ev[q.k:i]
	q.k = i
	return due
}

func (q *eventQueue) done() bool { return q.k >= len(q.ev) }

// allSeries gathers every forcing series a run reads, for breakpoint
// collection.
func (m *Model) allSeries() []forcing.Series {
	var ss []forcing.Series
	ss = append(ss, m.Basins.Precip...)
	ss = append(ss, m.Basins.PotEvap...)
	ss = append(ss, m.Basins.Drainage...)
	ss = append(ss, m.Basins.Infiltration...)
	ss = append(ss, m.Pumps.Rate...)
	ss = append(ss, m.Outlets.Rate...)
	ss = append(ss, m.LvlBnd.Level...)
	ss = append(ss, m.FlowBnd.Q...)
	for _, ds := range m.Users.Demand {
		ss = append(ss, ds...)
	}
	ss = append(ss, m.FlowDem.Demand...)
	ss = append(ss, m.Pid.Setpoint...)
	return ss
}
