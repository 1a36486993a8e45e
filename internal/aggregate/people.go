package aggregate

import (
	"sync"
	"time"
)

// ringSize bounds the per-camera reading history.
const ringSize = 1000

type reading struct {
	Count int
	At    time.Time
}

// countRing is a fixed-capacity circular buffer of readings.
type countRing struct {
	buf  [ringSize]reading
	next int
	full bool
}

func (r *countRing) add(rd reading) {
	r.buf[r.next] = rd
	r.next = (r.next + 1) % ringSize
	if r.next == 0 {
		r.full = true
	}
}

// ordered returns readings oldest-first.
func (r *countRing) ordered() []reading {
	if !r.full {
		return append([]reading(nil), r.buf[:r.next]...)
	}
	out := make([]reading, 0, ringSize)
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}

// HourlyStat summarizes one hour of readings.
type HourlyStat struct {
	Hour    int     `json:"hour"`
	Average float64 `json:"average"`
	Max     int     `json:"max"`
	Samples int     `json:"samples"`
}

// DailyStat estimates traffic for one day. In/out are delta-based: positive
// count changes between consecutive readings sum into TotalIn, negative into
// TotalOut.
type DailyStat struct {
	Date     string `json:"date"`
	TotalIn  int    `json:"total_in"`
	TotalOut int    `json:"total_out"`
	MaxCount int    `json:"max_count"`
}

// PeopleCounter keeps a bounded history of people counts per camera and
// derives hourly and daily statistics from it.
type PeopleCounter struct {
	mu    sync.Mutex
	rings map[string]*countRing
}

func NewPeopleCounter() *PeopleCounter {
	return &PeopleCounter{rings: make(map[string]*countRing)}
}

func (p *PeopleCounter) Record(cameraID string, count int, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ring := p.rings[cameraID]
	if ring == nil {
		ring = &countRing{}
		p.rings[cameraID] = ring
	}
	ring.add(reading{Count: count, At: at})
}

func (p *PeopleCounter) readings(cameraID string) []reading {
	p.mu.Lock()
	defer p.mu.Unlock()
	ring := p.rings[cameraID]
	if ring == nil {
		return nil
	}
	return ring.ordered()
}

// HourlyStats returns per-hour average and max counts for the given date.
// Hours without samples are omitted.
func (p *PeopleCounter) HourlyStats(cameraID string, date time.Time) []HourlyStat {
	y, m, d := date.Date()
	var sums, maxes, samples [24]int

	for _, rd := range p.readings(cameraID) {
		ry, rm, rd2 := rd.At.Date()
		if ry != y || rm != m || rd2 != d {
			continue
		}
		h := rd.At.Hour()
		sums[h] += rd.Count
		samples[h]++
		if rd.Count > maxes[h] {
			maxes[h] = rd.Count
		}
	}

	var out []HourlyStat
	for h := 0; h < 24; h++ {
		if samples[h] == 0 {
			continue
		}
		out = append(out, HourlyStat{
			Hour:    h,
			Average: float64(sums[h]) / float64(samples[h]),
			Max:     maxes[h],
			Samples: samples[h],
		})
	}
	return out
}

// DailyStats returns per-day in/out estimates over the trailing days
// (today included). Days without samples are omitted.
func (p *PeopleCounter) DailyStats(cameraID string, days int, now time.Time) []DailyStat {
	if days <= 0 {
		days = 7
	}
	cutoff := now.AddDate(0, 0, -days+1)
	cutoff = time.Date(cutoff.Year(), cutoff.Month(), cutoff.Day(), 0, 0, 0, 0, cutoff.Location())

	type acc struct {
		in, out, max int
		prev         int
		hasPrev      bool
	}
	byDay := make(map[string]*acc)
	var order []string

	for _, rd := range p.readings(cameraID) {
		if rd.At.Before(cutoff) {
			continue
		}
		day := rd.At.Format("2006-01-02")
		a := byDay[day]
		if a == nil {
			a = &acc{}
			byDay[day] = a
			order = append(order, day)
		}
		if a.hasPrev {
			delta := rd.Count - a.prev
			if delta > 0 {
				a.in += delta
			} else {
				a.out -= delta
			}
		}
		a.prev = rd.Count
		a.hasPrev = true
		if rd.Count > a.max {
			a.max = rd.Count
		}
	}

	out := make([]DailyStat, 0, len(order))
	for _, day := range order {
		a := byDay[day]
		out = append(out, DailyStat{
			Date:     day,
			TotalIn:  a.in,
			TotalOut: a.out,
			MaxCount: a.max,
		})
	}
	return out
}
