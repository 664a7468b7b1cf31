package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/afrith/dagflow/pkg/dagflow/models"
)

var ErrInvalidSchedule = errors.New("invalid schedule")

// ErrNotSchedulable is returned when intervals are requested for a DAG that only runs manually.
var ErrNotSchedulable = errors.New("schedule has no intervals")

type Kind int

const (
	KindNone Kind = iota
	KindOnce
	KindCron
	KindEvery
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Interval is the data interval [Start, End) covered by one run. The run is
// due once End has passed and its logical date is Start.
type Interval struct {
	Start time.Time
	End   time.Time
}

type Schedule struct {
	kind  Kind
	cron  cron.Schedule
	every time.Duration
}

// Parse accepts five field cron expressions, the cron presets (@daily,
// @hourly, @weekly, @monthly, @yearly, @annually, @midnight), @every <duration>,
// @once, and "", "None" or "@none" for manual only schedules.
func Parse(expr string) (Schedule, error) {
	trimmed := strings.TrimSpace(expr)
	switch strings.ToLower(trimmed) {
	case "", "none", "@none":
		return Schedule{kind: KindNone}, nil
	case "@once":
		return Schedule{kind: KindOnce}, nil
	}
	if strings.HasPrefix(trimmed, "TZ=") || strings.HasPrefix(trimmed, "CRON_TZ=") {
		return Schedule{}, fmt.Errorf("%w %q: timezone prefixes are not supported, schedules run in UTC", ErrInvalidSchedule, expr)
	}
	sched, err := parser.Parse(trimmed)
	if err != nil {
		return Schedule{}, fmt.Errorf("%w %q: %v", ErrInvalidSchedule, expr, err)
	}
	if every, ok := sched.(cron.ConstantDelaySchedule); ok {
		if every.Delay <= 0 {
			return Schedule{}, fmt.Errorf("%w %q: non-positive interval", ErrInvalidSchedule, expr)
		}
		return Schedule{kind: KindEvery, every: every.Delay}, nil
	}
	return Schedule{kind: KindCron, cron: sched}, nil
}

func (s Schedule) Kind() Kind { return s.kind }

// First returns the first interval whose start is at or after t.
func (s Schedule) First(t time.Time) Interval {
	t = t.UTC()
	switch s.kind {
	case KindEvery:
		return Interval{Start: t, End: t.Add(s.every)}
	case KindCron:
		// cron.Next is strictly after its argument and rounds up to the second.
		start := s.cron.Next(t.Truncate(time.Second).Add(-time.Second))
		if start.Before(t) {
			start = s.cron.Next(start)
		}
		return Interval{Start: start, End: s.cron.Next(start)}
	default:
		return Interval{Start: t, End: t}
	}
}

// Next returns the interval that follows the one starting at prevStart.
func (s Schedule) Next(prevStart time.Time) Interval {
	prevStart = prevStart.UTC()
	switch s.kind {
	case KindEvery:
		start := prevStart.Add(s.every)
		return Interval{Start: start, End: start.Add(s.every)}
	case KindCron:
		start := s.cron.Next(prevStart)
		return Interval{Start: start, End: s.cron.Next(start)}
	default:
		return Interval{Start: prevStart, End: prevStart}
	}
}

// maxGap estimates the longest distance between consecutive cron ticks around t.
func (s Schedule) maxGap(t time.Time) time.Duration {
	var widest time.Duration
	cur := s.cron.Next(t)
	for i := 0; i < 6; i++ {
		nxt := s.cron.Next(cur)
		if gap := nxt.Sub(cur); gap > widest {
			widest = gap
		}
		cur = nxt
	}
	return widest
}

// DueIntervals returns the intervals that should have runs created at now.
// last is the logical date of the most recent scheduled run, nil if the DAG
// never ran. With catchup every missed interval since startDate (or last) is
// returned, oldest first; without catchup only the latest completed interval.
// limit caps the result for catchup; zero means no cap.
func DueIntervals(s Schedule, startDate time.Time, last *time.Time, now time.Time, catchup bool, limit int) []Interval {
	startDate, now = startDate.UTC(), now.UTC()
	switch s.kind {
	case KindNone:
		return nil
	case KindOnce:
		if last != nil || now.Before(startDate) {
			return nil
		}
		return []Interval{{Start: startDate, End: startDate}}
	}

	var next Interval
	if last == nil {
		next = s.First(startDate)
	} else {
		next = s.Next(*last)
	}

	if catchup {
		var out []Interval
		for !next.End.After(now) {
			out = append(out, next)
			if limit > 0 && len(out) >= limit {
				break
			}
			next = s.Next(next.Start)
		}
		return out
	}

	from := next.Start
	if s.kind == KindEvery {
		// whole steps keep the walk on the start date grid
		if steps := int64(now.Sub(from) / s.every); steps > 3 {
			from = from.Add(time.Duration(steps-3) * s.every)
		}
	} else if gap := s.maxGap(now); gap > 0 {
		if cand := now.Add(-3 * gap); cand.After(from) {
			from = cand
		}
	}
	var latest *Interval
	for cur := s.First(from); !cur.End.After(now); cur = s.Next(cur.Start) {
		iv := cur
		latest = &iv
	}
	if latest == nil || latest.Start.Before(next.Start) {
		return nil
	}
	return []Interval{*latest}
}

// BackfillIntervals returns every interval whose logical date lies in
// [from, to] and not before startDate, ignoring the catchup flag.
func BackfillIntervals(s Schedule, startDate, from, to time.Time) ([]Interval, error) {
	startDate, from, to = startDate.UTC(), from.UTC(), to.UTC()
	if to.Before(from) {
		return nil, fmt.Errorf("backfill range end %s is before start %s", to, from)
	}
	switch s.kind {
	case KindNone:
		return nil, ErrNotSchedulable
	case KindOnce:
		if startDate.Before(from) || startDate.After(to) {
			return nil, nil
		}
		return []Interval{{Start: startDate, End: startDate}}, nil
	}
	if from.Before(startDate) {
		from = startDate
	}
	var out []Interval
	for cur := s.First(from); !cur.Start.After(to); cur = s.Next(cur.Start) {
		out = append(out, cur)
	}
	return out, nil
}

// ManualInterval is the zero width interval used by manually triggered runs.
func ManualInterval(logical time.Time) Interval {
	logical = logical.UTC()
	return Interval{Start: logical, End: logical}
}

// RunID builds the run identifier, e.g. scheduled__2025-12-16T00:00:00+00:00.
func RunID(runType models.RunType, logical time.Time) string {
	return fmt.Sprintf("%s__%s", runType, logical.UTC().Format("2006-01-02T15:04:05-07:00"))
}
