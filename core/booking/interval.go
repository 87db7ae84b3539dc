package booking

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// MinutesPerDay is the exclusive upper bound of a start Minute and the inclusive upper bound of an end Minute.
const MinutesPerDay = 24 * 60

var errInvalidMinute = errors.New("invalid time, expected HH:MM")

// Minute is a wall-clock time of day, in minutes since midnight.
// It is rendered as "HH:MM"; "24:00" denotes the end of the day.
type Minute int

// ParseMinute parses a "HH:MM" time of day.
func ParseMinute(s string) (Minute, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 || len(parts[0]) == 0 || len(parts[0]) > 2 || len(parts[1]) != 2 {
		return 0, errInvalidMinute
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, errInvalidMinute
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, errInvalidMinute
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, errInvalidMinute
	}
	return Minute(h*60 + m), nil
}

// MustParseMinute is like ParseMinute but panics on error.
func MustParseMinute(s string) Minute {
	m, err := ParseMinute(s)
	if err != nil {
		panic(fmt.Sprintf("booking: MustParseMinute(%q): %v", s, err))
	}
	return m
}

func (m Minute) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

// Valid reports whether m lies in [00:00, 24:00].
func (m Minute) Valid() bool {
	return m >= 0 && m <= MinutesPerDay
}

func (m Minute) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Minute) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errInvalidMinute
	}
	parsed, err := ParseMinute(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Interval is the half-open time range [Start, End) of a single day.
type Interval struct {
	Start Minute `json:"start"`
	End   Minute `json:"end"`
}

// Valid reports whether the interval is non-empty and within a day.
func (iv Interval) Valid() bool {
	return iv.Start.Valid() && iv.End.Valid() && iv.Start < iv.End
}

func (iv Interval) Duration() time.Duration {
	if iv.End <= iv.Start {
		return 0
	}
	return time.Duration(iv.End-iv.Start) * time.Minute
}

// Contains reports whether other lies entirely within iv.
func (iv Interval) Contains(other Interval) bool {
	return iv.Start <= other.Start && other.End <= iv.End
}

func (iv Interval) String() string {
	return iv.Start.String() + "-" + iv.End.String()
}

// Overlaps reports whether two intervals share at least one minute.
// Touching intervals (a.End == b.Start) do not overlap, and empty or inverted intervals overlap nothing.
func Overlaps(a, b Interval) bool {
	if a.Start >= a.End || b.Start >= b.End {
		return false
	}
	return a.Start < b.End && b.Start < a.End
}

// FindConflicts returns the active bookings of existing overlapping candidate, in their original order.
// The booking identified by excludeID is ignored.
func FindConflicts(candidate Interval, existing []Booking, excludeID string) []Booking {
	var conflicts []Booking
	for _, b := range existing {
		if !b.IsActive() || (excludeID != "" && b.ID == excludeID) {
			continue
		}
		if Overlaps(candidate, b.Interval()) {
			conflicts = append(conflicts, b)
		}
	}
	return conflicts
}

// Placed is a booking laid out on a calendar lane.
type Placed struct {
	Booking
	Lane int `json:"lane"`
}

// Cluster is a maximal group of transitively overlapping bookings.
type Cluster struct {
	Start    Minute   `json:"start"`
	End      Minute   `json:"end"`
	Lanes    int      `json:"lanes"`
	Bookings []Placed `json:"bookings"`
}

// Clusters groups the active bookings of one day into conflict clusters.
// Bookings are sorted by start then end; a booking joins the current cluster while it starts
// before the cluster's end. Within a cluster, each booking takes the lowest lane whose last
// booking ended at or before its start.
func Clusters(bookings []Booking) []Cluster {
	active := make([]Booking, 0, len(bookings))
	for _, b := range bookings {
		if b.IsActive() && b.Interval().Valid() {
			active = append(active, b)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Start != active[j].Start {
			return active[i].Start < active[j].Start
		}
		return active[i].End < active[j].End
	})

	var (
		clusters []Cluster
		laneEnds []Minute // end of the last booking of each lane, current cluster
	)
	for _, b := range active {
		if len(clusters) == 0 || b.Start >= clusters[len(clusters)-1].End {
			clusters = append(clusters, Cluster{Start: b.Start, End: b.End})
			laneEnds = laneEnds[:0]
		}
		cl := &clusters[len(clusters)-1]

		lane := -1
		for i, end := range laneEnds {
			if end <= b.Start {
				lane = i
				break
			}
		}
		if lane < 0 {
			lane = len(laneEnds)
			laneEnds = append(laneEnds, b.End)
		} else {
			laneEnds[lane] = b.End
		}

		if b.End > cl.End {
			cl.End = b.End
		}
		cl.Lanes = len(laneEnds)
		cl.Bookings = append(cl.Bookings, Placed{Booking: b, Lane: lane})
	}
	return clusters
}

// FreeSlots returns the parts of open not covered by any active booking, in order.
func FreeSlots(open Interval, busy []Booking) []Interval {
	if !open.Valid() {
		return nil
	}

	intervals := make([]Interval, 0, len(busy))
	for _, b := range busy {
		if iv := b.Interval(); b.IsActive() && Overlaps(open, iv) {
			intervals = append(intervals, iv)
		}
	}
	sort.Slice(intervals, func(i, j int) bool { return intervals[i].Start < intervals[j].Start })

	var (
		free   []Interval
		cursor = open.Start
	)
	for _, iv := range intervals {
		if iv.Start > cursor {
			free = append(free, Interval{Start: cursor, End: iv.Start})
		}
		if iv.End > cursor {
			cursor = iv.End
		}
		if cursor >= open.End {
			break
		}
	}
	if cursor < open.End {
		free = append(free, Interval{Start: cursor, End: open.End})
	}
	return free
}
