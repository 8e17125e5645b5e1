package engine

import "sort"

// Interval is a half-open span of minutes from the start of the day
type Interval struct {
	Start int
	End   int
}

// Len in minutes
func (iv Interval) Len() int {
	return iv.End - iv.Start
}

func (iv Interval) overlaps(o Interval) bool {
	return iv.Start < o.End && o.Start < iv.End
}

// Occupancy is an immutable set of booked intervals within one day.
// Book returns a new snapshot and leaves the receiver untouched.
type Occupancy struct {
	day    int
	booked []Interval // sorted, non-overlapping
}

// NewOccupancy returns an empty day of the given length in minutes
func NewOccupancy(dayMinutes int) Occupancy {
	return Occupancy{day: dayMinutes}
}

// Free reports whether iv lies within the day and touches no booking
func (o Occupancy) Free(iv Interval) bool {
	if iv.Start < 0 || iv.End > o.day || iv.Len() <= 0 {
		return false
	}
	for _, b := range o.booked {
		if b.overlaps(iv) {
			return false
		}
		if b.Start >= iv.End {
			break
		}
	}
	return true
}

// Book returns a snapshot with iv added. The caller must check Free first.
func (o Occupancy) Book(iv Interval) Occupancy {
	booked := make([]Interval, 0, len(o.booked)+1)
	booked = append(booked, o.booked...)
	booked = append(booked, iv)
	sort.Slice(booked, func(i, j int) bool {
		return booked[i].Start < booked[j].Start
	})
	return Occupancy{day: o.day, booked: booked}
}

// Without returns a snapshot with the exact booking iv removed
func (o Occupancy) Without(iv Interval) Occupancy {
	booked := make([]Interval, 0, len(o.booked))
	for _, b := range o.booked {
		if b != iv {
			booked = append(booked, b)
		}
	}
	return Occupancy{day: o.day, booked: booked}
}

// Booked lists the committed intervals in time order
func (o Occupancy) Booked() []Interval {
	out := make([]Interval, len(o.booked))
	copy(out, o.booked)
	return out
}

// Gaps lists the free stretches of the day in time order
func (o Occupancy) Gaps() []Interval {
	gaps := []Interval{}
	cursor := 0
	for _, b := range o.booked {
		if b.Start > cursor {
			gaps = append(gaps, Interval{Start: cursor, End: b.Start})
		}
		if b.End > cursor {
			cursor = b.End
		}
	}
	if cursor < o.day {
		gaps = append(gaps, Interval{Start: cursor, End: o.day})
	}
	return gaps
}

// largestGap is the length of the longest free stretch
func largestGap(gaps []Interval) int {
	longest := 0
	for _, g := range gaps {
		longest = max(longest, g.Len())
	}
	return longest
}
