// Package timeslot maps wall-clock hours to the symbolic reminder slots.
package timeslot

import (
	"fmt"
	"strings"
	"time"
)

// Label is a symbolic time of day a reminder can occupy.
type Label string

// The reminder slots, triggered at 09:00, 12:00 and 20:00.
const (
	Morning Label = "morning"
	Noon    Label = "noon"
	Night   Label = "night"
)

// Labels lists every slot in trigger order.
var Labels = []Label{Morning, Noon, Night}

var triggerHours = map[Label]int{
	Morning: 9,
	Noon:    12,
	Night:   20,
}

// TriggerHour returns the fixed wall-clock hour of a label.
func (l Label) TriggerHour() int {
	return triggerHours[l]
}

// Valid reports whether l is one of the known labels.
func (l Label) Valid() bool {
	_, ok := triggerHours[l]
	return ok
}

// Display returns the label capitalised for notifications.
func (l Label) Display() string {
	s := string(l)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Parse converts a stored label back into a Label.
func Parse(s string) (Label, error) {
	l := Label(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("unknown time label %q", s)
	}
	return l, nil
}

// Bucket is a resolved slot together with its trigger hour.
type Bucket struct {
	Label Label
	Hour  int
}

// Resolve returns the bucket whose trigger hour equals the hour of t.
// Minutes and seconds are ignored; any hour without a slot returns false.
func Resolve(t time.Time) (Bucket, bool) {
	hour := t.Hour()
	for _, l := range Labels {
		if triggerHours[l] == hour {
			return Bucket{Label: l, Hour: hour}, true
		}
	}
	return Bucket{}, false
}

// TriggerHours returns the trigger hours in ascending order.
func TriggerHours() []int {
	hours := make([]int, 0, len(Labels))
	for _, l := range Labels {
		hours = append(hours, l.TriggerHour())
	}
	return hours
}

// Selection is the set of slots chosen for a schedule.
type Selection struct {
	Morning bool
	Noon    bool
	Night   bool
}

// Labels returns the selected labels in trigger order.
func (s Selection) Labels() []Label {
	var out []Label
	if s.Morning {
		out = append(out, Morning)
	}
	if s.Noon {
		out = append(out, Noon)
	}
	if s.Night {
		out = append(out, Night)
	}
	return out
}

// Empty reports whether no slot is selected.
func (s Selection) Empty() bool {
	return !s.Morning && !s.Noon && !s.Night
}

// NextOccurrence returns the first instant at or after from whose local
// time is hour:00 in loc.
func NextOccurrence(from time.Time, hour int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := from.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
	if next.Before(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, 0, 0, 0, loc)
	}
	return next
}
