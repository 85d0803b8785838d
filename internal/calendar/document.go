package calendar

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"traincal/internal/model"
)

// Kind classifies a rendered event.
type Kind int

const (
	KindPlanned Kind = iota
	KindCompleted
	KindRest
	KindExtra
)

func (k Kind) String() string {
	switch k {
	case KindPlanned:
		return "planned"
	case KindCompleted:
		return "completed"
	case KindRest:
		return "rest"
	case KindExtra:
		return "extra"
	}
	return "unknown"
}

// Event is one VEVENT before serialization.
type Event struct {
	UID         string
	Kind        Kind
	Summary     string
	Description string

	// Timed events use Start/End in the calendar zone. All-day events use
	// StartDate and EndDate (exclusive).
	AllDay    bool
	Start     time.Time
	End       time.Time
	StartDate model.Date
	EndDate   model.Date

	PlannedID  string
	ActivityID string
}

// Document is a synthesized calendar.
type Document struct {
	ProdID      string
	Name        string
	Description string
	Timezone    string
	// Stamp is written as DTSTAMP on every event.
	Stamp  time.Time
	Events []Event
}

// Counts tallies events by kind.
func (d *Document) Counts() map[Kind]int {
	out := map[Kind]int{KindPlanned: 0, KindCompleted: 0, KindRest: 0, KindExtra: 0}
	for _, e := range d.Events {
		out[e.Kind]++
	}
	return out
}

const (
	icalDate     = "20060102"
	icalDateTime = "20060102T150405"
)

// Serialize renders the document as iCalendar text.
func (d *Document) Serialize() string {
	cal := ical.NewCalendarFor("traincal")
	cal.SetProductId(d.ProdID)
	cal.SetMethod(ical.MethodPublish)
	cal.SetXWRCalName(d.Name)
	cal.SetXWRCalDesc(d.Description)
	cal.SetXWRTimezone(d.Timezone)

	for _, e := range d.Events {
		ev := cal.AddEvent(e.UID)
		ev.SetDtStampTime(d.Stamp)
		ev.SetSummary(e.Summary)
		if e.AllDay {
			dateOnly := &ical.KeyValues{Key: string(ical.ParameterValue), Value: []string{"DATE"}}
			ev.SetProperty(ical.ComponentPropertyDtStart, e.StartDate.Midnight(time.UTC).Format(icalDate), dateOnly)
			ev.SetProperty(ical.ComponentPropertyDtEnd, e.EndDate.Midnight(time.UTC).Format(icalDate), dateOnly)
		} else {
			tzid := &ical.KeyValues{Key: string(ical.ParameterTzid), Value: []string{d.Timezone}}
			ev.SetProperty(ical.ComponentPropertyDtStart, e.Start.Format(icalDateTime), tzid)
			ev.SetProperty(ical.ComponentPropertyDtEnd, e.End.Format(icalDateTime), tzid)
		}
		if e.Description != "" {
			ev.SetDescription(e.Description)
		}
		if e.Kind == KindRest {
			ev.SetProperty(ical.ComponentPropertyTransp, "TRANSPARENT")
		}
		ev.SetProperty(ical.ComponentPropertyStatus, "CONFIRMED")
	}
	return cal.Serialize()
}
