// internal/services/slots.go
package services

import (
	"time"
)

const (
	slotDayStartHour = 9
	slotDayEndHour   = 17
	slotLength       = 2 * time.Hour
	slotKeyLayout    = "2006-01-02T15:04"
)

// TimeSlot is one offered handoff window.
type TimeSlot struct {
	Key   string    `json:"key"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Label string    `json:"label"`
}

// GenerateTimeSlots returns business-hour windows for the next `days`
// weekdays after today, in today's location. It has no state: the same
// inputs always produce the same slots.
func GenerateTimeSlots(today time.Time, days int) []TimeSlot {
	if days <= 0 {
		return nil
	}

	loc := today.Location()
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc)

	slots := make([]TimeSlot, 0, days*((slotDayEndHour-slotDayStartHour)/int(slotLength.Hours())))
	for found := 0; found < days; {
		day = day.AddDate(0, 0, 1)
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		found++

		for h := slotDayStartHour; h+int(slotLength.Hours()) <= slotDayEndHour; h += int(slotLength.Hours()) {
			start := time.Date(day.Year(), day.Month(), day.Day(), h, 0, 0, 0, loc)
			end := start.Add(slotLength)
			slots = append(slots, TimeSlot{
				Key:   start.Format(slotKeyLayout),
				Start: start,
				End:   end,
				Label: start.Format("Mon Jan 2, 15:04") + " - " + end.Format("15:04"),
			})
		}
	}

	return slots
}

// FindSlot looks a slot key up in an offered set.
func FindSlot(slots []TimeSlot, key string) (TimeSlot, bool) {
	for _, s := range slots {
		if s.Key == key {
			return s, true
		}
	}
	return TimeSlot{}, false
}
