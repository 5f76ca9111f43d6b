package calendar

import (
	"fmt"
	"time"
)

// expandWindow cuts a template window on a concrete date into
// increment-sized slots. A trailing fragment shorter than one increment
// is dropped, so slots never straddle the window end.
func expandWindow(date string, w TemplateWindow, inc time.Duration) ([]Slot, error) {
	start, err := ParseTimeOfDay(w.StartTime)
	if err != nil {
		return nil, err
	}
	end, err := ParseTimeOfDay(w.EndTime)
	if err != nil {
		return nil, err
	}
	if end <= start {
		return nil, fmt.Errorf("window %s-%s for doctor %s is empty or inverted", w.StartTime, w.EndTime, w.DoctorID)
	}

	step := int(inc.Minutes())

	var slots []Slot
	for t := start; t+step <= end; t += step {
		slots = append(slots, Slot{
			DoctorID:  w.DoctorID,
			Date:      date,
			StartTime: formatMinutes(t),
			EndTime:   formatMinutes(t + step),
		})
	}
	return slots, nil
}
