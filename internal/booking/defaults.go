package booking

import (
	"time"

	"github.com/clinicdesk/scheduling-engine/internal/calendar"
	"github.com/clinicdesk/scheduling-engine/internal/config"
)

// fallbackStartTime is applied to lenient requests with no time. It is
// the start of the standard morning window.
const fallbackStartTime = "09:00"

// defaults applies the configured policy to requests with a missing
// date or time. Strict rejects; lenient fills in tomorrow / the morning
// opening.
type defaults struct {
	policy config.BookingDefaultsPolicy
	now    func() time.Time
}

func (d defaults) apply(req *BookRequest) error {
	if req.Date == "" {
		if d.policy == config.DefaultsStrict {
			return ErrDateRequired
		}
		req.Date = d.now().AddDate(0, 0, 1).Format(calendar.DateLayout)
	}
	if req.Time == "" {
		if d.policy == config.DefaultsStrict {
			return ErrTimeRequired
		}
		req.Time = fallbackStartTime
	}
	return nil
}
