package events

import (
	"time"

	"modbot/internal/errs"
)

// MinuteStep is the granularity of the time picker.
const MinuteStep = 5

// ChooseTime resolves an hour/minute pick to that wall time today in now's
// zone. The result may lie in the past; Confirm rejects it then.
func ChooseTime(now time.Time, hour, minute int) (time.Time, error) {
	const op = "events.choose_time"
	if hour < 0 || hour > 23 {
		return time.Time{}, errs.E(op, errs.ErrValidation, "hour %d out of range", hour)
	}
	if minute < 0 || minute > 59 || minute%MinuteStep != 0 {
		return time.Time{}, errs.E(op, errs.ErrValidation, "minute %d must be a multiple of %d", minute, MinuteStep)
	}
	y, m, d := now.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, now.Location()), nil
}
