package routine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Recurrence kinds.
const (
	FreqDaily  = "daily"
	FreqWeekly = "weekly"
	FreqOnce   = "once"
	FreqCustom = "custom"
)

// Routine maps to the routine table: a recurring care activity owned by one
// patient. Weekdays use Monday=0 .. Sunday=6. TimeOfDay is "HH:MM" 24h.
type Routine struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	PatientID         uuid.UUID  `db:"patient_id" json:"patient_id"`
	Name              string     `db:"name" json:"name"`
	TimeOfDay         string     `db:"time_of_day" json:"time_of_day"`
	Frequency         string     `db:"frequency" json:"frequency"`
	DaysOfWeek        []int32    `db:"days_of_week" json:"days_of_week,omitempty"`
	TargetDate        *time.Time `db:"target_date" json:"target_date,omitempty"`
	AlertIntervalMins int        `db:"alert_interval_mins" json:"alert_interval_mins"`
	ResponseWindowMins int       `db:"response_window_mins" json:"response_window_mins"`
	EscalationEnabled bool       `db:"escalation_enabled" json:"escalation_enabled"`
	Active            bool       `db:"active" json:"active"`
	Deleted           bool       `db:"deleted" json:"-"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
}

var validFrequencies = map[string]bool{
	FreqDaily:  true,
	FreqWeekly: true,
	FreqOnce:   true,
	FreqCustom: true,
}

// Validate reports schedule misconfiguration. A routine that fails validation
// is skipped by the instantiator rather than aborting the whole pass.
func (r *Routine) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !validFrequencies[r.Frequency] {
		return fmt.Errorf("invalid frequency: %s", r.Frequency)
	}
	if _, err := parseTimeOfDay(r.TimeOfDay); err != nil {
		return err
	}
	if r.Frequency == FreqWeekly && len(r.DaysOfWeek) == 0 {
		return fmt.Errorf("weekly routine requires a weekday set")
	}
	for _, d := range r.DaysOfWeek {
		if d < 0 || d > 6 {
			return fmt.Errorf("weekday out of range: %d", d)
		}
	}
	if r.Frequency == FreqOnce && r.TargetDate == nil {
		return fmt.Errorf("one-off routine requires a target date")
	}
	if r.AlertIntervalMins <= 0 {
		return fmt.Errorf("alert interval must be positive")
	}
	if r.ResponseWindowMins <= 0 {
		return fmt.Errorf("response window must be positive")
	}
	return nil
}

// Matches reports whether the routine's recurrence rule applies to the given
// calendar date. The error mirrors Validate for the fields the rule needs.
func (r *Routine) Matches(date time.Time) (bool, error) {
	switch r.Frequency {
	case FreqDaily, FreqCustom:
		return true, nil
	case FreqWeekly:
		if len(r.DaysOfWeek) == 0 {
			return false, fmt.Errorf("weekly routine requires a weekday set")
		}
		wd := mondayIndexed(date.Weekday())
		for _, d := range r.DaysOfWeek {
			if d == wd {
				return true, nil
			}
		}
		return false, nil
	case FreqOnce:
		if r.TargetDate == nil {
			return false, fmt.Errorf("one-off routine requires a target date")
		}
		return sameDate(*r.TargetDate, date), nil
	default:
		return false, fmt.Errorf("invalid frequency: %s", r.Frequency)
	}
}

// ScheduledAt combines a calendar date with the routine's time of day.
func (r *Routine) ScheduledAt(date time.Time) (time.Time, error) {
	tod, err := parseTimeOfDay(r.TimeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(date.Year(), date.Month(), date.Day(),
		tod.Hour(), tod.Minute(), 0, 0, date.Location()), nil
}

// AlertInterval returns the reminder interval as a duration.
func (r *Routine) AlertInterval() time.Duration {
	return time.Duration(r.AlertIntervalMins) * time.Minute
}

// ResponseWindow returns the maximum response window as a duration.
func (r *Routine) ResponseWindow() time.Duration {
	return time.Duration(r.ResponseWindowMins) * time.Minute
}

func parseTimeOfDay(s string) (time.Time, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	return t, nil
}

// mondayIndexed converts Go's Sunday=0 weekday to Monday=0 .. Sunday=6.
func mondayIndexed(wd time.Weekday) int32 {
	return int32((int(wd) + 6) % 7)
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
