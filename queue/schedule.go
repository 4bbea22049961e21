package queue

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule determines when a recurring trigger fires next.
type Schedule interface {
	// Next returns the first fire time strictly after from.
	Next(from time.Time) time.Time
	String() string
}

// intervalSchedule fires at fixed intervals.
type intervalSchedule struct {
	every time.Duration
}

func (s intervalSchedule) Next(from time.Time) time.Time {
	return from.Add(s.every)
}

func (s intervalSchedule) String() string {
	return fmt.Sprintf("every %v", s.every)
}

// hourlySchedule fires every hour at the given minute.
type hourlySchedule struct {
	minute int
}

func (s hourlySchedule) Next(from time.Time) time.Time {
	next := time.Date(
		from.Year(), from.Month(), from.Day(),
		from.Hour(), s.minute, 0, 0, from.Location(),
	)
	if !next.After(from) {
		next = next.Add(time.Hour)
	}
	return next
}

func (s hourlySchedule) String() string {
	return fmt.Sprintf("hourly at :%02d", s.minute)
}

// dailySchedule fires once per day at the given time.
type dailySchedule struct {
	hour   int
	minute int
}

func (s dailySchedule) Next(from time.Time) time.Time {
	next := time.Date(
		from.Year(), from.Month(), from.Day(),
		s.hour, s.minute, 0, 0, from.Location(),
	)
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s dailySchedule) String() string {
	return fmt.Sprintf("daily at %02d:%02d", s.hour, s.minute)
}

// weeklySchedule fires once per week on the given day and time.
type weeklySchedule struct {
	weekday time.Weekday
	hour    int
	minute  int
}

func (s weeklySchedule) Next(from time.Time) time.Time {
	daysUntil := (int(s.weekday) - int(from.Weekday()) + 7) % 7

	next := from.AddDate(0, 0, daysUntil)
	next = time.Date(
		next.Year(), next.Month(), next.Day(),
		s.hour, s.minute, 0, 0, next.Location(),
	)
	if !next.After(from) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

func (s weeklySchedule) String() string {
	return fmt.Sprintf("weekly on %s at %02d:%02d", s.weekday, s.hour, s.minute)
}

// monthlySchedule fires once per month on the given day and time.
type monthlySchedule struct {
	day    int
	hour   int
	minute int
}

func (s monthlySchedule) Next(from time.Time) time.Time {
	year, month := from.Year(), from.Month()

	// Month-end overflow: day 31 in February becomes the 28th/29th.
	day := min(s.day, daysInMonth(year, month))
	next := time.Date(year, month, day, s.hour, s.minute, 0, 0, from.Location())

	if !next.After(from) {
		if month == time.December {
			year++
			month = time.January
		} else {
			month++
		}
		day = min(s.day, daysInMonth(year, month))
		next = time.Date(year, month, day, s.hour, s.minute, 0, 0, from.Location())
	}
	return next
}

func (s monthlySchedule) String() string {
	return fmt.Sprintf("monthly on day %d at %02d:%02d", s.day, s.hour, s.minute)
}

// Factory functions for creating schedules

// EveryInterval creates a schedule that fires at fixed intervals
func EveryInterval(d time.Duration) Schedule {
	return intervalSchedule{every: d}
}

// EveryMinutes creates a schedule that fires every n minutes
func EveryMinutes(n int) Schedule {
	return intervalSchedule{every: time.Duration(n) * time.Minute}
}

// EveryHours creates a schedule that fires every n hours
func EveryHours(n int) Schedule {
	return intervalSchedule{every: time.Duration(n) * time.Hour}
}

// HourlyAt creates a schedule that fires every hour at the given minute
func HourlyAt(minute int) Schedule {
	return hourlySchedule{minute: minute}
}

// DailyAt creates a schedule that fires daily at the given time
func DailyAt(hour, minute int) Schedule {
	return dailySchedule{hour: hour, minute: minute}
}

// WeeklyOn creates a schedule that fires weekly on the given day and time
func WeeklyOn(weekday time.Weekday, hour, minute int) Schedule {
	return weeklySchedule{weekday: weekday, hour: hour, minute: minute}
}

// MonthlyOn creates a schedule that fires monthly on the given day and time
func MonthlyOn(day, hour, minute int) Schedule {
	return monthlySchedule{day: day, hour: hour, minute: minute}
}

// ParseSchedule parses a schedule expression as used in trigger definition
// files. Supported forms:
//
//	every <duration>           e.g. "every 15m"
//	hourly at :MM              e.g. "hourly at :30"
//	daily at HH:MM             e.g. "daily at 02:00"
//	weekly on <weekday> at HH:MM
//	monthly on <day> at HH:MM
func ParseSchedule(expr string) (Schedule, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(expr)))
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidSchedule)
	}

	switch fields[0] {
	case "every":
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, expr)
		}
		d, err := time.ParseDuration(fields[1])
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: bad duration in %q", ErrInvalidSchedule, expr)
		}
		return intervalSchedule{every: d}, nil

	case "hourly":
		if len(fields) != 3 || fields[1] != "at" || !strings.HasPrefix(fields[2], ":") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, expr)
		}
		minute, err := strconv.Atoi(strings.TrimPrefix(fields[2], ":"))
		if err != nil || minute < 0 || minute > 59 {
			return nil, fmt.Errorf("%w: bad minute in %q", ErrInvalidSchedule, expr)
		}
		return hourlySchedule{minute: minute}, nil

	case "daily":
		if len(fields) != 3 || fields[1] != "at" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, expr)
		}
		hour, minute, err := parseClock(fields[2])
		if err != nil {
			return nil, fmt.Errorf("%w: bad time in %q", ErrInvalidSchedule, expr)
		}
		return dailySchedule{hour: hour, minute: minute}, nil

	case "weekly":
		if len(fields) != 5 || fields[1] != "on" || fields[3] != "at" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, expr)
		}
		weekday, ok := weekdays[fields[2]]
		if !ok {
			return nil, fmt.Errorf("%w: bad weekday in %q", ErrInvalidSchedule, expr)
		}
		hour, minute, err := parseClock(fields[4])
		if err != nil {
			return nil, fmt.Errorf("%w: bad time in %q", ErrInvalidSchedule, expr)
		}
		return weeklySchedule{weekday: weekday, hour: hour, minute: minute}, nil

	case "monthly":
		if len(fields) != 5 || fields[1] != "on" || fields[3] != "at" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, expr)
		}
		day, err := strconv.Atoi(fields[2])
		if err != nil || day < 1 || day > 31 {
			return nil, fmt.Errorf("%w: bad day in %q", ErrInvalidSchedule, expr)
		}
		hour, minute, err := parseClock(fields[4])
		if err != nil {
			return nil, fmt.Errorf("%w: bad time in %q", ErrInvalidSchedule, expr)
		}
		return monthlySchedule{day: day, hour: hour, minute: minute}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, expr)
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("bad hour %q", parts[0])
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("bad minute %q", parts[1])
	}
	return hour, minute, nil
}

func daysInMonth(year int, month time.Month) int {
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
	return firstOfNext.AddDate(0, 0, -1).Day()
}
