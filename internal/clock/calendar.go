package clock

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/de"
	"github.com/rickar/cal/v2/us"
)

// Calendar answers whether a moment falls inside business hours
type Calendar interface {
	IsBusinessHours(t time.Time) bool
}

// CalendarConfig describes the business week
type CalendarConfig struct {
	Timezone    string         // IANA name, "" = UTC
	Start       string         // "HH:MM"
	End         string         // "HH:MM"
	Workdays    []time.Weekday // empty = Monday to Friday
	HolidaySet  string         // "us", "de" or "" for none
	ExtraClosed []string       // additional closed dates, "MM-DD" every year
}

// BusinessCalendar is a Calendar backed by rickar/cal
type BusinessCalendar struct {
	cal *cal.BusinessCalendar
	loc *time.Location
}

// NewBusinessCalendar builds a calendar from cfg
func NewBusinessCalendar(cfg CalendarConfig) (*BusinessCalendar, error) {
	loc, err := LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	start, err := ParseHHMM(cfg.Start)
	if err != nil {
		return nil, fmt.Errorf("business hours start: %w", err)
	}
	end, err := ParseHHMM(cfg.End)
	if err != nil {
		return nil, fmt.Errorf("business hours end: %w", err)
	}
	if end <= start {
		return nil, fmt.Errorf("business hours end %s must be after start %s", cfg.End, cfg.Start)
	}

	bc := cal.NewBusinessCalendar()
	bc.SetWorkHours(time.Duration(start)*time.Minute, time.Duration(end)*time.Minute)

	if len(cfg.Workdays) > 0 {
		for d := time.Sunday; d <= time.Saturday; d++ {
			bc.SetWorkday(d, false)
		}
		for _, d := range cfg.Workdays {
			bc.SetWorkday(d, true)
		}
	}

	switch cfg.HolidaySet {
	case "":
	case "us":
		bc.AddHoliday(us.Holidays...)
	case "de":
		bc.AddHoliday(de.Holidays...)
	default:
		return nil, fmt.Errorf("unknown holiday set %q", cfg.HolidaySet)
	}

	for _, d := range cfg.ExtraClosed {
		month, day, err := parseMonthDay(d)
		if err != nil {
			return nil, err
		}
		bc.AddHoliday(&cal.Holiday{
			Name:  "closed " + d,
			Month: month,
			Day:   day,
			Func:  cal.CalcDayOfMonth,
		})
	}

	return &BusinessCalendar{cal: bc, loc: loc}, nil
}

// IsBusinessHours reports whether t, seen in the calendar's timezone, is work time
func (b *BusinessCalendar) IsBusinessHours(t time.Time) bool {
	return b.cal.IsWorkTime(t.In(b.loc))
}

func parseMonthDay(s string) (time.Month, int, error) {
	if len(s) != 5 || s[2] != '-' {
		return 0, 0, fmt.Errorf("invalid closed date %q, want MM-DD", s)
	}
	m, err1 := strconv.Atoi(s[:2])
	d, err2 := strconv.Atoi(s[3:])
	if err1 != nil || err2 != nil || m < 1 || m > 12 || d < 1 || d > 31 {
		return 0, 0, fmt.Errorf("invalid closed date %q, want MM-DD", s)
	}
	return time.Month(m), d, nil
}

// AlwaysOpen is a Calendar that treats every moment as business hours
type AlwaysOpen struct{}

// IsBusinessHours always returns true
func (AlwaysOpen) IsBusinessHours(time.Time) bool { return true }
