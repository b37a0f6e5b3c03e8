// Package calendar builds the monthly grid view of tasks grouped by due
// date. It owns no state beyond a task source and a month-name table; every
// request recomputes the grid from scratch.
package calendar

import (
	"context"
	"strconv"
	"strings"
	"time"

	"todo-api/domain"
)

// TaskSource is the slice of the task store the builder needs: tasks whose
// due date falls inside an inclusive range, scoped to one owner. The empty
// owner selects the anonymous scope. Result order is unspecified.
type TaskSource interface {
	FindByOwnerAndRange(ctx context.Context, owner string, from, to domain.Date) ([]domain.Task, error)
}

// MonthNames maps month numbers 1..12 to display names.
type MonthNames [12]string

var (
	EnglishMonthNames = MonthNames{
		"January", "February", "March", "April", "May", "June",
		"July", "August", "September", "October", "November", "December",
	}
	RussianMonthNames = MonthNames{
		"Январь", "Февраль", "Март", "Апрель", "Май", "Июнь",
		"Июль", "Август", "Сентябрь", "Октябрь", "Ноябрь", "Декабрь",
	}
)

// NamesForLocale picks a month-name table by locale tag, defaulting to
// English for anything unknown.
func NamesForLocale(locale string) MonthNames {
	switch strings.ToLower(strings.TrimSpace(locale)) {
	case "ru":
		return RussianMonthNames
	default:
		return EnglishMonthNames
	}
}

// Day is one cell of the month grid. Padding cells carry Day == 0, no date
// and an empty task list; they align day 1 under its weekday column.
type Day struct {
	Day     int           `json:"day,omitempty"`
	Date    *domain.Date  `json:"date,omitempty"`
	Tasks   []domain.Task `json:"tasks"`
	IsToday bool          `json:"isToday"`
	IsPast  bool          `json:"isPast"`
}

// Month is the computed view of one display month. It is rebuilt on every
// request and holds no identity of its own.
type Month struct {
	Year         int         `json:"year"`
	Month        int         `json:"month"`
	MonthName    string      `json:"monthName"`
	FirstDay     domain.Date `json:"firstDay"`
	LastDay      domain.Date `json:"lastDay"`
	DaysInMonth  int         `json:"daysInMonth"`
	FirstWeekday int         `json:"firstWeekday"`
	Days         []Day       `json:"days"`
	PrevYear     int         `json:"prevYear"`
	PrevMonth    int         `json:"prevMonth"`
	NextYear     int         `json:"nextYear"`
	NextMonth    int         `json:"nextMonth"`
	Today        domain.Date `json:"today"`
}

// Builder assembles month views from a task source.
type Builder struct {
	source TaskSource
	names  MonthNames
}

// NewBuilder creates a Builder reading tasks from source and labelling
// months with the given name table.
func NewBuilder(source TaskSource, names MonthNames) *Builder {
	if source == nil {
		panic("calendar.NewBuilder: task source is nil")
	}
	return &Builder{source: source, names: names}
}

// ResolveCoordinates parses the requested year and month. Missing parameters
// default to the evaluation date; malformed or out-of-range values make both
// coordinates fall back to the evaluation date's month. A malformed request
// is never an error, it degrades to "show the current month".
func ResolveCoordinates(yearParam, monthParam string, today domain.Date) (year, month int, fellBack bool) {
	year, month = today.Year, int(today.Month)

	y, m := year, month
	if s := strings.TrimSpace(yearParam); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil {
			return year, month, true
		}
		y = parsed
	}
	if s := strings.TrimSpace(monthParam); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil {
			return year, month, true
		}
		m = parsed
	}
	if m < 1 || m > 12 {
		return year, month, true
	}
	return y, m, false
}

// BuildMonth computes the display month for the given owner scope: resolves
// the coordinates, fetches the tasks due inside the month, buckets them by
// date and emits a Monday-first grid padded only at the front. Store errors
// propagate unchanged and no grid is produced.
func (b *Builder) BuildMonth(ctx context.Context, yearParam, monthParam, owner string, today domain.Date) (Month, error) {
	year, month, _ := ResolveCoordinates(yearParam, monthParam, today)

	first := domain.NewDate(year, time.Month(month), 1)
	daysInMonth := daysIn(year, time.Month(month))
	last := domain.NewDate(year, time.Month(month), daysInMonth)

	tasks, err := b.source.FindByOwnerAndRange(ctx, owner, first, last)
	if err != nil {
		return Month{}, err
	}

	// Bucket by ISO date, preserving store arrival order within a day.
	buckets := make(map[string][]domain.Task)
	for _, t := range tasks {
		if t.Due == nil {
			continue
		}
		key := t.Due.String()
		buckets[key] = append(buckets[key], t)
	}

	// Monday = 0 .. Sunday = 6; also the number of leading padding cells.
	firstWeekday := (int(first.Time().Weekday()) + 6) % 7

	days := make([]Day, 0, firstWeekday+daysInMonth)
	for i := 0; i < firstWeekday; i++ {
		days = append(days, Day{Tasks: []domain.Task{}})
	}
	for dayNum := 1; dayNum <= daysInMonth; dayNum++ {
		date := domain.NewDate(year, time.Month(month), dayNum)
		dayTasks := buckets[date.String()]
		if dayTasks == nil {
			dayTasks = []domain.Task{}
		}
		days = append(days, Day{
			Day:     dayNum,
			Date:    &date,
			Tasks:   dayTasks,
			IsToday: date.Equal(today),
			IsPast:  date.Before(today),
		})
	}

	prevYear, prevMonth := year, month-1
	if month == 1 {
		prevYear, prevMonth = year-1, 12
	}
	nextYear, nextMonth := year, month+1
	if month == 12 {
		nextYear, nextMonth = year+1, 1
	}

	return Month{
		Year:         year,
		Month:        month,
		MonthName:    b.names[month-1],
		FirstDay:     first,
		LastDay:      last,
		DaysInMonth:  daysInMonth,
		FirstWeekday: firstWeekday,
		Days:         days,
		PrevYear:     prevYear,
		PrevMonth:    prevMonth,
		NextYear:     nextYear,
		NextMonth:    nextMonth,
		Today:        today,
	}, nil
}

// daysIn returns the day count of a month; day 0 of the following month
// normalizes to the last day of this one, which handles leap years.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
