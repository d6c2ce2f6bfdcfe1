package slots

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"mobibook/internal/models"

	"github.com/jinzhu/now"
	"gopkg.in/yaml.v2"
)

// MaxPlanDays bounds a single generation run.
const MaxPlanDays = 366

var ErrInvalidPlan = errors.New("invalid slot plan")

// Plan describes slots to create over an inclusive date range.
type Plan struct {
	From string `yaml:"from" json:"from"`
	// To defaults to the last day of From's month.
	To string `yaml:"to" json:"to"`
	// Weekdays filters the range. Empty means every day.
	Weekdays []string `yaml:"weekdays" json:"weekdays"`
	Times    []string `yaml:"times" json:"times"`
	// Templates override Times for specific weekdays.
	Templates map[string][]string `yaml:"templates" json:"templates"`
	// EveryWeeks keeps only every Nth Monday-based week, counting from the
	// week that contains From. Zero or one means every week.
	EveryWeeks int    `yaml:"every_weeks" json:"every_weeks"`
	Notes      string `yaml:"notes" json:"notes"`
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
}

// weeks anchors week numbering on Monday regardless of the package default.
var weeks = &now.Config{WeekStartDay: time.Monday, TimeLocation: time.UTC}

// LoadPlan reads a YAML plan file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}
	return &plan, nil
}

// ParseWeekday accepts a three letter or full english weekday name, in any case.
func ParseWeekday(raw string) (time.Weekday, error) {
	d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return 0, fmt.Errorf("%w: unknown weekday %q", ErrInvalidPlan, raw)
	}
	return d, nil
}

type compiledPlan struct {
	from, to   time.Time
	firstWeek  time.Time
	everyWeeks int
	weekdays   map[time.Weekday]bool
	times      []string
	templates  map[time.Weekday][]string
	notes      string
}

func (p *Plan) compile() (*compiledPlan, error) {
	from, err := time.Parse(models.DateLayout, p.From)
	if err != nil {
		return nil, fmt.Errorf("%w: from %q", ErrInvalidPlan, p.From)
	}
	var to time.Time
	if strings.TrimSpace(p.To) == "" {
		to = now.With(now.With(from).EndOfMonth()).BeginningOfDay()
	} else if to, err = time.Parse(models.DateLayout, p.To); err != nil {
		return nil, fmt.Errorf("%w: to %q", ErrInvalidPlan, p.To)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: from %s is after to %s", ErrInvalidPlan, p.From, p.To)
	}
	if days := int(to.Sub(from).Hours()/24) + 1; days > MaxPlanDays {
		return nil, fmt.Errorf("%w: range of %d days exceeds %d", ErrInvalidPlan, days, MaxPlanDays)
	}

	if p.EveryWeeks < 0 {
		return nil, fmt.Errorf("%w: every_weeks must not be negative", ErrInvalidPlan)
	}

	c := &compiledPlan{
		from:       from,
		to:         to,
		firstWeek:  weeks.With(from).BeginningOfWeek(),
		everyWeeks: p.EveryWeeks,
		templates:  make(map[time.Weekday][]string),
		notes:      p.Notes,
	}

	if len(p.Weekdays) > 0 {
		c.weekdays = make(map[time.Weekday]bool, len(p.Weekdays))
		for _, raw := range p.Weekdays {
			d, err := ParseWeekday(raw)
			if err != nil {
				return nil, err
			}
			c.weekdays[d] = true
		}
	}

	if c.times, err = normalizeTimes(p.Times); err != nil {
		return nil, err
	}
	for raw, times := range p.Templates {
		d, err := ParseWeekday(raw)
		if err != nil {
			return nil, err
		}
		if c.templates[d], err = normalizeTimes(times); err != nil {
			return nil, err
		}
	}

	if len(c.times) == 0 && len(c.templates) == 0 {
		return nil, fmt.Errorf("%w: no start times", ErrInvalidPlan)
	}
	return c, nil
}

func normalizeTimes(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		t, err := time.Parse(models.TimeLayout, strings.TrimSpace(r))
		if err != nil {
			return nil, fmt.Errorf("%w: start time %q is not HH:MM", ErrInvalidPlan, r)
		}
		out = append(out, t.Format(models.TimeLayout))
	}
	return out, nil
}

// inWeek reports whether day falls in a week the plan generates for.
func (c *compiledPlan) inWeek(day time.Time) bool {
	if c.everyWeeks <= 1 {
		return true
	}
	offset := weeks.With(day).BeginningOfWeek().Sub(c.firstWeek)
	return int(offset.Hours()/24/7)%c.everyWeeks == 0
}

func (c *compiledPlan) timesFor(day time.Time) []string {
	if !c.inWeek(day) {
		return nil
	}
	d := day.Weekday()
	if c.weekdays != nil && !c.weekdays[d] {
		return nil
	}
	if t, ok := c.templates[d]; ok {
		return t
	}
	return c.times
}
