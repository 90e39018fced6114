package sched

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Kind distinguishes the schedule variants.
type Kind string

const (
	// KindAt fires once at an absolute time.
	KindAt Kind = "at"

	// KindEvery fires repeatedly at a fixed interval.
	KindEvery Kind = "every"

	// KindCron follows a cron expression.
	KindCron Kind = "cron"
)

// Schedule describes when a task fires.
type Schedule struct {
	Kind     Kind
	At       time.Time
	Every    time.Duration
	CronExpr string
}

// Parse reads a schedule spec string. Accepted forms:
//
//	"at:2026-09-01T09:00:00Z"  one-shot at an absolute time
//	"every:45m"                fixed interval
//	"0 9 * * *"                cron expression (seconds field optional)
func Parse(spec string) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Schedule{}, fmt.Errorf("schedule is required")
	}

	if v, ok := strings.CutPrefix(spec, "at:"); ok {
		at, err := time.Parse(time.RFC3339, strings.TrimSpace(v))
		if err != nil {
			at, err = time.Parse("2006-01-02 15:04", strings.TrimSpace(v))
		}
		if err != nil {
			return Schedule{}, fmt.Errorf("invalid at schedule %q", v)
		}
		return Schedule{Kind: KindAt, At: at}, nil
	}

	if v, ok := strings.CutPrefix(spec, "every:"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil || d <= 0 {
			return Schedule{}, fmt.Errorf("invalid every schedule %q", v)
		}
		return Schedule{Kind: KindEvery, Every: d}, nil
	}

	if _, err := cronParser.Parse(spec); err != nil {
		return Schedule{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return Schedule{Kind: KindCron, CronExpr: spec}, nil
}

// Once builds a one-shot schedule firing at t.
func Once(t time.Time) Schedule {
	return Schedule{Kind: KindAt, At: t}
}

// Next returns the next fire time after now. ok is false when the
// schedule has no future firings.
func (s Schedule) Next(now time.Time) (time.Time, bool, error) {
	switch s.Kind {
	case KindAt:
		if s.At.IsZero() {
			return time.Time{}, false, fmt.Errorf("at schedule missing timestamp")
		}
		if now.After(s.At) {
			return time.Time{}, false, nil
		}
		return s.At, true, nil
	case KindEvery:
		if s.Every <= 0 {
			return time.Time{}, false, fmt.Errorf("every schedule missing duration")
		}
		return now.Add(s.Every), true, nil
	case KindCron:
		if s.CronExpr == "" {
			return time.Time{}, false, fmt.Errorf("cron schedule missing expression")
		}
		parsed, err := cronParser.Parse(s.CronExpr)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parse cron expression: %w", err)
		}
		next := parsed.Next(now)
		return next, !next.IsZero(), nil
	default:
		return time.Time{}, false, fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
}
