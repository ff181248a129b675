package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// specFor builds a per-entry spec carrying its own IANA timezone.
func specFor(expr, tz string) string {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return expr
	}
	return "CRON_TZ=" + tz + " " + expr
}

// NextAfter computes the next firing instant in UTC for a cron expression and
// timezone, strictly after from. Cron parsing is a black box here; anything
// the parser rejects is an error.
func NextAfter(expr, tz string, from time.Time) (time.Time, error) {
	if strings.TrimSpace(expr) == "" {
		return time.Time{}, fmt.Errorf("empty cron expression")
	}
	sched, err := cron.ParseStandard(specFor(expr, tz))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	next := sched.Next(from)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("cron %q has no future firing", expr)
	}
	return next.UTC(), nil
}
