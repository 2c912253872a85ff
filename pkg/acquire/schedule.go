package acquire

import (
	"context"
	"fmt"
	"strings"
	"time"

	"k8s.io/utils/clock"
)

var timeOfDayLayouts = []string{"15:04:05", "15:04"}

// NextStart resolves an observation start setting against now. An empty
// setting means now; HH:MM[:SS] is the next such UTC time of day; anything
// else must be an RFC3339 instant.
func NextStart(now time.Time, setting string) (time.Time, error) {
	setting = strings.TrimSpace(setting)
	if setting == "" {
		return now, nil
	}
	if t, err := time.Parse(time.RFC3339, setting); err == nil {
		return t, nil
	}
	for _, layout := range timeOfDayLayouts {
		tod, err := time.Parse(layout, setting)
		if err != nil {
			continue
		}
		n := now.UTC()
		t := time.Date(n.Year(), n.Month(), n.Day(), tod.Hour(), tod.Minute(), tod.Second(), 0, time.UTC)
		if t.Before(n) {
			t = t.AddDate(0, 0, 1)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("observation start %q: want HH:MM[:SS] or RFC3339", setting)
}

// WaitUntil blocks until clk reaches t or ctx is done.
func WaitUntil(ctx context.Context, clk clock.Clock, t time.Time) error {
	d := t.Sub(clk.Now())
	if d <= 0 {
		return nil
	}
	timer := clk.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}
