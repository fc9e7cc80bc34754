package utils

import (
	"fmt"
	"time"
)

// TimeAgo renders the distance between t and now the way the alert feed shows it,
// using the largest whole unit: days, hours, minutes, else "Just now".
func TimeAgo(now, t time.Time) string {
	diff := now.Sub(t)
	if diff < time.Minute {
		return "Just now"
	}
	if days := int(diff / (24 * time.Hour)); days > 0 {
		return plural(days, "day")
	}
	if hours := int(diff / time.Hour); hours > 0 {
		return plural(hours, "hour")
	}
	return plural(int(diff/time.Minute), "minute")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}
