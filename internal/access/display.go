package access

import (
	"fmt"
	"time"
)

// Display carries the two presentation forms of a timer remainder: Short for
// compact badges ("3h 12m" above an hour, "04:59" below) and Full as
// zero-padded HH:MM:SS.
type Display struct {
	Short string
	Full  string
}

// FormatRemaining decomposes a remaining duration into display strings.
// Negative durations render as zero.
func FormatRemaining(d time.Duration) Display {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	short := fmt.Sprintf("%02d:%02d", minutes, seconds)
	if hours > 0 {
		short = fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return Display{
		Short: short,
		Full:  fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds),
	}
}
