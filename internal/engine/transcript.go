package engine

import (
	"fmt"
	"strings"
)

// Transcript renders events as a downloadable plain-text log, one line per
// event: "[15:04:05] LOG: content".
func Transcript(events []OutputEvent) string {
	var b strings.Builder
	for i, event := range events {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s] %s: %s",
			event.Timestamp.Format("15:04:05"),
			strings.ToUpper(string(event.Kind)),
			event.Content,
		)
	}
	return b.String()
}
