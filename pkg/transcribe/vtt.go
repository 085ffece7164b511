package transcribe

import (
	"fmt"
	"math"
	"strings"
)

// formatTimestamp renders seconds as a WebVTT cue time, HH:MM:SS.mmm.
// Non-finite or negative inputs are replaced by zero. Milliseconds are
// truncated rather than rounded, and clamped to 999 so a value like
// 1.9999 never carries into the next second.
func formatTimestamp(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		seconds = 0
	}
	whole := int(seconds)
	ms := int((seconds - float64(whole)) * 1000)
	if ms > 999 {
		ms = 999
	}
	return fmt.Sprintf("%02d:%02d:%02d.%03d", whole/3600, (whole%3600)/60, whole%60, ms)
}

// BuildVTT renders segments as a WebVTT document.
func BuildVTT(segments []Segment) string {
	var sb strings.Builder
	sb.WriteString("WEBVTT\n")
	for i, seg := range segments {
		sb.WriteString("\n")
		fmt.Fprintf(&sb, "%d\n", i+1)
		fmt.Fprintf(&sb, "%s --> %s\n", formatTimestamp(seg.StartS), formatTimestamp(seg.EndS))
		sb.WriteString(seg.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}
