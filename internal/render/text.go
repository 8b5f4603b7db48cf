// Package render formats labeled segments for people to read.
package render

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/raihanakbr/consult-roles/internal/diarize"
)

// Text renders one line per segment: "[mm:ss-mm:ss] Role: text". The time prefix is
// omitted for segments without timings and interim segments are marked with "~".
func Text(segments []diarize.Segment) string {
	var b strings.Builder
	for _, s := range segments {
		if s.Start.Valid && s.End.Valid {
			fmt.Fprintf(&b, "[%s-%s] ", msToTS(s.Start.Ms), msToTS(s.End.Ms))
		}
		if !s.IsFinal {
			b.WriteString("~")
		}
		if s.Role != "" {
			fmt.Fprintf(&b, "%s: ", s.Role)
		}
		b.WriteString(strings.TrimSpace(s.Text))
		b.WriteString("\n")
	}
	return b.String()
}

// Roles writes the ranking of an assignment as an aligned table.
func Roles(w io.Writer, a diarize.Assignment) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "SPEAKER\tROLE\tSCORE\n")

	for _, r := range a.Ranking {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\n", r.Speaker, r.Role, r.Score)
	}
	return tw.Flush()
}

func msToTS(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
