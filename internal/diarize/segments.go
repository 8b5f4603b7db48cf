package diarize

import (
	"strings"

	"gonum.org/v1/gonum/floats"
)

// SegmentBuilder keeps the ordered display segments of a session: a permanent run of final
// segments followed by a replaceable run of interim segments.
type SegmentBuilder struct {
	finals  []Segment
	interim []Segment
}

// Commit drops the interim run and appends the coalesced final units. Segments committed
// earlier are never touched, and units are not merged across commits. An empty commit only
// clears the interim run.
func (b *SegmentBuilder) Commit(units []Unit, resolve func(SpeakerID) Role) {
	b.interim = nil
	b.finals = append(b.finals, coalesce(units, resolve, true)...)
}

// Replace swaps the whole interim run for the coalesced units.
func (b *SegmentBuilder) Replace(units []Unit, resolve func(SpeakerID) Role) {
	b.interim = coalesce(units, resolve, false)
}

// Segments returns a copy of finals followed by interim segments.
func (b *SegmentBuilder) Segments() []Segment {
	out := make([]Segment, 0, len(b.finals)+len(b.interim))
	out = append(out, b.finals...)
	return append(out, b.interim...)
}

// FinalCount is the number of committed segments.
func (b *SegmentBuilder) FinalCount() int { return len(b.finals) }

type segmentDraft struct {
	seg        Segment
	text       []string
	confidence []float64
}

func (d *segmentDraft) add(u Unit) {
	d.text = append(d.text, u.Text)
	d.confidence = append(d.confidence, u.Confidence)
	if u.Start.Valid && (!d.seg.Start.Valid || u.Start.Ms < d.seg.Start.Ms) {
		d.seg.Start = u.Start
	}
	if u.End.Valid && (!d.seg.End.Valid || u.End.Ms > d.seg.End.Ms) {
		d.seg.End = u.End
	}
}

func (d *segmentDraft) finish() Segment {
	d.seg.Text = strings.Join(d.text, " ")
	d.seg.Confidence = floats.Sum(d.confidence) / float64(len(d.confidence))
	return d.seg
}

// coalesce merges consecutive units resolving to the same role.
func coalesce(units []Unit, resolve func(SpeakerID) Role, final bool) []Segment {
	var (
		out []Segment
		cur *segmentDraft
	)
	for _, u := range units {
		role := resolve(u.Speaker)
		if cur == nil || cur.seg.Role != role {
			if cur != nil {
				out = append(out, cur.finish())
			}
			cur = &segmentDraft{seg: Segment{Role: role, IsFinal: final}}
		}
		cur.add(u)
	}
	if cur != nil {
		out = append(out, cur.finish())
	}
	return out
}
