// Package transcript turns caption segments into a searchable corpus with an
// offset map, persists both idempotently, and maps search snippets back to the
// segment timestamps they came from.
package transcript

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/otherjamesbrown/council-search/pkg/captions"
	"github.com/otherjamesbrown/council-search/pkg/store"
)

// Separator joins segment texts in a corpus.
const Separator = " "

// Document is the corpus of one meeting and the offsets of its segments.
type Document struct {
	UID     string
	Corpus  string
	Offsets []store.Offset
}

// Build joins the segment texts of one meeting and records, for each segment,
// the byte offset at which its text starts in the corpus. Offsets start at 0
// and grow by len(text)+len(Separator) per segment.
func Build(uid string, segments []captions.Segment) (*Document, error) {
	doc := &Document{UID: uid, Offsets: make([]store.Offset, 0, len(segments))}
	if len(segments) == 0 {
		return doc, nil
	}

	var b strings.Builder
	offset := 0
	for i, seg := range segments {
		secs, err := Seconds(seg.Start)
		if err != nil {
			return nil, fmt.Errorf("segment %d of %s: %w", i, uid, err)
		}

		doc.Offsets = append(doc.Offsets, store.Offset{
			UID:              uid,
			CharOffset:       offset,
			StartTime:        seg.Start,
			StartTimeSeconds: secs,
		})

		if i > 0 {
			b.WriteString(Separator)
		}
		b.WriteString(seg.Text)
		offset += len(seg.Text) + len(Separator)
	}
	doc.Corpus = b.String()

	return doc, nil
}

// Seconds converts an "hh:mm:ss.mmm" (or "mm:ss.mmm") timestamp to whole
// seconds. Components are read right to left as seconds, minutes and hours;
// the sum is truncated, never rounded, because playback links are built from it.
func Seconds(ts string) (int, error) {
	parts := strings.Split(strings.TrimSpace(ts), ":")
	total := 0.0
	for i := range parts {
		part := parts[len(parts)-1-i]
		v, err := strconv.ParseFloat(part, 64)
		if err != nil || v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, fmt.Errorf("failed to parse timestamp %q", ts)
		}
		total += v * math.Pow(60, float64(i))
	}
	return int(math.Floor(total)), nil
}
