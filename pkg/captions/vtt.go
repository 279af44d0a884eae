// Package captions parses timed-caption (WebVTT) documents into ordered
// time-coded text segments.
package captions

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Segment is one line of caption text and the cue timing it appeared under.
// Start and End keep the document's "hh:mm:ss.mmm" form.
type Segment struct {
	Start string `json:"start_time"`
	End   string `json:"end_time"`
	Text  string `json:"text"`
}

var (
	// Header block: "WEBVTT" up to the first blank line.
	vttHeaderRegex = regexp.MustCompile(`(?s)WEBVTT.*?\n\n`)

	// Inline markup such as <v Speaker>, <c.yellow> or <00:00:01.000>.
	vttTagRegex = regexp.MustCompile(`<[^>]+>`)

	// Control characters other than tab and newline. Search engines use some
	// of them as highlight delimiters.
	vttControlRegex = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)

	// Cue timing line: 00:00:05.579 --> 00:00:06.858 [settings]
	vttTimingRegex = regexp.MustCompile(`^\s*((?:\d+:)?\d{1,2}:\d{2}\.\d{3})\s+-->\s+((?:\d+:)?\d{1,2}:\d{2}\.\d{3})`)
)

// ParseVTT reads a WebVTT document and returns its segments in document order.
func ParseVTT(r io.Reader) ([]Segment, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read captions: %w", err)
	}
	return ParseVTTString(string(data)), nil
}

// ParseVTTString parses a WebVTT document held in memory.
//
// Every non-blank text line becomes its own segment carrying the timing of the
// cue above it, so a cue with two text lines yields two segments with the same
// Start and End. Text before the first timing line is dropped. A document with
// no timing lines yields an empty, non-nil slice.
func ParseVTTString(doc string) []Segment {
	doc = strings.ReplaceAll(doc, "\r\n", "\n")
	doc = vttHeaderRegex.ReplaceAllString(doc, "")
	doc = vttTagRegex.ReplaceAllString(doc, "")
	doc = vttControlRegex.ReplaceAllString(doc, "")

	segments := make([]Segment, 0)
	var start, end string
	haveCue := false

	scanner := bufio.NewScanner(strings.NewReader(doc))
	scanner.Buffer(make([]byte, 0, 64*1024), len(doc)+1)
	for scanner.Scan() {
		line := scanner.Text()

		if strings.Contains(line, "-->") {
			if m := vttTimingRegex.FindStringSubmatch(line); m != nil {
				start, end = m[1], m[2]
				haveCue = true
			}
			continue
		}

		text := strings.TrimSpace(line)
		if text == "" || !haveCue {
			continue
		}
		segments = append(segments, Segment{Start: start, End: end, Text: text})
	}

	return segments
}
