package transcript

import (
	"fmt"
	"sort"
	"strings"

	cserrors "github.com/otherjamesbrown/council-search/pkg/errors"
	"github.com/otherjamesbrown/council-search/pkg/store"
)

// Search engines wrap matched tokens in HighlightOpen and HighlightClose.
// These control bytes never occur in caption text, so a literal "[" in a
// caption cannot be mistaken for a match. Display rewrites them to MarkOpen
// and MarkClose for output.
const (
	HighlightOpen  = "\x02"
	HighlightClose = "\x03"

	MarkOpen  = "["
	MarkClose = "]"
)

var (
	highlightStripper = strings.NewReplacer(HighlightOpen, "", HighlightClose, "")
	highlightDisplay  = strings.NewReplacer(HighlightOpen, MarkOpen, HighlightClose, MarkClose)
)

// Display returns snippet with its highlight delimiters shown as brackets.
func Display(snippet string) string {
	return highlightDisplay.Replace(snippet)
}

// Resolve returns the offset entry of the segment holding the first
// highlighted token of snippet.
//
// The snippet is located by the first occurrence of its unmarked text in the
// corpus. When the same passage also appears earlier in the meeting, the
// earlier segment is returned; callers accept this approximation.
func Resolve(corpus, snippet string, offsets []store.Offset) (store.Offset, error) {
	pos, err := Locate(corpus, snippet)
	if err != nil {
		return store.Offset{}, err
	}
	return Predecessor(offsets, pos)
}

// Locate returns the byte position in corpus of the first highlighted token
// of snippet, or of the snippet start when nothing is highlighted.
func Locate(corpus, snippet string) (int, error) {
	phrase := highlightStripper.Replace(snippet)
	lead := 0
	if i := strings.Index(snippet, HighlightOpen); i >= 0 {
		lead = len(highlightStripper.Replace(snippet[:i]))
	}

	pos := strings.Index(corpus, phrase)
	if pos < 0 {
		return -1, fmt.Errorf("snippet %q not found in corpus: %w", phrase, cserrors.ErrInvalidState)
	}
	return pos + lead, nil
}

// Predecessor returns the entry with the greatest CharOffset <= pos.
// offsets must be sorted by CharOffset.
func Predecessor(offsets []store.Offset, pos int) (store.Offset, error) {
	i := sort.Search(len(offsets), func(i int) bool {
		return offsets[i].CharOffset > pos
	})
	if i == 0 {
		return store.Offset{}, fmt.Errorf("no segment offset at or before position %d (%d offsets): %w",
			pos, len(offsets), cserrors.ErrInvalidState)
	}
	return offsets[i-1], nil
}
