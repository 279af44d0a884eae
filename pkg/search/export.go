package search

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	cserrors "github.com/otherjamesbrown/council-search/pkg/errors"
)

const ruleWidth = 80

// Transcript renders a meeting's transcript as plain text: a short header
// followed by the corpus.
func (s *Service) Transcript(ctx context.Context, uid string) (string, error) {
	meetings, err := s.store.Meetings(ctx, []string{uid})
	if err != nil {
		return "", fmt.Errorf("failed to load meeting %s: %w", uid, err)
	}
	m, ok := meetings[uid]
	if !ok {
		return "", fmt.Errorf("meeting %s: %w", uid, cserrors.ErrNotFound)
	}

	corpus, err := s.index.Document(ctx, uid)
	if cserrors.IsNotFound(err) {
		return "", fmt.Errorf("transcript for meeting %s: %w", uid, cserrors.ErrNotFound)
	}
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Meeting: %s\n", m.Title)
	fmt.Fprintf(&b, "Authority: %s\n", cases.Title(language.English).String(m.Authority))
	fmt.Fprintf(&b, "Date: %s\n", m.Datetime)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", ruleWidth))
	b.WriteString("\n\n")
	b.WriteString(corpus)
	return b.String(), nil
}
