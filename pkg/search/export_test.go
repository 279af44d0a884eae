package search

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cserrors "github.com/otherjamesbrown/council-search/pkg/errors"
)

func TestTranscript(t *testing.T) {
	f := newFixture(t, "a1")
	m := exampleMeeting()
	m.Authority = "a1"
	f.ingest(t, m, exampleSegments()...)

	text, err := f.svc.Transcript(context.Background(), "m1")
	require.NoError(t, err)

	want := "Meeting: Full Council\n" +
		"Authority: A1\n" +
		"Date: 2023-05-01 18:00:00+01:00\n" +
		"\n" +
		strings.Repeat("=", 80) + "\n" +
		"\n" +
		"Hello world Second line"
	assert.Equal(t, want, text)
}

func TestTranscript_TitleCasesAuthority(t *testing.T) {
	f := newFixture(t, "east sussex")
	m := exampleMeeting()
	m.Authority = "east sussex"
	f.ingest(t, m, exampleSegments()...)

	text, err := f.svc.Transcript(context.Background(), "m1")
	require.NoError(t, err)
	assert.Contains(t, text, "Authority: East Sussex\n")
}

func TestTranscript_NotFound(t *testing.T) {
	f := newFixture(t, "a1")

	_, err := f.svc.Transcript(context.Background(), "nope")
	assert.True(t, cserrors.IsNotFound(err))

	f.ingest(t, exampleMeeting())
	_, err = f.svc.Transcript(context.Background(), "m1")
	assert.True(t, cserrors.IsNotFound(err))
}
