// Package provider adapts meeting-video platforms to council-search. A
// provider lists the meetings of one authority cheaply, then fetches and
// parses the captions of each listed meeting.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/otherjamesbrown/council-search/pkg/captions"
	cserrors "github.com/otherjamesbrown/council-search/pkg/errors"
	"github.com/otherjamesbrown/council-search/pkg/logging"
	"github.com/otherjamesbrown/council-search/pkg/store"
)

// Entry is a listed meeting whose captions have not been fetched yet.
type Entry struct {
	Meeting    store.Meeting
	Agenda     []store.AgendaItem
	CaptionURL string
}

// Provider lists and fetches the meetings of one authority.
type Provider interface {
	// Name returns the registry name of the provider.
	Name() string
	// Index lists every meeting the platform publishes for the authority.
	Index(ctx context.Context) ([]Entry, error)
	// Transcript fetches and parses the captions of e. An error means the
	// captions could not be fetched; the meeting is then stored without a
	// transcript.
	Transcript(ctx context.Context, e Entry) ([]captions.Segment, error)
}

// Options are the collaborators shared by every provider.
type Options struct {
	HTTPClient *http.Client
	UserAgent  string
	Logger     logging.Logger
}

// DefaultTimeout bounds provider HTTP requests when no client is given.
const DefaultTimeout = 30 * time.Second

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	if o.UserAgent == "" {
		o.UserAgent = "council-search"
	}
	if o.Logger == nil {
		o.Logger = logging.NewNopLogger()
	}
	return o
}

// Factory builds a provider for one authority.
type Factory func(authority string, config map[string]any, opts Options) (Provider, error)

var registry = map[string]Factory{
	PublicIName: NewPublicI,
}

// New builds the named provider. Names are case-insensitive.
func New(name, authority string, config map[string]any, opts Options) (Provider, error) {
	factory, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("provider %q is not supported: %w", name, cserrors.ErrValidation)
	}
	if strings.TrimSpace(authority) == "" {
		return nil, fmt.Errorf("authority is required: %w", cserrors.ErrValidation)
	}
	return factory(authority, config, opts.withDefaults())
}

// Names lists the registered provider names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// stringOption reads a string from a provider config map.
func stringOption(config map[string]any, key, fallback string) string {
	if v, ok := config[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
