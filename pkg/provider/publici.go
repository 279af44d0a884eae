package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"github.com/otherjamesbrown/council-search/pkg/captions"
	cserrors "github.com/otherjamesbrown/council-search/pkg/errors"
	"github.com/otherjamesbrown/council-search/pkg/logging"
	"github.com/otherjamesbrown/council-search/pkg/store"
)

// PublicIName is the registry name of the Public-i webcasting platform.
const PublicIName = "publici"

// Public-i endpoints. {authority} is replaced with the authority id.
const (
	DefaultPortalBaseURL = "https://{authority}.public-i.tv"
	DefaultAssetsBaseURL = "https://cl-assets.public-i.tv"
)

// LiveDateLayout is the format of pi:liveDate.
const LiveDateLayout = "Mon, 02 Jan 2006 15:04:05 -0700"

// DatetimeLayout is the ISO-8601 form stored on meetings. Filters compare
// it as a string.
const DatetimeLayout = "2006-01-02 15:04:05-07:00"

const piNamespace = "pi"

// PublicI lists meetings from the archived-meetings RSS feed of a Public-i
// portal and fetches WebVTT captions from its asset host.
type PublicI struct {
	authority string
	portalURL string
	assetsURL string
	client    *http.Client
	userAgent string
	logger    logging.Logger
}

// NewPublicI creates a Public-i provider. Config keys portal_base_url and
// assets_base_url override the platform hosts.
func NewPublicI(authority string, config map[string]any, opts Options) (Provider, error) {
	opts = opts.withDefaults()
	portal := stringOption(config, "portal_base_url", DefaultPortalBaseURL)
	return &PublicI{
		authority: authority,
		portalURL: strings.TrimRight(strings.ReplaceAll(portal, "{authority}", authority), "/"),
		assetsURL: strings.TrimRight(stringOption(config, "assets_base_url", DefaultAssetsBaseURL), "/"),
		client:    opts.HTTPClient,
		userAgent: opts.UserAgent,
		logger: opts.Logger.With(
			logging.F("component", "provider"),
			logging.F("provider", PublicIName),
			logging.F("authority", authority),
		),
	}, nil
}

// Name implements Provider.
func (p *PublicI) Name() string { return PublicIName }

// Index resolves the portal's data source id, then reads the feed of
// archived meetings.
func (p *PublicI) Index(ctx context.Context) ([]Entry, error) {
	dsID, err := p.dataSourceID(ctx)
	if err != nil {
		return nil, err
	}

	feedURL := fmt.Sprintf("%s/core/data/%s/archived/1/agenda/1", p.portalURL, dsID)
	body, err := p.get(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch meeting feed: %w", err)
	}
	defer body.Close()

	feed, err := gofeed.NewParser().Parse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse meeting feed: %w", err)
	}

	entries := make([]Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		entries = append(entries, p.entry(item))
	}

	p.logger.Info("Built meeting index", logging.F("ds_id", dsID), logging.F("meetings", len(entries)))
	return entries, nil
}

// dataSourceID reads the ds_id input of the portal's magic_rss page.
func (p *PublicI) dataSourceID(ctx context.Context) (string, error) {
	body, err := p.get(ctx, p.portalURL+"/core/portal/magic_rss")
	if err != nil {
		return "", fmt.Errorf("failed to fetch magic RSS page: %w", err)
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return "", fmt.Errorf("failed to parse magic RSS page: %w", err)
	}

	dsID, ok := doc.Find(`input[name="ds_id"]`).First().Attr("value")
	if !ok || strings.TrimSpace(dsID) == "" {
		return "", fmt.Errorf("magic RSS page has no ds_id value: %w", cserrors.ErrUnavailable)
	}
	return strings.TrimSpace(dsID), nil
}

func (p *PublicI) entry(item *gofeed.Item) Entry {
	pi := item.Extensions[piNamespace]

	link := item.GUID
	if link == "" {
		link = item.Link
	}
	uid := extensionValue(pi, "activity")
	if last := link[strings.LastIndex(link, "/")+1:]; uid != last {
		p.logger.Warn("Meeting uid does not match link", logging.F("uid", uid), logging.F("link", link))
	}

	m := store.Meeting{
		UID:         uid,
		Authority:   p.authority,
		Title:       item.Title,
		Description: item.Description,
		Link:        link,
	}
	if live := extensionValue(pi, "liveDate"); live != "" {
		t, err := time.Parse(LiveDateLayout, live)
		if err != nil {
			p.logger.Warn("Unparseable meeting date", logging.F("uid", uid), logging.F("live_date", live))
		} else {
			m.Unixtime = t.Unix()
			m.Datetime = t.Format(DatetimeLayout)
		}
	}

	return Entry{
		Meeting:    m,
		Agenda:     agendaItems(pi),
		CaptionURL: fmt.Sprintf("%s/%s/subtitles/%s_%s_en_GB.vtt", p.assetsURL, p.authority, p.authority, uid),
	}
}

func agendaItems(pi map[string][]ext.Extension) []store.AgendaItem {
	var items []store.AgendaItem
	for _, agenda := range pi["agenda"] {
		for _, item := range agenda.Children["agenda_item"] {
			items = append(items, store.AgendaItem{
				ID:   extensionValue(item.Children, "agenda_id"),
				Text: extensionValue(item.Children, "agenda_text"),
				Time: extensionValue(item.Children, "agenda_time"),
			})
		}
	}
	return items
}

func extensionValue(exts map[string][]ext.Extension, name string) string {
	if values := exts[name]; len(values) > 0 {
		return strings.TrimSpace(values[0].Value)
	}
	return ""
}

// Transcript fetches and parses the WebVTT captions of e.
func (p *PublicI) Transcript(ctx context.Context, e Entry) ([]captions.Segment, error) {
	body, err := p.get(ctx, e.CaptionURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch captions for %s: %w", e.Meeting.UID, err)
	}
	defer body.Close()

	segments, err := captions.ParseVTT(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read captions for %s: %w", e.Meeting.UID, err)
	}
	return segments, nil
}

// get issues a GET and returns the body of a 200 response. Other statuses
// wrap ErrUnavailable.
func (p *PublicI) get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: status %d: %w", url, resp.StatusCode, cserrors.ErrUnavailable)
	}
	return resp.Body, nil
}
