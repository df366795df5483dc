package exploitdb

import (
	"context"
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lcalzada-xor/cvemap/internal/adapters/source"
	"github.com/lcalzada-xor/cvemap/internal/core/domain"
	"github.com/lcalzada-xor/cvemap/internal/core/ports"
)

const (
	Name           = "exploit-db"
	defaultFeedURL = "https://www.exploit-db.com/rss.xml"
	maxBody        = 4 << 20
)

// Adapter reads the Exploit-DB RSS feed. Entries describe exploits rather
// than vulnerabilities, so many carry no CVE identifier at all; those rely
// on content fingerprinting downstream. The feed only covers recent
// publications.
type Adapter struct {
	client     *source.Client
	feedURL    string
	maxResults int
}

var cvePattern = regexp.MustCompile(`CVE-\d{4}-\d{4,}`)

func New(client *source.Client, feedURL string, maxResults int) *Adapter {
	if feedURL == "" {
		feedURL = defaultFeedURL
	}
	if maxResults <= 0 {
		maxResults = 100
	}
	return &Adapter{client: client, feedURL: feedURL, maxResults: maxResults}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) CheckHealth(ctx context.Context) error {
	feed, err := a.fetch(ctx)
	if err != nil {
		return err
	}
	if len(feed.Channel.Items) == 0 {
		return fmt.Errorf("exploit-db: feed has no items")
	}
	return nil
}

func (a *Adapter) Discover(ctx context.Context, opts domain.DiscoveryOptions) ([]domain.RawRecord, error) {
	feed, err := a.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("exploit-db discover: %w", err)
	}

	records := make([]domain.RawRecord, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		records = append(records, a.toRecord(item))
	}

	records = source.FilterRecords(records, opts, time.Now())
	max := a.maxResults
	if opts.MaxPerSource > 0 && opts.MaxPerSource < max {
		max = opts.MaxPerSource
	}
	return source.Cap(records, max), nil
}

func (a *Adapter) GetDetails(ctx context.Context, id string) (*domain.RawRecord, error) {
	feed, err := a.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("exploit-db details: %w", err)
	}
	for _, item := range feed.Channel.Items {
		if extractCVE(item) == id {
			rec := a.toRecord(item)
			return &rec, nil
		}
	}
	return nil, nil
}

func (a *Adapter) RateLimitStatus() domain.RateLimitStatus {
	return a.client.Limiter().Status(a.client.Service())
}

func (a *Adapter) Capabilities() domain.SourceCapabilities {
	return domain.SourceCapabilities{
		SupportsHistoricalData:  false,
		SupportsRealtimeUpdates: true,
		MaxTimeframeYears:       1,
	}
}

func (a *Adapter) ReliabilityPrior() float64 { return 0.55 }

func (a *Adapter) fetch(ctx context.Context) (*rssFeed, error) {
	body, err := a.client.GetBody(ctx, a.feedURL, maxBody)
	if err != nil {
		return nil, err
	}
	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("exploit-db: decode feed: %w", err)
	}
	return &feed, nil
}

func (a *Adapter) toRecord(item rssItem) domain.RawRecord {
	rec := domain.RawRecord{
		CVEID:       extractCVE(item),
		Source:      Name,
		SourceURL:   item.Link,
		Description: describeItem(item),
		Published:   parsePubDate(item.PubDate),
		// A published exploit implies real-world impact even without
		// CVSS data.
		Severity: domain.SeverityHigh,
		Score:    7.0,
		Metadata: map[string]interface{}{
			"exploit_title": item.Title,
		},
	}
	if item.Link != "" {
		rec.References = append(rec.References, item.Link)
	}
	return rec.Normalized()
}

// extractCVE pulls the first CVE identifier from the item's title or
// description, or returns empty when the entry names none.
func extractCVE(item rssItem) string {
	if id := cvePattern.FindString(item.Title); id != "" {
		return id
	}
	return cvePattern.FindString(item.Description)
}

func describeItem(item rssItem) string {
	desc := strings.TrimSpace(item.Description)
	if desc == "" {
		desc = strings.TrimSpace(item.Title)
	}
	return desc
}

func parsePubDate(s string) time.Time {
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

type rssFeed struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Title string    `xml:"title"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

var _ ports.SourceAdapter = (*Adapter)(nil)
