package cvedetails

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lcalzada-xor/cvemap/internal/adapters/source"
	"github.com/lcalzada-xor/cvemap/internal/core/domain"
	"github.com/lcalzada-xor/cvemap/internal/core/ports"
)

const (
	Name           = "cvedetails"
	defaultBaseURL = "https://www.cvedetails.com"
	maxBody        = 4 << 20
)

// Adapter scrapes vulnerability listing pages from cvedetails.com. The
// site has no API, so records are extracted from the listing table with
// regular expressions. Scraped data is sparse and occasionally stale,
// reflected in the low reliability prior.
type Adapter struct {
	client     *source.Client
	baseURL    string
	maxResults int
}

var (
	rowPattern   = regexp.MustCompile(`(?s)<tr[^>]*data-tsvfield="vulnerability"[^>]*>(.*?)</tr>`)
	cvePattern   = regexp.MustCompile(`(CVE-\d{4}-\d{4,})`)
	scorePattern = regexp.MustCompile(`data-tsvfield="maxCvssBaseScore"[^>]*>\s*([\d.]+)`)
	descPattern  = regexp.MustCompile(`(?s)data-tsvfield="summary"[^>]*>(.*?)</`)
	datePattern  = regexp.MustCompile(`data-tsvfield="publishDate"[^>]*>\s*(\d{4}-\d{2}-\d{2})`)
	tagPattern   = regexp.MustCompile(`<[^>]+>`)
)

func New(client *source.Client, baseURL string, maxResults int) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if maxResults <= 0 {
		maxResults = 200
	}
	return &Adapter{client: client, baseURL: baseURL, maxResults: maxResults}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) CheckHealth(ctx context.Context) error {
	body, err := a.client.GetBody(ctx, a.baseURL+"/vulnerability-list/", maxBody)
	if err != nil {
		return err
	}
	if !strings.Contains(string(body), "CVE-") {
		return fmt.Errorf("cvedetails: listing page has no vulnerability rows")
	}
	return nil
}

func (a *Adapter) Discover(ctx context.Context, opts domain.DiscoveryOptions) ([]domain.RawRecord, error) {
	now := time.Now()
	start, end := opts.Window(now)

	// One listing page per year in the window, newest first.
	var records []domain.RawRecord
	seen := make(map[string]bool)
	for year := end.Year(); year >= start.Year(); year-- {
		page := fmt.Sprintf("%s/vulnerability-list/year-%d/vulnerabilities.html", a.baseURL, year)
		body, err := a.client.GetBody(ctx, page, maxBody)
		if err != nil {
			if len(records) > 0 {
				break
			}
			return nil, fmt.Errorf("cvedetails discover: %w", err)
		}
		for _, rec := range parseListing(string(body)) {
			if !seen[rec.CVEID] {
				seen[rec.CVEID] = true
				records = append(records, rec)
			}
		}
		if len(records) >= a.maxResults {
			break
		}
	}

	records = source.FilterRecords(records, opts, now)
	max := a.maxResults
	if opts.MaxPerSource > 0 && opts.MaxPerSource < max {
		max = opts.MaxPerSource
	}
	return source.Cap(records, max), nil
}

func (a *Adapter) GetDetails(ctx context.Context, id string) (*domain.RawRecord, error) {
	body, err := a.client.GetBody(ctx, a.baseURL+"/cve/"+url.PathEscape(id)+"/", maxBody)
	if err != nil {
		return nil, fmt.Errorf("cvedetails details: %w", err)
	}
	page := string(body)
	if !strings.Contains(page, id) {
		return nil, nil
	}

	rec := domain.RawRecord{
		CVEID:     id,
		Source:    Name,
		SourceURL: fmt.Sprintf("%s/cve/%s/", a.baseURL, id),
	}
	if m := descPattern.FindStringSubmatch(page); m != nil {
		rec.Description = cleanText(m[1])
	}
	if m := scorePattern.FindStringSubmatch(page); m != nil {
		rec.Score, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := datePattern.FindStringSubmatch(page); m != nil {
		rec.Published, _ = time.Parse("2006-01-02", m[1])
	}
	rec = rec.Normalized()
	return &rec, nil
}

func (a *Adapter) RateLimitStatus() domain.RateLimitStatus {
	return a.client.Limiter().Status(a.client.Service())
}

func (a *Adapter) Capabilities() domain.SourceCapabilities {
	return domain.SourceCapabilities{
		SupportsHistoricalData:  true,
		SupportsRealtimeUpdates: false,
		MaxTimeframeYears:       20,
	}
}

func (a *Adapter) ReliabilityPrior() float64 { return 0.60 }

// parseListing extracts records from a vulnerability listing page.
func parseListing(page string) []domain.RawRecord {
	var out []domain.RawRecord
	for _, row := range rowPattern.FindAllStringSubmatch(page, -1) {
		cell := row[1]
		id := cvePattern.FindString(cell)
		if id == "" {
			continue
		}
		rec := domain.RawRecord{
			CVEID:     id,
			Source:    Name,
			SourceURL: defaultBaseURL + "/cve/" + id + "/",
		}
		if m := descPattern.FindStringSubmatch(cell); m != nil {
			rec.Description = cleanText(m[1])
		}
		if m := scorePattern.FindStringSubmatch(cell); m != nil {
			rec.Score, _ = strconv.ParseFloat(m[1], 64)
		}
		if m := datePattern.FindStringSubmatch(cell); m != nil {
			rec.Published, _ = time.Parse("2006-01-02", m[1])
		}
		out = append(out, rec.Normalized())
	}
	return out
}

func cleanText(s string) string {
	s = tagPattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

var _ ports.SourceAdapter = (*Adapter)(nil)
