package nvd

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lcalzada-xor/cvemap/internal/adapters/source"
	"github.com/lcalzada-xor/cvemap/internal/core/domain"
	"github.com/lcalzada-xor/cvemap/internal/core/ports"
)

const (
	Name           = "nvd"
	defaultBaseURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"
	timeFormat     = "2006-01-02T15:04:05.000"
	// The API rejects publication windows wider than 120 days per request.
	maxWindow = 120 * 24 * time.Hour
	pageCap   = 2000
)

// Adapter queries the NVD 2.0 JSON API. Timeframe and keyword filters are
// applied server-side; severity and technology filters client-side.
type Adapter struct {
	client     *source.Client
	baseURL    string
	apiKey     string
	maxResults int
}

// New creates an NVD adapter. baseURL overrides the production endpoint
// when non-empty (used in tests). apiKey may be empty.
func New(client *source.Client, baseURL, apiKey string, maxResults int) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if maxResults <= 0 {
		maxResults = 500
	}
	return &Adapter{client: client, baseURL: baseURL, apiKey: apiKey, maxResults: maxResults}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) CheckHealth(ctx context.Context) error {
	var resp apiResponse
	return a.client.GetJSON(ctx, a.baseURL+"?resultsPerPage=1", a.headers(), &resp)
}

func (a *Adapter) Discover(ctx context.Context, opts domain.DiscoveryOptions) ([]domain.RawRecord, error) {
	now := time.Now()
	start, end := opts.Window(now)
	if end.Sub(start) > maxWindow {
		start = end.Add(-maxWindow)
	}

	params := url.Values{}
	params.Set("pubStartDate", start.UTC().Format(timeFormat))
	params.Set("pubEndDate", end.UTC().Format(timeFormat))
	perPage := a.maxResults
	if opts.MaxPerSource > 0 && opts.MaxPerSource < perPage {
		perPage = opts.MaxPerSource
	}
	if perPage > pageCap {
		perPage = pageCap
	}
	params.Set("resultsPerPage", fmt.Sprintf("%d", perPage))
	if len(opts.Keywords) > 0 {
		params.Set("keywordSearch", strings.Join(opts.Keywords, " "))
	}

	var resp apiResponse
	if err := a.client.GetJSON(ctx, a.baseURL+"?"+params.Encode(), a.headers(), &resp); err != nil {
		return nil, fmt.Errorf("nvd discover: %w", err)
	}

	records := make([]domain.RawRecord, 0, len(resp.Vulnerabilities))
	for _, v := range resp.Vulnerabilities {
		records = append(records, a.toRecord(v.CVE))
	}

	// Keyword and window were handled server-side; severity and
	// technology still need the client-side pass.
	records = source.FilterRecords(records, domain.DiscoveryOptions{
		Severities:   opts.Severities,
		Technologies: opts.Technologies,
		StartDate:    start,
		EndDate:      end,
	}, now)
	return source.Cap(records, perPage), nil
}

func (a *Adapter) GetDetails(ctx context.Context, id string) (*domain.RawRecord, error) {
	var resp apiResponse
	if err := a.client.GetJSON(ctx, a.baseURL+"?cveId="+url.QueryEscape(id), a.headers(), &resp); err != nil {
		return nil, fmt.Errorf("nvd details: %w", err)
	}
	if len(resp.Vulnerabilities) == 0 {
		return nil, nil
	}
	rec := a.toRecord(resp.Vulnerabilities[0].CVE)
	return &rec, nil
}

func (a *Adapter) RateLimitStatus() domain.RateLimitStatus {
	return a.client.Limiter().Status(a.client.Service())
}

func (a *Adapter) Capabilities() domain.SourceCapabilities {
	return domain.SourceCapabilities{
		SupportsHistoricalData:  true,
		SupportsRealtimeUpdates: false,
		MaxTimeframeYears:       25,
	}
}

func (a *Adapter) ReliabilityPrior() float64 { return 0.95 }

func (a *Adapter) headers() map[string]string {
	if a.apiKey == "" {
		return nil
	}
	return map[string]string{"apiKey": a.apiKey}
}

func (a *Adapter) toRecord(item cveItem) domain.RawRecord {
	rec := domain.RawRecord{
		CVEID:     item.ID,
		Source:    Name,
		SourceURL: "https://nvd.nist.gov/vuln/detail/" + item.ID,
		Published: parseTime(item.Published),
		Modified:  parseTime(item.LastModified),
		Metadata: map[string]interface{}{
			"vuln_status": item.VulnStatus,
		},
	}

	for _, d := range item.Descriptions {
		if d.Lang == "en" {
			rec.Description = d.Value
			break
		}
	}

	if m := item.bestMetric(); m != nil {
		rec.Score = m.CvssData.BaseScore
		rec.Severity = domain.NormalizeSeverity(m.CvssData.BaseSeverity)
		rec.Vector = m.CvssData.VectorString
	}

	for _, w := range item.Weaknesses {
		for _, d := range w.Description {
			if d.Lang == "en" && strings.HasPrefix(d.Value, "CWE-") {
				rec.Weaknesses = append(rec.Weaknesses, d.Value)
			}
		}
	}

	for _, ref := range item.References {
		rec.References = append(rec.References, ref.URL)
	}

	rec.Products = productsFromConfigurations(item.Configurations)
	return rec.Normalized()
}

// productsFromConfigurations extracts "vendor product" pairs from CPE 2.3
// match criteria.
func productsFromConfigurations(configs []configuration) []string {
	seen := make(map[string]bool)
	var out []string
	for _, cfg := range configs {
		for _, node := range cfg.Nodes {
			for _, match := range node.CPEMatch {
				if !match.Vulnerable {
					continue
				}
				parts := strings.Split(match.Criteria, ":")
				if len(parts) < 5 {
					continue
				}
				p := parts[3] + " " + parts[4]
				if !seen[p] {
					seen[p] = true
					out = append(out, p)
				}
			}
		}
	}
	return out
}

func parseTime(s string) time.Time {
	for _, layout := range []string{timeFormat, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

var _ ports.SourceAdapter = (*Adapter)(nil)
