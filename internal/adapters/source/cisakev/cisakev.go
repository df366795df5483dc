package cisakev

import (
	"context"
	"fmt"
	"time"

	"github.com/lcalzada-xor/cvemap/internal/adapters/source"
	"github.com/lcalzada-xor/cvemap/internal/core/domain"
	"github.com/lcalzada-xor/cvemap/internal/core/ports"
)

const (
	Name           = "cisa-kev"
	defaultCatalog = "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"
)

// Adapter reads the CISA Known Exploited Vulnerabilities catalog. The
// catalog is one static JSON document, so every filter is client-side.
// KEV entries carry no CVSS data; being actively exploited, they map to
// high severity, critical when tied to ransomware campaigns.
type Adapter struct {
	client     *source.Client
	catalogURL string
	maxResults int
}

func New(client *source.Client, catalogURL string, maxResults int) *Adapter {
	if catalogURL == "" {
		catalogURL = defaultCatalog
	}
	if maxResults <= 0 {
		maxResults = 500
	}
	return &Adapter{client: client, catalogURL: catalogURL, maxResults: maxResults}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) CheckHealth(ctx context.Context) error {
	catalog, err := a.fetch(ctx)
	if err != nil {
		return err
	}
	if len(catalog.Vulnerabilities) == 0 {
		return fmt.Errorf("cisa-kev: catalog is empty")
	}
	return nil
}

func (a *Adapter) Discover(ctx context.Context, opts domain.DiscoveryOptions) ([]domain.RawRecord, error) {
	catalog, err := a.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("cisa-kev discover: %w", err)
	}

	records := make([]domain.RawRecord, 0, len(catalog.Vulnerabilities))
	for _, entry := range catalog.Vulnerabilities {
		records = append(records, a.toRecord(entry))
	}

	records = source.FilterRecords(records, opts, time.Now())
	max := a.maxResults
	if opts.MaxPerSource > 0 && opts.MaxPerSource < max {
		max = opts.MaxPerSource
	}
	return source.Cap(records, max), nil
}

func (a *Adapter) GetDetails(ctx context.Context, id string) (*domain.RawRecord, error) {
	catalog, err := a.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("cisa-kev details: %w", err)
	}
	for _, entry := range catalog.Vulnerabilities {
		if entry.CVEID == id {
			rec := a.toRecord(entry)
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
		SupportsHistoricalData:  true,
		SupportsRealtimeUpdates: false,
		MaxTimeframeYears:       10,
	}
}

func (a *Adapter) ReliabilityPrior() float64 { return 0.90 }

func (a *Adapter) fetch(ctx context.Context) (*catalog, error) {
	var cat catalog
	if err := a.client.GetJSON(ctx, a.catalogURL, nil, &cat); err != nil {
		return nil, err
	}
	return &cat, nil
}

func (a *Adapter) toRecord(entry kevEntry) domain.RawRecord {
	severity := domain.SeverityHigh
	score := 8.0
	if entry.KnownRansomwareCampaignUse == "Known" {
		severity = domain.SeverityCritical
		score = 9.5
	}

	rec := domain.RawRecord{
		CVEID:       entry.CVEID,
		Source:      Name,
		SourceURL:   "https://www.cisa.gov/known-exploited-vulnerabilities-catalog",
		Description: entry.ShortDescription,
		Published:   parseDate(entry.DateAdded),
		Severity:    severity,
		Score:       score,
		Products:    []string{entry.VendorProject + " " + entry.Product},
		Metadata: map[string]interface{}{
			"vulnerability_name": entry.VulnerabilityName,
			"required_action":    entry.RequiredAction,
			"due_date":           entry.DueDate,
			"ransomware_use":     entry.KnownRansomwareCampaignUse,
		},
	}
	if entry.Notes != "" {
		rec.References = append(rec.References, entry.Notes)
	}
	return rec.Normalized()
}

func parseDate(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

type catalog struct {
	Title           string     `json:"title"`
	CatalogVersion  string     `json:"catalogVersion"`
	Count           int        `json:"count"`
	Vulnerabilities []kevEntry `json:"vulnerabilities"`
}

type kevEntry struct {
	CVEID                      string `json:"cveID"`
	VendorProject              string `json:"vendorProject"`
	Product                    string `json:"product"`
	VulnerabilityName          string `json:"vulnerabilityName"`
	DateAdded                  string `json:"dateAdded"`
	ShortDescription           string `json:"shortDescription"`
	RequiredAction             string `json:"requiredAction"`
	DueDate                    string `json:"dueDate"`
	KnownRansomwareCampaignUse string `json:"knownRansomwareCampaignUse"`
	Notes                      string `json:"notes"`
}

var _ ports.SourceAdapter = (*Adapter)(nil)
