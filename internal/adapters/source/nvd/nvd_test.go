package nvd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/cvemap/internal/adapters/source"
	"github.com/lcalzada-xor/cvemap/internal/core/domain"
	"github.com/lcalzada-xor/cvemap/internal/core/services/breaker"
	"github.com/lcalzada-xor/cvemap/internal/core/services/ratelimit"
)

const sampleResponse = `{
  "resultsPerPage": 1,
  "totalResults": 1,
  "vulnerabilities": [
    {
      "cve": {
        "id": "CVE-2024-12345",
        "published": "2024-03-15T10:00:00.000",
        "lastModified": "2024-03-20T08:30:00.000",
        "vulnStatus": "Analyzed",
        "descriptions": [
          {"lang": "es", "value": "descripcion"},
          {"lang": "en", "value": "Buffer overflow in the widget parser."}
        ],
        "metrics": {
          "cvssMetricV2": [
            {"cvssData": {"baseScore": 7.5, "baseSeverity": "HIGH", "vectorString": "AV:N/AC:L"}}
          ],
          "cvssMetricV31": [
            {"cvssData": {"baseScore": 9.8, "baseSeverity": "CRITICAL", "vectorString": "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H"}}
          ]
        },
        "weaknesses": [
          {"description": [{"lang": "en", "value": "CWE-120"}, {"lang": "en", "value": "NVD-CWE-Other"}]}
        ],
        "references": [
          {"url": "https://example.com/advisory"}
        ],
        "configurations": [
          {"nodes": [{"cpeMatch": [
            {"criteria": "cpe:2.3:a:acme:widget:1.0:*:*:*:*:*:*:*", "vulnerable": true},
            {"criteria": "cpe:2.3:a:acme:widget:2.0:*:*:*:*:*:*:*", "vulnerable": true},
            {"criteria": "cpe:2.3:a:acme:other:1.0:*:*:*:*:*:*:*", "vulnerable": false}
          ]}]}
        ]
      }
    }
  ]
}`

func newAdapter(t *testing.T, handler http.HandlerFunc, apiKey string) (*Adapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	limiter := ratelimit.New(nil, ratelimit.BucketConfig{Capacity: 1000, RefillPer: 1000}, nil)
	client := source.NewClient(Name, limiter, breaker.New(nil, 10, time.Minute), 10*time.Second)
	return New(client, srv.URL, apiKey, 100), srv
}

func TestDiscoverParsesVulnerabilities(t *testing.T) {
	a, _ := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleResponse))
	}, "")

	records, err := a.Discover(context.Background(), domain.DiscoveryOptions{TimeframeYears: 10})
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "CVE-2024-12345", rec.CVEID)
	assert.Equal(t, Name, rec.Source)
	assert.Equal(t, "Buffer overflow in the widget parser.", rec.Description)
	assert.Equal(t, 9.8, rec.Score, "v3.1 metric wins over v2")
	assert.Equal(t, "critical", rec.Severity)
	assert.Equal(t, "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H", rec.Vector)
	assert.Equal(t, []string{"CWE-120"}, rec.Weaknesses)
	assert.Equal(t, []string{"https://example.com/advisory"}, rec.References)
	assert.Equal(t, []string{"acme widget", "acme other"}, rec.Products)
	assert.Equal(t, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC), rec.Published)
}

func TestDiscoverSendsQueryParams(t *testing.T) {
	var query map[string][]string
	a, _ := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		w.Write([]byte(`{"vulnerabilities":[]}`))
	}, "secret")

	_, err := a.Discover(context.Background(), domain.DiscoveryOptions{
		TimeframeYears: 1,
		Keywords:       []string{"apache", "struts"},
		MaxPerSource:   50,
	})
	require.NoError(t, err)

	assert.Equal(t, "apache struts", query["keywordSearch"][0])
	assert.Equal(t, "50", query["resultsPerPage"][0])
	assert.NotEmpty(t, query["pubStartDate"])
	assert.NotEmpty(t, query["pubEndDate"])

	start, err := time.Parse(timeFormat, query["pubStartDate"][0])
	require.NoError(t, err)
	end, err := time.Parse(timeFormat, query["pubEndDate"][0])
	require.NoError(t, err)
	assert.LessOrEqual(t, end.Sub(start), maxWindow, "window must be clamped to the API maximum")
}

func TestDiscoverSendsAPIKey(t *testing.T) {
	var gotKey string
	a, _ := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("apiKey")
		w.Write([]byte(`{"vulnerabilities":[]}`))
	}, "secret")

	_, err := a.Discover(context.Background(), domain.DiscoveryOptions{TimeframeYears: 1})
	require.NoError(t, err)
	assert.Equal(t, "secret", gotKey)
}

func TestDiscoverAppliesSeverityFilterClientSide(t *testing.T) {
	a, _ := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleResponse))
	}, "")

	records, err := a.Discover(context.Background(), domain.DiscoveryOptions{
		TimeframeYears: 10,
		Severities:     []string{"low"},
	})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestGetDetails(t *testing.T) {
	a, _ := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "CVE-2024-12345", r.URL.Query().Get("cveId"))
		w.Write([]byte(sampleResponse))
	}, "")

	rec, err := a.GetDetails(context.Background(), "CVE-2024-12345")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "CVE-2024-12345", rec.CVEID)
}

func TestGetDetailsUnknownIDReturnsNil(t *testing.T) {
	a, _ := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"vulnerabilities":[]}`))
	}, "")

	rec, err := a.GetDetails(context.Background(), "CVE-1999-0000")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestParseTimeLayouts(t *testing.T) {
	assert.Equal(t, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC), parseTime("2024-03-15T10:00:00.000"))
	assert.Equal(t, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC), parseTime("2024-03-15T10:00:00"))
	assert.True(t, parseTime("garbage").IsZero())
}
