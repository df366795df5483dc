package nvd

// Wire types for the NVD 2.0 JSON API, reduced to the fields the adapter
// reads.

type apiResponse struct {
	ResultsPerPage  int `json:"resultsPerPage"`
	TotalResults    int `json:"totalResults"`
	Vulnerabilities []struct {
		CVE cveItem `json:"cve"`
	} `json:"vulnerabilities"`
}

type cveItem struct {
	ID           string `json:"id"`
	Published    string `json:"published"`
	LastModified string `json:"lastModified"`
	VulnStatus   string `json:"vulnStatus"`
	Descriptions []struct {
		Lang  string `json:"lang"`
		Value string `json:"value"`
	} `json:"descriptions"`
	Metrics struct {
		CvssMetricV31 []cvssMetric `json:"cvssMetricV31"`
		CvssMetricV30 []cvssMetric `json:"cvssMetricV30"`
		CvssMetricV2  []cvssMetric `json:"cvssMetricV2"`
	} `json:"metrics"`
	Weaknesses []struct {
		Description []struct {
			Lang  string `json:"lang"`
			Value string `json:"value"`
		} `json:"description"`
	} `json:"weaknesses"`
	References []struct {
		URL string `json:"url"`
	} `json:"references"`
	Configurations []configuration `json:"configurations"`
}

type configuration struct {
	Nodes []struct {
		CPEMatch []struct {
			Criteria   string `json:"criteria"`
			Vulnerable bool   `json:"vulnerable"`
		} `json:"cpeMatch"`
	} `json:"nodes"`
}

type cvssMetric struct {
	CvssData struct {
		BaseScore    float64 `json:"baseScore"`
		BaseSeverity string  `json:"baseSeverity"`
		VectorString string  `json:"vectorString"`
	} `json:"cvssData"`
}

// bestMetric prefers CVSS v3.1 over v3.0 over v2.
func (c cveItem) bestMetric() *cvssMetric {
	for _, metrics := range [][]cvssMetric{
		c.Metrics.CvssMetricV31,
		c.Metrics.CvssMetricV30,
		c.Metrics.CvssMetricV2,
	} {
		if len(metrics) > 0 {
			return &metrics[0]
		}
	}
	return nil
}
