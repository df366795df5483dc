package osv

import "time"

// Wire types for the OSV API, following the OSV schema.

type queryRequest struct {
	Package *queryPackage `json:"package,omitempty"`
	Version string        `json:"version,omitempty"`
}

type queryPackage struct {
	Name      string `json:"name"`
	Ecosystem string `json:"ecosystem,omitempty"`
}

type queryResponse struct {
	Vulns []vulnEntry `json:"vulns"`
}

type vulnEntry struct {
	ID               string                 `json:"id"`
	Summary          string                 `json:"summary"`
	Details          string                 `json:"details"`
	Aliases          []string               `json:"aliases"`
	Published        time.Time              `json:"published"`
	Modified         time.Time              `json:"modified"`
	Severity         []severityEntry        `json:"severity"`
	Affected         []affectedEntry        `json:"affected"`
	References       []referenceEntry       `json:"references"`
	DatabaseSpecific map[string]interface{} `json:"database_specific"`
}

type severityEntry struct {
	Type  string `json:"type"`
	Score string `json:"score"`
}

type affectedEntry struct {
	Package struct {
		Name      string `json:"name"`
		Ecosystem string `json:"ecosystem"`
	} `json:"package"`
	Ranges []rangeEntry `json:"ranges"`
}

type rangeEntry struct {
	Type   string `json:"type"`
	Events []struct {
		Introduced string `json:"introduced,omitempty"`
		Fixed      string `json:"fixed,omitempty"`
	} `json:"events"`
}

type referenceEntry struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}
