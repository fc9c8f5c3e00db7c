package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultTemplate ResultType = "template"
	ResultCase     ResultType = "case"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	Status    string     `json:"status,omitempty"`
	Reference string     `json:"reference,omitempty"`
}

// Query describes a search request. OrganizationID is mandatory; every
// backend filters by it so one tenant can never see another's hits.
type Query struct {
	Text           string
	OrganizationID string
	FilterType     ResultType // empty = all types
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexTemplate(t TemplateRecord) error
	IndexCase(c CaseRecord) error
	DeleteTemplate(id string) error
	DeleteCase(id string) error
}

// TemplateRecord is the data we index for a form template.
type TemplateRecord struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organizationId"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	DisclosureType string `json:"disclosureType"`
	Status         string `json:"status"`
	Language       string `json:"language"`
	Version        int    `json:"version"`
}

// CaseRecord is the data we index for a case.
type CaseRecord struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organizationId"`
	Reference      string `json:"reference"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Status         string `json:"status"`
	Severity       string `json:"severity"`
	Category       string `json:"category"`
}
