package openalex

// Work is the subset of an OpenAlex work object the adapter reads.
// See: https://docs.openalex.org/api-entities/works/work-object
type Work struct {
	ID              string      `json:"id"`
	DOI             string      `json:"doi"`
	OpenAccess      *OpenAccess `json:"open_access"`
	BestOALocation  *Location   `json:"best_oa_location"`
	PrimaryLocation *Location   `json:"primary_location"`
	Locations       []Location  `json:"locations"`
}

// OpenAccess contains open access information for a work.
type OpenAccess struct {
	IsOA     bool   `json:"is_oa"`
	OAStatus string `json:"oa_status"`
	OAURL    string `json:"oa_url"`
}

// Location represents where a work is available.
type Location struct {
	IsOA           bool    `json:"is_oa"`
	LandingPageURL string  `json:"landing_page_url"`
	PDFURL         string  `json:"pdf_url"`
	Source         *Source `json:"source"`
}

// Source is the venue hosting a location.
type Source struct {
	DisplayName string `json:"display_name"`
	Type        string `json:"type"`
}
