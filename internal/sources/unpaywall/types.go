package unpaywall

// Response is the subset of the Unpaywall v2 DOI object the adapter reads.
// See: https://unpaywall.org/data-format
type Response struct {
	DOI            string       `json:"doi"`
	IsOA           bool         `json:"is_oa"`
	Publisher      string       `json:"publisher"`
	BestOALocation *OALocation  `json:"best_oa_location"`
	OALocations    []OALocation `json:"oa_locations"`
}

// OALocation is one open-access copy of a work.
type OALocation struct {
	URL       string `json:"url"`
	URLForPDF string `json:"url_for_pdf"`
	HostType  string `json:"host_type"`
	Version   string `json:"version"`
	License   string `json:"license"`
	IsBest    bool   `json:"is_best"`
}
