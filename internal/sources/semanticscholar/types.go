package semanticscholar

// Paper is the subset of a Semantic Scholar Graph API paper the adapter reads.
type Paper struct {
	PaperID       string         `json:"paperId"`
	IsOpenAccess  bool           `json:"isOpenAccess"`
	OpenAccessPDF *OpenAccessPDF `json:"openAccessPdf"`
}

// OpenAccessPDF is the open-access PDF pointer for a paper.
type OpenAccessPDF struct {
	URL    string `json:"url"`
	Status string `json:"status"`
}
