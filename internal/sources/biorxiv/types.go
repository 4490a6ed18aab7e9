package biorxiv

// DetailsResponse is the bioRxiv/medRxiv details API envelope.
type DetailsResponse struct {
	Messages   []Message  `json:"messages"`
	Collection []Preprint `json:"collection"`
}

// Message carries the API status line.
type Message struct {
	Status string `json:"status"`
}

// Preprint is one version of a preprint.
type Preprint struct {
	DOI     string `json:"doi"`
	Version string `json:"version"`
	Server  string `json:"server"`
	License string `json:"license"`
}
