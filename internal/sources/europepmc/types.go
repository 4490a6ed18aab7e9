package europepmc

// SearchResponse is the Europe PMC REST search envelope.
type SearchResponse struct {
	HitCount   int        `json:"hitCount"`
	ResultList ResultList `json:"resultList"`
}

// ResultList wraps the search hits.
type ResultList struct {
	Result []Article `json:"result"`
}

// Article is one search hit in the lite result type.
type Article struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	PMID         string `json:"pmid"`
	PMCID        string `json:"pmcid"`
	DOI          string `json:"doi"`
	IsOpenAccess string `json:"isOpenAccess"`
	InEPMC       string `json:"inEPMC"`
	HasPDF       string `json:"hasPDF"`
}

func (a Article) openAccess() bool {
	return a.IsOpenAccess == "Y"
}
