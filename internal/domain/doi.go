package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// doiPrefixes are resolver and scheme prefixes stripped during normalization.
var doiPrefixes = []string{
	"https://doi.org/",
	"http://doi.org/",
	"https://dx.doi.org/",
	"http://dx.doi.org/",
	"doi.org/",
	"doi:",
}

// knownPublishers maps DOI registrant prefixes to display names.
var knownPublishers = map[string]string{
	"10.1371":  "Public Library of Science",
	"10.7717":  "PeerJ",
	"10.7554":  "eLife Sciences",
	"10.3389":  "Frontiers",
	"10.1186":  "BioMed Central",
	"10.1038":  "Springer Nature",
	"10.1007":  "Springer",
	"10.1016":  "Elsevier",
	"10.1101":  "Cold Spring Harbor Laboratory",
	"10.48550": "arXiv",
	"10.3390":  "MDPI",
	"10.1093":  "Oxford University Press",
	"10.1002":  "Wiley",
	"10.1126":  "AAAS",
	"10.1073":  "PNAS",
}

// NormalizeDOI trims whitespace, strips resolver prefixes and lowercases the DOI.
// DOIs are case-insensitive, so the normalized form is used as the storage key.
func NormalizeDOI(raw string) string {
	doi := strings.TrimSpace(raw)
	lower := strings.ToLower(doi)
	for _, p := range doiPrefixes {
		if strings.HasPrefix(lower, p) {
			lower = lower[len(p):]
			break
		}
	}
	return strings.TrimSpace(lower)
}

// ValidateDOI checks that a normalized DOI has a "10." registrant and a non-empty suffix.
func ValidateDOI(doi string) error {
	if doi == "" {
		return NewValidationError("doi", "must not be empty")
	}
	if !strings.HasPrefix(doi, "10.") {
		return NewValidationError("doi", "must start with \"10.\"")
	}
	prefix, suffix, ok := strings.Cut(doi, "/")
	if !ok || len(prefix) <= len("10.") || strings.TrimSpace(suffix) == "" {
		return NewValidationError("doi", "must have the form 10.<registrant>/<suffix>")
	}
	if !utf8.ValidString(doi) {
		return NewValidationError("doi", "must be valid UTF-8")
	}
	for _, r := range doi {
		switch {
		case unicode.IsSpace(r):
			return NewValidationError("doi", "must not contain whitespace")
		case unicode.IsControl(r):
			return NewValidationError("doi", "must not contain control characters")
		}
	}
	return nil
}

// DOIPrefix returns the registrant portion of a DOI, e.g. "10.1371".
func DOIPrefix(doi string) string {
	prefix, _, ok := strings.Cut(doi, "/")
	if !ok {
		return ""
	}
	return prefix
}

// PublisherName returns the display name for a registrant prefix, or "" if unknown.
func PublisherName(prefix string) string {
	return knownPublishers[prefix]
}

// DOIFileName maps a DOI to a file name safe for local and object storage.
// Letters, digits, '-' and '.' are kept; every other byte is written as %XX,
// as is a '.' that follows another '.' or ends the DOI, so the name plus an
// extension never contains "..". The mapping is injective, so
// two DOIs never share a stored document.
func DOIFileName(doi string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(doi))
	for i := 0; i < len(doi); i++ {
		c := doi[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
			b.WriteByte(c)
		case c == '.' && (i == 0 || doi[i-1] != '.') && i < len(doi)-1:
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0f])
		}
	}
	return b.String()
}
