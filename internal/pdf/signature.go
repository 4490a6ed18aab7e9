package pdf

import "bytes"

var (
	pdfMagic = []byte("%PDF-")
	utf8BOM  = []byte{0xEF, 0xBB, 0xBF}
)

// HasSignature reports whether content starts with a PDF header, ignoring a
// leading byte-order mark and whitespace.
func HasSignature(content []byte) bool {
	content = bytes.TrimPrefix(content, utf8BOM)
	content = bytes.TrimLeft(content, " \t\r\n\f\x00")
	return bytes.HasPrefix(content, pdfMagic)
}
