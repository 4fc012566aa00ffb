package source

import "strings"

// missingLiterals are the strings read as "no value", matching what the
// plant's analysis notebooks treat as NA.
var missingLiterals = map[string]struct{}{
	"":         {},
	"#N/A":     {},
	"#N/A N/A": {},
	"#NA":      {},
	"-1.#IND":  {},
	"-1.#QNAN": {},
	"-NaN":     {},
	"-nan":     {},
	"1.#IND":   {},
	"1.#QNAN":  {},
	"<NA>":     {},
	"N/A":      {},
	"NA":       {},
	"NULL":     {},
	"NaN":      {},
	"None":     {},
	"n/a":      {},
	"nan":      {},
	"null":     {},
}

// IsMissing reports whether a raw field value denotes a missing reading.
func IsMissing(s string) bool {
	_, ok := missingLiterals[strings.TrimSpace(s)]
	return ok
}

// Field returns row[i], or "" when the row is shorter than the header.
func Field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
