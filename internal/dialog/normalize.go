package dialog

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// displaySpaces are turned into plain spaces before whitespace is collapsed.
var displaySpaces = strings.NewReplacer(
	"\r\n", " ",
	"\r", " ",
	"\n", " ",
	"\u00a0", " ", // no-break space
	"\u202f", " ", // narrow no-break space
	"\u2007", " ", // figure space
)

// matchVariants unifies typographic quote and dash variants.
var matchVariants = strings.NewReplacer(
	"\u2018", "'", "\u2019", "'", "\u201a", "'", "\u201b", "'", "\u2032", "'", "`", "'",
	"\u201c", `"`, "\u201d", `"`, "\u201e", `"`, "\u201f", `"`, "\u2033", `"`, "\u00ab", `"`, "\u00bb", `"`,
	"\u2010", "-", "\u2011", "-", "\u2012", "-", "\u2013", "-", "\u2014", "-", "\u2015", "-", "\u2212", "-",
)

// edgeTrim is stripped from both ends of match text.
const edgeTrim = `"'. `

// DisplayText collapses line breaks, no-break spaces and runs of whitespace.
// Case and punctuation are kept; this is the text shown to users.
func DisplayText(s string) string {
	return strings.Join(strings.Fields(displaySpaces.Replace(s)), " ")
}

// MatchText is the comparison form of s: display-normalized, then NFKC
// folded, quote and dash variants unified, case folded, and leading or
// trailing quotes and periods stripped. Never show it to users.
func MatchText(s string) string {
	s = norm.NFKC.String(DisplayText(s))
	s = matchVariants.Replace(s)
	s = cases.Fold().String(s)
	// NFKC can introduce new whitespace (e.g. ideographic space)
	s = strings.Join(strings.Fields(s), " ")
	return strings.Trim(s, edgeTrim)
}
