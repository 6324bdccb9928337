package classify

import "regexp"

var (
	// Quoted value inside the last braces of a duplicate key message, e.g.
	// `E11000 duplicate key error collection: shop.widgets index: sku_1 dup key: { sku: "widget-7" }`.
	// Greedy up to the last quote before the closing brace, so escaped quotes stay in the value.
	quotedValuePattern = regexp.MustCompile(`^.*\{.*:\s*"(.*)"\s*\}`)

	// Key (sku)=(widget-7) already exists.
	pgDetailPattern = regexp.MustCompile(`Key \(.*?\)=\((.*)\)`)

	// ORA-00001: unique constraint (SHOP.WIDGETS_SKU_UK) violated
	oraConstraintPattern = regexp.MustCompile(`unique constraint \(([^)]+)\)`)
)

// matchQuoted accepts an empty value; `{ sku: "" }` is still a duplicate.
func matchQuoted(text string) (string, bool) {
	m := quotedValuePattern.FindStringSubmatch(text)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

func matchPgDetail(text string) (string, bool) {
	return firstGroup(pgDetailPattern, text)
}

func matchOraConstraint(text string) (string, bool) {
	return firstGroup(oraConstraintPattern, text)
}

func firstGroup(re *regexp.Regexp, text string) (string, bool) {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 || m[1] == "" {
		return "", false
	}
	return m[1], true
}
