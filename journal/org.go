package journal

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/barsim/market"
)

// FormatLegOrg renders one leg as an Org heading with its facts in a
// PROPERTIES drawer and empty review sections.
func FormatLegOrg(l market.ClosedLeg) string {
	lid := legID(l)
	row := LegRow(l)

	var b strings.Builder
	fmt.Fprintf(&b, "** %s %s %s (%s)\n", l.Symbol, l.Side, l.Exit.Reason, shortID(lid))
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":ID: %s\n", lid)
	for i, col := range LegHeader {
		if row[i] == "" {
			continue
		}
		fmt.Fprintf(&b, ":%s: %s\n", strings.ToUpper(col), row[i])
	}
	b.WriteString(":END:\n\n")
	b.WriteString("*** Thesis\n- \n\n")
	b.WriteString("*** Review\n- \n")
	return b.String()
}

// FormatLegsOrg renders legs separated by blank lines.
func FormatLegsOrg(legs []market.ClosedLeg) string {
	parts := make([]string, len(legs))
	for i, l := range legs {
		parts[i] = FormatLegOrg(l)
	}
	return strings.Join(parts, "\n")
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[len(full)-8:]
}
