package common

import (
	"fmt"
	"strings"
)

// ReportWidth is the rule width shared by the CLI report tools.
const ReportWidth = 80

// PrintReportHeader opens a report with its title between two rules.
func PrintReportHeader(title string) {
	fmt.Println("\n" + strings.Repeat("=", ReportWidth))
	fmt.Println(title)
	fmt.Println(strings.Repeat("=", ReportWidth))
}

// PrintReportFooter closes a report with a summary line.
func PrintReportFooter(summary string) {
	fmt.Println("\n" + strings.Repeat("=", ReportWidth))
	fmt.Println(summary)
	fmt.Println(strings.Repeat("=", ReportWidth) + "\n")
}

// PrintGroupRule separates a group heading from the rows under it.
func PrintGroupRule() {
	fmt.Println("├" + strings.Repeat("─", ReportWidth-2))
}

// RowPrefix returns the tree glyph for one row of a grouped listing.
func RowPrefix(isLast bool) string {
	if isLast {
		return "└─"
	}
	return "├─"
}
