// Package banner prints the switchboard's startup announcement: a boxed
// service name followed by the resolved configuration worth confirming
// at a glance (config paths, call-db location, loop timing).
package banner

import (
	"fmt"
	"strings"
)

const ruleWidth = 70

// ConfigLine is one labelled value shown under the service name.
type ConfigLine struct {
	Label string
	Value string
}

// Print writes the banner to stdout: a rule, the service name boxed and
// upper-cased, the aligned config lines, and a "Ready." footer.
func Print(serviceName string, config []ConfigLine) {
	rule := strings.Repeat("=", ruleWidth)

	fmt.Println(rule)
	fmt.Println(centered(serviceName))
	fmt.Println(strings.Repeat("-", ruleWidth))

	maxLen := 0
	for _, c := range config {
		if len(c.Label) > maxLen {
			maxLen = len(c.Label)
		}
	}
	for _, c := range config {
		padding := strings.Repeat(" ", maxLen-len(c.Label))
		fmt.Printf("  %s%s : %s\n", c.Label, padding, c.Value)
	}

	fmt.Println()
	fmt.Println("Ready.")
	fmt.Println(rule)
	fmt.Println()
}

// centered renders name upper-cased and padded with '=' to ruleWidth,
// e.g. "===== SWITCHBOARDHUB =====", so the banner reflects whatever
// binary is actually running instead of a fixed piece of ASCII art.
func centered(name string) string {
	label := " " + strings.ToUpper(name) + " "
	if len(label) >= ruleWidth {
		return label
	}
	left := (ruleWidth - len(label)) / 2
	right := ruleWidth - len(label) - left
	return strings.Repeat("=", left) + label + strings.Repeat("=", right)
}
