// Command ruleconfig-export validates a rule set file and re-emits it
// in YAML or JSON, normalizing formatting and catching schema errors
// before a rule set is deployed.
package main

import (
	"flag"
	"fmt"
	"os"

	"tflow/pkg/ruleconfig"
)

func main() {
	var (
		inputFile  = flag.String("input", "rules.yaml", "input rule set YAML file")
		outputFile = flag.String("output", "", "output file (if empty, prints to stdout)")
		format     = flag.String("format", "json", "output format: json or yaml")
	)
	flag.Parse()

	raw, err := os.ReadFile(*inputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input file: %v\n", err)
		os.Exit(1)
	}

	rs, err := ruleconfig.Load(string(raw))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading rule set: %v\n", err)
		os.Exit(1)
	}

	output, err := rs.Export(*format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error exporting rule set: %v\n", err)
		os.Exit(1)
	}

	if *outputFile != "" {
		if err := os.WriteFile(*outputFile, output, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output file: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Rule set exported to %s\n", *outputFile)
		return
	}
	fmt.Print(string(output))
}
