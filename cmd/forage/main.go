package main

import (
	"fmt"
	"os"
)

// Version will be set at build time via -ldflags
var Version = "v0.1.0"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version":
			fmt.Printf("forage %s\n", Version)
			return
		case "fetch":
			if err := runFetch(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "plan":
			if err := runPlan(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "--help", "-h", "help":
			printUsage()
			return
		default:
			fmt.Fprintf(os.Stderr, "Error: unknown command: %s\n", os.Args[1])
			printUsage()
			os.Exit(1)
		}
	}

	printUsage()
}

func printUsage() {
	fmt.Println("forage - fetch release archives and stage selected files")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  forage fetch [options]     Fetch and stage everything in the manifest")
	fmt.Println("  forage plan [options]      Show what fetch would do, without downloading")
	fmt.Println("  forage --version           Show version information")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -c, --config <path>        Manifest path (default: forage.lua)")
	fmt.Println("  -q, --quiet                Suppress progress rendering")
	fmt.Println("  -v, --verbose              Show full error details")
}
