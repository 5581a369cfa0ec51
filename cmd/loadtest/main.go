// Command loadtest drives synthetic traffic against a running gateway.
//
// Usage:
//
//	loadtest <command> [options]
//
// Commands:
//
//   - seed:     print a membership seed for the synthetic users
//   - saturate: open N authenticated idle connections and hold them
//   - direct:   pairs of users exchange direct messages
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "seed":
		runSeed(os.Args[2:])
	case "saturate":
		runSaturate(os.Args[2:])
	case "direct":
		runDirect(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  seed        Print a SEED_FILE document for the synthetic users")
	fmt.Println("  saturate    Open N authenticated idle connections")
	fmt.Println("  direct      Pairs of users exchange direct messages")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}
