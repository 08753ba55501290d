// Rolecast answers questions in the voice of a novel's characters, grounding
// every answer in passages retrieved from the book.
//
// Usage:
//
//	rolecast [-config path] [serve]
//	rolecast [-config path] index [-book name | -file path -index name] [-extract]
package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "configs/rolecast.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("rolecast", version)
		os.Exit(0)
	}

	cmd, args := "serve", flag.Args()
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = run(*configPath)
	case "index":
		err = runIndex(*configPath, args)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
