package main

import "flag"

// Flags are the CLI switches this binary accepts.
type Flags struct {
	EnvFile string
	Verbose bool
	Version bool
}

func parseFlags() Flags {
	var f Flags
	flag.StringVar(&f.EnvFile, "env", "", "path to a .env file to load (optional)")
	flag.BoolVar(&f.Verbose, "verbose", false, "enable debug-level logging")
	flag.BoolVar(&f.Version, "version", false, "print version and exit")
	flag.Parse()
	return f
}
