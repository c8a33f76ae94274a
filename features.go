// features.go - Build information printed by -version
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"io"
	"runtime"
	"sort"
)

const Version = "0.4.0"

// compiledFeatures tracks optional subsystems via init() registration.
var compiledFeatures []string

func printFeatures(w io.Writer) {
	fmt.Fprintf(w, "IntuitionPC %s\n", Version)
	fmt.Fprintf(w, "  Go version: %s\n", runtime.Version())
	fmt.Fprintf(w, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Compiled features:")

	sort.Strings(compiledFeatures)
	for _, f := range compiledFeatures {
		fmt.Fprintf(w, "  %s\n", f)
	}
	if len(compiledFeatures) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
}
