// Command print-zone parses a master-format zone file and prints the
// records it would serve, normalized to presentation form.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/jroosing/lernadns/internal/dns"
	"github.com/jroosing/lernadns/internal/zone"
)

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: print-zone path/to/zonefile\n")
		os.Exit(2)
	}
	path := flag.Arg(0)
	f, err := zone.LoadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load zone: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("ORIGIN: %s\n", f.Origin)
	fmt.Printf("DEFAULT_TTL: %d\n", f.DefaultTTL)
	fmt.Println("RECORDS:")

	rows := make([]string, 0, len(f.Records))
	for _, r := range f.Records {
		rows = append(rows, dns.FormatRecord(r))
	}
	sort.Strings(rows)
	for _, s := range rows {
		fmt.Printf("  %s\n", s)
	}
}
