// Command noisetx-discover scans the local network for IIOD responders over
// DNS-SD and prints a dialable address for each.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rdekker/noisetx/internal/mdns"
)

func main() {
	timeout := flag.Duration("timeout", 5*time.Second, "browse window")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout+time.Second)
	defer cancel()

	start := time.Now()
	hosts, err := mdns.Discover(ctx, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "discovery failed: %v\n", err)
		os.Exit(1)
	}
	elapsed := time.Since(start).Truncate(time.Millisecond)

	if len(hosts) == 0 {
		fmt.Printf("no IIOD responders found in %s\n", elapsed)
		os.Exit(1)
	}

	fmt.Printf("found %d responder(s) in %s\n", len(hosts), elapsed)
	for _, h := range hosts {
		fmt.Printf("  %-28s %s\n", h.Instance, h.Addr())
		for _, txt := range h.TXT {
			fmt.Printf("      %s\n", txt)
		}
	}
	fmt.Printf("\nexport NOISETX_URI=%s\n", hosts[0].Addr())
}
