// Command recorder-dump is a subscriber: it opens a channel-set file
// published by another process (via RECORDER_SHARE or traceconfig.OpenShare)
// and prints matching channels' samples as they arrive.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/unvariance/flightrecorder/pkg/ring"
	"github.com/unvariance/flightrecorder/pkg/shmchan"
)

func main() {
	sharePath := flag.String("share", "", "path to a channel-set file published with RECORDER_SHARE")
	pattern := flag.String("pattern", "all", "regex (or \"all\") matching channel names to print")
	interval := flag.Duration("interval", 200*time.Millisecond, "polling interval")
	flag.Parse()

	if *sharePath == "" {
		fmt.Fprintln(os.Stderr, "recorder-dump: -share is required")
		os.Exit(2)
	}
	if *pattern == "all" {
		*pattern = ".*"
	}

	set, err := shmchan.Open(*sharePath)
	if err != nil {
		log.Fatalf("recorder-dump: %v", err)
	}
	defer set.Close()

	channels, err := set.Find(*pattern)
	if err != nil {
		log.Fatalf("recorder-dump: %v", err)
	}
	if len(channels) == 0 {
		fmt.Fprintf(os.Stderr, "recorder-dump: no channels matched %q\n", *pattern)
	}

	cursors := make(map[string]*uint64)
	for range time.Tick(*interval) {
		channels, err = set.Find(*pattern)
		if err != nil {
			log.Fatalf("recorder-dump: %v", err)
		}

		for _, ch := range channels {
			name := ch.Name()
			cursor, ok := cursors[name]
			if !ok {
				cursor = new(uint64)
				cursors[name] = cursor
			}
			for {
				s, err := ch.Read(cursor)
				if err == ring.ErrEmpty {
					break
				}
				if err == ring.ErrCatchUp {
					continue
				}
				fmt.Printf("%s: t=%d v=%d\n", name, s.Timestamp, s.Value)
			}
		}
	}
}
