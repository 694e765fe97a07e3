// Command eventdump decodes a marketsim event log into the day-log CSV and
// prints a short summary.
//
//	eventdump events.mpk.lz4 > day.csv
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/talgya/mini-market/internal/agents"
	"github.com/talgya/mini-market/internal/eventlog"
	"github.com/talgya/mini-market/internal/markov"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: eventdump <event log>")
		os.Exit(2)
	}
	path := os.Args[1]

	f, err := os.Open(path)
	if err != nil {
		slog.Error("failed to open event log", "path", path, "error", err)
		os.Exit(1)
	}
	defer f.Close()

	var out io.Writer = os.Stdout
	if csvPath := os.Getenv("EVENTDUMP_CSV"); csvPath != "" {
		cf, err := os.Create(csvPath)
		if err != nil {
			slog.Error("failed to create csv", "path", csvPath, "error", err)
			os.Exit(1)
		}
		defer cf.Close()
		out = cf
	}

	cw, err := eventlog.NewCSVWriter(out)
	if err != nil {
		slog.Error("failed to write csv", "error", err)
		os.Exit(1)
	}

	var sum summary
	sum.customers = make(map[agents.CustomerID]bool)
	sum.zones = make(map[markov.Zone]int)

	h, err := eventlog.Scan(f, func(t eventlog.Tick) error {
		sum.add(t)
		return cw.Record(t.Tick, t.Events)
	})
	if cerr := cw.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		slog.Error("failed to decode event log", "path", path, "error", err)
		os.Exit(1)
	}

	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}
	sum.print(os.Stderr, h, size)
}

type summary struct {
	ticks     int
	events    int
	busiest   uint64
	peak      int
	lastTime  string
	customers map[agents.CustomerID]bool
	zones     map[markov.Zone]int
}

func (s *summary) add(t eventlog.Tick) {
	s.ticks++
	s.lastTime = t.Timestamp
	s.events += len(t.Events)
	if len(t.Events) > s.peak {
		s.peak = len(t.Events)
		s.busiest = t.Tick
	}
	for _, e := range t.Events {
		s.customers[e.CustomerID] = true
		s.zones[e.Zone]++
	}
}

func (s *summary) print(w io.Writer, h eventlog.Header, size int64) {
	fmt.Fprintf(w, "event log v%d, seed %d, arrival rate %.2f, layout %q (%s)\n",
		h.Version, h.Seed, h.ArrivalRate, h.Layout, humanize.Bytes(uint64(size)))
	fmt.Fprintf(w, "  ticks:      %s (last at %s)\n", humanize.Comma(int64(s.ticks)), s.lastTime)
	fmt.Fprintf(w, "  events:     %s\n", humanize.Comma(int64(s.events)))
	fmt.Fprintf(w, "  customers:  %s\n", humanize.Comma(int64(len(s.customers))))
	fmt.Fprintf(w, "  busiest:    tick %d with %d customers\n", s.busiest, s.peak)

	zones := make([]markov.Zone, 0, len(s.zones))
	for z := range s.zones {
		zones = append(zones, z)
	}
	sort.Slice(zones, func(i, j int) bool { return s.zones[zones[i]] > s.zones[zones[j]] })
	for _, z := range zones {
		fmt.Fprintf(w, "  %-10s  %s customer-minutes\n", z, humanize.Comma(int64(s.zones[z])))
	}
}
