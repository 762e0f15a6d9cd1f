package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/cpc-host/cpc-go/pkg/log"
)

// Stats holds aggregate statistics about a trace file.
type Stats struct {
	TotalEvents      int
	EventsByLayer    map[log.Layer]int
	EventsByCategory map[log.Category]int
	Generations      map[uint32]*GenerationStats
	Endpoints        map[uint8]*EndpointStats
	Errors           int
	Start, End       time.Time
}

// GenerationStats holds statistics for one session generation.
type GenerationStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	Lost      bool
}

// EndpointStats holds traffic counters for one endpoint.
type EndpointStats struct {
	Outbound  int
	Inbound   int
	BytesOut  int
	BytesIn   int
	LastState string
	MaxRTT    time.Duration
}

// Collect reads the trace file at path and aggregates it.
func Collect(path string) (*Stats, error) {
	reader, err := log.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:    make(map[log.Layer]int),
		EventsByCategory: make(map[log.Category]int),
		Generations:      make(map[uint32]*GenerationStats),
		Endpoints:        make(map[uint8]*EndpointStats),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return stats, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++

	if s.Start.IsZero() || event.Timestamp.Before(s.Start) {
		s.Start = event.Timestamp
	}
	if event.Timestamp.After(s.End) {
		s.End = event.Timestamp
	}

	if event.Generation != 0 {
		g, ok := s.Generations[event.Generation]
		if !ok {
			g = &GenerationStats{FirstSeen: event.Timestamp}
			s.Generations[event.Generation] = g
		}
		g.Events++
		if event.Timestamp.After(g.LastSeen) {
			g.LastSeen = event.Timestamp
		}
		if sc := event.StateChange; sc != nil && sc.Entity == log.StateEntitySession && sc.NewState == "LOST" {
			g.Lost = true
		}
	}

	switch {
	case event.Message != nil && event.Message.EndpointID != nil:
		ep := s.endpoint(*event.Message.EndpointID)
		msg := event.Message
		switch event.Direction {
		case log.DirectionOut:
			ep.Outbound++
			ep.BytesOut += msg.PayloadSize
		case log.DirectionIn:
			ep.Inbound++
			ep.BytesIn += msg.PayloadSize
		}
		if msg.RoundTrip != nil && *msg.RoundTrip > ep.MaxRTT {
			ep.MaxRTT = *msg.RoundTrip
		}
	case event.StateChange != nil && event.StateChange.EndpointID != nil:
		s.endpoint(*event.StateChange.EndpointID).LastState = event.StateChange.NewState
	}

	if event.Error != nil {
		s.Errors++
	}
}

func (s *Stats) endpoint(id uint8) *EndpointStats {
	ep, ok := s.Endpoints[id]
	if !ok {
		ep = &EndpointStats{}
		s.Endpoints[id] = ep
	}
	return ep
}

// RunStats analyzes the trace file and prints statistics.
func RunStats(path string, w io.Writer) error {
	stats, err := Collect(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== CPC Trace Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents == 0 {
		fmt.Fprintln(w, "No events.")
		return
	}

	fmt.Fprintf(w, "Time Range: %s to %s (%s)\n",
		stats.Start.Format(time.RFC3339),
		stats.End.Format(time.RFC3339),
		stats.End.Sub(stats.Start).Round(time.Millisecond))
	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "By Layer:")
	for _, l := range []log.Layer{log.LayerTransport, log.LayerWire, log.LayerSession} {
		if n := stats.EventsByLayer[l]; n > 0 {
			fmt.Fprintf(w, "  %-10s %d\n", l, n)
		}
	}
	fmt.Fprintln(w)

	gens := make([]uint32, 0, len(stats.Generations))
	for g := range stats.Generations {
		gens = append(gens, g)
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })

	fmt.Fprintln(w, "Generations:")
	for _, id := range gens {
		g := stats.Generations[id]
		status := "ok"
		if g.Lost {
			status = "lost"
		}
		fmt.Fprintf(w, "  %-4d events=%-6d %s  %s\n", id, g.Events, status, g.LastSeen.Sub(g.FirstSeen).Round(time.Millisecond))
	}
	fmt.Fprintln(w)

	ids := make([]int, 0, len(stats.Endpoints))
	for id := range stats.Endpoints {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	fmt.Fprintln(w, "Endpoints:")
	for _, id := range ids {
		ep := stats.Endpoints[uint8(id)]
		fmt.Fprintf(w, "  %-4d out=%d (%d bytes) in=%d (%d bytes) max_rtt=%s state=%s\n",
			id, ep.Outbound, ep.BytesOut, ep.Inbound, ep.BytesIn, formatDuration(ep.MaxRTT), ep.LastState)
	}
}
