// enginebench drives the event stream processor and the decayed
// leaderboard end to end and reports the numbers a smoke test or a manual
// capacity check would want: ingestion throughput, drop rate, the top
// channels and users the run produced, and, when -snapshot is set, a save
// of the leaderboard in its JSON snapshot format (the snapshot is not
// loaded back).
//
// Usage
// =====
//
//	enginebench -events 200000 -channels 50 -users 20000 -workers 4
//
// The benchmark pushes synthetic view events across a fixed set of
// channels and users, flushes the pipeline, then prints throughput and the
// resulting top-k tables. It is a manual tool, not a `go test` benchmark:
// unlike a `testing.B` benchmark it also exercises the leaderboard and can
// write its snapshot, and its output is meant to be read by a human.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"engagehub.dev/analytics/eventstream"
	"engagehub.dev/analytics/leaderboard"
)

type config struct {
	events        int
	channels      int
	users         int
	workers       int
	bufferSize    int
	batchSize     int
	flushInterval int
	decayFactor   float64
	maxUsers      int
	snapshotPath  string
}

func main() {
	var cfg config

	flag.IntVar(&cfg.events, "events", 100_000, "Number of synthetic events to push")
	flag.IntVar(&cfg.channels, "channels", 25, "Number of distinct channels to spread events across")
	flag.IntVar(&cfg.users, "users", 10_000, "Number of distinct users to spread events across")
	flag.IntVar(&cfg.workers, "workers", 4, "Worker pool size for batch delivery")
	flag.IntVar(&cfg.bufferSize, "buffer-size", 4096, "Ring buffer capacity")
	flag.IntVar(&cfg.batchSize, "batch-size", 200, "Events per delivered batch")
	flag.IntVar(&cfg.flushInterval, "flush-interval-ms", 50, "Time-based flush interval in milliseconds")
	flag.Float64Var(&cfg.decayFactor, "decay-factor", 0.98, "Leaderboard per-day decay factor")
	flag.IntVar(&cfg.maxUsers, "max-users", 0, "Leaderboard eviction cap (0 disables eviction)")
	flag.StringVar(&cfg.snapshotPath, "snapshot", "", "If set, save the leaderboard to this path after the run")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	proc := eventstream.New(cfg.bufferSize, cfg.workers, cfg.batchSize, cfg.flushInterval)
	defer proc.Close()

	lb, err := leaderboard.New(cfg.decayFactor, cfg.maxUsers)
	if err != nil {
		logger.Error("invalid leaderboard configuration", "error", err)
		os.Exit(1)
	}

	proc.SetFlushCallback(func(batch []eventstream.Event) {
		now := time.Now().Unix()
		for _, ev := range batch {
			lb.UpdateUser(ev.UserID, 1, now)
		}
	})

	logger.Info("starting run", "events", cfg.events, "channels", cfg.channels, "users", cfg.users)
	start := time.Now()

	now := time.Now().Unix()
	for i := 0; i < cfg.events; i++ {
		channel := fmt.Sprintf("channel-%d", i%cfg.channels)
		user := fmt.Sprintf("user-%d", i%cfg.users)
		if !proc.PushEvent("view", user, channel, now) {
			logger.Warn("event dropped", "index", i)
		}
	}

	proc.FlushNow()
	elapsed := time.Since(start)

	logger.Info("run complete",
		"elapsed", elapsed,
		"processed", proc.TotalEventsProcessed(),
		"dropped", proc.EventsDropped(),
		"events_per_second", float64(proc.TotalEventsProcessed())/elapsed.Seconds(),
		"unique_users_last_hour", proc.GetUniqueUsersLastHour(),
	)

	fmt.Println("Top channels:")
	for _, entry := range proc.GetTopChannels(10) {
		fmt.Printf("  %-20s %d\n", entry.ChannelID, entry.Count)
	}

	fmt.Println("Top users:")
	for _, entry := range lb.GetTopUsers(10) {
		fmt.Printf("  %-4d %-20s %.2f\n", entry.Rank, entry.UserID, entry.Score)
	}

	if cfg.snapshotPath != "" {
		if err := lb.SaveToJSON(cfg.snapshotPath); err != nil {
			logger.Error("failed to save leaderboard snapshot", "error", err)
			os.Exit(1)
		}
		logger.Info("saved leaderboard snapshot", "path", cfg.snapshotPath)
	}
}
