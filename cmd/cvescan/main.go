// Command cvescan runs one discovery pass from the command line and prints
// the reconciled records as JSON, without starting the web server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/lcalzada-xor/cvemap/internal/app"
	"github.com/lcalzada-xor/cvemap/internal/config"
	"github.com/lcalzada-xor/cvemap/internal/core/domain"
	"github.com/lcalzada-xor/cvemap/internal/core/services/labscore"
)

func main() {
	var (
		years      = flag.Int("years", 1, "Timeframe in years")
		severities = flag.String("severities", "", "Comma-separated severity filter (critical,high,medium,low)")
		keywords   = flag.String("keywords", "", "Comma-separated keyword filter")
		techs      = flag.String("technologies", "", "Comma-separated technology filter")
		priority   = flag.String("priority", "", "Comma-separated source priority order")
		maxPer     = flag.Int("max-per-source", 0, "Maximum records per source (0 uses the server default)")
		timeout    = flag.Duration("timeout", 5*time.Minute, "Overall run timeout")
		persist    = flag.Bool("persist", false, "Persist results to the record database")
	)
	// config.Load parses the shared flags (db paths, rates, API keys).
	cfg := config.Load()

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	opts := domain.DiscoveryOptions{
		TimeframeYears:  *years,
		Severities:      splitList(*severities),
		Keywords:        splitList(*keywords),
		Technologies:    splitList(*techs),
		PrioritySources: splitList(*priority),
		MaxPerSource:    *maxPer,
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := application.Orchestrator.DiscoverAll(ctx, opts)
	if err != nil {
		log.Fatalf("Discovery failed: %v", err)
	}

	labscore.NewCalculator().Apply(result.Records)

	if *persist {
		if err := application.RecordStore.UpsertRecords(ctx, result.Records); err != nil {
			log.Printf("Warning: failed to persist results: %v", err)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Fatalf("Failed to encode result: %v", err)
	}

	log.Printf("✓ %d unique records from %d raw (%d conflicts, %d source errors)",
		result.Report.UniqueRecords, result.Report.TotalRaw,
		len(result.Report.Conflicts), len(result.Errors))
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
