package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/banshee-data/speedplan/internal/config"
	"github.com/banshee-data/speedplan/internal/monitoring"
	pj "github.com/banshee-data/speedplan/internal/piecewisejerk"
	"github.com/banshee-data/speedplan/internal/planner"
	"github.com/banshee-data/speedplan/internal/sweep"
)

func paramNames() string {
	names := make([]string, len(sweep.Params))
	for i, p := range sweep.Params {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}

func main() {
	requestPath := flag.String("request", "", "Base request JSON file ('-' for stdin)")
	param := flag.String("param", string(sweep.ParamEndX), "Parameter to sweep: "+paramNames())
	values := flag.String("values", "0.01,0.1,1,10", "Comma-separated values (e.g. 0.1,1,10) or range start:end:step")
	workers := flag.Int("workers", 4, "Concurrent solves")
	output := flag.String("output", "", "Output CSV filename (defaults to sweep-<param>-<timestamp>.csv, '-' for stdout)")
	configPath := flag.String("config", "", "Planner config JSON (defaults when empty)")
	checkMonotonic := flag.Bool("check-monotonic", false, "Fail unless terminal deviation is non-increasing in the swept value")
	flag.Parse()

	if *requestPath == "" {
		log.Fatal("-request is required")
	}
	vals, err := sweep.ParseParamList(*values)
	if err != nil {
		log.Fatalf("Invalid parameter list: %v", err)
	}
	if len(vals) == 0 {
		log.Fatal("-values is empty")
	}

	cfg := config.DefaultPlannerConfig()
	if *configPath != "" {
		if cfg, err = config.LoadPlannerConfig(*configPath); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	s := monitoring.StreamsForLevel(cfg.GetLogLevel(), os.Stderr)
	pj.SetLogWriters(pj.LogWriters{Ops: s.Ops, Diag: s.Diag, Trace: s.Trace})

	base, err := readRequest(*requestPath)
	if err != nil {
		log.Fatalf("failed to read request: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Sweeping %s over %d values with %d workers", *param, len(vals), *workers)
	points, err := sweep.Sweep(ctx, planner.NewService(cfg), base, sweep.Param(*param), vals, *workers)
	if err != nil {
		log.Fatalf("sweep failed: %v", err)
	}

	filename := *output
	if filename == "" {
		filename = fmt.Sprintf("sweep-%s-%s.csv", *param, time.Now().Format("20060102-150405"))
	}
	if err := writeResults(filename, sweep.Param(*param), points); err != nil {
		log.Fatalf("Could not write output %s: %v", filename, err)
	}

	var times []float64
	failed := 0
	for _, pt := range points {
		if pt.Response == nil {
			failed++
			log.Printf("WARNING: %s=%g failed: %v", *param, pt.Value, pt.Err)
			continue
		}
		times = append(times, pt.Response.Stats.SolveMillis)
	}
	mean, sd := sweep.MeanStddev(times)
	log.Printf("Sweep complete: %d solved, %d failed, solve_ms=%.3f±%.3f", len(times), failed, mean, sd)
	if filename != "-" {
		log.Printf("Results: %s", filename)
	}

	if *checkMonotonic {
		_, devs := sweep.TerminalDeviations(points)
		if !sweep.NonIncreasing(devs, 1e-6) {
			log.Fatalf("terminal deviation is not non-increasing in %s: %v", *param, devs)
		}
		log.Printf("terminal deviation non-increasing over %d points", len(devs))
	}
}

func readRequest(path string) (*planner.Request, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return planner.DecodeRequest(r)
}

func writeResults(path string, p sweep.Param, points []sweep.Point) error {
	if path == "-" {
		return sweep.WriteCSV(os.Stdout, p, points)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := sweep.WriteCSV(f, p, points); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
