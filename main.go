package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/banshee-data/speedplan/internal/api"
	"github.com/banshee-data/speedplan/internal/config"
	"github.com/banshee-data/speedplan/internal/db"
	"github.com/banshee-data/speedplan/internal/monitoring"
	pj "github.com/banshee-data/speedplan/internal/piecewisejerk"
	"github.com/banshee-data/speedplan/internal/planner"
	"github.com/banshee-data/speedplan/internal/report"
	"github.com/banshee-data/speedplan/internal/rpc"
	"github.com/banshee-data/speedplan/internal/units"
	"github.com/banshee-data/speedplan/internal/version"
)

var (
	listen      = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen  = flag.String("grpc-listen", ":8081", "gRPC listen address (empty disables gRPC)")
	dbPath      = flag.String("db", "speedplan.db", "SQLite run store (empty disables run recording)")
	configPath  = flag.String("config", "", "Planner config JSON (defaults when empty)")
	unitsFlag   = flag.String("units", units.MPS, "Display speed units: "+units.GetValidUnitsString())
	requestPath = flag.String("request", "", "Solve one request from this JSON file ('-' for stdin), print the response and exit")
	pngOut      = flag.String("png", "", "With -request: also write a PNG chart here")
	htmlOut     = flag.String("html", "", "With -request: also write an HTML chart here")
	csvOut      = flag.String("csv", "", "With -request: also write a CSV profile here")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func loadConfig(path string) (*config.PlannerConfig, error) {
	if path == "" {
		return config.DefaultPlannerConfig(), nil
	}
	return config.LoadPlannerConfig(path)
}

// configureLogging routes the planner's log streams to w at the configured
// level.
func configureLogging(cfg *config.PlannerConfig, w io.Writer) {
	s := monitoring.StreamsForLevel(cfg.GetLogLevel(), w)
	pj.SetLogWriters(pj.LogWriters{Ops: s.Ops, Diag: s.Diag, Trace: s.Trace})
}

// oneShot holds the artefact paths for a single -request solve.
type oneShot struct {
	units string
	png   string
	html  string
	csv   string
}

// runOnce solves the request read from in, writes the response JSON to out
// and any requested chart files.
func runOnce(ctx context.Context, svc *planner.Service, in io.Reader, out io.Writer, o oneShot) error {
	req, err := planner.DecodeRequest(in)
	if err != nil {
		return err
	}
	resp, err := svc.Solve(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}

	title := fmt.Sprintf("%d knots, Δs=%gs", req.Knots, req.Delta)
	if o.png != "" {
		if err := report.SavePNG(o.png, title, resp, o.units); err != nil {
			return fmt.Errorf("png: %w", err)
		}
	}
	writeFile := func(path string, render func(io.Writer) error) error {
		if path == "" {
			return nil
		}
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := render(f); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	if err := writeFile(o.html, func(w io.Writer) error { return report.WriteHTML(w, title, resp, o.units) }); err != nil {
		return fmt.Errorf("html: %w", err)
	}
	if err := writeFile(o.csv, func(w io.Writer) error { return report.WriteCSV(w, resp, o.units) }); err != nil {
		return fmt.Errorf("csv: %w", err)
	}
	return nil
}

func openRequest(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if !units.IsValid(*unitsFlag) {
		log.Fatalf("invalid -units %q, want one of %s", *unitsFlag, units.GetValidUnitsString())
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	configureLogging(cfg, os.Stderr)
	svc := planner.NewService(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *requestPath != "" {
		in, err := openRequest(*requestPath)
		if err != nil {
			log.Fatalf("failed to open request: %v", err)
		}
		defer in.Close()
		o := oneShot{units: *unitsFlag, png: *pngOut, html: *htmlOut, csv: *csvOut}
		if err := runOnce(ctx, svc, in, os.Stdout, o); err != nil {
			log.Fatalf("solve failed: %v", err)
		}
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	log.Printf("starting %s", version.String())

	var store *db.RunStore
	var database *db.DB
	if *dbPath != "" {
		database, err = db.OpenDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()
		store = db.NewRunStore(database)
	}

	var wg sync.WaitGroup

	if *grpcListen != "" {
		lis, err := net.Listen("tcp", *grpcListen)
		if err != nil {
			log.Fatalf("failed to listen for gRPC: %v", err)
		}
		gs := grpc.NewServer()
		rpc.RegisterService(gs, rpc.NewServer(svc, store))

		wg.Add(1)
		go func() {
			defer wg.Done()
			go func() {
				<-ctx.Done()
				log.Println("shutting down gRPC server...")
				gs.GracefulStop()
			}()
			log.Printf("[gRPC] listening on %s", lis.Addr())
			if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Printf("gRPC server error: %v", err)
			}
			log.Printf("gRPC server routine stopped")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(svc, store, *unitsFlag).ServeMux()
		if database != nil {
			if err := database.AttachAdminRoutes(mux); err != nil {
				log.Printf("admin routes disabled: %v", err)
			}
		}

		server := &http.Server{
			Addr:              *listen,
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
