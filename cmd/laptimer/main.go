package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"laptimer/internal/config"
	"laptimer/internal/web"
)

func main() {
	// A missing .env is normal on the vehicle.
	_ = godotenv.Load()

	defaultConfig := "./laptimer.yaml"
	if v := os.Getenv("LAPTIMER_CONFIG"); v != "" {
		defaultConfig = v
	}

	var configPath string
	var summarize string
	flag.StringVar(&configPath, "config", defaultConfig, "Path to YAML config (env LAPTIMER_CONFIG)")
	flag.StringVar(&summarize, "summarize", "", "Replay an NMEA log through the lap timer, print the laps found and exit")
	flag.Parse()

	logs := web.NewLogBuffer(500)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if abs, err := filepath.Abs(configPath); err == nil {
		configPath = abs
	}

	if summarize != "" {
		if err := printReplaySummary(os.Stdout, summarize, cfg); err != nil {
			log.Fatalf("summarize failed: %v", err)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntime(ctx, cfg, configPath, logs)
	if err != nil {
		log.Fatalf("runtime init failed: %v", err)
	}
	defer rt.Close()

	log.Printf("laptimer starting config=%s web=%s", configPath, cfg.Web.Listen)
	if err := web.Serve(ctx, cfg.Web.Listen, rt.Handler()); err != nil && ctx.Err() == nil {
		log.Printf("web server stopped: %v", err)
		cancel()
	}
	log.Printf("laptimer stopping")
}
