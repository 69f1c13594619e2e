package main

import (
	"bufio"
	"context"
	_ "embed"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ghalamif/frameprobe"
)

//go:embed assets/banner_color.ansi
var bannerColor string

//go:embed assets/banner_plain.txt
var bannerPlain string

func main() {
	fmt.Print(selectBanner())
	fmt.Println()
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "simulate":
		err = simulateCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("frameprobe %s: %v", cmd, err)
	}
}

func simulateCommand(args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file")
	virtual := fs.Bool("virtual", false, "Generate frames without real-time pacing")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := frameprobe.LoadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *virtual {
		cfg.Synthetic.Virtual = true
	}

	sim, err := frameprobe.NewSimulation(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := sim.Run(ctx)
	printSummary("sender", res.Sender)
	printSummary("receiver", res.Receiver)
	return err
}

func printSummary(role string, s frameprobe.Summary) {
	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
	if role == "sender" {
		fmt.Printf("%-8s tagged=%d clock_anomalies=%d elapsed=%s\n",
			role, s.FramesTagged, s.ClockAnomalies, s.Elapsed.Round(time.Millisecond))
		return
	}
	fmt.Printf("%-8s frames=%d drops=%d dups=%d anomalies=%d\n", role, s.Frames, s.Drops, s.Duplicates, s.Anomalies)
	fmt.Printf("%-8s latency ms: min=%.3f mean=%.3f p50=%.3f p90=%.3f p99=%.3f max=%.3f jitter=%.3f\n",
		"", ms(s.Min), ms(s.Mean), ms(s.P50), ms(s.P90), ms(s.P99), ms(s.Max), ms(s.Jitter))
	if s.Truncated {
		fmt.Printf("%-8s truncated after %s: %s\n", "", s.Elapsed.Round(time.Millisecond), s.Reason)
	}
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := frameprobe.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	fmt.Printf("config %s looks good: role=%s codec=%s %s %dkbps %dfps for %s\n", *cfgPath,
		cfg.Session.Role, cfg.Session.Codec, cfg.Session.Resolution,
		cfg.Session.BitrateKbps, cfg.Session.FPS, cfg.Session.Duration)
	return nil
}

func selectBanner() string {
	if os.Getenv("NO_COLOR") != "" {
		return bannerPlain
	}
	return bannerColor
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(*url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

var statsTargets = []string{
	"frameprobe_frames_correlated_total",
	"frameprobe_frames_dropped",
	"frameprobe_frames_duplicate_total",
	"frameprobe_latency_mean_seconds",
	"frameprobe_queue_length",
	"frameprobe_cpu_percent",
}

func printMetricsSnapshot(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	// values[role][metric]
	values := map[string]map[string]float64{}
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for _, key := range statsTargets {
			if !strings.HasPrefix(line, key+"{") {
				continue
			}
			role := labelValue(line, "role")
			var value float64
			if _, err := fmt.Sscanf(line[strings.LastIndexByte(line, ' ')+1:], "%g", &value); err == nil {
				if values[role] == nil {
					values[role] = map[string]float64{}
				}
				values[role][key] = value
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	now := time.Now().Format(time.RFC3339)
	for role, v := range values {
		fmt.Printf("[%s] %-8s frames=%.0f drops=%.0f dups=%.0f mean_ms=%.3f queue=%.0f cpu=%.1f%%\n",
			now, role,
			v["frameprobe_frames_correlated_total"],
			v["frameprobe_frames_dropped"],
			v["frameprobe_frames_duplicate_total"],
			v["frameprobe_latency_mean_seconds"]*1000,
			v["frameprobe_queue_length"],
			v["frameprobe_cpu_percent"],
		)
	}
	return nil
}

func labelValue(line, name string) string {
	i := strings.Index(line, name+`="`)
	if i < 0 {
		return ""
	}
	rest := line[i+len(name)+2:]
	if j := strings.IndexByte(rest, '"'); j >= 0 {
		return rest[:j]
	}
	return ""
}

func printUsage() {
	fmt.Printf(`frameprobe CLI

Usage:
  frameprobe <command> [flags]

Commands:
  simulate   Run a sender and a receiver over the in-process synthetic link
  validate   Load and validate a config file without starting a session
  stats      Poll the Prometheus metrics endpoint and print live counters

Examples:
  frameprobe simulate -config ./data/config.yaml
  frameprobe simulate -config ./data/config.yaml -virtual
  frameprobe validate -config ./data/config.yaml
  frameprobe stats -url http://localhost:9100/metrics -interval 1s
`)
}
