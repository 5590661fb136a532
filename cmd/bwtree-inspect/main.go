package main

// main.go implements the bwtree inspector CLI: it parses command-line
// flags, fetches diagnostic data from a target process exposing the
// bwtreekv debug endpoint, and prints it either as pretty text or JSON.
// It also supports periodic watch mode and pprof snapshot download.
//
// The target Go service is expected to expose:
//   - GET /debug/bwtreekv/snapshot — JSON payload with Store.Stats().
//   - GET /debug/pprof/{heap,goroutine} — standard pprof handlers (net/http/pprof).
//
// The snapshot object is intentionally generic; we decode into
// map[string]any to avoid version skew between CLI and library.
//
// Build-time flag: `-ldflags "-X main.version=vX.Y.Z"` is set by the
// release pipeline.
// ---------------------------------------------------------------
// © 2025 bwtreekv authors. MIT License.

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	opts := parseFlags()

	if opts.version {
		fmt.Println(version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if opts.heapProfile != "" {
		if err := downloadProfile(ctx, opts.targets[0], "heap", opts.heapProfile); err != nil {
			fatal(err)
		}
		return
	}
	if opts.goroutineProfile != "" {
		if err := downloadProfile(ctx, opts.targets[0], "goroutine", opts.goroutineProfile); err != nil {
			fatal(err)
		}
		return
	}

	if opts.watch {
		ticker := time.NewTicker(opts.interval)
		defer ticker.Stop()
		for {
			if err := dumpOnce(ctx, opts); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
			select {
			case <-ticker.C:
				continue
			case <-ctx.Done():
				return
			}
		}
	}

	if err := dumpOnce(ctx, opts); err != nil {
		fatal(err)
	}
}

// dumpOnce probes every configured target concurrently (an errgroup-bounded
// fan-out, one goroutine per target) and prints each target's snapshot as
// it would appear standalone; a single -target still takes the fast path
// of one request, no goroutine overhead.
func dumpOnce(ctx context.Context, opts *options) error {
	snaps, err := fetchSnapshots(ctx, opts.targets)
	if err != nil {
		return err
	}

	if opts.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if len(opts.targets) == 1 {
			return enc.Encode(snaps[opts.targets[0]])
		}
		return enc.Encode(snaps)
	}
	for _, target := range opts.targets {
		if len(opts.targets) > 1 {
			fmt.Printf("== %s ==\n", target)
		}
		if err := prettyPrint(snaps[target]); err != nil {
			return err
		}
	}
	return nil
}

// fetchSnapshots probes every target in parallel, bounded by an
// errgroup.Group so the first hard failure cancels the rest rather than
// waiting out every straggler.
func fetchSnapshots(ctx context.Context, targets []string) (map[string]map[string]any, error) {
	results := make(map[string]map[string]any, len(targets))
	if len(targets) == 1 {
		snap, err := fetchSnapshot(ctx, targets[0])
		if err != nil {
			return nil, err
		}
		results[targets[0]] = snap
		return results, nil
	}

	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	for _, target := range targets {
		target := target
		eg.Go(func() error {
			snap, err := fetchSnapshot(egCtx, target)
			if err != nil {
				return fmt.Errorf("%s: %w", target, err)
			}
			mu.Lock()
			results[target] = snap
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func fetchSnapshot(ctx context.Context, base string) (map[string]any, error) {
	url := base + "/debug/bwtreekv/snapshot"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", res.Status)
	}
	var data map[string]any
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func prettyPrint(data map[string]any) error {
	fmt.Printf("NumAgain:          %v\n", data["NumAgain"])
	fmt.Printf("NumReconciles:     %v\n", data["NumReconciles"])
	fmt.Printf("NumConsolidations: %v\n", data["NumConsolidations"])
	fmt.Printf("NumDataSplits:     %v\n", data["NumDataSplits"])
	fmt.Printf("NumIndexSplits:    %v\n", data["NumIndexSplits"])
	fmt.Printf("PageCacheHits:     %v\n", data["CacheHits"])
	fmt.Printf("PageCacheMisses:   %v\n", data["CacheMisses"])
	fmt.Printf("PageCacheMB:       %.2f\n", toFloat(data["CacheUsageBytes"])/1_048_576)
	return nil
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	default:
		return 0
	}
}

func downloadProfile(ctx context.Context, base, name, path string) error {
	url := fmt.Sprintf("%s/debug/pprof/%s", base, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", res.Status)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, res.Body); err != nil {
		return err
	}
	fmt.Printf("%s profile saved to %s\n", name, path)
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "bwtree-inspect:", err)
	os.Exit(1)
}
