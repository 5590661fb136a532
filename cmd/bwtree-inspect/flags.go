package main

// flags.go parses bwtree-inspect's command-line flags into an options
// struct consumed by main.go.
//
// © 2025 bwtreekv authors. MIT License.

import (
	"flag"
	"strings"
	"time"
)

type options struct {
	target           string
	targets          []string
	json             bool
	watch            bool
	interval         time.Duration
	heapProfile      string
	goroutineProfile string
	version          bool
}

func parseFlags() *options {
	o := &options{}
	flag.StringVar(&o.target, "target", "http://localhost:6060", "comma-separated base URLs of processes exposing the /debug/bwtreekv/snapshot endpoint (probed in parallel when more than one is given)")
	flag.BoolVar(&o.json, "json", false, "emit the raw JSON snapshot instead of a pretty summary")
	flag.BoolVar(&o.watch, "watch", false, "poll the snapshot endpoint repeatedly instead of printing once")
	flag.DurationVar(&o.interval, "interval", 2*time.Second, "polling interval when -watch is set")
	flag.StringVar(&o.heapProfile, "heap-profile", "", "download a heap pprof snapshot to this path instead of printing stats")
	flag.StringVar(&o.goroutineProfile, "goroutine-profile", "", "download a goroutine pprof snapshot to this path instead of printing stats")
	flag.BoolVar(&o.version, "version", false, "print the CLI version and exit")
	flag.Parse()

	for _, t := range strings.Split(o.target, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			o.targets = append(o.targets, t)
		}
	}
	return o
}
