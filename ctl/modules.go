package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ZenLiuCN/bypass"
	"github.com/ZenLiuCN/bypass/dynamic"
	_ "github.com/ZenLiuCN/bypass/inject"
	"github.com/davecgh/go-spew/spew"
	"github.com/urfave/cli/v2"
)

func loadConfig(ctx *cli.Context) (bypass.Config, error) {
	if p := ctx.String("config"); p != "" {
		return bypass.LoadConfig(p)
	}
	return bypass.DefaultConfig(), nil
}

func symbols(ctx *cli.Context) error {
	s, err := dynamic.NewSymbols()
	if err != nil {
		return err
	}
	prefix := ctx.String("prefix")
	var names []string
	for _, n := range s.Symbols() {
		if strings.HasPrefix(n, prefix) {
			names = append(names, n)
		}
	}
	if ctx.Bool("dump") {
		addrs := make(map[string]uintptr, len(names))
		for _, n := range names {
			addrs[n], _ = s.Lookup(n)
		}
		spew.Fdump(os.Stdout, addrs)
		return nil
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func exports(ctx *cli.Context) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, e := range bypass.Exports() {
		fmt.Fprintf(w, "%s\t%s\n", e.Name, e.Symbol)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if ctx.Bool("genuine") {
		if _, err := bypass.Resolve(bypass.UnixSymbols()); err != nil {
			return err
		}
		fmt.Printf("%d genuine calls resolved\n", len(bypass.SymbolNames()))
	}
	return nil
}

// run hosts the configured module in this process. The registered pool loads it, the
// repository feeds the watcher when configured, and an interrupt shuts everything down.
func run(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.Module == "" {
		return fmt.Errorf("config names no module")
	}
	log := bypass.LoggerFromConfig(cfg)
	if ctx.Bool("debug") {
		log = bypass.NewTextLogger(os.Stderr, bypass.ParseLevel("debug"))
	}
	opts, err := bypass.DefaultOptions(ctx.Context, cfg, log)
	if err != nil {
		return err
	}
	sig, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	c := bypass.New(opts...)
	if err = c.Init(); err != nil {
		return err
	}
	log.Info("module running", "version", c.Version(), "mount", cfg.MountPoint, "watching", c.Watcher() != nil)
	flush := time.NewTicker(cfg.Interval())
	defer flush.Stop()
	for {
		select {
		case <-flush.C:
			c.FlushLogs()
		case <-sig.Done():
			tctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return c.Shutdown(tctx)
		}
	}
}
