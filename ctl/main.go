// Command bypassctl builds, inspects, publishes and runs hot swappable client modules.
package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/ZenLiuCN/bypass"
	"github.com/ZenLiuCN/bypass/dynamic"
	"github.com/pkujhd/goloader"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatalf("failure %s", err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "bypassctl"
	app.Usage = "client module tool"
	app.Description = "compiles go sources into loadable client modules, inspects them, publishes them to a repository and runs them"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}},
		&cli.StringFlag{Name: "config", Aliases: []string{"f"}, Usage: "bypass config file, $" + bypass.EnvConfig + " when empty", EnvVars: []string{bypass.EnvConfig}},
	}
	app.Commands = []*cli.Command{
		{
			Name:   "compile",
			Action: compile,
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "pack", Aliases: []string{"a"}, Usage: "write a go archive instead of an object file"},
				&cli.BoolFlag{Name: "linkable", Aliases: []string{"l"}, Usage: "serialize the archive and its included packages into one linkable file"},
				&cli.StringSliceFlag{Name: "includes", Aliases: []string{"c"}, Usage: "dependency packages packed into the linkable"},
				&cli.StringFlag{Name: "pkg", Aliases: []string{"k"}, Usage: "package import path, required with --pack or --linkable"},
			},
			Args:  true,
			Usage: "compile go sources, or '.' for every source in the working directory",
		},
		{Name: "prepare", Action: prepare, Usage: "copy internals of go sdk"},
		{Name: "clean", Action: clean, Usage: "remove copied internals of go sdk"},
		{
			Name:   "imports",
			Action: imports,
			Usage:  "display imports of go object or archive files",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "pkg", Aliases: []string{"p"}, Usage: "package path, main when empty"},
			},
			Args: true,
		},
		{Name: "linkable", Action: linkables, Usage: "display packages and imports of linkable files", Args: true},
		{
			Name:   "inspect",
			Action: inspect,
			Usage:  "list the symbols defined in an object file",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "pkg", Aliases: []string{"p"}, Usage: "package path, main when empty"},
			},
			Args: true,
		},
		{
			Name:   "symbols",
			Action: symbols,
			Usage:  "list host symbols modules can link against",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "prefix", Usage: "only names with this prefix"},
				&cli.BoolFlag{Name: "dump", Usage: "dump names with addresses"},
			},
		},
		{
			Name:   "exports",
			Action: exports,
			Usage:  "list intercepted entry names and the call each one maps to",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "genuine", Usage: "also check the genuine table resolves"},
			},
		},
		{Name: "latest", Action: latest, Usage: "show the newest module in the configured repository"},
		{
			Name:   "check",
			Action: check,
			Usage:  "fetch the newest module when it supersedes a version",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "current", Usage: "version to compare against"},
			},
		},
		{
			Name:   "publish",
			Action: publish,
			Usage:  "upload a module image to the configured repository",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "version", Aliases: []string{"v"}, Required: true},
				&cli.StringFlag{Name: "codec", Value: "zst", Usage: "none, zst or lz4"},
			},
			Args: true,
		},
		{Name: "run", Action: run, Usage: "load the configured module and keep it updated until interrupted"},
	}
	return app
}

func logger(ctx *cli.Context) *slog.Logger {
	level := slog.LevelInfo
	if ctx.Bool("debug") {
		level = slog.LevelDebug
	}
	return bypass.NewTextLogger(os.Stderr, level).Logger
}

func compile(ctx *cli.Context) (err error) {
	l := logger(ctx)
	o := ctx.Args().Slice()
	if len(o) == 0 {
		return fmt.Errorf("missing target sources list")
	}
	if len(o) == 1 && o[0] == "." {
		if o, err = lookup(); err != nil {
			return
		}
		l.Info("found go sources at working directory", "files", o)
	}
	if _, err = exec.LookPath("go"); err != nil {
		return fmt.Errorf("missing go sdk: %w", err)
	}
	if err = dynamic.Imports(l, o); err != nil {
		return fmt.Errorf("generate importcfg: %w", err)
	}
	pk := ctx.String("pkg")
	switch {
	case ctx.Bool("linkable"):
		if pk == "" {
			return fmt.Errorf("required argument -k|--pkg missing")
		}
		out, err := dynamic.Pack(l, o, pk, ctx.StringSlice("includes"))
		if err != nil {
			return err
		}
		l.Info("linkable written", "file", out)
		return nil
	case ctx.Bool("pack"):
		if pk == "" {
			return fmt.Errorf("required argument -k|--pkg missing")
		}
		return dynamic.Compile(l, o, pk, true)
	}
	return dynamic.Compile(l, o, pk, false)
}

func lookup() (v []string, err error) {
	e, err := os.ReadDir(".")
	if err != nil {
		return
	}
	for _, entry := range e {
		n := entry.Name()
		if !entry.IsDir() && strings.HasSuffix(n, ".go") && !strings.HasSuffix(n, "_test.go") {
			v = append(v, n)
		}
	}
	return
}

func sdkDirs() (src, dir string) {
	return os.ExpandEnv("$GOROOT/src/cmd/internal"), os.ExpandEnv("$GOROOT/src/cmd/objfile")
}

func clean(ctx *cli.Context) (err error) {
	l := logger(ctx)
	_, dir := sdkDirs()
	if _, err = os.Stat(dir); err != nil {
		l.Debug("nothing to clean", "dir", dir)
		return nil
	}
	if err = os.RemoveAll(dir); err == nil {
		l.Debug("removed", "dir", dir)
	}
	return
}

func prepare(ctx *cli.Context) (err error) {
	l := logger(ctx)
	src, dir := sdkDirs()
	if _, err = os.Stat(dir); err == nil || !os.IsNotExist(err) {
		l.Debug("already prepared", "dir", dir)
		return nil
	}
	if err = dynamic.CopyDir(src, dir, nil); err == nil {
		l.Debug("copied", "from", src, "to", dir)
	}
	return
}

func imports(ctx *cli.Context) error {
	for _, s := range ctx.Args().Slice() {
		v, err := dynamic.ObjectImportsIter(s, ctx.String("pkg"))
		if err != nil {
			return err
		}
		fmt.Print(v.String())
	}
	return nil
}

func linkables(ctx *cli.Context) error {
	for _, s := range ctx.Args().Slice() {
		f, err := os.Open(s)
		if err != nil {
			return err
		}
		l, err := goloader.UnSerialize(f)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", s, err)
		}
		fmt.Print(dynamic.LinkerImportsIter(l).String())
	}
	return nil
}

func inspect(ctx *cli.Context) error {
	for _, s := range ctx.Args().Slice() {
		names, err := dynamic.Inspect(s, ctx.String("pkg"))
		if err != nil {
			return fmt.Errorf("%s: %w", s, err)
		}
		for _, n := range names {
			fmt.Println(n)
		}
	}
	return nil
}
