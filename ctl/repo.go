package main

import (
	"fmt"

	"github.com/ZenLiuCN/bypass"
	"github.com/ZenLiuCN/bypass/repo"
	"github.com/urfave/cli/v2"
)

func openRepo(ctx *cli.Context) (*repo.Repo, repo.Store, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	st, err := repo.Open(ctx.Context, cfg.Repo)
	if err != nil {
		return nil, nil, err
	}
	return repo.New(st, cfg.Repo.Name, cfg.Repo.CacheDir, bypass.NewLogger(logger(ctx).Handler())), st, nil
}

func latest(ctx *cli.Context) error {
	r, _, err := openRepo(ctx)
	if err != nil {
		return err
	}
	a, ok, err := r.Latest(ctx.Context)
	switch {
	case err != nil:
		return err
	case !ok:
		return fmt.Errorf("no %s module in repository", r.Name())
	}
	fmt.Printf("%s\t%s\n", a.Version, a.Key)
	return nil
}

func check(ctx *cli.Context) error {
	r, _, err := openRepo(ctx)
	if err != nil {
		return err
	}
	u, ok, err := r.Check(ctx.Context, ctx.String("current"))
	switch {
	case err != nil:
		return err
	case !ok:
		fmt.Println("up to date")
		return nil
	}
	fmt.Printf("%s\t%s\n", u.Version, u.Path)
	return nil
}

func publish(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("publish takes exactly one module image")
	}
	codec, err := repo.ParseCodec(ctx.String("codec"))
	if err != nil {
		return err
	}
	r, st, err := openRepo(ctx)
	if err != nil {
		return err
	}
	a, err := r.Publish(ctx.Context, st, ctx.Args().First(), ctx.String("version"), codec)
	if err != nil {
		return err
	}
	fmt.Println(a.Key)
	return nil
}
