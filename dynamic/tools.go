package dynamic

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ZenLiuCN/fn"
	"github.com/pkujhd/goloader"
	"github.com/pkujhd/goloader/obj"
)

// ImportCfg is the import configuration file Compile and Pack read.
const ImportCfg = "importcfg"

// CopyFile from src to dest with optional src file info
func CopyFile(src string, dest string, si fs.FileInfo) (err error) {
	sf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer fn.IgnoreClose(sf)
	df, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer fn.IgnoreClose(df)
	_, err = io.Copy(df, sf)
	if err == nil {
		if si == nil {
			si, err = os.Stat(src)
			if err != nil {
				return
			}
		}
		err = os.Chmod(dest, si.Mode())
	}
	return
}

// CopyDir from src to dest with optional src file info
func CopyDir(src string, dest string, si fs.FileInfo) (err error) {
	if si == nil {
		si, err = os.Stat(src)
		if err != nil {
			return err
		}
	}
	if err = os.MkdirAll(dest, si.Mode()); err != nil {
		return err
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == src {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		dp := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(dp, info.Mode())
		}
		return CopyFile(path, dp, info)
	})
}

// Compile go sources into one object file in the working directory, or into a go archive when pack is set.
func Compile(log *slog.Logger, sources []string, pkg string, pack bool) (err error) {
	args := []string{"tool", "compile", "-importcfg", ImportCfg}
	if pkg != "" {
		args = append(args, "-p", pkg)
	}
	if pack {
		args = append(args, "-pack")
	}
	cmd := exec.Command("go", append(args, sources...)...)
	log.Debug("execute", "args", cmd.Args)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// Imports generate the import configuration of sources as importcfg in the working directory.
func Imports(log *slog.Logger, sources []string) (err error) {
	log.Debug("sources", "files", sources)
	cmd := exec.Command("go", append([]string{"list", "-export", "-f", "{{.Imports}}"}, sources...)...)
	log.Debug("execute", "args", cmd.Args)
	var bout []byte
	if bout, err = cmd.Output(); err != nil {
		return fmt.Errorf("inspect imports: %w%s", err, stderrOf(err))
	}
	out := strings.TrimSpace(string(bout))
	out = strings.TrimSuffix(strings.TrimPrefix(out, "["), "]")
	deps := strings.Fields(out)
	log.Debug("dependencies", "imports", deps)
	cmd = exec.Command("go", append([]string{"list", "-export", "-deps", "-f", "{{if .Export}}packagefile {{.ImportPath}}={{.Export}}{{end}}", "std"}, deps...)...)
	log.Debug("execute", "args", cmd.Args)
	if bout, err = cmd.Output(); err != nil {
		return fmt.Errorf("inspect dependencies: %w%s", err, stderrOf(err))
	}
	return os.WriteFile(ImportCfg, bout, 0o644)
}

func stderrOf(err error) string {
	if e, ok := err.(*exec.ExitError); ok && len(e.Stderr) > 0 {
		return "\n" + string(e.Stderr)
	}
	return ""
}

// PackageFiles reads the packagefile lines of an import configuration.
func PackageFiles(cfg string) (files map[string]string, err error) {
	f, err := os.Open(cfg)
	if err != nil {
		return nil, err
	}
	defer fn.IgnoreClose(f)
	files = make(map[string]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line, ok := strings.CutPrefix(strings.TrimSpace(sc.Text()), "packagefile ")
		if !ok {
			continue
		}
		if p, file, ok := strings.Cut(line, "="); ok {
			files[p] = file
		}
	}
	return files, sc.Err()
}

// Pack compiles sources as package pkg into pkg's archive, then serializes it with the included
// dependency packages into one linkable file named after the last element of pkg.
// It returns the linkable path.
func Pack(log *slog.Logger, sources []string, pkg string, includes []string) (out string, err error) {
	if err = Compile(log, sources, pkg, true); err != nil {
		return
	}
	base := filepath.Base(pkg)
	archive := strings.TrimSuffix(filepath.Base(sources[0]), ".go") + ".a"
	files := []string{archive}
	pkgs := []string{pkg}
	if len(includes) > 0 {
		var known map[string]string
		if known, err = PackageFiles(ImportCfg); err != nil {
			return
		}
		for _, inc := range includes {
			f, ok := known[inc]
			if !ok {
				return "", fmt.Errorf("package %s not found in %s", inc, ImportCfg)
			}
			files = append(files, f)
			pkgs = append(pkgs, inc)
		}
	}
	var l *goloader.Linker
	if l, err = goloader.ReadObjs(files, pkgs); err != nil {
		return
	}
	out = base + ".linkable"
	var f *os.File
	if f, err = os.Create(out); err != nil {
		return
	}
	defer fn.IgnoreClose(f)
	if err = goloader.Serialize(l, f); err != nil {
		return
	}
	log.Debug("packed", "output", out, "packages", pkgs)
	return
}

// ObjectImportsIter resolve all imported packages and version (only if it's a module).
//
// this use for parse dependencies
func ObjectImportsIter(file, pkgPath string) (info *Info, err error) {
	if pkgPath == "" {
		pkgPath = "main"
	}
	v := &obj.Pkg{Syms: make(map[string]*obj.ObjSymbol), File: file, PkgPath: pkgPath}
	if err = v.Symbols(); err != nil {
		return
	}
	info = parseInfo(v)
	info.File = file
	info.PkgPath = pkgPath
	return
}

// LinkerImportsIter resolve all imported packages and version if it's a module.
//
// this use for parse dependencies
func LinkerImportsIter(link *goloader.Linker) (infos Infos) {
	for _, pkg := range link.Packages {
		info := parseInfo(pkg)
		info.File = pkg.File
		info.PkgPath = pkg.PkgPath
		infos = append(infos, info)
	}
	return
}

// Infos is a stringer slice of Info
type Infos []*Info

func (i Infos) String() string {
	s := strings.Builder{}
	for _, v := range i {
		s.WriteString(v.String())
	}
	return s.String()
}

// Info contains the import information of a linker
type Info struct {
	File    string
	PkgPath string
	Imports map[string]string // with pairs of package import path and version
}

func (i Info) String() string {
	s := strings.Builder{}
	fmt.Fprintf(&s, "%s (%s)\n", i.PkgPath, i.File)
	for p, v := range i.Imports {
		if v != "" {
			fmt.Fprintf(&s, "\t%s@%s\n", p, v)
		} else {
			fmt.Fprintf(&s, "\t%s\n", p)
		}
	}
	return s.String()
}

func parseInfo(v *obj.Pkg) (i *Info) {
	i = new(Info)
	i.Imports = make(map[string]string)
	for _, pkg := range v.ImportPkgs {
		i.Imports[pkg] = ""
	}
	k := fn.MapKeys(i.Imports)
	for _, f := range v.CUFiles {
		f = strings.TrimPrefix(f, "gofile..")
		if strings.HasPrefix(f, "$GOROOT") {
			continue
		}
		if strings.IndexByte(f, '!') >= 0 {
			f = parseName(f)
		}
		for _, s := range k {
			x := strings.Index(f, s)
			if x < 0 || i.Imports[s] != "" {
				continue
			}
			f = f[x:]
			y := strings.IndexByte(f, '@')
			if y < 0 {
				continue
			}
			ver := f[y+1:]
			if y = strings.IndexByte(ver, '/'); y >= 0 {
				ver = ver[:y]
			}
			i.Imports[s] = ver
		}
	}
	return
}

// parseName undoes module cache case escaping: !x is X.
func parseName(f string) string {
	v := strings.Builder{}
	x := false
	for _, i := range []byte(f) {
		switch {
		case i == '!':
			x = true
		case x:
			x = false
			v.WriteByte(i - 32)
		default:
			v.WriteByte(i)
		}
	}
	return v.String()
}

// Inspect display symbols inside an object file
func Inspect(file, pkg string) ([]string, error) {
	return goloader.Parse(file, pkg)
}
