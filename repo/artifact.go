package repo

import (
	"fmt"
	"path"
	"strings"

	"golang.org/x/mod/semver"
)

// Codec is the compression applied to a stored artifact.
type Codec string

const (
	CodecNone Codec = ""
	CodecZstd Codec = "zst"
	CodecLZ4  Codec = "lz4"
)

// ParseCodec accepts none, zst, zstd and lz4.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CodecNone, nil
	case "zst", "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	}
	return CodecNone, fmt.Errorf("%w: %q", ErrUnknownCodec, s)
}

// module image formats the pool loader understands
var formats = []string{"o", "a", "linkable"}

// Artifact is one module image in a repository, keyed <name>-<version>.<format>[.<codec>].
type Artifact struct {
	Key     string
	Name    string
	Version string // semantic version with the leading v
	Format  string // o, a or linkable
	Codec   Codec
}

// File is the uncompressed file name of the image.
func (a Artifact) File() string {
	return a.Name + "-" + a.Version + "." + a.Format
}

// NewArtifact names the image of module name at version.
func NewArtifact(name, version, format string, codec Codec) (Artifact, error) {
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	if !semver.IsValid(version) {
		return Artifact{}, fmt.Errorf("%w: %q", ErrBadVersion, version)
	}
	if !validFormat(format) {
		return Artifact{}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	a := Artifact{Name: name, Version: version, Format: format, Codec: codec}
	a.Key = a.File()
	if codec != CodecNone {
		a.Key += "." + string(codec)
	}
	return a, nil
}

func validFormat(f string) bool {
	for _, v := range formats {
		if f == v {
			return true
		}
	}
	return false
}

// ParseArtifact decodes key as an artifact of module name. Keys of other modules, unknown
// formats and invalid versions are rejected.
func ParseArtifact(name, key string) (Artifact, bool) {
	base := path.Base(key)
	rest, ok := strings.CutPrefix(base, name+"-")
	if !ok {
		return Artifact{}, false
	}
	a := Artifact{Key: key, Name: name}
	switch {
	case strings.HasSuffix(rest, ".zst"):
		a.Codec, rest = CodecZstd, strings.TrimSuffix(rest, ".zst")
	case strings.HasSuffix(rest, ".lz4"):
		a.Codec, rest = CodecLZ4, strings.TrimSuffix(rest, ".lz4")
	}
	i := strings.LastIndexByte(rest, '.')
	if i <= 0 {
		return Artifact{}, false
	}
	a.Version, a.Format = rest[:i], rest[i+1:]
	if !validFormat(a.Format) || !semver.IsValid(a.Version) {
		return Artifact{}, false
	}
	return a, true
}

// Newer reports whether a supersedes version. Anything supersedes an empty or invalid version.
func (a Artifact) Newer(version string) bool {
	if !semver.IsValid(version) {
		return true
	}
	return semver.Compare(a.Version, version) > 0
}

// latest picks the highest version. Among equal versions the uncompressed key wins, then zst.
func latest(arts []Artifact) (Artifact, bool) {
	if len(arts) == 0 {
		return Artifact{}, false
	}
	best := arts[0]
	for _, a := range arts[1:] {
		switch c := semver.Compare(a.Version, best.Version); {
		case c > 0:
			best = a
		case c == 0 && codecRank(a.Codec) < codecRank(best.Codec):
			best = a
		}
	}
	return best, true
}

func codecRank(c Codec) int {
	switch c {
	case CodecNone:
		return 0
	case CodecZstd:
		return 1
	}
	return 2
}
