package problem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"domctl/internal/apperrors"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"
)

// Supported archive platforms.
const (
	PlatformDOMjudge = "domjudge"
	PlatformPolygon  = "polygon"
)

// Source is one problem entry of the configuration.
type Source struct {
	Archive  string `yaml:"archive" toml:"archive" json:"archive"`
	Platform string `yaml:"platform" toml:"platform" json:"platform"`
	Color    string `yaml:"color" toml:"color" json:"color"`
}

// Loader reads problem archives, converting foreign formats first.
type Loader struct {
	Converter Converter
}

// LoadAll loads every source concurrently, keeping configuration order.
// Archive paths are resolved against baseDir.
func (l *Loader) LoadAll(ctx context.Context, sources []Source, baseDir string) ([]*Package, error) {
	paths := make([]string, len(sources))
	seen := mapset.NewThreadUnsafeSet[string]()
	var duplicates []string
	for i, src := range sources {
		if strings.TrimSpace(src.Archive) == "" {
			return nil, apperrors.Config(fmt.Sprintf("problems[%d].archive", i), "archive is required")
		}
		p := src.Archive
		if !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}
		p = filepath.Clean(p)
		if !seen.Add(p) {
			duplicates = append(duplicates, p)
		}
		paths[i] = p
	}
	if len(duplicates) > 0 {
		return nil, apperrors.Config("problems", "Duplicate archives detected: "+strings.Join(duplicates, ", "))
	}
	for i, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return nil, apperrors.Config(fmt.Sprintf("problems[%d].archive", i), "Archive not found: "+p)
		}
	}

	packages := make([]*Package, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i := range sources {
		g.Go(func() error {
			pkg, err := l.load(gctx, sources[i], paths[i])
			if err != nil {
				return fmt.Errorf("problem %s: %w", filepath.Base(paths[i]), err)
			}
			packages[i] = pkg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := checkShortNames(packages); err != nil {
		return nil, err
	}
	return packages, nil
}

func (l *Loader) load(ctx context.Context, src Source, path string) (*Package, error) {
	var (
		pkg *Package
		err error
	)
	switch strings.ToLower(strings.TrimSpace(src.Platform)) {
	case PlatformDOMjudge, "":
		pkg, err = readFile(path)
	case PlatformPolygon:
		conv := l.Converter
		if conv == nil {
			conv = CommandConverter{}
		}
		pkg, err = convertPolygon(ctx, conv, path)
	default:
		return nil, apperrors.Config("platform", fmt.Sprintf("unsupported problem platform %q (must be 'domjudge' or 'polygon')", src.Platform))
	}
	if err != nil {
		return nil, err
	}

	if src.Color != "" {
		hex, err := HexColor(src.Color)
		if err != nil {
			return nil, apperrors.Config("color", err.Error())
		}
		pkg = pkg.WithColor(hex)
	}
	return pkg, nil
}

func readFile(path string) (*Package, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}
	return ReadZip(f, info.Size())
}

func checkShortNames(packages []*Package) error {
	seen := mapset.NewThreadUnsafeSet[string]()
	dups := mapset.NewThreadUnsafeSet[string]()
	for _, p := range packages {
		if !seen.Add(p.ShortName()) {
			dups.Add(p.ShortName())
		}
	}
	if dups.Cardinality() == 0 {
		return nil
	}
	names := dups.ToSlice()
	sort.Strings(names)
	return apperrors.Config("problems", "Duplicate problem short_names detected: "+strings.Join(names, ", "))
}
