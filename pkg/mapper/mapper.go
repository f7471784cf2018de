// Package mapper pairs input files matched by a glob with mirrored paths in
// an output directory.
package mapper

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Pair is an input file and the output path allocated for it
type Pair struct {
	Input  string
	Output string
}

// GlobForFilter builds the recursive glob for a file extension filter such
// as "dcm". A filter that already contains glob syntax is used as is.
func GlobForFilter(filter string) string {
	if strings.ContainsAny(filter, "*?[{/") {
		return filter
	}
	return "**/*." + strings.TrimPrefix(filter, ".")
}

// FileMapper returns one Pair per regular file under inputDir matching glob.
// Output paths keep the input's path relative to inputDir. Pairs are sorted
// by input path.
func FileMapper(inputDir, outputDir, glob string) ([]Pair, error) {
	info, err := os.Stat(inputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path %s is not a directory", inputDir)
	}

	fsys := os.DirFS(inputDir)
	matches, err := doublestar.Glob(fsys, glob)
	if err != nil {
		return nil, fmt.Errorf("invalid glob %q: %w", glob, err)
	}

	pairs := make([]Pair, 0, len(matches))
	for _, rel := range matches {
		fi, err := fs.Stat(fsys, rel)
		if err != nil {
			return nil, err
		}
		if !fi.Mode().IsRegular() {
			continue
		}
		local := filepath.FromSlash(rel)
		pairs = append(pairs, Pair{
			Input:  filepath.Join(inputDir, local),
			Output: filepath.Join(outputDir, local),
		})
	}

	// Sort so slices of a series are processed in a stable order
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].Input < pairs[j].Input
	})

	return pairs, nil
}
