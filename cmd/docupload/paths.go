package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bmatcuk/doublestar/v4"
)

type pathEvaluator struct {
	pathModifier pathutil.PathModifier
	pathChecker  pathutil.PathChecker
	logger       log.Logger
}

func newPathEvaluator(logger log.Logger) pathEvaluator {
	return pathEvaluator{
		pathModifier: pathutil.NewPathModifier(),
		pathChecker:  pathutil.NewPathChecker(),
		logger:       logger,
	}
}

// evaluate expands glob patterns and returns the absolute paths of the
// existing regular files, in argument order. Duplicates are dropped.
func (e pathEvaluator) evaluate(paths []string) []string {
	var expandedPaths []string
	for _, path := range paths {
		if !strings.ContainsAny(path, "*?[{") {
			expandedPaths = append(expandedPaths, path)
			continue
		}

		base, pattern := doublestar.SplitPattern(path)
		absBase, err := e.pathModifier.AbsPath(base) // resolves ~/ and expands any envs
		if err != nil {
			e.logger.Warnf("Failed to parse path %s, error: %s", base, err)
			continue
		}
		matches, err := doublestar.Glob(os.DirFS(absBase), pattern, doublestar.WithNoFollow(), doublestar.WithFilesOnly())
		if err != nil {
			e.logger.Warnf("Error in path pattern '%s': %s", path, err)
			continue
		}
		if len(matches) == 0 {
			e.logger.Warnf("No match for path pattern: %s", path)
			continue
		}

		for _, match := range matches {
			expandedPaths = append(expandedPaths, filepath.Join(absBase, match))
		}
	}

	seen := map[string]bool{}
	var finalPaths []string
	for _, path := range expandedPaths {
		absPath, err := e.pathModifier.AbsPath(path)
		if err != nil {
			e.logger.Warnf("Failed to parse path %s, error: %s", path, err)
			continue
		}

		exists, err := e.pathChecker.IsPathExists(absPath)
		if err != nil {
			e.logger.Warnf("Failed to check path %s, error: %s", absPath, err)
		}
		if !exists {
			e.logger.Warnf("File doesn't exist: %s", path)
			continue
		}
		if seen[absPath] {
			continue
		}
		seen[absPath] = true

		finalPaths = append(finalPaths, absPath)
	}

	return finalPaths
}
