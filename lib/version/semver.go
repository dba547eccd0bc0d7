// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
)

// releaseVersionPattern restricts release identifiers to a shape that
// is safe to embed in a filesystem path: a leading "v" and a strict
// semver remainder, no slashes, no dots outside the semver grammar.
var releaseVersionPattern = regexp.MustCompile(`^v[0-9A-Za-z.+-]+$`)

// ParseRelease validates a release version identifier ("v1.2.3",
// "v1.2.3-rc.1") and returns its parsed form for ordering.
func ParseRelease(version string) (*semver.Version, error) {
	if !releaseVersionPattern.MatchString(version) {
		return nil, fmt.Errorf("release version %q is not a v-prefixed semver identifier", version)
	}
	parsed, err := semver.StrictNewVersion(version[1:])
	if err != nil {
		return nil, fmt.Errorf("release version %q: %w", version, err)
	}
	return parsed, nil
}

// CompareReleases orders two release versions: -1, 0, or 1. Returns
// an error if either identifier is invalid.
func CompareReleases(a, b string) (int, error) {
	parsedA, err := ParseRelease(a)
	if err != nil {
		return 0, err
	}
	parsedB, err := ParseRelease(b)
	if err != nil {
		return 0, err
	}
	return parsedA.Compare(parsedB), nil
}
