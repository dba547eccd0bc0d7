// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Fetcher obtains the bundle for a target version. How bundles arrive
// on the device (HTTP download, USB drop, fleet push) is a collaborator
// concern; the engine only needs a local bundle path and its expected
// digest.
type Fetcher interface {
	// Fetch returns the local path of the bundle for version and the
	// digest it must verify against.
	Fetch(ctx context.Context, version string) (bundlePath, digest string, err error)
}

// DirFetcher reads bundles from a local drop directory containing
// <version>.opb alongside <version>.digest (the hex digest, one
// line). This is the default on devices where an external process
// (or a human with a USB stick) delivers bundles.
type DirFetcher struct {
	Dir string
}

// Fetch implements Fetcher.
func (f *DirFetcher) Fetch(_ context.Context, version string) (string, string, error) {
	bundlePath := filepath.Join(f.Dir, version+".opb")
	if _, err := os.Stat(bundlePath); err != nil {
		return "", "", fmt.Errorf("bundle for %s not found in %s: %w", version, f.Dir, err)
	}

	digestData, err := os.ReadFile(filepath.Join(f.Dir, version+".digest"))
	if err != nil {
		return "", "", fmt.Errorf("digest for %s: %w", version, err)
	}
	digest := strings.TrimSpace(string(digestData))
	if digest == "" {
		return "", "", fmt.Errorf("digest file for %s is empty", version)
	}
	return bundlePath, digest, nil
}

// FuncFetcher adapts a function to Fetcher, for tests.
type FuncFetcher func(ctx context.Context, version string) (string, string, error)

// Fetch implements Fetcher.
func (f FuncFetcher) Fetch(ctx context.Context, version string) (string, string, error) {
	return f(ctx, version)
}
