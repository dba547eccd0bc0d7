// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

// Package release owns the on-disk release store: one immutable
// directory per installed version and a single "current" symlink that
// names the active one.
//
// Layout under the configured root:
//
//	releases/<version>/   fully-populated install tree, immutable
//	current               symlink to releases/<version>
//
// Staging writes into a hidden temporary directory and renames it into
// place, so a partially-unpacked release is never visible under its
// final name. Activation replaces the symlink with a rename, which is
// atomic on POSIX filesystems: after any crash the pointer refers to
// either the old or the new release, never to a partial state.
//
// Release bundles are tar streams with a small header naming the
// compression algorithm, verified against a BLAKE3 digest before a
// single byte is unpacked.
package release
