// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package release

import (
	"archive/tar"
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"github.com/outpost-labs/outpost/lib/wire"
)

// CompressionTag identifies the compression algorithm of a bundle.
// Tags are format constants — changing a value breaks every bundle
// already produced.
type CompressionTag uint8

const (
	// CompressionNone is an uncompressed tar stream.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 is LZ4 frame compression. Fast decode on
	// constrained boards when download size matters less than CPU.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd is zstd compression. Better ratios; the
	// default for bundles fetched over metered links.
	CompressionZstd CompressionTag = 2
)

// String returns the human-readable name of a compression tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// bundleMagic opens every bundle file, followed by one compression
// tag byte, followed by the (possibly compressed) tar stream.
var bundleMagic = []byte{'O', 'P', 'B', '1'}

// bundleDomain keys the BLAKE3 digest so a bundle hash can never
// collide with a hash computed in another context. ASCII, zero-padded
// to the 32 bytes keyed BLAKE3 requires.
var bundleDomain = [32]byte{
	'o', 'u', 't', 'p', 'o', 's', 't', '.', 'r', 'e', 'l', 'e', 'a', 's', 'e', '.',
	'b', 'u', 'n', 'd', 'l', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// DigestFile computes the keyed BLAKE3 digest of the bundle file at
// path, streamed in chunks so memory stays constant.
func DigestFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening bundle for hashing: %w", err)
	}
	defer file.Close()

	hasher, err := blake3.NewKeyed(bundleDomain[:])
	if err != nil {
		return "", fmt.Errorf("initializing bundle hasher: %w", err)
	}
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hashing bundle %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Unpack verifies the bundle at bundlePath against expectedDigest and
// extracts its tar contents into destination, which must already
// exist and be empty. The digest is checked over the whole file before
// extraction begins: a corrupt bundle never leaves partial output.
func Unpack(bundlePath, destination, expectedDigest string) error {
	digest, err := DigestFile(bundlePath)
	if err != nil {
		return wire.Errorf(wire.KindFetchFailed, "%v", err)
	}
	if !strings.EqualFold(digest, expectedDigest) {
		return wire.Errorf(wire.KindFetchFailed,
			"bundle digest mismatch: got %s, want %s", digest, expectedDigest)
	}

	file, err := os.Open(bundlePath)
	if err != nil {
		return fmt.Errorf("opening bundle: %w", err)
	}
	defer file.Close()

	header := make([]byte, len(bundleMagic)+1)
	if _, err := io.ReadFull(file, header); err != nil {
		return wire.Errorf(wire.KindFetchFailed, "reading bundle header: %v", err)
	}
	if !bytes.Equal(header[:len(bundleMagic)], bundleMagic) {
		return wire.Errorf(wire.KindFetchFailed, "not a release bundle (bad magic)")
	}

	var reader io.Reader
	switch CompressionTag(header[len(bundleMagic)]) {
	case CompressionNone:
		reader = file
	case CompressionLZ4:
		reader = lz4.NewReader(file)
	case CompressionZstd:
		zr, err := zstd.NewReader(file)
		if err != nil {
			return wire.Errorf(wire.KindFetchFailed, "initializing zstd reader: %v", err)
		}
		defer zr.Close()
		reader = zr
	default:
		return wire.Errorf(wire.KindFetchFailed,
			"unknown bundle compression tag %d", header[len(bundleMagic)])
	}

	return extractTar(reader, destination)
}

// extractTar writes a tar stream into destination, rejecting entries
// that would escape it. Only regular files, directories, and relative
// symlinks are allowed in a release tree.
func extractTar(r io.Reader, destination string) error {
	tarReader := tar.NewReader(r)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return wire.Errorf(wire.KindFetchFailed, "reading bundle tar: %v", err)
		}

		target, err := securePath(destination, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(header.Mode)&0o777); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating parent of %s: %w", target, err)
			}
			if err := writeFile(target, tarReader, os.FileMode(header.Mode)&0o777); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if filepath.IsAbs(header.Linkname) {
				return wire.Errorf(wire.KindFetchFailed,
					"bundle entry %s links to absolute path %s", header.Name, header.Linkname)
			}
			if _, err := securePath(filepath.Dir(target), header.Linkname); err != nil {
				return err
			}
			if err := os.Symlink(header.Linkname, target); err != nil {
				return fmt.Errorf("creating symlink %s: %w", target, err)
			}
		default:
			return wire.Errorf(wire.KindFetchFailed,
				"bundle entry %s has unsupported type %d", header.Name, header.Typeflag)
		}
	}
}

// securePath joins name under root and rejects traversal outside it.
func securePath(root, name string) (string, error) {
	target := filepath.Join(root, name)
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", wire.Errorf(wire.KindFetchFailed, "bundle entry %q escapes the release directory", name)
	}
	return target, nil
}

func writeFile(path string, r io.Reader, mode os.FileMode) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := io.Copy(file, r); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	return file.Close()
}

// Pack writes the tree rooted at sourceDir into a bundle file at
// bundlePath using the given compression, and returns the bundle's
// digest. Used by the build tooling and by tests; the worker itself
// only unpacks.
func Pack(sourceDir, bundlePath string, compression CompressionTag) (string, error) {
	file, err := os.OpenFile(bundlePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("creating bundle: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(append([]byte{}, bundleMagic...), byte(compression))); err != nil {
		return "", fmt.Errorf("writing bundle header: %w", err)
	}

	var writer io.Writer
	var finish func() error
	switch compression {
	case CompressionNone:
		writer = file
		finish = func() error { return nil }
	case CompressionLZ4:
		lw := lz4.NewWriter(file)
		writer = lw
		finish = lw.Close
	case CompressionZstd:
		zw, err := zstd.NewWriter(file)
		if err != nil {
			return "", fmt.Errorf("initializing zstd writer: %w", err)
		}
		writer = zw
		finish = zw.Close
	default:
		return "", fmt.Errorf("unknown compression tag %d", compression)
	}

	if err := writeTar(writer, sourceDir); err != nil {
		return "", err
	}
	if err := finish(); err != nil {
		return "", fmt.Errorf("finalizing compression: %w", err)
	}
	if err := file.Sync(); err != nil {
		return "", fmt.Errorf("syncing bundle: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("closing bundle: %w", err)
	}

	return DigestFile(bundlePath)
}

func writeTar(w io.Writer, sourceDir string) error {
	tarWriter := tar.NewWriter(w)
	err := filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == sourceDir {
			return nil
		}
		relative, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = relative
		if info.Mode()&os.ModeSymlink != 0 {
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			header.Linkname = link
		}
		if err := tarWriter.WriteHeader(header); err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			file, err := os.Open(path)
			if err != nil {
				return err
			}
			defer file.Close()
			if _, err := io.Copy(tarWriter, file); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("archiving %s: %w", sourceDir, err)
	}
	return tarWriter.Close()
}
