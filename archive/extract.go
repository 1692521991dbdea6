package archive

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// datasetExt marks the embedded sqlite files inside an archive.
const datasetExt = ".db"

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// verifyChecksum compares the tarball hash with the first whitespace
// separated token of the manifest.
func verifyChecksum(tarball, manifest string) error {
	data, err := os.ReadFile(manifest)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return fmt.Errorf("%w: manifest %s is empty", ErrIntegrityViolation, filepath.Base(manifest))
	}
	expected := strings.ToLower(fields[0])

	actual, err := fileSHA256(tarball)
	if err != nil {
		return fmt.Errorf("hash %s: %w", filepath.Base(tarball), err)
	}
	if actual != expected {
		return fmt.Errorf("%w: %s sha256 %s, manifest says %s", ErrIntegrityViolation, filepath.Base(tarball), actual, expected)
	}
	return nil
}

// extractTarGz unpacks a gzip tarball into dir. Entries that would land
// outside dir are rejected.
func extractTarGz(tarball, dir string) error {
	f, err := os.Open(tarball)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrArchiveFormat, filepath.Base(tarball), err)
	}
	defer gz.Close()

	root := filepath.Clean(dir)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrArchiveFormat, filepath.Base(tarball), err)
		}

		target := filepath.Join(root, hdr.Name)
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("%w: entry %q escapes extraction dir", ErrArchiveFormat, hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		default:
			// links and devices are never part of a dataset archive
		}
	}
}

func writeFile(path string, r io.Reader, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// findDataset returns the only *.db file below dir. None or several is an
// ErrArchiveFormat; the restorer never guesses between candidates.
func findDataset(dir string) (string, error) {
	var found []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), datasetExt) {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan %s: %w", dir, err)
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w: no %s file in %s", ErrArchiveFormat, datasetExt, dir)
	case 1:
		return found[0], nil
	default:
		sort.Strings(found)
		return "", fmt.Errorf("%w: %d candidate datasets in %s: %s", ErrArchiveFormat, len(found), dir, strings.Join(found, ", "))
	}
}
