// Package archive restores hourly snapshot buckets from the daily sqlite
// archives kept in S3. An archive is downloaded once per day into a local
// work dir, verified against its sha256 manifest, extracted once, and then
// queried for the exact rows of the failing bucket.
package archive

import (
	"errors"
	"fmt"
	"path"
	"time"
)

var (
	// ErrIntegrityViolation means the tarball does not match its manifest.
	ErrIntegrityViolation = errors.New("archive checksum mismatch")
	// ErrArchiveFormat means the extracted archive has no single dataset.
	ErrArchiveFormat = errors.New("archive format error")
	// ErrLoadFailure means the sink did not accept the restored rows.
	ErrLoadFailure = errors.New("restore load failed")
)

// Result describes one restored bucket.
type Result struct {
	Archive string
	Dataset string
	Rows    int
	Label   string
}

// TarballName is the archive file name for day, e.g.
// sqlite_2025-12-16_aws.tar.gz.
func TarballName(day time.Time) string {
	return fmt.Sprintf("sqlite_%s_aws.tar.gz", day.Format(time.DateOnly))
}

func ManifestName(day time.Time) string {
	return TarballName(day) + ".sha256"
}

// ObjectKey returns the S3 key of name for day under prefix:
// {prefix}/{YYYY}/{MM}/{name}.
func ObjectKey(prefix string, day time.Time, name string) string {
	return path.Join(prefix, day.Format("2006"), day.Format("01"), name)
}
