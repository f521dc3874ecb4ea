package download

import (
	"archive/zip"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rezonia/fiscal-sync/internal/model"
)

// fetchAttempts bounds retries of a single transient package fetch
const fetchAttempts = 3

// RequestDir is where a request's packages and documents live
func RequestDir(workDir, rfc, requestID string) string {
	return filepath.Join(workDir, rfc, requestID)
}

// Download fetches every package of a ready request and writes it as
// <workdir>/<rfc>/<requestID>/<packageID>.zip. A payload that is not valid
// base64 is reported per package; a failed fetch aborts.
func (m *Machine) Download(ctx context.Context, req *model.BulkRequest) (string, []error, error) {
	dir := RequestDir(m.workDir, req.RFC, req.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return dir, nil, model.NewStageError(model.StageDownload, model.ErrDownloadFailed, "failed to create request directory", err)
	}
	if len(req.PackageIDs) == 0 {
		return dir, nil, nil
	}

	token, err := m.gateway.Authenticate(ctx)
	if err != nil {
		return dir, nil, model.NewStageError(model.StageDownload, model.ErrDownloadFailed, "authentication failed", err)
	}

	var failures []error
	for _, id := range req.PackageIDs {
		if err := ctx.Err(); err != nil {
			return dir, failures, model.NewStageError(model.StageDownload, model.ErrDownloadFailed, "download cancelled", err)
		}
		log := m.log.WithFields(logrus.Fields{"rfc": req.RFC, "request_id": req.ID, "package_id": id})

		payload, err := m.fetch(ctx, token, id)
		if err != nil {
			return dir, failures, model.NewStageError(model.StageDownload, model.ErrDownloadFailed, "failed to fetch package "+id, err)
		}

		path := filepath.Join(dir, id+".zip")
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
		if err != nil {
			log.WithError(err).Warn("package payload is not valid base64")
			failures = append(failures, model.NewPackageError(id, path, err))
			continue
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return dir, failures, model.NewStageError(model.StageDownload, model.ErrDownloadFailed, "failed to write package "+id, err)
		}
		log.WithField("bytes", len(data)).Info("package saved")
	}
	return dir, failures, nil
}

func (m *Machine) fetch(ctx context.Context, token, packageID string) (string, error) {
	var lastErr error
	for i := 0; i < fetchAttempts; i++ {
		payload, err := m.gateway.FetchPackage(ctx, token, packageID)
		if err == nil {
			return payload, nil
		}
		lastErr = err
		if !IsRetryableError(err) {
			break
		}
		if err := m.wait(ctx); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

// UnpackReport lists what Unpack produced
type UnpackReport struct {
	Files    []string
	Failures []error
}

// Unpack extracts every .zip directly under dir into dir and removes the
// archive afterwards. Corrupt archives are kept on disk and reported.
func Unpack(ctx context.Context, dir string) (*UnpackReport, error) {
	archives, err := filepath.Glob(filepath.Join(dir, "*.zip"))
	if err != nil {
		return nil, err
	}
	sort.Strings(archives)

	report := &UnpackReport{}
	for _, archive := range archives {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		id := strings.TrimSuffix(filepath.Base(archive), ".zip")

		files, err := unpackArchive(archive, dir)
		if err != nil {
			report.Failures = append(report.Failures, model.NewPackageError(id, archive, err))
			continue
		}
		report.Files = append(report.Files, files...)
		if err := os.Remove(archive); err != nil {
			return report, fmt.Errorf("remove %s: %w", archive, err)
		}
	}
	return report, nil
}

func unpackArchive(archive, dest string) ([]string, error) {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// Validate every entry before writing anything
	for _, f := range r.File {
		if _, err := safeJoin(dest, f.Name); err != nil {
			return nil, err
		}
	}

	// Entries land in a staging directory first so a package that fails
	// halfway leaves nothing behind in dest
	staging, err := os.MkdirTemp(dest, ".unpack-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	var names []string
	for _, f := range r.File {
		target, _ := safeJoin(staging, f.Name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, err
			}
			continue
		}
		if err := extractEntry(f, target); err != nil {
			return nil, err
		}
		names = append(names, f.Name)
	}

	written := make([]string, 0, len(names))
	for _, name := range names {
		from, _ := safeJoin(staging, name)
		to, _ := safeJoin(dest, name)
		if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
			return written, err
		}
		if err := os.Rename(from, to); err != nil {
			return written, err
		}
		written = append(written, to)
	}
	return written, nil
}

func extractEntry(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// safeJoin rejects entries that would land outside dest
func safeJoin(dest, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return "", fmt.Errorf("unsafe entry name %q", name)
	}
	target := filepath.Join(dest, name)
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("entry %q escapes destination", name)
	}
	return target, nil
}
