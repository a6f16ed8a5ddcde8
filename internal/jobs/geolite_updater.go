package jobs

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"coursepulse/internal/pkg/geoip"
)

const (
	// GeoLite database is updated weekly by MaxMind
	GeoLiteUpdateInterval = 7 * 24 * time.Hour
	// MaxMind download URL template
	MaxMindDownloadURL = "https://download.maxmind.com/app/geoip_download?edition_id=GeoLite2-Country&license_key=%s&suffix=tar.gz"
)

var errNoMMDB = errors.New("no .mmdb file found in archive")

// GeoLiteUpdaterJob keeps the GeoLite2 country database fresh and reloads the
// resolver after each download.
type GeoLiteUpdaterJob struct {
	resolver    *geoip.Resolver
	logger      *slog.Logger
	path        string
	licenseKey  string
	downloadURL string
	client      *http.Client
}

func NewGeoLiteUpdaterJob(resolver *geoip.Resolver, logger *slog.Logger, path, licenseKey string) *GeoLiteUpdaterJob {
	return &GeoLiteUpdaterJob{
		resolver:    resolver,
		logger:      logger,
		path:        path,
		licenseKey:  licenseKey,
		downloadURL: MaxMindDownloadURL,
		client:      &http.Client{Timeout: 2 * time.Minute},
	}
}

// WithDownloadURL overrides the MaxMind URL template; it must contain one %s
// for the license key.
func (j *GeoLiteUpdaterJob) WithDownloadURL(tmpl string) *GeoLiteUpdaterJob {
	j.downloadURL = tmpl
	return j
}

// Run downloads a new database when a license key is configured and the file on
// disk is missing or older than a week.
func (j *GeoLiteUpdaterJob) Run(ctx context.Context) error {
	if j.licenseKey == "" || j.path == "" {
		j.logger.Debug("GeoLite license key not configured, skipping update")
		return nil
	}

	if info, err := os.Stat(j.path); err == nil {
		age := time.Since(info.ModTime())
		if age < GeoLiteUpdateInterval {
			j.logger.Debug("GeoLite database is up to date", slog.Duration("age", age))
			return nil
		}
	}

	j.logger.Info("Starting GeoLite database update", slog.String("path", j.path))
	if err := j.downloadAndUpdate(ctx); err != nil {
		return fmt.Errorf("failed to update GeoLite database: %w", err)
	}

	j.resolver.Reload()
	j.logger.Info("GeoLite database updated successfully")
	return nil
}

func (j *GeoLiteUpdaterJob) downloadAndUpdate(ctx context.Context) error {
	dir := filepath.Dir(j.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(j.downloadURL, j.licenseKey), nil)
	if err != nil {
		return fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := j.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download GeoLite database: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	// Extract next to the target so the final rename stays on one filesystem.
	tmp, err := os.CreateTemp(dir, "geolite-*.mmdb")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := extractMMDB(resp.Body, tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to extract database: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write database: %w", err)
	}

	return os.Rename(tmp.Name(), j.path)
}

// extractMMDB copies the first .mmdb entry of a tar.gz stream into dst.
func extractMMDB(src io.Reader, dst io.Writer) error {
	gzr, err := gzip.NewReader(src)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return errNoMMDB
		}
		if err != nil {
			return fmt.Errorf("failed to read tar: %w", err)
		}

		if strings.HasSuffix(header.Name, ".mmdb") {
			if _, err := io.Copy(dst, tr); err != nil {
				return fmt.Errorf("failed to extract file: %w", err)
			}
			return nil
		}
	}
}
