package geo

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultEdition     = "GeoLite2-City"
	maxMindDownloadURL = "https://download.maxmind.com/app/geoip_download"
	userAgent          = "ipguard-geolite-updater/1.0"
)

// ErrNoLicenseKey indicates that no MaxMind license key is configured.
var ErrNoLicenseKey = errors.New("geo: maxmind license key is not configured")

type Reloader interface {
	Reload() error
}

// Updater downloads a GeoLite edition into a local file and reloads the
// provider reading it.
type Updater struct {
	LicenseKey string
	Edition    string
	Path       string
	BaseURL    string
	Client     *http.Client
	Target     Reloader

	group singleflight.Group
}

func NewUpdater(licenseKey, path string, target Reloader) *Updater {
	return &Updater{
		LicenseKey: strings.TrimSpace(licenseKey),
		Edition:    DefaultEdition,
		Path:       path,
		BaseURL:    maxMindDownloadURL,
		Client:     &http.Client{Timeout: 2 * time.Minute},
		Target:     target,
	}
}

// Update fetches the edition. Concurrent calls share one download.
func (u *Updater) Update(ctx context.Context) error {
	_, err, _ := u.group.Do("update", func() (any, error) {
		if u.LicenseKey == "" {
			return nil, ErrNoLicenseKey
		}
		if err := u.download(ctx); err != nil {
			return nil, err
		}
		if u.Target != nil {
			if err := u.Target.Reload(); err != nil {
				return nil, fmt.Errorf("reload geolite: %w", err)
			}
		}
		log.Info("GeoLite database updated", "edition", u.Edition, "path", u.Path)
		return nil, nil
	})
	return err
}

func (u *Updater) download(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.downloadURL(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	client := u.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", u.Edition, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("download %s: unexpected status %d: %s", u.Edition, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	gzipReader, err := gzip.NewReader(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: open gzip: %w", u.Edition, err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)
	targetBase := u.Edition + ".mmdb"
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: read tar: %w", u.Edition, err)
		}
		if header.Typeflag != tar.TypeReg || filepath.Base(header.Name) != targetBase {
			continue
		}
		if err := writeFileAtomic(u.Path, tarReader); err != nil {
			return fmt.Errorf("%s: write file: %w", u.Edition, err)
		}
		return nil
	}

	return fmt.Errorf("%s: mmdb file not found in archive", u.Edition)
}

func (u *Updater) downloadURL() string {
	q := url.Values{}
	q.Set("edition_id", u.Edition)
	q.Set("license_key", u.LicenseKey)
	q.Set("suffix", "tar.gz")
	return u.BaseURL + "?" + q.Encode()
}

func writeFileAtomic(destPath string, data io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), "geolite-*.mmdb")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmpFile.Name())
	}()

	if _, err := io.Copy(tmpFile, data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("copy data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	return os.Rename(tmpFile.Name(), destPath)
}
