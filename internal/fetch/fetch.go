// Package fetch resolves, downloads, and extracts application and base
// image archives.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/nilltadios/voidbox/internal/manifest"
)

// NetworkError carries the HTTP status or transport error a download
// attempt ended on, after retries are exhausted.
type NetworkError struct {
	URL    string
	Status int
	Err    error
}

func (e *NetworkError) Unwrap() error { return e.Err }
func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: http %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

// IntegrityError is returned when a downloaded artifact's size or checksum
// does not match what was expected. Integrity errors are never retried.
type IntegrityError struct {
	What, Want, Got string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: want %s, got %s", e.What, e.Want, e.Got)
}

// Fetcher resolves source descriptors, downloads archives, and extracts
// them, retrying transient network failures with exponential backoff.
type Fetcher struct {
	Client  *http.Client
	TempDir string
}

func New(tempDir string) *Fetcher {
	return &Fetcher{Client: &http.Client{Timeout: 60 * time.Second}, TempDir: tempDir}
}

// Resolved is the result of [Fetcher.Resolve].
type Resolved struct {
	URL             string
	ResolvedVersion string
}

// Resolve implements §4.2's resolve operation for both source variants.
func (f *Fetcher) Resolve(ctx context.Context, src manifest.Source, staticVersion string) (*Resolved, error) {
	switch src.Type {
	case manifest.SourceDirect:
		version := staticVersion
		if src.VersionURL != "" {
			if v, err := f.probeVersion(ctx, src.VersionURL); err == nil && v != "" {
				version = v
			}
		}
		return &Resolved{URL: src.URL, ResolvedVersion: version}, nil
	case manifest.SourceReleaseIndex:
		return f.resolveReleaseIndex(ctx, src)
	default:
		return nil, fmt.Errorf("resolve: unknown source type %q", src.Type)
	}
}

func (f *Fetcher) probeVersion(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// releaseIndexDocument is the subset of a release-index JSON document
// Resolve needs: a list of releases, each with a tag and a list of assets.
type releaseIndexDocument struct {
	Releases []struct {
		Tag    string `json:"tag_name"`
		Assets []struct {
			Name string `json:"name"`
			URL  string `json:"browser_download_url"`
		} `json:"assets"`
	} `json:"releases"`
}

func (f *Fetcher) resolveReleaseIndex(ctx context.Context, src manifest.Source) (*Resolved, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.IndexURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: src.IndexURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, &NetworkError{URL: src.IndexURL, Status: resp.StatusCode}
	}

	var doc releaseIndexDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode release index: %w", err)
	}

	var versionPattern *regexp.Regexp
	if src.VersionRegex != "" {
		var err error
		versionPattern, err = regexp.Compile(src.VersionRegex)
		if err != nil {
			return nil, fmt.Errorf("release-index: bad version_regex: %w", err)
		}
	}

	for _, rel := range doc.Releases {
		for _, asset := range rel.Assets {
			if !assetMatches(asset.Name, src) {
				continue
			}
			version := rel.Tag
			if versionPattern != nil {
				if m := versionPattern.FindStringSubmatch(rel.Tag); len(m) > 1 {
					version = m[1]
				} else if m := versionPattern.FindString(rel.Tag); m != "" {
					version = m
				}
			}
			return &Resolved{URL: asset.URL, ResolvedVersion: version}, nil
		}
	}
	return nil, fmt.Errorf("release-index: no asset matched os=%s arch=%s", src.AssetOS, src.AssetArch)
}

func assetMatches(name string, src manifest.Source) bool {
	if src.AssetExtension != "" && filepath.Ext(name) != src.AssetExtension {
		return false
	}
	lower := strings.ToLower(name)
	if src.AssetOS != "" && !strings.Contains(lower, strings.ToLower(src.AssetOS)) {
		return false
	}
	if src.AssetArch != "" && !strings.Contains(lower, strings.ToLower(src.AssetArch)) {
		return false
	}
	if src.AssetPattern != "" && !strings.Contains(lower, strings.ToLower(src.AssetPattern)) {
		return false
	}
	return true
}

// isRetriable reports whether status is worth retrying: 5xx, 408, 429, or
// no status at all (a transport-level error).
func isRetriable(status int) bool {
	if status == 0 {
		return true
	}
	return status/100 == 5 || status == 408 || status == 429
}

// Download streams url to a temporary file inside f.TempDir, validating
// expectedSize if provided, then atomically renames it into place at dest.
// Transient network errors are retried with exponential backoff; 4xx
// errors other than 408/429 fail immediately.
func (f *Fetcher) Download(ctx context.Context, url, dest string, expectedSize int64) error {
	op := func() (string, error) {
		return f.downloadOnce(ctx, url, expectedSize)
	}
	tmp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(4),
	)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}

func (f *Fetcher) downloadOnce(ctx context.Context, url string, expectedSize int64) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", backoff.Permanent(err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return "", &NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		netErr := &NetworkError{URL: url, Status: resp.StatusCode}
		if !isRetriable(resp.StatusCode) {
			return "", backoff.Permanent(netErr)
		}
		return "", netErr
	}

	tmp, err := os.CreateTemp(f.TempDir, "voidbox-download-*")
	if err != nil {
		return "", backoff.Permanent(err)
	}
	defer tmp.Close()

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		os.Remove(tmp.Name())
		return "", &NetworkError{URL: url, Err: err}
	}
	if expectedSize > 0 && n != expectedSize {
		os.Remove(tmp.Name())
		return "", backoff.Permanent(&IntegrityError{What: url, Want: fmt.Sprint(expectedSize), Got: fmt.Sprint(n)})
	}
	return tmp.Name(), nil
}

// SHA256File returns the hex-encoded SHA-256 of path's contents.
func SHA256File(path string) (string, error) {
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
