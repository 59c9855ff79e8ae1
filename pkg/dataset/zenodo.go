// Package dataset downloads loop datasets published as Zenodo records.
package dataset

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/schollz/logger"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// DefaultRecord is the Freesound Loop Dataset record.
const DefaultRecord = "3967852"

// DefaultBaseURL is the Zenodo records API.
const DefaultBaseURL = "https://zenodo.org/api/records"

// File is one file attached to a record.
type File struct {
	Key   string `json:"key"`
	Size  int64  `json:"size"`
	Links struct {
		Self string `json:"self"`
	} `json:"links"`
}

// Record is the part of a Zenodo record the client reads.
type Record struct {
	ID    json.Number `json:"id"`
	Files []File      `json:"files"`
}

// Client fetches Zenodo records.
type Client struct {
	BaseURL string
	// KeepArchives leaves zip files in place after extraction.
	KeepArchives bool
	// Output receives download progress bars.
	Output io.Writer

	client *http.Client
}

// NewClient creates a client for the public Zenodo API.
func NewClient() *Client {
	return &Client{
		BaseURL: DefaultBaseURL,
		Output:  os.Stdout,
		client:  &http.Client{},
	}
}

// Record fetches a record's file listing.
func (c *Client) Record(ctx context.Context, id string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("record request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("record %s: status %d: %s", id, resp.StatusCode, string(body))
	}

	var rec Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &rec, nil
}

// Fetch downloads every file of a record into dir and extracts zip archives
// into dir/<archive name without .zip>. It returns the downloaded or extracted paths.
func (c *Client) Fetch(ctx context.Context, id, dir string) ([]string, error) {
	rec, err := c.Record(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	var paths []string
	for _, f := range rec.Files {
		name := filepath.Base(f.Key)
		if name == "." || name == string(filepath.Separator) {
			log.Warnf("skipping file with invalid key %q", f.Key)
			continue
		}
		path := filepath.Join(dir, name)

		log.Infof("downloading %s", name)
		if err := c.download(ctx, f.Links.Self, path, name); err != nil {
			return paths, err
		}

		if !strings.EqualFold(filepath.Ext(name), ".zip") {
			paths = append(paths, path)
			continue
		}

		dest := filepath.Join(dir, strings.TrimSuffix(name, filepath.Ext(name)))
		n, err := Extract(path, dest)
		if err != nil {
			return paths, err
		}
		log.Infof("extracted %d files from %s to %s", n, name, dest)
		paths = append(paths, dest)

		if !c.KeepArchives {
			if err := os.Remove(path); err != nil {
				return paths, fmt.Errorf("remove %s: %w", path, err)
			}
		} else {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// download streams url into path. A partial download never occupies path.
func (c *Client) download(ctx context.Context, url, path, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: status %d", name, resp.StatusCode)
	}

	tmp := path + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	progress := mpb.New(mpb.WithOutput(c.Output), mpb.WithWidth(64))
	bar := progress.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(name+" "),
			decor.CountersKibiByte("% .1f / % .1f"),
		),
		mpb.AppendDecorators(
			decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 30),
		),
	)

	body := bar.ProxyReader(resp.Body)
	_, err = io.Copy(out, body)
	body.Close()
	if err == nil {
		bar.SetTotal(-1, true)
	} else {
		bar.Abort(false)
	}
	progress.Wait()

	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("download %s: %w", name, err)
	}
	return os.Rename(tmp, path)
}

// Extract unpacks a zip archive into dest and returns the number of files written.
// Entries that would land outside dest are rejected.
func Extract(archive, dest string) (int, error) {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", archive, err)
	}
	defer r.Close()

	root, err := filepath.Abs(dest)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", root, err)
	}

	n := 0
	for _, f := range r.File {
		target := filepath.Join(root, f.Name)
		if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
			return n, fmt.Errorf("illegal path in %s: %s", filepath.Base(archive), f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return n, fmt.Errorf("create %s: %w", target, err)
			}
			continue
		}

		if err := extractFile(f, target); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(target), err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return out.Close()
}
