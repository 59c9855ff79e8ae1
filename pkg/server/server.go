// Package server provides the Echo web server for browsing processed clips.
package server

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nzoschke/loopprep/pkg/audio"
	"github.com/nzoschke/loopprep/pkg/pipeline"
	"github.com/nzoschke/loopprep/pkg/store"
)

// WaveformResolution is the number of waveform points per second of audio.
const WaveformResolution = 100

// Clip represents a processed clip in the output directory.
type Clip struct {
	Name     string        `json:"name"`
	Path     string        `json:"path"`
	HasJSON  bool          `json:"has_json"`
	JSONPath string        `json:"json_path,omitempty"`
	Record   *store.Record `json:"record,omitempty"`
}

// Server serves clips, reports and ledger rows from one output directory.
type Server struct {
	dir   string
	store *store.Store
	echo  *echo.Echo
}

// New creates a server for dir. st may be nil when there is no ledger.
func New(dir string, st *store.Store) *Server {
	s := &Server{dir: dir, store: st}

	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Routes
	e.GET("/api/clips", s.listClips)
	e.GET("/api/clips/*", s.serveClip)
	e.GET("/api/summary", s.summary)
	e.GET("/api/records", s.records)

	s.echo = e
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on addr.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Close stops the listener.
func (s *Server) Close() error {
	return s.echo.Close()
}

// listClips returns every processed clip with its ledger record.
func (s *Server) listClips(c echo.Context) error {
	records := map[string]*store.Record{}
	if s.store != nil {
		recs, err := s.store.List("")
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		for i := range recs {
			if recs[i].Output != "" {
				records[filepath.Base(recs[i].Output)] = &recs[i]
			}
		}
	}

	clips := []Clip{}
	root := filepath.Join(s.dir, pipeline.ProcessedDir)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		if !audio.IsSupported(filepath.Ext(path)) {
			return nil
		}

		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			return err
		}
		jsonPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".json"

		clip := Clip{
			Name:   strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Path:   filepath.ToSlash(rel),
			Record: records[filepath.Base(path)],
		}

		// Check if JSON sidecar exists
		if _, err := os.Stat(jsonPath); err == nil {
			clip.HasJSON = true
			clip.JSONPath = strings.TrimSuffix(clip.Path, filepath.Ext(clip.Path)) + ".json"
		}

		clips = append(clips, clip)
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, clips)
}

// serveClip serves an audio file, its JSON record, or its waveform when the path ends in /waveform.
func (s *Server) serveClip(c echo.Context) error {
	decodedPath, err := url.PathUnescape(c.Param("*"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid path encoding")
	}

	waveform := false
	if p, ok := strings.CutSuffix(decodedPath, "/waveform"); ok {
		decodedPath, waveform = p, true
	}

	// Security: prevent directory traversal
	if strings.Contains(decodedPath, "..") {
		return echo.NewHTTPError(http.StatusForbidden, "invalid path")
	}
	fullPath := filepath.Join(s.dir, decodedPath)

	info, err := os.Stat(fullPath)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "file not found")
	}
	if info.IsDir() {
		return echo.NewHTTPError(http.StatusForbidden, "cannot serve directory")
	}

	ext := strings.ToLower(filepath.Ext(decodedPath))
	switch {
	case waveform && audio.IsSupported(ext):
		b, err := audio.Load(fullPath)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		w, err := audio.GenerateWaveform(b, WaveformResolution)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return c.JSON(http.StatusOK, w)
	case waveform:
		return echo.NewHTTPError(http.StatusForbidden, "waveform needs an audio file")
	case audio.IsSupported(ext):
		return c.File(fullPath)
	case ext == ".json":
		return serveJSON(c, fullPath)
	}
	return echo.NewHTTPError(http.StatusForbidden, "file type not allowed")
}

// summary returns the last run's summary report.
func (s *Server) summary(c echo.Context) error {
	path := filepath.Join(s.dir, pipeline.SummaryFile)
	if _, err := os.Stat(path); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "no summary")
	}
	return serveJSON(c, path)
}

// records returns ledger rows, filtered by the status query parameter if set.
func (s *Server) records(c echo.Context) error {
	if s.store == nil {
		return c.JSON(http.StatusOK, []store.Record{})
	}

	recs, err := s.store.List(c.QueryParam("status"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, recs)
}

// serveJSON validates and returns a JSON file.
func serveJSON(c echo.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !json.Valid(data) {
		return echo.NewHTTPError(http.StatusInternalServerError, "invalid JSON")
	}
	return c.JSONBlob(http.StatusOK, data)
}
