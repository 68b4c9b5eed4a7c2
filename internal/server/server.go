// Package server serves the Lawsker site, the demo API and the demo websocket.
package server

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lawsker/lawsker/internal/cache"
	"github.com/lawsker/lawsker/internal/clock"
	"github.com/lawsker/lawsker/internal/config"
	"github.com/lawsker/lawsker/internal/output"
	"github.com/lawsker/lawsker/internal/sequencer"
	"github.com/lawsker/lawsker/internal/store"
)

// Options configures a Server.
type Options struct {
	Config    *config.Config
	Site      fs.FS  // site files; page and asset names are relative to its root
	SiteDir   string // on-disk directory behind Site, empty for the embedded site
	Sequencer *sequencer.Sequencer
	Counter   store.Counter    // optional, read by GET /api/demo/runs
	Outputs   *output.Registry // optional, receives completion notices
	Clock     clock.Clock      // command rate limiting; defaults to wall time
	Logger    *zap.Logger
}

// Server is the Lawsker HTTP server.
type Server struct {
	config   *config.Config
	site     fs.FS
	siteDir  string
	seq      *sequencer.Sequencer
	counter  store.Counter
	outputs  *output.Registry
	pages    *cache.MemoryCache
	commands *commandLimiter
	logger   *zap.Logger

	routes    map[string]string
	redirects map[string]config.RedirectConfig
	blocked   map[string]bool
	home      string

	connections map[*wsConn]bool // Track connected WebSocket clients
	connMu      sync.RWMutex     // Separate mutex for connections
	watcher     *Watcher         // File watcher for live reload
}

// New creates a server. Config defaults to config.DefaultConfig().
func New(opts Options) *Server {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:      cfg,
		site:        opts.Site,
		siteDir:     opts.SiteDir,
		seq:         opts.Sequencer,
		counter:     opts.Counter,
		outputs:     opts.Outputs,
		pages:       cache.NewMemoryCache(),
		commands:    newCommandLimiter(cfg.API, opts.Clock, logger.Named("limiter")),
		logger:      logger.Named("server"),
		routes:      make(map[string]string),
		redirects:   make(map[string]config.RedirectConfig),
		blocked:     make(map[string]bool),
		home:        cfg.Site.Home,
		connections: make(map[*wsConn]bool),
	}

	routes := cfg.Routes
	if len(routes) == 0 {
		routes = config.DefaultRoutes()
	}
	for _, r := range routes {
		s.routes[r.Path] = r.File
	}
	for _, r := range cfg.Redirects {
		s.redirects[r.From] = r
	}
	for _, p := range cfg.Blocked {
		s.blocked[p] = true
	}
	if s.home == "" {
		s.home = "index.html"
	}

	return s
}

// Entry is one row of the route table.
type Entry struct {
	Path   string `json:"path"`
	Kind   string `json:"kind"` // "page", "redirect" or "blocked"
	Target string `json:"target,omitempty"`
	Status int    `json:"status"`
}

// Table returns the route table described by cfg, sorted by path.
func Table(cfg *config.Config) []Entry {
	routes := cfg.Routes
	if len(routes) == 0 {
		routes = config.DefaultRoutes()
	}

	var entries []Entry
	for _, r := range routes {
		entries = append(entries, Entry{Path: r.Path, Kind: "page", Target: r.File, Status: http.StatusOK})
	}
	for _, r := range cfg.Redirects {
		entries = append(entries, Entry{Path: r.From, Kind: "redirect", Target: r.To, Status: r.GetStatus()})
	}
	for _, p := range cfg.Blocked {
		entries = append(entries, Entry{Path: p, Kind: "blocked", Status: http.StatusNotFound})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries
}

// ServeHTTP serves the static site: routed pages, redirects, blocked paths,
// direct asset requests and the home page as the 404 body.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	p := r.URL.Path

	if s.blocked[p] {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("Not Found"))
		return
	}

	if rd, ok := s.redirects[p]; ok {
		http.Redirect(w, r, rd.To, rd.GetStatus())
		return
	}

	if file, ok := s.routes[p]; ok {
		if s.serveFile(w, file, http.StatusOK) {
			return
		}
		s.logger.Warn("routed page missing", zap.String("path", p), zap.String("file", file))
	} else if name, ok := assetName(p); ok && !s.blocked["/"+name] {
		if s.serveFile(w, name, http.StatusOK) {
			return
		}
	}

	if !s.serveFile(w, s.home, http.StatusNotFound) {
		http.NotFound(w, r)
	}
}

// assetName maps a request path to a file name inside the site root. Only
// files with a known content type are served and dot-files are never exposed.
func assetName(urlPath string) (string, bool) {
	name := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if name == "" || !fs.ValidPath(name) {
		return "", false
	}
	for _, seg := range strings.Split(name, "/") {
		if strings.HasPrefix(seg, ".") {
			return "", false
		}
	}
	if _, ok := contentTypes[strings.ToLower(path.Ext(name))]; !ok {
		return "", false
	}
	return name, true
}

var contentTypes = map[string]string{
	".html":  "text/html; charset=utf-8",
	".css":   "text/css; charset=utf-8",
	".js":    "application/javascript; charset=utf-8",
	".json":  "application/json",
	".txt":   "text/plain; charset=utf-8",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".svg":   "image/svg+xml",
	".ico":   "image/x-icon",
	".webp":  "image/webp",
	".woff":  "font/woff",
	".woff2": "font/woff2",
}

// cacheControl returns the Cache-Control value for a file extension.
func cacheControl(ext string) string {
	switch ext {
	case ".html":
		return "no-cache"
	case ".css", ".js":
		return "public, max-age=3600"
	}
	return ""
}

// serveFile writes the named site file with the given status. It reports
// false, having written nothing, when the file does not exist.
func (s *Server) serveFile(w http.ResponseWriter, name string, status int) bool {
	page, err := s.loadPage(name)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Error("read site file", zap.String("file", name), zap.Error(err))
		}
		return false
	}

	h := w.Header()
	h.Set("Content-Type", page.ContentType)
	if cc := cacheControl(strings.ToLower(path.Ext(name))); cc != "" {
		h.Set("Cache-Control", cc)
	}
	if !page.ModTime.IsZero() {
		h.Set("Last-Modified", page.ModTime.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(status)
	_, _ = w.Write(page.Body)
	return true
}

// loadPage reads a site file through the page cache.
func (s *Server) loadPage(name string) (cache.Page, error) {
	if s.site == nil {
		return cache.Page{}, fs.ErrNotExist
	}
	if page, ok := s.pages.Get(name); ok {
		return page, nil
	}

	body, err := fs.ReadFile(s.site, name)
	if err != nil {
		return cache.Page{}, err
	}
	page := cache.Page{
		Body:        body,
		ContentType: contentTypes[strings.ToLower(path.Ext(name))],
	}
	if page.ContentType == "" {
		page.ContentType = http.DetectContentType(body)
	}
	if info, err := fs.Stat(s.site, name); err == nil {
		page.ModTime = info.ModTime()
	}

	s.pages.Set(name, page, s.config.Site.GetCacheTTL())
	return page, nil
}

// CacheStats reports page cache usage.
func (s *Server) CacheStats() cache.Stats {
	return s.pages.Stats()
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// registerConnection adds a WebSocket connection to the tracked connections.
func (s *Server) registerConnection(c *wsConn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.connections[c] = true
	s.logger.Debug("websocket connection registered", zap.Int("active", len(s.connections)))
}

// unregisterConnection removes a WebSocket connection from tracked connections.
func (s *Server) unregisterConnection(c *wsConn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	delete(s.connections, c)
	s.logger.Debug("websocket connection unregistered", zap.Int("active", len(s.connections)))
}

// ConnectionCount returns the number of open demo websockets.
func (s *Server) ConnectionCount() int {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return len(s.connections)
}

// BroadcastReload tells every connected client to reload the page.
func (s *Server) BroadcastReload(filePath string) {
	s.connMu.RLock()
	defer s.connMu.RUnlock()

	if len(s.connections) == 0 {
		return
	}

	s.logger.Info("broadcasting reload", zap.String("file", filePath), zap.Int("connections", len(s.connections)))

	msg := wsMessage{Type: "reload", File: filePath}
	for c := range s.connections {
		if err := c.writeJSON(msg); err != nil {
			s.logger.Debug("send reload failed", zap.Error(err))
		}
	}
}

// EnableWatch watches the on-disk site directory and reloads clients when
// a page, stylesheet or script changes. It fails for the embedded site.
func (s *Server) EnableWatch() error {
	if s.siteDir == "" {
		return errors.New("watch requires a site directory")
	}

	watcher, err := NewWatcher(s.siteDir, func(file string) error {
		s.pages.Invalidate(file)
		s.BroadcastReload(file)
		return nil
	}, s.logger)
	if err != nil {
		return err
	}

	s.watcher = watcher
	s.watcher.Start()
	s.logger.Info("file watcher started", zap.String("dir", s.siteDir))
	return nil
}

// Close stops the watcher, closes websockets and the page cache.
func (s *Server) Close() error {
	var err error
	if s.watcher != nil {
		err = s.watcher.Stop()
		s.watcher = nil
	}

	s.connMu.RLock()
	conns := make([]*wsConn, 0, len(s.connections))
	for c := range s.connections {
		conns = append(conns, c)
	}
	s.connMu.RUnlock()
	for _, c := range conns {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}

	s.pages.Stop()
	return err
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// shutdownGrace bounds how long Close waits for websocket writers.
const shutdownGrace = 2 * time.Second
