package main

import (
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-singcapture/internal/config"
	"github.com/oszuidwest/zwfm-singcapture/internal/metrics"
	"github.com/oszuidwest/zwfm-singcapture/internal/notify"
	"github.com/oszuidwest/zwfm-singcapture/internal/server"
	"github.com/oszuidwest/zwfm-singcapture/internal/util"
)

// WebSocket push intervals.
const (
	levelsInterval = 100 * time.Millisecond // 10 fps for the input meter
	statusInterval = 1 * time.Second        // matches the recording timer
)

// Server is an HTTP server that provides the web interface for the capture service.
type Server struct {
	config   *config.Config
	service  *CaptureService
	sessions *server.SessionManager
	commands *server.CommandHandler
	metrics  *metrics.Metrics
	version  *VersionChecker
}

// NewServer returns a new Server configured with the provided config and capture service.
func NewServer(cfg *config.Config, svc *CaptureService, m *metrics.Metrics) *Server {
	commands := server.NewCommandHandler(
		cfg,
		svc,
		map[string]func() error{
			"webhook": func() error { return notify.SendTestWebhook(cfg.WebhookURL()) },
			"log":     func() error { return notify.WriteTestLog(cfg.LogPath()) },
			"email": func() error {
				snap := cfg.Snapshot()
				return notify.SendTestEmail(notify.EmailConfigFromSnapshot(&snap))
			},
		},
	)

	return &Server{
		config:   cfg,
		service:  svc,
		sessions: server.NewSessionManager(),
		commands: commands,
		metrics:  m,
		version:  NewVersionChecker(),
	}
}

// handleWebSocket streams capture status, input levels, and take results to the client.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}
	defer util.SafeCloseFunc(conn, "WebSocket connection")()

	listener := s.service.Hub().Subscribe()
	defer s.service.Hub().Unsubscribe(listener)

	// Channel to signal status update needed
	statusUpdate := make(chan bool, 1)
	done := make(chan bool)

	// Goroutine to read and process commands from client
	go func() {
		for {
			var cmd server.WSCommand
			if err := conn.ReadJSON(&cmd); err != nil {
				close(done)
				return
			}
			s.commands.Handle(cmd, listener.Send, func() {
				select {
				case statusUpdate <- true:
				default:
				}
			})
		}
	}()

	levelsTicker := time.NewTicker(levelsInterval)
	statusTicker := time.NewTicker(statusInterval)
	defer levelsTicker.Stop()
	defer statusTicker.Stop()

	devices := s.service.Devices()
	sendStatus := func() error {
		snap := s.config.Snapshot()
		return conn.WriteJSON(map[string]any{
			"type":    "status",
			"capture": s.service.Status(),
			"devices": devices,
			"formats": s.service.Formats(),
			"settings": map[string]any{
				"capture_device":   snap.CaptureDevice,
				"allowed_formats":  snap.Formats,
				"analysis_url":     snap.AnalysisURL,
				"webhook_url":      snap.WebhookURL,
				"log_path":         snap.LogPath,
				"email_smtp_host":  snap.EmailSMTPHost,
				"email_smtp_port":  snap.EmailSMTPPort,
				"email_from_name":  snap.EmailFromName,
				"email_username":   snap.EmailUsername,
				"email_recipients": snap.EmailRecipients,
				"platform":         runtime.GOOS,
			},
			"version": s.version.GetInfo(),
		})
	}

	// Send initial status
	if err := sendStatus(); err != nil {
		return
	}

	for {
		select {
		case <-done:
			return
		case <-statusUpdate:
			devices = s.service.Devices()
			if err := sendStatus(); err != nil {
				return
			}
		case msg := <-listener.C:
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-levelsTicker.C:
			if err := conn.WriteJSON(map[string]any{
				"type":   "levels",
				"levels": s.service.Levels(),
			}); err != nil {
				return
			}
		case <-statusTicker.C:
			if err := sendStatus(); err != nil {
				return
			}
		}
	}
}

// handleLatestRecording serves the most recent artifact. Nothing is written
// to disk; the artifact is replaced by the next take.
func (s *Server) handleLatestRecording(w http.ResponseWriter, r *http.Request) {
	a, sessionID := s.service.Latest()
	if a == nil {
		http.NotFound(w, r)
		return
	}

	contentType := string(a.Label)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "recording_"+sessionID+"."+a.Label.Extension()))
	if _, err := w.Write(a.Data); err != nil {
		slog.Error("failed to write recording", "session_id", sessionID, "error", err)
	}
}

var loginTemplate = template.Must(template.New("login").Parse(loginHTML))

// handleLogin serves the login form and processes submitted credentials.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	data := struct {
		CSRF    string
		Error   string
		Version string
	}{Version: Version}

	if r.Method == http.MethodPost {
		err := s.login(w, r)
		if err == nil {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		slog.Warn("login failed", "remote", r.RemoteAddr, "error", err)
		data.Error = err.Error()
	}

	data.CSRF = s.sessions.CreateCSRFToken()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := loginTemplate.Execute(w, data); err != nil {
		slog.Error("failed to render login page", "error", err)
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return errors.New("invalid form")
	}
	if !s.sessions.ValidateCSRFToken(r.PostFormValue("csrf")) {
		return errors.New("form expired, please try again")
	}
	if !s.sessions.Login(w, r, r.PostFormValue("username"), r.PostFormValue("password"),
		s.config.WebUser(), s.config.WebPassword()) {
		return errors.New("invalid username or password")
	}
	return nil
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Logout(w, r)
	http.Redirect(w, r, "/login", http.StatusFound)
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()
	auth := s.sessions.AuthMiddleware()

	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/logout", s.handleLogout)
	mux.HandleFunc("/style.css", s.handleStatic)
	mux.Handle("/metrics", s.metrics.Handler())

	// WebSocket for all real-time communication
	mux.HandleFunc("/ws", auth(s.handleWebSocket))
	mux.HandleFunc("/recording/latest", auth(s.handleLatestRecording))

	mux.HandleFunc("/", auth(s.handleStatic))

	return mux
}

// staticFile represents an embedded static file with its content type and content.
type staticFile struct {
	contentType string
	content     string
	name        string
}

// staticFiles maps URL paths to their corresponding static file definitions.
var staticFiles = map[string]staticFile{
	"/style.css": {
		contentType: "text/css",
		content:     styleCSS,
		name:        "style.css",
	},
	"/app.js": {
		contentType: "application/javascript",
		content:     appJS,
		name:        "app.js",
	},
}

// handleStatic serves the embedded static web interface files.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/" {
		path = "/index.html"
	}

	// Handle index.html specially (requires template replacement)
	if path == "/index.html" {
		w.Header().Set("Content-Type", "text/html")
		html := strings.Replace(indexHTML, "{{VERSION}}", Version, 1)
		html = strings.ReplaceAll(html, "{{YEAR}}", strconv.Itoa(time.Now().Year()))
		if _, err := w.Write([]byte(html)); err != nil {
			slog.Error("failed to write index.html", "error", err)
		}
		return
	}

	// Handle other static files via table lookup
	if file, ok := staticFiles[path]; ok {
		w.Header().Set("Content-Type", file.contentType)
		if _, err := w.Write([]byte(file.content)); err != nil {
			slog.Error("failed to write static file", "file", file.name, "error", err)
		}
		return
	}

	// File not found
	http.NotFound(w, r)
}

// Start begins listening and serving HTTP requests on the configured port.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.config.WebPort())
	slog.Info("starting web server", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}
