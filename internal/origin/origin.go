// Package origin implements the static-file origin server that sits behind the
// load balancer. Every response closes the connection.
package origin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"mime"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/mir00r/stickylb/pkg/logger"
)

// TracePath returns identification of the origin instead of a file
const TracePath = "/proxy-cgi/trace"

// Config holds the origin server configuration
type Config struct {
	Name         string
	Host         string
	Port         int
	DocumentRoot string
}

// Address returns the host:port the server listens on
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// TraceInfo identifies the origin that answered a request
type TraceInfo struct {
	ServerName string `json:"server_name"`
	Port       int    `json:"port"`
	Time       string `json:"time"`
	Host       string `json:"host"`
}

// Server serves files from a document root
type Server struct {
	config Config
	logger *logger.Logger
	now    func() time.Time
}

// NewServer creates an origin server
func NewServer(config Config, log *logger.Logger) *Server {
	if config.Name == "" {
		config.Name = "Backend-Server"
	}
	return &Server{
		config: config,
		logger: log.WithField("server_name", config.Name),
		now:    time.Now,
	}
}

// Router returns the HTTP routes of the origin
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.commonHeaders)
	router.HandleFunc(TracePath, s.TraceHandler)
	router.PathPrefix("/").HandlerFunc(s.FileHandler)
	return router
}

func (s *Server) commonHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.config.Name)
		w.Header().Set("Connection", "close")
		next.ServeHTTP(w, r)
	})
}

// TraceHandler reports which origin answered
func (s *Server) TraceHandler(w http.ResponseWriter, r *http.Request) {
	body, err := json.Marshal(TraceInfo{
		ServerName: s.config.Name,
		Port:       s.config.Port,
		Time:       s.now().Format("2006-01-02 15:04:05"),
		Host:       s.config.Host,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	w.Write(body)

	s.logger.WithField("path", r.URL.Path).Info("Trace info served")
}

// FileHandler serves the file named by the request path, "/" meaning index.html
func (s *Server) FileHandler(w http.ResponseWriter, r *http.Request) {
	name := path.Clean("/" + r.URL.Path)
	if name == "/" {
		name = "/index.html"
	}
	file := filepath.Join(s.config.DocumentRoot, filepath.FromSlash(name))

	f, err := os.Open(file)
	if err != nil {
		s.notFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		s.notFound(w, r)
		return
	}

	w.Header().Set("Content-Type", contentType(file))
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		if _, err := io.Copy(w, f); err != nil {
			s.logger.WithError(err).WithField("file", file).Warn("Failed to send file")
			return
		}
	}

	s.logger.WithField("file", file).Info("Served")
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	body := fmt.Sprintf("<!DOCTYPE HTML>\r\n<html>\r\n<head>\r\n<title>404 Not Found</title>\r\n</head>\r\n"+
		"<body>\r\n<h1>404 Not Found</h1>\r\n"+
		"<p>The requested URL %s was not found on this server (%s).</p>\r\n</body>\r\n</html>",
		html.EscapeString(r.URL.RequestURI()), html.EscapeString(s.config.Name))

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusNotFound)
	io.WriteString(w, body)

	s.logger.WithField("path", r.URL.Path).Info("404 Not Found")
}

func contentType(file string) string {
	if ct := mime.TypeByExtension(filepath.Ext(file)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// ListenAndServe serves until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Address(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.SetKeepAlivesEnabled(false)

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithFields(map[string]interface{}{
			"address":       srv.Addr,
			"document_root": s.config.DocumentRoot,
		}).Info("Origin server started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("Origin server is shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
