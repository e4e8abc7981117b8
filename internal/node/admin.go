package node

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/oklog/ulid/v2"

	"github.com/yndnr/objmesh-go/internal/infra/buildinfo"
)

// Status is the body of GET /v1/status.
type Status struct {
	DeviceID    string         `json:"device_id"`
	Coordinator string         `json:"coordinator"`
	MeshAddr    string         `json:"mesh_addr,omitempty"`
	Peers       int            `json:"peers"`
	Bundles     []string       `json:"bundles"`
	Build       buildinfo.Info `json:"build"`
}

// Status reports the node's identity and what it is serving.
func (n *Node) Status() Status {
	return Status{
		DeviceID:    n.DeviceID(),
		Coordinator: n.cfg.Coordinator.Mode,
		MeshAddr:    n.MeshAddr(),
		Peers:       n.Peers(),
		Bundles:     n.Bundles(),
		Build:       buildinfo.Get(),
	}
}

// StartAdmin serves /metrics, /health and /v1/status on metrics.addr. It
// does nothing when the address is empty.
func (n *Node) StartAdmin() error {
	if n.cfg.Metrics.Addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", n.cfg.Metrics.Addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           n.adminHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	n.mu.Lock()
	n.admin, n.adminLn = srv, ln
	n.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.logger.Error("admin server error", "error", err)
		}
	}()
	n.logger.Info("admin server listening", "addr", ln.Addr().String())
	return nil
}

// AdminAddr returns the admin listen address, or "" when not serving.
func (n *Node) AdminAddr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.adminLn == nil {
		return ""
	}
	return n.adminLn.Addr().String()
}

func (n *Node) stopAdmin(ctx context.Context) error {
	n.mu.Lock()
	srv := n.admin
	n.admin, n.adminLn = nil, nil
	n.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (n *Node) adminHandler() http.Handler {
	metrics := n.metrics.Handler()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		n.writeJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("GET /v1/status", func(w http.ResponseWriter, r *http.Request) {
		n.writeJSON(w, http.StatusOK, n.Status())
	})
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		n.metrics.DevicesOnline.Set(float64(n.Peers()))
		metrics.ServeHTTP(w, r)
	})
	return n.accessLog(mux)
}

// accessLog tags each request with an id and logs it at debug level.
func (n *Node) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = ulid.Make().String()
		}
		w.Header().Set("X-Request-ID", requestID)

		start := time.Now()
		next.ServeHTTP(w, r)
		n.logger.Debug("admin request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

func (n *Node) writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		n.logger.Error("encode response", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}
