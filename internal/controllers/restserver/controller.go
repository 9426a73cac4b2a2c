package restserver

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sinkbot-iot/sinkbot/internal/log"
	"github.com/sinkbot-iot/sinkbot/internal/monitor"
	"github.com/sinkbot-iot/sinkbot/pkg/config"
	"go.uber.org/zap"
)

// Controller serves the ingestion and monitoring API
type Controller struct {
	ctx          context.Context
	wg           *sync.WaitGroup
	serverConfig config.ServerData
	Server       http.Server
	monitor      *monitor.Monitor
	adminToken   string
	logger       *zap.SugaredLogger
	handlers     *Handlers
}

// NewController creates a new REST server controller
func NewController(ctx context.Context, wg *sync.WaitGroup, sc config.ServerData, mon *monitor.Monitor, logger *zap.SugaredLogger) (*Controller, error) {
	ctrl := &Controller{
		ctx:          ctx,
		wg:           wg,
		serverConfig: sc,
		monitor:      mon,
		adminToken:   sc.AdminToken,
		logger:       logger,
	}

	if sc.ListenAddr == "" {
		logger.Info("server.listen_addr not provided; defaulting to 0.0.0.0 (all interfaces)")
		sc.ListenAddr = "0.0.0.0"
	}
	if sc.Port == 0 {
		return nil, fmt.Errorf("server.port must be set")
	}

	if ctrl.adminToken == "" {
		ctrl.adminToken = generateAdminToken()
		logger.Warnf("no admin token configured; generated admin token for this run: %s", ctrl.adminToken)
	}

	ctrl.handlers = NewHandlers(ctrl)

	ctrl.Server.Addr = fmt.Sprintf("%v:%v", sc.ListenAddr, sc.Port)
	ctrl.Server.Handler = ctrl.setupRouter()
	ctrl.Server.ReadHeaderTimeout = 10 * time.Second

	return ctrl, nil
}

// generateAdminToken returns a standard UUID string with hyphens.
func generateAdminToken() string {
	return uuid.New().String()
}

// StartController starts the REST server
func (c *Controller) StartController() error {
	c.logger.Infof("Starting REST server on %s", c.Server.Addr)
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		var err error
		if c.serverConfig.Cert != "" && c.serverConfig.Key != "" {
			err = c.Server.ListenAndServeTLS(c.serverConfig.Cert, c.serverConfig.Key)
		} else {
			err = c.Server.ListenAndServe()
		}
		if err != http.ErrServerClosed {
			c.logger.Errorf("REST server error: %v", err)
		}
	}()

	go func() {
		<-c.ctx.Done()
		c.logger.Info("Shutting down the REST server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.Server.Shutdown(shutdownCtx)
	}()

	return nil
}

// setupRouter configures the HTTP router with all endpoints
func (c *Controller) setupRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(log.HTTPMiddleware(c.logger))
	router.Use(c.corsMiddleware)

	router.HandleFunc("/health", c.handlers.Health).Methods("GET")
	router.HandleFunc("/data", c.handlers.ReceiveData).Methods("POST")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/devices", c.handlers.ListDevices).Methods("GET")
	api.HandleFunc("/devices/{id}/status", c.handlers.GetDeviceStatus).Methods("GET")
	api.HandleFunc("/devices/{id}/features", c.handlers.GetDeviceFeatures).Methods("GET")
	api.HandleFunc("/devices/{id}/thresholds", c.handlers.GetThresholds).Methods("GET")
	api.HandleFunc("/devices/{id}/thresholds", c.handlers.UpdateThresholds).Methods("PUT")
	api.HandleFunc("/model", c.handlers.GetModel).Methods("GET")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(c.authMiddleware)
	admin.HandleFunc("/reset", c.handlers.Reset).Methods("POST")

	return router
}

// corsMiddleware adds CORS headers
func (c *Controller) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware requires the admin bearer token
func (c *Controller) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(c.adminToken)) != 1 {
			c.logger.Warnf("rejected admin request to %s from %s", r.URL.Path, r.RemoteAddr)
			c.handlers.formatter.WriteError(w, r, http.StatusUnauthorized, "Authentication required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
