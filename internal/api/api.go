// Package api serves the fleet registry over JSON/HTTP.
package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/bbernstein/netboot-go/internal/netboot"
	"github.com/bbernstein/netboot-go/internal/services/fleet"
	"github.com/bbernstein/netboot-go/internal/services/network"
	"github.com/bbernstein/netboot-go/internal/services/outlet"
	"github.com/bbernstein/netboot-go/internal/services/pubsub"
)

// AdminTokenHeader carries the admin token for privileged power commands.
const AdminTokenHeader = netboot.AdminTokenHeader

var (
	errForbidden    = errors.New("admin token required")
	errOutletFailed = errors.New("outlet did not respond")
)

// Options configures the API.
type Options struct {
	// AdminToken, when set, must accompany requests that claim admin rights.
	AdminToken string
	Version    string
}

// Server holds the HTTP handlers.
type Server struct {
	fleet    *fleet.Service
	bus      *pubsub.PubSub
	opts     Options
	started  time.Time
	upgrader websocket.Upgrader
}

// NewServer creates the API server.
func NewServer(f *fleet.Service, bus *pubsub.PubSub, opts Options) *Server {
	return &Server{
		fleet:   f,
		bus:     bus,
		opts:    opts,
		started: time.Now(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for WebSocket
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Routes mounts every endpoint on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.health)

	r.Group(func(r chi.Router) {
		r.Use(noCache)

		r.Get("/cabinets", s.listCabinets)
		r.Get("/cabinets/stream", s.streamCabinets)

		r.Route("/cabinets/{ip}", func(r chi.Router) {
			r.Use(validIP)
			r.Get("/", s.cabinetStatus)
			r.Put("/", s.createCabinet)
			r.Post("/", s.updateCabinet)
			r.Delete("/", s.removeCabinet)
			r.Post("/filename", s.selectGame)
			r.Post("/status", s.reportStatus)
			r.Get("/info", s.cabinetInfo)
			r.Get("/games", s.cabinetGames)
			r.Post("/games", s.updateCabinetGames)
			r.Get("/power", s.powerState)
			r.Post("/power/{state}", s.setPower)
			r.Post("/outlet", s.setOutlet)
		})

		r.Get("/roms", s.listRoms)
		r.Post("/roms/*", s.renameRom)
		r.Get("/patches", s.listPatches)
		r.Delete("/patches", s.recalculate("patches"))
		r.Get("/patches/*", s.applicablePatches)
		r.Delete("/patches/*", s.recalculateThen(s.applicablePatches))
		r.Get("/srams", s.listSRAMs)
		r.Delete("/srams", s.recalculate("srams"))
		r.Get("/srams/*", s.applicableSRAMs)
		r.Delete("/srams/*", s.recalculateThen(s.applicableSRAMs))
		r.Get("/settings", s.listSettings)
		r.Get("/settings/*", s.applicableSettings)
		r.Get("/meta", s.meta)
	})
}

// Handler returns a router with every endpoint mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	s.Routes(r)
	return r
}

func validIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !netboot.ValidateIP(chi.URLParam(r, "ip")) {
			writeError(w, netboot.ValidationErrors{"ip": "invalid IP address"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authorizeAdmin checks an admin claim. Without a configured token the
// claim is trusted as sent.
func (s *Server) authorizeAdmin(r *http.Request, claimed bool) error {
	if !claimed || s.opts.AdminToken == "" {
		return nil
	}
	got := r.Header.Get(AdminTokenHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.AdminToken)) != 1 {
		return errForbidden
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   s.opts.Version,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// meta lists the values operators pick from when editing a cabinet.
func (s *Server) meta(w http.ResponseWriter, r *http.Request) {
	timeouts := make(map[netboot.Target]int, len(netboot.Targets))
	for _, t := range netboot.Targets {
		timeouts[t] = t.DefaultSendTimeout()
	}
	subnets, err := network.LocalSubnets()
	if err != nil {
		log.Printf("⚠️  %v", err)
	}
	if subnets == nil {
		subnets = []network.Subnet{}
	}
	writeOK(w, map[string]interface{}{
		"regions":       netboot.Regions,
		"targets":       netboot.Targets,
		"versions":      netboot.Versions,
		"send_timeouts": timeouts,
		"outlet_types":  []outlet.Type{outlet.TypeNone, outlet.TypeAP7900, outlet.TypeSNMP, outlet.TypeNP02B},
		"networks":      subnets,
	})
}

// fileParam returns the catalog file named by the wildcard. Catalog files
// may be stored with or without a leading slash.
func (s *Server) fileParam(r *http.Request) string {
	file := chi.URLParam(r, "*")
	if _, ok := s.fleet.Catalog().Game(file); ok {
		return file
	}
	if !strings.HasPrefix(file, "/") {
		if _, ok := s.fleet.Catalog().Game("/" + file); ok {
			return "/" + file
		}
	}
	return file
}

func (s *Server) recalculate(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.fleet.Recalculate(r.Context()); err != nil {
			writeError(w, fmt.Errorf("failed to recalculate %s: %w", kind, err))
			return
		}
		writeOK(w, struct{}{})
	}
}

func (s *Server) recalculateThen(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.fleet.Recalculate(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		next(w, r)
	}
}
