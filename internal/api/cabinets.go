package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bbernstein/netboot-go/internal/netboot"
	"github.com/bbernstein/netboot-go/internal/services/outlet"
)

func (s *Server) listCabinets(w http.ResponseWriter, r *http.Request) {
	cabinets, err := s.fleet.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{"cabinets": cabinets})
}

func (s *Server) cabinetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.fleet.Status(r.Context(), chi.URLParam(r, "ip"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, st)
}

func (s *Server) createCabinet(w http.ResponseWriter, r *http.Request) {
	var nc netboot.NewCabinet
	if err := decode(r, &nc); err != nil {
		writeError(w, err)
		return
	}
	nc.IP = chi.URLParam(r, "ip")

	cab, err := s.fleet.Create(r.Context(), nc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, cab)
}

func (s *Server) updateCabinet(w http.ResponseWriter, r *http.Request) {
	var u netboot.CabinetUpdate
	if err := decode(r, &u); err != nil {
		writeError(w, err)
		return
	}

	cab, err := s.fleet.Update(r.Context(), chi.URLParam(r, "ip"), u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, cab)
}

func (s *Server) removeCabinet(w http.ResponseWriter, r *http.Request) {
	if err := s.fleet.Remove(r.Context(), chi.URLParam(r, "ip")); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, struct{}{})
}

type filenameRequest struct {
	Filename *string `json:"filename"`
}

func (s *Server) selectGame(w http.ResponseWriter, r *http.Request) {
	var req filenameRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	filename := ""
	if req.Filename != nil {
		filename = *req.Filename
	}

	cab, err := s.fleet.SelectGame(r.Context(), chi.URLParam(r, "ip"), filename)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, cab)
}

type statusRequest struct {
	Status   netboot.Status `json:"status"`
	Progress int            `json:"progress"`
}

func (s *Server) reportStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	st, err := s.fleet.ReportStatus(r.Context(), chi.URLParam(r, "ip"), req.Status, req.Progress)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, st)
}

// cabinetInfo answers {} when the device cannot be probed.
func (s *Server) cabinetInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.fleet.Info(r.Context(), chi.URLParam(r, "ip"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !info.Available {
		writeOK(w, struct{}{})
		return
	}
	writeOK(w, info)
}

func (s *Server) cabinetGames(w http.ResponseWriter, r *http.Request) {
	games, err := s.fleet.Games(r.Context(), chi.URLParam(r, "ip"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{"games": games})
}

type gamesRequest struct {
	Games []netboot.Game `json:"games"`
}

func (s *Server) updateCabinetGames(w http.ResponseWriter, r *http.Request) {
	var req gamesRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	games, err := s.fleet.UpdateGames(r.Context(), chi.URLParam(r, "ip"), req.Games)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{"games": games})
}

type powerResponse struct {
	PowerState outlet.PowerState `json:"power_state"`
}

func (s *Server) powerState(w http.ResponseWriter, r *http.Request) {
	state, err := s.fleet.Power(r.Context(), chi.URLParam(r, "ip"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, powerResponse{PowerState: state})
}

type powerRequest struct {
	Admin bool `json:"admin"`
}

func (s *Server) setPower(w http.ResponseWriter, r *http.Request) {
	var on bool
	switch chi.URLParam(r, "state") {
	case "on":
		on = true
	case "off":
		on = false
	default:
		writeError(w, netboot.ValidationErrors{"state": "power state must be on or off"})
		return
	}

	var req powerRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	if err := s.authorizeAdmin(r, req.Admin); err != nil {
		writeError(w, err)
		return
	}

	state, err := s.fleet.SetPower(r.Context(), chi.URLParam(r, "ip"), on, req.Admin)
	if err != nil {
		if state == outlet.PowerUnknown {
			err = &outletError{err: err}
		}
		writeError(w, err)
		return
	}
	writeOK(w, powerResponse{PowerState: state})
}

// outletError marks a hardware failure so it maps to unavailable.
type outletError struct {
	err error
}

func (e *outletError) Error() string { return e.err.Error() }

func (e *outletError) Is(target error) bool { return target == errOutletFailed }

func (e *outletError) Unwrap() error { return e.err }

func (s *Server) setOutlet(w http.ResponseWriter, r *http.Request) {
	var u netboot.OutletUpdate
	if err := decode(r, &u); err != nil {
		writeError(w, err)
		return
	}

	state, err := s.fleet.SetOutlet(r.Context(), chi.URLParam(r, "ip"), u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, state)
}
