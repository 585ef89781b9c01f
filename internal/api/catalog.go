package api

import (
	"net/http"

	"github.com/bbernstein/netboot-go/internal/netboot"
)

func (s *Server) listRoms(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]interface{}{"roms": s.fleet.Catalog().Roms()})
}

func (s *Server) renameRom(w http.ResponseWriter, r *http.Request) {
	var names map[netboot.Region]string
	if err := decode(r, &names); err != nil {
		writeError(w, err)
		return
	}

	updated, err := s.fleet.RenameRom(r.Context(), s.fileParam(r), names)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, updated)
}

func (s *Server) listPatches(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]interface{}{"patches": s.fleet.Catalog().Patches()})
}

func (s *Server) applicablePatches(w http.ResponseWriter, r *http.Request) {
	patches, err := s.fleet.Catalog().PatchesFor(s.fileParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{"patches": patches})
}

func (s *Server) listSRAMs(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]interface{}{"srams": s.fleet.Catalog().SRAMs()})
}

func (s *Server) applicableSRAMs(w http.ResponseWriter, r *http.Request) {
	srams, err := s.fleet.Catalog().SRAMsFor(s.fileParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{"srams": srams})
}

func (s *Server) listSettings(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]interface{}{"settings": s.fleet.Catalog().SettingsFiles()})
}

func (s *Server) applicableSettings(w http.ResponseWriter, r *http.Request) {
	defs, err := s.fleet.Catalog().SettingsFor(s.fileParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{"settings": defs})
}
