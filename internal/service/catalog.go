package service

import "net/http"

// handleListLanguages serves the union of every registered backend's
// languages as a bare JSON array.
func (s *Server) handleListLanguages(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.Languages())
}

func (s *Server) handleListBackends(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.List())
}
