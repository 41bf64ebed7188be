package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/braid-game/braid/service"
	"github.com/braid-game/braid/service/i"
	"github.com/google/uuid"
	"github.com/matryer/way"
	"github.com/sirupsen/logrus"
)

// Server is the HTTP control surface: player registration, session info
// and the websocket session endpoint.
type Server struct {
	sessions i.SessionServer
	router   *way.Router
	logger   logrus.FieldLogger
}

// NewServer wires the routes and returns a ready http.Handler.
func NewServer(sessions i.SessionServer, logger logrus.FieldLogger) *Server {
	s := &Server{
		sessions: sessions,
		router:   way.NewRouter(),
		logger:   logger,
	}
	s.router.HandleFunc("POST", "/players", s.handleRegister)
	s.router.HandleFunc("GET", "/sessions/:id", s.handleSessionInfo)
	s.router.HandleFunc("GET", "/play", s.handlePlay)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID        string `json:"id"`
		Address   string `json:"address"`
		PublicKey string `json:"public_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	playerID, err := uuid.Parse(req.ID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid player id")
		return
	}
	pubKey, err := hex.DecodeString(req.PublicKey)
	if err != nil {
		respondError(w, http.StatusBadRequest, "public key must be hex encoded")
		return
	}

	if err := s.sessions.Register(r.Context(), playerID, req.Address, pubKey); err != nil {
		switch {
		case errors.Is(err, service.ErrPlayerExists):
			respondError(w, http.StatusConflict, err.Error())
		case errors.Is(err, service.ErrJournal):
			s.logger.Errorf("registering player %s: %v", playerID, err)
			respondError(w, http.StatusInternalServerError, "registration could not be journaled")
		default:
			s.logger.Warnf("registering player %s: %v", playerID, err)
			respondError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{"id": playerID.String()})
}

func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	playerID, err := uuid.Parse(way.Param(r.Context(), "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid player id")
		return
	}

	turn, treasure, over, err := s.sessions.SessionInfo(playerID)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"turn":      turn,
		"treasure":  treasure,
		"game_over": over,
	})
}
