package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"spinwheel/internal/game"
	"spinwheel/internal/wheel"
)

// APIHandler serves the JSON interface under /api/wheels.
type APIHandler struct {
	store  *game.Store
	logger *zap.Logger
}

func NewAPIHandler(store *game.Store, logger *zap.Logger) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{store: store, logger: logger}
}

func (h *APIHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/wheels", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/{id}", h.state)
		r.Post("/{id}/players", h.join)
		r.Post("/{id}/spin", h.spin)
		r.Post("/{id}/reset", h.reset)
	})
}

type stateResponse struct {
	ID         string              `json:"id"`
	State      string              `json:"state"`
	Rotation   float64             `json:"rotation"`
	Available  int                 `json:"available"`
	TotalStock int                 `json:"totalStock"`
	Roster     []wheel.Prize       `json:"roster"`
	Winners    []winnerResponse    `json:"winners"`
	Players    []string            `json:"players"`
	Spin       *game.SpinPayload   `json:"spin,omitempty"`
	Last       *game.ResultPayload `json:"last,omitempty"`
}

type winnerResponse struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Prize      wheel.Prize `json:"prize"`
	Timestamp  time.Time   `json:"timestamp"`
	OutOfStock bool        `json:"outOfStock"`
}

type joinRequest struct {
	Name string `json:"name"`
}

type joinResponse struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Owner    bool   `json:"owner"`
}

type playerRequest struct {
	PlayerID string `json:"playerId"`
}

func newStateResponse(snapshot game.Snapshot) stateResponse {
	resp := stateResponse{
		ID:         snapshot.ID,
		State:      snapshot.State.String(),
		Rotation:   snapshot.Rotation,
		Available:  snapshot.Available,
		TotalStock: snapshot.TotalStock,
		Roster:     snapshot.Roster,
		Winners:    make([]winnerResponse, 0, len(snapshot.Winners)),
		Players:    snapshot.Players,
	}
	for _, rec := range snapshot.Winners {
		resp.Winners = append(resp.Winners, winnerResponse{
			ID:         rec.ID,
			Name:       rec.Name,
			Prize:      rec.Prize,
			Timestamp:  rec.Timestamp,
			OutOfStock: rec.OutOfStock,
		})
	}
	if snapshot.Trajectory != nil {
		spin := game.NewSpinPayload(*snapshot.Trajectory, snapshot.Spinner)
		resp.Spin = &spin
	}
	if last := snapshot.Last; last != nil {
		resp.Last = &game.ResultPayload{
			Name:      last.Name,
			PrizeID:   last.Prize.ID,
			PrizeName: last.Prize.Name,
			Icon:      last.Prize.Icon,
			Awarded:   last.Awarded,
			AtMs:      last.At.UnixMilli(),
		}
	}
	return resp
}

func (h *APIHandler) create(w http.ResponseWriter, r *http.Request) {
	instance, err := h.store.CreateWheel(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newStateResponse(instance.Snapshot()))
}

func (h *APIHandler) state(w http.ResponseWriter, r *http.Request) {
	instance, ok := h.store.GetWheel(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, h.logger, game.ErrWheelNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newStateResponse(instance.Snapshot()))
}

func (h *APIHandler) join(w http.ResponseWriter, r *http.Request) {
	wheelID := chi.URLParam(r, "id")
	instance, ok := h.store.GetWheel(wheelID)
	if !ok {
		writeError(w, h.logger, game.ErrWheelNotFound)
		return
	}
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body"})
		return
	}
	name, ok := cleanName(req.Name)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "name required"})
		return
	}
	player := instance.AddPlayer(name)
	h.store.Publish(wheelID, game.EventPlayers)
	writeJSON(w, http.StatusCreated, joinResponse{
		PlayerID: player.ID,
		Name:     player.Name,
		Owner:    instance.IsOwner(player.ID),
	})
}

func (h *APIHandler) spin(w http.ResponseWriter, r *http.Request) {
	wheelID := chi.URLParam(r, "id")
	playerID := h.playerID(r)
	traj, err := h.store.Spin(r.Context(), wheelID, playerID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	name := ""
	if instance, ok := h.store.GetWheel(wheelID); ok {
		name, _ = instance.PlayerName(playerID)
	}
	writeJSON(w, http.StatusAccepted, game.NewSpinPayload(traj, name))
}

func (h *APIHandler) reset(w http.ResponseWriter, r *http.Request) {
	wheelID := chi.URLParam(r, "id")
	if err := h.store.Reset(r.Context(), wheelID, h.playerID(r)); err != nil {
		writeError(w, h.logger, err)
		return
	}
	instance, ok := h.store.GetWheel(wheelID)
	if !ok {
		writeError(w, h.logger, game.ErrWheelNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newStateResponse(instance.Snapshot()))
}

// playerID reads the caller from the X-Player-ID header, falling back to a
// JSON body.
func (h *APIHandler) playerID(r *http.Request) string {
	if id := r.Header.Get("X-Player-ID"); id != "" {
		return id
	}
	var req playerRequest
	if r.Body != nil && r.ContentLength != 0 {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	return req.PlayerID
}
