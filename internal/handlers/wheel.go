package handlers

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"spinwheel/internal/game"
	"spinwheel/internal/viewmodel"
	"spinwheel/views/components"
	"spinwheel/views/pages"
)

// maxNameLen caps player names, counted in runes.
const maxNameLen = 40

type WheelHandler struct {
	store   *game.Store
	baseURL string
	logger  *zap.Logger
}

func NewWheelHandler(store *game.Store, baseURL string, logger *zap.Logger) *WheelHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WheelHandler{store: store, baseURL: baseURL, logger: logger}
}

// RegisterRoutes registers the page and fragment routes. The SSE stream is
// registered separately so it can skip the request timeout.
func (h *WheelHandler) RegisterRoutes(r chi.Router) {
	r.Get("/wheel/{id}", h.wheelPage)
	r.Post("/wheel/{id}/join", h.join)
	r.Post("/wheel/{id}/spin", h.spin)
	r.Post("/wheel/{id}/reset", h.reset)
	r.Get("/wheel/{id}/winners", h.winnersFragment)
	r.Get("/wheel/{id}/stats", h.statsFragment)
}

func (h *WheelHandler) RegisterStream(r chi.Router) {
	r.Get("/wheel/{id}/stream", h.stream)
}

func (h *WheelHandler) wheelPage(w http.ResponseWriter, r *http.Request) {
	wheelID := chi.URLParam(r, "id")
	instance, ok := h.store.GetWheel(wheelID)
	if !ok {
		http.NotFound(w, r)
		return
	}

	playerID := playerIDFromCookie(r, wheelID)
	playerName, hasPlayer := instance.PlayerName(playerID)
	isOwner := instance.IsOwner(playerID)
	snapshot := instance.Snapshot()

	data := viewmodel.WheelPage{
		Title:      pageTitle,
		WheelID:    wheelID,
		InviteURL:  h.buildInviteURL(r, wheelID),
		HasPlayer:  hasPlayer,
		PlayerName: playerName,
		IsOwner:    isOwner,
		Wheel:      buildWheelView(wheelID, snapshot, hasPlayer),
		Stats:      buildStats(snapshot),
		Winners:    buildWinners(wheelID, snapshot, isOwner),
		Result:     buildResult(snapshot),
		Players:    snapshot.Players,
	}
	render(w, r, pages.WheelPage(data))
}

func (h *WheelHandler) join(w http.ResponseWriter, r *http.Request) {
	wheelID := chi.URLParam(r, "id")
	instance, ok := h.store.GetWheel(wheelID)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	username, ok := cleanName(r.FormValue("username"))
	if !ok {
		http.Error(w, "username required", http.StatusBadRequest)
		return
	}

	player := instance.AddPlayer(username)

	setPlayerCookie(w, wheelID, player.ID)
	h.store.Publish(wheelID, game.EventPlayers)
	http.Redirect(w, r, "/wheel/"+wheelID, http.StatusSeeOther)
}

func (h *WheelHandler) spin(w http.ResponseWriter, r *http.Request) {
	wheelID := chi.URLParam(r, "id")
	playerID := playerIDFromCookie(r, wheelID)
	traj, err := h.store.Spin(r.Context(), wheelID, playerID)
	if !wantsJSON(r) {
		if err != nil && statusFor(err) == http.StatusNotFound {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, "/wheel/"+wheelID, http.StatusSeeOther)
		return
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	name, _ := h.playerName(wheelID, playerID)
	writeJSON(w, http.StatusOK, game.NewSpinPayload(traj, name))
}

func (h *WheelHandler) reset(w http.ResponseWriter, r *http.Request) {
	wheelID := chi.URLParam(r, "id")
	playerID := playerIDFromCookie(r, wheelID)
	err := h.store.Reset(r.Context(), wheelID, playerID)
	if err != nil && statusFor(err) == http.StatusNotFound {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.logger.Info("reset refused", zap.String("wheel_id", wheelID), zap.Error(err))
	}
	http.Redirect(w, r, "/wheel/"+wheelID, http.StatusSeeOther)
}

func (h *WheelHandler) winnersFragment(w http.ResponseWriter, r *http.Request) {
	wheelID := chi.URLParam(r, "id")
	instance, ok := h.store.GetWheel(wheelID)
	if !ok {
		http.NotFound(w, r)
		return
	}
	isOwner := instance.IsOwner(playerIDFromCookie(r, wheelID))
	render(w, r, components.Winners(buildWinners(wheelID, instance.Snapshot(), isOwner)))
}

func (h *WheelHandler) statsFragment(w http.ResponseWriter, r *http.Request) {
	wheelID := chi.URLParam(r, "id")
	instance, ok := h.store.GetWheel(wheelID)
	if !ok {
		http.NotFound(w, r)
		return
	}
	render(w, r, components.Stats(buildStats(instance.Snapshot())))
}

func (h *WheelHandler) stream(w http.ResponseWriter, r *http.Request) {
	wheelID := chi.URLParam(r, "id")
	instance, ok := h.store.GetWheel(wheelID)
	if !ok {
		http.NotFound(w, r)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	playerID := playerIDFromCookie(r, wheelID)
	_, hasPlayer := instance.PlayerName(playerID)

	hub := h.store.Broadcaster(wheelID)
	if hub == nil {
		http.NotFound(w, r)
		return
	}
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	sendWheel := func(snapshot game.Snapshot) {
		writeSSE(w, "wheel", renderToString(r, components.Wheel(buildWheelView(wheelID, snapshot, hasPlayer))))
	}
	sendStats := func(snapshot game.Snapshot) {
		writeSSE(w, "stats", renderToString(r, components.Stats(buildStats(snapshot))))
	}
	sendWinners := func(snapshot game.Snapshot) {
		isOwner := instance.IsOwner(playerID)
		writeSSE(w, "winners", renderToString(r, components.Winners(buildWinners(wheelID, snapshot, isOwner))))
	}

	snapshot := instance.Snapshot()
	sendStats(snapshot)
	sendWinners(snapshot)
	if data := spinJSON(snapshot); data != "" {
		// Late joiners pick the animation up where it is.
		writeSSE(w, game.EventSpin, data)
	}
	flusher.Flush()

	keepAlive := time.NewTicker(25 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-sub:
			if !open {
				return
			}
			snapshot := instance.Snapshot()
			switch event.Name {
			case game.EventSpin:
				writeSSE(w, game.EventSpin, event.Data)
			case game.EventResult:
				writeSSE(w, game.EventResult, renderToString(r, components.Result(buildResult(snapshot))))
			case game.EventRoster:
				sendWheel(snapshot)
				sendStats(snapshot)
			case game.EventWinners:
				sendWinners(snapshot)
			case game.EventPlayers:
				writeSSE(w, game.EventPlayers, renderToString(r, components.Players(snapshot.Players)))
			}
			flusher.Flush()
		case <-keepAlive.C:
			_, _ = w.Write([]byte(": keepalive\n\n"))
			flusher.Flush()
		}
	}
}

func (h *WheelHandler) playerName(wheelID, playerID string) (string, bool) {
	instance, ok := h.store.GetWheel(wheelID)
	if !ok {
		return "", false
	}
	return instance.PlayerName(playerID)
}

func (h *WheelHandler) buildInviteURL(r *http.Request, wheelID string) string {
	baseURL := strings.TrimSpace(h.baseURL)
	if baseURL == "" {
		baseURL = strings.TrimSpace(os.Getenv("BASE_URL"))
	}
	if baseURL != "" {
		return strings.TrimRight(baseURL, "/") + "/wheel/" + wheelID
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + "/wheel/" + wheelID
}

func cleanName(raw string) (string, bool) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", false
	}
	if runes := []rune(name); len(runes) > maxNameLen {
		name = string(runes[:maxNameLen])
	}
	return name, true
}

func playerIDFromCookie(r *http.Request, wheelID string) string {
	cookie, err := r.Cookie(playerCookieName(wheelID))
	if err != nil {
		return ""
	}
	return cookie.Value
}

func setPlayerCookie(w http.ResponseWriter, wheelID string, playerID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName(wheelID),
		Value:    playerID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(24 * time.Hour),
	})
}

func playerCookieName(wheelID string) string {
	return "spinwheel_player_" + wheelID
}
