package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"spinwheel/internal/game"
	"spinwheel/internal/viewmodel"
	"spinwheel/views/pages"
)

type HomeHandler struct {
	store        *game.Store
	defaultWheel string
	logger       *zap.Logger
}

func NewHomeHandler(store *game.Store, defaultWheel string, logger *zap.Logger) *HomeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HomeHandler{store: store, defaultWheel: defaultWheel, logger: logger}
}

func (h *HomeHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.home)
	r.Post("/wheels", h.createWheel)
}

func (h *HomeHandler) home(w http.ResponseWriter, r *http.Request) {
	render(w, r, pages.HomePage(viewmodel.HomePage{
		Title:        pageTitle,
		DefaultWheel: h.defaultWheel,
		Wheels:       h.store.IDs(),
	}))
}

func (h *HomeHandler) createWheel(w http.ResponseWriter, r *http.Request) {
	instance, err := h.store.CreateWheel(r.Context())
	if err != nil {
		h.logger.Error("create wheel", zap.Error(err))
		http.Error(w, "could not create wheel", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/wheel/"+instance.ID, http.StatusSeeOther)
}
