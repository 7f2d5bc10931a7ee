package handlers

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"spinwheel/internal/game"
	"spinwheel/internal/repository/memory"
	"spinwheel/internal/wheel"
)

func newTestRouter(t *testing.T) (*game.Store, http.Handler) {
	t.Helper()
	store := game.NewStore(game.Options{
		Repo: memory.New(),
		Roster: []wheel.Prize{
			{ID: 1, Name: "Mug", Stock: 1, Icon: "☕", Color: "#1a237e"},
			{ID: 2, Name: "Pen", Stock: 2, Icon: "🖊", Color: "#283593"},
		},
		Spin: wheel.SpinConfig{
			Duration:      150 * time.Millisecond,
			Settle:        5 * time.Millisecond,
			FrameInterval: 5 * time.Millisecond,
			MinTurns:      5,
			MaxTurns:      7,
		},
		RNG: wheel.NewSeededRNG(2),
	})
	t.Cleanup(store.Close)
	if _, err := store.OpenWheel(context.Background(), "main"); err != nil {
		t.Fatalf("OpenWheel: %v", err)
	}

	r := chi.NewRouter()
	NewHomeHandler(store, "main", nil).RegisterRoutes(r)
	wh := NewWheelHandler(store, "https://wheel.example", nil)
	wh.RegisterRoutes(r)
	wh.RegisterStream(r)
	NewAPIHandler(store, nil).RegisterRoutes(r)
	return store, r
}

func do(t *testing.T, h http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func joinAPI(t *testing.T, h http.Handler, name string) joinResponse {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/wheels/main/players", `{"name":"`+name+`"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("join %q: status %d body %s", name, rec.Code, rec.Body.String())
	}
	var resp joinResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode join: %v", err)
	}
	return resp
}

func TestBuildSegments(t *testing.T) {
	roster := []wheel.Prize{{ID: 1, Stock: 1}, {ID: 2}, {ID: 3, Stock: 4}, {ID: 4, Stock: 1}}
	segs := buildSegments(roster)
	if len(segs) != 4 {
		t.Fatalf("got %d segments, want 4", len(segs))
	}
	if !segs[1].OutOfStock || segs[0].OutOfStock {
		t.Error("out-of-stock flags wrong")
	}
	if segs[0].TextRotate != 45 {
		t.Errorf("label rotate %v, want 45", segs[0].TextRotate)
	}
	// Segment 0 starts at 12 o'clock.
	if !strings.HasPrefix(segs[0].Path, "M 200.000 200.000 L 200.000 0.000 A") {
		t.Errorf("path %q", segs[0].Path)
	}
	single := buildSegments([]wheel.Prize{{ID: 9, Stock: 1}})
	if strings.Contains(single[0].Path, "L") {
		t.Errorf("single segment should be a full circle, got %q", single[0].Path)
	}
}

func TestHome_CreateWheelRedirects(t *testing.T) {
	store, h := newTestRouter(t)
	rec := do(t, h, http.MethodPost, "/wheels", "", nil)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status %d, want 303", rec.Code)
	}
	loc := rec.Header().Get("Location")
	if _, ok := store.GetWheel(strings.TrimPrefix(loc, "/wheel/")); !ok {
		t.Errorf("redirect %q does not name an open wheel", loc)
	}
	home := do(t, h, http.MethodGet, "/", "", nil)
	if home.Code != http.StatusOK || !strings.Contains(home.Body.String(), "main") {
		t.Errorf("home status %d", home.Code)
	}
}

func TestWheelPage_JoinSetsCookie(t *testing.T) {
	_, h := newTestRouter(t)
	form := url.Values{"username": {"  Ada  "}}
	rec := do(t, h, http.MethodPost, "/wheel/main/join", form.Encode(),
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status %d, want 303", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != playerCookieName("main") {
		t.Fatalf("cookies %v", cookies)
	}

	req := httptest.NewRequest(http.MethodGet, "/wheel/main", nil)
	req.AddCookie(cookies[0])
	page := httptest.NewRecorder()
	h.ServeHTTP(page, req)
	body := page.Body.String()
	if page.Code != http.StatusOK {
		t.Fatalf("page status %d", page.Code)
	}
	for _, want := range []string{"Ada", "https://wheel.example/wheel/main", `id="spin-button"`} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}

	empty := do(t, h, http.MethodPost, "/wheel/main/join", "username=+",
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
	if empty.Code != http.StatusBadRequest {
		t.Errorf("blank name: status %d, want 400", empty.Code)
	}
}

func TestWheelPage_NotFound(t *testing.T) {
	_, h := newTestRouter(t)
	for _, path := range []string{"/wheel/nope", "/wheel/nope/stats", "/wheel/nope/winners"} {
		if rec := do(t, h, http.MethodGet, path, "", nil); rec.Code != http.StatusNotFound {
			t.Errorf("%s: status %d, want 404", path, rec.Code)
		}
	}
}

func TestAPI_SpinLifecycle(t *testing.T) {
	store, h := newTestRouter(t)
	owner := joinAPI(t, h, "Ada")
	guest := joinAPI(t, h, "Bob")
	if !owner.Owner || guest.Owner {
		t.Fatalf("owner flags: %v %v", owner.Owner, guest.Owner)
	}

	rec := do(t, h, http.MethodPost, "/api/wheels/main/spin", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous spin: status %d, want 401", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/wheels/main/spin", `{"playerId":"`+guest.PlayerID+`"}`, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("spin: status %d body %s", rec.Code, rec.Body.String())
	}
	var spin game.SpinPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &spin); err != nil {
		t.Fatal(err)
	}
	if spin.Spinner != "Bob" || spin.Segments != 2 {
		t.Errorf("payload %+v", spin)
	}
	if got := wheel.PrizeIndexAtPointer(spin.End, spin.Segments); got != spin.Target {
		t.Errorf("spin ends on %d, want %d", got, spin.Target)
	}

	again := do(t, h, http.MethodPost, "/api/wheels/main/spin", "",
		map[string]string{"X-Player-ID": guest.PlayerID})
	if again.Code != http.StatusConflict {
		t.Errorf("second spin: status %d, want 409", again.Code)
	}

	instance, _ := store.GetWheel("main")
	deadline := time.Now().Add(2 * time.Second)
	for snap := instance.Snapshot(); len(snap.Winners) == 0 || snap.State != wheel.Idle; snap = instance.Snapshot() {
		if time.Now().After(deadline) {
			t.Fatal("spin never landed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	state := do(t, h, http.MethodGet, "/api/wheels/main", "", nil)
	var resp stateResponse
	if err := json.Unmarshal(state.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Winners) != 1 || resp.Winners[0].Name != "Bob" || resp.Winners[0].Prize.ID != spin.PrizeID {
		t.Errorf("winners %+v", resp.Winners)
	}
	if resp.TotalStock != 2 {
		t.Errorf("total stock %d, want 2", resp.TotalStock)
	}

	denied := do(t, h, http.MethodPost, "/api/wheels/main/reset", "",
		map[string]string{"X-Player-ID": guest.PlayerID})
	if denied.Code != http.StatusForbidden {
		t.Errorf("guest reset: status %d, want 403", denied.Code)
	}
	reset := do(t, h, http.MethodPost, "/api/wheels/main/reset", "",
		map[string]string{"X-Player-ID": owner.PlayerID})
	if reset.Code != http.StatusOK {
		t.Fatalf("owner reset: status %d body %s", reset.Code, reset.Body.String())
	}
	resp = stateResponse{}
	_ = json.Unmarshal(reset.Body.Bytes(), &resp)
	if resp.TotalStock != 3 || len(resp.Winners) != 0 {
		t.Errorf("after reset: stock %d winners %d", resp.TotalStock, len(resp.Winners))
	}
}

func TestAPI_Errors(t *testing.T) {
	_, h := newTestRouter(t)
	if rec := do(t, h, http.MethodGet, "/api/wheels/nope", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing wheel: status %d, want 404", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/wheels/main/players", "{", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad json: status %d, want 400", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/wheels/main/players", `{"name":""}`, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("empty name: status %d, want 400", rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/api/wheels/", "", nil)
	if rec.Code != http.StatusCreated {
		t.Errorf("create: status %d, want 201", rec.Code)
	}
}

func TestStream_SendsInitialFragments(t *testing.T) {
	_, h := newTestRouter(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/wheel/main/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}

	seen := map[string]bool{}
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() && !(seen["stats"] && seen["winners"]) {
		if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			seen[name] = true
		}
	}
	if !seen["stats"] || !seen["winners"] {
		t.Errorf("initial events %v", seen)
	}
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := RequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	entries := logs.FilterMessage("request").All()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["status"] != int64(http.StatusTeapot) || fields["path"] != "/x" {
		t.Errorf("fields %v", fields)
	}
}
