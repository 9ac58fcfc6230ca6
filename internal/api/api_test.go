package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/conference-hall/scheduler/internal/auth"
	"github.com/conference-hall/scheduler/internal/db"
	"github.com/conference-hall/scheduler/internal/events"
	"github.com/conference-hall/scheduler/internal/schedule"
	"github.com/conference-hall/scheduler/internal/sessions"
)

var testSecret = []byte("test-secret-key-with-enough-bytes!!")

const testLayout = `
id: devfest
event_id: devfest-2026
name: DevFest 2026
timezone: UTC
start_date: "2026-06-12"
end_date: "2026-06-12"
interval_minutes: 30
day_start: "09:00"
day_end: "18:00"
tracks:
  - name: Main Room
  - name: Room B
sessions:
  - id: keynote
    track: main-room
    start: "2026-06-12T09:00"
    end: "2026-06-12T10:00"
    name: Keynote
`

// pendingLog records submissions and keeps them in flight.
type pendingLog struct {
	mu        sync.Mutex
	mutations []sessions.Mutation
}

func (p *pendingLog) Submit(_ string, m sessions.Mutation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mutations = append(p.mutations, m)
}

func (p *pendingLog) Pending(scheduleID string) []sessions.Mutation {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []sessions.Mutation
	for _, m := range p.mutations {
		if m.ScheduleID == scheduleID {
			out = append(out, m)
		}
	}
	return out
}

func (p *pendingLog) last() sessions.Mutation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mutations[len(p.mutations)-1]
}

func newTestRouter(t *testing.T) (http.Handler, *pendingLog) {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	svc := schedule.NewService(database, nil, nil, zerolog.Nop())
	layout, err := schedule.ParseLayout(strings.NewReader(testLayout))
	if err != nil {
		t.Fatalf("parse layout: %v", err)
	}
	if _, err := svc.ImportLayout(context.Background(), layout); err != nil {
		t.Fatalf("import layout: %v", err)
	}

	log := &pendingLog{}
	registry := sessions.NewRegistry(svc, log, log, zerolog.Nop())
	a := New(svc, registry, events.NewBus(), testSecret, zerolog.Nop())

	r := chi.NewRouter()
	a.Routes(r)
	return r, log
}

func token(t *testing.T, role string, eventIDs ...string) string {
	t.Helper()
	tok, err := auth.Issue(testSecret, auth.Claims{UserID: "u1", Roles: []string{role}, Events: eventIDs}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func do(t *testing.T, h http.Handler, method, path, tok, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func TestHealthIsPublic(t *testing.T) {
	h, _ := newTestRouter(t)
	if rr := do(t, h, http.MethodGet, "/api/v1/health", "", ""); rr.Code != http.StatusOK {
		t.Fatalf("health status = %d", rr.Code)
	}
}

func TestScheduleAccessControl(t *testing.T) {
	h, _ := newTestRouter(t)

	tests := []struct {
		name string
		tok  string
		path string
		want int
	}{
		{name: "no token", path: "/api/v1/schedules/devfest", want: http.StatusUnauthorized},
		{name: "other event", tok: token(t, "owner", "other-event"), path: "/api/v1/schedules/devfest", want: http.StatusForbidden},
		{name: "unknown schedule", tok: token(t, "owner", auth.AllEvents), path: "/api/v1/schedules/nope", want: http.StatusNotFound},
		{name: "reviewer reads", tok: token(t, "REVIEWER", "devfest-2026"), path: "/api/v1/schedules/devfest", want: http.StatusOK},
		{name: "unknown role", tok: token(t, "guest", "devfest-2026"), path: "/api/v1/schedules/devfest/sessions", want: http.StatusOK},
	}

	for _, tt := range tests {
		if rr := do(t, h, http.MethodGet, tt.path, tt.tok, ""); rr.Code != tt.want {
			t.Fatalf("%s: status = %d, want %d (%s)", tt.name, rr.Code, tt.want, rr.Body.String())
		}
	}
}

func TestReviewerCannotPlaceSessions(t *testing.T) {
	h, log := newTestRouter(t)
	body := `{"track_id":"room-b","start":"2026-06-12T09:00:00Z","end":"2026-06-12T10:00:00Z"}`
	rr := do(t, h, http.MethodPost, "/api/v1/schedules/devfest/sessions", token(t, "reviewer", "devfest-2026"), body)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
	if len(log.Pending("devfest")) != 0 {
		t.Fatal("rejected request must not submit a mutation")
	}
}

func TestGetScheduleListsTracks(t *testing.T) {
	h, _ := newTestRouter(t)
	rr := do(t, h, http.MethodGet, "/api/v1/schedules/devfest", token(t, "owner", "devfest-2026"), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var view scheduleView
	decode(t, rr, &view)
	if view.StartDate != "2026-06-12" || view.IntervalMinutes != 30 {
		t.Fatalf("unexpected schedule: %+v", view)
	}
	if len(view.Tracks) != 2 || view.Tracks[0].ID != "main-room" {
		t.Fatalf("tracks = %+v", view.Tracks)
	}
}

func TestTimeslots(t *testing.T) {
	h, _ := newTestRouter(t)
	tok := token(t, "member", "devfest-2026")

	rr := do(t, h, http.MethodGet, "/api/v1/schedules/devfest/timeslots?day=2026-06-12&start=09:00&end=10:00", tok, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var grid struct {
		Slots []struct {
			Start time.Time `json:"start"`
			End   time.Time `json:"end"`
		} `json:"slots"`
	}
	decode(t, rr, &grid)
	if len(grid.Slots) != 2 {
		t.Fatalf("slots = %d, want 2 half-hour slots", len(grid.Slots))
	}
	if grid.Slots[0].Start.Hour() != 9 || grid.Slots[1].End.Hour() != 10 {
		t.Fatalf("slots = %+v", grid.Slots)
	}

	rr = do(t, h, http.MethodGet, "/api/v1/schedules/devfest/timeslots?day=2026-06-12&start=09:00&end=10:00&include_end=true", tok, "")
	decode(t, rr, &grid)
	if len(grid.Slots) != 3 {
		t.Fatalf("include_end slots = %d, want 3", len(grid.Slots))
	}

	rr = do(t, h, http.MethodGet, "/api/v1/schedules/devfest/timeslots?day=2026-06-12", tok, "")
	decode(t, rr, &grid)
	if len(grid.Slots) != 18 {
		t.Fatalf("default window slots = %d, want 18", len(grid.Slots))
	}

	for _, query := range []string{"day=2026-06-13", "day=tomorrow", "day=2026-06-12&interval=0", "day=2026-06-12&start=9h"} {
		if rr := do(t, h, http.MethodGet, "/api/v1/schedules/devfest/timeslots?"+query, tok, ""); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", query, rr.Code)
		}
	}
}

func TestAddSessionShowsOptimistically(t *testing.T) {
	h, log := newTestRouter(t)
	tok := token(t, "member", "devfest-2026")

	conflicting := `{"track_id":"main-room","start":"2026-06-12T09:30:00Z","end":"2026-06-12T10:30:00Z"}`
	if rr := do(t, h, http.MethodPost, "/api/v1/schedules/devfest/sessions", tok, conflicting); rr.Code != http.StatusConflict {
		t.Fatalf("conflicting add status = %d, want 409", rr.Code)
	}
	if len(log.Pending("devfest")) != 0 {
		t.Fatal("conflicting add must not submit")
	}

	body := `{"track_id":"main-room","start":"2026-06-12T10:00:00Z","end":"2026-06-12T11:30:00Z"}`
	rr := do(t, h, http.MethodPost, "/api/v1/schedules/devfest/sessions", tok, body)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("add status = %d: %s", rr.Code, rr.Body.String())
	}
	var created map[string]string
	decode(t, rr, &created)
	if created["id"] == "" || log.last().ID != created["id"] || log.last().Intent != sessions.IntentAdd {
		t.Fatalf("created = %v, submitted = %+v", created, log.last())
	}

	rr = do(t, h, http.MethodGet, "/api/v1/schedules/devfest/sessions", tok, "")
	var list struct {
		Sessions []struct {
			ID   string `json:"id"`
			Rows int    `json:"rows"`
		} `json:"sessions"`
	}
	decode(t, rr, &list)
	if len(list.Sessions) != 2 {
		t.Fatalf("sessions = %+v, want keynote plus the pending add", list.Sessions)
	}
	if list.Sessions[0].ID != "keynote" || list.Sessions[0].Rows != 2 {
		t.Fatalf("keynote view = %+v", list.Sessions[0])
	}
	if list.Sessions[1].ID != created["id"] || list.Sessions[1].Rows != 3 {
		t.Fatalf("pending view = %+v", list.Sessions[1])
	}
}

func TestAddSessionValidation(t *testing.T) {
	h, _ := newTestRouter(t)
	tok := token(t, "owner", "devfest-2026")

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "bad json", body: `{`, want: "invalid_json"},
		{name: "unknown track", body: `{"track_id":"attic","start":"2026-06-12T10:00:00Z","end":"2026-06-12T11:00:00Z"}`, want: "unknown_track"},
		{name: "inverted", body: `{"track_id":"room-b","start":"2026-06-12T11:00:00Z","end":"2026-06-12T10:00:00Z"}`, want: "invalid_slot"},
		{name: "unparseable", body: `{"track_id":"room-b","start":"10:00","end":"11:00"}`, want: "invalid_slot"},
	}
	for _, tt := range tests {
		rr := do(t, h, http.MethodPost, "/api/v1/schedules/devfest/sessions", tok, tt.body)
		var got map[string]string
		decode(t, rr, &got)
		if rr.Code != http.StatusBadRequest || got["error"] != tt.want {
			t.Fatalf("%s: status = %d error = %q, want 400 %q", tt.name, rr.Code, got["error"], tt.want)
		}
	}
}

func TestMoveKeepsDuration(t *testing.T) {
	h, log := newTestRouter(t)
	tok := token(t, "owner", "devfest-2026")

	rr := do(t, h, http.MethodPost, "/api/v1/schedules/devfest/sessions/keynote/move", tok, `{"track_id":"room-b","start":"2026-06-12T14:00:00Z"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("move status = %d: %s", rr.Code, rr.Body.String())
	}
	m := log.last()
	if m.Intent != sessions.IntentUpdate || m.TrackID != "room-b" {
		t.Fatalf("submitted = %+v", m)
	}
	if m.Start.Hour() != 14 || m.End.Hour() != 15 {
		t.Fatalf("moved slot = %s-%s, want 14:00-15:00", m.Start, m.End)
	}
}

func TestUpdateAndDeleteSessions(t *testing.T) {
	h, log := newTestRouter(t)
	tok := token(t, "owner", "devfest-2026")

	if rr := do(t, h, http.MethodPatch, "/api/v1/schedules/devfest/sessions/ghost", tok, `{}`); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown session status = %d, want 404", rr.Code)
	}

	add := `{"track_id":"main-room","start":"2026-06-12T11:00:00Z","end":"2026-06-12T12:00:00Z"}`
	if rr := do(t, h, http.MethodPost, "/api/v1/schedules/devfest/sessions", tok, add); rr.Code != http.StatusAccepted {
		t.Fatalf("add status = %d", rr.Code)
	}

	stretch := `{"start":"2026-06-12T09:00:00Z","end":"2026-06-12T11:30:00Z"}`
	if rr := do(t, h, http.MethodPatch, "/api/v1/schedules/devfest/sessions/keynote", tok, stretch); rr.Code != http.StatusConflict {
		t.Fatalf("overlapping update status = %d, want 409", rr.Code)
	}

	extend := `{"start":"2026-06-12T09:00:00Z","end":"2026-06-12T11:00:00Z"}`
	if rr := do(t, h, http.MethodPatch, "/api/v1/schedules/devfest/sessions/keynote", tok, extend); rr.Code != http.StatusAccepted {
		t.Fatalf("update status = %d: %s", rr.Code, rr.Body.String())
	}
	if m := log.last(); m.TrackID != "main-room" || m.End.Hour() != 11 {
		t.Fatalf("update must keep the track: %+v", m)
	}

	if rr := do(t, h, http.MethodDelete, "/api/v1/schedules/devfest/sessions/keynote", tok, ""); rr.Code != http.StatusAccepted {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if m := log.last(); m.Intent != sessions.IntentDelete || m.ID != "keynote" {
		t.Fatalf("submitted = %+v", m)
	}

	if rr := do(t, h, http.MethodDelete, "/api/v1/schedules/devfest/sessions/keynote", tok, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("deleted session must leave the view, status = %d", rr.Code)
	}
}

func TestEventsRequiresSchedule(t *testing.T) {
	h, _ := newTestRouter(t)
	if rr := do(t, h, http.MethodGet, "/api/v1/events", token(t, "owner", "devfest-2026"), ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/api/v1/events?schedule_id=devfest", token(t, "owner", "other"), ""); rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
}

func TestParseEventTypes(t *testing.T) {
	got := parseEventTypes([]string{"session.added, session.deleted", "session.added", ""})
	if len(got) != 2 || got[0] != events.EventSessionAdded || got[1] != events.EventSessionDeleted {
		t.Fatalf("types = %v", got)
	}
}

func TestDefaultEventTypesMatchPublishedEvents(t *testing.T) {
	got := defaultEventTypes()
	want := append(slices.Clone(events.SessionEvents), events.EventScheduleUpdated)
	if !slices.Equal(got, want) {
		t.Fatalf("default types = %v, want %v", got, want)
	}
	if got := defaultEventTypes(); &got[0] == &events.SessionEvents[0] {
		t.Fatal("default types must not alias SessionEvents")
	}
}
