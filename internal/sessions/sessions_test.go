package sessions

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/conference-hall/scheduler/internal/timeslot"
)

func at(hour, minute int) time.Time {
	return time.Date(2024, 10, 17, hour, minute, 0, 0, time.UTC)
}

func slot(h1, m1, h2, m2 int) timeslot.Slot {
	return timeslot.New(at(h1, m1), at(h2, m2))
}

// recorder submits into an in-memory in-flight list, like a dispatcher whose
// requests never settle until resolve is called.
type recorder struct {
	keys    []string
	pending []Mutation
}

func (r *recorder) Submit(key string, m Mutation) {
	r.keys = append(r.keys, key)
	r.pending = append(r.pending, m)
}

func (r *recorder) Pending(scheduleID string) []Mutation {
	out := make([]Mutation, 0, len(r.pending))
	for _, m := range r.pending {
		if m.ScheduleID == scheduleID {
			out = append(out, m)
		}
	}
	return out
}

func (r *recorder) resolveAll() {
	r.pending = nil
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("s%d", n)
	}
}

func newTestBoard(rec *recorder, baseline ...Session) *Board {
	board := NewBoard("sched-1", rec, rec, zerolog.Nop())
	board.SetIDGenerator(sequentialIDs())
	board.SetConfirmed(baseline)
	return board
}

func ids(list []Session) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.ID
	}
	return out
}

func TestProjectDeleteRemovesBaselineSession(t *testing.T) {
	baseline := []Session{{ID: "a", TrackID: "t1", Slot: slot(10, 0, 10, 30)}}
	got := Project(baseline, []Mutation{{Intent: IntentDelete, ID: "a"}})
	if len(got) != 0 {
		t.Fatalf("expected empty view, got %v", ids(got))
	}
}

func TestProjectAddInsertsNewSession(t *testing.T) {
	baseline := []Session{{ID: "a", TrackID: "t1", Slot: slot(10, 0, 10, 30)}}
	got := Project(baseline, []Mutation{{Intent: IntentAdd, ID: "new", TrackID: "t2", Start: at(11, 0), End: at(12, 0)}})
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "new" {
		t.Fatalf("view = %v, want [a new]", ids(got))
	}
	if got[1].TrackID != "t2" || got[1].Slot != slot(11, 0, 12, 0) {
		t.Fatalf("new session = %+v", got[1])
	}
}

func TestProjectUpdateKeepsSessionDetails(t *testing.T) {
	baseline := []Session{{
		ID:       "a",
		TrackID:  "t1",
		Slot:     slot(10, 0, 10, 30),
		Name:     "Keynote",
		Color:    "#ff0000",
		Proposal: &ProposalData{ID: "p1", Title: "Opening"},
	}}
	got := Project(baseline, []Mutation{{Intent: IntentUpdate, ID: "a", TrackID: "t2", Start: at(14, 0), End: at(14, 30)}})
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	s := got[0]
	if s.TrackID != "t2" || s.Slot != slot(14, 0, 14, 30) {
		t.Fatalf("placement not updated: %+v", s)
	}
	if s.Name != "Keynote" || s.Color != "#ff0000" || s.Proposal == nil || s.Proposal.ID != "p1" {
		t.Fatalf("details lost: %+v", s)
	}
}

func TestProjectLastMutationWins(t *testing.T) {
	got := Project(nil, []Mutation{
		{Intent: IntentAdd, ID: "x", TrackID: "t1", Start: at(9, 0), End: at(10, 0)},
		{Intent: IntentUpdate, ID: "x", TrackID: "t1", Start: at(11, 0), End: at(12, 0)},
	})
	if len(got) != 1 || got[0].Slot != slot(11, 0, 12, 0) {
		t.Fatalf("view = %+v, want single session at 11:00", got)
	}

	got = Project(nil, []Mutation{
		{Intent: IntentAdd, ID: "x", TrackID: "t1", Start: at(9, 0), End: at(10, 0)},
		{Intent: IntentDelete, ID: "x"},
		{Intent: IntentAdd, ID: "x", TrackID: "t2", Start: at(9, 0), End: at(10, 0)},
	})
	if len(got) != 1 || got[0].TrackID != "t2" {
		t.Fatalf("view = %+v, want single re-added session on t2", got)
	}
}

func TestProjectDoesNotMutateBaseline(t *testing.T) {
	baseline := []Session{{ID: "a", TrackID: "t1", Slot: slot(10, 0, 10, 30)}}
	_ = Project(baseline, []Mutation{{Intent: IntentUpdate, ID: "a", TrackID: "t9", Start: at(1, 0), End: at(2, 0)}})
	if baseline[0].TrackID != "t1" {
		t.Fatal("baseline was mutated")
	}
}

func TestHasConflict(t *testing.T) {
	list := []Session{
		{ID: "a", TrackID: "t1", Slot: slot(10, 0, 11, 0)},
		{ID: "b", TrackID: "t2", Slot: slot(10, 0, 11, 0)},
	}
	tests := []struct {
		name    string
		trackID string
		slot    timeslot.Slot
		exclude string
		want    bool
	}{
		{name: "overlap same track", trackID: "t1", slot: slot(10, 30, 11, 30), want: true},
		{name: "back to back", trackID: "t1", slot: slot(11, 0, 11, 30), want: false},
		{name: "other track", trackID: "t3", slot: slot(10, 0, 11, 0), want: false},
		{name: "excluded self", trackID: "t1", slot: slot(10, 15, 10, 45), exclude: "a", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasConflict(list, tt.trackID, tt.slot, tt.exclude); got != tt.want {
				t.Fatalf("HasConflict = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBoardAddRejectsConflictOnce(t *testing.T) {
	rec := &recorder{}
	board := newTestBoard(rec)

	id, ok := board.Add("t1", slot(10, 0, 10, 30))
	if !ok || id != "s1" {
		t.Fatalf("first add = (%q, %v), want (s1, true)", id, ok)
	}
	if _, ok := board.Add("t1", slot(10, 15, 10, 45)); ok {
		t.Fatal("second overlapping add should be rejected")
	}
	if len(rec.keys) != 1 {
		t.Fatalf("dispatched %d mutations, want 1", len(rec.keys))
	}
	if rec.keys[0] != CorrelationKey("s1") {
		t.Fatalf("key = %q, want %q", rec.keys[0], CorrelationKey("s1"))
	}

	if _, ok := board.Add("t2", slot(10, 15, 10, 45)); !ok {
		t.Fatal("same slot on another track should be accepted")
	}
	if _, ok := board.Add("t1", slot(10, 30, 11, 0)); !ok {
		t.Fatal("back-to-back slot should be accepted")
	}
}

func TestBoardAddNormalizesToUTC(t *testing.T) {
	rec := &recorder{}
	board := newTestBoard(rec)
	plus2 := time.FixedZone("UTC+2", 2*60*60)
	local := timeslot.New(time.Date(2024, 10, 17, 12, 0, 0, 0, plus2), time.Date(2024, 10, 17, 13, 0, 0, 0, plus2))

	if _, ok := board.Add("t1", local); !ok {
		t.Fatal("add rejected")
	}
	m := rec.pending[0]
	if m.Start.Location() != time.UTC || m.Start.Hour() != 10 {
		t.Fatalf("start = %v, want 10:00 UTC", m.Start)
	}
}

func TestBoardUpdateExcludesSelf(t *testing.T) {
	rec := &recorder{}
	existing := Session{ID: "a", TrackID: "t1", Slot: slot(10, 0, 11, 0)}
	other := Session{ID: "b", TrackID: "t1", Slot: slot(11, 0, 12, 0)}
	board := newTestBoard(rec, existing, other)

	if !board.Update(existing, "t1", slot(10, 15, 11, 0)) {
		t.Fatal("resizing within own slot should be accepted")
	}
	if board.Update(existing, "t1", slot(10, 30, 11, 30)) {
		t.Fatal("overlapping neighbour should be rejected")
	}
	if len(rec.pending) != 1 || rec.pending[0].Intent != IntentUpdate {
		t.Fatalf("pending = %+v, want one update", rec.pending)
	}

	view := board.Data()
	got, ok := Find(view, "a")
	if !ok || got.Slot != slot(10, 15, 11, 0) {
		t.Fatalf("optimistic view = %+v", view)
	}
}

func TestBoardMovePreservesDuration(t *testing.T) {
	rec := &recorder{}
	existing := Session{ID: "a", TrackID: "t1", Slot: slot(10, 0, 10, 45)}
	board := newTestBoard(rec, existing)

	if !board.Move(existing, "t2", slot(14, 0, 14, 15)) {
		t.Fatal("move rejected")
	}
	m := rec.pending[0]
	if m.TrackID != "t2" || !m.Start.Equal(at(14, 0)) || !m.End.Equal(at(14, 45)) {
		t.Fatalf("move mutation = %+v, want t2 14:00-14:45", m)
	}
}

func TestBoardDeleteHidesSessionUntilSettled(t *testing.T) {
	rec := &recorder{}
	existing := Session{ID: "a", TrackID: "t1", Slot: slot(10, 0, 10, 45)}
	board := newTestBoard(rec, existing)

	board.Delete(existing)
	if len(board.Data()) != 0 {
		t.Fatal("deleted session still displayed")
	}
	if _, ok := board.Add("t1", slot(10, 0, 10, 45)); !ok {
		t.Fatal("slot freed by pending delete should accept a new session")
	}
}

func TestBoardRevertsWhenMutationFails(t *testing.T) {
	rec := &recorder{}
	existing := Session{ID: "a", TrackID: "t1", Slot: slot(10, 0, 10, 45)}
	board := newTestBoard(rec, existing)

	board.Update(existing, "t1", slot(15, 0, 15, 45))
	// the request settles without the baseline changing
	rec.resolveAll()

	view := board.Data()
	if len(view) != 1 || view[0].Slot != existing.Slot {
		t.Fatalf("view = %+v, want reverted to confirmed", view)
	}
}

type stubSource struct {
	calls    int
	sessions []Session
	err      error
}

func (s *stubSource) Sessions(_ context.Context, _ string) ([]Session, error) {
	s.calls++
	return s.sessions, s.err
}

func TestRegistryLoadsOnceAndRefreshes(t *testing.T) {
	rec := &recorder{}
	src := &stubSource{sessions: []Session{{ID: "a", TrackID: "t1", Slot: slot(9, 0, 10, 0)}}}
	reg := NewRegistry(src, rec, rec, zerolog.Nop())

	board, err := reg.Board(context.Background(), "sched-1")
	if err != nil {
		t.Fatalf("Board: %v", err)
	}
	again, err := reg.Board(context.Background(), "sched-1")
	if err != nil {
		t.Fatalf("Board: %v", err)
	}
	if board != again || src.calls != 1 {
		t.Fatalf("expected cached board, source calls = %d", src.calls)
	}

	src.sessions = append(src.sessions, Session{ID: "b", TrackID: "t1", Slot: slot(10, 0, 11, 0)})
	if err := reg.Refresh(context.Background(), "sched-1"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := len(board.Confirmed()); got != 2 {
		t.Fatalf("confirmed = %d sessions, want 2", got)
	}

	if err := reg.Refresh(context.Background(), "unknown"); err != nil {
		t.Fatalf("Refresh of unloaded schedule: %v", err)
	}
}

func TestRegistryPropagatesLoadError(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	reg := NewRegistry(&stubSource{err: boom}, rec, rec, zerolog.Nop())

	if _, err := reg.Board(context.Background(), "sched-1"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
}

// gatedSource returns the stored sessions as of the start of each read. Reads
// that find a gate queued announce themselves on reading and then hold their
// snapshot until the gate is closed.
type gatedSource struct {
	mu      sync.Mutex
	stored  []Session
	gates   []chan struct{}
	reading chan struct{}
}

func newGatedSource() *gatedSource {
	return &gatedSource{reading: make(chan struct{}, 1)}
}

func (s *gatedSource) Sessions(_ context.Context, _ string) ([]Session, error) {
	s.mu.Lock()
	snapshot := slices.Clone(s.stored)
	var gate chan struct{}
	if len(s.gates) > 0 {
		gate, s.gates = s.gates[0], s.gates[1:]
	}
	s.mu.Unlock()

	if gate != nil {
		s.reading <- struct{}{}
		<-gate
	}
	return snapshot, nil
}

func (s *gatedSource) store(list ...Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored = list
}

func (s *gatedSource) holdNextRead() chan struct{} {
	gate := make(chan struct{})
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gates = append(s.gates, gate)
	return gate
}

func TestRegistryDropsOutdatedRefresh(t *testing.T) {
	rec := &recorder{}
	src := newGatedSource()
	reg := NewRegistry(src, rec, rec, zerolog.Nop())
	ctx := context.Background()

	board, err := reg.Board(ctx, "sched-1")
	if err != nil {
		t.Fatalf("Board: %v", err)
	}

	// first refresh reads the store before b commits
	gate := src.holdNextRead()
	slow := make(chan error, 1)
	go func() { slow <- reg.Refresh(ctx, "sched-1") }()
	<-src.reading

	b := Session{ID: "b", TrackID: "t1", Slot: slot(10, 0, 11, 0)}
	src.store(b)
	if err := reg.Refresh(ctx, "sched-1"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := board.Confirmed(); len(got) != 1 {
		t.Fatalf("confirmed after second refresh = %+v, want b", got)
	}

	close(gate)
	if err := <-slow; err != nil {
		t.Fatalf("slow Refresh: %v", err)
	}
	if got := board.Confirmed(); len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("confirmed after late refresh = %+v, want b kept", got)
	}
}

func TestRegistryReloadsWhenRefreshedDuringFirstLoad(t *testing.T) {
	rec := &recorder{}
	src := newGatedSource()
	reg := NewRegistry(src, rec, rec, zerolog.Nop())
	ctx := context.Background()

	gate := src.holdNextRead()
	type result struct {
		board *Board
		err   error
	}
	loaded := make(chan result, 1)
	go func() {
		board, err := reg.Board(ctx, "sched-1")
		loaded <- result{board, err}
	}()
	<-src.reading

	src.store(Session{ID: "b", TrackID: "t1", Slot: slot(10, 0, 11, 0)})
	if err := reg.Refresh(ctx, "sched-1"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	close(gate)

	res := <-loaded
	if res.err != nil {
		t.Fatalf("Board: %v", res.err)
	}
	if got := res.board.Confirmed(); len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("baseline = %+v, want the session committed during the load", got)
	}
}
