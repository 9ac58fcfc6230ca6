package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/conference-hall/scheduler/internal/timeslot"
)

type trackView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

type scheduleView struct {
	ID              string      `json:"id"`
	EventID         string      `json:"event_id"`
	Name            string      `json:"name"`
	Timezone        string      `json:"timezone"`
	StartDate       string      `json:"start_date"`
	EndDate         string      `json:"end_date"`
	IntervalMinutes int         `json:"interval_minutes"`
	DayStart        string      `json:"day_start"`
	DayEnd          string      `json:"day_end"`
	Tracks          []trackView `json:"tracks"`
}

func (a *API) handleScheduleGet(w http.ResponseWriter, r *http.Request) {
	sched := scheduleFromContext(r.Context())
	loc := sched.Location()

	view := scheduleView{
		ID:              sched.ID,
		EventID:         sched.EventID,
		Name:            sched.Name,
		Timezone:        loc.String(),
		StartDate:       sched.StartDate.In(loc).Format(time.DateOnly),
		EndDate:         sched.EndDate.In(loc).Format(time.DateOnly),
		IntervalMinutes: sched.IntervalMinutes,
		DayStart:        sched.DayStartTime,
		DayEnd:          sched.DayEndTime,
		Tracks:          make([]trackView, 0, len(sched.Tracks)),
	}
	for _, t := range sched.Tracks {
		view.Tracks = append(view.Tracks, trackView{ID: t.ID, Name: t.Name, Position: t.Position})
	}
	writeJSON(w, http.StatusOK, view)
}

// handleTimeslots returns the grid of one schedule day. Bounds default to the
// schedule's day window and are interpreted in the schedule timezone.
func (a *API) handleTimeslots(w http.ResponseWriter, r *http.Request) {
	sched := scheduleFromContext(r.Context())
	loc := sched.Location()
	q := r.URL.Query()

	day, err := time.ParseInLocation(time.DateOnly, q.Get("day"), loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_day")
		return
	}
	first := sched.StartDate.In(loc)
	last := sched.EndDate.In(loc)
	if day.Before(time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc)) ||
		day.After(time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, loc)) {
		writeError(w, http.StatusBadRequest, "day_out_of_range")
		return
	}

	start, err := timeslot.AtTimeOfDay(day, queryOr(q.Get("start"), sched.DayStartTime))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_start")
		return
	}
	end, err := timeslot.AtTimeOfDay(day, queryOr(q.Get("end"), sched.DayEndTime))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_end")
		return
	}

	interval := sched.IntervalMinutes
	if raw := q.Get("interval"); raw != "" {
		interval, err = strconv.Atoi(raw)
		if err != nil || interval <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_interval")
			return
		}
	}

	includeEnd := false
	if raw := q.Get("include_end"); raw != "" {
		includeEnd, err = strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_include_end")
			return
		}
	}

	slots := timeslot.Daily(day, start, end, interval, includeEnd)
	if slots == nil {
		slots = []timeslot.Slot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"schedule_id":      sched.ID,
		"day":              day.Format(time.DateOnly),
		"timezone":         loc.String(),
		"interval_minutes": interval,
		"slots":            slots,
	})
}

func queryOr(value, def string) string {
	if value == "" {
		return def
	}
	return value
}
