package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/queuetrends/pkg/analytics"
	"github.com/nicktill/queuetrends/pkg/httpx"
)

// Default look-back windows when startTime is omitted.
const (
	defaultLookback    = 24 * time.Hour
	historicalLookback = 7 * 24 * time.Hour
	periodLookbackDays = 6
)

func (h *Handler) handleQueueTrends(w http.ResponseWriter, r *http.Request) {
	start, end, err := h.timeRange(r, defaultLookback)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	out, err := h.engine.CounterQueueTrends(r.Context(), mux.Vars(r)["code"], start, end, stringParam(r, "interval", "1hour"))
	respond(w, out, err)
}

func (h *Handler) handleOccupancyTrends(w http.ResponseWriter, r *http.Request) {
	start, end, err := h.timeRange(r, defaultLookback)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	out, err := h.engine.OccupancyTrends(r.Context(), mux.Vars(r)["code"], start, end, stringParam(r, "interval", "1hour"))
	respond(w, out, err)
}

func (h *Handler) handleHistoricalTrends(w http.ResponseWriter, r *http.Request) {
	start, end, err := h.timeRange(r, historicalLookback)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	out, err := h.engine.HistoricalTrends(r.Context(), mux.Vars(r)["code"], start, end, stringParam(r, "granularity", "day"))
	respond(w, out, err)
}

func (h *Handler) handlePerformance(w http.ResponseWriter, r *http.Request) {
	start, end, err := h.timeRange(r, defaultLookback)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	out, err := h.engine.CounterPerformance(r.Context(), mux.Vars(r)["code"], start, end)
	respond(w, out, err)
}

func (h *Handler) handleKPIs(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.CurrentDayKPIs(r.Context(), mux.Vars(r)["code"])
	respond(w, out, err)
}

func (h *Handler) handleCompareCounters(w http.ResponseWriter, r *http.Request) {
	start, end, err := h.timeRange(r, defaultLookback)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	filter := analytics.ParseFilter(stringParam(r, "filterType", string(analytics.FilterAverage)))
	out, err := h.engine.CompareCounters(r.Context(), listParam(r, "counterCodes"), start, end, filter)
	respond(w, out, err)
}

func (h *Handler) handleCountersSummary(w http.ResponseWriter, r *http.Request) {
	start, end, err := h.timeRange(r, defaultLookback)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	out, err := h.engine.CountersSummary(r.Context(), start, end)
	respond(w, out, err)
}

func (h *Handler) handleCounterFootfall(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.CounterFootfall(r.Context(), mux.Vars(r)["code"])
	respond(w, out, err)
}

// handleFootfallSummary picks the scope from the parameters: counterCode for
// one counter, counterCodes for several, neither for all active counters.
func (h *Handler) handleFootfallSummary(w http.ResponseWriter, r *http.Request) {
	var (
		out *analytics.FootfallSummary
		err error
	)
	if code := stringParam(r, "counterCode", ""); code != "" {
		out, err = h.engine.CounterFootfall(r.Context(), code)
	} else if codes := listParam(r, "counterCodes"); len(codes) > 0 {
		out, err = h.engine.MultiCounterFootfall(r.Context(), codes)
	} else {
		out, err = h.engine.AllCountersFootfall(r.Context())
	}
	respond(w, out, err)
}

func (h *Handler) handleFootfallWaitTime(w http.ResponseWriter, r *http.Request) {
	date, ok, err := h.timeParam(r, "date")
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if !ok {
		date = h.now().In(h.loc)
	}
	out, err := h.engine.FootfallVsWaitTime(r.Context(), mux.Vars(r)["code"], date)
	respond(w, out, err)
}

// handlePeriodTrends takes whole days: startDate and endDate are inclusive
// and default to the week ending today.
func (h *Handler) handlePeriodTrends(w http.ResponseWriter, r *http.Request) {
	endDate, ok, err := h.timeParam(r, "endDate")
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if !ok {
		endDate = h.now().In(h.loc)
	}
	to := startOfDay(endDate, h.loc).AddDate(0, 0, 1).Add(-time.Second)

	startDate, ok, err := h.timeParam(r, "startDate")
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	from := startOfDay(endDate, h.loc).AddDate(0, 0, -periodLookbackDays)
	if ok {
		from = startOfDay(startDate, h.loc)
	}

	out, err := h.engine.PeriodTrends(r.Context(), mux.Vars(r)["code"], stringParam(r, "periodType", "daily"), from, to)
	respond(w, out, err)
}

func (h *Handler) handleLiveStatus(w http.ResponseWriter, r *http.Request) {
	codes := listParam(r, "counterCodes")
	if code := stringParam(r, "counterCode", ""); code != "" {
		codes = append(codes, code)
	}
	out, err := h.engine.LiveStatus(r.Context(), codes)
	respond(w, out, err)
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
