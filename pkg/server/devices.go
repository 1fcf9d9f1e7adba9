package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nicktill/queuetrends/pkg/directory"
	"github.com/nicktill/queuetrends/pkg/httpx"
)

func (h *Handler) handleDeviceTrends(w http.ResponseWriter, r *http.Request) {
	start, end, err := h.timeRange(r, defaultLookback)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	out, err := h.engine.DeviceTrends(r.Context(), mux.Vars(r)["id"], start, end, stringParam(r, "interval", "1hour"))
	respond(w, out, err)
}

func (h *Handler) handleDeviceStatistics(w http.ResponseWriter, r *http.Request) {
	start, end, err := h.timeRange(r, defaultLookback)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	out, err := h.engine.DeviceStatistics(r.Context(), mux.Vars(r)["id"], start, end)
	respond(w, out, err)
}

func (h *Handler) handleDeviceHourlyPattern(w http.ResponseWriter, r *http.Request) {
	start, end, err := h.timeRange(r, defaultLookback)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	out, err := h.engine.DeviceHourlyPattern(r.Context(), mux.Vars(r)["id"], start, end)
	respond(w, out, err)
}

func (h *Handler) handleCompareDevices(w http.ResponseWriter, r *http.Request) {
	start, end, err := h.timeRange(r, defaultLookback)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	out, err := h.engine.CompareDevices(r.Context(), listParam(r, "deviceIds"), start, end)
	respond(w, out, err)
}

func (h *Handler) handleAreaAverages(w http.ResponseWriter, r *http.Request) {
	start, end, err := h.timeRange(r, defaultLookback)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	area := directory.Area{
		Location: stringParam(r, "location", ""),
		Segment:  stringParam(r, "segment", ""),
	}
	out, err := h.engine.AreaAverages(r.Context(), area, start, end, stringParam(r, "groupBy", "hour"))
	respond(w, out, err)
}
