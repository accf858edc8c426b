package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"relay/internal/dto"
	"relay/internal/observability/middleware"
	"relay/internal/prekey"
	"relay/internal/room"
)

func (h *Handlers) registerDevice(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())
	traceID := middleware.TraceIDFromContext(r.Context())

	var req dto.RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		h.logger.Warn("device registration decode failed", "error", err, "request_id", reqID, "trace_id", traceID)
		return
	}
	res, err := h.prekeys.RegisterDevice(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, prekey.ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		h.logger.Warn("device registration failed", "error", err, "request_id", reqID, "trace_id", traceID)
		return
	}
	h.logger.Info("device registered", "device_id", res.DeviceID, "user_id", res.UserID, "one_time_prekeys", res.OneTimePreKeys, "request_id", reqID, "trace_id", traceID)
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handlers) preKeyBundle(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())
	traceID := middleware.TraceIDFromContext(r.Context())

	deviceID, err := uuid.Parse(r.URL.Query().Get("device_id"))
	if err != nil {
		http.Error(w, "invalid device_id", http.StatusBadRequest)
		h.logger.Warn("prekey bundle invalid device id", "error", err, "request_id", reqID, "trace_id", traceID)
		return
	}
	res, err := h.prekeys.Bundle(r.Context(), deviceID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, prekey.ErrDeviceNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		h.logger.Warn("prekey bundle fetch failed", "error", err, "device_id", deviceID, "request_id", reqID, "trace_id", traceID)
		return
	}
	h.logger.Info("prekey bundle fetched", "device_id", res.DeviceID, "has_one_time", res.OneTimePreKey != nil, "request_id", reqID, "trace_id", traceID)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) rotateSignedPreKey(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())
	traceID := middleware.TraceIDFromContext(r.Context())

	var req dto.RotateSignedPreKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		h.logger.Warn("rotate signed prekey decode failed", "error", err, "request_id", reqID, "trace_id", traceID)
		return
	}
	res, err := h.prekeys.RotateSignedPreKey(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, prekey.ErrInvalidRequest):
			status = http.StatusBadRequest
		case errors.Is(err, prekey.ErrDeviceNotFound):
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		h.logger.Warn("rotate signed prekey failed", "error", err, "request_id", reqID, "trace_id", traceID)
		return
	}
	h.logger.Info("rotated signed prekey", "device_id", res.DeviceID, "added_one_time_keys", res.AddedOneTimeKeys, "request_id", reqID, "trace_id", traceID)
	writeJSON(w, http.StatusOK, res)
}

func roomIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "roomID"))
}

func roomStatus(err error) int {
	switch {
	case errors.Is(err, room.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, room.ErrNotMember):
		return http.StatusForbidden
	case errors.Is(err, room.ErrMessageNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) joinRoom(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	roomID, err := roomIDParam(r)
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	if err := h.rooms.Join(r.Context(), roomID, claims.UserID); err != nil {
		http.Error(w, err.Error(), roomStatus(err))
		h.logger.Warn("room join failed", "error", err, "room_id", roomID, "user_id", claims.UserID)
		return
	}
	h.logger.Info("room joined", "room_id", roomID, "user_id", claims.UserID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) leaveRoom(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	roomID, err := roomIDParam(r)
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	if err := h.rooms.Leave(r.Context(), roomID, claims.UserID); err != nil {
		http.Error(w, err.Error(), roomStatus(err))
		h.logger.Warn("room leave failed", "error", err, "room_id", roomID, "user_id", claims.UserID)
		return
	}
	h.logger.Info("room left", "room_id", roomID, "user_id", claims.UserID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) roomMembers(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDParam(r)
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	claims, _ := ClaimsFromContext(r.Context())
	ids, err := h.rooms.Members(r.Context(), roomID, claims.UserID)
	if err != nil {
		http.Error(w, err.Error(), roomStatus(err))
		return
	}
	members := make([]string, 0, len(ids))
	for _, id := range ids {
		members = append(members, id.String())
	}
	writeJSON(w, http.StatusOK, map[string][]string{"members": members})
}

func (h *Handlers) roomTyping(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDParam(r)
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	claims, _ := ClaimsFromContext(r.Context())
	if err := h.rooms.Authorize(r.Context(), roomID, claims.UserID); err != nil {
		http.Error(w, err.Error(), roomStatus(err))
		return
	}
	ids := h.typing.ActiveTypers(roomID)
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })

	typers := make([]string, 0, len(ids))
	for _, id := range ids {
		typers = append(typers, id.String())
	}
	writeJSON(w, http.StatusOK, dto.TypingResponse{RoomID: roomID.String(), Typers: typers})
}

func (h *Handlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())
	claims, _ := ClaimsFromContext(r.Context())
	roomID, err := roomIDParam(r)
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	var req dto.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := h.rooms.Send(r.Context(), roomID, claims.UserID, claims.DeviceID, req)
	if err != nil {
		http.Error(w, err.Error(), roomStatus(err))
		h.logger.Warn("message send failed", "error", err, "room_id", roomID, "user_id", claims.UserID, "request_id", reqID)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handlers) messageHistory(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	roomID, err := roomIDParam(r)
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	res, err := h.rooms.History(r.Context(), roomID, claims.UserID, r.URL.Query().Get("cursor"), r.URL.Query().Get("after"), limit)
	if err != nil {
		http.Error(w, err.Error(), roomStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) markRead(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	roomID, err := roomIDParam(r)
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	var req dto.MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	messageID, err := uuid.Parse(req.MessageID)
	if err != nil {
		http.Error(w, "invalid messageId", http.StatusBadRequest)
		return
	}
	if err := h.rooms.MarkRead(r.Context(), roomID, claims.UserID, messageID); err != nil {
		http.Error(w, err.Error(), roomStatus(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) userPresence(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	// A user counts as online while a heartbeat is fresh or a socket
	// is still registered, whichever outlives the other.
	online := h.presence.IsOnline(userID) || h.sessions.HasActiveSession(userID)
	writeJSON(w, http.StatusOK, dto.PresenceResponse{
		UserID: userID.String(),
		Online: online,
	})
}
