package hostvars

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// wsBuffer is the change backlog kept per websocket client.
const wsBuffer = 64

// Handler exposes a [Bus] over HTTP:
//
//	GET /vars            list all variables
//	GET /vars/{name}     read one variable
//	PUT /vars/{name}     write {"value": ...}
//	GET /vars/ws         websocket: snapshot, then changes; accepts writes
type Handler struct {
	bus *Bus
	log *slog.Logger
}

// NewHandler returns a Handler serving bus.
func NewHandler(bus *Bus, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{bus: bus, log: log}
}

// Register adds the routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /vars", h.list)
	mux.HandleFunc("GET /vars/ws", h.stream)
	mux.HandleFunc("GET /vars/{name}", h.get)
	mux.HandleFunc("PUT /vars/{name}", h.put)
}

type writeRequest struct {
	Name  string `json:"name,omitempty"`
	Value any    `json:"value"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.bus.List())
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	v, ok := h.bus.Get(r.PathValue("name"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: ErrUnknownVar.Error()})
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) put(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req writeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if err := h.bus.Set(r.Context(), name, req.Value, OriginHTTP); err != nil {
		writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
		return
	}
	v, _ := h.bus.Get(name)
	writeJSON(w, http.StatusOK, v)
}

// stream upgrades to a websocket. The client first receives every variable,
// then each change as it happens. Messages it sends are applied as writes;
// failed writes are answered with an error message.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn("host variable websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	changes, unsubscribe := h.bus.Subscribe(wsBuffer)
	defer unsubscribe()

	if err := wsjson.Write(ctx, conn, h.bus.List()); err != nil {
		return
	}

	replies := make(chan errorResponse, 1)
	go func() {
		defer cancel()
		for {
			var req writeRequest
			if err := wsjson.Read(ctx, conn, &req); err != nil {
				if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
					h.log.Debug("host variable websocket read failed", "err", err)
				}
				return
			}
			if err := h.bus.Set(ctx, req.Name, req.Value, OriginWS); err != nil {
				select {
				case replies <- errorResponse{Error: err.Error()}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for {
		var msg any
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			msg = c
		case e := <-replies:
			msg = e
		}
		if err := wsjson.Write(ctx, conn, msg); err != nil {
			return
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnknownVar):
		return http.StatusNotFound
	case errors.Is(err, ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidValue):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}
