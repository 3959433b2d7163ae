package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"orion-bridge/api/middleware"
	"orion-bridge/api/services"
	"orion-bridge/db"
	"orion-bridge/pkg/ontology"
	"orion-bridge/pkg/orion"
	embeddednats "orion-bridge/pkg/services/embedded-nats"
	"orion-bridge/pkg/shared"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Largest notification body the relay accepts from the broker.
const maxNotifyBody = 1 << 20

// Broker is what the relay needs from orion.Client.
type Broker interface {
	services.Broker
	Version(ctx context.Context) (*ontology.VersionInfo, error)
}

type Handlers struct {
	ledger        *db.Service
	broker        Broker
	nats          *embeddednats.EmbeddedNATS
	notifications *services.NotificationService
	subscriptions *services.SubscriptionService
	started       time.Time
}

// NewHandlers wires the relay services. nats may be nil, in which case
// notifications are written straight to the ledger.
func NewHandlers(ledger *db.Service, broker Broker, nats *embeddednats.EmbeddedNATS) *Handlers {
	var publisher services.Publisher
	if nats != nil {
		publisher = nats
	}

	return &Handlers{
		ledger:        ledger,
		broker:        broker,
		nats:          nats,
		notifications: services.NewNotificationService(ledger, publisher),
		subscriptions: services.NewSubscriptionService(ledger, broker, publisher),
		started:       time.Now(),
	}
}

// Notifications exposes the ledger writer for the NATS recorder worker.
func (h *Handlers) Notifications() *services.NotificationService {
	return h.notifications
}

// Notify receives the broker's notifyContextRequest callbacks.
func (h *Handlers) Notify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxNotifyBody))
	if err != nil {
		sendError(w, http.StatusRequestEntityTooLarge, "INVALID_REQUEST", err.Error())
		return
	}

	n, err := h.notifications.Accept(r.Context(), body)
	if err != nil {
		if errors.Is(err, services.ErrInvalidNotification) {
			sendError(w, http.StatusBadRequest, "INVALID_NOTIFICATION", err.Error())
		} else {
			sendError(w, http.StatusInternalServerError, "RECORD_FAILED", err.Error())
		}
		return
	}

	sendSuccess(w, http.StatusOK, map[string]string{
		"notification_id": n.NotificationID,
		"subscription_id": n.SubscriptionID,
	})
}

func (h *Handlers) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			sendError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	notifications, err := h.notifications.List(r.Context(), r.URL.Query().Get("subscription_id"), limit)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}

	sendSuccess(w, http.StatusOK, notifications)
}

// Subscription handlers
func (h *Handlers) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req ontology.CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.EntityID == "" {
		sendError(w, http.StatusBadRequest, "MISSING_ENTITY_ID", "entity_id is required")
		return
	}

	sub, err := h.subscriptions.Create(r.Context(), &req)
	if err != nil {
		sendBrokerError(w, "CREATE_FAILED", err)
		return
	}

	sendSuccess(w, http.StatusCreated, sub)
}

func (h *Handlers) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))

	subs, err := h.subscriptions.List(r.Context(), activeOnly)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}

	sendSuccess(w, http.StatusOK, subs)
}

func (h *Handlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subscriptions.Get(r.Context(), r.URL.Query().Get("subscription_id"))
	if err != nil {
		if errors.Is(err, services.ErrSubscriptionNotFound) {
			sendError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		} else {
			sendError(w, http.StatusInternalServerError, "GET_FAILED", err.Error())
		}
		return
	}

	sendSuccess(w, http.StatusOK, sub)
}

func (h *Handlers) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	subscriptionID := r.URL.Query().Get("subscription_id")
	if subscriptionID == "" {
		sendError(w, http.StatusBadRequest, "MISSING_SUBSCRIPTION_ID", "subscription_id is required")
		return
	}

	resp, err := h.subscriptions.Cancel(r.Context(), subscriptionID)
	if err != nil {
		sendBrokerError(w, "CANCEL_FAILED", err)
		return
	}

	sendSuccess(w, http.StatusOK, resp)
}

// HealthCheck reports on the ledger, NATS and broker reachability.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := shared.HealthStatus{
		Status:    "healthy",
		Service:   shared.ServiceName,
		Uptime:    time.Since(h.started).Round(time.Second),
		Timestamp: time.Now(),
		Details:   make(map[string]string),
	}

	if err := h.ledger.Health(); err != nil {
		health.Status = "unhealthy"
		health.Details["database"] = "unhealthy: " + err.Error()
	} else {
		health.Details["database"] = "healthy"
		if st, err := h.ledger.Stats(); err == nil {
			health.Details["subscriptions_active"] = strconv.FormatInt(st.ActiveSubscriptions, 10)
			health.Details["notifications"] = strconv.FormatInt(st.Notifications, 10)
		}
	}

	if h.nats == nil {
		health.Details["nats"] = "disabled"
	} else if err := h.nats.HealthCheck(); err != nil {
		health.Status = "unhealthy"
		health.Details["nats"] = "unhealthy: " + err.Error()
	} else {
		health.Details["nats"] = "healthy"
	}

	// An unreachable broker degrades the relay but notifications still land.
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if v, err := h.broker.Version(ctx); err != nil {
		if health.Status == "healthy" {
			health.Status = "degraded"
		}
		health.Details["orion"] = "unreachable: " + err.Error()
	} else {
		health.Details["orion"] = "healthy"
		health.Version = v.Orion.Version
	}

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	sendSuccess(w, statusCode, health)
}

// Helper functions
func sendSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := shared.Response{
		Success: true,
		Data:    data,
	}

	json.NewEncoder(w).Encode(response)
}

func sendError(w http.ResponseWriter, statusCode int, code, message string) {
	sendErrorDetails(w, statusCode, code, message, "")
}

func sendErrorDetails(w http.ResponseWriter, statusCode int, code, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := shared.Response{
		Success: false,
		Error: &shared.Error{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	json.NewEncoder(w).Encode(response)
}

// sendBrokerError maps client failures onto relay responses. Broker
// rejections surface as 502 with the broker's body as details.
func sendBrokerError(w http.ResponseWriter, code string, err error) {
	switch {
	case errors.Is(err, orion.ErrInvalidDuration):
		sendError(w, http.StatusBadRequest, code, err.Error())
	case orion.IsNotFound(err):
		sendError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	default:
		if oe, ok := orion.AsError(err); ok {
			sendErrorDetails(w, http.StatusBadGateway, code, err.Error(), string(oe.Body))
			return
		}
		sendError(w, http.StatusInternalServerError, code, err.Error())
	}
}

// RegisterRoutes sets up all relay routes. gatherer backs /metrics and
// defaults to the global registry.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux, bearerToken string, gatherer prometheus.Gatherer) {
	auth := middleware.BearerAuth(bearerToken)
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	// Unauthenticated: the broker cannot send our token.
	mux.HandleFunc("/health", h.HealthCheck)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc(orion.DefaultCallbackPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
			return
		}
		h.Notify(w, r)
	})

	mux.HandleFunc("/api/v1/notifications", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			auth(h.ListNotifications)(w, r)
		default:
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
		}
	})

	mux.HandleFunc("/api/v1/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			auth(h.CreateSubscription)(w, r)
		case http.MethodGet:
			if r.URL.Query().Get("subscription_id") != "" {
				auth(h.GetSubscription)(w, r)
			} else {
				auth(h.ListSubscriptions)(w, r)
			}
		case http.MethodDelete:
			auth(h.CancelSubscription)(w, r)
		default:
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
		}
	})
}
