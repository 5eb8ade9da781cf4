package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"inkwell/api/internal/store"
)

// HTTPServer is transport glue only: it decodes requests, reads the
// pre-authenticated identity from the X-User-Id header set by the upstream
// gateway, and maps domain errors onto status codes. All behavior lives in
// Service.
type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, log *zap.Logger) *HTTPServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: log}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.corsOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-Id")
		}
		started := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(started)))
	})
}

// requester returns the authenticated user ID, empty for anonymous callers.
func requester(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-Id"))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.service.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.URL.Path == "/api/documents" {
		switch r.Method {
		case http.MethodPost:
			s.handleCreateDocument(w, r)
		case http.MethodGet:
			s.handleListDocuments(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if rest, ok := strings.CutPrefix(r.URL.Path, "/api/documents/"); ok {
		s.handleDocumentSubroutes(w, r, rest)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/notifications" {
		s.handleListNotifications(w, r)
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == "/api/notifications/poll" {
		s.handlePollNotifications(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/notifications/read-all" {
		count, err := s.service.MarkAllNotificationsRead(r.Context(), requester(r))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"marked": count})
		return
	}
	if rest, ok := strings.CutPrefix(r.URL.Path, "/api/notifications/"); ok {
		if id, found := strings.CutSuffix(rest, "/read"); found && r.Method == http.MethodPost {
			n, err := s.service.MarkNotificationRead(r.Context(), requester(r), id)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, notificationPayload(n))
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleDocumentSubroutes(w http.ResponseWriter, r *http.Request, rest string) {
	documentID, action, _ := strings.Cut(rest, "/")
	if documentID == "" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		view, err := s.service.GetDocument(r.Context(), requester(r), documentID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)

	case action == "" && r.Method == http.MethodPatch:
		var input UpdateDocumentInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.UpdateDocument(r.Context(), requester(r), documentID, input)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case action == "" && r.Method == http.MethodDelete:
		if err := s.service.DeleteDocument(r.Context(), requester(r), documentID); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})

	case action == "share" && r.Method == http.MethodPost:
		var input ShareDocumentInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.ShareDocument(r.Context(), requester(r), documentID, input)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case action == "unshare" && r.Method == http.MethodPost:
		var input struct {
			UserID string `json:"userId"`
		}
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.UnshareDocument(r.Context(), requester(r), documentID, input.UserID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case action == "history" && r.Method == http.MethodGet:
		entries, err := s.service.GetHistory(r.Context(), requester(r), documentID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var input CreateDocumentInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.CreateDocument(r.Context(), requester(r), input)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *HTTPServer) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	result, err := s.service.ListDocuments(r.Context(), requester(r), page)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	since, err := queryTime(r, "since")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error(), nil)
		return
	}
	feed, err := s.service.ListNotifications(r.Context(), requester(r), since, page)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(feed.Items))
	for _, n := range feed.Items {
		items = append(items, notificationPayload(n))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":           items,
		"unreadCount":     feed.UnreadCount,
		"latestTimestamp": feed.LatestTimestamp,
		"hasMore":         feed.HasMore,
	})
}

func (s *HTTPServer) handlePollNotifications(w http.ResponseWriter, r *http.Request) {
	since, err := queryTime(r, "since")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error(), nil)
		return
	}
	var sinceValue time.Time
	if since != nil {
		sinceValue = *since
	}
	result, err := s.service.PollNotifications(r.Context(), requester(r), sinceValue)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hasNew":          result.HasNew,
		"newCount":        result.NewCount,
		"unreadCount":     result.UnreadCount,
		"latestTimestamp": result.LatestTimestamp,
	})
}

func notificationPayload(n store.Notification) map[string]any {
	return map[string]any{
		"id":          n.ID,
		"recipientId": n.RecipientID,
		"senderId":    n.SenderID,
		"type":        n.Type,
		"documentId":  n.DocumentID,
		"message":     n.Message,
		"isRead":      n.IsRead,
		"createdAt":   n.CreatedAt,
	}
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s timestamp, want RFC3339", key)
	}
	return &parsed, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

func writeDomainError(w http.ResponseWriter, err error) {
	var domain *DomainError
	if errors.As(err, &domain) {
		writeError(w, domain.Status, domain.Code, domain.Message, domain.Details)
		return
	}
	writeError(w, http.StatusInternalServerError, "INTERNAL", "Internal error", nil)
}
