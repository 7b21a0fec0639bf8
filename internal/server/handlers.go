package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/user/markhub/internal/indexer"
	"github.com/user/markhub/internal/integrations"
)

// actionRequest is the body of POST /api/integrations. Only the fields the
// action needs are read.
type actionRequest struct {
	Action        string                      `json:"action"`
	IntegrationID string                      `json:"integrationId"`
	Credentials   integrations.Credentials    `json:"credentials,omitempty"`
	Config        *integrations.ConfigUpdate  `json:"config,omitempty"`
	Bookmarks     []integrations.BookmarkData `json:"bookmarks,omitempty"`
	FromStore     bool                        `json:"fromStore,omitempty"`
	FileData      string                      `json:"fileData,omitempty"`
	FileName      string                      `json:"fileName,omitempty"`
	Webhook       *integrations.ZapierWebhook `json:"webhook,omitempty"`
	WebhookID     string                      `json:"webhookId,omitempty"`
	WebhookUpdate *integrations.WebhookUpdate `json:"webhookUpdate,omitempty"`
	Event         integrations.WebhookEvent   `json:"event,omitempty"`
	Bookmark      *integrations.BookmarkData  `json:"bookmark,omitempty"`
	Changes       map[string]any              `json:"changes,omitempty"`
	URL           string                      `json:"url,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Int("status", status).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

func (s *Server) badRequest(w http.ResponseWriter, format string, args ...any) {
	s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf(format, args...)})
}

// statusFor maps integration errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, integrations.ErrNotFound), errors.Is(err, indexer.ErrNotIndexed):
		return http.StatusNotFound
	case errors.Is(err, integrations.ErrDisabled),
		errors.Is(err, integrations.ErrUnconfigured),
		errors.Is(err, integrations.ErrReauthRequired),
		errors.Is(err, integrations.ErrUnsupportedOperation):
		return http.StatusConflict
	case errors.Is(err, integrations.ErrValidation):
		return http.StatusBadRequest
	case integrations.IsProviderError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	action := r.URL.Query().Get("action")
	id := r.URL.Query().Get("id")

	needID := func() bool {
		if id == "" {
			s.badRequest(w, "action %q requires id", action)
			return false
		}
		return true
	}

	switch action {
	case "", "list":
		s.writeJSON(w, http.StatusOK, s.deps.Manager.AllIntegrationStatuses())

	case "status":
		if !needID() {
			return
		}
		status, err := s.deps.Manager.IntegrationStatus(id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, status)

	case "import":
		if !needID() {
			return
		}
		res, err := s.deps.Manager.ImportFromIntegration(ctx, id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		stats, err := s.deps.Indexer.Ingest(ctx, id, res)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"result": res, "stored": stats})

	case "import-all":
		results := s.deps.Manager.ImportFromAll(ctx)
		stored, err := s.deps.Indexer.IngestAll(ctx, results)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"results": results, "stored": stored})

	case "sync":
		if !needID() {
			return
		}
		res, err := s.deps.Manager.SyncWithIntegration(ctx, id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		stored := storeSyncResults(ctx, s.deps.Indexer, s.logger, map[string]*integrations.SyncResult{id: res})
		s.writeJSON(w, http.StatusOK, map[string]any{"result": res, "stored": stored[id]})

	case "auto-sync":
		results := s.deps.Manager.AutoSync(ctx)
		stored := storeSyncResults(ctx, s.deps.Indexer, s.logger, results)
		s.writeJSON(w, http.StatusOK, map[string]any{"results": results, "stored": stored})

	case "webhooks":
		zapier, err := s.zapier()
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, zapier.Webhooks())

	default:
		s.badRequest(w, "unknown action %q", action)
	}
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request body: %v", err)
		return
	}
	id := req.IntegrationID

	switch req.Action {
	case "authenticate":
		ok, err := s.deps.Manager.AuthenticateIntegration(ctx, id, req.Credentials)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"success": ok})

	case "configure":
		if req.Config == nil {
			s.badRequest(w, "configure requires config")
			return
		}
		if err := s.deps.Manager.UpdateIntegrationConfig(id, *req.Config); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeStatus(w, id)

	case "enable":
		if err := s.deps.Manager.SetIntegrationEnabled(id, true); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeStatus(w, id)

	case "disable":
		// Disabling drops stored credentials and settings along with the flag.
		if err := s.deps.Manager.DisableIntegration(id); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeStatus(w, id)

	case "export":
		bookmarks := req.Bookmarks
		if req.FromStore {
			stored, err := s.deps.Store.List(nil, 0)
			if err != nil {
				s.writeError(w, err)
				return
			}
			bookmarks = make([]integrations.BookmarkData, 0, len(stored))
			for i := range stored {
				bookmarks = append(bookmarks, stored[i].BookmarkData())
			}
		}
		res, err := s.deps.Manager.ExportToIntegration(ctx, id, bookmarks)
		if err != nil {
			s.writeError(w, err)
			return
		}
		body := map[string]any{"result": res}
		if id == integrations.ChromeID {
			if chrome, err := s.chrome(); err == nil && chrome.ExportData() != "" {
				body["exportData"] = json.RawMessage(chrome.ExportData())
			}
		}
		s.writeJSON(w, http.StatusOK, body)

	case "upload-file":
		chrome, err := s.chrome()
		if err != nil {
			s.writeError(w, err)
			return
		}
		if err := chrome.UploadFile([]byte(req.FileData), req.FileName); err != nil {
			s.writeError(w, err)
			return
		}
		s.deps.Manager.Persist(integrations.ChromeID)
		s.writeStatus(w, integrations.ChromeID)

	case "add-webhook":
		zapier, err := s.zapier()
		if err != nil {
			s.writeError(w, err)
			return
		}
		if req.Webhook == nil {
			s.badRequest(w, "add-webhook requires webhook")
			return
		}
		hook, err := zapier.AddWebhook(*req.Webhook)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.deps.Manager.Persist(integrations.ZapierID)
		s.writeJSON(w, http.StatusCreated, hook)

	case "update-webhook":
		zapier, err := s.zapier()
		if err != nil {
			s.writeError(w, err)
			return
		}
		if req.WebhookUpdate == nil {
			s.badRequest(w, "update-webhook requires webhookUpdate")
			return
		}
		hook, err := zapier.UpdateWebhook(req.WebhookID, *req.WebhookUpdate)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.deps.Manager.Persist(integrations.ZapierID)
		s.writeJSON(w, http.StatusOK, hook)

	case "remove-webhook":
		zapier, err := s.zapier()
		if err != nil {
			s.writeError(w, err)
			return
		}
		if err := zapier.RemoveWebhook(req.WebhookID); err != nil {
			s.writeError(w, err)
			return
		}
		s.deps.Manager.Persist(integrations.ZapierID)
		s.writeJSON(w, http.StatusOK, map[string]any{"success": true})

	case "test-webhook":
		zapier, err := s.zapier()
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"success": zapier.TestWebhook(ctx, req.WebhookID)})

	case "trigger-webhook":
		zapier, err := s.zapier()
		if err != nil {
			s.writeError(w, err)
			return
		}
		if req.Bookmark == nil {
			s.badRequest(w, "trigger-webhook requires bookmark")
			return
		}
		if !slices.Contains(integrations.WebhookEvents, req.Event) {
			s.badRequest(w, "unknown event %q", req.Event)
			return
		}
		s.writeJSON(w, http.StatusOK, zapier.Trigger(ctx, req.Event, *req.Bookmark, req.Changes))

	case "delete-bookmark":
		if req.URL == "" {
			s.badRequest(w, "delete-bookmark requires url")
			return
		}
		b, err := s.deps.Indexer.Delete(ctx, req.URL)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, b.BookmarkData())

	default:
		s.badRequest(w, "unknown action %q", req.Action)
	}
}

// handleDelete disables an integration and clears its credentials and
// settings.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		s.badRequest(w, "id is required")
		return
	}
	if err := s.deps.Manager.DisableIntegration(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) writeStatus(w http.ResponseWriter, id string) {
	status, err := s.deps.Manager.IntegrationStatus(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) zapier() (*integrations.ZapierIntegration, error) {
	i, err := s.deps.Manager.Get(integrations.ZapierID)
	if err != nil {
		return nil, err
	}
	z, ok := i.(*integrations.ZapierIntegration)
	if !ok {
		return nil, fmt.Errorf("%w: %s webhooks", integrations.ErrUnsupportedOperation, integrations.ZapierID)
	}
	return z, nil
}

func (s *Server) chrome() (*integrations.ChromeIntegration, error) {
	i, err := s.deps.Manager.Get(integrations.ChromeID)
	if err != nil {
		return nil, err
	}
	c, ok := i.(*integrations.ChromeIntegration)
	if !ok {
		return nil, fmt.Errorf("%w: %s upload", integrations.ErrUnsupportedOperation, integrations.ChromeID)
	}
	return c, nil
}
