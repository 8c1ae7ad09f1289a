package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/joescharf/debthunt/internal/models"
)

// maxWebhookBody bounds a webhook payload; GitHub caps deliveries at 25MB.
const maxWebhookBody = 25 << 20

type ghAccount struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
}

type ghInstallation struct {
	ID      int64     `json:"id"`
	Account ghAccount `json:"account"`
}

type ghRepository struct {
	ID            int64  `json:"id"`
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
}

type installationEvent struct {
	Action       string         `json:"action"`
	Installation ghInstallation `json:"installation"`
	Repositories []ghRepository `json:"repositories"`
}

type pushEvent struct {
	Ref          string         `json:"ref"`
	Repository   ghRepository   `json:"repository"`
	Installation ghInstallation `json:"installation"`
}

// validSignature checks an X-Hub-Signature-256 header against body.
func validSignature(secret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func (s *Server) githubWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}
	if s.webhookSecret != "" && !validSignature(s.webhookSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		s.log.Warn("webhook signature mismatch", "delivery", r.Header.Get("X-GitHub-Delivery"))
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	s.log.Debug("webhook received", "event", event, "delivery", r.Header.Get("X-GitHub-Delivery"))

	switch event {
	case "ping":
		writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
	case "installation":
		s.handleInstallation(w, r, body)
	case "push":
		s.handlePush(w, r, body)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "event": event})
	}
}

func (s *Server) handleInstallation(w http.ResponseWriter, r *http.Request, body []byte) {
	var ev installationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if ev.Action != "created" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged", "action": ev.Action})
		return
	}

	ctx := r.Context()
	inst := &models.Installation{
		ID:           ev.Installation.ID,
		AccountLogin: ev.Installation.Account.Login,
		AccountID:    ev.Installation.Account.ID,
		InstalledAt:  time.Now().UTC(),
	}
	if err := s.store.UpsertInstallation(ctx, inst); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	for _, gr := range ev.Repositories {
		repo := &models.Repository{
			ID:             gr.ID,
			InstallationID: inst.ID,
			FullName:       gr.FullName,
			IsActive:       true,
		}
		if err := s.store.UpsertRepository(ctx, repo); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	s.log.Info("installation registered", "installation", inst.ID, "account", inst.AccountLogin, "repositories", len(ev.Repositories))
	writeJSON(w, http.StatusOK, map[string]any{"status": "installed", "repositories": len(ev.Repositories)})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request, body []byte) {
	var ev pushEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	branch := ev.Repository.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	if ev.Ref != "refs/heads/"+branch {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "not default branch"})
		return
	}

	repo := &models.Repository{
		ID:             ev.Repository.ID,
		InstallationID: ev.Installation.ID,
		FullName:       ev.Repository.FullName,
		DefaultBranch:  branch,
		IsActive:       true,
	}
	if err := s.store.UpsertRepository(r.Context(), repo); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !s.enqueueRun(repo, branch) {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "throttled", "repository": repo.FullName})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "repository": repo.FullName})
}
