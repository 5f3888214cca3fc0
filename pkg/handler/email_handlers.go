package handler

import (
	"fmt"
	"net/http"

	"github.com/jadenk/mailux/pkg/email"
	"github.com/jadenk/mailux/pkg/storage"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

type deleteRequest struct {
	Mailbox string  `json:"mailbox"`
	UID     *uint32 `json:"uid"`
}

type folderRequest struct {
	FolderName string `json:"folderName"`
}

type foldersResponse struct {
	Folders []string `json:"folders"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLogin handles POST /api/login
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, "Invalid login request", err)
		return
	}

	token, err := h.sessions.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, "Login failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, loginResponse{Token: token, Username: req.Username})
}

// handleLogout handles POST /api/logout
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, err := bearerToken(r)
	if err == nil {
		err = h.sessions.Logout(token)
	}
	if err != nil {
		h.writeError(w, r, "Logout failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out"})
}

// handleSend handles POST /api/mail/send
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var msg email.OutboundMessage
	if err := decodeJSON(w, r, &msg); err != nil {
		h.writeError(w, r, "Invalid mail", err)
		return
	}

	result, err := h.mailer.Send(r.Context(), msg, credentials(r))
	if err != nil {
		h.writeError(w, r, "Failed to send mail", err)
		return
	}
	h.writeJSON(w, http.StatusOK, messageResponse{Message: "Mail sent successfully", ID: result.MessageID})
}

// handleReply handles POST /api/mail/reply
func (h *Handler) handleReply(w http.ResponseWriter, r *http.Request) {
	var msg email.OutboundMessage
	if err := decodeJSON(w, r, &msg); err != nil {
		h.writeError(w, r, "Invalid reply", err)
		return
	}

	result, err := h.mailer.Reply(r.Context(), msg, credentials(r))
	if err != nil {
		h.writeError(w, r, "Failed to send reply", err)
		return
	}
	h.writeJSON(w, http.StatusOK, messageResponse{Message: "Reply sent successfully", ID: result.MessageID})
}

// handleInbox handles GET /api/mail/inbox
func (h *Handler) handleInbox(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.mailer.ListInbox(r.Context(), credentials(r))
	if err != nil {
		h.writeError(w, r, "Failed to fetch inbox", err)
		return
	}
	h.writeJSON(w, http.StatusOK, nonNil(msgs))
}

// handleSent handles GET /api/mail/sent
func (h *Handler) handleSent(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.mailer.ListSent(r.Context(), credentials(r))
	if err != nil {
		h.writeError(w, r, "Failed to fetch sent mail", err)
		return
	}
	h.writeJSON(w, http.StatusOK, nonNil(msgs))
}

// handleDelete handles DELETE /api/mail/delete
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, "Invalid delete request", err)
		return
	}

	if err := h.mailer.Delete(r.Context(), credentials(r), req.Mailbox, req.UID); err != nil {
		h.writeError(w, r, "Failed to delete mail", err)
		return
	}
	h.writeJSON(w, http.StatusOK, messageResponse{Message: fmt.Sprintf("Mail %d deleted", *req.UID)})
}

// handleCreateFolder handles POST /api/mail/folder
func (h *Handler) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req folderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, "Invalid folder request", err)
		return
	}

	folders, err := h.mailer.CreateFolder(credentials(r).Username, req.FolderName)
	if err != nil {
		h.writeError(w, r, "Failed to create folder", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, foldersResponse{Folders: folders})
}

// handleListFolders handles GET /api/mail/folder
func (h *Handler) handleListFolders(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, foldersResponse{Folders: h.mailer.Folders(credentials(r).Username)})
}

// handleGetSettings handles GET /api/settings
func (h *Handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.GetUserSettings(credentials(r).Username)
	if err != nil {
		h.writeError(w, r, "Failed to load settings", err)
		return
	}
	h.writeJSON(w, http.StatusOK, settings)
}

// handleUpdateSettings handles PATCH /api/settings
func (h *Handler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch storage.SettingsPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		h.writeError(w, r, "Invalid settings", err)
		return
	}

	settings, err := h.settings.UpdateUserSettings(credentials(r).Username, patch)
	if err != nil {
		h.writeError(w, r, "Failed to update settings", err)
		return
	}
	h.writeJSON(w, http.StatusOK, settings)
}

func nonNil(msgs []email.NormalizedMessage) []email.NormalizedMessage {
	if msgs == nil {
		return []email.NormalizedMessage{}
	}
	return msgs
}
