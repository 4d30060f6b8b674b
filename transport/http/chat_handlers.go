package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"chatwire/auth"
	"chatwire/domain"
	"chatwire/errors"
	"chatwire/search"

	"github.com/gorilla/mux"
	"github.com/samber/lo"
)

type openConversationRequest struct {
	OtherUserID string `json:"other_user_id"`
}

type postMessageRequest struct {
	Content string `json:"content"`
}

func (h *Handler) HandleListConversations(w http.ResponseWriter, r *http.Request) {
	claims := auth.IdentityFromRequest(r)
	if claims == nil {
		h.respondError(w, errors.ErrUnauthenticated)
		return
	}

	summaries, err := h.Chat.ListConversations(claims.UserID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	body := lo.Map(summaries, func(s domain.ConversationSummary, _ int) conversationJSON {
		return conversationJSON{
			ID:          uint64(s.ID),
			Name:        s.Name,
			IsGroup:     s.IsGroup,
			OtherHandle: s.OtherHandle,
			LastMessage: s.LastMessage,
			CreatedAt:   s.CreatedAt.Format(timeLayout),
		}
	})
	respondJSON(w, http.StatusOK, body)
}

// HandleOpenConversation finds or creates the one-to-one conversation
// with the requested peer. Both participants always resolve to the same
// conversation, so opening twice is harmless.
func (h *Handler) HandleOpenConversation(w http.ResponseWriter, r *http.Request) {
	claims := auth.IdentityFromRequest(r)
	if claims == nil {
		h.respondError(w, errors.ErrUnauthenticated)
		return
	}

	var req openConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OtherUserID == "" {
		h.respondError(w, errors.ErrMissingField)
		return
	}

	conversation, otherHandle, err := h.Chat.OpenDirect(claims.UserID, req.OtherUserID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, conversationJSON{
		ID:          uint64(conversation.ID),
		Name:        conversation.Name,
		IsGroup:     conversation.IsGroup,
		OtherHandle: otherHandle,
		CreatedAt:   conversation.CreatedAt.Format(timeLayout),
	})
}

type createGroupRequest struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids"`
}

func (h *Handler) HandleCreateGroup(w http.ResponseWriter, r *http.Request) {
	claims := auth.IdentityFromRequest(r)
	if claims == nil {
		h.respondError(w, errors.ErrUnauthenticated)
		return
	}

	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		h.respondError(w, errors.ErrMissingField)
		return
	}

	conversation, err := h.Chat.CreateGroup(claims.UserID, req.Name, req.MemberIDs)
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, conversationJSON{
		ID:        uint64(conversation.ID),
		Name:      conversation.Name,
		IsGroup:   conversation.IsGroup,
		CreatedAt: conversation.CreatedAt.Format(timeLayout),
	})
}

func (h *Handler) HandleGetMessages(w http.ResponseWriter, r *http.Request) {
	claims := auth.IdentityFromRequest(r)
	if claims == nil {
		h.respondError(w, errors.ErrUnauthenticated)
		return
	}

	conversationID, ok := conversationIDFromRequest(r)
	if !ok {
		h.respondError(w, errors.ErrConversationNotFound)
		return
	}

	// Optional cursor: only messages strictly after it are returned.
	var since *uint64
	if raw := r.URL.Query().Get("since"); raw != "" {
		cursor, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			h.respondError(w, errors.ErrMissingField)
			return
		}
		since = &cursor
	}

	messages, err := h.Chat.GetMessages(claims.UserID, conversationID, since)
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, lo.Map(messages, func(m domain.Message, _ int) messageJSON {
		return toMessageJSON(m)
	}))
}

func (h *Handler) HandlePostMessage(w http.ResponseWriter, r *http.Request) {
	claims := auth.IdentityFromRequest(r)
	if claims == nil {
		h.respondError(w, errors.ErrUnauthenticated)
		return
	}

	conversationID, ok := conversationIDFromRequest(r)
	if !ok {
		h.respondError(w, errors.ErrConversationNotFound)
		return
	}

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, errors.ErrMissingField)
		return
	}

	message, err := h.Chat.PostMessage(r.Context(), conversationID, claims.UserID, claims.Handle, req.Content)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toMessageJSON(message))
}

func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	claims := auth.IdentityFromRequest(r)
	if claims == nil {
		h.respondError(w, errors.ErrUnauthenticated)
		return
	}

	hits, err := h.Index.Search(r.Context(), r.URL.Query().Get("query"), h.searchLimit)
	if err != nil {
		h.respondError(w, err)
		return
	}

	// One snapshot lookup for every avatar instead of a read per hit.
	profiles, err := h.Users.GetUsersByID(lo.Map(hits, func(hit search.Hit, _ int) string {
		return hit.UserID
	}))
	if err != nil {
		h.respondError(w, err)
		return
	}

	// The caller never appears in its own results.
	body := make([]userJSON, 0, len(hits))
	for _, hit := range hits {
		if hit.UserID == claims.UserID {
			continue
		}
		entry := userJSON{ID: hit.UserID, Username: hit.Handle}
		if user, ok := profiles[hit.UserID]; ok {
			entry.Avatar = user.Avatar
		}
		body = append(body, entry)
	}
	respondJSON(w, http.StatusOK, body)
}

func conversationIDFromRequest(r *http.Request) (domain.ConversationID, bool) {
	raw := mux.Vars(r)["conversationId"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return domain.ConversationID(id), true
}
