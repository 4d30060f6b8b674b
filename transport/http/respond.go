package http

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"chatwire/domain"
	"chatwire/errors"

	"github.com/go-playground/validator/v10"
)

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type userJSON struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

type messageJSON struct {
	ID             uint64 `json:"id"`
	ConversationID uint64 `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	SenderUsername string `json:"sender_username"`
	Content        string `json:"content"`
	Type           string `json:"type"`
	Lang           string `json:"lang,omitempty"`
	CreatedAt      string `json:"created_at"`
}

type conversationJSON struct {
	ID          uint64 `json:"id"`
	Name        string `json:"name,omitempty"`
	IsGroup     bool   `json:"is_group"`
	OtherHandle string `json:"other_username,omitempty"`
	LastMessage string `json:"last_message,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func toUserJSON(u domain.User) userJSON {
	return userJSON{ID: u.ID, Username: u.Handle, Avatar: u.Avatar}
}

func toMessageJSON(m domain.Message) messageJSON {
	return messageJSON{
		ID:             m.Seq,
		ConversationID: uint64(m.Conversation),
		SenderID:       m.SenderID,
		SenderUsername: m.SenderHandle,
		Content:        m.Content,
		Type:           m.Type,
		Lang:           m.Lang,
		CreatedAt:      m.CreatedAt.Format(timeLayout),
	}
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// respondError maps domain errors to HTTP status codes. Unknown errors
// become opaque 500s; the caller gets no internals beyond the message.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var validationErrs validator.ValidationErrors
	switch {
	case stderrors.Is(err, errors.ErrEmptyContent),
		stderrors.Is(err, errors.ErrInvalidHandle),
		stderrors.Is(err, errors.ErrInvalidPassword),
		stderrors.Is(err, errors.ErrMissingField),
		stderrors.As(err, &validationErrs):
		respondJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case stderrors.Is(err, errors.ErrUnauthenticated),
		stderrors.Is(err, errors.ErrInvalidCredentials):
		respondJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error()})
	case stderrors.Is(err, errors.ErrNotParticipant):
		respondJSON(w, http.StatusForbidden, errorBody{Error: err.Error()})
	case stderrors.Is(err, errors.ErrUserNotFound),
		stderrors.Is(err, errors.ErrConversationNotFound):
		respondJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case stderrors.Is(err, errors.ErrUserAlreadyExists):
		respondJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	default:
		h.Log.Error("Request failed", "err", err)
		respondJSON(w, http.StatusInternalServerError, errorBody{
			Error:   "internal error",
			Details: err.Error(),
		})
	}
}
