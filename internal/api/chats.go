package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/MikeSquared-Agency/scribe/internal/message"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

const defaultMessageLimit = 500

// MessagesResponse is the body of GET /api/v1/chats/messages.
type MessagesResponse struct {
	Chat     message.ChatIdentity  `json:"chat"`
	Stats    MessageStats          `json:"stats"`
	Messages []store.StoredMessage `json:"messages"`
}

// MessageStats counts the returned messages by side.
type MessageStats struct {
	Total       int `json:"total"`
	Owner       int `json:"owner"`
	Counterpart int `json:"counterpart"`
	Paid        int `json:"paid"`
}

// listChats handles GET /api/v1/chats
func (s *Server) listChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.store.ListChats(r.Context())
	if err != nil {
		s.logger.Error("failed to list chats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	if chats == nil {
		chats = []store.ChatSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats, "count": len(chats)})
}

// listMessages handles GET /api/v1/chats/messages
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	chat := message.ChatIdentity{ProfileID: q.Get("profile_id"), ChatURL: q.Get("chat_url")}
	if chat.ProfileID == "" || chat.ChatURL == "" {
		writeError(w, http.StatusBadRequest, "profile_id and chat_url are required")
		return
	}

	limit := defaultMessageLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit: %q", v))
			return
		}
		limit = n
	}

	msgs, err := s.store.ListMessages(r.Context(), chat, limit)
	if err != nil {
		s.logger.Error("failed to list messages", "profile_id", chat.ProfileID, "chat_url", chat.ChatURL, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if msgs == nil {
		msgs = []store.StoredMessage{}
	}

	resp := MessagesResponse{Chat: chat, Messages: msgs}
	for _, m := range msgs {
		resp.Stats.Total++
		if m.IsFromOwner {
			resp.Stats.Owner++
		} else {
			resp.Stats.Counterpart++
		}
		if m.IsPaid {
			resp.Stats.Paid++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
