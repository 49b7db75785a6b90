package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"mirrorpost/internal/handler/http/requestid"
	"mirrorpost/internal/handler/http/respond"
	"mirrorpost/internal/infra/queue"
)

// maxWebhookBody bounds an inbound webhook payload.
const maxWebhookBody = 256 * 1024

var tweetIDPattern = regexp.MustCompile(`/status(?:es)?/(\d+)`)

// iftttRequest is the inbound IFTTT webhook body.
type iftttRequest struct {
	Text         string `json:"text"`
	EmbedCode    string `json:"embed_code"`
	LinkToTweet  string `json:"link_to_tweet"`
	FirstLinkURL string `json:"first_link_url"`
	Username     string `json:"username"`
	BotID        string `json:"bot_id"`
}

// handleIFTTT validates the trigger and writes one pending queue file.
func (s *Server) handleIFTTT(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With(slog.String("request_id", requestid.FromContext(r.Context())))

	q, env, ok := s.queueFor(r)
	if !ok {
		respond.Error(w, http.StatusBadRequest, "unknown environment")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "unreadable body")
		return
	}

	var req iftttRequest
	if err := json.Unmarshal(body, &req); err != nil {
		logger.Warn("webhook with invalid JSON", slog.Any("error", err))
		respond.Error(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Username == "" && req.BotID == "" {
		respond.Error(w, http.StatusBadRequest, "username or bot_id required")
		return
	}

	postID := ""
	if m := tweetIDPattern.FindStringSubmatch(req.LinkToTweet); m != nil {
		postID = m[1]
	}
	if postID == "" {
		respond.Error(w, http.StatusBadRequest, "link_to_tweet carries no status id")
		return
	}

	name, err := q.Enqueue(queue.Payload{
		Text:         req.Text,
		EmbedCode:    req.EmbedCode,
		LinkToTweet:  req.LinkToTweet,
		FirstLinkURL: req.FirstLinkURL,
		Username:     strings.TrimPrefix(req.Username, "@"),
		BotID:        req.BotID,
		PostID:       postID,
	})
	if err != nil {
		logger.Error("failed to enqueue webhook", slog.Any("error", err))
		respond.Error(w, http.StatusInternalServerError, "queue write failed")
		return
	}

	logger.Info("webhook queued",
		slog.String("env", env),
		slog.String("queue_file", name),
		slog.String("username", req.Username),
		slog.String("post_id", postID))
	respond.JSON(w, http.StatusOK, map[string]string{
		"status":     "queued",
		"queue_file": name,
		"post_id":    postID,
	})
}
