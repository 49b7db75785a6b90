package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mirrorpost/internal/handler/http/respond"
)

// signatureHeader carries the broadcast HMAC.
const signatureHeader = "X-Hub-Signature"

// handleBroadcast verifies the HMAC signature and persists the raw body
// verbatim; broadcast processing happens elsewhere.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if s.broadcast == nil {
		respond.Error(w, http.StatusNotFound, "broadcast intake not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if !s.verifySignature(body, r.Header.Get(signatureHeader)) {
		s.logger.Warn("broadcast with bad signature")
		respond.Error(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var envelope struct {
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	}
	_ = json.Unmarshal(body, &envelope)
	statusID := envelope.Object.ID
	if statusID == "" {
		// Not a status event; acknowledge without queueing.
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	now := time.Now().UTC()
	name := fmt.Sprintf("%s%03d_tlambot_%s.json",
		now.Format("20060102150405"), now.Nanosecond()/1e6, statusID)
	if err := s.broadcast.EnqueueRaw(name, body); err != nil {
		s.logger.Error("failed to enqueue broadcast", slog.Any("error", err))
		respond.Error(w, http.StatusInternalServerError, "queue write failed")
		return
	}

	s.logger.Info("broadcast queued", slog.String("queue_file", name))
	respond.JSON(w, http.StatusOK, map[string]string{"status": "queued", "queue_file": name})
}

// verifySignature checks the sha256= HMAC with a constant-time compare.
// An absent secret disables verification (dev only).
func (s *Server) verifySignature(body []byte, header string) bool {
	if len(s.secret) == 0 {
		return true
	}
	provided, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(provided)))
}
