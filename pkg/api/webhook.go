package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/oakforge/devpipe/ent"
)

// issuePayload is the subset of a code-host issue webhook this intake
// understands. GitHub's "issues" event nests the fields this way; other
// providers are expected to normalize to the same shape upstream (a
// dedicated adapter per provider is out of scope — see SPEC_FULL.md §6).
type issuePayload struct {
	Action string `json:"action"`
	Issue  struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
	} `json:"issue"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// webhookHandler handles POST /webhooks/:provider. It validates the HMAC
// signature, persists the raw delivery as a WebhookEvent (deduped on
// delivery_id), and returns immediately — the intakeWorker turns the event
// into a Task asynchronously. Mirrors submitAlertHandler's
// bind-validate-persist-respond shape (pkg/api/handler_alert.go), adapted
// to Gin and to webhook delivery semantics (signature + idempotency) in
// place of a synchronous alert submission.
func (s *Server) webhookHandler(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 2<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	if !s.verifySignature(c.GetHeader("X-Hub-Signature-256"), body) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook signature"})
		return
	}

	deliveryID := c.GetHeader("X-GitHub-Delivery")
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed JSON payload"})
		return
	}

	_, err = s.client.WebhookEvent.Create().
		SetID(uuid.NewString()).
		SetDeliveryID(deliveryID).
		SetPayload(payload).
		Save(c.Request.Context())
	if err != nil {
		if ent.IsConstraintError(err) {
			// Same delivery_id already recorded: the provider is retrying a
			// delivery we already accepted. Acknowledge without reprocessing.
			c.JSON(http.StatusAccepted, gin.H{"status": "duplicate_delivery"})
			return
		}
		slog.Error("webhook: failed to persist delivery", "delivery_id", deliveryID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record webhook delivery"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "delivery_id": deliveryID})
}

// verifySignature checks the GitHub-style "sha256=<hex hmac>" header against
// body, keyed on the secret named by cfg.Webhook.SecretEnv. An unconfigured
// secret rejects all deliveries rather than silently accepting unsigned
// webhooks.
func (s *Server) verifySignature(header string, body []byte) bool {
	secret := s.webhookSecret
	if secret == "" {
		return false
	}
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := mac.Sum(nil)
	return hmac.Equal(got, want)
}

// parseIssuePayload extracts the normalized issue fields a Task needs from a
// raw webhook payload, as persisted in WebhookEvent.payload.
func parseIssuePayload(raw map[string]interface{}) (issuePayload, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return issuePayload{}, err
	}
	var p issuePayload
	if err := json.Unmarshal(encoded, &p); err != nil {
		return issuePayload{}, err
	}
	return p, nil
}

// shouldCreateTask reports whether action warrants creating/advancing a
// Task. "opened" and "reopened" are the actionable states; comments,
// labels, and closures are ignored (no task work to do).
func shouldCreateTask(action string) bool {
	switch action {
	case "opened", "reopened":
		return true
	default:
		return false
	}
}

