// Package gateway receives provider webhooks, authenticates them, and
// turns them into typed events on the dispatch bus.
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bridge/internal/domain"
	"github.com/spec-kit/ticket-bridge/internal/events"
	"github.com/spec-kit/ticket-bridge/internal/observability"
	util "github.com/spec-kit/ticket-bridge/pkg/util"
)

// Provider webhook headers.
const (
	HeaderSignature = "X-MerciYanis-Signature"
	HeaderEvent     = "X-MerciYanis-Event"
	HeaderDelivery  = "X-MerciYanis-Delivery"
	HeaderHookID    = "X-MerciYanis-Hook-ID"
)

const processTimeout = 30 * time.Second

// Gateway validates inbound deliveries and publishes accepted ones.
// Acknowledgment and domain processing are decoupled: the sender gets
// its 200 as soon as the delivery is authenticated, and everything after
// that only surfaces through logs.
type Gateway struct {
	secret   []byte
	uaPrefix string
	bus      events.Dispatcher
	dedupe   DedupeStore
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// New builds a gateway.
func New(secret, uaPrefix string, bus events.Dispatcher, dedupe DedupeStore, logger *zap.Logger, metrics *observability.Metrics) *Gateway {
	return &Gateway{
		secret:   []byte(secret),
		uaPrefix: uaPrefix,
		bus:      bus,
		dedupe:   dedupe,
		logger:   logger,
		metrics:  metrics,
	}
}

// Handle is the fiber handler for the provider webhook route. Checks run
// cheapest first: sender identity, then signature, then the delivery is
// acknowledged and handed off.
func (g *Gateway) Handle(c *fiber.Ctx) error {
	ua := c.Get(fiber.HeaderUserAgent)
	if !strings.HasPrefix(ua, g.uaPrefix) {
		g.metrics.RecordWebhook("invalid_sender")
		return util.NewInvalidSender(ua)
	}

	if !g.verifySignature(c.Get(HeaderSignature), c.Body()) {
		g.metrics.RecordWebhook("invalid_signature")
		return util.NewInvalidSignature()
	}

	eventType := c.Get(HeaderEvent, "UNKNOWN")
	deliveryID := c.Get(HeaderDelivery, "UNKNOWN")
	hookID := c.Get(HeaderHookID, "UNKNOWN")

	g.logger.Info("webhook delivery accepted",
		zap.String("event", eventType),
		zap.String("delivery_id", deliveryID),
		zap.String("hook_id", hookID))
	g.metrics.RecordWebhook("accepted")

	// c.Body() is only valid for the lifetime of the request.
	body := make([]byte, len(c.Body()))
	copy(body, c.Body())

	go g.process(domain.EventType(eventType), deliveryID, hookID, body)

	return c.SendString("ok")
}

// verifySignature checks the sha256=<hex> HMAC of the raw body. An empty
// shared secret rejects everything: signing is enforced, never optional.
func (g *Gateway) verifySignature(header string, rawBody []byte) bool {
	if len(g.secret) == 0 {
		return false
	}
	algo, hexDigest, found := strings.Cut(header, "=")
	if !found || algo != "sha256" || hexDigest == "" {
		return false
	}
	provided, err := hex.DecodeString(hexDigest)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, g.secret)
	mac.Write(rawBody)
	return hmac.Equal(provided, mac.Sum(nil))
}

// process runs after the sender has been acknowledged. Failures here are
// logged only; there is no second HTTP response to send.
func (g *Gateway) process(eventType domain.EventType, deliveryID, hookID string, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	dup, err := g.dedupe.MarkSeen(ctx, deliveryID)
	if err != nil {
		// Processing a delivery twice is safe; dropping one is not.
		g.logger.Warn("dedupe store unavailable, processing without dedupe",
			zap.String("delivery_id", deliveryID), zap.Error(err))
	}
	if dup {
		g.logger.Info("duplicate delivery suppressed", zap.String("delivery_id", deliveryID))
		g.metrics.RecordWebhook("duplicate")
		return
	}

	var payload domain.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		g.logger.Error("webhook payload unreadable",
			zap.String("delivery_id", deliveryID), zap.Error(err))
		return
	}

	if err := g.bus.Publish(ctx, events.Event{
		Name:       eventType,
		DeliveryID: deliveryID,
		HookID:     hookID,
		ReceivedAt: time.Now(),
		Payload:    payload,
	}); err != nil {
		g.logger.Error("event publish failed",
			zap.String("delivery_id", deliveryID), zap.Error(err))
	}
}
