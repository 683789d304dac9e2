package server

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/ValgulNecron/kasuki-cache/internal/fetcher"
	"github.com/ValgulNecron/kasuki-cache/internal/fingerprint"
)

const (
	headerForceLive   = "X-Force-Live"
	headerCacheHit    = "X-Kasuki-Cache-Hit"
	headerCacheStale  = "X-Kasuki-Cache-Stale"
	headerStoredAt    = "X-Kasuki-Stored-At"
	headerFingerprint = "X-Kasuki-Fingerprint"
)

// fetchRequest 是 POST /v1/:upstream 的请求体。
// query 作为 operation 的别名，便于直接转发 GraphQL 形态的 payload。
type fetchRequest struct {
	Operation string         `json:"operation"`
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type fetchHandler struct {
	logger *logrus.Logger
}

func (h *fetchHandler) Handle(c fiber.Ctx) error {
	route, ok := getRouteFromContext(c)
	if !ok || route.Fetcher == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "upstream_unmapped"})
	}

	req, err := decodeFetchRequest(c.Body())
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"action":     "fetch",
			"upstream":   route.Config.Name,
			"request_id": RequestID(c),
			"error":      err.Error(),
		}).Warn("invalid fetch request")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid_request",
			"message": err.Error(),
		})
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	resp, err := route.Fetcher.Fetch(ctx, req, forceLiveRequested(c))
	if err != nil {
		return renderFetchError(c, err)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	c.Set(headerCacheHit, strconv.FormatBool(resp.CacheHit))
	c.Set(headerCacheStale, strconv.FormatBool(resp.Stale))
	c.Set(headerStoredAt, strconv.FormatInt(resp.StoredAt.Unix(), 10))
	c.Set(headerFingerprint, fingerprint.KeyDigest(resp.Fingerprint))
	return c.Status(fiber.StatusOK).SendString(resp.Body)
}

func decodeFetchRequest(body []byte) (fingerprint.Request, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return fingerprint.Request{}, errEmptyBody
	}
	var payload fetchRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return fingerprint.Request{}, err
	}
	operation := payload.Operation
	if strings.TrimSpace(operation) == "" {
		operation = payload.Query
	}
	if strings.TrimSpace(operation) == "" {
		return fingerprint.Request{}, errMissingOperation
	}
	return fingerprint.NewRequest(operation, payload.Variables), nil
}

// forceLiveRequested 同时识别 ?live=true 与 X-Force-Live 头。
func forceLiveRequested(c fiber.Ctx) bool {
	if parseBool(c.Query("live")) {
		return true
	}
	return parseBool(c.Get(headerForceLive))
}

func parseBool(raw string) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && value
}

func renderFetchError(c fiber.Ctx, err error) error {
	status, code := fiber.StatusInternalServerError, "internal_error"
	switch fetcher.KindOf(err) {
	case fetcher.KindSerialization:
		status, code = fiber.StatusBadRequest, "unserializable_request"
	case fetcher.KindUpstream:
		status, code = fiber.StatusBadGateway, "upstream_failed"
	case fetcher.KindStore:
		status, code = fiber.StatusInternalServerError, "store_failed"
	}
	return c.Status(status).JSON(fiber.Map{
		"error":   code,
		"message": err.Error(),
	})
}
