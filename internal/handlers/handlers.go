package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"go-kafka-onion/internal/kafka"
	"go-kafka-onion/internal/models"
	"go-kafka-onion/internal/worker"

	"github.com/gin-gonic/gin"
)

type TopicService interface {
	List(ctx context.Context) ([]models.TopicSummary, error)
	Resolve(ctx context.Context, name string) ([]models.TopicSnapshot, error)
}

type MessageService interface {
	Consume(ctx context.Context, topic, groupID string, req models.OffsetRequest) (*models.ConsumptionResult, error)
	ConsumeLatest(ctx context.Context, topic, groupID string) (*models.ConsumptionResult, error)
	ConsumeBefore(ctx context.Context, topic, groupID string, before models.OffsetRequest) (*models.ConsumptionResult, error)
}

type LifecycleService interface {
	Reset(ctx context.Context, name string) error
	Delete(ctx context.Context, name string) error
}

type ProduceService interface {
	Produce(ctx context.Context, topic string, partition int32, payload string) (models.ProduceResult, error)
}

type Handler struct {
	topics    TopicService
	messages  MessageService
	lifecycle LifecycleService
	producer  ProduceService
	pool      *worker.Pool
}

func New(topics TopicService, messages MessageService, lifecycle LifecycleService, producer ProduceService, pool *worker.Pool) *Handler {
	return &Handler{
		topics:    topics,
		messages:  messages,
		lifecycle: lifecycle,
		producer:  producer,
		pool:      pool,
	}
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) ListTopics(c *gin.Context) {
	topics, err := worker.Do(c.Request.Context(), h.pool, h.topics.List)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, topics)
}

func (h *Handler) ResolveTopics(c *gin.Context) {
	snapshots, err := worker.Do(c.Request.Context(), h.pool, func(ctx context.Context) ([]models.TopicSnapshot, error) {
		return h.topics.Resolve(ctx, "")
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshots)
}

func (h *Handler) ResolveTopic(c *gin.Context) {
	name := c.Param("name")
	snapshots, err := worker.Do(c.Request.Context(), h.pool, func(ctx context.Context) ([]models.TopicSnapshot, error) {
		return h.topics.Resolve(ctx, name)
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if len(snapshots) == 0 {
		respondError(c, fmt.Errorf("%w: %s", kafka.ErrTopicNotFound, name))
		return
	}
	c.JSON(http.StatusOK, snapshots)
}

// ConsumeMessages reads a window from the offsets given as
// ?offsets=partition;offset,partition;offset
func (h *Handler) ConsumeMessages(c *gin.Context) {
	req, ok := offsetsQuery(c)
	if !ok {
		return
	}

	name, group := c.Param("name"), c.Query("group")
	result, err := worker.Do(c.Request.Context(), h.pool, func(ctx context.Context) (*models.ConsumptionResult, error) {
		return h.messages.Consume(ctx, name, group, req)
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ConsumeBefore reads the page that ends right before ?offsets=.
func (h *Handler) ConsumeBefore(c *gin.Context) {
	before, ok := offsetsQuery(c)
	if !ok {
		return
	}

	name, group := c.Param("name"), c.Query("group")
	result, err := worker.Do(c.Request.Context(), h.pool, func(ctx context.Context) (*models.ConsumptionResult, error) {
		return h.messages.ConsumeBefore(ctx, name, group, before)
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) ConsumeLatest(c *gin.Context) {
	name, group := c.Param("name"), c.Query("group")
	result, err := worker.Do(c.Request.Context(), h.pool, func(ctx context.Context) (*models.ConsumptionResult, error) {
		return h.messages.ConsumeLatest(ctx, name, group)
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) SendMessage(c *gin.Context) {
	var req models.ProduceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BadRequest", "message": err.Error()})
		return
	}

	name := c.Param("name")
	result, err := worker.Do(c.Request.Context(), h.pool, func(ctx context.Context) (models.ProduceResult, error) {
		return h.producer.Produce(ctx, name, req.Partition, req.Message)
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) DeleteTopic(c *gin.Context) {
	name := c.Param("name")
	_, err := worker.Do(c.Request.Context(), h.pool, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.lifecycle.Delete(ctx, name)
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ResetTopic(c *gin.Context) {
	name := c.Param("name")
	_, err := worker.Do(c.Request.Context(), h.pool, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.lifecycle.Reset(ctx, name)
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func offsetsQuery(c *gin.Context) (models.OffsetRequest, bool) {
	raw := c.Query("offsets")
	if raw == "" {
		// net/url drops query pairs holding an unescaped ';'
		raw = rawQueryValue(c.Request.URL.RawQuery, "offsets")
	}
	req, err := models.ParseOffsetRequest(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BadRequest", "message": err.Error()})
		return nil, false
	}
	return req, true
}

func rawQueryValue(rawQuery, key string) string {
	for _, pair := range strings.Split(rawQuery, "&") {
		k, v, _ := strings.Cut(pair, "=")
		if k != key {
			continue
		}
		if unescaped, err := url.QueryUnescape(v); err == nil {
			return unescaped
		}
		return v
	}
	return ""
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{
		"error":   kafka.ErrorKind(err),
		"message": err.Error(),
	}
	if errors.Is(err, kafka.ErrRecreationFailed) {
		body["topic_missing"] = true
	}
	if status >= http.StatusInternalServerError {
		log.Printf("[api] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, kafka.ErrTopicNotFound):
		return http.StatusNotFound
	case errors.Is(err, kafka.ErrAssignmentFailed):
		return http.StatusBadRequest
	case errors.Is(err, kafka.ErrMetadataUnavailable), errors.Is(err, worker.ErrStopped), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	case errors.Is(err, kafka.ErrDeletionNotConfirmed), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, kafka.ErrConsumerCreation), errors.Is(err, kafka.ErrDeletionFailed), errors.Is(err, kafka.ErrProduceFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
