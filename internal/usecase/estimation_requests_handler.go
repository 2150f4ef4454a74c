package usecase

import (
	"context"
	"encoding/json"
	"errors"

	"StoryRisk/internal/domain/models"
	"StoryRisk/pkg/logger"
	pkgkafka "StoryRisk/pkg/kafka"
	"StoryRisk/pkg/queue"
)

// EstimationRequestJobType is the queue message type carrying an estimation request.
const EstimationRequestJobType = "estimation.request"

// EstimationRequestsHandler consumes batch estimation requests and persists
// the results through the Estimator. It serves both the Kafka requests topic
// and the Redis request queue.
type EstimationRequestsHandler struct {
	topic     string
	estimator *Estimator
	log       *logger.Logger
}

func NewEstimationRequestsHandler(topic string, estimator *Estimator, log *logger.Logger) *EstimationRequestsHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &EstimationRequestsHandler{topic: topic, estimator: estimator, log: log.With(logger.String("topic", topic))}
}

func (h *EstimationRequestsHandler) Topic() string { return h.topic }

func (h *EstimationRequestsHandler) Type() string { return EstimationRequestJobType }

// Handle returns an error only for failures worth retrying. Malformed or
// invalid requests are logged and dropped.
func (h *EstimationRequestsHandler) Handle(ctx context.Context, b []byte) error {
	log := h.log
	if id := pkgkafka.TraceID(ctx); id != "" {
		log = log.With(logger.String("trace_id", id))
	}

	var m models.EstimationRequestMessage
	if err := json.Unmarshal(b, &m); err != nil {
		log.Warn("drop malformed estimation request", logger.Error(err))
		return nil
	}

	inputs := models.ApplyProject(m.Stories, m.ProjectID)
	influence := h.estimator.ResolveInfluence(m.DQNInfluence.Ptr())
	results, err := h.estimator.EstimateBatch(ctx, inputs, influence, true)
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			log.Warn("drop invalid estimation request", logger.Error(err))
			return nil
		}
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}
	log.Info("estimation request processed",
		logger.Int("stories", len(results)),
		logger.Int("failed", failed),
		logger.Float64("influence", influence),
	)
	return nil
}

var (
	_ pkgkafka.MessageHandler = (*EstimationRequestsHandler)(nil)
	_ queue.Job               = (*EstimationRequestsHandler)(nil)
)
