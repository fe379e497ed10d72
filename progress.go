package replication

import (
	"context"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/metadata"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/rabbitmq"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/rabbitmq/publisher"
	"go.uber.org/zap"
)

// progressHandler counts confirmed pages per transaction in the metadata
// store.
type progressHandler struct {
	rabbitmq.DefaultResponseHandler
	store  *metadata.Store
	logger *zap.Logger
}

func (h *progressHandler) OnSuccess(ctx *rabbitmq.ResponseHandlerContext) {
	m := ctx.Message
	txID, _ := m.Headers[publisher.HeaderTransactionID].(string)
	if txID == "" {
		return
	}
	pages := headerInt(m.Headers[publisher.HeaderPageCount])
	if err := h.store.MarkPublished(context.Background(), txID, pages, m.MessageID); err != nil {
		h.logger.Error("mark published", zap.String("transaction_id", txID), zap.Error(err))
	}
}
