package interceptor

import (
	"context"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
	qstashx "github.com/tanpawarit/chative-experts/pkg/qstash"
)

// QStashNotifier publishes confirmation requests to a webhook through QStash.
type QStashNotifier struct {
	client      *qstashx.Client
	destination string
}

func NewQStashNotifier(client *qstashx.Client, destination string) *QStashNotifier {
	return &QStashNotifier{client: client, destination: destination}
}

func (n *QStashNotifier) NotifyConfirmation(ctx context.Context, req contractx.ConfirmationRequest) error {
	messageID, err := n.client.Publish(ctx, n.destination, req)
	if err != nil {
		return err
	}
	log.Debug().
		Str("correlation_id", req.CorrelationID).
		Str("message_id", messageID).
		Msg("confirmation published")
	return nil
}
