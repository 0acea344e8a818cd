package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	aws_pkg "github.com/Lead-Studios/veritix-backend-sub005/aws"
	"github.com/Lead-Studios/veritix-backend-sub005/models"
	"go.uber.org/zap"
)

// Notifier delivers order lifecycle events. Delivery is always best effort:
// callers log failures and never roll back committed state because of them.
type Notifier interface {
	Notify(ctx context.Context, evt models.OrderEvent) error
}

// Metrics is the subset of the CloudWatch client the services record to.
type Metrics interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
	RecordValue(ctx context.Context, metricName string, value float64, dimensions map[string]string) error
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, models.OrderEvent) error { return nil }

type noopMetrics struct{}

func (noopMetrics) RecordCount(context.Context, string, map[string]string) error { return nil }

func (noopMetrics) RecordValue(context.Context, string, float64, map[string]string) error {
	return nil
}

// SNSNotifier publishes order events as JSON to an SNS topic.
type SNSNotifier struct {
	publisher aws_pkg.SNSPublisher
	topicArn  string
}

func NewSNSNotifier(publisher aws_pkg.SNSPublisher, topicArn string) *SNSNotifier {
	return &SNSNotifier{publisher: publisher, topicArn: topicArn}
}

func (n *SNSNotifier) Notify(ctx context.Context, evt models.OrderEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	return n.publisher.Publish(ctx, n.topicArn, payload, map[string]string{"event_type": evt.Type})
}

// MultiNotifier fans an event out to every notifier, collecting failures.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, evt models.OrderEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// notify sends evt and swallows the error after logging it.
func notify(ctx context.Context, n Notifier, evt models.OrderEvent, log *zap.Logger) {
	if err := n.Notify(ctx, evt); err != nil {
		log.Warn("order notification failed",
			zap.String("order_id", evt.OrderID),
			zap.String("type", evt.Type),
			zap.Error(err))
	}
}

func recordCount(ctx context.Context, m Metrics, name string, dims map[string]string, log *zap.Logger) {
	if err := m.RecordCount(ctx, name, dims); err != nil {
		log.Debug("metric publish failed", zap.String("metric", name), zap.Error(err))
	}
}

func recordValue(ctx context.Context, m Metrics, name string, v float64, dims map[string]string, log *zap.Logger) {
	if err := m.RecordValue(ctx, name, v, dims); err != nil {
		log.Debug("metric publish failed", zap.String("metric", name), zap.Error(err))
	}
}
