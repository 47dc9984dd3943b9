package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/workflow-engine/internal/domain"
	"github.com/spec-kit/workflow-engine/internal/events"
	apperrors "github.com/spec-kit/workflow-engine/pkg/util/errorutil"
)

// NotificationService hands notify jobs to the outbound transport and logs domain events.
type NotificationService struct {
	dispatcher events.Dispatcher
	transport  events.Publisher
	inProcess  bool
	logger     *zap.Logger
	now        func() time.Time
}

// NotificationDependencies bundles collaborators. Transport defaults to Dispatcher.
type NotificationDependencies struct {
	Dispatcher events.Dispatcher
	Transport  events.Publisher
	Logger     *zap.Logger
	Now        func() time.Time
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	transport := deps.Transport
	if transport == nil {
		transport = deps.Dispatcher
	}
	return &NotificationService{
		dispatcher: deps.Dispatcher,
		transport:  transport,
		inProcess:  deps.Transport == nil,
		logger:     loggerOrNop(deps.Logger),
		now:        clockOrNow(deps.Now),
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventItemAssigned, n.logEvent)
	n.dispatcher.Subscribe(events.EventItemStatusChanged, n.logEvent)
	n.dispatcher.Subscribe(events.EventItemEscalated, n.logEvent)
	n.dispatcher.Subscribe(events.EventSLABreached, n.logEvent)
	if n.inProcess {
		n.dispatcher.Subscribe(events.EventNotificationRequested, n.deliverStub)
	}
}

// Notify handles notify jobs. Delivery itself belongs to the collaborator behind the
// transport; a transport error is retried with the job.
func (n *NotificationService) Notify(ctx context.Context, job *domain.Job) error {
	p := job.Payload
	if p.Channel != domain.ChannelEmail && p.Channel != domain.ChannelSMS {
		return apperrors.NewValidationError("unsupported notification channel", map[string]any{"channel": p.Channel})
	}
	event := events.Event{
		ID:        job.ID,
		Type:      events.EventNotificationRequested,
		ItemID:    p.ItemID,
		TenantID:  p.TenantID,
		Actor:     systemActor(job).event(),
		Timestamp: n.now(),
		Payload: events.NotificationPayload{
			Channel:   p.Channel,
			Recipient: p.Recipient,
			Title:     p.Title,
			Message:   p.Message,
			Reason:    p.Reason,
		},
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if err := n.transport.Publish(ctx, event); err != nil {
		return apperrors.NewTransient("notification transport unavailable", err)
	}
	return nil
}

func (n *NotificationService) logEvent(_ context.Context, event events.Event) error {
	n.logger.Info(string(event.Type), zap.String("item_id", event.ItemID), zap.String("tenant_id", event.TenantID), zap.Any("payload", event.Payload))
	return nil
}

func (n *NotificationService) deliverStub(_ context.Context, event events.Event) error {
	payload, _ := event.Payload.(events.NotificationPayload)
	n.logger.Info("notification dispatched",
		zap.String("item_id", event.ItemID),
		zap.String("channel", string(payload.Channel)),
		zap.String("recipient", payload.Recipient),
		zap.String("title", payload.Title))
	return nil
}
