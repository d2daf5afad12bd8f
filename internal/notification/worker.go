package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"recycle-bin-backend/internal/events"
	"recycle-bin-backend/internal/model"
	"recycle-bin-backend/internal/store"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool pushes lease and settlement events to the affected user's
// browsers. It implements events.Publisher.
type WorkerPool struct {
	size    int
	jobs    chan events.Event
	store   store.Store
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size, queueSize int, s store.Store, webpushOptions *webpush.Options) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	if queueSize < size {
		queueSize = size
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan events.Event, queueSize), // Buffered channel
		store:   s,
		webpush: webpushOptions,
		sender:  &WebPushSender{}, // Use the real sender by default
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Worker %d started", id)
	for {
		select {
		case event := <-wp.jobs:
			log.Printf("Worker %d processing %s for bin %s", id, event.Type, event.BinID)
			wp.sendNotificationsForEvent(ctx, event)
		case <-ctx.Done():
			log.Printf("Worker %d shutting down", id)
			return
		}
	}
}

// Publish queues a push for the event's user. It never blocks: when the
// queue is full the notification is dropped.
func (wp *WorkerPool) Publish(event events.Event) error {
	if event.UserID == "" || message(event, event.BinID) == "" {
		return nil
	}
	select {
	case wp.jobs <- event:
		return nil
	default:
		log.Printf("Notification queue full, dropping %s for bin %s", event.Type, event.BinID)
		return nil
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan events.Event {
	return wp.jobs
}

// sendNotificationsForEvent fetches the user's subscriptions and sends the message.
func (wp *WorkerPool) sendNotificationsForEvent(ctx context.Context, event events.Event) {
	subscriptions, err := wp.store.SubscriptionsForUser(ctx, event.UserID)
	if err != nil {
		log.Printf("Error fetching subscriptions for user %s: %v", event.UserID, err)
		return
	}

	if len(subscriptions) == 0 {
		return
	}

	log.Printf("Sending %d notifications for user %s", len(subscriptions), event.UserID)

	binLabel := event.BinID
	if bin, err := wp.store.GetBin(ctx, event.BinID); err != nil {
		log.Printf("Error fetching bin %s: %v", event.BinID, err)
	} else if bin.Name != "" {
		binLabel = bin.Name
	}

	payload := []byte(message(event, binLabel))
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

func message(event events.Event, binLabel string) string {
	switch event.Type {
	case events.LeaseAcquired:
		return fmt.Sprintf("Bin %s is ready for you!", binLabel)
	case events.LeaseReleased:
		return fmt.Sprintf("Bin %s has been locked.", binLabel)
	case events.SessionSettled:
		return fmt.Sprintf("You earned %d points at bin %s.", event.Points, binLabel)
	default:
		return ""
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	// Manually construct the webpush.Subscription object
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
