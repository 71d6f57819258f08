package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/documents"
)

const (
	RealtimeEventSignatureRequested = "signature-requested"
	RealtimeEventRevisionApproved   = "revision-approved"
	realtimeEventHeartbeat          = "heartbeat"
	realtimeSourceBackend           = "kore-backend"
)

// RealtimeMessage is a workflow notification addressed to one user.
type RealtimeMessage struct {
	UserID     string
	EventType  string
	DocumentID string
	DocNumber  string
	RevisionID string
	Revision   string
	Role       documents.Role
	ActorName  string
	Timestamp  time.Time
}

// RealtimeDispatcher fans workflow notifications out to the event streams of their recipients.
// Slow subscribers drop messages instead of blocking the publisher.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
		clock:       time.Now,
	}
}

// Notify publishes a workflow notification to its resolved recipient. Notifications whose
// recipient is not a registered user are dropped.
func (d *RealtimeDispatcher) Notify(_ context.Context, notification documents.Notification) {
	if notification.RecipientUserID == "" {
		return
	}
	d.Publish(RealtimeMessage{
		UserID:     notification.RecipientUserID,
		EventType:  realtimeEventType(notification.Kind),
		DocumentID: notification.Document.DocumentID,
		DocNumber:  notification.Document.DocNumber,
		RevisionID: notification.Revision.RevisionID,
		Revision:   notification.Revision.Label,
		Role:       notification.Role,
		ActorName:  notification.ActorName,
		Timestamp:  d.clock().UTC(),
	})
}

func realtimeEventType(kind documents.EventKind) string {
	switch kind {
	case documents.EventSignatureRequested:
		return RealtimeEventSignatureRequested
	case documents.EventRevisionApproved:
		return RealtimeEventRevisionApproved
	default:
		return string(kind)
	}
}

func (d *RealtimeDispatcher) Subscribe(ctx context.Context, userID string) (<-chan RealtimeMessage, func()) {
	if userID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(userID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(userID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.UserID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.UserID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *RealtimeDispatcher) subscriberCount(userID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[userID])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(userID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[userID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(userID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[userID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, userID)
		}
	}
	d.mu.Unlock()
}
