package livesync

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

type testNotificationService struct {
	mutex         sync.Mutex
	unreadCount   int
	notifications []*Notification
}

func (self *testNotificationService) GetNotificationSummary(callback GetNotificationSummaryCallback) {
	self.mutex.Lock()
	unreadCount := self.unreadCount
	self.mutex.Unlock()
	callback.Result(&GetNotificationSummaryResult{
		UnreadCount: unreadCount,
	}, nil)
}

func (self *testNotificationService) GetNotifications(callback GetNotificationsCallback) {
	self.mutex.Lock()
	notifications := self.notifications
	self.mutex.Unlock()
	callback.Result(&GetNotificationsResult{
		Notifications: notifications,
	}, nil)
}

func (self *testNotificationService) MarkNotificationsRead(callback MarkNotificationsReadCallback) {
	self.mutex.Lock()
	self.unreadCount = 0
	for _, notification := range self.notifications {
		notification.Read = true
	}
	self.mutex.Unlock()
	callback.Result(&MarkNotificationsReadResult{
		UnreadCount: 0,
	}, nil)
}

func newTestNotification(read bool) *Notification {
	return &Notification{
		Id:        NewId(),
		Type:      "like",
		Content:   "someone liked your post",
		Read:      read,
		CreatedAt: time.Now().UnixMilli(),
	}
}

func newTestNotificationSync(t *testing.T, service *testNotificationService) *NotificationSync {
	settings := DefaultNotificationSyncSettings()
	dialer := newTestWsDialer()
	settings.ChannelSettings.WsDial = dialer.dial
	afterFunc, _ := newTestTimers()
	settings.ChannelSettings.AfterFunc = afterFunc
	return NewNotificationSync(
		context.Background(),
		service,
		"wss://test",
		"testtoken",
		testNotice(t),
		settings,
	)
}

func TestNotificationPoll(t *testing.T) {
	service := &testNotificationService{
		unreadCount: 3,
		notifications: []*Notification{
			newTestNotification(false),
			newTestNotification(true),
		},
	}

	notificationSync := newTestNotificationSync(t, service)
	defer notificationSync.Close()

	notificationSync.Poll()
	assert.Equal(t, 3, notificationSync.UnreadCount())
	assert.Equal(t, 2, len(notificationSync.Notifications()))
}

func TestNotificationCreatedPush(t *testing.T) {
	service := &testNotificationService{
		unreadCount:   1,
		notifications: []*Notification{newTestNotification(false)},
	}

	notificationSync := newTestNotificationSync(t, service)
	defer notificationSync.Close()

	notificationSync.Poll()

	changeCount := 0
	notificationSync.AddNotificationChangeCallback(func(unreadCount int, notifications []*Notification) {
		changeCount += 1
	})

	pushed := newTestNotification(false)
	event, err := json.Marshal(&PushEvent{
		Type:         PushTypeNotificationCreated,
		Notification: pushed,
	})
	assert.Equal(t, err, nil)

	notificationSync.handleMessage(event)
	assert.Equal(t, 2, notificationSync.UnreadCount())
	assert.Equal(t, 2, len(notificationSync.Notifications()))
	// newest first
	assert.Equal(t, pushed.Id, notificationSync.Notifications()[0].Id)
	assert.Equal(t, 1, changeCount)

	// a duplicate push for the same id never double counts
	notificationSync.handleMessage(event)
	assert.Equal(t, 2, notificationSync.UnreadCount())
	assert.Equal(t, 2, len(notificationSync.Notifications()))

	// a pushed already-read notification does not bump the counter
	event, err = json.Marshal(&PushEvent{
		Type:         PushTypeNotificationCreated,
		Notification: newTestNotification(true),
	})
	assert.Equal(t, err, nil)
	notificationSync.handleMessage(event)
	assert.Equal(t, 2, notificationSync.UnreadCount())
	assert.Equal(t, 3, len(notificationSync.Notifications()))
}

func TestNotificationReadAllPush(t *testing.T) {
	service := &testNotificationService{
		unreadCount: 2,
		notifications: []*Notification{
			newTestNotification(false),
			newTestNotification(false),
		},
	}

	notificationSync := newTestNotificationSync(t, service)
	defer notificationSync.Close()

	notificationSync.Poll()
	assert.Equal(t, 2, notificationSync.UnreadCount())

	event, err := json.Marshal(&PushEvent{Type: PushTypeNotificationReadAll})
	assert.Equal(t, err, nil)
	notificationSync.handleMessage(event)

	assert.Equal(t, 0, notificationSync.UnreadCount())
	for _, notification := range notificationSync.Notifications() {
		assert.Equal(t, true, notification.Read)
	}
}

func TestNotificationMarkAllRead(t *testing.T) {
	service := &testNotificationService{
		unreadCount: 2,
		notifications: []*Notification{
			newTestNotification(false),
			newTestNotification(false),
		},
	}

	notificationSync := newTestNotificationSync(t, service)
	defer notificationSync.Close()

	notificationSync.Poll()
	notificationSync.MarkAllRead()

	assert.Equal(t, 0, notificationSync.UnreadCount())
	for _, notification := range notificationSync.Notifications() {
		assert.Equal(t, true, notification.Read)
	}

	// a malformed frame changes nothing
	notificationSync.handleMessage([]byte("pong"))
	assert.Equal(t, 0, notificationSync.UnreadCount())
}
