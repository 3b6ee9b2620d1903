package livesync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
)

type NotificationService interface {
	GetNotificationSummary(callback GetNotificationSummaryCallback)
	GetNotifications(callback GetNotificationsCallback)
	MarkNotificationsRead(callback MarkNotificationsReadCallback)
}

type NotificationChangeFunction = func(unreadCount int, notifications []*Notification)

type NotificationSyncSettings struct {
	// the low frequency poll runs continuously while signed in,
	// regardless of channel state
	PollTimeout     time.Duration
	ChannelSettings *ChannelSettings
}

func DefaultNotificationSyncSettings() *NotificationSyncSettings {
	return &NotificationSyncSettings{
		PollTimeout:     60 * time.Second,
		ChannelSettings: DefaultChannelSettings(),
	}
}

// NotificationSync combines the push channel with a low frequency poll.
// The authoritative unread count comes from summary fetches. A pushed
// unread creation optimistically bumps it by exactly one; a read_all push
// zeroes it synchronously.
type NotificationSync struct {
	ctx    context.Context
	cancel context.CancelFunc

	service  NotificationService
	wsUrl    string
	token    string
	notice   NoticeFunction
	settings *NotificationSyncSettings

	channel *Channel

	stateLock     sync.Mutex
	unreadCount   int
	notifications []*Notification

	notificationChangeCallbacks *CallbackList[NotificationChangeFunction]
}

func NewNotificationSync(
	ctx context.Context,
	service NotificationService,
	wsUrl string,
	token string,
	notice NoticeFunction,
	settings *NotificationSyncSettings,
) *NotificationSync {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &NotificationSync{
		ctx:                         cancelCtx,
		cancel:                      cancel,
		service:                     service,
		wsUrl:                       wsUrl,
		token:                       token,
		notice:                      notice,
		settings:                    settings,
		channel:                     NewChannel(cancelCtx, "notifications", settings.ChannelSettings),
		notificationChangeCallbacks: NewCallbackList[NotificationChangeFunction](),
	}
}

func (self *NotificationSync) Start() {
	self.channel.Open(
		func() string {
			return fmt.Sprintf("%s/notifications/ws?token=%s", self.wsUrl, self.token)
		},
		&ChannelHandlers{
			OnMessage: self.handleMessage,
		},
	)
	go self.pollLoop()
	self.Poll()
}

func (self *NotificationSync) Close() {
	self.cancel()
	self.channel.Close()
}

func (self *NotificationSync) AddNotificationChangeCallback(notificationChangeCallback NotificationChangeFunction) func() {
	callbackId := self.notificationChangeCallbacks.Add(notificationChangeCallback)
	return func() {
		self.notificationChangeCallbacks.Remove(callbackId)
	}
}

func (self *NotificationSync) UnreadCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.unreadCount
}

func (self *NotificationSync) Notifications() []*Notification {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.notifications
}

func (self *NotificationSync) pollLoop() {
	ticker := time.NewTicker(self.settings.PollTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-self.ctx.Done():
			return
		case <-ticker.C:
			self.Poll()
		}
	}
}

// Poll fetches the authoritative unread count and replaces the loaded
// notification list wholesale.
func (self *NotificationSync) Poll() {
	self.service.GetNotificationSummary(NewApiCallback(func(result *GetNotificationSummaryResult, err error) {
		if err != nil {
			self.notice(err)
			return
		}
		self.stateLock.Lock()
		self.unreadCount = result.UnreadCount
		self.stateLock.Unlock()
		self.notifyChange()
	}))

	self.service.GetNotifications(NewApiCallback(func(result *GetNotificationsResult, err error) {
		if err != nil {
			self.notice(err)
			return
		}
		self.stateLock.Lock()
		self.notifications = result.Notifications
		self.stateLock.Unlock()
		self.notifyChange()
	}))
}

// MarkAllRead requests the platform mark everything read, then applies
// the authoritative summary from the response.
func (self *NotificationSync) MarkAllRead() {
	self.service.MarkNotificationsRead(NewApiCallback(func(result *MarkNotificationsReadResult, err error) {
		if err != nil {
			self.notice(err)
			return
		}
		self.stateLock.Lock()
		self.unreadCount = result.UnreadCount
		for _, notification := range self.notifications {
			notification.Read = true
		}
		self.stateLock.Unlock()
		self.notifyChange()
	}))
}

func (self *NotificationSync) handleMessage(message []byte) {
	event, err := ParsePushEvent(message)
	if err != nil {
		glog.Infof("[ntf]discard malformed push = %s\n", err)
		return
	}
	switch event.Type {
	case PushTypeNotificationCreated:
		if event.Notification != nil {
			self.applyCreated(event.Notification)
		}
	case PushTypeNotificationReadAll:
		self.applyReadAll()
	case PushTypeReady, PushTypePong:
	default:
		glog.V(1).Infof("[ntf]ignore push type %s\n", event.Type)
	}
}

// a pushed unread creation increments the counter by exactly one,
// without waiting for the next poll
func (self *NotificationSync) applyCreated(notification *Notification) {
	self.stateLock.Lock()
	replaced := false
	for i, n := range self.notifications {
		if n.Id == notification.Id {
			self.notifications[i] = notification
			replaced = true
			break
		}
	}
	if !replaced {
		self.notifications = append([]*Notification{notification}, self.notifications...)
		if !notification.Read {
			self.unreadCount += 1
		}
	}
	self.stateLock.Unlock()
	self.notifyChange()
}

// zero the counter and mark every loaded notification read, synchronously,
// independent of any in flight poll
func (self *NotificationSync) applyReadAll() {
	self.stateLock.Lock()
	self.unreadCount = 0
	for _, notification := range self.notifications {
		notification.Read = true
	}
	self.stateLock.Unlock()
	self.notifyChange()
}

func (self *NotificationSync) notifyChange() {
	self.stateLock.Lock()
	unreadCount := self.unreadCount
	notifications := self.notifications
	self.stateLock.Unlock()

	for _, callback := range self.notificationChangeCallbacks.Get() {
		callback(unreadCount, notifications)
	}
}
