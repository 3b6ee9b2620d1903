package livesync

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"
)

type DirectThreadService interface {
	GetDirectThread(getDirectThread *GetDirectThreadArgs, callback GetDirectThreadCallback)
	SendMessage(sendMessage *SendMessageArgs, callback SendMessageCallback)
	DeleteMessage(deleteMessage *DeleteMessageArgs, callback DeleteMessageCallback)
}

type MessageChangeFunction = func(conversation *Conversation)

type MessageThreadSyncSettings struct {
	ChannelSettings *ChannelSettings
}

func DefaultMessageThreadSyncSettings() *MessageThreadSyncSettings {
	return &MessageThreadSyncSettings{
		ChannelSettings: DefaultChannelSettings(),
	}
}

// MessageThreadSync binds one push channel to the currently active
// conversation. At most one conversation is active at a time, and channels
// for the message purpose never overlap: the prior channel is fully torn
// down before the next one opens.
type MessageThreadSync struct {
	ctx    context.Context
	cancel context.CancelFunc

	service  DirectThreadService
	wsUrl    string
	token    string
	notice   NoticeFunction
	settings *MessageThreadSyncSettings

	stateLock sync.Mutex
	// bumped on every activate/deactivate so a stale thread
	// fetch response cannot resurrect a torn down conversation
	activationSeq int
	conversation  *Conversation
	channel       *Channel

	messageChangeCallbacks *CallbackList[MessageChangeFunction]
}

func NewMessageThreadSync(
	ctx context.Context,
	service DirectThreadService,
	wsUrl string,
	token string,
	notice NoticeFunction,
	settings *MessageThreadSyncSettings,
) *MessageThreadSync {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &MessageThreadSync{
		ctx:                    cancelCtx,
		cancel:                 cancel,
		service:                service,
		wsUrl:                  wsUrl,
		token:                  token,
		notice:                 notice,
		settings:               settings,
		messageChangeCallbacks: NewCallbackList[MessageChangeFunction](),
	}
}

func (self *MessageThreadSync) Close() {
	self.Deactivate()
	self.cancel()
}

func (self *MessageThreadSync) AddMessageChangeCallback(messageChangeCallback MessageChangeFunction) func() {
	callbackId := self.messageChangeCallbacks.Add(messageChangeCallback)
	return func() {
		self.messageChangeCallbacks.Remove(callbackId)
	}
}

func (self *MessageThreadSync) Conversation() *Conversation {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.conversation
}

// ActiveChannel returns the channel bound to the active conversation,
// or nil when no conversation is active.
func (self *MessageThreadSync) ActiveChannel() *Channel {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.channel
}

// Activate switches the active conversation to the given friend. The prior
// channel receives Close, cancelling its timers, strictly before the next
// channel is opened.
func (self *MessageThreadSync) Activate(friendId Id) {
	self.stateLock.Lock()
	self.teardown()
	self.activationSeq += 1
	activationSeq := self.activationSeq
	self.stateLock.Unlock()

	self.service.GetDirectThread(
		&GetDirectThreadArgs{FriendId: friendId},
		NewApiCallback(func(result *GetDirectThreadResult, err error) {
			if err != nil {
				self.notice(err)
				return
			}

			self.stateLock.Lock()
			if activationSeq != self.activationSeq {
				// a newer activation won the race
				self.stateLock.Unlock()
				return
			}
			conversation := &Conversation{
				FriendId: result.FriendId,
				ChatId:   result.ChatId,
				LockCode: result.LockCode,
				Messages: result.Messages,
			}
			self.conversation = conversation
			channel := NewChannel(self.ctx, "messages", self.settings.ChannelSettings)
			self.channel = channel
			chatId := result.ChatId
			self.stateLock.Unlock()

			channel.Open(
				func() string {
					return fmt.Sprintf("%s/messages/ws/%s?token=%s", self.wsUrl, chatId, self.token)
				},
				&ChannelHandlers{
					OnMessage: self.handleMessage,
				},
			)

			self.notifyChange(conversation)
		}),
	)
}

func (self *MessageThreadSync) Deactivate() {
	self.stateLock.Lock()
	self.teardown()
	self.activationSeq += 1
	self.stateLock.Unlock()
}

// must be called with `stateLock`
func (self *MessageThreadSync) teardown() {
	if self.channel != nil {
		self.channel.Close()
		self.channel = nil
	}
	self.conversation = nil
}

func (self *MessageThreadSync) handleMessage(message []byte) {
	event, err := ParsePushEvent(message)
	if err != nil {
		glog.Infof("[msg]discard malformed push = %s\n", err)
		return
	}
	switch event.Type {
	case PushTypeMessageCreated, PushTypeMessageDeleted:
		// both kinds reconcile through the one merge operation
		if event.Message != nil {
			self.Merge(event.Message)
		}
	case PushTypeReady, PushTypePong:
	default:
		glog.V(1).Infof("[msg]ignore push type %s\n", event.Type)
	}
}

// Merge applies an authoritative message to the active conversation: replace
// in place when the id is already present (the newer payload wins), append
// otherwise. Pushes and local request responses share this one path, so
// duplicate delivery in any order converges to a single entry.
func (self *MessageThreadSync) Merge(message *Message) {
	self.stateLock.Lock()
	conversation := self.conversation
	if conversation == nil || conversation.ChatId != message.ChatId {
		self.stateLock.Unlock()
		return
	}
	merged := false
	for i, m := range conversation.Messages {
		if m.Id == message.Id {
			conversation.Messages[i] = message
			merged = true
			break
		}
	}
	if !merged {
		conversation.Messages = append(conversation.Messages, message)
	}
	self.stateLock.Unlock()

	self.notifyChange(conversation)
}

// Send is the optimistic path: the response's canonical message re-enters
// through Merge exactly as a push would. When replying, the preview of the
// referenced message is frozen at send time from the local conversation.
func (self *MessageThreadSync) Send(content string, replyToId *Id) {
	self.stateLock.Lock()
	conversation := self.conversation
	var replyTo *MessageSummary
	if conversation != nil && replyToId != nil {
		for _, m := range conversation.Messages {
			if m.Id == *replyToId {
				replyTo = NewMessageSummary(m)
				break
			}
		}
	}
	self.stateLock.Unlock()
	if conversation == nil {
		return
	}

	self.service.SendMessage(
		&SendMessageArgs{
			ChatId:    conversation.ChatId,
			Content:   content,
			ReplyToId: replyToId,
		},
		NewApiCallback(func(result *SendMessageResult, err error) {
			if err != nil {
				self.notice(err)
				return
			}
			if result.Message != nil {
				if result.Message.ReplyTo == nil {
					result.Message.ReplyTo = replyTo
				}
				self.Merge(result.Message)
			}
		}),
	)
}

func (self *MessageThreadSync) Delete(messageId Id) {
	self.stateLock.Lock()
	conversation := self.conversation
	self.stateLock.Unlock()
	if conversation == nil {
		return
	}

	self.service.DeleteMessage(
		&DeleteMessageArgs{
			ChatId:    conversation.ChatId,
			MessageId: messageId,
		},
		NewApiCallback(func(result *DeleteMessageResult, err error) {
			if err != nil {
				self.notice(err)
				return
			}
			if result.Message != nil {
				self.Merge(result.Message)
			}
		}),
	)
}

func (self *MessageThreadSync) notifyChange(conversation *Conversation) {
	for _, callback := range self.messageChangeCallbacks.Get() {
		callback(conversation)
	}
}
