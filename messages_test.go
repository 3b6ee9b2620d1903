package livesync

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

type testDirectThreadService struct {
	mutex   sync.Mutex
	threads map[Id]*GetDirectThreadResult
}

func newTestDirectThreadService() *testDirectThreadService {
	return &testDirectThreadService{
		threads: map[Id]*GetDirectThreadResult{},
	}
}

func (self *testDirectThreadService) addThread(friendId Id, messages ...*Message) *GetDirectThreadResult {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	thread := &GetDirectThreadResult{
		FriendId: friendId,
		ChatId:   NewId(),
		LockCode: "lock",
		Messages: messages,
	}
	self.threads[friendId] = thread
	return thread
}

func (self *testDirectThreadService) GetDirectThread(getDirectThread *GetDirectThreadArgs, callback GetDirectThreadCallback) {
	self.mutex.Lock()
	thread := self.threads[getDirectThread.FriendId]
	self.mutex.Unlock()
	if thread == nil {
		callback.Result(nil, fmt.Errorf("no such thread"))
		return
	}
	callback.Result(thread, nil)
}

func (self *testDirectThreadService) SendMessage(sendMessage *SendMessageArgs, callback SendMessageCallback) {
	// the platform echoes the canonical message back
	callback.Result(&SendMessageResult{
		Message: &Message{
			Id:        NewId(),
			ChatId:    sendMessage.ChatId,
			Content:   sendMessage.Content,
			CreatedAt: time.Now().UnixMilli(),
		},
	}, nil)
}

func (self *testDirectThreadService) DeleteMessage(deleteMessage *DeleteMessageArgs, callback DeleteMessageCallback) {
	callback.Result(&DeleteMessageResult{
		Message: &Message{
			Id:        deleteMessage.MessageId,
			ChatId:    deleteMessage.ChatId,
			Content:   "",
			IsDeleted: true,
		},
	}, nil)
}

func newTestMessageThreadSync(t *testing.T, service *testDirectThreadService, dialer *testWsDialer) *MessageThreadSync {
	settings := DefaultMessageThreadSyncSettings()
	settings.ChannelSettings.WsDial = dialer.dial
	afterFunc, _ := newTestTimers()
	settings.ChannelSettings.AfterFunc = afterFunc
	return NewMessageThreadSync(
		context.Background(),
		service,
		"wss://test",
		"testtoken",
		testNotice(t),
		settings,
	)
}

func TestMessageMergeIdempotent(t *testing.T) {
	service := newTestDirectThreadService()
	friendId := NewId()
	thread := service.addThread(friendId)

	dialer := newTestWsDialer()
	threadSync := newTestMessageThreadSync(t, service, dialer)
	defer threadSync.Close()

	threadSync.Activate(friendId)
	<-dialer.dialed

	messageId := NewId()
	first := &Message{
		Id:      messageId,
		ChatId:  thread.ChatId,
		Content: "hello",
	}
	retry := &Message{
		Id:      messageId,
		ChatId:  thread.ChatId,
		Content: "hello, edited",
	}

	// duplicate delivery converges to one entry, the newer payload wins
	threadSync.Merge(first)
	threadSync.Merge(retry)
	conversation := threadSync.Conversation()
	assert.Equal(t, 1, len(conversation.Messages))
	assert.Equal(t, "hello, edited", conversation.Messages[0].Content)

	// a message for another chat is ignored
	threadSync.Merge(&Message{
		Id:      NewId(),
		ChatId:  NewId(),
		Content: "stray",
	})
	assert.Equal(t, 1, len(threadSync.Conversation().Messages))
}

func TestMessagePushAndResponseConverge(t *testing.T) {
	service := newTestDirectThreadService()
	friendId := NewId()
	thread := service.addThread(friendId)

	dialer := newTestWsDialer()
	threadSync := newTestMessageThreadSync(t, service, dialer)
	defer threadSync.Close()

	threadSync.Activate(friendId)
	<-dialer.dialed

	// the push for a message arrives before the local send response
	messageId := NewId()
	pushed := &Message{
		Id:      messageId,
		ChatId:  thread.ChatId,
		Content: "crossed wires",
	}
	event, err := json.Marshal(&PushEvent{
		Type:    PushTypeMessageCreated,
		Message: pushed,
	})
	assert.Equal(t, err, nil)
	threadSync.handleMessage(event)
	threadSync.Merge(pushed)
	assert.Equal(t, 1, len(threadSync.Conversation().Messages))

	// a deletion push tombstones in place
	event, err = json.Marshal(&PushEvent{
		Type: PushTypeMessageDeleted,
		Message: &Message{
			Id:        messageId,
			ChatId:    thread.ChatId,
			IsDeleted: true,
		},
	})
	assert.Equal(t, err, nil)
	threadSync.handleMessage(event)
	conversation := threadSync.Conversation()
	assert.Equal(t, 1, len(conversation.Messages))
	assert.Equal(t, true, conversation.Messages[0].IsDeleted)
}

func TestMessageSendDelete(t *testing.T) {
	service := newTestDirectThreadService()
	friendId := NewId()
	service.addThread(friendId)

	dialer := newTestWsDialer()
	threadSync := newTestMessageThreadSync(t, service, dialer)
	defer threadSync.Close()

	threadSync.Activate(friendId)
	<-dialer.dialed

	threadSync.Send("first", nil)
	conversation := threadSync.Conversation()
	assert.Equal(t, 1, len(conversation.Messages))
	assert.Equal(t, "first", conversation.Messages[0].Content)

	threadSync.Delete(conversation.Messages[0].Id)
	conversation = threadSync.Conversation()
	assert.Equal(t, 1, len(conversation.Messages))
	assert.Equal(t, true, conversation.Messages[0].IsDeleted)
}

func TestMessageSendReplyPreview(t *testing.T) {
	service := newTestDirectThreadService()
	friendId := NewId()
	thread := service.addThread(friendId)

	dialer := newTestWsDialer()
	threadSync := newTestMessageThreadSync(t, service, dialer)
	defer threadSync.Close()

	threadSync.Activate(friendId)
	<-dialer.dialed

	longContent := ""
	for i := 0; i < 30; i++ {
		longContent += "héllo"
	}
	original := &Message{
		Id:      NewId(),
		ChatId:  thread.ChatId,
		Content: longContent,
	}
	threadSync.Merge(original)

	threadSync.Send("replying", &original.Id)

	conversation := threadSync.Conversation()
	assert.Equal(t, 2, len(conversation.Messages))
	reply := conversation.Messages[1]
	assert.NotEqual(t, reply.ReplyTo, nil)
	assert.Equal(t, original.Id, reply.ReplyTo.Id)
	// the preview is frozen at send time, cut on a rune boundary
	assert.Equal(t, MessagePreviewLength, len([]rune(reply.ReplyTo.Preview)))

	// editing the original afterwards never touches the frozen preview
	edited := &Message{
		Id:      original.Id,
		ChatId:  thread.ChatId,
		Content: "rewritten",
	}
	threadSync.Merge(edited)
	assert.Equal(t, MessagePreviewLength, len([]rune(reply.ReplyTo.Preview)))

	// a reply to an id not in the conversation carries no preview
	threadSync.Send("stray reply", &Id{})
	conversation = threadSync.Conversation()
	assert.Equal(t, conversation.Messages[2].ReplyTo, nil)
}

func TestMessageConversationSwitch(t *testing.T) {
	service := newTestDirectThreadService()
	friendA := NewId()
	friendB := NewId()
	threadA := service.addThread(friendA, &Message{Id: NewId(), Content: "in a"})
	threadB := service.addThread(friendB)
	threadA.Messages[0].ChatId = threadA.ChatId

	dialer := newTestWsDialer()
	threadSync := newTestMessageThreadSync(t, service, dialer)
	defer threadSync.Close()

	threadSync.Activate(friendA)
	channelA := threadSync.ActiveChannel()
	connA := <-dialer.dialed
	waitForChannelState(t, channelA, ChannelStateOpen)
	assert.Equal(t, threadA.ChatId, threadSync.Conversation().ChatId)

	// switching tears the prior channel down strictly before the next opens
	threadSync.Activate(friendB)
	assert.Equal(t, ChannelStateIdle, channelA.State())
	assert.Equal(t, true, connA.isClosed())

	channelB := threadSync.ActiveChannel()
	<-dialer.dialed
	waitForChannelState(t, channelB, ChannelStateOpen)
	assert.Equal(t, threadB.ChatId, threadSync.Conversation().ChatId)
	assert.Equal(t, 0, len(threadSync.Conversation().Messages))

	urls := dialer.dialedUrls()
	assert.Equal(t, 2, len(urls))
	assert.Equal(t, true, strings.Contains(urls[1], threadB.ChatId.String()))

	// a stray message for the old conversation no longer applies
	threadSync.Merge(&Message{Id: NewId(), ChatId: threadA.ChatId, Content: "late"})
	assert.Equal(t, 0, len(threadSync.Conversation().Messages))
}

func TestMessageDeactivate(t *testing.T) {
	service := newTestDirectThreadService()
	friendId := NewId()
	service.addThread(friendId)

	dialer := newTestWsDialer()
	threadSync := newTestMessageThreadSync(t, service, dialer)
	defer threadSync.Close()

	threadSync.Activate(friendId)
	channel := threadSync.ActiveChannel()
	conn := <-dialer.dialed
	waitForChannelState(t, channel, ChannelStateOpen)

	threadSync.Deactivate()
	assert.Equal(t, threadSync.Conversation(), nil)
	assert.Equal(t, threadSync.ActiveChannel(), nil)
	assert.Equal(t, ChannelStateIdle, channel.State())
	assert.Equal(t, true, conn.isClosed())
}
