package livesync

import (
	"context"

	"github.com/golang/glog"
)

// user visible, non blocking notice of a failed request.
// Channel and reconnect state are never touched by these.
type NoticeFunction = func(err error)

type SyncClientSettings struct {
	FeedSettings         *FeedSyncSettings
	MessageSettings      *MessageThreadSyncSettings
	NotificationSettings *NotificationSyncSettings
}

func DefaultSyncClientSettings() *SyncClientSettings {
	return &SyncClientSettings{
		FeedSettings:         DefaultFeedSyncSettings(),
		MessageSettings:      DefaultMessageThreadSyncSettings(),
		NotificationSettings: DefaultNotificationSyncSettings(),
	}
}

// SyncClient is the composition root of the live synchronization layer.
// It owns the api collaborator and the coordinators, and wires the single
// reconciliation path between them: every authoritative entity, whether it
// arrived by push or as a request response, enters through the same merge
// operations.
type SyncClient struct {
	ctx    context.Context
	cancel context.CancelFunc

	api   *ParlorApi
	byJwt *ByJwt

	feed          *FeedSyncCoordinator
	messages      *MessageThreadSync
	notifications *NotificationSync
	comments      *CommentTreeStore
	engagement    *EngagementReconciler

	noticeCallbacks *CallbackList[NoticeFunction]
}

func NewSyncClientWithDefaults(ctx context.Context, apiUrl string, wsUrl string, byJwtStr string) (*SyncClient, error) {
	return NewSyncClient(ctx, apiUrl, wsUrl, byJwtStr, DefaultSyncClientSettings())
}

func NewSyncClient(
	ctx context.Context,
	apiUrl string,
	wsUrl string,
	byJwtStr string,
	settings *SyncClientSettings,
) (*SyncClient, error) {
	byJwt, err := ParseByJwtUnverified(byJwtStr)
	if err != nil {
		return nil, err
	}

	cancelCtx, cancel := context.WithCancel(ctx)

	api := NewParlorApiWithContext(cancelCtx, apiUrl)
	api.SetByJwt(byJwtStr)

	client := &SyncClient{
		ctx:             cancelCtx,
		cancel:          cancel,
		api:             api,
		byJwt:           byJwt,
		noticeCallbacks: NewCallbackList[NoticeFunction](),
	}

	client.engagement = NewEngagementReconciler(api, client.notice)
	client.feed = NewFeedSyncCoordinator(cancelCtx, api, wsUrl, client.notice, settings.FeedSettings)
	client.messages = NewMessageThreadSync(cancelCtx, api, wsUrl, byJwtStr, client.notice, settings.MessageSettings)
	client.notifications = NewNotificationSync(cancelCtx, api, wsUrl, byJwtStr, client.notice, settings.NotificationSettings)
	client.comments = NewCommentTreeStore(api, client.notice)

	// every view of a post converges on the same authoritative counts
	client.feed.AddFeedChangeCallback(func(posts []*Post) {
		client.engagement.Seed(posts)
	})
	client.engagement.AddEngagementCallback(func(snapshot *EngagementSnapshot) {
		client.feed.ApplyEngagement(snapshot)
	})
	client.comments.SetCommentCountCallback(func(postId Id, commentCount int) {
		client.engagement.ApplyCommentCount(postId, commentCount)
	})

	return client, nil
}

func (self *SyncClient) Start() {
	self.feed.Start()
	self.notifications.Start()
}

func (self *SyncClient) Close() {
	self.messages.Close()
	self.notifications.Close()
	self.feed.Close()
	self.cancel()
}

func (self *SyncClient) Api() *ParlorApi {
	return self.api
}

func (self *SyncClient) UserId() Id {
	return self.byJwt.UserId
}

func (self *SyncClient) Feed() *FeedSyncCoordinator {
	return self.feed
}

func (self *SyncClient) Messages() *MessageThreadSync {
	return self.messages
}

func (self *SyncClient) Notifications() *NotificationSync {
	return self.notifications
}

func (self *SyncClient) Comments() *CommentTreeStore {
	return self.comments
}

func (self *SyncClient) Engagement() *EngagementReconciler {
	return self.engagement
}

func (self *SyncClient) AddNoticeCallback(noticeCallback NoticeFunction) func() {
	callbackId := self.noticeCallbacks.Add(noticeCallback)
	return func() {
		self.noticeCallbacks.Remove(callbackId)
	}
}

// ToggleLike toggles the viewer's like on a post.
// The current like state comes from the stored snapshot.
func (self *SyncClient) ToggleLike(postId Id) {
	viewerHasLiked := false
	if snapshot, ok := self.engagement.Snapshot(postId); ok {
		viewerHasLiked = snapshot.ViewerHasLiked
	}
	self.engagement.ToggleLike(postId, viewerHasLiked)
}

// Follow and Unfollow patch the follow state of every loaded post
// by the author from the authoritative response.
func (self *SyncClient) Follow(userId Id) {
	self.api.CreateFollow(&FollowArgs{UserId: userId}, NewApiCallback(func(result *FollowResult, err error) {
		if err != nil {
			self.notice(err)
			return
		}
		self.feed.ApplyFollow(result.UserId, result.IsFollowing)
	}))
}

func (self *SyncClient) Unfollow(userId Id) {
	self.api.DeleteFollow(&FollowArgs{UserId: userId}, NewApiCallback(func(result *FollowResult, err error) {
		if err != nil {
			self.notice(err)
			return
		}
		self.feed.ApplyFollow(result.UserId, result.IsFollowing)
	}))
}

func (self *SyncClient) notice(err error) {
	glog.Infof("[client]notice = %s\n", err)
	for _, callback := range self.noticeCallbacks.Get() {
		callback(err)
	}
}
