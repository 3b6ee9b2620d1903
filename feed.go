package livesync

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/golang/glog"
)

type FeedService interface {
	GetFeed(getFeed *GetFeedArgs, callback GetFeedCallback)
}

type FeedChangeFunction = func(posts []*Post)

type FeedSyncSettings struct {
	// the fallback poll. Suppressed while the push channel is open.
	PollTimeout time.Duration
	// push bursts coalesce into one fetch inside this window
	RefreshDebounceTimeout time.Duration
	ChannelSettings        *ChannelSettings
}

func DefaultFeedSyncSettings() *FeedSyncSettings {
	channelSettings := DefaultChannelSettings()
	channelSettings.KeepAliveTimeout = 30 * time.Second
	channelSettings.PingPayload = FeedPingPayload
	return &FeedSyncSettings{
		PollTimeout:            15 * time.Second,
		RefreshDebounceTimeout: 250 * time.Millisecond,
		ChannelSettings:        channelSettings,
	}
}

// FeedSyncCoordinator owns the feed push channel and its polling fallback,
// and holds the current feed snapshot. The snapshot is replaced wholesale on
// each successful fetch and patched in place by engagement and follow events.
type FeedSyncCoordinator struct {
	ctx    context.Context
	cancel context.CancelFunc

	service  FeedService
	wsUrl    string
	notice   NoticeFunction
	settings *FeedSyncSettings

	channel  *Channel
	debounce func(f func())

	stateLock  sync.Mutex
	refreshing bool
	posts      []*Post
	signature  string
	cursor     string

	feedChangeCallbacks *CallbackList[FeedChangeFunction]
}

func NewFeedSyncCoordinator(
	ctx context.Context,
	service FeedService,
	wsUrl string,
	notice NoticeFunction,
	settings *FeedSyncSettings,
) *FeedSyncCoordinator {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &FeedSyncCoordinator{
		ctx:                 cancelCtx,
		cancel:              cancel,
		service:             service,
		wsUrl:               wsUrl,
		notice:              notice,
		settings:            settings,
		channel:             NewChannel(cancelCtx, "feed", settings.ChannelSettings),
		debounce:            debounce.New(settings.RefreshDebounceTimeout),
		feedChangeCallbacks: NewCallbackList[FeedChangeFunction](),
	}
}

func (self *FeedSyncCoordinator) Start() {
	self.channel.Open(
		func() string {
			// feed auth is session implicit, no token on the url
			return fmt.Sprintf("%s/ws/feed", self.wsUrl)
		},
		&ChannelHandlers{
			OnMessage: self.handleMessage,
		},
	)
	go self.pollLoop()
	self.Refresh(false)
}

func (self *FeedSyncCoordinator) Close() {
	self.cancel()
	self.channel.Close()
}

func (self *FeedSyncCoordinator) AddFeedChangeCallback(feedChangeCallback FeedChangeFunction) func() {
	callbackId := self.feedChangeCallbacks.Add(feedChangeCallback)
	return func() {
		self.feedChangeCallbacks.Remove(callbackId)
	}
}

func (self *FeedSyncCoordinator) Posts() []*Post {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.posts
}

func (self *FeedSyncCoordinator) Cursor() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.cursor
}

func (self *FeedSyncCoordinator) Signature() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.signature
}

func (self *FeedSyncCoordinator) handleMessage(message []byte) {
	event, err := ParsePushEvent(message)
	if err != nil {
		glog.Infof("[feed]discard malformed push = %s\n", err)
		return
	}
	switch event.Type {
	case PushTypePostCreated:
		// coalesce bursts into one authoritative fetch
		self.debounce(func() {
			self.Refresh(true)
		})
	case PushTypeReady, PushTypePong:
		// control acks, nothing to apply
	default:
		glog.V(1).Infof("[feed]ignore push type %s\n", event.Type)
	}
}

func (self *FeedSyncCoordinator) pollLoop() {
	ticker := time.NewTicker(self.settings.PollTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-self.ctx.Done():
			return
		case <-ticker.C:
			// the poll is a fallback only. Skip while the push channel is live.
			if self.channel.IsOpen() {
				continue
			}
			self.Refresh(true)
		}
	}
}

// Refresh fetches the authoritative feed. At most one fetch is in flight -
// concurrent calls are no-ops. With onlyOnChange, a result whose signature
// matches the current snapshot is discarded without a view update.
func (self *FeedSyncCoordinator) Refresh(onlyOnChange bool) {
	self.stateLock.Lock()
	if self.refreshing {
		self.stateLock.Unlock()
		return
	}
	self.refreshing = true
	self.stateLock.Unlock()

	self.service.GetFeed(&GetFeedArgs{}, NewApiCallback(func(result *GetFeedResult, err error) {
		self.applyRefresh(result, err, onlyOnChange)
	}))
}

func (self *FeedSyncCoordinator) applyRefresh(result *GetFeedResult, err error, onlyOnChange bool) {
	self.stateLock.Lock()
	self.refreshing = false
	if err != nil {
		self.stateLock.Unlock()
		self.notice(err)
		return
	}
	signature := FeedSignature(result.Posts)
	if onlyOnChange && signature == self.signature {
		self.stateLock.Unlock()
		glog.V(1).Infof("[feed]refresh suppressed, signature unchanged\n")
		return
	}
	// snapshot and pagination cursor replace atomically
	self.posts = result.Posts
	self.signature = signature
	self.cursor = result.NextCursor
	posts := self.posts
	self.stateLock.Unlock()

	for _, callback := range self.feedChangeCallbacks.Get() {
		callback(posts)
	}
}

// LoadMore appends the next feed page using the stored cursor.
func (self *FeedSyncCoordinator) LoadMore() {
	self.stateLock.Lock()
	if self.refreshing || self.cursor == "" {
		self.stateLock.Unlock()
		return
	}
	self.refreshing = true
	cursor := self.cursor
	self.stateLock.Unlock()

	self.service.GetFeed(&GetFeedArgs{Cursor: cursor}, NewApiCallback(func(result *GetFeedResult, err error) {
		self.stateLock.Lock()
		self.refreshing = false
		if err != nil {
			self.stateLock.Unlock()
			self.notice(err)
			return
		}
		postIds := map[Id]bool{}
		for _, post := range self.posts {
			postIds[post.Id] = true
		}
		for _, post := range result.Posts {
			if !postIds[post.Id] {
				self.posts = append(self.posts, post)
			}
		}
		self.signature = FeedSignature(self.posts)
		self.cursor = result.NextCursor
		posts := self.posts
		self.stateLock.Unlock()

		for _, callback := range self.feedChangeCallbacks.Get() {
			callback(posts)
		}
	}))
}

// ApplyEngagement patches the matching post in place with the
// authoritative snapshot. Post identity is the id, never a copy.
func (self *FeedSyncCoordinator) ApplyEngagement(snapshot *EngagementSnapshot) {
	self.stateLock.Lock()
	var updated []*Post
	for _, post := range self.posts {
		if post.Id == snapshot.PostId {
			post.LikeCount = snapshot.LikeCount
			post.CommentCount = snapshot.CommentCount
			post.ViewerHasLiked = snapshot.ViewerHasLiked
			updated = self.posts
			break
		}
	}
	self.stateLock.Unlock()

	if updated != nil {
		for _, callback := range self.feedChangeCallbacks.Get() {
			callback(updated)
		}
	}
}

// ApplyFollow patches the follow state of every post by the author.
func (self *FeedSyncCoordinator) ApplyFollow(authorId Id, following bool) {
	self.stateLock.Lock()
	var updated []*Post
	for _, post := range self.posts {
		if post.AuthorId == authorId && post.IsFollowingAuthor != following {
			post.IsFollowingAuthor = following
			updated = self.posts
		}
	}
	self.stateLock.Unlock()

	if updated != nil {
		for _, callback := range self.feedChangeCallbacks.Get() {
			callback(updated)
		}
	}
}

// FeedSignature derives a cheap fingerprint from each item's id, creation
// timestamp, caption length, and media reference. Signature equality means
// the snapshot is considered unchanged - there is no deep compare.
func FeedSignature(posts []*Post) string {
	b := strings.Builder{}
	for _, post := range posts {
		fmt.Fprintf(&b, "%s|%d|%d|%s;", post.Id, post.CreatedAt, len(post.Caption), post.MediaRef)
	}
	return b.String()
}
