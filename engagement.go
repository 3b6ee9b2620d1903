package livesync

import (
	"sync"
)

type EngagementService interface {
	CreateLike(like *LikeArgs, callback LikeCallback)
	DeleteLike(like *LikeArgs, callback LikeCallback)
}

type EngagementFunction = func(snapshot *EngagementSnapshot)

// EngagementReconciler holds one authoritative engagement snapshot per post
// and broadcasts every change to all views holding that post id, so every
// presentation of a post converges to the same counts.
type EngagementReconciler struct {
	service EngagementService
	notice  NoticeFunction

	stateLock sync.Mutex
	snapshots map[Id]*EngagementSnapshot
	// like requests in flight. The triggering control stays
	// disabled while its post id is pending.
	pendingLikes map[Id]bool

	engagementCallbacks *CallbackList[EngagementFunction]
}

func NewEngagementReconciler(service EngagementService, notice NoticeFunction) *EngagementReconciler {
	return &EngagementReconciler{
		service:             service,
		notice:              notice,
		snapshots:           map[Id]*EngagementSnapshot{},
		pendingLikes:        map[Id]bool{},
		engagementCallbacks: NewCallbackList[EngagementFunction](),
	}
}

func (self *EngagementReconciler) AddEngagementCallback(engagementCallback EngagementFunction) func() {
	callbackId := self.engagementCallbacks.Add(engagementCallback)
	return func() {
		self.engagementCallbacks.Remove(callbackId)
	}
}

func (self *EngagementReconciler) Snapshot(postId Id) (*EngagementSnapshot, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	snapshot, ok := self.snapshots[postId]
	return snapshot, ok
}

// IsLikePending reports whether the like control for the post
// should be disabled.
func (self *EngagementReconciler) IsLikePending(postId Id) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.pendingLikes[postId]
}

// Seed records snapshots from a fetched post list without broadcasting.
func (self *EngagementReconciler) Seed(posts []*Post) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	for _, post := range posts {
		self.snapshots[post.Id] = &EngagementSnapshot{
			PostId:         post.Id,
			LikeCount:      post.LikeCount,
			CommentCount:   post.CommentCount,
			ViewerHasLiked: post.ViewerHasLiked,
		}
	}
}

// ToggleLike is optimistic-request / authoritative-response: the control is
// disabled for the duration of the request, and the snapshot returned by the
// platform - never a locally predicted value - is applied and broadcast.
func (self *EngagementReconciler) ToggleLike(postId Id, viewerHasLiked bool) {
	self.stateLock.Lock()
	if self.pendingLikes[postId] {
		self.stateLock.Unlock()
		return
	}
	self.pendingLikes[postId] = true
	self.stateLock.Unlock()

	callback := NewApiCallback(func(result *LikeResult, err error) {
		self.stateLock.Lock()
		delete(self.pendingLikes, postId)
		self.stateLock.Unlock()

		if err != nil {
			self.notice(err)
			return
		}
		self.Apply(&EngagementSnapshot{
			PostId:         result.PostId,
			LikeCount:      result.LikeCount,
			CommentCount:   result.CommentCount,
			ViewerHasLiked: result.ViewerHasLiked,
		})
	})

	if viewerHasLiked {
		self.service.DeleteLike(&LikeArgs{PostId: postId}, callback)
	} else {
		self.service.CreateLike(&LikeArgs{PostId: postId}, callback)
	}
}

// Apply stores the authoritative snapshot and broadcasts it.
func (self *EngagementReconciler) Apply(snapshot *EngagementSnapshot) {
	self.stateLock.Lock()
	self.snapshots[snapshot.PostId] = snapshot
	self.stateLock.Unlock()

	for _, callback := range self.engagementCallbacks.Get() {
		callback(snapshot)
	}
}

// ApplyCommentCount patches the comment count of the stored snapshot,
// creating one when the post has no snapshot yet, and broadcasts.
func (self *EngagementReconciler) ApplyCommentCount(postId Id, commentCount int) {
	self.stateLock.Lock()
	snapshot := self.snapshots[postId]
	if snapshot == nil {
		snapshot = &EngagementSnapshot{
			PostId: postId,
		}
		self.snapshots[postId] = snapshot
	}
	snapshot.CommentCount = commentCount
	broadcast := *snapshot
	self.stateLock.Unlock()

	for _, callback := range self.engagementCallbacks.Get() {
		callback(&broadcast)
	}
}
