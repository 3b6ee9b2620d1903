package livesync

import (
	"errors"
	"sync"

	"golang.org/x/exp/slices"
)

type CommentService interface {
	GetComments(getComments *GetCommentsArgs, callback GetCommentsCallback)
	CreateComment(createComment *CreateCommentArgs, callback CreateCommentCallback)
}

type CommentTreeFunction = func(postId Id, comments []*Comment)

type CommentCountFunction = func(postId Id, commentCount int)

type commentTreeEntry struct {
	items  []*Comment
	loaded bool
}

// CommentTreeStore caches one comment tree per post for the page session.
// The first expand of a post's panel triggers a fetch; later expands reuse
// the cached tree unless a forced reload is requested. Fetch results merge
// into any optimistically populated tree by id, never duplicating nodes.
type CommentTreeStore struct {
	service CommentService
	notice  NoticeFunction

	stateLock sync.Mutex
	entries   map[Id]*commentTreeEntry

	commentCountCallback CommentCountFunction

	commentChangeCallbacks *CallbackList[CommentTreeFunction]
}

func NewCommentTreeStore(service CommentService, notice NoticeFunction) *CommentTreeStore {
	return &CommentTreeStore{
		service:                service,
		notice:                 notice,
		entries:                map[Id]*commentTreeEntry{},
		commentChangeCallbacks: NewCallbackList[CommentTreeFunction](),
	}
}

func (self *CommentTreeStore) AddCommentChangeCallback(commentChangeCallback CommentTreeFunction) func() {
	callbackId := self.commentChangeCallbacks.Add(commentChangeCallback)
	return func() {
		self.commentChangeCallbacks.Remove(callbackId)
	}
}

func (self *CommentTreeStore) SetCommentCountCallback(commentCountCallback CommentCountFunction) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.commentCountCallback = commentCountCallback
}

func (self *CommentTreeStore) Comments(postId Id) []*Comment {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if entry := self.entries[postId]; entry != nil {
		return entry.items
	}
	return nil
}

func (self *CommentTreeStore) Loaded(postId Id) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if entry := self.entries[postId]; entry != nil {
		return entry.loaded
	}
	return false
}

// Load resolves the comment tree for a post. Load-once semantics: after the
// first successful fetch the cached tree is reused unless force is set.
func (self *CommentTreeStore) Load(postId Id, force bool) {
	self.stateLock.Lock()
	entry := self.entries[postId]
	if entry == nil {
		entry = &commentTreeEntry{}
		self.entries[postId] = entry
	}
	if entry.loaded && !force {
		items := entry.items
		self.stateLock.Unlock()
		self.notifyChange(postId, items)
		return
	}
	self.stateLock.Unlock()

	self.service.GetComments(
		&GetCommentsArgs{PostId: postId},
		NewApiCallback(func(result *GetCommentsResult, err error) {
			if err != nil {
				self.notice(err)
				return
			}

			self.stateLock.Lock()
			entry := self.entries[postId]
			if entry == nil {
				entry = &commentTreeEntry{}
				self.entries[postId] = entry
			}
			entry.items = mergeCommentTrees(entry.items, result.Comments)
			entry.loaded = true
			items := entry.items
			self.stateLock.Unlock()

			self.notifyChange(postId, items)
		}),
	)
}

// Create posts a new comment. The canonical comment from the response is
// inserted through the same merge rules as a fetched one.
func (self *CommentTreeStore) Create(postId Id, parentId *Id, content string) {
	self.service.CreateComment(
		&CreateCommentArgs{
			PostId:   postId,
			ParentId: parentId,
			Content:  content,
		},
		NewApiCallback(func(result *CreateCommentResult, err error) {
			if err != nil {
				self.notice(err)
				return
			}
			if result.Error != nil {
				self.notice(errors.New(result.Error.Message))
				return
			}
			if result.Comment != nil {
				self.Insert(postId, result.Comment)
			}
			self.stateLock.Lock()
			commentCountCallback := self.commentCountCallback
			self.stateLock.Unlock()
			if commentCountCallback != nil {
				commentCountCallback(postId, result.CommentCount)
			}
		}),
	)
}

// Insert places a comment under its stated parent. When the parent is not
// in the tree (not yet loaded), the comment is appended as a new top level
// node. That fallback is policy, not data loss.
func (self *CommentTreeStore) Insert(postId Id, comment *Comment) {
	self.stateLock.Lock()
	entry := self.entries[postId]
	if entry == nil {
		entry = &commentTreeEntry{}
		self.entries[postId] = entry
	}
	if existing := findCommentById(entry.items, comment.Id); existing != nil {
		// already present, the newer payload wins in place
		existing.Content = comment.Content
		existing.AuthorId = comment.AuthorId
		existing.CreatedAt = comment.CreatedAt
	} else if comment.ParentId != nil {
		if parent := findCommentById(entry.items, *comment.ParentId); parent != nil {
			parent.Children = append(parent.Children, comment)
		} else {
			entry.items = append(entry.items, comment)
		}
	} else {
		entry.items = append(entry.items, comment)
	}
	items := entry.items
	self.stateLock.Unlock()

	self.notifyChange(postId, items)
}

func (self *CommentTreeStore) notifyChange(postId Id, comments []*Comment) {
	for _, callback := range self.commentChangeCallbacks.Get() {
		callback(postId, comments)
	}
}

// iterative traversal. Reply depth is unbounded in the data,
// so the search never recurses.
func findCommentById(roots []*Comment, commentId Id) *Comment {
	stack := slices.Clone(roots)
	for 0 < len(stack) {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node.Id == commentId {
			return node
		}
		stack = append(stack, node.Children...)
	}
	return nil
}

// merge fetched trees into the cached tree by id, preserving nesting.
// Existing nodes are patched in place; new nodes attach under their fetched
// parent when it exists in the merged tree, else at the top level.
func mergeCommentTrees(existing []*Comment, fetched []*Comment) []*Comment {
	if len(existing) == 0 {
		return fetched
	}

	byId := map[Id]*Comment{}
	stack := slices.Clone(existing)
	for 0 < len(stack) {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		byId[node.Id] = node
		stack = append(stack, node.Children...)
	}

	// walk the fetched tree top down so parents land before children
	type mergeFrame struct {
		node     *Comment
		parentId *Id
	}
	queue := []mergeFrame{}
	for _, root := range fetched {
		queue = append(queue, mergeFrame{node: root})
	}
	for 0 < len(queue) {
		frame := queue[0]
		queue = queue[1:]

		children := frame.node.Children
		frame.node.Children = nil

		if cached := byId[frame.node.Id]; cached != nil {
			cached.Content = frame.node.Content
			cached.AuthorId = frame.node.AuthorId
			cached.CreatedAt = frame.node.CreatedAt
		} else {
			node := frame.node
			byId[node.Id] = node
			if frame.parentId != nil {
				if parent := byId[*frame.parentId]; parent != nil {
					parent.Children = append(parent.Children, node)
				} else {
					existing = append(existing, node)
				}
			} else {
				existing = append(existing, node)
			}
		}

		for _, child := range children {
			parentId := frame.node.Id
			queue = append(queue, mergeFrame{node: child, parentId: &parentId})
		}
	}

	return existing
}
