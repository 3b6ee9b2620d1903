package livesync

import (
	"unicode/utf8"
)

const MessagePreviewLength = 80

// entities held by the sync layer. identity is always `Id` -
// an entity is never duplicated inside a store, only patched in place.

type Post struct {
	Id                Id     `json:"id"`
	AuthorId          Id     `json:"author_id"`
	Caption           string `json:"caption"`
	MediaRef          string `json:"media_ref"`
	CreatedAt         int64  `json:"created_at"`
	LikeCount         int    `json:"like_count"`
	CommentCount      int    `json:"comment_count"`
	ViewerHasLiked    bool   `json:"viewer_has_liked"`
	IsFollowingAuthor bool   `json:"is_following_author"`
}

// Comment nodes form a tree rooted at a post. Children are owned by their
// parent node. A back reference to the parent is the id only, never a pointer.
type Comment struct {
	Id        Id         `json:"id"`
	ParentId  *Id        `json:"parent_id,omitempty"`
	AuthorId  Id         `json:"author_id"`
	Content   string     `json:"content"`
	CreatedAt int64      `json:"created_at"`
	Children  []*Comment `json:"children,omitempty"`
}

type Message struct {
	Id        Id              `json:"id"`
	ChatId    Id              `json:"chat_id"`
	SenderId  Id              `json:"sender_id"`
	Content   string          `json:"content"`
	CreatedAt int64           `json:"created_at"`
	IsDeleted bool            `json:"is_deleted"`
	ReplyTo   *MessageSummary `json:"reply_to,omitempty"`
}

// MessageSummary is a frozen preview of a referenced message.
// It is never mutated after creation.
type MessageSummary struct {
	Id       Id     `json:"id"`
	SenderId Id     `json:"sender_id"`
	Preview  string `json:"preview"`
}

func NewMessageSummary(message *Message) *MessageSummary {
	return &MessageSummary{
		Id:       message.Id,
		SenderId: message.SenderId,
		Preview:  messagePreview(message.Content, MessagePreviewLength),
	}
}

// truncate on a rune boundary so a multi byte sequence is never split
func messagePreview(content string, maxRunes int) string {
	if utf8.RuneCountInString(content) <= maxRunes {
		return content
	}
	count := 0
	for i := range content {
		if count == maxRunes {
			return content[:i]
		}
		count += 1
	}
	return content
}

type Conversation struct {
	FriendId Id         `json:"friend_id"`
	ChatId   Id         `json:"chat_id"`
	LockCode string     `json:"lock_code"`
	Messages []*Message `json:"messages"`
}

type Notification struct {
	Id        Id     `json:"id"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	Read      bool   `json:"read"`
	CreatedAt int64  `json:"created_at"`
}

// EngagementSnapshot is the authoritative per post engagement state.
// It always comes from the platform, never from a locally predicted value.
type EngagementSnapshot struct {
	PostId         Id   `json:"post_id"`
	LikeCount      int  `json:"like_count"`
	CommentCount   int  `json:"comment_count"`
	ViewerHasLiked bool `json:"viewer_has_liked"`
}

type Friend struct {
	UserId   Id     `json:"user_id"`
	UserName string `json:"user_name"`
}
