package livesync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

type ParlorApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	byJwt string
}

func NewParlorApi(apiUrl string) *ParlorApi {
	return NewParlorApiWithContext(context.Background(), apiUrl)
}

func NewParlorApiWithContext(ctx context.Context, apiUrl string) *ParlorApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &ParlorApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
	}
}

// this gets attached to api calls that need it
func (self *ParlorApi) SetByJwt(byJwt string) {
	self.byJwt = byJwt
}

type AuthLoginCallback = apiCallback[*AuthLoginResult]

type AuthLoginArgs struct {
	UserAuth string `json:"user_auth"`
	Password string `json:"password"`
}

type AuthLoginResult struct {
	ByJwt string                `json:"by_jwt,omitempty"`
	Error *AuthLoginResultError `json:"error,omitempty"`
}

type AuthLoginResultError struct {
	Message string `json:"message"`
}

func (self *ParlorApi) AuthLogin(authLogin *AuthLoginArgs, callback AuthLoginCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/auth/login", self.apiUrl),
		authLogin,
		self.byJwt,
		&AuthLoginResult{},
		callback,
	)
}

func (self *ParlorApi) AuthLoginSync(authLogin *AuthLoginArgs) (*AuthLoginResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/auth/login", self.apiUrl),
		authLogin,
		self.byJwt,
		&AuthLoginResult{},
		NewNoopApiCallback[*AuthLoginResult](),
	)
}

type GetFeedCallback = apiCallback[*GetFeedResult]

type GetFeedArgs struct {
	Cursor string `json:"cursor,omitempty"`
}

type GetFeedResult struct {
	Posts      []*Post `json:"posts"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

func (self *ParlorApi) GetFeed(getFeed *GetFeedArgs, callback GetFeedCallback) {
	url := fmt.Sprintf("%s/feed", self.apiUrl)
	if getFeed.Cursor != "" {
		url = fmt.Sprintf("%s/feed?cursor=%s", self.apiUrl, getFeed.Cursor)
	}
	go get(
		self.ctx,
		url,
		self.byJwt,
		&GetFeedResult{},
		callback,
	)
}

type GetCommentsCallback = apiCallback[*GetCommentsResult]

type GetCommentsArgs struct {
	PostId Id `json:"post_id"`
}

type GetCommentsResult struct {
	PostId   Id         `json:"post_id"`
	Comments []*Comment `json:"comments"`
}

func (self *ParlorApi) GetComments(getComments *GetCommentsArgs, callback GetCommentsCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/posts/%s/comments", self.apiUrl, getComments.PostId),
		self.byJwt,
		&GetCommentsResult{},
		callback,
	)
}

type CreateCommentCallback = apiCallback[*CreateCommentResult]

type CreateCommentArgs struct {
	PostId   Id     `json:"post_id"`
	ParentId *Id    `json:"parent_id,omitempty"`
	Content  string `json:"content"`
}

type CreateCommentResult struct {
	Comment      *Comment                  `json:"comment,omitempty"`
	CommentCount int                       `json:"comment_count"`
	Error        *CreateCommentResultError `json:"error,omitempty"`
}

type CreateCommentResultError struct {
	Message string `json:"message"`
}

func (self *ParlorApi) CreateComment(createComment *CreateCommentArgs, callback CreateCommentCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/posts/%s/comments", self.apiUrl, createComment.PostId),
		createComment,
		self.byJwt,
		&CreateCommentResult{},
		callback,
	)
}

type LikeCallback = apiCallback[*LikeResult]

type LikeArgs struct {
	PostId Id `json:"post_id"`
}

// the authoritative engagement snapshot after the like change
type LikeResult struct {
	PostId         Id   `json:"post_id"`
	LikeCount      int  `json:"like_count"`
	CommentCount   int  `json:"comment_count"`
	ViewerHasLiked bool `json:"viewer_has_liked"`
}

func (self *ParlorApi) CreateLike(like *LikeArgs, callback LikeCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/posts/%s/likes", self.apiUrl, like.PostId),
		like,
		self.byJwt,
		&LikeResult{},
		callback,
	)
}

func (self *ParlorApi) DeleteLike(like *LikeArgs, callback LikeCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/posts/%s/likes/delete", self.apiUrl, like.PostId),
		like,
		self.byJwt,
		&LikeResult{},
		callback,
	)
}

type FollowCallback = apiCallback[*FollowResult]

type FollowArgs struct {
	UserId Id `json:"user_id"`
}

type FollowResult struct {
	UserId      Id   `json:"user_id"`
	IsFollowing bool `json:"is_following"`
}

func (self *ParlorApi) CreateFollow(follow *FollowArgs, callback FollowCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/users/%s/follow", self.apiUrl, follow.UserId),
		follow,
		self.byJwt,
		&FollowResult{},
		callback,
	)
}

func (self *ParlorApi) DeleteFollow(follow *FollowArgs, callback FollowCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/users/%s/unfollow", self.apiUrl, follow.UserId),
		follow,
		self.byJwt,
		&FollowResult{},
		callback,
	)
}

type GetFriendsCallback = apiCallback[*GetFriendsResult]

type GetFriendsResult struct {
	Friends        []*Friend `json:"friends"`
	FriendRequests []*Friend `json:"friend_requests"`
}

func (self *ParlorApi) GetFriends(callback GetFriendsCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/friends", self.apiUrl),
		self.byJwt,
		&GetFriendsResult{},
		callback,
	)
}

type GetDirectThreadCallback = apiCallback[*GetDirectThreadResult]

type GetDirectThreadArgs struct {
	FriendId Id `json:"friend_id"`
}

type GetDirectThreadResult struct {
	FriendId Id         `json:"friend_id"`
	ChatId   Id         `json:"chat_id"`
	LockCode string     `json:"lock_code"`
	Messages []*Message `json:"messages"`
}

func (self *ParlorApi) GetDirectThread(getDirectThread *GetDirectThreadArgs, callback GetDirectThreadCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/messages/direct/%s", self.apiUrl, getDirectThread.FriendId),
		self.byJwt,
		&GetDirectThreadResult{},
		callback,
	)
}

type SendMessageCallback = apiCallback[*SendMessageResult]

type SendMessageArgs struct {
	ChatId    Id     `json:"chat_id"`
	Content   string `json:"content"`
	ReplyToId *Id    `json:"reply_to_id,omitempty"`
}

type SendMessageResult struct {
	Message *Message `json:"message"`
}

func (self *ParlorApi) SendMessage(sendMessage *SendMessageArgs, callback SendMessageCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/messages/%s", self.apiUrl, sendMessage.ChatId),
		sendMessage,
		self.byJwt,
		&SendMessageResult{},
		callback,
	)
}

type DeleteMessageCallback = apiCallback[*DeleteMessageResult]

type DeleteMessageArgs struct {
	ChatId    Id `json:"chat_id"`
	MessageId Id `json:"message_id"`
}

type DeleteMessageResult struct {
	Message *Message `json:"message"`
}

func (self *ParlorApi) DeleteMessage(deleteMessage *DeleteMessageArgs, callback DeleteMessageCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/messages/%s/delete", self.apiUrl, deleteMessage.ChatId),
		deleteMessage,
		self.byJwt,
		&DeleteMessageResult{},
		callback,
	)
}

type GetNotificationSummaryCallback = apiCallback[*GetNotificationSummaryResult]

type GetNotificationSummaryResult struct {
	UnreadCount int `json:"unread_count"`
}

func (self *ParlorApi) GetNotificationSummary(callback GetNotificationSummaryCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/notifications/summary", self.apiUrl),
		self.byJwt,
		&GetNotificationSummaryResult{},
		callback,
	)
}

type GetNotificationsCallback = apiCallback[*GetNotificationsResult]

type GetNotificationsResult struct {
	Notifications []*Notification `json:"notifications"`
}

func (self *ParlorApi) GetNotifications(callback GetNotificationsCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/notifications", self.apiUrl),
		self.byJwt,
		&GetNotificationsResult{},
		callback,
	)
}

type MarkNotificationsReadCallback = apiCallback[*MarkNotificationsReadResult]

type MarkNotificationsReadResult struct {
	UnreadCount int `json:"unread_count"`
}

func (self *ParlorApi) MarkNotificationsRead(callback MarkNotificationsReadCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/notifications/read-all", self.apiUrl),
		nil,
		self.byJwt,
		&MarkNotificationsReadResult{},
		callback,
	)
}

func post[R any](ctx context.Context, url string, args any, byJwt string, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "text/json")

	if byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", byJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}

func get[R any](ctx context.Context, url string, byJwt string, result R, callback apiCallback[R]) (R, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "text/json")

	if byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", byJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}
