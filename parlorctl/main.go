package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"

	"github.com/parlor-app/livesync"
)

const ParlorCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Parlor live sync control.

The default urls are:
    api_url: https://api.parlor.app
    ws_url: wss://ws.parlor.app

Usage:
    parlorctl login [--api_url=<api_url>] --user_auth=<user_auth>
    parlorctl friends [--api_url=<api_url>] --jwt=<jwt>
    parlorctl feed-tail [--api_url=<api_url>] [--ws_url=<ws_url>] --jwt=<jwt>
    parlorctl message-sink [--api_url=<api_url>] [--ws_url=<ws_url>] --jwt=<jwt>
        --friend=<friend_id>
    parlorctl notification-sink [--api_url=<api_url>] [--ws_url=<ws_url>] --jwt=<jwt>

Options:
    -h --help                Show this screen.
    --version                Show version.
    --api_url=<api_url>
    --ws_url=<ws_url>
    --user_auth=<user_auth>  Email or handle.
    --jwt=<jwt>              Your session JWT.
    --friend=<friend_id>     Friend user_id to open the direct thread for.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], ParlorCtlVersion)
	if err != nil {
		panic(err)
	}

	if login_, _ := opts.Bool("login"); login_ {
		login(opts)
	} else if friends_, _ := opts.Bool("friends"); friends_ {
		friends(opts)
	} else if feedTail_, _ := opts.Bool("feed-tail"); feedTail_ {
		feedTail(opts)
	} else if messageSink_, _ := opts.Bool("message-sink"); messageSink_ {
		messageSink(opts)
	} else if notificationSink_, _ := opts.Bool("notification-sink"); notificationSink_ {
		notificationSink(opts)
	}
}

func apiUrl(opts docopt.Opts) string {
	if apiUrl_, err := opts.String("--api_url"); err == nil && apiUrl_ != "" {
		return apiUrl_
	}
	return "https://api.parlor.app"
}

func wsUrl(opts docopt.Opts) string {
	if wsUrl_, err := opts.String("--ws_url"); err == nil && wsUrl_ != "" {
		return wsUrl_
	}
	return "wss://ws.parlor.app"
}

// log in and print the session jwt
func login(opts docopt.Opts) {
	userAuth, _ := opts.String("--user_auth")

	fmt.Print("Password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		Err.Printf("Could not read password (%s).\n", err)
		return
	}

	api := livesync.NewParlorApi(apiUrl(opts))
	result, err := api.AuthLoginSync(&livesync.AuthLoginArgs{
		UserAuth: userAuth,
		Password: string(passwordBytes),
	})
	if err != nil {
		Err.Printf("Login failed (%s).\n", err)
		return
	}
	if result.Error != nil {
		Err.Printf("Login failed (%s).\n", result.Error.Message)
		return
	}

	Out.Printf("%s", result.ByJwt)
}

// list friends and pending requests
func friends(opts docopt.Opts) {
	jwt, _ := opts.String("--jwt")

	api := livesync.NewParlorApi(apiUrl(opts))
	api.SetByJwt(jwt)

	callback, c := livesync.NewBlockingApiCallback[*livesync.GetFriendsResult]()
	api.GetFriends(callback)
	r := <-c
	if r.Error != nil {
		Err.Printf("Could not list friends (%s).\n", r.Error)
		return
	}

	Out.Printf("friends (%d)", len(r.Result.Friends))
	for _, friend := range r.Result.Friends {
		Out.Printf("  %s %s", friend.UserId, friend.UserName)
	}
	Out.Printf("requests (%d)", len(r.Result.FriendRequests))
	for _, friend := range r.Result.FriendRequests {
		Out.Printf("  %s %s", friend.UserId, friend.UserName)
	}
}

func newClient(opts docopt.Opts) (*livesync.SyncClient, context.CancelFunc) {
	jwt, _ := opts.String("--jwt")

	cancelCtx, cancel := context.WithCancel(context.Background())

	client, err := livesync.NewSyncClientWithDefaults(cancelCtx, apiUrl(opts), wsUrl(opts), jwt)
	if err != nil {
		Err.Printf("Invalid jwt (%s).\n", err)
		cancel()
		os.Exit(1)
	}

	client.AddNoticeCallback(func(err error) {
		Err.Printf("notice: %s\n", err)
	})

	return client, cancel
}

func waitForInterrupt() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}

// print the feed snapshot every time it changes
func feedTail(opts docopt.Opts) {
	client, cancel := newClient(opts)
	defer cancel()
	defer client.Close()

	client.Feed().AddFeedChangeCallback(func(posts []*livesync.Post) {
		Out.Printf("feed (%d posts)", len(posts))
		for _, post := range posts {
			Out.Printf("  %s likes=%d comments=%d %s", post.Id, post.LikeCount, post.CommentCount, post.Caption)
		}
	})

	client.Start()
	waitForInterrupt()
}

// open the direct thread with a friend and print every merged change
func messageSink(opts docopt.Opts) {
	friendIdStr, _ := opts.String("--friend")
	friendId, err := livesync.ParseId(friendIdStr)
	if err != nil {
		Err.Printf("Invalid friend_id (%s).\n", err)
		return
	}

	client, cancel := newClient(opts)
	defer cancel()
	defer client.Close()

	client.Messages().AddMessageChangeCallback(func(conversation *livesync.Conversation) {
		Out.Printf("conversation %s (%d messages)", conversation.ChatId, len(conversation.Messages))
		for _, message := range conversation.Messages {
			state := ""
			if message.IsDeleted {
				state = " (deleted)"
			}
			Out.Printf("  %s %s%s", message.Id, message.Content, state)
		}
	})

	client.Start()
	client.Messages().Activate(friendId)
	waitForInterrupt()
}

// print the unread counter and notifications as they arrive
func notificationSink(opts docopt.Opts) {
	client, cancel := newClient(opts)
	defer cancel()
	defer client.Close()

	client.Notifications().AddNotificationChangeCallback(func(unreadCount int, notifications []*livesync.Notification) {
		Out.Printf("unread=%d (%d loaded)", unreadCount, len(notifications))
	})

	client.Start()
	waitForInterrupt()
}
