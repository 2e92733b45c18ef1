package realtime

import "strings"

// Channel is a logical realtime topic with its own connection set.
type Channel string

const (
	ChannelPosts         Channel = "posts"
	ChannelChat          Channel = "chat"
	ChannelNotifications Channel = "notifications"
	ChannelPresence      Channel = "presence"
)

// Channels lists every valid channel.
var Channels = []Channel{ChannelPosts, ChannelChat, ChannelNotifications, ChannelPresence}

// ParseChannel maps a path segment to a Channel.
func ParseChannel(s string) (Channel, bool) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	return c, c.Valid()
}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelPosts, ChannelChat, ChannelNotifications, ChannelPresence:
		return true
	default:
		return false
	}
}

func (c Channel) String() string { return string(c) }

// PostTopic is the group name for connections following postID.
func PostTopic(postID string) string { return "post:" + postID }
