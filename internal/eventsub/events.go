package eventsub

import "time"

// Event is one decoded notification. Data holds one of the typed payloads
// below.
type Event struct {
	MessageID string
	Type      string
	Version   string
	Timestamp time.Time
	Data      EventData
}

type EventData interface {
	eventType() string
}

type Broadcaster struct {
	BroadcasterUserID    string `json:"broadcaster_user_id"`
	BroadcasterUserLogin string `json:"broadcaster_user_login"`
	BroadcasterUserName  string `json:"broadcaster_user_name"`
}

type Moderator struct {
	ModeratorUserID    string `json:"moderator_user_id"`
	ModeratorUserLogin string `json:"moderator_user_login"`
	ModeratorUserName  string `json:"moderator_user_name"`
}

type User struct {
	UserID    string `json:"user_id"`
	UserLogin string `json:"user_login"`
	UserName  string `json:"user_name"`
}

type ChannelBan struct {
	Broadcaster
	Moderator
	User
	Reason      string     `json:"reason"`
	BannedAt    time.Time  `json:"banned_at"`
	EndsAt      *time.Time `json:"ends_at"`
	IsPermanent bool       `json:"is_permanent"`
}

type ChannelUnban struct {
	Broadcaster
	Moderator
	User
}

type UnbanRequestResolve struct {
	Broadcaster
	Moderator
	User
	ID             string `json:"id"`
	ResolutionText string `json:"resolution_text"`
	Status         string `json:"status"`
}

type VIPAdd struct {
	Broadcaster
	User
}

type AutomodMessageHold struct {
	Broadcaster
	User
	MessageID string      `json:"message_id"`
	Message   ChatMessage `json:"message"`
	Category  string      `json:"category"`
	Level     int         `json:"level"`
	HeldAt    time.Time   `json:"held_at"`
}

type ChatMessage struct {
	Text string `json:"text"`
}

// ChannelModerate is a moderator action. Action selects which of the
// optional detail fields is set.
type ChannelModerate struct {
	Broadcaster
	Moderator
	Action string `json:"action"`

	Followers    *FollowersMode `json:"followers"`
	Slow         *SlowMode      `json:"slow"`
	VIP          *User          `json:"vip"`
	Unvip        *User          `json:"unvip"`
	Mod          *User          `json:"mod"`
	Unmod        *User          `json:"unmod"`
	Ban          *BanAction     `json:"ban"`
	Unban        *User          `json:"unban"`
	Timeout      *TimeoutAction `json:"timeout"`
	Untimeout    *User          `json:"untimeout"`
	Raid         *RaidAction    `json:"raid"`
	Unraid       *User          `json:"unraid"`
	Delete       *DeleteAction  `json:"delete"`
	AutomodTerms *AutomodTerms  `json:"automod_terms"`
	UnbanRequest *UnbanRequest  `json:"unban_request"`
	Warn         *WarnAction    `json:"warn"`
}

type FollowersMode struct {
	FollowDurationMinutes int `json:"follow_duration_minutes"`
}

type SlowMode struct {
	WaitTimeSeconds int `json:"wait_time_seconds"`
}

type BanAction struct {
	User
	Reason string `json:"reason"`
}

type TimeoutAction struct {
	User
	Reason    string    `json:"reason"`
	ExpiresAt time.Time `json:"expires_at"`
}

type RaidAction struct {
	User
	ViewerCount int `json:"viewer_count"`
}

type DeleteAction struct {
	User
	MessageID   string `json:"message_id"`
	MessageBody string `json:"message_body"`
}

type AutomodTerms struct {
	Action      string   `json:"action"`
	List        string   `json:"list"`
	Terms       []string `json:"terms"`
	FromAutomod bool     `json:"from_automod"`
}

type UnbanRequest struct {
	User
	IsApproved       bool   `json:"is_approved"`
	ModeratorMessage string `json:"moderator_message"`
}

type WarnAction struct {
	User
	Reason         string   `json:"reason"`
	ChatRulesCited []string `json:"chat_rules_cited"`
}

func (ChannelBan) eventType() string          { return "channel.ban" }
func (ChannelUnban) eventType() string        { return "channel.unban" }
func (UnbanRequestResolve) eventType() string { return "channel.unban_request.resolve" }
func (VIPAdd) eventType() string              { return "channel.vip.add" }
func (AutomodMessageHold) eventType() string  { return "automod.message.hold" }
func (ChannelModerate) eventType() string     { return "channel.moderate" }
