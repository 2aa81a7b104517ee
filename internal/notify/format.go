package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"eventsub-relay/internal/eventsub"
)

const (
	headerBan    = "🏝️_Twitch Moderation_ |\n"
	headerAction = "🔨_Twitch Moderation_ |\n"
	headerInfo   = "👀_Twitch Moderation_ |\n"
	headerDelete = "❌_Twitch Moderation_ |\n"
)

// Message is one webhook post.
type Message struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

var markdown = strings.NewReplacer(
	"_", `\_`,
	"*", `\*`,
	"`", "\\`",
	"~", `\~`,
	"#", `\#`,
	"+", `\+`,
	"-", `\-`,
)

// Sanitize escapes the markdown tokens the webhook target would interpret.
func Sanitize(text string) string {
	return markdown.Replace(text)
}

// Formatter renders moderation events as short markdown messages.
//
// BotName is the login of a chat bot that moderates on behalf of people.
// When it performs an action whose reason ends with "by <user>", the message
// is attributed to that user instead.
type Formatter struct {
	BotName string
}

// Format renders event. Events with nothing worth posting report false.
func (f Formatter) Format(event eventsub.Event) (Message, bool) {
	switch data := event.Data.(type) {
	case eventsub.ChannelBan:
		return f.ban(data), true
	case eventsub.ChannelUnban:
		actor, viaBot := f.actor(data.ModeratorUserLogin, "")
		content := fmt.Sprintf("%s*%s*: /unban %s\n*%s:%s* is no longer banned",
			headerBan, Sanitize(actor), Sanitize(data.UserLogin), viewerCard(data.BroadcasterUserLogin, data.UserLogin), data.UserID)
		return f.message(content, actor, viaBot), true
	case eventsub.UnbanRequestResolve:
		content := fmt.Sprintf("%s*%s*: /%s unban request %s : %s",
			headerAction, Sanitize(data.ModeratorUserLogin), data.Status, Sanitize(data.UserLogin), Sanitize(data.ResolutionText))
		return f.message(content, data.ModeratorUserLogin, false), true
	case eventsub.VIPAdd:
		content := fmt.Sprintf("%s*%s*: /vip %s", headerInfo, Sanitize(data.BroadcasterUserLogin), Sanitize(data.UserLogin))
		return f.message(content, data.BroadcasterUserLogin, false), true
	case eventsub.AutomodMessageHold:
		content := fmt.Sprintf("%s*automod*: held message from %s ||%s|| (%s)",
			headerInfo, viewerCard(data.BroadcasterUserLogin, data.UserLogin), Sanitize(data.Message.Text), data.Category)
		return f.message(content, "automod", false), true
	case eventsub.ChannelModerate:
		return f.moderate(event, data)
	default:
		return Message{}, false
	}
}

func (f Formatter) ban(data eventsub.ChannelBan) Message {
	actor, viaBot := f.actor(data.ModeratorUserLogin, data.Reason)
	card := viewerCard(data.BroadcasterUserLogin, data.UserLogin)
	if data.IsPermanent || data.EndsAt == nil {
		content := fmt.Sprintf("%s*%s*: /ban %s\n*%s:%s* is now banned",
			headerBan, Sanitize(actor), Sanitize(joinArgs(data.UserLogin, data.Reason)), card, data.UserID)
		return f.message(content, actor, viaBot)
	}
	length := timeoutLength(data.BannedAt, *data.EndsAt)
	content := fmt.Sprintf("%s*%s*: /timeout %s\n*%s:%s* has been timed out for %s",
		headerAction, Sanitize(actor), Sanitize(joinArgs(data.UserLogin, data.Reason)), card, data.UserID, length)
	return f.message(content, actor, viaBot)
}

func (f Formatter) moderate(event eventsub.Event, data eventsub.ChannelModerate) (Message, bool) {
	channel := data.BroadcasterUserLogin
	switch data.Action {
	case "ban":
		if data.Ban == nil {
			return Message{}, false
		}
		actor, viaBot := f.actor(data.ModeratorUserLogin, data.Ban.Reason)
		content := fmt.Sprintf("%s*%s*: /ban %s\n*%s:%s* is now banned",
			headerBan, Sanitize(actor), Sanitize(joinArgs(data.Ban.UserLogin, data.Ban.Reason)), viewerCard(channel, data.Ban.UserLogin), data.Ban.UserID)
		return f.message(content, actor, viaBot), true

	case "timeout":
		if data.Timeout == nil {
			return Message{}, false
		}
		actor, viaBot := f.actor(data.ModeratorUserLogin, data.Timeout.Reason)
		content := fmt.Sprintf("%s*%s*: /timeout %s\n*%s:%s* has been timed out for %s",
			headerAction, Sanitize(actor), Sanitize(joinArgs(data.Timeout.UserLogin, data.Timeout.Reason)),
			viewerCard(channel, data.Timeout.UserLogin), data.Timeout.UserID, timeoutLength(event.Timestamp, data.Timeout.ExpiresAt))
		return f.message(content, actor, viaBot), true

	case "unban", "untimeout":
		user := data.Unban
		outcome := "is no longer banned"
		header := headerBan
		if data.Action == "untimeout" {
			user = data.Untimeout
			outcome = "is no longer timed out"
			header = headerAction
		}
		if user == nil {
			return Message{}, false
		}
		actor, viaBot := f.actor(data.ModeratorUserLogin, "")
		content := fmt.Sprintf("%s*%s*: /%s %s\n*%s:%s* %s",
			header, Sanitize(actor), data.Action, Sanitize(user.UserLogin), viewerCard(channel, user.UserLogin), user.UserID, outcome)
		return f.message(content, actor, viaBot), true

	case "delete":
		if data.Delete == nil {
			return Message{}, false
		}
		content := fmt.Sprintf("%s*%s*: /delete %s ||%s||\n*%s:%s* message deleted",
			headerDelete, Sanitize(data.ModeratorUserLogin), viewerCard(channel, data.Delete.UserLogin),
			Sanitize(data.Delete.MessageBody), Sanitize(data.Delete.UserLogin), data.Delete.UserID)
		return f.message(content, data.ModeratorUserLogin, false), true

	case "add_blocked_term", "remove_blocked_term", "add_permitted_term", "remove_permitted_term":
		if data.AutomodTerms == nil {
			return Message{}, false
		}
		verb := "Added"
		if strings.HasPrefix(data.Action, "remove") {
			verb = "Deleted"
		}
		terms := "`" + strings.Join(data.AutomodTerms.Terms, "`, `") + "`"
		if data.AutomodTerms.List == "blocked" {
			terms = "||" + terms + "||"
		}
		content := fmt.Sprintf("%s*%s*: %s %s term %s", headerInfo, Sanitize(data.ModeratorUserLogin), verb, data.AutomodTerms.List, terms)
		return f.message(content, data.ModeratorUserLogin, false), true

	case "approve_unban_request", "deny_unban_request":
		if data.UnbanRequest == nil {
			return Message{}, false
		}
		content := fmt.Sprintf("%s*%s*: /%s %s : %s", headerAction, Sanitize(data.ModeratorUserLogin), data.Action,
			Sanitize(data.UnbanRequest.UserLogin), Sanitize(data.UnbanRequest.ModeratorMessage))
		return f.message(content, data.ModeratorUserLogin, false), true

	case "mod":
		return f.targeted(data, data.Mod, "Added `%s` as moderator")
	case "unmod":
		return f.targeted(data, data.Unmod, "Removed `%s` as moderator")
	case "vip":
		return f.targeted(data, data.VIP, "/vip %s")
	case "unvip":
		return f.targeted(data, data.Unvip, "/unvip %s")
	case "raid":
		if data.Raid == nil {
			return Message{}, false
		}
		content := fmt.Sprintf("%s*%s*: /raid %s (%d viewers)", headerInfo, Sanitize(data.ModeratorUserLogin), Sanitize(data.Raid.UserLogin), data.Raid.ViewerCount)
		return f.message(content, data.ModeratorUserLogin, false), true
	case "unraid":
		return f.targeted(data, data.Unraid, "/unraid %s")
	case "warn":
		if data.Warn == nil {
			return Message{}, false
		}
		actor, viaBot := f.actor(data.ModeratorUserLogin, data.Warn.Reason)
		content := fmt.Sprintf("%s*%s*: /warn %s\n*%s:%s* has been warned",
			headerAction, Sanitize(actor), Sanitize(joinArgs(data.Warn.UserLogin, data.Warn.Reason)), viewerCard(channel, data.Warn.UserLogin), data.Warn.UserID)
		return f.message(content, actor, viaBot), true
	case "slow":
		args := ""
		if data.Slow != nil {
			args = " " + strconv.Itoa(data.Slow.WaitTimeSeconds)
		}
		return f.message(fmt.Sprintf("%s*%s*: /slow%s", headerInfo, Sanitize(data.ModeratorUserLogin), args), data.ModeratorUserLogin, false), true
	case "followers":
		args := ""
		if data.Followers != nil {
			args = " " + strconv.Itoa(data.Followers.FollowDurationMinutes) + "m"
		}
		return f.message(fmt.Sprintf("%s*%s*: /followers%s", headerInfo, Sanitize(data.ModeratorUserLogin), args), data.ModeratorUserLogin, false), true
	default:
		content := fmt.Sprintf("%s*%s*: /%s", headerInfo, Sanitize(data.ModeratorUserLogin), data.Action)
		return f.message(content, data.ModeratorUserLogin, false), true
	}
}

func (f Formatter) targeted(data eventsub.ChannelModerate, user *eventsub.User, format string) (Message, bool) {
	if user == nil {
		return Message{}, false
	}
	content := headerInfo + "*" + Sanitize(data.ModeratorUserLogin) + "*: " + fmt.Sprintf(format, Sanitize(user.UserLogin))
	return f.message(content, data.ModeratorUserLogin, false), true
}

// actor names who performed an action. Actions by the configured bot are
// credited to the user at the end of the reason ("... by <user>").
func (f Formatter) actor(moderator, reason string) (string, bool) {
	bot := strings.ToLower(strings.TrimSpace(f.BotName))
	if bot == "" || !strings.EqualFold(moderator, bot) {
		return moderator, false
	}
	words := strings.Fields(reason)
	if len(words) >= 2 && words[len(words)-2] == "by" {
		return words[len(words)-1], true
	}
	return bot, false
}

func (f Formatter) message(content, actor string, viaBot bool) Message {
	username := actor + "@twitch"
	if viaBot {
		username += " via " + f.BotName
	}
	return Message{Content: content, Username: username}
}

func viewerCard(channel, user string) string {
	return fmt.Sprintf("[%[2]s](<https://www.twitch.tv/popout/%[1]s/viewercard/%[2]s?popout=>)", channel, user)
}

func joinArgs(args ...string) string {
	parts := args[:0:0]
	for _, arg := range args {
		if arg = strings.TrimSpace(arg); arg != "" {
			parts = append(parts, arg)
		}
	}
	return strings.Join(parts, " ")
}

func timeoutLength(from, until time.Time) string {
	if from.IsZero() || until.IsZero() || !until.After(from) {
		return "<unknown>"
	}
	return strings.TrimSpace(humanize.RelTime(from, until, "", ""))
}
