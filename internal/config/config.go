package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

type Options struct {
	EventSubURL string `long:"eventsub-url" env:"EVENTSUB_URL" default:"wss://eventsub.wss.twitch.tv/ws" description:"EventSub WebSocket URL"`
	HelixURL    string `long:"helix-url" env:"HELIX_URL" default:"https://api.twitch.tv/helix" description:"Helix API base URL"`
	OAuthURL    string `long:"oauth-url" env:"OAUTH_URL" default:"https://id.twitch.tv/oauth2" description:"OAuth2 identity service base URL"`

	AccessToken string `long:"access-token" env:"ACCESS_TOKEN" description:"Pre-issued OAuth2 access token"`

	ServiceURL     string `long:"oauth2-service-url" env:"OAUTH2_SERVICE_URL" description:"URL of a service that hands out access tokens. Called on start and whenever the token needs refreshing"`
	ServiceKey     string `long:"oauth2-service-key" env:"OAUTH2_SERVICE_KEY" description:"Bearer key for the token service"`
	ServicePointer string `long:"oauth2-service-pointer" env:"OAUTH2_SERVICE_POINTER" default:"/access_token" description:"JSON pointer (RFC 6901) to the token in the service response"`

	ClientID     string `long:"client-id" env:"CLIENT_ID" description:"Application client id for the device authorization flow"`
	ClientSecret string `long:"client-secret" env:"CLIENT_SECRET" description:"Application client secret (confidential clients only, never persisted)"`
	TokenFile    string `long:"token-file" env:"TOKEN_FILE" description:"Where device authorization tokens are persisted"`
	Authorize    bool   `long:"authorize" description:"Run device authorization, write the token file and exit"`

	RefreshMargin time.Duration `long:"refresh-margin" env:"REFRESH_MARGIN" default:"60s" description:"Refresh the token when it expires within this window"`

	ChannelIDs    []string `long:"channel-id" env:"CHANNEL_ID" env-delim:"," description:"User id of a channel to monitor (repeatable). Defaults to the token owner"`
	ChannelLogins []string `long:"channel-login" env:"CHANNEL_LOGIN" env-delim:"," description:"Login of a channel to monitor (repeatable)"`
	Topics        []string `long:"topic" env:"TOPICS" env-delim:"," description:"Subscription type to monitor (repeatable). Defaults to the moderation set"`

	DiscordWebhook string `long:"discord-webhook" env:"DISCORD_WEBHOOK" description:"Webhook that receives formatted moderation messages"`
	ChannelBotName string `long:"channel-bot-name" env:"CHANNEL_BOT_NAME" description:"Name of the channel bot whose actions are attributed to the user in the reason"`

	HTTPTimeout  time.Duration `long:"http-timeout" env:"HTTP_TIMEOUT" default:"15s" description:"Timeout for token and subscription API calls"`
	FanoutBuffer int           `long:"fanout-buffer" env:"FANOUT_BUFFER" default:"64" description:"Per-consumer event buffer; the oldest event is dropped when full"`
	OpsAddr      string        `long:"ops-addr" env:"OPS_ADDR" description:"Listen address for /metrics and /healthz (disabled when empty)"`

	Debug     bool `long:"debug" env:"DEBUG" description:"Enable verbose debug output"`
	LogToFile bool `long:"log-to-file" env:"LOG_TO_FILE" description:"Persist logs as JSON lines under the user cache directory"`
}

type CredentialMode int

const (
	ModeStatic CredentialMode = iota
	ModeService
	ModeDevice
)

func (m CredentialMode) String() string {
	switch m {
	case ModeStatic:
		return "static"
	case ModeService:
		return "service"
	case ModeDevice:
		return "device"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

type Endpoints struct {
	EventSubURL string
	HelixURL    string
	ValidateURL string
	DeviceURL   string
	TokenURL    string
}

// ParseOptions loads .env (when present) and parses args, which excludes the
// program name.
func ParseOptions(args []string) (Options, error) {
	_ = godotenv.Load()
	opts := Options{}
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return Options{}, err
	}
	if strings.TrimSpace(opts.TokenFile) == "" {
		opts.TokenFile = DefaultTokenFile()
	}
	return opts, nil
}

// DefaultTokenFile is the persisted device authorization token location.
func DefaultTokenFile() string {
	root, err := os.UserConfigDir()
	if err != nil {
		return "token.json"
	}
	return filepath.Join(root, "eventsub-relay", "token.json")
}

// Mode picks the credential source. Exactly one of access token, token
// service or device authorization may be configured.
func (o Options) Mode() (CredentialMode, error) {
	hasToken := strings.TrimSpace(o.AccessToken) != ""
	hasService := strings.TrimSpace(o.ServiceURL) != ""
	hasDevice := strings.TrimSpace(o.ClientID) != ""
	switch {
	case o.Authorize && !hasDevice:
		return 0, errors.New("--authorize requires --client-id")
	case hasToken && hasService:
		return 0, errors.New("--access-token and --oauth2-service-url are mutually exclusive")
	case hasToken:
		return ModeStatic, nil
	case hasService:
		return ModeService, nil
	case hasDevice:
		return ModeDevice, nil
	default:
		return 0, errors.New("one of --access-token, --oauth2-service-url or --client-id is required")
	}
}

func ValidateRequired(opts Options) error {
	mode, err := opts.Mode()
	if err != nil {
		return err
	}
	if mode == ModeStatic {
		if err := validateAccessToken(opts.AccessToken); err != nil {
			return err
		}
	}
	if mode == ModeService && !strings.HasPrefix(opts.ServicePointer, "/") && opts.ServicePointer != "" {
		return fmt.Errorf("oauth2 service pointer %q must start with '/'", opts.ServicePointer)
	}
	if mode == ModeDevice && strings.TrimSpace(opts.TokenFile) == "" {
		return errors.New("token file is required for device authorization")
	}
	if opts.RefreshMargin < 0 {
		return errors.New("refresh margin must not be negative")
	}
	if opts.FanoutBuffer <= 0 {
		return errors.New("fanout buffer must be positive")
	}
	if len(opts.ChannelIDs) > 0 && len(opts.ChannelLogins) > 0 {
		return errors.New("--channel-id and --channel-login are mutually exclusive")
	}
	return nil
}

func validateAccessToken(token string) error {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(token, "oauth:") {
		return errors.New("access token should not have `oauth:` as a prefix")
	}
	if len(token) != 30 {
		return errors.New("access token needs to be 30 characters long")
	}
	return nil
}

func BuildEndpoints(opts Options) (Endpoints, error) {
	eventsubURL, err := normalizeURL(opts.EventSubURL, "ws", "wss")
	if err != nil {
		return Endpoints{}, fmt.Errorf("eventsub url: %w", err)
	}
	helixURL, err := normalizeURL(opts.HelixURL, "http", "https")
	if err != nil {
		return Endpoints{}, fmt.Errorf("helix url: %w", err)
	}
	oauthURL, err := normalizeURL(opts.OAuthURL, "http", "https")
	if err != nil {
		return Endpoints{}, fmt.Errorf("oauth url: %w", err)
	}
	return Endpoints{
		EventSubURL: eventsubURL,
		HelixURL:    helixURL,
		ValidateURL: oauthURL + "/validate",
		DeviceURL:   oauthURL + "/device",
		TokenURL:    oauthURL + "/token",
	}, nil
}

func normalizeURL(raw string, schemes ...string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", errors.New("expected absolute URL like " + schemes[len(schemes)-1] + "://example.com")
	}
	allowed := false
	for _, scheme := range schemes {
		if strings.EqualFold(parsed.Scheme, scheme) {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", fmt.Errorf("scheme must be one of %s", strings.Join(schemes, ", "))
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/"), nil
}
