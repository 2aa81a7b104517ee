package runtime

import (
	"fmt"
	"net/http"

	"eventsub-relay/internal/auth"
	"eventsub-relay/internal/config"
	"eventsub-relay/internal/eventsub"
	"eventsub-relay/internal/logging"
	"eventsub-relay/internal/notify"
)

// newSource picks the credential source for the configured mode. Device
// authorization also gets a watcher for tokens written by another process.
func newSource(opts config.Options, endpoints config.Endpoints, httpClient *http.Client, logger *logging.Logger, webhook *notify.Webhook) (auth.Source, *auth.FileWatcher, error) {
	mode, err := opts.Mode()
	if err != nil {
		return nil, nil, err
	}
	validator := auth.Validator{HTTP: httpClient, URL: endpoints.ValidateURL, Logger: logger}
	logger.Debug("credential mode selected", logging.Field("mode", mode.String()))

	switch mode {
	case config.ModeStatic:
		return auth.StaticSource{Token: opts.AccessToken, Validator: validator}, nil, nil
	case config.ModeService:
		return auth.ServiceSource{
			HTTP:      httpClient,
			URL:       opts.ServiceURL,
			Key:       opts.ServiceKey,
			Pointer:   opts.ServicePointer,
			Validator: validator,
			Logger:    logger,
		}, nil, nil
	case config.ModeDevice:
		device := newDeviceSource(opts, endpoints, httpClient, logger, webhook)
		watcher := &auth.FileWatcher{
			File:           device.File,
			Validator:      validator,
			RequiredScopes: eventsub.RequiredScopes(topics(opts)),
			Logger:         logger,
		}
		return device, watcher, nil
	default:
		return nil, nil, fmt.Errorf("unsupported credential mode %s", mode)
	}
}

func newDeviceSource(opts config.Options, endpoints config.Endpoints, httpClient *http.Client, logger *logging.Logger, webhook *notify.Webhook) *auth.DeviceSource {
	device := &auth.DeviceSource{
		HTTP:         httpClient,
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		Scopes:       eventsub.RequestedScopes(topics(opts)),
		DeviceURL:    endpoints.DeviceURL,
		TokenURL:     endpoints.TokenURL,
		Validator:    auth.Validator{HTTP: httpClient, URL: endpoints.ValidateURL, Logger: logger},
		File:         auth.TokenFile{Path: opts.TokenFile},
		Margin:       opts.RefreshMargin,
		Logger:       logger,
	}
	if webhook != nil {
		device.Announcer = webhook
	}
	return device
}

func topics(opts config.Options) []string {
	if len(opts.Topics) > 0 {
		return opts.Topics
	}
	return eventsub.DefaultTopics()
}
