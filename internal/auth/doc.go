// Package auth obtains, refreshes and shares the access token used by the
// EventSub stream.
//
// A Source knows how to produce a Credential: StaticSource wraps a
// pre-issued token, ServiceSource fetches one from a token-issuing HTTP
// service and DeviceSource runs the OAuth2 device authorization flow with an
// on-disk TokenFile. Every source validates the token to learn the owning
// user, client id, granted scopes and expiry.
//
// A Store holds the current Credential behind an atomic pointer so readers
// never see a half-updated token, and serializes refreshes so concurrent
// triggers result in a single call to the Source. FileWatcher swaps in a
// token written to the TokenFile by another process.
package auth
