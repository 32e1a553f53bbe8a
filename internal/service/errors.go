package service

import "errors"

// ErrProviderUnavailable is returned by Engine.Start when the provider
// connectivity probe fails.
var ErrProviderUnavailable = errors.New("provider unavailable")
