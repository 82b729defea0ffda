//go:build !linux && !darwin && !windows

package daemon

import "errors"

type unsupportedService struct{}

// NewService reports service management as unsupported on this platform,
// matching the Rust original's behavior for anything outside macOS and
// Linux. Use "isq daemon run" directly instead.
func NewService() Service { return unsupportedService{} }

var errUnsupportedPlatform = errors.New("service: system service management not supported on this platform; run `isq daemon run` manually")

func (unsupportedService) Install(execPath, logPath string) error { return errUnsupportedPlatform }
func (unsupportedService) Uninstall() error                       { return errUnsupportedPlatform }
func (unsupportedService) Start() error                           { return errUnsupportedPlatform }
func (unsupportedService) Stop() error                            { return errUnsupportedPlatform }
func (unsupportedService) Status() (Status, error)                { return Status{}, errUnsupportedPlatform }
