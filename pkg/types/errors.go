// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "errors"

// Error taxonomy. Stages wrap these with %w so callers classify failures
// with errors.Is. An OCR text that does not confirm the identifier is not an
// error; the validator reports it through its boolean result.
var (
	// ErrTransport: registry or network unreachable, or a non-success status.
	ErrTransport = errors.New("transport error")

	// ErrParse: a response or record could not be decoded.
	ErrParse = errors.New("parse error")

	// ErrNotFound: the registry returned no record for the identifier.
	ErrNotFound = errors.New("record not found")

	// ErrNavigation: a page timed out or crashed in the browser.
	ErrNavigation = errors.New("navigation error")

	// ErrDetectionBlock: the page looks like a bot challenge.
	ErrDetectionBlock = errors.New("bot challenge detected")

	// ErrConfiguration: a required setting or credential is missing or invalid.
	ErrConfiguration = errors.New("configuration error")

	// ErrBrowserLaunch: the browser runtime could not be started.
	ErrBrowserLaunch = errors.New("browser launch failed")

	// ErrInvalidIdentifier: the identifier does not look like PREFIX-YYYY-NNNN.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)
