// Package apperr defines the failure taxonomy shared by the monitoring pipeline.
package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrUpstreamUnavailable means the ledger API timed out, rate-limited or failed.
	// The wallet cursor is left untouched and the scan is retried next cycle.
	ErrUpstreamUnavailable = errors.New("ledger upstream unavailable")

	// ErrDuplicateSuppressed is the logged reason a repeat evaluation created no
	// alert. It is an expected outcome and never returned as an error.
	ErrDuplicateSuppressed = errors.New("duplicate suppressed")

	// ErrTransportFailure means the notification send failed; the alert stays pending.
	ErrTransportFailure = errors.New("notification transport failure")

	// ErrStoreUnavailable means the durable store could not serve a query.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrRecordRejected means the store refused one row's values. Retrying the
	// same row cannot succeed.
	ErrRecordRejected = errors.New("record rejected by store")

	// ErrConfigurationMissing means a channel id or transport credential is not configured.
	ErrConfigurationMissing = errors.New("configuration missing")

	ErrWalletNotFound = errors.New("wallet not found")
)

// HTTPStatus maps an error from the pipeline to a trigger-surface status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrWalletNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUpstreamUnavailable), errors.Is(err, ErrTransportFailure):
		return http.StatusBadGateway
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrRecordRejected):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
