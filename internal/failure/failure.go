// Package failure defines the tagged failures that the wallet gateway and
// the store client resolve to. Callers test for a tag with errors.Is and
// never need to inspect the wrapped cause.
package failure

import (
	"github.com/cockroachdb/errors"
)

// Tags. Every error returned across a component boundary is marked with
// exactly one of these.
var (
	// ErrWalletUnavailable means no wallet provider is present.
	ErrWalletUnavailable = errors.New("wallet unavailable")
	// ErrUserRejected means the user declined the wallet connection or signature.
	ErrUserRejected = errors.New("user rejected")
	// ErrInvalidInput is a local validation failure; nothing reached the network.
	ErrInvalidInput = errors.New("invalid input")
	// ErrSubmissionRejected means the ledger refused a write.
	ErrSubmissionRejected = errors.New("submission rejected")
	// ErrTransport is a network or RPC level failure. On reads it is ambiguous.
	ErrTransport = errors.New("transport error")
	// ErrNotAuthenticated means a write was attempted without an identity.
	ErrNotAuthenticated = errors.New("not authenticated")
)

var kinds = []struct {
	tag  error
	name string
	hint string
}{
	{ErrWalletUnavailable, "wallet_unavailable", "Cannot authenticate: no wallet was found. Install or unlock a wallet and try again."},
	{ErrUserRejected, "user_rejected", "Cannot authenticate: the wallet request was declined."},
	{ErrInvalidInput, "invalid_input", "Enter a GIF link before submitting."},
	{ErrSubmissionRejected, "submission_rejected", "The ledger rejected the transaction."},
	{ErrTransport, "transport_error", "The ledger could not be reached. Try again."},
	{ErrNotAuthenticated, "not_authenticated", "Connect a wallet first."},
}

// Tag marks err with tag and attaches msg as context. A nil err yields a
// fresh error carrying only the tag.
func Tag(err error, tag error, msg string) error {
	if err == nil {
		return errors.Mark(errors.New(msg), tag)
	}
	return errors.Mark(errors.Wrap(err, msg), tag)
}

// Tagged reports whether err carries one of the tags.
func Tagged(err error) bool {
	return errors.IsAny(err, ErrWalletUnavailable, ErrUserRejected, ErrInvalidInput,
		ErrSubmissionRejected, ErrTransport, ErrNotAuthenticated)
}

// Kind returns the stable name of the tag carried by err, or "unknown".
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.tag) {
			return k.name
		}
	}
	return "unknown"
}

// Message returns the user-facing text for err: explicit hints attached
// with errors.WithHint win over the default text of the tag.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if hint := errors.FlattenHints(err); hint != "" {
		return hint
	}
	for _, k := range kinds {
		if errors.Is(err, k.tag) {
			return k.hint
		}
	}
	return "Something went wrong."
}
