package connect

import (
	"net/url"
)

// Stage is a step of the callback state machine. An Outcome carries the last
// stage that completed.
type Stage string

const (
	StageAwaitingCode       Stage = "awaiting_code"
	StageStateValidated     Stage = "state_validated"
	StageTokenExchanged     Stage = "token_exchanged"
	StageProfileFetched     Stage = "profile_fetched"
	StageSecretsStored      Stage = "secrets_stored"
	StageConnectionUpserted Stage = "connection_upserted"
)

// Error codes placed in the settings redirect
const (
	CodeInvalidState        = "invalid_state"
	CodeNoCode              = "no_code"
	CodeNotAuthenticated    = "not_authenticated"
	CodeServerMisconfigured = "server_misconfigured"
	CodeRateLimited         = "rate_limited"
	CodeServerError         = "server_error"
)

// ConnectionFailedCode is the error code for provider, vault and database
// failures of provider's flow.
func ConnectionFailedCode(provider string) string {
	return provider + "_connection_failed"
}

// ConnectedFlag is the success flag for provider.
func ConnectedFlag(provider string) string {
	return provider + "_connected"
}

// Outcome is the terminal result of a callback. Code is empty on success.
// Message is safe to show to the user; Err is for logs only.
type Outcome struct {
	Provider   string
	Stage      Stage
	Code       string
	Message    string
	Err        error
	Connection *Connection
}

// Rejected is an Outcome for a callback turned away before it reached the
// state machine.
func Rejected(provider, code, message string) Outcome {
	return Outcome{Provider: provider, Stage: StageAwaitingCode, Code: code, Message: message}
}

// Succeeded reports whether the connection was stored
func (o Outcome) Succeeded() bool {
	return o.Code == "" && o.Stage == StageConnectionUpserted
}

// Result is the low-cardinality label used for metrics and logs
func (o Outcome) Result() string {
	if o.Succeeded() {
		return "connected"
	}
	return o.Code
}

// Query encodes the outcome as settings page query parameters
func (o Outcome) Query() url.Values {
	q := url.Values{}
	if o.Succeeded() {
		q.Set("success", ConnectedFlag(o.Provider))
		return q
	}
	q.Set("error", o.Code)
	if o.Message != "" {
		q.Set("message", o.Message)
	}
	return q
}

// RedirectURL appends the outcome to settingsURL, keeping any query it
// already has.
func (o Outcome) RedirectURL(settingsURL string) string {
	u, err := url.Parse(settingsURL)
	if err != nil {
		return settingsURL + "?" + o.Query().Encode()
	}
	q := u.Query()
	for key, values := range o.Query() {
		q[key] = values
	}
	u.RawQuery = q.Encode()
	return u.String()
}
