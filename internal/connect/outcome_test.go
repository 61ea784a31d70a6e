package connect

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcome_RedirectURL(t *testing.T) {
	tests := []struct {
		name    string
		outcome Outcome
		want    url.Values
	}{
		{
			name:    "success",
			outcome: Outcome{Provider: "tiktok", Stage: StageConnectionUpserted},
			want:    url.Values{"success": {"tiktok_connected"}},
		},
		{
			name:    "failure with message",
			outcome: Outcome{Provider: "tiktok", Stage: StageStateValidated, Code: "tiktok_connection_failed", Message: "invalid_grant"},
			want:    url.Values{"error": {"tiktok_connection_failed"}, "message": {"invalid_grant"}},
		},
		{
			name:    "failure without message",
			outcome: Outcome{Provider: "tiktok", Stage: StageAwaitingCode, Code: CodeInvalidState},
			want:    url.Values{"error": {"invalid_state"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := tt.outcome.RedirectURL("https://app.example.com/settings")

			u, err := url.Parse(raw)
			require.NoError(t, err)
			assert.Equal(t, "app.example.com", u.Host)
			assert.Equal(t, "/settings", u.Path)
			assert.Equal(t, tt.want, u.Query())
		})
	}
}

func TestOutcome_RedirectURLEncodesMessage(t *testing.T) {
	o := Outcome{Provider: "tiktok", Code: "tiktok_connection_failed", Message: "Code verifier & challenge mismatch"}

	raw := o.RedirectURL("https://app.example.com/settings?tab=connections")

	assert.Contains(t, raw, "message=Code+verifier+%26+challenge+mismatch")
	assert.Contains(t, raw, "tab=connections")
}

func TestOutcome_Result(t *testing.T) {
	assert.Equal(t, "connected", Outcome{Stage: StageConnectionUpserted}.Result())
	assert.Equal(t, CodeNoCode, Outcome{Stage: StageAwaitingCode, Code: CodeNoCode}.Result())
	assert.False(t, Outcome{Stage: StageConnectionUpserted, Code: "x"}.Succeeded())
}
