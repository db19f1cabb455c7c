package link

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Event
		wantErr bool
	}{
		{
			name:    "qr event",
			payload: `{"type":"qr","seq":3,"qr":"2@abc,def"}`,
			want:    Event{Type: EventQR, Seq: 3, QR: "2@abc,def"},
		},
		{
			name:    "open event",
			payload: `{"type":"open","accountId":"15550001111@s.whatsapp.net"}`,
			want:    Event{Type: EventOpen, AccountID: "15550001111@s.whatsapp.net"},
		},
		{
			name:    "close event",
			payload: `{"type":"close","reason":401}`,
			want:    Event{Type: EventClose, Reason: ReasonLoggedOut},
		},
		{name: "qr without payload", payload: `{"type":"qr"}`, wantErr: true},
		{name: "creds without credentials", payload: `{"type":"creds","seq":9}`, wantErr: true},
		{name: "unknown type", payload: `{"type":"presence"}`, wantErr: true},
		{name: "not json", payload: `qr:abc`, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeEvent([]byte(tc.payload))
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEvent)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	t.Run("creds keeps raw credentials", func(t *testing.T) {
		got, err := DecodeEvent([]byte(`{"type":"creds","seq":4,"credentials":{"noiseKey":"k"}}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"noiseKey":"k"}`, string(got.Credentials))
	})
}

func TestEvent_IsLoggedOut(t *testing.T) {
	assert.True(t, Event{Type: EventClose, Reason: ReasonLoggedOut}.IsLoggedOut())
	assert.False(t, Event{Type: EventClose, Reason: ReasonConnectionClosed}.IsLoggedOut())
	assert.False(t, Event{Type: EventClose, Reason: ReasonRestartRequired}.IsLoggedOut())
	assert.False(t, Event{Type: EventOpen, Reason: ReasonLoggedOut}.IsLoggedOut())
}
