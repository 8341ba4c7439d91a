package attendance

import (
	"strconv"
	"strings"
	"time"
)

const payloadSep = "|"

// Payload is what the presenting display encodes into the QR code.
type Payload struct {
	SessionID string
	Token     string
	IssuedAt  time.Time
}

// PayloadFor builds the display payload of a token.
func PayloadFor(t Token) Payload {
	return Payload{SessionID: t.SessionID, Token: t.Value, IssuedAt: t.CreatedAt}
}

// Encode renders sessionID|token|issuedAtEpochSeconds.
func (p Payload) Encode() string {
	return p.SessionID + payloadSep + p.Token + payloadSep + strconv.FormatInt(p.IssuedAt.Unix(), 10)
}

// ParsePayload decodes a scanned payload. The embedded timestamp is
// informational; validity is decided by the authority.
func ParsePayload(raw string) (Payload, error) {
	parts := strings.Split(strings.TrimSpace(raw), payloadSep)
	if len(parts) != 3 {
		return Payload{}, ErrMalformedPayload
	}
	if parts[0] == "" || parts[1] == "" {
		return Payload{}, ErrMalformedPayload
	}
	secs, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Payload{}, ErrMalformedPayload
	}
	return Payload{
		SessionID: parts[0],
		Token:     parts[1],
		IssuedAt:  time.Unix(secs, 0).UTC(),
	}, nil
}
