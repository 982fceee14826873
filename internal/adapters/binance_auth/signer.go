package binance_auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

const (
	DefaultRecvWindow = 5000 * time.Millisecond

	paramTimestamp  = "timestamp"
	paramRecvWindow = "recvWindow"
	paramSignature  = "signature"
)

// SignedRequest is a parameter set ready to send: the caller's params,
// then timestamp, recvWindow and signature.
type SignedRequest struct {
	Params     Params
	Timestamp  int64 // epoch ms
	RecvWindow int64 // ms
	Signature  string
}

func (r SignedRequest) Encode() string { return r.Params.Encode() }

// Signer implements Binance HMAC-SHA256 request signing. The secret is held
// as []byte so it can be wiped; it is never sent over the wire.
type Signer struct {
	secret     []byte
	recvWindow time.Duration
	now        func() time.Time
}

type SignerOption func(*Signer)

// WithRecvWindow overrides the 5000ms default.
func WithRecvWindow(d time.Duration) SignerOption {
	return func(s *Signer) {
		if d > 0 {
			s.recvWindow = d
		}
	}
}

// WithClock sets the timestamp source. Tests pin it; production code can
// pass a server-offset Clock.Now.
func WithClock(now func() time.Time) SignerOption {
	return func(s *Signer) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSigner(secret string, opts ...SignerOption) *Signer {
	s := &Signer{
		secret:     []byte(secret),
		recvWindow: DefaultRecvWindow,
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sign stamps params with the current time and returns the signed request.
// params is not modified.
func (s *Signer) Sign(params Params) SignedRequest {
	return SignAt(params, s.secret, s.now().UnixMilli(), s.recvWindow.Milliseconds())
}

// Wipe zeroes the secret. The signer produces garbage signatures afterwards.
func (s *Signer) Wipe() {
	if s == nil {
		return
	}
	for i := range s.secret {
		s.secret[i] = 0
	}
}

// SignAt is the deterministic core of Sign: identical inputs always give an
// identical signature. Caller-supplied timestamp, recvWindow and signature
// entries are dropped.
func SignAt(params Params, secret []byte, timestampMs, recvWindowMs int64) SignedRequest {
	out := params.Without(paramTimestamp, paramRecvWindow, paramSignature)
	out.Add(paramTimestamp, strconv.FormatInt(timestampMs, 10))
	out.Add(paramRecvWindow, strconv.FormatInt(recvWindowMs, 10))

	sig := Signature(secret, out.Encode())
	out.Add(paramSignature, sig)

	return SignedRequest{
		Params:     out,
		Timestamp:  timestampMs,
		RecvWindow: recvWindowMs,
		Signature:  sig,
	}
}

// Signature returns the hex HMAC-SHA256 of payload keyed by secret.
func Signature(secret []byte, payload string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
