package errors

import "fmt"

// Code is a numeric engine error code. Values are negative and stable;
// ErrorNone is zero.
type Code int

// ── Engine codes ─────────────────────────────────────────────────────

const (
	ErrorNone                  Code = 0
	ErrorSocketNone            Code = -1
	ErrorBannerRecv            Code = -2
	ErrorBannerSend            Code = -3
	ErrorKexFailure            Code = -5
	ErrorSocketSend            Code = -7
	ErrorKeyExchangeFailure    Code = -8
	ErrorTimeout               Code = -9
	ErrorHostkeyInit           Code = -10
	ErrorHostkeySign           Code = -11
	ErrorSocketDisconnect      Code = -13
	ErrorProto                 Code = -14
	ErrorPasswordExpired       Code = -15
	ErrorFile                  Code = -16
	ErrorMethodNone            Code = -17
	ErrorAuthenticationFailed  Code = -18
	ErrorPublickeyUnverified   Code = -19
	ErrorChannelOutOfOrder     Code = -20
	ErrorChannelFailure        Code = -21
	ErrorChannelRequestDenied  Code = -22
	ErrorChannelUnknown        Code = -23
	ErrorChannelWindowExceeded Code = -24
	ErrorChannelPacketExceeded Code = -25
	ErrorChannelClosed         Code = -26
	ErrorChannelEOFSent        Code = -27
	ErrorSocketTimeout         Code = -30
	ErrorRequestDenied         Code = -32
	ErrorMethodNotSupported    Code = -33
	ErrorInval                 Code = -34
	ErrorInvalidPollType       Code = -35
	ErrorPublickeyProtocol     Code = -36
	ErrorEagain                Code = -37
	ErrorBufferTooSmall        Code = -38
	ErrorBadUse                Code = -39
	ErrorSocketRecv            Code = -43
	ErrorBadSocket             Code = -45
	ErrorKnownHosts            Code = -46

	// ErrorUnknown marks errors that did not originate in the engine.
	ErrorUnknown Code = -1000
)

// ErrorPublickeyUnrecognized shares its value with
// ErrorAuthenticationFailed.
const ErrorPublickeyUnrecognized = ErrorAuthenticationFailed

var codeNames = map[Code]string{
	ErrorNone:                  "ERROR_NONE",
	ErrorSocketNone:            "ERROR_SOCKET_NONE",
	ErrorBannerRecv:            "ERROR_BANNER_RECV",
	ErrorBannerSend:            "ERROR_BANNER_SEND",
	ErrorKexFailure:            "ERROR_KEX_FAILURE",
	ErrorSocketSend:            "ERROR_SOCKET_SEND",
	ErrorKeyExchangeFailure:    "ERROR_KEY_EXCHANGE_FAILURE",
	ErrorTimeout:               "ERROR_TIMEOUT",
	ErrorHostkeyInit:           "ERROR_HOSTKEY_INIT",
	ErrorHostkeySign:           "ERROR_HOSTKEY_SIGN",
	ErrorSocketDisconnect:      "ERROR_SOCKET_DISCONNECT",
	ErrorProto:                 "ERROR_PROTO",
	ErrorPasswordExpired:       "ERROR_PASSWORD_EXPIRED",
	ErrorFile:                  "ERROR_FILE",
	ErrorMethodNone:            "ERROR_METHOD_NONE",
	ErrorAuthenticationFailed:  "ERROR_AUTHENTICATION_FAILED",
	ErrorPublickeyUnverified:   "ERROR_PUBLICKEY_UNVERIFIED",
	ErrorChannelOutOfOrder:     "ERROR_CHANNEL_OUTOFORDER",
	ErrorChannelFailure:        "ERROR_CHANNEL_FAILURE",
	ErrorChannelRequestDenied:  "ERROR_CHANNEL_REQUEST_DENIED",
	ErrorChannelUnknown:        "ERROR_CHANNEL_UNKNOWN",
	ErrorChannelWindowExceeded: "ERROR_CHANNEL_WINDOW_EXCEEDED",
	ErrorChannelPacketExceeded: "ERROR_CHANNEL_PACKET_EXCEEDED",
	ErrorChannelClosed:         "ERROR_CHANNEL_CLOSED",
	ErrorChannelEOFSent:        "ERROR_CHANNEL_EOF_SENT",
	ErrorSocketTimeout:         "ERROR_SOCKET_TIMEOUT",
	ErrorRequestDenied:         "ERROR_REQUEST_DENIED",
	ErrorMethodNotSupported:    "ERROR_METHOD_NOT_SUPPORTED",
	ErrorInval:                 "ERROR_INVAL",
	ErrorInvalidPollType:       "ERROR_INVALID_POLL_TYPE",
	ErrorPublickeyProtocol:     "ERROR_PUBLICKEY_PROTOCOL",
	ErrorEagain:                "ERROR_EAGAIN",
	ErrorBufferTooSmall:        "ERROR_BUFFER_TOO_SMALL",
	ErrorBadUse:                "ERROR_BAD_USE",
	ErrorSocketRecv:            "ERROR_SOCKET_RECV",
	ErrorBadSocket:             "ERROR_BAD_SOCKET",
	ErrorKnownHosts:            "ERROR_KNOWN_HOSTS",
	ErrorUnknown:               "ERROR_UNKNOWN",
}

// String returns the symbolic name, e.g. "ERROR_EAGAIN".
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ERROR_%d", int(c))
}

// CodeByName looks a code up by its symbolic name.
func CodeByName(name string) (Code, bool) {
	for c, n := range codeNames {
		if n == name {
			return c, true
		}
	}
	return ErrorUnknown, false
}
