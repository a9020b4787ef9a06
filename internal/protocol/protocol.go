// Package protocol defines the bus topics and the versioned payload codecs
// exchanged between platforms and the umpire.
//
// Structured payloads are written field by field in protobuf wire format so
// that any implementation can decode them without sharing Go types. Field 1
// always carries the payload version; unknown fields are skipped.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"
)

// Version is the payload version written by this package.
const Version = 1

// Topics.
const (
	TopicRegister          = "register"
	TopicPlatformPublicKey = "platform_public_key"
	TopicUmpirePublicKey   = "umpire_public_key"
	TopicPlatformStatus    = "platform_status"
	TopicGeneral           = "general"
	TopicDisco             = "disco"
)

// UmpireSenderID identifies the umpire in KeyOffer payloads.
const UmpireSenderID = "umpire"

var (
	// ErrMalformedPayload reports a payload that cannot be decoded or
	// violates a field domain.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrUnsupportedVersion reports a payload written by an incompatible
	// protocol version.
	ErrUnsupportedVersion = errors.New("unsupported payload version")
)

// PlatformTopics are the topics a platform subscribes to.
func PlatformTopics() []string {
	return []string{TopicUmpirePublicKey, TopicPlatformStatus, TopicGeneral, TopicDisco}
}

// UmpireTopics are the topics the umpire subscribes to.
func UmpireTopics() []string {
	return []string{TopicRegister, TopicPlatformPublicKey, TopicPlatformStatus, TopicGeneral}
}

// DecodeText renders a text payload. Payloads that are not valid UTF-8 are
// rendered as a quoted byte string and ok is false.
func DecodeText(payload []byte) (text string, ok bool) {
	if utf8.Valid(payload) {
		return string(payload), true
	}
	return strconv.QuoteToASCII(string(payload)), false
}

// EncodeText encodes a general message.
func EncodeText(text string) []byte { return []byte(text) }

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, fmt.Sprintf(format, args...))
}
