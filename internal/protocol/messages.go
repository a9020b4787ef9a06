package protocol

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ewjax/SubBots/model"
)

// Registration announces a platform's identity and roles on TopicRegister.
type Registration struct {
	Identity model.PlatformIdentity
}

const (
	regPlatformID protowire.Number = 2
	regRoles      protowire.Number = 3
	regBaseline   protowire.Number = 4
)

// EncodeRegistration encodes r for TopicRegister.
func EncodeRegistration(r Registration) []byte {
	var b []byte
	b = appendVersion(b)
	b = appendString(b, regPlatformID, r.Identity.ID.String())
	b = appendVarint(b, regRoles, uint64(r.Identity.Roles))
	b = appendDouble(b, regBaseline, r.Identity.BaselineSoundLevel)
	return b
}

// DecodeRegistration decodes and validates a TopicRegister payload.
func DecodeRegistration(payload []byte) (Registration, error) {
	var r Registration
	var rawID string
	var roles uint64
	err := decodeFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var n int
		var err error
		switch num {
		case regPlatformID:
			rawID, n, err = consumeString(num, typ, b)
		case regRoles:
			roles, n, err = consumeVarint(num, typ, b)
		case regBaseline:
			r.Identity.BaselineSoundLevel, n, err = consumeDouble(num, typ, b)
		default:
			return -1, nil
		}
		return n, err
	})
	if err != nil {
		return Registration{}, err
	}

	id, err := parseID(rawID)
	if err != nil {
		return Registration{}, err
	}
	r.Identity.ID = id
	if roles > math.MaxUint8 {
		return Registration{}, malformed("roles %#x out of range", roles)
	}
	r.Identity.Roles = model.Roles(roles)
	if err := r.Identity.Roles.Validate(); err != nil {
		return Registration{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return r, nil
}

// KeyOffer carries one side of the key exchange on TopicPlatformPublicKey or
// TopicUmpirePublicKey.
type KeyOffer struct {
	SenderID  string
	PublicKey []byte
}

const (
	offerSender protowire.Number = 2
	offerKey    protowire.Number = 3
)

// EncodeKeyOffer encodes o.
func EncodeKeyOffer(o KeyOffer) []byte {
	var b []byte
	b = appendVersion(b)
	b = appendString(b, offerSender, o.SenderID)
	b = appendBytes(b, offerKey, o.PublicKey)
	return b
}

// DecodeKeyOffer decodes a key offer. The key bytes are not parsed here;
// that is the key exchange's job.
func DecodeKeyOffer(payload []byte) (KeyOffer, error) {
	var o KeyOffer
	err := decodeFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var n int
		var err error
		switch num {
		case offerSender:
			o.SenderID, n, err = consumeString(num, typ, b)
		case offerKey:
			o.PublicKey, n, err = consumeBytes(num, typ, b)
		default:
			return -1, nil
		}
		return n, err
	})
	if err != nil {
		return KeyOffer{}, err
	}
	if o.SenderID == "" {
		return KeyOffer{}, malformed("key offer without sender")
	}
	if len(o.PublicKey) == 0 {
		return KeyOffer{}, malformed("key offer without key")
	}
	return o, nil
}

// Status is a platform_status snapshot. Authoritative snapshots come from
// the umpire; the rest are platform self-reports.
type Status struct {
	PlatformID    uuid.UUID
	Authoritative bool
	State         model.KinematicState
}

const (
	stPlatformID      protowire.Number = 2
	stAuthoritative   protowire.Number = 3
	stX               protowire.Number = 4
	stY               protowire.Number = 5
	stCourse          protowire.Number = 6
	stCourseOrdered   protowire.Number = 7
	stTurnRate        protowire.Number = 8
	stDepth           protowire.Number = 9
	stDepthOrdered    protowire.Number = 10
	stDepthChangeRate protowire.Number = 11
	stSpeed           protowire.Number = 12
	stSpeedOrdered    protowire.Number = 13
	stAcceleration    protowire.Number = 14
	stTimestamp       protowire.Number = 15
	stHull            protowire.Number = 16
)

// EncodeStatus encodes s for TopicPlatformStatus.
func EncodeStatus(s Status) []byte {
	k := s.State
	var auth uint64
	if s.Authoritative {
		auth = 1
	}
	var ts int64
	if !k.Timestamp.IsZero() {
		ts = k.Timestamp.UnixNano()
	}

	b := make([]byte, 0, 128)
	b = appendVersion(b)
	b = appendString(b, stPlatformID, s.PlatformID.String())
	b = appendVarint(b, stAuthoritative, auth)
	b = appendSint(b, stX, int64(k.Location.X))
	b = appendSint(b, stY, int64(k.Location.Y))
	b = appendDouble(b, stCourse, k.Course)
	b = appendDouble(b, stCourseOrdered, k.CourseOrdered)
	b = appendDouble(b, stTurnRate, k.TurnRate)
	b = appendSint(b, stDepth, int64(k.Depth))
	b = appendSint(b, stDepthOrdered, int64(k.DepthOrdered))
	b = appendSint(b, stDepthChangeRate, int64(k.DepthChangeRate))
	b = appendDouble(b, stSpeed, k.Speed)
	b = appendDouble(b, stSpeedOrdered, k.SpeedOrdered)
	b = appendDouble(b, stAcceleration, k.Acceleration)
	b = appendSint(b, stTimestamp, ts)
	b = appendVarint(b, stHull, uint64(k.Hull))
	return b
}

// DecodeStatus decodes a TopicPlatformStatus payload and checks the state
// domains. Any failure is reported as ErrMalformedPayload or
// ErrUnsupportedVersion and nothing is returned.
func DecodeStatus(payload []byte) (Status, error) {
	var s Status
	var rawID string
	var auth, hull uint64
	var x, y, depth, depthOrdered, depthRate, ts int64
	k := &s.State

	err := decodeFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var n int
		var err error
		switch num {
		case stPlatformID:
			rawID, n, err = consumeString(num, typ, b)
		case stAuthoritative:
			auth, n, err = consumeVarint(num, typ, b)
		case stX:
			x, n, err = consumeSint(num, typ, b)
		case stY:
			y, n, err = consumeSint(num, typ, b)
		case stCourse:
			k.Course, n, err = consumeDouble(num, typ, b)
		case stCourseOrdered:
			k.CourseOrdered, n, err = consumeDouble(num, typ, b)
		case stTurnRate:
			k.TurnRate, n, err = consumeDouble(num, typ, b)
		case stDepth:
			depth, n, err = consumeSint(num, typ, b)
		case stDepthOrdered:
			depthOrdered, n, err = consumeSint(num, typ, b)
		case stDepthChangeRate:
			depthRate, n, err = consumeSint(num, typ, b)
		case stSpeed:
			k.Speed, n, err = consumeDouble(num, typ, b)
		case stSpeedOrdered:
			k.SpeedOrdered, n, err = consumeDouble(num, typ, b)
		case stAcceleration:
			k.Acceleration, n, err = consumeDouble(num, typ, b)
		case stTimestamp:
			ts, n, err = consumeSint(num, typ, b)
		case stHull:
			hull, n, err = consumeVarint(num, typ, b)
		default:
			return -1, nil
		}
		return n, err
	})
	if err != nil {
		return Status{}, err
	}

	id, err := parseID(rawID)
	if err != nil {
		return Status{}, err
	}
	s.PlatformID = id
	s.Authoritative = auth != 0

	for _, v := range []int64{x, y, depth, depthOrdered, depthRate} {
		if v < math.MinInt32 || v > math.MaxInt32 {
			return Status{}, malformed("integer field %d out of range", v)
		}
	}
	if hull > model.HullIntact {
		return Status{}, malformed("hull %d out of range", hull)
	}
	k.Location = model.Point{X: int(x), Y: int(y)}
	k.Depth = int(depth)
	k.DepthOrdered = int(depthOrdered)
	k.DepthChangeRate = int(depthRate)
	k.Hull = int(hull)
	if ts != 0 {
		k.Timestamp = time.Unix(0, ts).UTC()
	}

	if err := k.Validate(); err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return s, nil
}

func parseID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, malformed("missing platform id")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, malformed("platform id %q: %v", raw, err)
	}
	return id, nil
}
