// Package codec implements the versioned binary encoding used for every
// persisted registry value. An encoding is a single version byte followed by
// protobuf wire-format fields, so later versions can add fields that older
// readers skip.
package codec

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/charlesng35/sponsor/internal/models"
)

// Version is the current encoding version written by this package.
const Version byte = 1

var (
	// ErrTooLarge is returned when an encoded ParamRecord exceeds models.MaxParamValueBytes.
	ErrTooLarge = errors.New("codec: encoded value exceeds bound")
	// ErrUnsupportedVersion is returned when the leading version byte is unknown.
	ErrUnsupportedVersion = errors.New("codec: unsupported encoding version")
	// ErrMalformed is returned when the payload cannot be parsed.
	ErrMalformed = errors.New("codec: malformed payload")
)

const (
	paramWhitelisted protowire.Number = 1
	paramPrincipal   protowire.Number = 2
	paramLastUse     protowire.Number = 3
	paramCount       protowire.Number = 4

	stateManager        protowire.Number = 1
	stateTimerLimit     protowire.Number = 2
	stateMaxCallPerUser protowire.Number = 3

	managerPrincipal protowire.Number = 1
	managerTrusted   protowire.Number = 2
)

// EncodeParam serialises a ParamRecord. Every field is always written, so the
// layout is fixed for a given version.
func EncodeParam(rec models.ParamRecord) ([]byte, error) {
	b := make([]byte, 0, 32)
	b = append(b, Version)
	b = appendVarint(b, paramWhitelisted, protowire.EncodeBool(rec.IsWhitelisted))
	b = appendVarint(b, paramPrincipal, protowire.EncodeBool(rec.IsPrincipal))
	b = appendVarint(b, paramLastUse, rec.LastUse)
	b = appendVarint(b, paramCount, uint64(rec.Count))

	if len(b) > models.MaxParamValueBytes {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(b), models.MaxParamValueBytes)
	}
	return b, nil
}

// DecodeParam parses a payload produced by EncodeParam.
func DecodeParam(data []byte) (models.ParamRecord, error) {
	var rec models.ParamRecord

	body, err := checkVersion(data)
	if err != nil {
		return rec, err
	}

	err = walkFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case paramWhitelisted, paramPrincipal, paramLastUse, paramCount:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			switch num {
			case paramWhitelisted:
				rec.IsWhitelisted = protowire.DecodeBool(v)
			case paramPrincipal:
				rec.IsPrincipal = protowire.DecodeBool(v)
			case paramLastUse:
				rec.LastUse = v
			case paramCount:
				if v > uint64(^uint32(0)) {
					return 0, fmt.Errorf("%w: count overflows uint32", ErrMalformed)
				}
				rec.Count = uint32(v)
			}
			return n, nil
		default:
			return skipField(num, typ, b)
		}
	})
	return rec, err
}

// EncodeAdminState serialises the administrative singleton. Managers are
// written in principal order so equal states encode to equal bytes.
func EncodeAdminState(state models.AdminState) []byte {
	b := make([]byte, 0, 64)
	b = append(b, Version)

	for _, principal := range state.ManagerPrincipals() {
		var entry []byte
		entry = protowire.AppendTag(entry, managerPrincipal, protowire.BytesType)
		entry = protowire.AppendString(entry, principal)
		entry = appendVarint(entry, managerTrusted, protowire.EncodeBool(state.Managers[principal]))

		b = protowire.AppendTag(b, stateManager, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}

	b = appendVarint(b, stateTimerLimit, state.TimerLimit)
	b = appendVarint(b, stateMaxCallPerUser, uint64(state.MaxCallPerUser))
	return b
}

// DecodeAdminState parses a payload produced by EncodeAdminState.
func DecodeAdminState(data []byte) (models.AdminState, error) {
	state := models.DefaultAdminState()

	body, err := checkVersion(data)
	if err != nil {
		return state, err
	}

	err = walkFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case stateManager:
			if typ != protowire.BytesType {
				return 0, fmt.Errorf("%w: manager entry has wire type %d", ErrMalformed, typ)
			}
			entry, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			principal, trusted, err := decodeManager(entry)
			if err != nil {
				return 0, err
			}
			state.Managers[principal] = trusted
			return n, nil
		case stateTimerLimit:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			state.TimerLimit = v
			return n, nil
		case stateMaxCallPerUser:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			if v > uint64(^uint16(0)) {
				return 0, fmt.Errorf("%w: max_call_per_user overflows uint16", ErrMalformed)
			}
			state.MaxCallPerUser = uint16(v)
			return n, nil
		default:
			return skipField(num, typ, b)
		}
	})
	return state, err
}

func decodeManager(data []byte) (string, bool, error) {
	var (
		principal string
		trusted   bool
		seen      bool
	)

	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case managerPrincipal:
			if typ != protowire.BytesType {
				return 0, fmt.Errorf("%w: principal has wire type %d", ErrMalformed, typ)
			}
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			principal, seen = v, true
			return n, nil
		case managerTrusted:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			trusted = protowire.DecodeBool(v)
			return n, nil
		default:
			return skipField(num, typ, b)
		}
	})
	if err != nil {
		return "", false, err
	}
	if !seen {
		return "", false, fmt.Errorf("%w: manager entry without principal", ErrMalformed)
	}
	return principal, trusted, nil
}

func checkVersion(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	if data[0] != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, data[0])
	}
	return data[1:], nil
}

// walkFields calls fn for every field in b. fn consumes the field value and
// returns the number of bytes it read.
func walkFields(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("%w: expected varint, got wire type %d", ErrMalformed, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	return v, n, nil
}

func skipField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	return n, nil
}
