package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	otpRecordVersionV1 = 1

	otpFlagValidated   = 1 << 0
	otpFlagSendPending = 1 << 1

	defaultOTPMaxRetries = 8
)

var (
	ErrOTPRedisUnavailable = errors.New("otp redis unavailable")
	ErrOTPContention       = errors.New("otp record contention")
	// ErrOTPCodeConflict means the code is pending for another destination.
	ErrOTPCodeConflict = errors.New("otp code pending for another destination")
	errOTPRecordVersion    = errors.New("invalid otp record version")
)

// OTPKind tags the destination an OTP was issued for.
type OTPKind uint8

const (
	OTPKindEmail  OTPKind = 1
	OTPKindMobile OTPKind = 2
)

func (k OTPKind) String() string {
	switch k {
	case OTPKindEmail:
		return "EMAIL"
	case OTPKindMobile:
		return "MOBILE"
	default:
		return "UNKNOWN"
	}
}

// OTPRecord is the per-destination OTP state. One record exists per
// destination and is overwritten in place.
type OTPRecord struct {
	Destination       string
	Code              string
	Kind              OTPKind
	Validated         bool
	RemainingAttempts int
	SendCounter       int
	SendPending       bool
	ReactivateAt      time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Clone returns a deep copy, or nil for a nil record.
func (r *OTPRecord) Clone() *OTPRecord {
	if r == nil {
		return nil
	}
	out := *r
	return &out
}

// OTPStore persists OTP records in Redis. Each pending code also owns a key
// naming its destination, so collision checks are a single EXISTS and two
// destinations can never hold the same pending code.
type OTPStore struct {
	redis      redis.UniversalClient
	prefix     string
	maxRetries int
}

func NewOTPStore(redisClient redis.UniversalClient, prefix string) *OTPStore {
	if prefix == "" {
		prefix = "aotp"
	}
	return &OTPStore{
		redis:      redisClient,
		prefix:     prefix,
		maxRetries: defaultOTPMaxRetries,
	}
}

func (s *OTPStore) key(destination string) string {
	return s.prefix + ":r:" + destination
}

func (s *OTPStore) codeKey(code string) string {
	return s.prefix + ":c:" + code
}

// Get returns the record for destination, or nil when none exists.
func (s *OTPStore) Get(ctx context.Context, destination string) (*OTPRecord, error) {
	data, err := s.redis.Get(ctx, s.key(destination)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
	return decodeOTPRecord(data)
}

// CodeActive reports whether code belongs to any unvalidated record.
func (s *OTPStore) CodeActive(ctx context.Context, code string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.codeKey(code)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
	return n > 0, nil
}

// Update runs fn against the current record (nil when absent) inside a
// WATCH/MULTI transaction on the destination key.
//
// When fn returns a non-nil record it is written, even if fn also returned an
// error; that error is handed back to the caller after the commit. A nil record
// leaves storage untouched and Update returns the current record.
//
// A pending code that changes hands is claimed in the same transaction. If
// another destination already owns it nothing is written and Update returns
// ErrOTPCodeConflict. Zero CreatedAt/UpdatedAt are stamped with the wall
// clock; values set by fn are kept.
func (s *OTPStore) Update(
	ctx context.Context,
	destination string,
	fn func(current *OTPRecord) (*OTPRecord, error),
) (*OTPRecord, error) {
	key := s.key(destination)

	for i := 0; i < s.maxRetries; i++ {
		var (
			result *OTPRecord
			fnErr  error
		)

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			var current *OTPRecord
			data, err := tx.Get(ctx, key).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			default:
				current, err = decodeOTPRecord(data)
				if err != nil {
					return err
				}
			}

			next, err := fn(current.Clone())
			fnErr = err
			if next == nil {
				result = current
				return nil
			}

			now := time.Now()
			next.Destination = destination
			if next.RemainingAttempts < 0 {
				next.RemainingAttempts = 0
			}
			if next.CreatedAt.IsZero() {
				next.CreatedAt = now
			}
			if next.UpdatedAt.IsZero() {
				next.UpdatedAt = now
			}

			release, claim := pendingCodeChange(current, next)
			if claim != "" {
				owner, err := s.codeOwner(ctx, tx, claim)
				if err != nil {
					return err
				}
				if owner != "" && owner != destination {
					return ErrOTPCodeConflict
				}
			}
			if release != "" {
				owner, err := s.codeOwner(ctx, tx, release)
				if err != nil {
					return err
				}
				if owner != destination {
					release = ""
				}
			}

			encoded, err := encodeOTPRecord(next)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				if release != "" {
					pipe.Del(ctx, s.codeKey(release))
				}
				if claim != "" {
					pipe.Set(ctx, s.codeKey(claim), destination, 0)
				}
				return nil
			})
			if err != nil {
				return err
			}

			result = next
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, errOTPRecordVersion) || errors.Is(err, ErrOTPCodeConflict) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
		}

		return result, fnErr
	}

	return nil, ErrOTPContention
}

// codeOwner watches the owner key of code and returns the destination holding
// it, or "" when the code is free.
func (s *OTPStore) codeOwner(ctx context.Context, tx *redis.Tx, code string) (string, error) {
	ck := s.codeKey(code)
	if err := tx.Watch(ctx, ck).Err(); err != nil {
		return "", err
	}
	owner, err := tx.Get(ctx, ck).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return owner, err
}

// pendingCodeChange returns the pending code current gives up and the one
// next takes on. Both are empty when the pending code is unchanged.
func pendingCodeChange(current, next *OTPRecord) (release, claim string) {
	var was, now string
	if current != nil && !current.Validated {
		was = current.Code
	}
	if !next.Validated {
		now = next.Code
	}
	if was == now {
		return "", ""
	}
	return was, now
}

func encodeOTPRecord(record *OTPRecord) ([]byte, error) {
	if len(record.Code) > 255 {
		return nil, errors.New("otp code too long")
	}
	if len(record.Destination) > 65535 {
		return nil, errors.New("otp destination too long")
	}
	if record.RemainingAttempts > 65535 {
		return nil, errors.New("otp attempts out of range")
	}

	var buf bytes.Buffer

	buf.WriteByte(otpRecordVersionV1)
	buf.WriteByte(byte(record.Kind))

	var flags byte
	if record.Validated {
		flags |= otpFlagValidated
	}
	if record.SendPending {
		flags |= otpFlagSendPending
	}
	buf.WriteByte(flags)

	fields := []any{
		uint16(record.RemainingAttempts),
		uint32(record.SendCounter),
		unixNano(record.ReactivateAt),
		unixNano(record.CreatedAt),
		unixNano(record.UpdatedAt),
	}
	for _, f := range fields {
		if err := binary.Write(&buf, binary.BigEndian, f); err != nil {
			return nil, err
		}
	}

	buf.WriteByte(byte(len(record.Code)))
	buf.WriteString(record.Code)

	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Destination))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Destination)

	return buf.Bytes(), nil
}

func decodeOTPRecord(data []byte) (*OTPRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != otpRecordVersionV1 {
		return nil, errOTPRecordVersion
	}

	kind, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	var (
		remaining   uint16
		sendCounter uint32
		reactivate  int64
		created     int64
		updated     int64
	)
	for _, f := range []any{&remaining, &sendCounter, &reactivate, &created, &updated} {
		if err := binary.Read(reader, binary.BigEndian, f); err != nil {
			return nil, err
		}
	}

	codeLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	code := make([]byte, codeLen)
	if _, err := io.ReadFull(reader, code); err != nil {
		return nil, err
	}

	var destLen uint16
	if err := binary.Read(reader, binary.BigEndian, &destLen); err != nil {
		return nil, err
	}
	dest := make([]byte, destLen)
	if _, err := io.ReadFull(reader, dest); err != nil {
		return nil, err
	}

	return &OTPRecord{
		Destination:       string(dest),
		Code:              string(code),
		Kind:              OTPKind(kind),
		Validated:         flags&otpFlagValidated != 0,
		SendPending:       flags&otpFlagSendPending != 0,
		RemainingAttempts: int(remaining),
		SendCounter:       int(sendCounter),
		ReactivateAt:      fromUnixNano(reactivate),
		CreatedAt:         fromUnixNano(created),
		UpdatedAt:         fromUnixNano(updated),
	}, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v).UTC()
}
