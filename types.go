package goIdentity

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/MrEthical07/goIdentity/internal/audit"
	"github.com/MrEthical07/goIdentity/internal/stores"
	"github.com/MrEthical07/goIdentity/jwt"
	"go.uber.org/zap"
)

// IdentifierKind is the shape a login identifier was classified as.
type IdentifierKind uint8

const (
	IdentifierUsername IdentifierKind = iota
	IdentifierEmail
	IdentifierMobile
)

func (k IdentifierKind) String() string {
	switch k {
	case IdentifierEmail:
		return "email"
	case IdentifierMobile:
		return "mobile"
	default:
		return "username"
	}
}

// User is an account. Username is always set; Email and Mobile are nil when
// absent and unique across users when present.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        *string    `json:"email"`
	Mobile       *string    `json:"mobile"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"-"`
	Active       bool       `json:"is_active"`
	LastLogin    *time.Time `json:"last_login"`
	CreatedAt    time.Time  `json:"date_joined"`
	UpdatedAt    time.Time  `json:"-"`
}

// Clone returns a deep copy, or nil for a nil user.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.Email = cloneString(u.Email)
	out.Mobile = cloneString(u.Mobile)
	if u.LastLogin != nil {
		t := *u.LastLogin
		out.LastLogin = &t
	}
	return &out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// TokenPair is an access/refresh token pair. It is never persisted.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// LoginResult is returned by every flow that ends in a signed-in user.
type LoginResult struct {
	TokenPair
	User *User `json:"user"`
}

// Claims is the decoded payload of a verified token.
type Claims = jwt.Claims

// OTPRequest asks for a code to be issued and sent to Destination. With
// IsLogin set the destination must belong to an existing user.
type OTPRequest struct {
	Destination string
	IsLogin     bool
}

// OTPVerification submits Code for Destination. With IsLogin set a
// successful check signs the owning user in.
type OTPVerification struct {
	Destination string
	IsLogin     bool
	Code        string
}

// RegisterRequest carries sign-up data. Empty Email or Mobile means absent.
type RegisterRequest struct {
	Username string
	Name     string
	Password string
	Email    string
	Mobile   string
}

// ProfileUpdate is a partial update: nil fields are left unchanged.
type ProfileUpdate struct {
	Username *string
	Name     *string
	Email    *string
	Mobile   *string
	Password *string
}

/*
====================================
MESSAGING
====================================
*/

// Message is one outbound email or SMS. Subject and HTMLBody are ignored by
// SMS gateways.
type Message struct {
	Recipient string
	Subject   string
	Body      string
	HTMLBody  string
}

// DeliveryResult is the user-facing outcome of a send.
type DeliveryResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

const (
	deliveryOKMessage     = "Message sent successfully!"
	deliveryFailedMessage = "Message sending failed!"
)

// DeliverySucceeded is the result gateways return after a successful send.
func DeliverySucceeded() DeliveryResult {
	return DeliveryResult{Success: true, Message: deliveryOKMessage}
}

// DeliveryFailed is the result gateways return when the provider rejected or
// never received the message.
func DeliveryFailed() DeliveryResult {
	return DeliveryResult{Success: false, Message: deliveryFailedMessage}
}

// MessagingGateway delivers a message to an email address or mobile number.
// Implementations return ErrGatewayMisconfigured or ErrInvalidRecipient for
// problems the caller must not retry.
type MessagingGateway interface {
	Send(ctx context.Context, msg Message) (DeliveryResult, error)
}

/*
====================================
STORES
====================================
*/

// OTPKind tags the destination an OTP was issued for.
type OTPKind = stores.OTPKind

const (
	OTPKindEmail  = stores.OTPKindEmail
	OTPKindMobile = stores.OTPKindMobile
)

// OTPRecord is the per-destination OTP state.
type OTPRecord = stores.OTPRecord

// OTPStore persists one OTP record per destination.
//
// Update must run fn and persist its result atomically with respect to other
// Update calls on the same destination. fn receives a copy of the current
// record (nil when absent). A nil result leaves the store untouched and
// Update returns the current record. A non-nil result is persisted even when
// fn also returns an error; that error is then returned.
//
// A pending code belongs to at most one destination. When the result carries
// a pending code that another destination holds, Update writes nothing and
// returns ErrOTPCodeConflict. CreatedAt and UpdatedAt set by fn are stored as
// given; stores fill only zero values.
type OTPStore interface {
	Get(ctx context.Context, destination string) (*OTPRecord, error)
	Update(ctx context.Context, destination string, fn func(*OTPRecord) (*OTPRecord, error)) (*OTPRecord, error)
	CodeActive(ctx context.Context, code string) (bool, error)
}

// UserStore persists accounts. Lookups return ErrUserNotFound for unknown
// users; Create returns ErrDuplicateUser on any uniqueness conflict.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByMobile(ctx context.Context, mobile string) (*User, error)
	Create(ctx context.Context, user *User) error
	Update(ctx context.Context, user *User) error
	SetPasswordHash(ctx context.Context, id, hash string) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

// PasswordHasher hashes and verifies passwords. *password.Argon2 satisfies it.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
	NeedsUpgrade(encodedHash string) (bool, error)
}

/*
====================================
AUDIT
====================================
*/

// AuditEvent is one security-relevant event.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events.
type AuditSink = internalaudit.Sink

type NoOpSink = internalaudit.NoOpSink

type ChannelSink = internalaudit.ChannelSink

type JSONWriterSink = internalaudit.JSONWriterSink

type ZapSink = internalaudit.ZapSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewZapSink logs audit events through logger.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return internalaudit.NewZapSink(logger)
}
