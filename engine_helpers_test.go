package goIdentity

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

type memUserStore struct {
	mu    sync.Mutex
	users map[string]*User

	touchCalls int
	updateErr  error
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: map[string]*User{}}
}

func (s *memUserStore) find(match func(*User) bool) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if match(u) {
			return u.Clone(), nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *memUserStore) GetByID(_ context.Context, id string) (*User, error) {
	return s.find(func(u *User) bool { return u.ID == id })
}

func (s *memUserStore) GetByUsername(_ context.Context, username string) (*User, error) {
	return s.find(func(u *User) bool { return u.Username == username })
}

func (s *memUserStore) GetByEmail(_ context.Context, email string) (*User, error) {
	return s.find(func(u *User) bool { return u.Email != nil && *u.Email == email })
}

func (s *memUserStore) GetByMobile(_ context.Context, mobile string) (*User, error) {
	return s.find(func(u *User) bool { return u.Mobile != nil && *u.Mobile == mobile })
}

func (s *memUserStore) conflict(user *User) bool {
	for id, u := range s.users {
		if id == user.ID {
			continue
		}
		if u.Username == user.Username ||
			(u.Email != nil && user.Email != nil && *u.Email == *user.Email) ||
			(u.Mobile != nil && user.Mobile != nil && *u.Mobile == *user.Mobile) {
			return true
		}
	}
	return false
}

func (s *memUserStore) Create(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflict(user) {
		return ErrDuplicateUser
	}
	s.users[user.ID] = user.Clone()
	return nil
}

func (s *memUserStore) Update(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	cur, ok := s.users[user.ID]
	if !ok {
		return ErrUserNotFound
	}
	if s.conflict(user) {
		return ErrDuplicateUser
	}
	next := user.Clone()
	next.PasswordHash = cur.PasswordHash
	next.LastLogin = cur.LastLogin
	s.users[user.ID] = next
	return nil
}

func (s *memUserStore) SetPasswordHash(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (s *memUserStore) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	s.touchCalls++
	u.LastLogin = &at
	return nil
}

func (s *memUserStore) get(id string) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id].Clone()
}

type fakeGateway struct {
	mu     sync.Mutex
	sent   []Message
	result DeliveryResult
	err    error
	block  bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{result: DeliverySucceeded()}
}

func (g *fakeGateway) Send(ctx context.Context, msg Message) (DeliveryResult, error) {
	g.mu.Lock()
	g.sent = append(g.sent, msg)
	result, err, block := g.result, g.err, g.block
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return DeliveryResult{}, ctx.Err()
	}
	return result, err
}

func (g *fakeGateway) messages() []Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Message(nil), g.sent...)
}

func (g *fakeGateway) last(t *testing.T) Message {
	t.Helper()
	msgs := g.messages()
	if len(msgs) == 0 {
		t.Fatal("expected a message to be sent")
	}
	return msgs[len(msgs)-1]
}

// codeFrom pulls the code out of an OTP message body.
func codeFrom(t *testing.T, msg Message) string {
	t.Helper()
	const marker = " is "
	i := strings.LastIndex(msg.Body, marker)
	j := strings.Index(msg.Body, ". Don't share")
	if i < 0 || j < i {
		t.Fatalf("unexpected OTP body: %q", msg.Body)
	}
	return msg.Body[i+len(marker) : j]
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = testSigningKey
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Metrics.Enabled = true
	return cfg
}

type testEnv struct {
	engine *Engine
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	users  *memUserStore
	gw     *fakeGateway
	now    time.Time
}

// advance moves the engine clock forward.
func (env *testEnv) advance(d time.Duration) {
	env.now = env.now.Add(d)
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	mr, rdb := newTestRedis(t)
	env := &testEnv{
		mr:    mr,
		rdb:   rdb,
		users: newMemUserStore(),
		gw:    newFakeGateway(),
		now:   time.Now(),
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(env.users).
		WithMessagingGateway(env.gw).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	engine.now = func() time.Time { return env.now }
	t.Cleanup(engine.Close)

	env.engine = engine
	return env
}

// addUser stores an active user with the given password.
func (env *testEnv) addUser(t *testing.T, username, email, mobile, pw string) *User {
	t.Helper()

	hash, err := env.engine.passwordHash.Hash(pw)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	u := &User{
		ID:           "id-" + username,
		Username:     username,
		Email:        optional(email),
		Mobile:       optional(mobile),
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    env.now,
	}
	if err := env.users.Create(context.Background(), u); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return u
}

// validate runs a full request/verify cycle so destination holds a
// validated record.
func (env *testEnv) validate(t *testing.T, destination string) {
	t.Helper()
	ctx := context.Background()

	if _, err := env.engine.RequestOTP(ctx, OTPRequest{Destination: destination}); err != nil {
		t.Fatalf("RequestOTP(%s) failed: %v", destination, err)
	}
	code := codeFrom(t, env.gw.last(t))
	if _, err := env.engine.VerifyOTP(ctx, OTPVerification{Destination: destination, Code: code}); err != nil {
		t.Fatalf("VerifyOTP(%s) failed: %v", destination, err)
	}
}
