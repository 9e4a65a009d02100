package goIdentity

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func fieldMessages(t *testing.T, err error) map[string][]string {
	t.Helper()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	return verr.Fields
}

func TestRegisterCreatesActiveUser(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.validate(t, "carol@example.com")
	env.validate(t, "9876543210")

	user, err := env.engine.Register(ctx, RegisterRequest{
		Username: " carol ",
		Name:     "Carol",
		Password: "Xk9#mQ2$vL7p",
		Email:    "carol@example.com",
		Mobile:   "9876543210",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if user.ID == "" || !user.Active || user.Username != "carol" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.Email == nil || *user.Email != "carol@example.com" {
		t.Fatalf("expected email to be stored, got %v", user.Email)
	}

	res, err := env.engine.Login(ctx, "carol@example.com", "Xk9#mQ2$vL7p")
	if err != nil {
		t.Fatalf("Login after register failed: %v", err)
	}
	if res.User.ID != user.ID {
		t.Fatalf("expected %s, got %s", user.ID, res.User.ID)
	}
}

func TestRegisterWithoutContactFields(t *testing.T) {
	env := newTestEnv(t, nil)

	user, err := env.engine.Register(context.Background(), RegisterRequest{
		Username: "dave",
		Password: "Xk9#mQ2$vL7p",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if user.Email != nil || user.Mobile != nil {
		t.Fatalf("expected no contact fields, got %v %v", user.Email, user.Mobile)
	}
}

func TestRegisterValidationOrder(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		setup  func(*testing.T, *testEnv)
		req    RegisterRequest
		want   map[string]string
	}{
		{
			name:   "required email before anything else",
			mutate: func(c *Config) { c.Registration.RequireEmail = true },
			req:    RegisterRequest{Username: "", Password: ""},
			want:   map[string]string{"email": msgEmailRequired},
		},
		{
			name:   "required mobile",
			mutate: func(c *Config) { c.Registration.RequireMobile = true },
			req:    RegisterRequest{Username: "x", Email: "x@example.com", Password: "Xk9#mQ2$vL7p"},
			want:   map[string]string{"mobile": msgMobileRequired},
		},
		{
			name: "field format problems together",
			req:  RegisterRequest{Username: "bad name!", Email: "nope", Mobile: "12ab", Password: ""},
			want: map[string]string{
				"username": msgInvalidUsername,
				"email":    msgInvalidEmail,
				"mobile":   msgInvalidMobile,
				"password": msgRequired,
			},
		},
		{
			name:  "username taken",
			setup: func(t *testing.T, env *testEnv) { env.addUser(t, "alice", "", "", "correct-horse-battery") },
			req:   RegisterRequest{Username: "alice", Password: "Xk9#mQ2$vL7p"},
			want:  map[string]string{"username": msgUsernameTaken},
		},
		{
			name:  "email taken before mobile",
			setup: func(t *testing.T, env *testEnv) { env.addUser(t, "alice", "a@example.com", "9876543210", "pw-pw-pw-pw") },
			req:   RegisterRequest{Username: "bob", Email: "a@example.com", Mobile: "9876543210", Password: "Xk9#mQ2$vL7p"},
			want:  map[string]string{"email": msgEmailTaken},
		},
		{
			name:  "mobile taken",
			setup: func(t *testing.T, env *testEnv) { env.addUser(t, "alice", "", "9876543210", "pw-pw-pw-pw") },
			req:   RegisterRequest{Username: "bob", Email: "b@example.com", Mobile: "9876543210", Password: "Xk9#mQ2$vL7p"},
			want:  map[string]string{"mobile": msgMobileTaken},
		},
		{
			name: "both contacts unverified",
			req:  RegisterRequest{Username: "bob", Email: "b@example.com", Mobile: "9876543210", Password: "Xk9#mQ2$vL7p"},
			want: map[string]string{"email": msgEmailNotVerified, "mobile": msgMobileNotVerified},
		},
		{
			name:  "weak password after verification",
			setup: func(t *testing.T, env *testEnv) { env.validate(t, "b@example.com") },
			req:   RegisterRequest{Username: "bob", Email: "b@example.com", Password: "12345678"},
			want:  map[string]string{"password": "This password is too common."},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, tc.mutate)
			if tc.setup != nil {
				tc.setup(t, env)
			}

			_, err := env.engine.Register(context.Background(), tc.req)
			fields := fieldMessages(t, err)
			if len(fields) != len(tc.want) {
				t.Fatalf("expected fields %v, got %v", tc.want, fields)
			}
			for field, msg := range tc.want {
				if len(fields[field]) == 0 || fields[field][0] != msg {
					t.Fatalf("field %s: expected %q, got %v", field, msg, fields[field])
				}
			}
		})
	}
}

func TestRegisterPasswordTooSimilar(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.engine.Register(context.Background(), RegisterRequest{
		Username: "margaretha",
		Password: "margaretha1",
	})
	fields := fieldMessages(t, err)
	if len(fields["password"]) == 0 || fields["password"][0] != "The password is too similar to the username." {
		t.Fatalf("expected similarity problem first, got %v", fields["password"])
	}
}

func TestRegisterUsernameLength(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Identity.UsernameMaxLength = 5 })

	_, err := env.engine.Register(context.Background(), RegisterRequest{
		Username: "abcdef",
		Password: "Xk9#mQ2$vL7p",
	})
	fields := fieldMessages(t, err)
	if !strings.Contains(fields["username"][0], "no more than 5 characters") {
		t.Fatalf("unexpected username message %v", fields["username"])
	}
}

func TestRegisterSendsWelcomeMessages(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Registration.SendMail = true
		c.Registration.SendMessage = true
	})
	env.validate(t, "carol@example.com")
	env.validate(t, "9876543210")
	before := len(env.gw.messages())

	_, err := env.engine.Register(context.Background(), RegisterRequest{
		Username: "carol",
		Password: "Xk9#mQ2$vL7p",
		Email:    "carol@example.com",
		Mobile:   "9876543210",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	msgs := env.gw.messages()[before:]
	if len(msgs) != 2 {
		t.Fatalf("expected 2 welcome messages, got %d", len(msgs))
	}
	if msgs[0].Recipient != "carol@example.com" || msgs[0].Subject != "Welcome to goIdentity" || msgs[0].HTMLBody == "" {
		t.Fatalf("unexpected welcome mail %+v", msgs[0])
	}
	if msgs[1].Recipient != "9876543210" || msgs[1].Subject != "" {
		t.Fatalf("unexpected welcome message %+v", msgs[1])
	}
}

func TestRegisterWelcomeFailureDoesNotFailRegistration(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Registration.SendMail = true })
	env.validate(t, "carol@example.com")
	env.gw.err = errors.New("smtp down")

	user, err := env.engine.Register(context.Background(), RegisterRequest{
		Username: "carol",
		Password: "Xk9#mQ2$vL7p",
		Email:    "carol@example.com",
	})
	if err != nil || user == nil {
		t.Fatalf("expected registration to succeed, got %v", err)
	}
	if env.engine.MetricsSnapshot().Counters[MetricWelcomeFailure] != 1 {
		t.Fatal("expected welcome failure to be counted")
	}
}

func TestRegisterStoreConflictIsDuplicate(t *testing.T) {
	env := newTestEnv(t, nil)
	// A racing create lands between the uniqueness check and Create.
	env.users.mu.Lock()
	env.users.users["ghost"] = &User{ID: "ghost", Username: "zed"}
	env.users.mu.Unlock()

	racing := &racingUserStore{memUserStore: env.users, takeover: "zed"}
	engine, err := New().WithConfig(testConfig()).WithRedis(env.rdb).
		WithUserStore(racing).WithMessagingGateway(env.gw).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	_, err = engine.Register(context.Background(), RegisterRequest{Username: "zed", Password: "Xk9#mQ2$vL7p"})
	if !errors.Is(err, ErrDuplicateUser) {
		t.Fatalf("expected ErrDuplicateUser, got %v", err)
	}
}

// racingUserStore hides one username from lookups so the conflict only
// surfaces on Create.
type racingUserStore struct {
	*memUserStore
	takeover string
}

func (s *racingUserStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	if username == s.takeover {
		return nil, ErrUserNotFound
	}
	return s.memUserStore.GetByUsername(ctx, username)
}
