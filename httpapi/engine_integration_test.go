package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/storage/sqlite"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureGateway struct {
	mu   sync.Mutex
	sent []goIdentity.Message
}

func (g *captureGateway) Send(_ context.Context, msg goIdentity.Message) (goIdentity.DeliveryResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, msg)
	return goIdentity.DeliverySucceeded(), nil
}

// lastCode extracts the code from the newest OTP message.
func (g *captureGateway) lastCode(t *testing.T) string {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	require.NotEmpty(t, g.sent)
	body := g.sent[len(g.sent)-1].Body
	i := strings.LastIndex(body, " is ")
	j := strings.Index(body, ". Don't share")
	require.True(t, i >= 0 && j > i, body)
	return body[i+len(" is ") : j]
}

func newEngineRouter(t *testing.T) (http.Handler, *captureGateway) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	users, err := sqlite.Open(filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = users.Close() })

	cfg := goIdentity.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	gw := &captureGateway{}
	engine, err := goIdentity.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithMessagingGateway(gw).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return NewRouter(engine, Options{}), gw
}

func TestEngineRegistrationAndLoginFlow(t *testing.T) {
	h, gw := newEngineRouter(t)

	rec := do(t, h, http.MethodPost, "/api/user/otp/", `{"destination":"alice@example.com"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	code := gw.lastCode(t)
	rec = do(t, h, http.MethodPost, "/api/user/otp/", `{"destination":"alice@example.com","otp":"`+code+`"}`, "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/user/register/",
		`{"username":"alice","name":"Alice","password":"violet-harbor-1987","email":"alice@example.com"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/user/login/", `{"username":"alice@example.com","password":"violet-harbor-1987"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var login struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	require.NotEmpty(t, login.AccessToken)

	rec = do(t, h, http.MethodGet, "/api/user/account/", "", login.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "alice", decodeBody(t, rec)["username"])

	rec = do(t, h, http.MethodGet, "/api/user/account/", "", login.RefreshToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/user/token/refresh/", `{"refresh":"`+login.RefreshToken+`"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/user/token/verify/", `{"token":"`+login.RefreshToken+`"}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEngineRegistrationNeedsVerifiedEmail(t *testing.T) {
	h, _ := newEngineRouter(t)

	rec := do(t, h, http.MethodPost, "/api/user/register/",
		`{"username":"bob","name":"Bob","password":"violet-harbor-1987","email":"bob@example.com"}`, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec), "email")
}

func TestEngineOTPCooldown(t *testing.T) {
	h, _ := newEngineRouter(t)

	rec := do(t, h, http.MethodPost, "/api/user/otp/", `{"destination":"9876543210"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/user/otp/", `{"destination":"9876543210"}`, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
