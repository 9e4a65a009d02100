package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/middleware"
)

const (
	maxBodyBytes     = 64 << 10
	msgFieldRequired = "This field is required."
	msgOTPValidated  = "OTP Validated successfully!"
)

// decode reads a JSON body into dst. It writes the 400 itself and reports
// false on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeDetail(w, http.StatusBadRequest, "JSON parse error - "+err.Error())
		return false
	}
	return true
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}

	fields := map[string][]string{}
	if req.Username == "" {
		fields["username"] = []string{msgFieldRequired}
	}
	if req.Password == "" {
		fields["password"] = []string{msgFieldRequired}
	}
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, fields)
		return
	}

	res, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type registerRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Email    string `json:"email"`
	Mobile   string `json:"mobile"`
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}

	user, err := h.svc.Register(r.Context(), goIdentity.RegisterRequest{
		Username: req.Username,
		Name:     req.Name,
		Password: req.Password,
		Email:    req.Email,
		Mobile:   req.Mobile,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

type otpRequest struct {
	Destination string          `json:"destination"`
	IsLogin     bool            `json:"is_login"`
	OTP         json.RawMessage `json:"otp"`
}

// code returns the submitted OTP and whether the field was present. Numeric
// JSON values are accepted as typed.
func (o otpRequest) code() (string, bool) {
	raw := bytes.TrimSpace(o.OTP)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	return string(raw), true
}

func (h *handler) otp(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !decode(w, r, &req) {
		return
	}

	code, submitted := req.code()
	if !submitted {
		res, err := h.svc.RequestOTP(r.Context(), goIdentity.OTPRequest{
			Destination: req.Destination,
			IsLogin:     req.IsLogin,
		})
		if errors.Is(err, goIdentity.ErrDeliveryFailed) && res.Message != "" {
			writeDetail(w, http.StatusInternalServerError, serverErrorPrefix+res.Message)
			return
		}
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
		return
	}

	res, err := h.svc.VerifyOTP(r.Context(), goIdentity.OTPVerification{
		Destination: req.Destination,
		IsLogin:     req.IsLogin,
		Code:        code,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res != nil {
		writeJSON(w, http.StatusAccepted, res)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string][]string{"OTP": {msgOTPValidated}})
}

func (h *handler) account(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Token is invalid or expired")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type accountUpdate struct {
	Username *string `json:"username"`
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Mobile   *string `json:"mobile"`
	Password *string `json:"password"`
}

func (h *handler) updateAccount(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Token is invalid or expired")
		return
	}

	var req accountUpdate
	if !decode(w, r, &req) {
		return
	}

	user, err := h.svc.UpdateProfile(r.Context(), claims.UID, goIdentity.ProfileUpdate{
		Username: req.Username,
		Name:     req.Name,
		Email:    req.Email,
		Mobile:   req.Mobile,
		Password: req.Password,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Refresh == "" {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"refresh": {msgFieldRequired}})
		return
	}

	pair, err := h.svc.RefreshToken(r.Context(), req.Refresh)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access": pair.AccessToken})
}

type verifyRequest struct {
	Token string `json:"token"`
}

func (h *handler) verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Token == "" {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"token": {msgFieldRequired}})
		return
	}

	if err := h.svc.VerifyToken(r.Context(), req.Token); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}
