package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sandeepkv93/bmc-account-service/internal/domain"
	"github.com/sandeepkv93/bmc-account-service/internal/http/middleware"
	"github.com/sandeepkv93/bmc-account-service/internal/http/response"
	"github.com/sandeepkv93/bmc-account-service/internal/observability"
	"github.com/sandeepkv93/bmc-account-service/internal/security"
	"github.com/sandeepkv93/bmc-account-service/internal/service"
)

const incorrectCredentialsDetail = "Incorrect username or password"

// AccountService is the lifecycle surface the HTTP layer drives.
type AccountService interface {
	Signup(ctx context.Context, in service.SignupInput) service.Result
	Login(ctx context.Context, in service.LoginInput) service.Result
	UpdateProfile(ctx context.Context, email string, update domain.ProfileUpdate) service.Result
	GetPublicProfile(ctx context.Context, username string) service.Result
	UpdateWallet(ctx context.Context, email string, wallets domain.Wallets) service.Result
	GetWallet(ctx context.Context, email, walletID string) service.Result
	CheckUsername(ctx context.Context, username string) service.Result
	CheckEmail(ctx context.Context, email string) service.Result
	ValidateUsername(username string) service.Result
	UploadAvatar(ctx context.Context, email string, file io.Reader, size int64) service.Result
	AvatarURL(ctx context.Context, username string) service.Result
}

type TokenIssuer interface {
	Issue(subject string, ttl time.Duration) (string, error)
}

type AccountHandler struct {
	accounts AccountService
	tokens   TokenIssuer
}

func NewAccountHandler(accounts AccountService, tokens TokenIssuer) *AccountHandler {
	return &AccountHandler{accounts: accounts, tokens: tokens}
}

// CredentialResponse is returned by signup and login; the token subject is the account email.
type CredentialResponse struct {
	StatusCode  string `json:"statusCode"`
	Message     string `json:"message"`
	Username    string `json:"username"`
	AccessToken string `json:"access_token"`
}

type walletRequest struct {
	Wallet domain.Wallets `json:"wallet"`
}

func (h *AccountHandler) Signup(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAccountRequestDuration(r.Context(), "signup", status, time.Since(start))
	}()

	var in service.SignupInput
	if !decodeJSON(w, r, &in) {
		status = "invalid"
		return
	}
	if missing := missingFields(map[string]string{"username": in.Username, "email": in.Email, "password": in.Password}); len(missing) > 0 {
		status = "invalid"
		validationError(w, r, missing)
		return
	}

	res := h.accounts.Signup(r.Context(), in)
	if !res.OK() {
		status = "failure"
		observability.Audit(r, "account.signup.failed", "reason", res.Message)
		response.Detail(w, r, http.StatusUnauthorized, incorrectCredentialsDetail)
		return
	}
	data, _ := res.Data.(service.SignupData)
	if !h.writeCredential(w, r, in.Username, data.Email) {
		status = "failure"
		return
	}
	observability.Audit(r, "account.signup.success", "username", in.Username)
}

func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAccountRequestDuration(r.Context(), "login", status, time.Since(start))
	}()

	var in service.LoginInput
	if !decodeJSON(w, r, &in) {
		status = "invalid"
		return
	}
	if missing := missingFields(map[string]string{"username": in.Username, "password": in.Password}); len(missing) > 0 {
		status = "invalid"
		validationError(w, r, missing)
		return
	}
	in.ClientIP = requestIP(r)

	res := h.accounts.Login(r.Context(), in)
	switch {
	case res.Message == service.MsgTooManyAttempts:
		status = "throttled"
		observability.Audit(r, "account.login.throttled", "username", in.Username)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(res.RetryAfter)))
		response.Error(w, r, http.StatusTooManyRequests, service.MsgTooManyAttempts, "too many failed login attempts", nil)
	case res.StatusCode == service.StatusError:
		status = "error"
		observability.Audit(r, "account.login.error", "username", in.Username, "reason", res.Message)
		response.Error(w, r, http.StatusServiceUnavailable, res.Message, "login could not be completed", nil)
	case !res.OK():
		status = "failure"
		observability.Audit(r, "account.login.failed", "username", in.Username, "reason", res.Message)
		response.Detail(w, r, http.StatusUnauthorized, incorrectCredentialsDetail)
	default:
		email, _ := res.Data.(string)
		if !h.writeCredential(w, r, in.Username, email) {
			status = "failure"
			return
		}
		observability.Audit(r, "account.login.success", "username", in.Username)
	}
}

func (h *AccountHandler) writeCredential(w http.ResponseWriter, r *http.Request, username, email string) bool {
	token, err := h.tokens.Issue(email, 0)
	if err != nil {
		observability.Audit(r, "account.token.failed", "username", username, "error", err.Error())
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to issue access token", nil)
		return false
	}
	response.JSON(w, r, http.StatusOK, CredentialResponse{
		StatusCode:  service.StatusOK,
		Message:     service.MsgSuccess,
		Username:    username,
		AccessToken: token,
	})
	return true
}

func (h *AccountHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAccountRequestDuration(r.Context(), "update_profile", status, time.Since(start))
	}()

	acc, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		status = "unauthorized"
		response.Detail(w, r, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	var update domain.ProfileUpdate
	if !decodeJSON(w, r, &update) {
		status = "invalid"
		return
	}
	if missing := missingFields(map[string]string{
		"full_name":       update.FullName,
		"username":        update.Username,
		"profession_type": update.ProfessionType,
		"support_type":    update.SupportType,
	}); len(missing) > 0 {
		status = "invalid"
		validationError(w, r, missing)
		return
	}

	res := h.accounts.UpdateProfile(r.Context(), acc.Email, update)
	status = resultStatus(res)
	observability.Audit(r, "account.profile.update", "username", acc.Username, "outcome", res.Message)
	response.JSON(w, r, http.StatusOK, res)
}

func (h *AccountHandler) GetPublicProfile(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAccountRequestDuration(r.Context(), "get_public_profile", status, time.Since(start))
	}()

	username, ok := requiredQuery(w, r, "username")
	if !ok {
		status = "invalid"
		return
	}
	res := h.accounts.GetPublicProfile(r.Context(), username)
	status = resultStatus(res)
	response.JSON(w, r, http.StatusOK, res)
}

func (h *AccountHandler) UpdateWallet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAccountRequestDuration(r.Context(), "update_wallet", status, time.Since(start))
	}()

	acc, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		status = "unauthorized"
		response.Detail(w, r, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	var req walletRequest
	if !decodeJSON(w, r, &req) {
		status = "invalid"
		return
	}
	res := h.accounts.UpdateWallet(r.Context(), acc.Email, req.Wallet)
	status = resultStatus(res)
	observability.Audit(r, "account.wallet.update", "username", acc.Username, "outcome", res.Message, "networks", len(req.Wallet))
	response.JSON(w, r, http.StatusOK, res)
}

func (h *AccountHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAccountRequestDuration(r.Context(), "get_wallet", status, time.Since(start))
	}()

	email, ok := requiredQuery(w, r, "email")
	if !ok {
		status = "invalid"
		return
	}
	res := h.accounts.GetWallet(r.Context(), email, r.URL.Query().Get("walletId"))
	status = resultStatus(res)
	response.JSON(w, r, http.StatusOK, res)
}

// CheckUsername reports INVALID_USERNAME before touching the store, otherwise availability.
func (h *AccountHandler) CheckUsername(w http.ResponseWriter, r *http.Request) {
	username, ok := requiredQuery(w, r, "username")
	if !ok {
		return
	}
	if res := h.accounts.ValidateUsername(username); res.Message != service.MsgValidUsername {
		response.JSON(w, r, http.StatusOK, res)
		return
	}
	response.JSON(w, r, http.StatusOK, h.accounts.CheckUsername(r.Context(), username))
}

func (h *AccountHandler) CheckEmail(w http.ResponseWriter, r *http.Request) {
	email, ok := requiredQuery(w, r, "email")
	if !ok {
		return
	}
	response.JSON(w, r, http.StatusOK, h.accounts.CheckEmail(r.Context(), email))
}

func (h *AccountHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAccountRequestDuration(r.Context(), "upload_avatar", status, time.Since(start))
	}()

	acc, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		status = "unauthorized"
		response.Detail(w, r, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	if err := r.ParseMultipartForm(service.MaxAvatarSize); err != nil {
		status = "invalid"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			response.Error(w, r, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "avatar exceeds upload limit", nil)
			return
		}
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "expected multipart form with an avatar file", nil)
		return
	}
	file, header, err := r.FormFile("avatar")
	if err != nil {
		status = "invalid"
		validationError(w, r, []string{"avatar"})
		return
	}
	defer file.Close()

	res := h.accounts.UploadAvatar(r.Context(), acc.Email, file, header.Size)
	status = resultStatus(res)
	observability.Audit(r, "account.avatar.upload", "username", acc.Username, "outcome", res.Message, "size", header.Size)
	response.JSON(w, r, http.StatusOK, res)
}

// Avatar redirects to the stored image of an active account.
func (h *AccountHandler) Avatar(w http.ResponseWriter, r *http.Request) {
	username, ok := requiredQuery(w, r, "username")
	if !ok {
		return
	}
	res := h.accounts.AvatarURL(r.Context(), username)
	if res.StatusCode == service.StatusError {
		response.JSON(w, r, http.StatusInternalServerError, res)
		return
	}
	target, _ := res.Data.(string)
	if !res.OK() || target == "" {
		response.JSON(w, r, http.StatusNotFound, res)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			response.Error(w, r, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
			return false
		}
		response.Error(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid json body", nil)
		return false
	}
	return true
}

func missingFields(fields map[string]string) []string {
	var missing []string
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

func validationError(w http.ResponseWriter, r *http.Request, fields []string) {
	response.Error(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "missing required fields", map[string]any{"fields": fields})
}

func requiredQuery(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		validationError(w, r, []string{name})
		return "", false
	}
	return v, true
}

func resultStatus(res service.Result) string {
	if res.StatusCode == service.StatusError {
		return "error"
	}
	if res.OK() {
		return "success"
	}
	return "failure"
}

func retryAfterSeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}
	return s
}

// requestIP relies on chi's RealIP having rewritten RemoteAddr.
func requestIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

var _ TokenIssuer = (*security.TokenManager)(nil)
