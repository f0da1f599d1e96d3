package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sandeepkv93/bmc-account-service/internal/domain"
	"github.com/sandeepkv93/bmc-account-service/internal/observability"
	"github.com/sandeepkv93/bmc-account-service/internal/repository"
	"github.com/sandeepkv93/bmc-account-service/internal/security"
)

type SignupInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
	ClientIP string `json:"-"`
}

// SignupData carries the identity the caller issues a token for.
type SignupData struct {
	Email string `json:"email"`
}

type AccountService struct {
	repo    repository.AccountRepository
	hasher  *security.PasswordHasher
	guard   AuthAbuseGuard
	avatars AvatarStorage
	logger  *slog.Logger
	now     func() time.Time
}

// NewAccountService wires the lifecycle operations. guard and avatars may be nil; uploads then report
// ERROR_OCCURED and logins are never throttled.
func NewAccountService(repo repository.AccountRepository, hasher *security.PasswordHasher, guard AuthAbuseGuard, avatars AvatarStorage, logger *slog.Logger) *AccountService {
	if hasher == nil {
		hasher = security.NewPasswordHasher()
	}
	if guard == nil {
		guard = NewNoopAuthAbuseGuard()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{
		repo:    repo,
		hasher:  hasher,
		guard:   guard,
		avatars: avatars,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *AccountService) AvatarsEnabled() bool { return s.avatars != nil }

func (s *AccountService) Signup(ctx context.Context, in SignupInput) Result {
	res := s.signup(ctx, in)
	observability.RecordAccountOperation(ctx, "signup", res.Message)
	return res
}

func (s *AccountService) signup(ctx context.Context, in SignupInput) Result {
	email := normalizeEmail(in.Email)
	if !domain.ValidUsername(in.Username) {
		return outcome(MsgInvalidUsername)
	}
	exists, err := s.repo.ExistsByEmail(ctx, email)
	if err != nil {
		s.logger.ErrorContext(ctx, "signup email probe failed", "error", err)
		return failure(MsgErrorOccured)
	}
	if exists {
		return failure(MsgEmailAlreadyExisted)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		s.logger.ErrorContext(ctx, "signup password hash failed", "error", err)
		return failure(MsgErrorOccured)
	}
	verifyToken, err := security.URLSafeToken()
	if err != nil {
		s.logger.ErrorContext(ctx, "signup verify token failed", "error", err)
		return failure(MsgErrorOccured)
	}

	acc := &domain.Account{
		Email:            email,
		Username:         in.Username,
		PasswordHash:     hash,
		Status:           domain.AccountStatusActive,
		MemberSince:      domain.NewMemberSince(s.now()),
		EmailVerifyToken: verifyToken,
		IsEmailVerified:  false,
	}
	if err := s.repo.Insert(ctx, acc); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return s.signupConflict(ctx, email)
		}
		s.logger.ErrorContext(ctx, "signup insert failed", "error", err)
		return failure(MsgErrorOccured)
	}
	return success(SignupData{Email: email})
}

// signupConflict attributes a unique-index violation to the email when it is now taken, otherwise to the username.
func (s *AccountService) signupConflict(ctx context.Context, email string) Result {
	exists, err := s.repo.ExistsByEmail(ctx, email)
	if err != nil {
		s.logger.ErrorContext(ctx, "signup conflict probe failed", "error", err)
		return failure(MsgErrorOccured)
	}
	if exists {
		return failure(MsgEmailAlreadyExisted)
	}
	return failure(MsgUsernameExist)
}

func (s *AccountService) Login(ctx context.Context, in LoginInput) Result {
	res := s.login(ctx, in)
	observability.RecordAccountOperation(ctx, "login", res.Message)
	return res
}

func (s *AccountService) login(ctx context.Context, in LoginInput) Result {
	retry, err := s.guard.Check(ctx, AuthAbuseScopeLogin, in.Username, in.ClientIP)
	if err != nil {
		s.logger.WarnContext(ctx, "login abuse guard check failed", "error", err)
		observability.RecordAuthAbuseGuardEvent(ctx, string(AuthAbuseScopeLogin), "check", "error")
	} else if retry > 0 {
		observability.RecordAuthAbuseGuardEvent(ctx, string(AuthAbuseScopeLogin), "check", "blocked")
		observability.RecordAuthAbuseCooldown(ctx, string(AuthAbuseScopeLogin), "check", retry)
		return Result{StatusCode: StatusOK, Message: MsgTooManyAttempts, RetryAfter: retry}
	}

	acc, err := s.repo.FindActiveByUsername(ctx, in.Username)
	if err != nil {
		s.logger.ErrorContext(ctx, "login lookup failed", "error", err)
		return failure(MsgErrorOccured)
	}
	if acc == nil {
		s.registerLoginFailure(ctx, in)
		return outcome(MsgUserNotExist)
	}

	ok, err := s.hasher.Verify(acc.PasswordHash, in.Password)
	if err != nil {
		s.logger.ErrorContext(ctx, "login stored password record unusable", "error", err)
		return failure(MsgErrorOccured)
	}
	if !ok {
		s.registerLoginFailure(ctx, in)
		return outcome(MsgWrongPassword)
	}

	if err := s.guard.Reset(ctx, AuthAbuseScopeLogin, in.Username, in.ClientIP); err != nil {
		s.logger.WarnContext(ctx, "login abuse guard reset failed", "error", err)
	}
	return success(acc.Email)
}

func (s *AccountService) registerLoginFailure(ctx context.Context, in LoginInput) {
	delay, err := s.guard.RegisterFailure(ctx, AuthAbuseScopeLogin, in.Username, in.ClientIP)
	if err != nil {
		s.logger.WarnContext(ctx, "login abuse guard register failed", "error", err)
		observability.RecordAuthAbuseGuardEvent(ctx, string(AuthAbuseScopeLogin), "register_failure", "error")
		return
	}
	observability.RecordAuthAbuseGuardEvent(ctx, string(AuthAbuseScopeLogin), "register_failure", "ok")
	if delay > 0 {
		observability.RecordAuthAbuseCooldown(ctx, string(AuthAbuseScopeLogin), "register_failure", delay)
	}
}

func (s *AccountService) UpdateProfile(ctx context.Context, email string, update domain.ProfileUpdate) Result {
	res := s.updateProfile(ctx, normalizeEmail(email), update)
	observability.RecordAccountOperation(ctx, "update_profile", res.Message)
	return res
}

func (s *AccountService) updateProfile(ctx context.Context, email string, update domain.ProfileUpdate) Result {
	if !domain.ValidUsername(update.Username) {
		return outcome(MsgInvalidUsername)
	}
	acc, err := s.repo.FindActiveByEmail(ctx, email)
	if err != nil {
		s.logger.ErrorContext(ctx, "profile lookup failed", "error", err)
		return failure(MsgErrorOccured)
	}
	if acc == nil {
		return outcome(MsgUserNotExist)
	}
	err = s.repo.UpdateProfileFields(ctx, email, update)
	switch {
	case err == nil:
		return success(nil)
	case errors.Is(err, repository.ErrNotFound):
		return outcome(MsgUserNotExist)
	case errors.Is(err, repository.ErrConflict):
		return failure(MsgUsernameExist)
	default:
		s.logger.ErrorContext(ctx, "profile update failed", "error", err)
		return failure(MsgErrorOccured)
	}
}

func (s *AccountService) GetPublicProfile(ctx context.Context, username string) Result {
	res := s.getPublicProfile(ctx, username)
	observability.RecordAccountOperation(ctx, "get_public_profile", res.Message)
	return res
}

func (s *AccountService) getPublicProfile(ctx context.Context, username string) Result {
	acc, err := s.repo.FindActiveByUsername(ctx, username)
	if err != nil {
		s.logger.ErrorContext(ctx, "public profile lookup failed", "error", err)
		return failure(MsgErrorOccured)
	}
	if acc == nil {
		return outcome(MsgUserNotExist)
	}
	return success(acc.PublicProfile())
}

func (s *AccountService) UpdateWallet(ctx context.Context, email string, wallets domain.Wallets) Result {
	res := s.updateWallet(ctx, normalizeEmail(email), wallets)
	observability.RecordAccountOperation(ctx, "update_wallet", res.Message)
	return res
}

func (s *AccountService) updateWallet(ctx context.Context, email string, wallets domain.Wallets) Result {
	if !wallets.Valid() {
		return outcome(MsgInvalidWallet)
	}
	acc, err := s.repo.FindActiveByEmail(ctx, email)
	if err != nil {
		s.logger.ErrorContext(ctx, "wallet lookup failed", "error", err)
		return failure(MsgErrorOccured)
	}
	if acc == nil {
		return outcome(MsgUserNotExist)
	}
	if wallets == nil {
		wallets = domain.Wallets{}
	}
	err = s.repo.UpdateWallets(ctx, email, wallets)
	switch {
	case err == nil:
		return success(nil)
	case errors.Is(err, repository.ErrNotFound):
		return outcome(MsgUserNotExist)
	default:
		s.logger.ErrorContext(ctx, "wallet update failed", "error", err)
		return failure(MsgErrorOccured)
	}
}

// GetWallet returns the whole wallet mapping when walletID is empty, otherwise the single network entry.
func (s *AccountService) GetWallet(ctx context.Context, email, walletID string) Result {
	res := s.getWallet(ctx, normalizeEmail(email), walletID)
	observability.RecordAccountOperation(ctx, "get_wallet", res.Message)
	return res
}

func (s *AccountService) getWallet(ctx context.Context, email, walletID string) Result {
	acc, err := s.repo.FindActiveByEmail(ctx, email)
	if err != nil {
		s.logger.ErrorContext(ctx, "wallet lookup failed", "error", err)
		return failure(MsgErrorOccured)
	}
	if acc == nil {
		return outcome(MsgUserNotExist)
	}
	if walletID == "" {
		wallets := acc.Wallets
		if wallets == nil {
			wallets = domain.Wallets{}
		}
		return success(wallets)
	}
	entry, ok := acc.Wallets[walletID]
	if !ok || len(entry) == 0 {
		return outcome(MsgInvalidWallet)
	}
	return success(entry)
}

func (s *AccountService) CheckUsername(ctx context.Context, username string) Result {
	exists, err := s.repo.ExistsByUsername(ctx, username)
	if err != nil {
		s.logger.ErrorContext(ctx, "username probe failed", "error", err)
		return failure(MsgErrorOccured)
	}
	if exists {
		return outcome(MsgUsernameExist)
	}
	return outcome(MsgUsernameNotExist)
}

func (s *AccountService) CheckEmail(ctx context.Context, email string) Result {
	exists, err := s.repo.ExistsByEmail(ctx, normalizeEmail(email))
	if err != nil {
		s.logger.ErrorContext(ctx, "email probe failed", "error", err)
		return failure(MsgErrorOccured)
	}
	if exists {
		return outcome(MsgEmailExist)
	}
	return outcome(MsgEmailNotExist)
}

func (s *AccountService) ValidateUsername(username string) Result {
	if domain.ValidUsername(username) {
		return outcome(MsgValidUsername)
	}
	return failure(MsgInvalidUsername)
}

// UploadAvatar stores the image, points the account at it, then removes the previous object if this account owned it.
func (s *AccountService) UploadAvatar(ctx context.Context, email string, file io.Reader, size int64) Result {
	res := s.uploadAvatar(ctx, normalizeEmail(email), file, size)
	observability.RecordAccountOperation(ctx, "upload_avatar", res.Message)
	return res
}

func (s *AccountService) uploadAvatar(ctx context.Context, email string, file io.Reader, size int64) Result {
	if s.avatars == nil {
		return failure(MsgErrorOccured)
	}
	acc, err := s.repo.FindActiveByEmail(ctx, email)
	if err != nil {
		s.logger.ErrorContext(ctx, "avatar lookup failed", "error", err)
		return failure(MsgErrorOccured)
	}
	if acc == nil {
		return outcome(MsgUserNotExist)
	}

	key, err := s.avatars.Upload(ctx, email, file, size)
	if err != nil {
		if errors.Is(err, ErrFileTooBig) || errors.Is(err, ErrInvalidFileType) {
			return outcome(MsgAvatarRejected)
		}
		s.logger.ErrorContext(ctx, "avatar upload failed", "error", err)
		return failure(MsgErrorOccured)
	}

	if err := s.repo.UpdateAvatar(ctx, email, key); err != nil {
		if delErr := s.avatars.Delete(ctx, email, key); delErr != nil {
			s.logger.WarnContext(ctx, "orphaned avatar cleanup failed", "error", delErr, "object_key", key)
		}
		if errors.Is(err, repository.ErrNotFound) {
			return outcome(MsgUserNotExist)
		}
		s.logger.ErrorContext(ctx, "avatar update failed", "error", err)
		return failure(MsgErrorOccured)
	}

	if acc.Avatar != "" && acc.Avatar != key && s.avatars.Owns(email, acc.Avatar) {
		if err := s.avatars.Delete(ctx, email, acc.Avatar); err != nil {
			s.logger.WarnContext(ctx, "previous avatar delete failed", "error", err, "object_key", acc.Avatar)
		}
	}
	return success(map[string]string{"avatar": key})
}

// AvatarURL resolves the stored avatar object of an active account to a short-lived download URL.
// Values that are not keys in the avatar bucket are never returned as redirect targets.
func (s *AccountService) AvatarURL(ctx context.Context, username string) Result {
	acc, err := s.repo.FindActiveByUsername(ctx, username)
	if err != nil {
		s.logger.ErrorContext(ctx, "avatar url lookup failed", "error", err)
		return failure(MsgErrorOccured)
	}
	if acc == nil {
		return outcome(MsgUserNotExist)
	}
	if s.avatars == nil || !isAvatarKey(acc.Avatar) {
		return outcome(MsgAvatarNotFound)
	}
	u, err := s.avatars.URL(ctx, acc.Avatar)
	if err != nil {
		s.logger.ErrorContext(ctx, "avatar url signing failed", "error", err, "object_key", acc.Avatar)
		return failure(MsgErrorOccured)
	}
	return success(u)
}

// ResolveActive re-reads the account named by a token subject; nil means the subject no longer authenticates.
func (s *AccountService) ResolveActive(ctx context.Context, email string) (*domain.Account, error) {
	return s.repo.FindActiveByEmail(ctx, normalizeEmail(email))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
