package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.uber.org/mock/gomock"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/bmc-account-service/internal/domain"
	"github.com/sandeepkv93/bmc-account-service/internal/repository"
	repogomock "github.com/sandeepkv93/bmc-account-service/internal/repository/gomock"
	"github.com/sandeepkv93/bmc-account-service/internal/security"
)

type accountServiceFixture struct {
	svc  *AccountService
	repo *repository.GormAccountRepository
}

func newAccountServiceFixture(t *testing.T, guard AuthAbuseGuard, avatars AvatarStorage) *accountServiceFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&repository.AccountRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	repo := repository.NewGormAccountRepository(db)
	svc := NewAccountService(repo, fastHasher(), guard, avatars, quietLogger())
	return &accountServiceFixture{svc: svc, repo: repo}
}

func fastHasher() *security.PasswordHasher {
	return &security.PasswordHasher{Iterations: 1000}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (fx *accountServiceFixture) signup(t *testing.T, username, email, password string) {
	t.Helper()
	res := fx.svc.Signup(context.Background(), SignupInput{Username: username, Email: email, Password: password})
	if res.Message != MsgSuccess {
		t.Fatalf("signup %s: unexpected result %+v", username, res)
	}
}

func TestAccountServiceSignupThenLogin(t *testing.T) {
	fx := newAccountServiceFixture(t, nil, nil)
	ctx := context.Background()

	res := fx.svc.Signup(ctx, SignupInput{Username: "alice", Email: "alice@x.com", Password: "Secret123"})
	if res.StatusCode != StatusOK || res.Message != MsgSuccess {
		t.Fatalf("unexpected signup result %+v", res)
	}
	if data, ok := res.Data.(SignupData); !ok || data.Email != "alice@x.com" {
		t.Fatalf("expected signup data with email, got %#v", res.Data)
	}

	acc, err := fx.repo.FindActiveByEmail(ctx, "alice@x.com")
	if err != nil || acc == nil {
		t.Fatalf("expected stored account, got %+v err=%v", acc, err)
	}
	if acc.PasswordHash == "Secret123" || !strings.Contains(acc.PasswordHash, "$") {
		t.Fatalf("expected salt$hash record, got %q", acc.PasswordHash)
	}
	if acc.IsEmailVerified || acc.EmailVerifyToken == "" || acc.Status != domain.AccountStatusActive {
		t.Fatalf("unexpected new account state: %+v", acc)
	}
	if _, err := time.Parse(domain.MemberSinceLayout, acc.MemberSince); err != nil {
		t.Fatalf("member_since %q does not parse: %v", acc.MemberSince, err)
	}

	login := fx.svc.Login(ctx, LoginInput{Username: "alice", Password: "Secret123", ClientIP: "10.0.0.1"})
	if login.Message != MsgSuccess || login.Data != "alice@x.com" {
		t.Fatalf("unexpected login result %+v", login)
	}
}

func TestAccountServiceSignupDuplicateEmail(t *testing.T) {
	fx := newAccountServiceFixture(t, nil, nil)
	ctx := context.Background()
	fx.signup(t, "alice", "alice@x.com", "Secret123")

	res := fx.svc.Signup(ctx, SignupInput{Username: "alice2", Email: "Alice@X.com", Password: "Other123"})
	if res.Message != MsgEmailAlreadyExisted || res.StatusCode != StatusError {
		t.Fatalf("expected EMAIL_ALREADY_EXISTED, got %+v", res)
	}
	if acc, _ := fx.repo.FindActiveByUsername(ctx, "alice2"); acc != nil {
		t.Fatalf("expected no account for rejected signup, got %+v", acc)
	}
	login := fx.svc.Login(ctx, LoginInput{Username: "alice", Password: "Secret123"})
	if login.Message != MsgSuccess {
		t.Fatalf("expected original account untouched, got %+v", login)
	}
}

func TestAccountServiceSignupDuplicateUsernameHitsStoreIndex(t *testing.T) {
	fx := newAccountServiceFixture(t, nil, nil)
	fx.signup(t, "alice", "alice@x.com", "Secret123")

	res := fx.svc.Signup(context.Background(), SignupInput{Username: "alice", Email: "other@x.com", Password: "Secret123"})
	if res.Message != MsgUsernameExist || res.StatusCode != StatusError {
		t.Fatalf("expected USERNAME_EXIST, got %+v", res)
	}
}

func TestAccountServiceSignupRejectsInvalidUsername(t *testing.T) {
	fx := newAccountServiceFixture(t, nil, nil)
	for _, name := range []string{"", "has space", "waytoolongname", "bad_char"} {
		res := fx.svc.Signup(context.Background(), SignupInput{Username: name, Email: name + "@x.com", Password: "p"})
		if res.Message != MsgInvalidUsername {
			t.Fatalf("username %q: expected INVALID_USERNAME, got %+v", name, res)
		}
	}
}

func TestAccountServiceLoginFailures(t *testing.T) {
	fx := newAccountServiceFixture(t, nil, nil)
	ctx := context.Background()
	fx.signup(t, "alice", "alice@x.com", "Secret123")

	res := fx.svc.Login(ctx, LoginInput{Username: "alice", Password: "wrong"})
	if res.Message != MsgWrongPassword || res.StatusCode != StatusOK || res.Data != nil {
		t.Fatalf("expected WRONG_PASSWORD with no data, got %+v", res)
	}
	res = fx.svc.Login(ctx, LoginInput{Username: "nobody", Password: "Secret123"})
	if res.Message != MsgUserNotExist {
		t.Fatalf("expected USER_NOT_EXIST, got %+v", res)
	}
}

func TestAccountServiceLoginCooldownAfterRepeatedFailures(t *testing.T) {
	guard := NewInMemoryAuthAbuseGuard(AuthAbusePolicy{
		FreeAttempts: 2,
		BaseDelay:    time.Minute,
		Multiplier:   2,
		MaxDelay:     time.Hour,
		ResetWindow:  time.Hour,
	})
	fx := newAccountServiceFixture(t, guard, nil)
	ctx := context.Background()
	fx.signup(t, "alice", "alice@x.com", "Secret123")

	for i := 0; i < 3; i++ {
		if res := fx.svc.Login(ctx, LoginInput{Username: "alice", Password: "wrong", ClientIP: "10.0.0.1"}); res.Message != MsgWrongPassword {
			t.Fatalf("attempt %d: expected WRONG_PASSWORD, got %+v", i+1, res)
		}
	}
	res := fx.svc.Login(ctx, LoginInput{Username: "alice", Password: "Secret123", ClientIP: "10.0.0.1"})
	if res.Message != MsgTooManyAttempts || res.RetryAfter <= 0 {
		t.Fatalf("expected TOO_MANY_ATTEMPTS with retry, got %+v", res)
	}
}

func TestAccountServiceProfileRoundTrip(t *testing.T) {
	fx := newAccountServiceFixture(t, nil, nil)
	ctx := context.Background()
	fx.signup(t, "alice", "alice@x.com", "Secret123")

	update := domain.ProfileUpdate{
		FullName:       "Alice Liddell",
		Username:       "alice",
		ProfessionType: "illustrator",
		AboutMe:        "draws rabbits",
		SupportType:    "coffee",
		OnlinePresence: map[string]string{"twitter": "@alice"},
		Avatar:         "https://cdn.example/alice.png",
	}
	if res := fx.svc.UpdateProfile(ctx, "alice@x.com", update); res.Message != MsgSuccess {
		t.Fatalf("update profile: %+v", res)
	}

	res := fx.svc.GetPublicProfile(ctx, "alice")
	if res.Message != MsgSuccess {
		t.Fatalf("get public profile: %+v", res)
	}
	raw, err := json.Marshal(res.Data)
	if err != nil {
		t.Fatalf("marshal profile: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal profile: %v", err)
	}
	for _, secret := range []string{"password", "password_hash", "email_verify_token", "email", "status"} {
		if _, ok := fields[secret]; ok {
			t.Fatalf("public profile leaked %q: %v", secret, fields)
		}
	}
	if fields["full_name"] != "Alice Liddell" || fields["about_me"] != "draws rabbits" {
		t.Fatalf("unexpected public profile %v", fields)
	}
}

func TestAccountServiceProfileMissingAccountAndRenameConflict(t *testing.T) {
	fx := newAccountServiceFixture(t, nil, nil)
	ctx := context.Background()
	fx.signup(t, "alice", "alice@x.com", "Secret123")
	fx.signup(t, "bob", "bob@x.com", "Secret123")

	if res := fx.svc.GetPublicProfile(ctx, "ghost"); res.Message != MsgUserNotExist {
		t.Fatalf("expected USER_NOT_EXIST for unknown username, got %+v", res)
	}
	update := domain.ProfileUpdate{FullName: "A", Username: "bob", ProfessionType: "x", SupportType: "y"}
	if res := fx.svc.UpdateProfile(ctx, "ghost@x.com", update); res.Message != MsgUserNotExist {
		t.Fatalf("expected USER_NOT_EXIST for unknown email, got %+v", res)
	}
	if res := fx.svc.UpdateProfile(ctx, "alice@x.com", update); res.Message != MsgUsernameExist {
		t.Fatalf("expected USERNAME_EXIST on rename conflict, got %+v", res)
	}
}

func TestAccountServiceWallets(t *testing.T) {
	fx := newAccountServiceFixture(t, nil, nil)
	ctx := context.Background()
	fx.signup(t, "alice", "alice@x.com", "Secret123")

	if res := fx.svc.UpdateWallet(ctx, "alice@x.com", domain.Wallets{"Eth": {"address": "0x1"}}); res.Message != MsgSuccess {
		t.Fatalf("update wallet: %+v", res)
	}

	res := fx.svc.GetWallet(ctx, "alice@x.com", "Eth")
	entry, ok := res.Data.(map[string]string)
	if res.Message != MsgSuccess || !ok || entry["address"] != "0x1" {
		t.Fatalf("expected Eth entry, got %+v", res)
	}
	if res := fx.svc.GetWallet(ctx, "alice@x.com", "BTC"); res.Message != MsgInvalidWallet || res.StatusCode != StatusOK {
		t.Fatalf("expected INVALID_WALLET, got %+v", res)
	}
	all := fx.svc.GetWallet(ctx, "alice@x.com", "")
	if wallets, ok := all.Data.(domain.Wallets); !ok || len(wallets) != 1 {
		t.Fatalf("expected whole wallet mapping, got %+v", all)
	}
	if res := fx.svc.GetWallet(ctx, "ghost@x.com", ""); res.Message != MsgUserNotExist {
		t.Fatalf("expected USER_NOT_EXIST, got %+v", res)
	}
	if res := fx.svc.UpdateWallet(ctx, "alice@x.com", domain.Wallets{"": {"address": "0x1"}}); res.Message != MsgInvalidWallet {
		t.Fatalf("expected INVALID_WALLET for blank network, got %+v", res)
	}
}

func TestAccountServiceGetWalletEmptyNetworkIsInvalid(t *testing.T) {
	fx := newAccountServiceFixture(t, nil, nil)
	ctx := context.Background()
	fx.signup(t, "alice", "alice@x.com", "Secret123")

	if res := fx.svc.UpdateWallet(ctx, "alice@x.com", domain.Wallets{"Eth": {}, "Tezos": {"address": "tz1"}}); res.Message != MsgSuccess {
		t.Fatalf("update wallet: %+v", res)
	}
	res := fx.svc.GetWallet(ctx, "alice@x.com", "Eth")
	if res.Message != MsgInvalidWallet || res.Data != nil {
		t.Fatalf("expected INVALID_WALLET for network without attributes, got %+v", res)
	}
	if res := fx.svc.GetWallet(ctx, "alice@x.com", "Tezos"); res.Message != MsgSuccess {
		t.Fatalf("expected Tezos entry, got %+v", res)
	}
}

func TestAccountServiceAvailabilityChecks(t *testing.T) {
	fx := newAccountServiceFixture(t, nil, nil)
	ctx := context.Background()
	fx.signup(t, "alice", "alice@x.com", "Secret123")

	cases := []struct {
		name string
		got  Result
		want string
	}{
		{"username taken", fx.svc.CheckUsername(ctx, "alice"), MsgUsernameExist},
		{"username free", fx.svc.CheckUsername(ctx, "bob"), MsgUsernameNotExist},
		{"email taken", fx.svc.CheckEmail(ctx, " ALICE@x.com "), MsgEmailExist},
		{"email free", fx.svc.CheckEmail(ctx, "bob@x.com"), MsgEmailNotExist},
		{"valid username", fx.svc.ValidateUsername("bob42"), MsgValidUsername},
		{"invalid username", fx.svc.ValidateUsername("bob-42"), MsgInvalidUsername},
	}
	for _, tc := range cases {
		if tc.got.Message != tc.want {
			t.Fatalf("%s: got %+v want %s", tc.name, tc.got, tc.want)
		}
	}
}

func TestAccountServiceValidateUsernameStatus(t *testing.T) {
	fx := newAccountServiceFixture(t, nil, nil)
	if res := fx.svc.ValidateUsername("bob42"); res.StatusCode != StatusOK || res.Message != MsgValidUsername {
		t.Fatalf("expected 200 VALID_USERNAME, got %+v", res)
	}
	for _, name := range []string{"bob-42", "", "averyveryverylongname"} {
		if res := fx.svc.ValidateUsername(name); res.StatusCode != StatusError || res.Message != MsgInvalidUsername {
			t.Fatalf("username %q: expected 500 INVALID_USERNAME, got %+v", name, res)
		}
	}
}

func TestAccountServiceStoreFailuresBecomeErrorOccured(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := repogomock.NewMockAccountRepository(ctrl)
	svc := NewAccountService(repo, fastHasher(), nil, nil, quietLogger())
	ctx := context.Background()
	unavailable := fmt.Errorf("%w: connection refused", repository.ErrStoreUnavailable)

	repo.EXPECT().ExistsByEmail(gomock.Any(), "alice@x.com").Return(false, nil)
	repo.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(unavailable)
	if res := svc.Signup(ctx, SignupInput{Username: "alice", Email: "alice@x.com", Password: "p"}); res.Message != MsgErrorOccured || res.StatusCode != StatusError {
		t.Fatalf("expected ERROR_OCCURED on insert failure, got %+v", res)
	}

	repo.EXPECT().FindActiveByUsername(gomock.Any(), "alice").Return(nil, unavailable)
	if res := svc.Login(ctx, LoginInput{Username: "alice", Password: "p"}); res.Message != MsgErrorOccured {
		t.Fatalf("expected ERROR_OCCURED on lookup failure, got %+v", res)
	}

	repo.EXPECT().FindActiveByEmail(gomock.Any(), "alice@x.com").Return(&domain.Account{Email: "alice@x.com", Status: domain.AccountStatusActive}, nil)
	repo.EXPECT().UpdateWallets(gomock.Any(), "alice@x.com", gomock.Any()).Return(unavailable)
	if res := svc.UpdateWallet(ctx, "alice@x.com", domain.Wallets{"Eth": {"address": "0x1"}}); res.Message != MsgErrorOccured {
		t.Fatalf("expected ERROR_OCCURED on wallet update failure, got %+v", res)
	}

	repo.EXPECT().FindActiveByEmail(gomock.Any(), "alice@x.com").Return(&domain.Account{Email: "alice@x.com", Status: domain.AccountStatusActive}, nil)
	repo.EXPECT().UpdateProfileFields(gomock.Any(), "alice@x.com", gomock.Any()).Return(repository.ErrNotFound)
	update := domain.ProfileUpdate{FullName: "A", Username: "alice", ProfessionType: "x", SupportType: "y"}
	if res := svc.UpdateProfile(ctx, "alice@x.com", update); res.Message != MsgUserNotExist {
		t.Fatalf("expected USER_NOT_EXIST when account vanished between lookup and update, got %+v", res)
	}
}

func TestAccountServiceMalformedStoredPassword(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := repogomock.NewMockAccountRepository(ctrl)
	svc := NewAccountService(repo, fastHasher(), nil, nil, quietLogger())

	repo.EXPECT().FindActiveByUsername(gomock.Any(), "alice").Return(&domain.Account{Email: "alice@x.com", PasswordHash: "no-separator"}, nil)
	res := svc.Login(context.Background(), LoginInput{Username: "alice", Password: "p"})
	if res.Message != MsgErrorOccured {
		t.Fatalf("expected ERROR_OCCURED for malformed record, got %+v", res)
	}
}

type fakeAvatarStorage struct {
	uploaded []string
	deleted  []string
	failWith error
}

func (f *fakeAvatarStorage) Upload(_ context.Context, ownerEmail string, file io.Reader, _ int64) (string, error) {
	if f.failWith != nil {
		return "", f.failWith
	}
	if _, err := io.Copy(io.Discard, file); err != nil {
		return "", err
	}
	key := fmt.Sprintf("%s%d.png", avatarNamespace(ownerEmail), len(f.uploaded))
	f.uploaded = append(f.uploaded, key)
	return key, nil
}

func (f *fakeAvatarStorage) Delete(_ context.Context, ownerEmail, objectKey string) error {
	if !ownsAvatarKey(ownerEmail, objectKey) {
		return ErrUnauthorizedAccess
	}
	f.deleted = append(f.deleted, objectKey)
	return nil
}

func (f *fakeAvatarStorage) URL(_ context.Context, objectKey string) (string, error) {
	return "https://minio.local/" + objectKey, nil
}

func (f *fakeAvatarStorage) Owns(ownerEmail, objectKey string) bool {
	return ownsAvatarKey(ownerEmail, objectKey)
}

func TestAccountServiceUploadAvatarReplacesPreviousObject(t *testing.T) {
	storage := &fakeAvatarStorage{}
	fx := newAccountServiceFixture(t, nil, storage)
	ctx := context.Background()
	fx.signup(t, "alice", "alice@x.com", "Secret123")

	first := fx.svc.UploadAvatar(ctx, "alice@x.com", bytes.NewReader([]byte("png")), 3)
	second := fx.svc.UploadAvatar(ctx, "alice@x.com", bytes.NewReader([]byte("png")), 3)
	if first.Message != MsgSuccess || second.Message != MsgSuccess {
		t.Fatalf("unexpected upload results %+v %+v", first, second)
	}
	if len(storage.deleted) != 1 || storage.deleted[0] != storage.uploaded[0] {
		t.Fatalf("expected first avatar to be deleted, uploaded=%v deleted=%v", storage.uploaded, storage.deleted)
	}
	acc, _ := fx.repo.FindActiveByEmail(ctx, "alice@x.com")
	if acc == nil || acc.Avatar != storage.uploaded[1] {
		t.Fatalf("expected account to point at newest avatar, got %+v", acc)
	}
	urlRes := fx.svc.AvatarURL(ctx, "alice")
	if urlRes.Message != MsgSuccess || urlRes.Data != "https://minio.local/"+storage.uploaded[1] {
		t.Fatalf("unexpected avatar url %+v", urlRes)
	}
}

func TestAccountServiceUploadAvatarRejectsBadImage(t *testing.T) {
	storage := &fakeAvatarStorage{failWith: ErrInvalidFileType}
	fx := newAccountServiceFixture(t, nil, storage)
	fx.signup(t, "alice", "alice@x.com", "Secret123")

	res := fx.svc.UploadAvatar(context.Background(), "alice@x.com", strings.NewReader("not an image"), 12)
	if res.Message != MsgAvatarRejected {
		t.Fatalf("expected INVALID_AVATAR, got %+v", res)
	}
}

func TestAccountServiceUploadAvatarWithoutStorage(t *testing.T) {
	fx := newAccountServiceFixture(t, nil, nil)
	res := fx.svc.UploadAvatar(context.Background(), "alice@x.com", strings.NewReader("x"), 1)
	if res.Message != MsgErrorOccured {
		t.Fatalf("expected ERROR_OCCURED without storage, got %+v", res)
	}
}

func TestAccountServiceAvatarURLOnlySignsStoredObjects(t *testing.T) {
	storage := &fakeAvatarStorage{}
	fx := newAccountServiceFixture(t, nil, storage)
	ctx := context.Background()
	fx.signup(t, "alice", "alice@x.com", "Secret123")

	if res := fx.svc.AvatarURL(ctx, "alice"); res.Message != MsgAvatarNotFound || res.Data != nil {
		t.Fatalf("expected AVATAR_NOT_FOUND without avatar, got %+v", res)
	}

	for _, avatar := range []string{"https://evil.example/phish", "//evil.example/phish", "avatars/../../evil", "avatars/https://evil.example"} {
		update := domain.ProfileUpdate{FullName: "Alice", Username: "alice", ProfessionType: "x", SupportType: "y", Avatar: avatar}
		if res := fx.svc.UpdateProfile(ctx, "alice@x.com", update); res.Message != MsgSuccess {
			t.Fatalf("update profile: %+v", res)
		}
		res := fx.svc.AvatarURL(ctx, "alice")
		if res.OK() || res.Data != nil {
			t.Fatalf("avatar %q: expected no download url, got %+v", avatar, res)
		}
	}
}

type failingURLAvatarStorage struct {
	fakeAvatarStorage
}

func (f *failingURLAvatarStorage) URL(context.Context, string) (string, error) {
	return "", ErrURLGenerationFailed
}

func TestAccountServiceAvatarURLSigningFailure(t *testing.T) {
	storage := &failingURLAvatarStorage{}
	fx := newAccountServiceFixture(t, nil, storage)
	ctx := context.Background()
	fx.signup(t, "alice", "alice@x.com", "Secret123")

	if res := fx.svc.UploadAvatar(ctx, "alice@x.com", bytes.NewReader([]byte("png")), 3); res.Message != MsgSuccess {
		t.Fatalf("upload: %+v", res)
	}
	res := fx.svc.AvatarURL(ctx, "alice")
	if res.StatusCode != StatusError || res.Message != MsgErrorOccured || res.Data != nil {
		t.Fatalf("expected ERROR_OCCURED when signing fails, got %+v", res)
	}
}
