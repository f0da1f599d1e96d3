package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/sandeepkv93/bmc-account-service/internal/domain"
)

const gormStoreName = "sql"

// AccountRecord is the relational row for an account. Maps are stored as JSON text.
type AccountRecord struct {
	ID               uint              `gorm:"primaryKey"`
	Email            string            `gorm:"uniqueIndex;size:255;not null"`
	Username         string            `gorm:"uniqueIndex;size:64;not null"`
	Password         string            `gorm:"size:255;not null"`
	Status           string            `gorm:"size:32;not null;index:idx_accounts_status"`
	MemberSince      string            `gorm:"size:64"`
	EmailVerifyToken string            `gorm:"size:128"`
	IsEmailVerify    bool              `gorm:"not null;default:false"`
	FullName         string            `gorm:"size:255"`
	ProfessionType   string            `gorm:"size:255"`
	AboutMe          string            `gorm:"type:text"`
	SupportType      string            `gorm:"size:255"`
	OnlinePresence   map[string]string `gorm:"serializer:json;type:text"`
	Avatar           string            `gorm:"size:1024"`
	Wallet           domain.Wallets    `gorm:"serializer:json;type:text"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (AccountRecord) TableName() string { return "accounts" }

type GormAccountRepository struct{ db *gorm.DB }

func NewGormAccountRepository(db *gorm.DB) *GormAccountRepository {
	return &GormAccountRepository{db: db}
}

func (r *GormAccountRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, "exists_by_username", "username = ?", username)
}

func (r *GormAccountRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, "exists_by_email", "email = ?", email)
}

func (r *GormAccountRepository) exists(ctx context.Context, op, query string, arg string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&AccountRecord{}).Where(query, arg).Count(&n).Error
	err = translateGormError(err)
	recordOperation(ctx, gormStoreName, op, err)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *GormAccountRepository) FindActiveByUsername(ctx context.Context, username string) (*domain.Account, error) {
	return r.findActive(ctx, "find_active_by_username", "username = ?", username)
}

func (r *GormAccountRepository) FindActiveByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.findActive(ctx, "find_active_by_email", "email = ?", email)
}

func (r *GormAccountRepository) findActive(ctx context.Context, op, query string, arg string) (*domain.Account, error) {
	var rec AccountRecord
	err := r.db.WithContext(ctx).
		Where(query, arg).
		Where("status = ?", string(domain.AccountStatusActive)).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		recordOperation(ctx, gormStoreName, op, nil)
		return nil, nil
	}
	err = translateGormError(err)
	recordOperation(ctx, gormStoreName, op, err)
	if err != nil {
		return nil, err
	}
	return rec.toDomain(), nil
}

func (r *GormAccountRepository) Insert(ctx context.Context, account *domain.Account) error {
	rec := recordFromDomain(account)
	err := translateGormError(r.db.WithContext(ctx).Create(rec).Error)
	recordOperation(ctx, gormStoreName, "insert", err)
	return err
}

func (r *GormAccountRepository) UpdateProfileFields(ctx context.Context, email string, update domain.ProfileUpdate) error {
	err := r.updateActive(ctx, email, AccountRecord{
		FullName:       update.FullName,
		Username:       update.Username,
		ProfessionType: update.ProfessionType,
		AboutMe:        update.AboutMe,
		SupportType:    update.SupportType,
		OnlinePresence: update.OnlinePresence,
		Avatar:         update.Avatar,
	}, "full_name", "username", "profession_type", "about_me", "support_type", "online_presence", "avatar")
	recordOperation(ctx, gormStoreName, "update_profile", err)
	return err
}

func (r *GormAccountRepository) UpdateWallets(ctx context.Context, email string, wallets domain.Wallets) error {
	err := r.updateActive(ctx, email, AccountRecord{Wallet: wallets}, "wallet")
	recordOperation(ctx, gormStoreName, "update_wallets", err)
	return err
}

func (r *GormAccountRepository) UpdateAvatar(ctx context.Context, email, avatar string) error {
	err := r.updateActive(ctx, email, AccountRecord{Avatar: avatar}, "avatar")
	recordOperation(ctx, gormStoreName, "update_avatar", err)
	return err
}

func (r *GormAccountRepository) updateActive(ctx context.Context, email string, values AccountRecord, columns ...string) error {
	res := r.db.WithContext(ctx).
		Model(&AccountRecord{}).
		Where("email = ? AND status = ?", email, string(domain.AccountStatusActive)).
		Select(columns).
		Updates(values)
	if err := translateGormError(res.Error); err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func translateGormError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

func recordFromDomain(a *domain.Account) *AccountRecord {
	return &AccountRecord{
		Email:            a.Email,
		Username:         a.Username,
		Password:         a.PasswordHash,
		Status:           string(a.Status),
		MemberSince:      a.MemberSince,
		EmailVerifyToken: a.EmailVerifyToken,
		IsEmailVerify:    a.IsEmailVerified,
		FullName:         a.FullName,
		ProfessionType:   a.ProfessionType,
		AboutMe:          a.AboutMe,
		SupportType:      a.SupportType,
		OnlinePresence:   a.OnlinePresence,
		Avatar:           a.Avatar,
		Wallet:           a.Wallets,
	}
}

func (rec *AccountRecord) toDomain() *domain.Account {
	return &domain.Account{
		Email:            rec.Email,
		Username:         rec.Username,
		PasswordHash:     rec.Password,
		Status:           domain.AccountStatus(rec.Status),
		MemberSince:      rec.MemberSince,
		EmailVerifyToken: rec.EmailVerifyToken,
		IsEmailVerified:  rec.IsEmailVerify,
		FullName:         rec.FullName,
		ProfessionType:   rec.ProfessionType,
		AboutMe:          rec.AboutMe,
		SupportType:      rec.SupportType,
		OnlinePresence:   rec.OnlinePresence,
		Avatar:           rec.Avatar,
		Wallets:          rec.Wallet,
	}
}
