package domain

import (
	"time"
	"unicode"
)

type AccountStatus string

const (
	AccountStatusActive      AccountStatus = "ACTIVE"
	AccountStatusInactive    AccountStatus = "INACTIVE"
	AccountStatusDeactivated AccountStatus = "DEACTIVATED"
)

// MemberSinceLayout renders member_since as "2006-01-02 15:04:05 -0700".
const MemberSinceLayout = "2006-01-02 15:04:05 -0700"

const MaxUsernameLength = 10

// Wallets maps a network identifier (e.g. "Eth", "Tezos") to address attributes (address, memo, ...).
type Wallets map[string]map[string]string

type Account struct {
	Email            string            `bson:"email" json:"email"`
	Username         string            `bson:"username" json:"username"`
	PasswordHash     string            `bson:"password" json:"-"`
	Status           AccountStatus     `bson:"status" json:"status"`
	MemberSince      string            `bson:"member_since" json:"member_since"`
	EmailVerifyToken string            `bson:"email_verify_token" json:"-"`
	IsEmailVerified  bool              `bson:"is_email_verify" json:"is_email_verify"`
	FullName         string            `bson:"full_name,omitempty" json:"full_name,omitempty"`
	ProfessionType   string            `bson:"profession_type,omitempty" json:"profession_type,omitempty"`
	AboutMe          string            `bson:"about_me,omitempty" json:"about_me,omitempty"`
	SupportType      string            `bson:"support_type,omitempty" json:"support_type,omitempty"`
	OnlinePresence   map[string]string `bson:"online_presence,omitempty" json:"online_presence,omitempty"`
	Avatar           string            `bson:"avatar,omitempty" json:"avatar,omitempty"`
	Wallets          Wallets           `bson:"wallet,omitempty" json:"wallet,omitempty"`
}

func (a *Account) IsActive() bool {
	return a != nil && a.Status == AccountStatusActive
}

func (a *Account) PublicProfile() PublicProfile {
	return PublicProfile{
		FullName:       a.FullName,
		Username:       a.Username,
		ProfessionType: a.ProfessionType,
		AboutMe:        a.AboutMe,
		SupportType:    a.SupportType,
		OnlinePresence: a.OnlinePresence,
		Avatar:         a.Avatar,
		Wallets:        a.Wallets,
	}
}

// PublicProfile is the only account projection served to unauthenticated callers.
type PublicProfile struct {
	FullName       string            `json:"full_name"`
	Username       string            `json:"username"`
	ProfessionType string            `json:"profession_type"`
	AboutMe        string            `json:"about_me"`
	SupportType    string            `json:"support_type"`
	OnlinePresence map[string]string `json:"online_presence"`
	Avatar         string            `json:"avatar"`
	Wallets        Wallets           `json:"wallet"`
}

type ProfileUpdate struct {
	FullName       string            `json:"full_name"`
	Username       string            `json:"username"`
	ProfessionType string            `json:"profession_type"`
	AboutMe        string            `json:"about_me"`
	SupportType    string            `json:"support_type"`
	OnlinePresence map[string]string `json:"online_presence"`
	Avatar         string            `json:"avatar"`
}

func NewMemberSince(now time.Time) string {
	return now.Format(MemberSinceLayout)
}

// ValidUsername reports whether username is 1..10 letters or digits.
func ValidUsername(username string) bool {
	if username == "" {
		return false
	}
	n := 0
	for _, r := range username {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
		n++
	}
	return n <= MaxUsernameLength
}

// Valid reports whether every network entry has a non-blank key and a non-nil attribute map.
func (w Wallets) Valid() bool {
	for network, attrs := range w {
		if network == "" || attrs == nil {
			return false
		}
		for key := range attrs {
			if key == "" {
				return false
			}
		}
	}
	return true
}
