package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestValidUsername(t *testing.T) {
	cases := map[string]bool{
		"alice":       true,
		"Alice2024":   true,
		"abcdefghij":  true,
		"abcdefghijk": false,
		"":            false,
		"al ice":      false,
		"al_ice":      false,
		"alice!":      false,
	}
	for name, want := range cases {
		if got := ValidUsername(name); got != want {
			t.Fatalf("ValidUsername(%q)=%v want %v", name, got, want)
		}
	}
}

func TestWalletsValid(t *testing.T) {
	if !(Wallets{"Eth": {"address": "0x1"}, "Tezos": {"address": "tz1", "memo": "m"}}).Valid() {
		t.Fatal("expected well-formed wallets to be valid")
	}
	if !(Wallets(nil)).Valid() {
		t.Fatal("expected nil wallets to be valid")
	}
	if (Wallets{"": {"address": "0x1"}}).Valid() {
		t.Fatal("expected blank network id to be invalid")
	}
	if (Wallets{"Eth": nil}).Valid() {
		t.Fatal("expected nil attribute map to be invalid")
	}
	if (Wallets{"Eth": {"": "0x1"}}).Valid() {
		t.Fatal("expected blank attribute key to be invalid")
	}
}

func TestPublicProfileOmitsSecrets(t *testing.T) {
	acc := &Account{
		Email:            "alice@x.com",
		Username:         "alice",
		PasswordHash:     "salt$hash",
		Status:           AccountStatusActive,
		EmailVerifyToken: "token",
		FullName:         "Alice",
		Wallets:          Wallets{"Eth": {"address": "0x1"}},
	}
	raw, err := json.Marshal(acc.PublicProfile())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := []string{"full_name", "username", "profession_type", "about_me", "support_type", "online_presence", "avatar", "wallet"}
	if len(fields) != len(want) {
		t.Fatalf("expected %d public fields, got %v", len(want), fields)
	}
	for _, k := range want {
		if _, ok := fields[k]; !ok {
			t.Fatalf("missing public field %q in %v", k, fields)
		}
	}
}

func TestNewMemberSince(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	got := NewMemberSince(time.Date(2022, 3, 4, 5, 6, 7, 0, loc))
	if got != "2022-03-04 05:06:07 +0530" {
		t.Fatalf("unexpected member_since %q", got)
	}
}
