package user

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestSignAndAuthenticate(t *testing.T) {
	u := New("id_04aba01", "29f4e3d3a4302b4d9e01")

	timestamp := fmt.Sprintf("%d", time.Now().UnixMilli())
	signature, err := u.Sign(timestamp, "123456")
	if err != nil {
		t.Fatalf("failed to sign %s", err)
	}

	if len(signature) != 64 {
		t.Fatalf("signature length not match, expect 64, but got %d", len(signature))
	}

	if err := u.Authenticate(timestamp, "123456", signature); err != nil {
		t.Fatalf("failed to authenticate %s", err)
	}

	if err := u.Authenticate(timestamp, "654321", signature); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expect %v, but got %v", ErrInvalidSignature, err)
	}
}

func TestAuthenticateRejectsStaleTimestamp(t *testing.T) {
	u := New("id_04aba01", "29f4e3d3a4302b4d9e01")

	timestamp := fmt.Sprintf("%d", time.Now().Add(-10*time.Minute).UnixMilli())
	signature, _ := u.Sign(timestamp, "123456")

	if err := u.Authenticate(timestamp, "123456", signature); !errors.Is(err, ErrExpiredTimestamp) {
		t.Fatalf("expect %v, but got %v", ErrExpiredTimestamp, err)
	}

	if err := u.Authenticate("yesterday", "123456", signature); !errors.Is(err, ErrExpiredTimestamp) {
		t.Fatalf("expect %v, but got %v", ErrExpiredTimestamp, err)
	}
}
