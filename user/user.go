package user

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-zoox/crypto/hmac"
)

// MaxClockSkew bounds how old or early an authenticate timestamp may be.
const MaxClockSkew = 5 * time.Minute

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrExpiredTimestamp = errors.New("timestamp out of range")
)

// Credential is a relay client account as written in config files.
type Credential struct {
	ClientID     string `config:"client_id" json:"client_id"`
	ClientSecret string `config:"client_secret" json:"client_secret"`
}

type User interface {
	GetClientID() string
	// Relay
	Authenticate(timestamp, nonce, signature string) error
	// Client
	Sign(timestamp, nonce string) (string, error)
}

type user struct {
	ClientID     string
	ClientSecret string
	now          func() time.Time
}

func New(clientID, clientSecret string) User {
	return &user{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		now:          time.Now,
	}
}

func (u *user) GetClientID() string {
	return u.ClientID
}

// Authenticate verifies the signature and that timestamp (unix ms) is recent.
func (u *user) Authenticate(timestamp, nonce, signature string) error {
	ms, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrExpiredTimestamp, timestamp)
	}

	skew := u.now().Sub(time.UnixMilli(ms))
	if skew > MaxClockSkew || skew < -MaxClockSkew {
		return fmt.Errorf("%w: %s", ErrExpiredTimestamp, skew)
	}

	ok, err := u.Verify(timestamp, nonce, signature)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidSignature
	}
	return nil
}

func (u *user) Sign(timestamp, nonce string) (signature string, err error) {
	defer func() {
		if errx := recover(); errx != nil {
			switch v := errx.(type) {
			case error:
				err = v
			case string:
				err = errors.New(v)
			default:
				err = fmt.Errorf("%v", v)
			}
		}
	}()

	return hmac.Sha256(fmt.Sprintf("%s_%s_%s", u.ClientID, timestamp, nonce), u.ClientSecret, "hex"), nil
}

func (u *user) Verify(timestamp, nonce, signature string) (bool, error) {
	if ns, err := u.Sign(timestamp, nonce); err != nil {
		return false, err
	} else {
		return ns == signature, nil
	}
}
