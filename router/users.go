package router

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/ugorji/go/codec"
	"go.etcd.io/bbolt"
	"golang.org/x/crypto/bcrypt"
)

const USERS = "Users"

var jsonHandle codec.JsonHandle

type User struct {
	UserID         uuid.UUID `codec:"user_id"`
	Username       string    `codec:"username"`
	HashedPassword []byte    `codec:"hashed_password"`
	Created        int64     `codec:"created"`
}

// UserStore keeps relay accounts in a bbolt file, keyed by username.
type UserStore struct {
	db *bbolt.DB
}

func NewUserStore(path string) (*UserStore, error) {
	bdb, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open user store %s: %w", path, err)
	}
	if err := bdb.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(USERS))
		return err
	}); err != nil {
		bdb.Close()
		return nil, fmt.Errorf("create %s bucket: %w", USERS, err)
	}
	return &UserStore{db: bdb}, nil
}

func (s *UserStore) Close() error { return s.db.Close() }

// ValidateUsername rejects names that cannot take part in a room key.
// Underscores are reserved as the room key separator.
func ValidateUsername(name string) error {
	if name == "" || len(name) > 64 || strings.Contains(name, "_") {
		return InvalidUsernameError{name}
	}
	for _, r := range name {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return InvalidUsernameError{name}
		}
	}
	return nil
}

// CreateUser hashes password and stores a new account. The check for an
// existing name and the insert share one transaction.
func (s *UserStore) CreateUser(username, password string) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &User{
		UserID:         uuid.New(),
		Username:       username,
		HashedPassword: hashed,
		Created:        time.Now().UnixMilli(),
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(USERS))
		if b.Get([]byte(username)) != nil {
			return UsernameTakenError{username}
		}
		var data []byte
		if err := codec.NewEncoderBytes(&data, &jsonHandle).Encode(user); err != nil {
			return fmt.Errorf("encode user: %w", err)
		}
		return b.Put([]byte(username), data)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *UserStore) GetUser(username string) (*User, error) {
	var user *User
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(USERS)).Get([]byte(username))
		if data == nil {
			return UserNotFoundError{username}
		}
		user = &User{}
		if err := codec.NewDecoderBytes(data, &jsonHandle).Decode(user); err != nil {
			return fmt.Errorf("decode user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate returns the account when password matches. Unknown users and
// wrong passwords are the same error.
func (s *UserStore) Authenticate(username, password string) (*User, error) {
	user, err := s.GetUser(username)
	if err != nil {
		if _, ok := err.(UserNotFoundError); ok {
			return nil, InvalidCredentialsError{}
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword(user.HashedPassword, []byte(password)); err != nil {
		return nil, InvalidCredentialsError{}
	}
	return user, nil
}
