package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/99designs/keyring"

	"github.com/nhle/mailcache/internal/model"
)

const (
	serviceName = "mailcache"

	// keyPrefix scopes token entries inside the service so other items
	// stored under the same service are never enumerated as tokens.
	keyPrefix = "token."
)

var (
	// ErrStaleToken is returned by Store when the keyring already holds a
	// token for the same user with a strictly later expiration.
	ErrStaleToken = errors.New("token is older than the stored token")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("credential store is closed")
)

// OpenKeyring returns a configured keyring instance backed by the
// platform's secure storage.
func OpenKeyring(fileDir string) (keyring.Keyring, error) {
	if fileDir == "" {
		fileDir = "~/.config/mailcache/credentials"
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt("mailcache-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Store persists tokens keyed by user id. Every keyring call runs on a
// single goroutine; callers block until their call has completed.
type Store struct {
	ring  keyring.Keyring
	calls chan func()
	done  chan struct{}
	once  sync.Once
}

// NewStore starts the serial queue in front of ring. Close must be called
// to release it.
func NewStore(ring keyring.Keyring) *Store {
	s := &Store{
		ring:  ring,
		calls: make(chan func()),
		done:  make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *Store) loop() {
	for {
		select {
		case fn := <-s.calls:
			fn()
		case <-s.done:
			return
		}
	}
}

// Close stops the serial queue. Calls made after Close return ErrClosed.
func (s *Store) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// run executes fn on the serial queue and waits for it.
func (s *Store) run(fn func() error) error {
	errCh := make(chan error, 1)
	select {
	case s.calls <- func() { errCh <- fn() }:
	case <-s.done:
		return ErrClosed
	}
	return <-errCh
}

// Store upserts token for its user. A write never downgrades freshness:
// if the stored token expires strictly later, ErrStaleToken is returned
// and the keyring is left untouched.
func (s *Store) Store(token model.Token) error {
	if token.UserID == "" {
		return fmt.Errorf("storing token: empty user id")
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encoding token for user %s: %w", token.UserID, err)
	}

	return s.run(func() error {
		existing, err := s.get(token.UserID)
		if err != nil {
			return err
		}
		if existing != nil && existing.FresherThan(token) {
			return fmt.Errorf("storing token for user %s: %w", token.UserID, ErrStaleToken)
		}

		err = s.ring.Set(keyring.Item{
			Key:         keyFor(token.UserID),
			Data:        data,
			Label:       "mailcache token for " + token.UserID,
			Description: "mailcache API token",
		})
		if err != nil {
			return fmt.Errorf("setting token for user %s: %w", token.UserID, err)
		}
		return nil
	})
}

// Delete removes the token of userID. Deleting a missing token succeeds.
func (s *Store) Delete(userID string) error {
	return s.run(func() error {
		err := s.ring.Remove(keyFor(userID))
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("deleting token for user %s: %w", userID, err)
		}
		return nil
	})
}

// Load returns the token of userID, or nil when none is stored.
func (s *Store) Load(userID string) (*model.Token, error) {
	var token *model.Token
	err := s.run(func() error {
		var err error
		token, err = s.get(userID)
		return err
	})
	return token, err
}

// LoadAll returns every stored token ordered by user id. The order says
// nothing about recency.
func (s *Store) LoadAll() ([]model.Token, error) {
	var tokens []model.Token
	err := s.run(func() error {
		keys, err := s.ring.Keys()
		if err != nil {
			return fmt.Errorf("listing keyring keys: %w", err)
		}
		for _, key := range keys {
			userID, ok := strings.CutPrefix(key, keyPrefix)
			if !ok {
				continue
			}
			token, err := s.get(userID)
			if err != nil {
				return err
			}
			if token != nil {
				tokens = append(tokens, *token)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].UserID < tokens[j].UserID
	})
	return tokens, nil
}

// get reads and decodes one token. Must run on the serial queue.
func (s *Store) get(userID string) (*model.Token, error) {
	item, err := s.ring.Get(keyFor(userID))
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting token for user %s: %w", userID, err)
	}

	var token model.Token
	if err := json.Unmarshal(item.Data, &token); err != nil {
		return nil, fmt.Errorf("decoding token for user %s: %w", userID, err)
	}
	return &token, nil
}

func keyFor(userID string) string {
	return keyPrefix + userID
}

func isNotFound(err error) bool {
	return errors.Is(err, keyring.ErrKeyNotFound)
}
