package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ts4z/hearth/ts"
)

const sealName = "hearth-session"

// ErrNoSession means there is no saved token.
var ErrNoSession = errors.New("no saved session")

type sealed struct {
	Token   string
	SavedAt time.Time
}

// TokenJar keeps the session token in a file, sealed with the key ring so
// the file alone is useless if copied elsewhere without keys.yaml.
type TokenJar struct {
	lock     sync.Mutex
	path     string
	ringPath string
	clock    *ts.Clock
}

func NewTokenJar(path, ringPath string, clock *ts.Clock) *TokenJar {
	return &TokenJar{path: path, ringPath: ringPath, clock: clock}
}

// ring loads the key ring, creating a first key if there is none that can
// mint.
func (j *TokenJar) ring(now time.Time) (*KeyRing, error) {
	kr, err := LoadKeyRing(j.ringPath)
	if err != nil {
		return nil, err
	}
	if _, err := kr.minter(now); err == nil {
		return kr, nil
	}
	if _, err := kr.Rotate(now, 0, DefaultMintDuration, DefaultHonorOffset); err != nil {
		return nil, err
	}
	if err := kr.Save(j.ringPath); err != nil {
		return nil, err
	}
	zap.S().Infof("session: created key ring %s", j.ringPath)
	return kr, nil
}

func (j *TokenJar) Save(token string) error {
	j.lock.Lock()
	defer j.lock.Unlock()

	now := j.clock.Precise()
	kr, err := j.ring(now)
	if err != nil {
		return fmt.Errorf("can't save session: %w", err)
	}
	sc, err := kr.minter(now)
	if err != nil {
		return fmt.Errorf("can't save session: %w", err)
	}
	encoded, err := sc.Encode(sealName, &sealed{Token: token, SavedAt: now})
	if err != nil {
		return fmt.Errorf("can't seal session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(j.path), 0o700); err != nil {
		return fmt.Errorf("can't create session directory: %w", err)
	}
	return writeFileAtomic(j.path, []byte(encoded+"\n"))
}

// Load returns the saved token, or ErrNoSession.
func (j *TokenJar) Load() (string, error) {
	j.lock.Lock()
	defer j.lock.Unlock()

	data, err := os.ReadFile(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoSession
	}
	if err != nil {
		return "", fmt.Errorf("can't read session: %w", err)
	}
	kr, err := LoadKeyRing(j.ringPath)
	if err != nil {
		return "", err
	}

	value := strings.TrimSpace(string(data))
	codecs := kr.honored(j.clock.Precise())
	if len(codecs) == 0 {
		return "", fmt.Errorf("%w: no valid keys to open it", ErrNoSession)
	}
	var errs []error
	for _, sc := range codecs {
		s := &sealed{}
		if err := sc.Decode(sealName, value, s); err == nil {
			return s.Token, nil
		} else {
			errs = append(errs, err)
		}
	}
	return "", fmt.Errorf("%w: can't open it (%d keys): %w", ErrNoSession, len(errs), errs[0])
}

// Clear forgets the saved token.  The key ring stays.
func (j *TokenJar) Clear() error {
	j.lock.Lock()
	defer j.lock.Unlock()
	if err := os.Remove(j.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("can't clear session: %w", err)
	}
	return nil
}

// MemJar keeps the token in memory.  A daemon that shouldn't touch the
// user's session file uses one; so do tests.
type MemJar struct {
	lock  sync.Mutex
	token string
}

func (j *MemJar) Save(token string) error {
	j.lock.Lock()
	defer j.lock.Unlock()
	j.token = token
	return nil
}

func (j *MemJar) Load() (string, error) {
	j.lock.Lock()
	defer j.lock.Unlock()
	if j.token == "" {
		return "", ErrNoSession
	}
	return j.token, nil
}

func (j *MemJar) Clear() error {
	j.lock.Lock()
	defer j.lock.Unlock()
	j.token = ""
	return nil
}
