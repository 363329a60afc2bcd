package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/securecookie"
	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"
	"gopkg.in/yaml.v3"
)

const (
	seedSize = 32

	// securecookie wants a 32 or 64 byte hash key and a 16, 24 or 32 byte
	// AES key.
	hashKeySize  = 32
	blockKeySize = 32

	DefaultMintDuration = 180 * 24 * time.Hour
	DefaultHonorOffset  = 30 * 24 * time.Hour
)

// Validity is when a key may seal new tokens (mint) and until when tokens
// it sealed are still accepted (honor).
type Validity struct {
	MintFrom   time.Time `yaml:"mint_from"`
	MintUntil  time.Time `yaml:"mint_until"`
	HonorUntil time.Time `yaml:"honor_until"`
}

func (v Validity) mintable(now time.Time) bool {
	return now.After(v.MintFrom) && now.Before(v.MintUntil)
}

func (v Validity) honorable(now time.Time) bool {
	return now.After(v.MintFrom) && now.Before(v.HonorUntil)
}

// Status is how a key stands at now.
func (v Validity) Status(now time.Time) string {
	if now.Before(v.MintFrom) {
		return "not yet active"
	}
	if now.After(v.HonorUntil) {
		return "expired"
	}
	if now.After(v.MintUntil) {
		// it's an older code, but it checks out
		return "obsolete"
	}
	return "active"
}

type Key struct {
	Seed64   string   `yaml:"seed"`
	Validity Validity `yaml:",inline"`
}

// codec derives the securecookie keys from the seed.
func (k Key) codec() (*securecookie.SecureCookie, error) {
	seed, err := base64.StdEncoding.DecodeString(k.Seed64)
	if err != nil {
		return nil, fmt.Errorf("bad seed: %w", err)
	}
	if len(seed) < 16 {
		return nil, fmt.Errorf("seed too short (%d bytes)", len(seed))
	}
	hashKey := make([]byte, hashKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, seed, nil, []byte("hearth session hash")), hashKey); err != nil {
		return nil, err
	}
	blockKey := make([]byte, blockKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, seed, nil, []byte("hearth session block")), blockKey); err != nil {
		return nil, err
	}
	sc := securecookie.New(hashKey, blockKey)
	// Validity windows decide expiry, not the cookie timestamp.
	sc.MaxAge(0)
	return sc, nil
}

// KeyRing is the set of keys that seal the saved session, kept in a yaml
// file next to it.
type KeyRing struct {
	Keys []Key `yaml:"keys"`
}

// LoadKeyRing reads path.  A missing file is an empty ring.
func LoadKeyRing(path string) (*KeyRing, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &KeyRing{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("can't read key ring: %w", err)
	}
	kr := &KeyRing{}
	if err := yaml.Unmarshal(data, kr); err != nil {
		return nil, fmt.Errorf("can't parse key ring %s: %w", path, err)
	}
	return kr, nil
}

func (kr *KeyRing) Save(path string) error {
	data, err := yaml.Marshal(kr)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("can't create key ring directory: %w", err)
	}
	return writeFileAtomic(path, data)
}

// Rotate drops expired keys and adds a fresh one whose mint window starts
// startOffset after now.
func (kr *KeyRing) Rotate(now time.Time, startOffset, mintDuration, honorOffset time.Duration) (Key, error) {
	valid := []Key{}
	for _, k := range kr.Keys {
		if now.Before(k.Validity.HonorUntil) {
			valid = append(valid, k)
		}
	}

	seed := make([]byte, seedSize)
	if _, err := rand.Read(seed); err != nil {
		return Key{}, fmt.Errorf("generating seed: %w", err)
	}
	// A key minted "now" must already be usable now.
	mintFrom := now.Add(startOffset).Add(-time.Second)
	mintUntil := mintFrom.Add(mintDuration)
	k := Key{
		Seed64: base64.StdEncoding.EncodeToString(seed),
		Validity: Validity{
			MintFrom:   mintFrom,
			MintUntil:  mintUntil,
			HonorUntil: mintUntil.Add(honorOffset),
		},
	}
	kr.Keys = append(valid, k)
	return k, nil
}

// minter is the mintable key honored longest.
func (kr *KeyRing) minter(now time.Time) (*securecookie.SecureCookie, error) {
	var best *Key
	for i := range kr.Keys {
		k := &kr.Keys[i]
		if !k.Validity.mintable(now) {
			continue
		}
		if best == nil || best.Validity.HonorUntil.Before(k.Validity.HonorUntil) {
			best = k
		}
	}
	if best == nil {
		return nil, errors.New("no valid key for minting")
	}
	return best.codec()
}

func (kr *KeyRing) honored(now time.Time) []*securecookie.SecureCookie {
	var out []*securecookie.SecureCookie
	for i, k := range kr.Keys {
		if !k.Validity.honorable(now) {
			continue
		}
		sc, err := k.codec()
		if err != nil {
			zap.S().Warnf("session: disregarding key %d: %v", i, err)
			continue
		}
		out = append(out, sc)
	}
	return out
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
