package credential

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/fido-core/ctap-authenticator/pkg/store"
)

// ErrForeignCredential is returned by Recover when a CredentialID decrypts
// (under this device's wrapping key) to a Source whose rpId does not match
// the rp the caller asked for — it is not ours, or not for this rp.
var ErrForeignCredential = errors.New("credential: rpId mismatch on recovered source")

// Engine owns the process-wide wrapping key and monotonic signature counter
// (spec.md §3, §4.6). It is constructed once and passed explicitly to
// handlers, matching the single-threaded, no-global-state design note in
// spec.md §9 — there is exactly one Engine value per running authenticator.
type Engine struct {
	mu          sync.Mutex
	store       store.Store
	rnd         io.Reader
	log         *logrus.Logger
	wrappingKey [16]byte
	counter     uint32
}

// NewEngine loads the wrapping key and counter from st, generating and
// persisting fresh ones on first boot (spec.md §4.6).
func NewEngine(st store.Store, log *logrus.Logger) (*Engine, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	e := &Engine{store: st, rnd: rand.Reader, log: log}

	if err := e.loadOrInitWrappingKey(); err != nil {
		return nil, err
	}
	if err := e.loadOrInitCounter(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) loadOrInitWrappingKey() error {
	rec, ok := e.store.Find(store.WrappingKeyFileID, store.WrappingKeyKey)
	if ok {
		data, err := e.store.Read(rec)
		if err != nil {
			return fmt.Errorf("credential: read wrapping key: %w", err)
		}
		if len(data) != 16 {
			return fmt.Errorf("credential: stored wrapping key has %d bytes, want 16", len(data))
		}
		copy(e.wrappingKey[:], data)
		e.log.Debug("loaded wrapping key from store")
		return nil
	}

	if _, err := io.ReadFull(e.rnd, e.wrappingKey[:]); err != nil {
		return fmt.Errorf("credential: generate wrapping key: %w", err)
	}
	if err := e.store.Write(store.WrappingKeyFileID, store.WrappingKeyKey, e.wrappingKey[:]); err != nil {
		return fmt.Errorf("credential: persist wrapping key: %w", err)
	}
	e.log.Info("generated and persisted a new wrapping key")
	return nil
}

func (e *Engine) loadOrInitCounter() error {
	rec, ok := e.store.Find(store.CounterFileID, store.CounterKey)
	if ok {
		data, err := e.store.Read(rec)
		if err != nil {
			return fmt.Errorf("credential: read counter: %w", err)
		}
		if len(data) != 4 {
			return fmt.Errorf("credential: stored counter has %d bytes, want 4", len(data))
		}
		e.counter = binary.LittleEndian.Uint32(data)
		e.log.WithField("counter", e.counter).Debug("loaded signature counter from store")
		return nil
	}

	e.counter = 0
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, e.counter)
	if err := e.store.Write(store.CounterFileID, store.CounterKey, buf); err != nil {
		return fmt.Errorf("credential: persist initial counter: %w", err)
	}
	e.log.Info("initialized signature counter to 0")
	return nil
}

// Counter returns the current signature counter without mutating it.
func (e *Engine) Counter() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counter
}

// IncrementCounter advances and synchronously persists the signature
// counter, returning the new value. A crash between persist and the caller
// emitting its response is safe — spec.md §4.6 permits the counter to skip
// ahead of a completed assertion, never to repeat.
func (e *Engine) IncrementCounter() (uint32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.counter + 1
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, next)

	rec, ok := e.store.Find(store.CounterFileID, store.CounterKey)
	var err error
	if ok {
		err = e.store.Update(rec, buf)
	} else {
		err = e.store.Write(store.CounterFileID, store.CounterKey, buf)
	}
	if err != nil {
		return 0, fmt.Errorf("credential: persist counter: %w", err)
	}

	e.counter = next
	return e.counter, nil
}

// Seal creates a fresh CredentialID for src under the device's wrapping key.
func (e *Engine) Seal(src Source) (ID, error) {
	e.mu.Lock()
	key := e.wrappingKey
	e.mu.Unlock()
	return Seal(key, src, e.rnd)
}

// Recover unseals id and verifies its rpId matches rpID, returning
// ErrForeignCredential otherwise (spec.md §3, §8).
func (e *Engine) Recover(rpID string, id ID) (Source, error) {
	e.mu.Lock()
	key := e.wrappingKey
	e.mu.Unlock()

	src, err := Unseal(key, id)
	if err != nil {
		return Source{}, err
	}
	if src.RPID != rpID {
		return Source{}, ErrForeignCredential
	}
	return src, nil
}

// WrappingKey returns a copy of the device's wrapping key, for the CTAP1
// keyHandle scheme (§4.3) which seals with the same device secret under a
// different (AES-ECB) construction.
func (e *Engine) WrappingKey() [16]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wrappingKey
}
