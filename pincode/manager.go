// Package pincode enforces the mobile policy's PIN and screen-lock timeout
// for the current account.
package pincode

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/go-account-manager/accounts"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrPinTooShort = errors.New("pin shorter than policy requires")
	ErrNoPin       = errors.New("no pin set")
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Manager holds the hashed PIN, the policy it was set under and the
// last-activity time the screen-lock timeout is measured from.
type Manager struct {
	lock         sync.Mutex
	pinHash      []byte
	policy       *accounts.MobilePolicy
	lastActivity time.Time
}

func NewManager() *Manager {
	return &Manager{}
}

// SetPin hashes and stores pin under policy. A nil policy sets no length rule and no lock timeout.
func (m *Manager) SetPin(pin string, policy *accounts.MobilePolicy) error {
	if policy != nil && len(pin) < policy.PinLength {
		return fmt.Errorf("[pincode SetPin] %w: need %d", ErrPinTooShort, policy.PinLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("[pincode SetPin] hash: %w", err)
	}

	m.lock.Lock()
	defer m.lock.Unlock()
	m.pinHash = hash
	m.policy = policy.Clone()
	m.lastActivity = NowTimeFunc()
	return nil
}

// ValidatePin checks pin and restarts the inactivity timer on success.
func (m *Manager) ValidatePin(pin string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.pinHash == nil {
		return ErrNoPin
	}
	if err := bcrypt.CompareHashAndPassword(m.pinHash, []byte(pin)); err != nil {
		return fmt.Errorf("[pincode ValidatePin] %w", err)
	}
	m.lastActivity = NowTimeFunc()
	return nil
}

// HasPin reports whether a PIN is set.
func (m *Manager) HasPin() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.pinHash != nil
}

// ResetTimer restarts the inactivity timer.
func (m *Manager) ResetTimer() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.lastActivity = NowTimeFunc()
}

// IsLocked reports whether the screen-lock timeout has elapsed since the last activity.
func (m *Manager) IsLocked() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.pinHash == nil || m.policy == nil || m.policy.ScreenLockTimeout <= 0 {
		return false
	}
	timeout := time.Duration(m.policy.ScreenLockTimeout) * time.Minute
	return NowTimeFunc().Sub(m.lastActivity) >= timeout
}

// Wipe forgets the PIN, policy and timer.
func (m *Manager) Wipe() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.pinHash = nil
	m.policy = nil
	m.lastActivity = time.Time{}
}
