// Package captcha gates link requests behind a one-time text challenge.
// The store flag is authoritative; the in-process set only caches
// positive answers.
package captcha

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

const (
	alphabet     = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 5
	challengeTTL = 5 * time.Minute
	maxAttempts  = 3
)

var (
	ErrNoChallenge = errors.New("no active challenge")
	ErrWrongAnswer = errors.New("wrong answer")
	// ErrTooManyAttempts drops the challenge; a new one must be requested
	ErrTooManyAttempts = errors.New("too many attempts")
)

type Store interface {
	CaptchaPassed(ctx context.Context, userId int64) (bool, error)
	SetUserCaptcha(ctx context.Context, userId int64, passed bool) error
}

type challenge struct {
	code     string
	expires  time.Time
	attempts int
}

type Gate struct {
	store Store
	now   func() time.Time

	mu         sync.RWMutex
	passed     map[int64]struct{}
	challenges map[int64]*challenge
}

func New(store Store) *Gate {
	return &Gate{
		store:      store,
		now:        time.Now,
		passed:     make(map[int64]struct{}),
		challenges: make(map[int64]*challenge),
	}
}

// Passed consults the cache first and fills it on a positive store read
func (g *Gate) Passed(ctx context.Context, userId int64) (bool, error) {
	g.mu.RLock()
	_, ok := g.passed[userId]
	g.mu.RUnlock()
	if ok {
		return true, nil
	}

	passed, err := g.store.CaptchaPassed(ctx, userId)
	if err != nil {
		return false, fmt.Errorf("captcha flag: %w", err)
	}
	if passed {
		g.mu.Lock()
		g.passed[userId] = struct{}{}
		g.mu.Unlock()
	}
	return passed, nil
}

// MarkPassed writes the store before the cache, so a failed write never
// leaves a cached pass behind
func (g *Gate) MarkPassed(ctx context.Context, userId int64) error {
	if err := g.store.SetUserCaptcha(ctx, userId, true); err != nil {
		return fmt.Errorf("saving captcha flag: %w", err)
	}
	g.mu.Lock()
	g.passed[userId] = struct{}{}
	delete(g.challenges, userId)
	g.mu.Unlock()
	return nil
}

// Reset forces the user through the challenge again. The cache is evicted
// after the store write so a concurrent Passed cannot cache the old flag.
func (g *Gate) Reset(ctx context.Context, userId int64) error {
	if err := g.store.SetUserCaptcha(ctx, userId, false); err != nil {
		return fmt.Errorf("clearing captcha flag: %w", err)
	}
	g.mu.Lock()
	delete(g.passed, userId)
	g.mu.Unlock()
	return nil
}

// Challenge issues a fresh code for the user, replacing any previous one
func (g *Gate) Challenge(userId int64) (string, error) {
	b := make([]byte, codeLength)
	limit := big.NewInt(int64(len(alphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("reading random: %w", err)
		}
		b[i] = alphabet[n.Int64()]
	}
	code := string(b)

	g.mu.Lock()
	g.challenges[userId] = &challenge{code: code, expires: g.now().Add(challengeTTL)}
	g.mu.Unlock()
	return code, nil
}

// HasChallenge reports whether an unexpired challenge awaits an answer
func (g *Gate) HasChallenge(userId int64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.challenges[userId]
	return ok && g.now().Before(c.expires)
}

// Verify checks an answer; the comparison ignores case and surrounding space
func (g *Gate) Verify(ctx context.Context, userId int64, answer string) error {
	g.mu.Lock()
	c, ok := g.challenges[userId]
	if !ok || !g.now().Before(c.expires) {
		delete(g.challenges, userId)
		g.mu.Unlock()
		return ErrNoChallenge
	}
	if !strings.EqualFold(strings.TrimSpace(answer), c.code) {
		c.attempts++
		if c.attempts >= maxAttempts {
			delete(g.challenges, userId)
			g.mu.Unlock()
			return ErrTooManyAttempts
		}
		g.mu.Unlock()
		return ErrWrongAnswer
	}
	g.mu.Unlock()
	return g.MarkPassed(ctx, userId)
}
