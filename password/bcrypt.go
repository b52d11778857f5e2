package password

import (
	"context"
	"errors"
	"runtime"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MaxInputBytes is the longest secret bcrypt accepts.
	MaxInputBytes = 72

	defaultTimeout = 2 * time.Second
	dummySecret    = "authcore-timing-equalizer"
)

var (
	// ErrPasswordTooLong is returned by Hash for secrets above MaxInputBytes.
	ErrPasswordTooLong = errors.New("password exceeds 72 bytes")
	// ErrHasherBusy is returned when no worker slot frees up before the deadline.
	ErrHasherBusy = errors.New("password hasher busy")
)

// Config controls the bcrypt work factor and the worker pool.
type Config struct {
	Cost    int
	Workers int
	Timeout time.Duration
}

// Bcrypt hashes and verifies secrets on a bounded worker pool.
type Bcrypt struct {
	cost    int
	timeout time.Duration
	slots   chan struct{}
	dummy   []byte
}

// NewBcrypt validates cfg and precomputes the hash used by Dummy.
func NewBcrypt(cfg Config) (*Bcrypt, error) {
	if cfg.Cost < bcrypt.MinCost || cfg.Cost > bcrypt.MaxCost {
		return nil, errors.New("bcrypt cost out of range")
	}
	if cfg.Workers < 0 {
		return nil, errors.New("bcrypt workers must be >= 0")
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte(dummySecret), cfg.Cost)
	if err != nil {
		return nil, err
	}

	return &Bcrypt{
		cost:    cfg.Cost,
		timeout: cfg.Timeout,
		slots:   make(chan struct{}, cfg.Workers),
		dummy:   dummy,
	}, nil
}

// Hash returns a bcrypt hash of plain with a fresh salt.
func (b *Bcrypt) Hash(ctx context.Context, plain string) (string, error) {
	if len(plain) > MaxInputBytes {
		return "", ErrPasswordTooLong
	}

	var (
		out    []byte
		genErr error
	)
	if err := b.do(ctx, func() {
		out, genErr = bcrypt.GenerateFromPassword([]byte(plain), b.cost)
	}); err != nil {
		return "", err
	}
	if genErr != nil {
		return "", genErr
	}
	return string(out), nil
}

// Verify reports whether plain matches hash. Any failure, including a
// malformed hash or an expired deadline, reports false.
func (b *Bcrypt) Verify(ctx context.Context, plain, hash string) bool {
	if hash == "" {
		return false
	}

	var cmpErr error
	if err := b.do(ctx, func() {
		cmpErr = bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
	}); err != nil {
		return false
	}
	return cmpErr == nil
}

// Dummy spends one comparison worth of work and always reports nothing.
// Callers use it on rejection paths that never reach Verify.
func (b *Bcrypt) Dummy(ctx context.Context, plain string) {
	_ = b.do(ctx, func() {
		_ = bcrypt.CompareHashAndPassword(b.dummy, []byte(plain))
	})
}

// NeedsUpgrade reports whether hash was produced with a cost other than the configured one.
func (b *Bcrypt) NeedsUpgrade(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return false
	}
	return cost != b.cost
}

// Cost returns the configured work factor.
func (b *Bcrypt) Cost() int {
	return b.cost
}

func (b *Bcrypt) do(ctx context.Context, fn func()) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	select {
	case b.slots <- struct{}{}:
	case <-ctx.Done():
		return ErrHasherBusy
	}

	done := make(chan struct{})
	go func() {
		defer func() {
			<-b.slots
			close(done)
		}()
		fn()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
