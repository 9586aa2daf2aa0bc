package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/dormtrack/roomcheck-api/pkg/errors"
)

type captchaStore interface {
	SetString(ctx context.Context, key, value string, ttl time.Duration) error
	TakeString(ctx context.Context, key string) (string, error)
}

// captchaCharset avoids visually ambiguous characters (0/O, 1/I/l).
const captchaCharset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// Captcha is the issued challenge. The code travels to the front end which
// renders it; the server only checks answers.
type Captcha struct {
	ID        string    `json:"captcha_id"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CaptchaService issues and verifies single-use challenge codes backed by
// the Redis store.
type CaptchaService struct {
	store  captchaStore
	ttl    time.Duration
	length int
	logger *zap.Logger
}

// NewCaptchaService constructs CaptchaService.
func NewCaptchaService(store captchaStore, ttl time.Duration, length int, logger *zap.Logger) *CaptchaService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if length <= 0 {
		length = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CaptchaService{store: store, ttl: ttl, length: length, logger: logger}
}

// New issues a fresh challenge.
func (s *CaptchaService) New(ctx context.Context) (*Captcha, error) {
	code, err := randomCode(s.length)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate captcha")
	}
	id := uuid.NewString()
	if err := s.store.SetString(ctx, captchaKey(id), code, s.ttl); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store captcha")
	}
	return &Captcha{ID: id, Code: code, ExpiresAt: time.Now().Add(s.ttl)}, nil
}

// Verify checks an answer. The stored code is consumed regardless of outcome,
// so a challenge cannot be brute-forced by retrying.
func (s *CaptchaService) Verify(ctx context.Context, id, answer string) error {
	if id == "" || answer == "" {
		return appErrors.Clone(appErrors.ErrCaptcha, "")
	}
	stored, err := s.store.TakeString(ctx, captchaKey(id))
	if err != nil {
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return appErrors.Clone(appErrors.ErrCaptcha, "captcha expired or unknown")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify captcha")
	}
	if !strings.EqualFold(stored, answer) {
		return appErrors.Clone(appErrors.ErrCaptcha, "")
	}
	return nil
}

func captchaKey(id string) string {
	return fmt.Sprintf("captcha:%s", id)
}

func randomCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	code := make([]byte, length)
	for i, b := range buf {
		code[i] = captchaCharset[int(b)%len(captchaCharset)]
	}
	return string(code), nil
}
