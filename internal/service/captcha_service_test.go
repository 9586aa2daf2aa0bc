package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appErrors "github.com/dormtrack/roomcheck-api/pkg/errors"
)

type memoryCaptchaStore struct {
	values map[string]string
}

func (m *memoryCaptchaStore) SetString(_ context.Context, key, value string, _ time.Duration) error {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[key] = value
	return nil
}

func (m *memoryCaptchaStore) TakeString(_ context.Context, key string) (string, error) {
	value, ok := m.values[key]
	if !ok {
		return "", appErrors.ErrCacheMiss
	}
	delete(m.values, key)
	return value, nil
}

func TestCaptchaRoundTrip(t *testing.T) {
	store := &memoryCaptchaStore{}
	svc := NewCaptchaService(store, time.Minute, 4, zap.NewNop())

	captcha, err := svc.New(context.Background())
	require.NoError(t, err)
	assert.Len(t, captcha.Code, 4)
	for _, r := range captcha.Code {
		assert.Contains(t, captchaCharset, string(r))
	}

	require.NoError(t, svc.Verify(context.Background(), captcha.ID, strings.ToLower(captcha.Code)))
}

func TestCaptchaIsSingleUse(t *testing.T) {
	store := &memoryCaptchaStore{}
	svc := NewCaptchaService(store, time.Minute, 4, zap.NewNop())

	captcha, err := svc.New(context.Background())
	require.NoError(t, err)

	require.NoError(t, svc.Verify(context.Background(), captcha.ID, captcha.Code))
	err = svc.Verify(context.Background(), captcha.ID, captcha.Code)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCaptcha.Code, appErrors.FromError(err).Code)
}

func TestCaptchaWrongAnswerConsumesChallenge(t *testing.T) {
	store := &memoryCaptchaStore{}
	svc := NewCaptchaService(store, time.Minute, 4, zap.NewNop())

	captcha, err := svc.New(context.Background())
	require.NoError(t, err)

	require.Error(t, svc.Verify(context.Background(), captcha.ID, "0000"))
	assert.Empty(t, store.values)
}
