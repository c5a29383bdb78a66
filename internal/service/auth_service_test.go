package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illustra-ai/illustra/internal/models"
)

type fakeAuthUserStore struct {
	byEmail map[string]*models.User
	byID    map[string]*models.User
	nextID  int
}

func (f *fakeAuthUserStore) FindByID(_ context.Context, id string) (*models.User, error) {
	return f.byID[id], nil
}

func (f *fakeAuthUserStore) FindByEmail(_ context.Context, email string) (*models.User, error) {
	return f.byEmail[email], nil
}

func (f *fakeAuthUserStore) Create(_ context.Context, email string, credits int) (*models.User, error) {
	f.nextID++
	u := &models.User{ID: "u_" + email, Email: email, RemainingCredits: credits}
	f.byEmail[email] = u
	f.byID[u.ID] = u
	return u, nil
}

type fakeAuthCodeStore struct {
	pending *models.AuthCode
	nextID  int64
}

func (f *fakeAuthCodeStore) Create(_ context.Context, email string) (*models.AuthCode, error) {
	if f.pending != nil && f.pending.Email == email {
		now := time.Now()
		f.pending.UsedAt = &now
	}
	f.nextID++
	f.pending = &models.AuthCode{
		ID:        f.nextID,
		Email:     email,
		Code:      "123456",
		ExpiresAt: time.Now().Add(15 * time.Minute),
	}
	return f.pending, nil
}

func (f *fakeAuthCodeStore) FindValid(_ context.Context, email string) (*models.AuthCode, error) {
	if f.pending == nil || f.pending.Email != email || f.pending.UsedAt != nil || time.Now().After(f.pending.ExpiresAt) {
		return nil, nil
	}
	return f.pending, nil
}

func (f *fakeAuthCodeStore) IncrementAttempts(_ context.Context, id int64) (int, error) {
	f.pending.Attempts++
	return f.pending.Attempts, nil
}

func (f *fakeAuthCodeStore) MarkUsed(_ context.Context, id int64) error {
	now := time.Now()
	f.pending.UsedAt = &now
	return nil
}

func (f *fakeAuthCodeStore) DeleteExpired(_ context.Context) (int64, error) {
	if f.pending != nil && time.Now().After(f.pending.ExpiresAt) {
		f.pending = nil
		return 1, nil
	}
	return 0, nil
}

type fakeSessionStore struct {
	sessions map[string]*models.Session
	counter  int
}

func (f *fakeSessionStore) Create(_ context.Context, userID string, ttl time.Duration) (*models.Session, error) {
	f.counter++
	sess := &models.Session{
		Token:     "tok_" + userID + "_" + string(rune('a'+f.counter)),
		UserID:    userID,
		ExpiresAt: time.Now().Add(ttl),
	}
	f.sessions[sess.Token] = sess
	return sess, nil
}

func (f *fakeSessionStore) FindByToken(_ context.Context, token string) (*models.Session, error) {
	sess := f.sessions[token]
	if sess == nil || time.Now().After(sess.ExpiresAt) {
		return nil, nil
	}
	return sess, nil
}

func (f *fakeSessionStore) Delete(_ context.Context, token string) error {
	delete(f.sessions, token)
	return nil
}

func (f *fakeSessionStore) DeleteExpired(_ context.Context) (int64, error) {
	var n int64
	for token, sess := range f.sessions {
		if time.Now().After(sess.ExpiresAt) {
			delete(f.sessions, token)
			n++
		}
	}
	return n, nil
}

type fakeMailer struct {
	configured bool
	sent       []string
}

func (f *fakeMailer) Configured() bool { return f.configured }

func (f *fakeMailer) SendAuthCode(toEmail, code string) error {
	f.sent = append(f.sent, toEmail+":"+code)
	return nil
}

func newAuthFixture() (*AuthService, *fakeAuthUserStore, *fakeAuthCodeStore, *fakeSessionStore, *fakeMailer) {
	users := &fakeAuthUserStore{byEmail: map[string]*models.User{}, byID: map[string]*models.User{}}
	codes := &fakeAuthCodeStore{}
	sessions := &fakeSessionStore{sessions: map[string]*models.Session{}}
	mailer := &fakeMailer{configured: true}
	svc := NewAuthService(discardLogger(), users, codes, sessions, mailer, 3, 24*time.Hour)
	return svc, users, codes, sessions, mailer
}

func TestRequestCode(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects malformed email", func(t *testing.T) {
		svc, _, _, _, _ := newAuthFixture()
		assert.ErrorIs(t, svc.RequestCode(ctx, "not-an-email"), ErrInvalidEmail)
	})

	t.Run("sends code for any well-formed email", func(t *testing.T) {
		svc, _, _, _, mailer := newAuthFixture()
		require.NoError(t, svc.RequestCode(ctx, "New.User@Example.com"))
		require.Len(t, mailer.sent, 1)
		assert.Equal(t, "new.user@example.com:123456", mailer.sent[0])
	})

	t.Run("succeeds without mailer configured", func(t *testing.T) {
		svc, _, _, _, mailer := newAuthFixture()
		mailer.configured = false
		assert.NoError(t, svc.RequestCode(ctx, "dev@example.com"))
		assert.Empty(t, mailer.sent)
	})
}

func TestVerifyCode(t *testing.T) {
	ctx := context.Background()

	t.Run("first sign-in creates account with signup credits", func(t *testing.T) {
		svc, users, _, _, _ := newAuthFixture()
		require.NoError(t, svc.RequestCode(ctx, "new@example.com"))

		session, user, err := svc.VerifyCode(ctx, "new@example.com", "123456")
		require.NoError(t, err)
		require.NotNil(t, session)
		require.NotNil(t, user)
		assert.Equal(t, 3, user.RemainingCredits)
		assert.Equal(t, user.ID, session.UserID)
		assert.NotNil(t, users.byEmail["new@example.com"])
	})

	t.Run("returning user keeps balance", func(t *testing.T) {
		svc, users, _, _, _ := newAuthFixture()
		users.byEmail["old@example.com"] = &models.User{ID: "u_old", Email: "old@example.com", RemainingCredits: 42}
		users.byID["u_old"] = users.byEmail["old@example.com"]
		require.NoError(t, svc.RequestCode(ctx, "old@example.com"))

		_, user, err := svc.VerifyCode(ctx, "old@example.com", "123456")
		require.NoError(t, err)
		assert.Equal(t, 42, user.RemainingCredits)
	})

	t.Run("wrong code rejected", func(t *testing.T) {
		svc, _, _, _, _ := newAuthFixture()
		require.NoError(t, svc.RequestCode(ctx, "a@example.com"))
		_, _, err := svc.VerifyCode(ctx, "a@example.com", "000000")
		assert.ErrorIs(t, err, ErrInvalidCode)
	})

	t.Run("code is single-use", func(t *testing.T) {
		svc, _, _, _, _ := newAuthFixture()
		require.NoError(t, svc.RequestCode(ctx, "a@example.com"))
		_, _, err := svc.VerifyCode(ctx, "a@example.com", "123456")
		require.NoError(t, err)
		_, _, err = svc.VerifyCode(ctx, "a@example.com", "123456")
		assert.ErrorIs(t, err, ErrInvalidCode)
	})

	t.Run("code burns after five wrong attempts", func(t *testing.T) {
		svc, _, codes, _, _ := newAuthFixture()
		require.NoError(t, svc.RequestCode(ctx, "a@example.com"))
		for i := 0; i < 5; i++ {
			_, _, err := svc.VerifyCode(ctx, "a@example.com", "000000")
			assert.ErrorIs(t, err, ErrInvalidCode)
		}
		assert.NotNil(t, codes.pending.UsedAt)
		// Even the right code is dead now.
		_, _, err := svc.VerifyCode(ctx, "a@example.com", "123456")
		assert.ErrorIs(t, err, ErrInvalidCode)
	})

	t.Run("no pending code rejected", func(t *testing.T) {
		svc, _, _, _, _ := newAuthFixture()
		_, _, err := svc.VerifyCode(ctx, "nobody@example.com", "123456")
		assert.ErrorIs(t, err, ErrInvalidCode)
	})
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("valid token resolves user", func(t *testing.T) {
		svc, _, _, _, _ := newAuthFixture()
		require.NoError(t, svc.RequestCode(ctx, "a@example.com"))
		session, user, err := svc.VerifyCode(ctx, "a@example.com", "123456")
		require.NoError(t, err)

		got, err := svc.Authenticate(ctx, session.Token)
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
	})

	t.Run("unknown token rejected", func(t *testing.T) {
		svc, _, _, _, _ := newAuthFixture()
		_, err := svc.Authenticate(ctx, "tok_bogus")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("empty token rejected", func(t *testing.T) {
		svc, _, _, _, _ := newAuthFixture()
		_, err := svc.Authenticate(ctx, "")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("logout invalidates token", func(t *testing.T) {
		svc, _, _, _, _ := newAuthFixture()
		require.NoError(t, svc.RequestCode(ctx, "a@example.com"))
		session, _, err := svc.VerifyCode(ctx, "a@example.com", "123456")
		require.NoError(t, err)

		require.NoError(t, svc.Logout(ctx, session.Token))
		_, err = svc.Authenticate(ctx, session.Token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestPurgeExpired(t *testing.T) {
	ctx := context.Background()
	svc, _, codes, sessions, _ := newAuthFixture()

	sessions.sessions["tok_old"] = &models.Session{Token: "tok_old", UserID: "u1", ExpiresAt: time.Now().Add(-time.Hour)}
	sessions.sessions["tok_live"] = &models.Session{Token: "tok_live", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)}
	codes.pending = &models.AuthCode{ID: 1, Email: "a@example.com", Code: "123456", ExpiresAt: time.Now().Add(-time.Minute)}

	svc.PurgeExpired(ctx)

	assert.NotContains(t, sessions.sessions, "tok_old")
	assert.Contains(t, sessions.sessions, "tok_live")
	assert.Nil(t, codes.pending)
}
