package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/Mister-97/mappa-pro/internal/apperr"
	"github.com/Mister-97/mappa-pro/internal/crypto"
	"github.com/Mister-97/mappa-pro/internal/model"
)

const (
	// RefreshWindow is how close to expiry a token may get before it is
	// refreshed ahead of use.
	RefreshWindow = 5 * time.Minute

	// defaultLifetime applies when the token endpoint omits expires_in.
	defaultLifetime = time.Hour
)

// Manager hands out valid access tokens per account and owns refresh.
// Concurrent refreshes for one account collapse into a single exchange.
type Manager struct {
	store     CredentialStore
	encryptor crypto.Encryptor
	refresher Refresher
	logger    *slog.Logger
	now       func() time.Time

	group singleflight.Group
}

func NewManager(store CredentialStore, encryptor crypto.Encryptor, refresher Refresher, logger *slog.Logger) *Manager {
	return &Manager{
		store:     store,
		encryptor: encryptor,
		refresher: refresher,
		logger:    logger.With("component", "auth"),
		now:       time.Now,
	}
}

// GetValidToken returns a decrypted access token, refreshing first when the
// stored one expires within RefreshWindow.
func (m *Manager) GetValidToken(ctx context.Context, accountID string) (string, error) {
	cred, err := m.store.Get(ctx, accountID)
	if err != nil {
		return "", err
	}
	if !cred.Eligible() {
		return "", fmt.Errorf("account %s: %w", accountID, apperr.ErrPermanentAuth)
	}

	if cred.ExpiresAt.Sub(m.now()) <= RefreshWindow {
		return m.RefreshToken(ctx, accountID)
	}

	token, err := m.encryptor.Decrypt(ctx, cred.EncryptedAccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt access token: %w", err)
	}
	return token, nil
}

// RefreshToken exchanges the stored refresh token and persists the new
// pair. Callers racing on the same account share one exchange; the
// exchange itself is not cancelled when an individual caller gives up.
func (m *Manager) RefreshToken(ctx context.Context, accountID string) (string, error) {
	ch := m.group.DoChan(accountID, func() (any, error) {
		return m.refresh(context.WithoutCancel(ctx), accountID)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (m *Manager) refresh(ctx context.Context, accountID string) (string, error) {
	logger := m.logger.With("account_id", accountID)

	cred, err := m.store.Get(ctx, accountID)
	if err != nil {
		return "", err
	}
	if !cred.Eligible() {
		return "", fmt.Errorf("account %s: %w", accountID, apperr.ErrPermanentAuth)
	}

	refreshToken, err := m.encryptor.Decrypt(ctx, cred.EncryptedRefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	tok, err := m.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		if apperr.Classify(err) == apperr.KindPermanentAuth {
			logger.Warn("refresh rejected, account needs re-attach", "error", err)
			if mErr := m.store.MarkNeedsReattach(ctx, accountID); mErr != nil {
				logger.Error("failed to flag account", "error", mErr)
				return "", errors.Join(fmt.Errorf("refresh rejected for %s: %w: %w", accountID, apperr.ErrPermanentAuth, err), mErr)
			}
			return "", fmt.Errorf("refresh rejected for %s: %w: %w", accountID, apperr.ErrPermanentAuth, err)
		}
		logger.Warn("refresh failed, will retry later", "error", err)
		return "", fmt.Errorf("refresh %s: %w", accountID, err)
	}

	// The platform rotates refresh tokens but may omit one from a response.
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = m.now().Add(defaultLifetime)
	}

	if err := m.persist(ctx, accountID, tok, expiresAt); err != nil {
		return "", err
	}
	logger.Info("token refreshed", "expires_at", expiresAt)
	return tok.AccessToken, nil
}

func (m *Manager) persist(ctx context.Context, accountID string, tok *oauth2.Token, expiresAt time.Time) error {
	encAccess, err := m.encryptor.Encrypt(ctx, tok.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	encRefresh, err := m.encryptor.Encrypt(ctx, tok.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}
	if err := m.store.SaveTokens(ctx, accountID, encAccess, encRefresh, expiresAt); err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	return nil
}

// Connect stores the token pair obtained from the authorization code
// exchange and activates the account.
func (m *Manager) Connect(ctx context.Context, accountID string, tok *oauth2.Token) error {
	if tok.RefreshToken == "" {
		return fmt.Errorf("no refresh token in response")
	}
	encAccess, err := m.encryptor.Encrypt(ctx, tok.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	encRefresh, err := m.encryptor.Encrypt(ctx, tok.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}
	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = m.now().Add(defaultLifetime)
	}
	return m.store.Put(ctx, model.Credential{
		AccountID:             accountID,
		EncryptedAccessToken:  encAccess,
		EncryptedRefreshToken: encRefresh,
		ExpiresAt:             expiresAt,
		Active:                true,
	})
}

// Disconnect detaches the account; the poller skips it from then on.
func (m *Manager) Disconnect(ctx context.Context, accountID string) error {
	if err := m.store.Disconnect(ctx, accountID); err != nil {
		return err
	}
	m.logger.Info("account disconnected", "account_id", accountID)
	return nil
}

// Status returns the stored credential without secrets.
func (m *Manager) Status(ctx context.Context, accountID string) (*model.Credential, error) {
	cred, err := m.store.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	cred.EncryptedAccessToken = ""
	cred.EncryptedRefreshToken = ""
	return cred, nil
}
