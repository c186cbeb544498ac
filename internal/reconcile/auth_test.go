package reconcile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/Mister-97/mappa-pro/internal/apperr"
	"github.com/Mister-97/mappa-pro/internal/auth"
	"github.com/Mister-97/mappa-pro/internal/crypto"
	"github.com/Mister-97/mappa-pro/internal/lease"
	"github.com/Mister-97/mappa-pro/internal/model"
	"github.com/Mister-97/mappa-pro/internal/remote"
)

type rejectingRefresher struct {
	calls atomic.Int32
}

func (r *rejectingRefresher) Refresh(context.Context, string) (*oauth2.Token, error) {
	r.calls.Add(1)
	return nil, &oauth2.RetrieveError{
		Response:  &http.Response{StatusCode: http.StatusForbidden},
		ErrorCode: "access_denied",
	}
}

func TestTick_RevokedRefreshTokenDropsAccount(t *testing.T) {
	var apiHits atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiHits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer api.Close()

	ctx := context.Background()
	creds := auth.NewMemoryStore()
	require.NoError(t, creds.Put(ctx, model.Credential{
		AccountID:             "acct",
		EncryptedAccessToken:  "mock:access",
		EncryptedRefreshToken: "mock:refresh",
		ExpiresAt:             time.Now().Add(time.Hour),
		Active:                true,
	}))
	refresher := &rejectingRefresher{}
	tokens := auth.NewManager(creds, crypto.NewMockEncryptor(), refresher, discard)
	client := remote.NewClient(api.URL, "2026-01", api.Client(), tokens)

	db := newTestDB(t)
	r := NewReconciler(db, client, nil, discard, 20, noSleep)
	p := NewPoller(creds, lease.NewMemoryLocker(0), db, client, r, nil, discard, PollerOptions{Retry: noSleep})

	res := p.Tick(ctx)
	assert.Equal(t, TickResult{Accounts: 1, Failed: 1}, res)
	assert.Equal(t, int32(1), apiHits.Load())
	assert.Equal(t, int32(1), refresher.calls.Load())

	cred, err := creds.Get(ctx, "acct")
	require.NoError(t, err)
	assert.False(t, cred.Active)
	assert.True(t, cred.NeedsReattach)

	st, err := p.Status(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, model.SyncError, st.Status)

	// The flagged account is no longer visited.
	res = p.Tick(ctx)
	assert.Equal(t, TickResult{}, res)
	assert.Equal(t, int32(1), apiHits.Load())

	err = p.SyncNow(ctx, "acct")
	assert.ErrorIs(t, err, apperr.ErrPermanentAuth)
}
