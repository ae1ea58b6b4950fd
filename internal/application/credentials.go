package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ericfisherdev/fitsync/internal/domain/model"
	"github.com/ericfisherdev/fitsync/internal/domain/port/driven"
)

// Credential store field names. Each is persisted under
// "fitsync.<provider>.<field>".
const (
	fieldAccessToken        = "access_token"
	fieldRefreshToken       = "refresh_token"
	fieldExpiresAt          = "expires_at"
	fieldUserID             = "user_id"
	fieldAuthNonce          = "auth_nonce"
	fieldAuthNonceCreatedAt = "auth_nonce_created_at"
	fieldRequestToken       = "request_token"
	fieldRequestTokenSecret = "request_token_secret"
	fieldLastSynced         = "last_synced"
)

// neverExpires marks a credential whose ExpiresAt is zero.
const neverExpires = "never"

// CredentialKey returns the namespaced KV key for one provider field.
func CredentialKey(p model.Provider, field string) string {
	return "fitsync." + string(p) + "." + field
}

// CredentialStore persists credentials, pending auth challenges, and sync
// timestamps for each provider on a KV medium. Malformed persisted values are
// reported as absent; only failures of the medium itself are errors.
type CredentialStore struct {
	kv driven.KVStore

	// takeMu makes TakeChallenge's read-then-delete atomic within this
	// process so two concurrent callbacks cannot both consume one nonce.
	takeMu sync.Mutex
}

// NewCredentialStore creates a CredentialStore on top of kv.
func NewCredentialStore(kv driven.KVStore) *CredentialStore {
	return &CredentialStore{kv: kv}
}

// Save writes every field of cred in one batch, replacing any previous
// credential for p.
func (s *CredentialStore) Save(ctx context.Context, p model.Provider, cred model.Credential) error {
	expires := neverExpires
	if !cred.ExpiresAt.IsZero() {
		expires = cred.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	pairs := map[string]string{
		CredentialKey(p, fieldAccessToken):  cred.AccessToken,
		CredentialKey(p, fieldRefreshToken): cred.RefreshToken,
		CredentialKey(p, fieldExpiresAt):    expires,
		CredentialKey(p, fieldUserID):       cred.UserID,
	}
	if err := s.kv.SetMany(ctx, pairs); err != nil {
		return fmt.Errorf("save %s credential: %w", p, err)
	}
	return nil
}

// Load returns the stored credential for p. ok is false when nothing usable
// is stored, including when the stored values are malformed. All fields come
// from one read, so a concurrent Save is seen entirely or not at all.
func (s *CredentialStore) Load(ctx context.Context, p model.Provider) (model.Credential, bool, error) {
	accessKey := CredentialKey(p, fieldAccessToken)
	expiryKey := CredentialKey(p, fieldExpiresAt)
	refreshKey := CredentialKey(p, fieldRefreshToken)
	userKey := CredentialKey(p, fieldUserID)

	vals, err := s.kv.GetMany(ctx, accessKey, expiryKey, refreshKey, userKey)
	if err != nil {
		return model.Credential{}, false, fmt.Errorf("load %s credential: %w", p, err)
	}

	access := vals[accessKey]
	rawExpiry, ok := vals[expiryKey]
	if access == "" || !ok {
		return model.Credential{}, false, nil
	}
	var expiresAt time.Time
	if rawExpiry != neverExpires {
		expiresAt, err = time.Parse(time.RFC3339Nano, rawExpiry)
		if err != nil {
			return model.Credential{}, false, nil
		}
	}

	return model.Credential{
		Provider:     p,
		AccessToken:  access,
		RefreshToken: vals[refreshKey],
		ExpiresAt:    expiresAt,
		UserID:       vals[userKey],
	}, true, nil
}

// Clear removes the credential and any pending challenge for p. The
// last-synced timestamp is kept; see ClearLastSynced.
func (s *CredentialStore) Clear(ctx context.Context, p model.Provider) error {
	err := s.kv.Delete(ctx,
		CredentialKey(p, fieldAccessToken),
		CredentialKey(p, fieldRefreshToken),
		CredentialKey(p, fieldExpiresAt),
		CredentialKey(p, fieldUserID),
		CredentialKey(p, fieldAuthNonce),
		CredentialKey(p, fieldAuthNonceCreatedAt),
		CredentialKey(p, fieldRequestToken),
		CredentialKey(p, fieldRequestTokenSecret),
	)
	if err != nil {
		return fmt.Errorf("clear %s credential: %w", p, err)
	}
	return nil
}

// SaveChallenge records a pending authorization challenge, replacing any
// earlier one for the same provider.
func (s *CredentialStore) SaveChallenge(ctx context.Context, ch model.AuthChallenge) error {
	p := ch.Provider
	pairs := map[string]string{
		CredentialKey(p, fieldAuthNonce):          ch.Nonce,
		CredentialKey(p, fieldAuthNonceCreatedAt): ch.CreatedAt.UTC().Format(time.RFC3339Nano),
		CredentialKey(p, fieldRequestToken):       ch.RequestToken,
		CredentialKey(p, fieldRequestTokenSecret): ch.RequestTokenSecret,
	}
	if err := s.kv.SetMany(ctx, pairs); err != nil {
		return fmt.Errorf("save %s challenge: %w", p, err)
	}
	return nil
}

// TakeChallenge reads and deletes the pending challenge for p. The stored
// copy is gone after this call whatever the outcome, so a nonce can be
// consumed at most once.
func (s *CredentialStore) TakeChallenge(ctx context.Context, p model.Provider) (model.AuthChallenge, bool, error) {
	s.takeMu.Lock()
	defer s.takeMu.Unlock()

	ch, ok, readErr := s.peekChallenge(ctx, p)

	delErr := s.kv.Delete(ctx,
		CredentialKey(p, fieldAuthNonce),
		CredentialKey(p, fieldAuthNonceCreatedAt),
		CredentialKey(p, fieldRequestToken),
		CredentialKey(p, fieldRequestTokenSecret),
	)
	if readErr != nil {
		return model.AuthChallenge{}, false, readErr
	}
	if delErr != nil {
		return model.AuthChallenge{}, false, fmt.Errorf("discard %s challenge: %w", p, delErr)
	}
	return ch, ok, nil
}

// HasPendingChallenge reports whether an unexpired challenge is waiting for
// its callback. It does not consume the challenge.
func (s *CredentialStore) HasPendingChallenge(ctx context.Context, p model.Provider, now time.Time) (bool, error) {
	ch, ok, err := s.peekChallenge(ctx, p)
	if err != nil || !ok {
		return false, err
	}
	return !ch.ExpiredAt(now), nil
}

func (s *CredentialStore) peekChallenge(ctx context.Context, p model.Provider) (model.AuthChallenge, bool, error) {
	nonceKey := CredentialKey(p, fieldAuthNonce)
	createdKey := CredentialKey(p, fieldAuthNonceCreatedAt)
	tokenKey := CredentialKey(p, fieldRequestToken)
	secretKey := CredentialKey(p, fieldRequestTokenSecret)

	vals, err := s.kv.GetMany(ctx, nonceKey, createdKey, tokenKey, secretKey)
	if err != nil {
		return model.AuthChallenge{}, false, fmt.Errorf("load %s challenge: %w", p, err)
	}

	nonce := vals[nonceKey]
	if nonce == "" {
		return model.AuthChallenge{}, false, nil
	}
	created, err := time.Parse(time.RFC3339Nano, vals[createdKey])
	if err != nil {
		return model.AuthChallenge{}, false, nil
	}

	return model.AuthChallenge{
		Provider:           p,
		Nonce:              nonce,
		CreatedAt:          created,
		RequestToken:       vals[tokenKey],
		RequestTokenSecret: vals[secretKey],
	}, true, nil
}

// SetLastSynced stamps when p's data was last brought in.
func (s *CredentialStore) SetLastSynced(ctx context.Context, p model.Provider, at time.Time) error {
	if err := s.kv.Set(ctx, CredentialKey(p, fieldLastSynced), at.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("set %s last synced: %w", p, err)
	}
	return nil
}

// LastSynced returns when p was last synced; ok is false if never or if the
// stored value is malformed.
func (s *CredentialStore) LastSynced(ctx context.Context, p model.Provider) (time.Time, bool, error) {
	raw, ok, err := s.kv.Get(ctx, CredentialKey(p, fieldLastSynced))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load %s last synced: %w", p, err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, nil
	}
	return at, true, nil
}

// ClearLastSynced forgets p's last-synced timestamp.
func (s *CredentialStore) ClearLastSynced(ctx context.Context, p model.Provider) error {
	if err := s.kv.Delete(ctx, CredentialKey(p, fieldLastSynced)); err != nil {
		return fmt.Errorf("clear %s last synced: %w", p, err)
	}
	return nil
}
