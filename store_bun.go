package session

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/crypto/chacha20poly1305"
)

// CredentialRecord is the persisted shape of the credential record. One row
// per service namespace so several backends can share a database file.
type CredentialRecord struct {
	bun.BaseModel `bun:"table:credentials,alias:cred"`
	Namespace     string     `bun:"namespace,pk" json:"namespace"`
	AccessToken   string     `bun:"access_token" json:"access_token,omitempty"`
	RefreshToken  string     `bun:"refresh_token" json:"refresh_token,omitempty"`
	Role          UserRole   `bun:"role" json:"role,omitempty"`
	Revision      int64      `bun:"revision,notnull" json:"revision"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

// OpenSQLite opens (or creates) a SQLite-backed bun.DB suitable for BunStore.
func OpenSQLite(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "could not open credential database")
	}

	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

var _ Store = &BunStore{}

// BunStore persists the credential record in a Bun-managed table. Sibling
// processes sharing the same database observe each other's writes through
// revision polling; the poller never reports a store's own writes back to
// it, matching the storage-event semantics of MemoryStore.
type BunStore struct {
	db           *bun.DB
	namespace    string
	logger       Logger
	sealer       *recordSealer
	pollInterval time.Duration

	mu       sync.Mutex
	subs     map[int]func(Change)
	nextID   int
	lastSeen Credentials
	lastRev  int64
	cancel   context.CancelFunc
}

// BunStoreOption customizes BunStore construction.
type BunStoreOption func(*BunStore)

// WithBunStoreLogger overrides the default logger.
func WithBunStoreLogger(logger Logger) BunStoreOption {
	return func(s *BunStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBunStorePollInterval tunes how often the watcher looks for writes
// made by sibling processes.
func WithBunStorePollInterval(interval time.Duration) BunStoreOption {
	return func(s *BunStore) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

// WithBunStoreSealKey enables at-rest sealing of the token columns. The key
// must be chacha20poly1305.KeySize (32) bytes.
func WithBunStoreSealKey(key []byte) BunStoreOption {
	return func(s *BunStore) {
		sealer, err := newRecordSealer(key)
		if err != nil {
			s.logger.Error("invalid seal key, storing tokens unsealed: %v", err)
			return
		}
		s.sealer = sealer
	}
}

// NewBunStore builds a store scoped to baseURL. The namespace is derived
// deterministically from the URL so every client of the same service lands
// on the same row.
func NewBunStore(db *bun.DB, baseURL string, opts ...BunStoreOption) (*BunStore, error) {
	namespace, err := hashid.NewUUID(baseURL)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "could not derive storage namespace")
	}

	store := &BunStore{
		db:           db,
		namespace:    namespace.String(),
		logger:       defLogger{},
		pollInterval: 2 * time.Second,
		subs:         map[int]func(Change){},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}

	return store, nil
}

// Init creates the credentials table when missing.
func (s *BunStore) Init(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*CredentialRecord)(nil)).
		IfNotExists().
		Exec(ctx)

	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "could not create credentials table")
	}

	return nil
}

func (s *BunStore) Load(ctx context.Context) (*Credentials, error) {
	record, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}

	creds, err := s.open(record)
	if err != nil {
		s.logger.Warn("purging unreadable credential record: %v", err)
		if clearErr := s.Clear(ctx); clearErr != nil {
			return nil, clearErr
		}
		return &Credentials{}, nil
	}

	clean, err := sanitizeCredentials(creds)
	if err != nil {
		s.logger.Warn("purging corrupt credential record: %v", err)
		if clearErr := s.Clear(ctx); clearErr != nil {
			return nil, clearErr
		}
		return &Credentials{}, nil
	}

	s.mu.Lock()
	s.lastSeen = *clean
	s.lastRev = record.Revision
	s.mu.Unlock()

	return clean.Clone(), nil
}

func (s *BunStore) Save(ctx context.Context, creds *Credentials) error {
	if creds == nil {
		creds = &Credentials{}
	}

	if creds.IsCorrupt() {
		return ErrCorruptRecord.Clone().WithMetadata(map[string]any{
			"reason": "access token and role must be written together",
		})
	}

	return s.write(ctx, *creds)
}

func (s *BunStore) Clear(ctx context.Context) error {
	return s.write(ctx, Credentials{})
}

// Subscribe registers fn for changes made by sibling processes. Callbacks
// fire from the watch goroutine; StartWatch must be running for any to be
// delivered.
func (s *BunStore) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// StartWatch begins polling for external writes. It is a no-op when a
// watcher is already running.
func (s *BunStore) StartWatch(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	go s.watch(ctx)
}

// StopWatch stops the poller.
func (s *BunStore) StopWatch() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (s *BunStore) watch(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *BunStore) poll(ctx context.Context) {
	record, err := s.fetch(ctx)
	if err != nil {
		s.logger.Warn("credential watch poll failed: %v", err)
		return
	}

	s.mu.Lock()
	if record.Revision == s.lastRev {
		s.mu.Unlock()
		return
	}

	creds, err := s.open(record)
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("credential watch skipping unreadable record: %v", err)
		return
	}

	old := s.lastSeen
	s.lastSeen = *creds
	s.lastRev = record.Revision

	subs := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, change := range diffCredentials(&old, creds) {
		for _, fn := range subs {
			fn(change)
		}
	}
}

func (s *BunStore) fetch(ctx context.Context) (*CredentialRecord, error) {
	record := &CredentialRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("namespace = ?", s.namespace).
		Scan(ctx)

	if errors.Is(err, sql.ErrNoRows) {
		return &CredentialRecord{Namespace: s.namespace}, nil
	}

	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "could not read credential record")
	}

	return record, nil
}

func (s *BunStore) write(ctx context.Context, creds Credentials) error {
	current, err := s.fetch(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	record := &CredentialRecord{
		Namespace:    s.namespace,
		Role:         creds.Role,
		Revision:     current.Revision + 1,
		UpdatedAt:    &now,
		AccessToken:  s.seal(creds.AccessToken),
		RefreshToken: s.seal(creds.RefreshToken),
	}

	_, err = s.db.NewInsert().
		Model(record).
		On("CONFLICT (namespace) DO UPDATE").
		Set("access_token = EXCLUDED.access_token").
		Set("refresh_token = EXCLUDED.refresh_token").
		Set("role = EXCLUDED.role").
		Set("revision = EXCLUDED.revision").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)

	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "could not write credential record")
	}

	s.mu.Lock()
	s.lastSeen = creds
	s.lastRev = record.Revision
	s.mu.Unlock()

	return nil
}

func (s *BunStore) seal(value string) string {
	if s.sealer == nil || value == "" {
		return value
	}
	return s.sealer.seal(value)
}

func (s *BunStore) open(record *CredentialRecord) (*Credentials, error) {
	creds := &Credentials{Role: record.Role}

	if s.sealer == nil {
		creds.AccessToken = record.AccessToken
		creds.RefreshToken = record.RefreshToken
		return creds, nil
	}

	var err error
	if creds.AccessToken, err = s.sealer.open(record.AccessToken); err != nil {
		return nil, err
	}
	if creds.RefreshToken, err = s.sealer.open(record.RefreshToken); err != nil {
		return nil, err
	}

	return creds, nil
}

// recordSealer wraps XChaCha20-Poly1305 for token-at-rest protection.
type recordSealer struct {
	aead cipher.AEAD
}

func newRecordSealer(key []byte) (*recordSealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &recordSealer{aead: aead}, nil
}

func (r *recordSealer) seal(value string) string {
	nonce := make([]byte, r.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		// crypto/rand failures are not recoverable at this layer
		panic("session: could not read nonce: " + err.Error())
	}

	sealed := r.aead.Seal(nonce, nonce, []byte(value), nil)
	return base64.StdEncoding.EncodeToString(sealed)
}

func (r *recordSealer) open(value string) (string, error) {
	if value == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryOperation, "sealed credential is not base64")
	}

	size := r.aead.NonceSize()
	if len(raw) < size {
		return "", goerrors.New("sealed credential too short", goerrors.CategoryOperation)
	}

	plain, err := r.aead.Open(nil, raw[:size], raw[size:], nil)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryOperation, "could not unseal credential")
	}

	return string(plain), nil
}
