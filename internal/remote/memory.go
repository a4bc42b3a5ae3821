package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnreachable is what every MemoryProvider call returns while the provider
// is switched offline.
var ErrUnreachable = errors.New("remote: provider unreachable")

type memUser struct {
	user     User
	password string
	claims   Claims
}

// MemoryProvider is an in-process implementation of the whole remote surface.
// It backs development/offline mode and the test suites; the Unreachable
// switch simulates a provider outage.
type MemoryProvider struct {
	mu          sync.Mutex
	Unreachable bool

	users        map[string]*memUser // by uid
	signalements map[string]SignalementDoc
	photos       map[string]PhotoDoc
	attempts     map[string]Claims
	blobs        map[string][]byte
	revoked      map[string]int
	resetMails   []string
	seq          int
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		users:        make(map[string]*memUser),
		signalements: make(map[string]SignalementDoc),
		photos:       make(map[string]PhotoDoc),
		attempts:     make(map[string]Claims),
		blobs:        make(map[string][]byte),
		revoked:      make(map[string]int),
	}
}

func (m *MemoryProvider) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *MemoryProvider) guard() error {
	if m.Unreachable {
		return ErrUnreachable
	}
	return nil
}

// --- IdentityProvider ---

func (m *MemoryProvider) LookupByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return nil, err
	}
	for _, u := range m.users {
		if u.user.Email == email {
			cp := u.user
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryProvider) SignIn(_ context.Context, email, password string) (*User, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return nil, "", err
	}
	for _, u := range m.users {
		if u.user.Email == email {
			if u.user.Disabled {
				return nil, "", errors.New("remote: account disabled")
			}
			if u.password != password {
				return nil, "", errors.New("remote: invalid credentials")
			}
			now := time.Now()
			u.user.LastSignIn = &now
			cp := u.user
			return &cp, uuid.NewString(), nil
		}
	}
	return nil, "", ErrNotFound
}

func (m *MemoryProvider) Create(_ context.Context, email, password string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return nil, err
	}
	for _, u := range m.users {
		if u.user.Email == email {
			return nil, errors.New("remote: email already exists")
		}
	}
	now := time.Now()
	u := &memUser{
		user:     User{UID: m.nextID("uid"), Email: email, CreatedAt: &now},
		password: password,
	}
	m.users[u.user.UID] = u
	cp := u.user
	return &cp, nil
}

func (m *MemoryProvider) Update(_ context.Context, uid string, upd UserUpdate) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return nil, err
	}
	u, ok := m.users[uid]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Email != nil {
		u.user.Email = *upd.Email
	}
	if upd.DisplayName != nil {
		u.user.DisplayName = *upd.DisplayName
	}
	if upd.EmailVerified != nil {
		u.user.EmailVerified = *upd.EmailVerified
	}
	if upd.Disabled != nil {
		u.user.Disabled = *upd.Disabled
	}
	if upd.Password != nil {
		u.password = *upd.Password
	}
	cp := u.user
	return &cp, nil
}

func (m *MemoryProvider) Delete(_ context.Context, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	if _, ok := m.users[uid]; !ok {
		return ErrNotFound
	}
	delete(m.users, uid)
	return nil
}

func (m *MemoryProvider) GetClaims(_ context.Context, uid string) (Claims, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return Claims{}, err
	}
	u, ok := m.users[uid]
	if !ok {
		return Claims{}, ErrNotFound
	}
	return u.claims, nil
}

func (m *MemoryProvider) SetClaims(_ context.Context, uid string, claims Claims) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	u, ok := m.users[uid]
	if !ok {
		return ErrNotFound
	}
	u.claims = claims
	return nil
}

func (m *MemoryProvider) RevokeTokens(_ context.Context, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	m.revoked[uid]++
	return nil
}

func (m *MemoryProvider) SendPasswordReset(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	for _, u := range m.users {
		if u.user.Email == email {
			m.resetMails = append(m.resetMails, email)
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryProvider) List(_ context.Context, pageSize int, pageToken string) ([]User, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return nil, "", err
	}
	out := make([]User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u.user)
		if pageSize > 0 && len(out) >= pageSize {
			break
		}
	}
	// Single page; the store is small enough in dev and tests.
	return out, "", nil
}

// --- DocumentStore ---

func (m *MemoryProvider) AddSignalement(_ context.Context, doc SignalementDoc) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return "", err
	}
	if doc.ID == "" {
		doc.ID = m.nextID("doc")
	}
	m.signalements[doc.ID] = doc
	return doc.ID, nil
}

func (m *MemoryProvider) SetSignalement(_ context.Context, id string, fields map[string]any, merge bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	doc, ok := m.signalements[id]
	if !ok && !merge {
		return ErrNotFound
	}
	if !ok {
		doc = SignalementDoc{ID: id}
	}
	applyFields(&doc, fields)
	m.signalements[id] = doc
	return nil
}

func applyFields(doc *SignalementDoc, fields map[string]any) {
	if v, ok := fields["description"].(string); ok {
		doc.Description = v
	}
	if v, ok := fields["entreprise"].(string); ok {
		doc.Entreprise = v
	}
	if v, ok := fields["status"].(string); ok {
		doc.Status = v
	}
	if v, ok := fields["surface"].(float64); ok {
		doc.Surface = v
	}
	if v, ok := fields["budget"].(float64); ok {
		doc.Budget = v
	}
	if v, ok := fields["owner_uid"].(string); ok {
		doc.OwnerUID = v
	}
	if v, ok := fields["position"].(map[string]float64); ok {
		doc.Position = v
	}
	if v, ok := fields["photos"].([]string); ok {
		doc.Photos = v
	}
}

func (m *MemoryProvider) DeleteSignalement(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	delete(m.signalements, id)
	return nil
}

func (m *MemoryProvider) ListSignalements(_ context.Context, limit int) ([]SignalementDoc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return nil, err
	}
	out := make([]SignalementDoc, 0, len(m.signalements))
	for _, doc := range m.signalements {
		out = append(out, doc)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryProvider) AddPhoto(_ context.Context, doc PhotoDoc) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return "", err
	}
	if doc.ID == "" {
		doc.ID = m.nextID("photo")
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	m.photos[doc.ID] = doc
	return doc.ID, nil
}

func (m *MemoryProvider) FindPhoto(_ context.Context, signalementID, filename string) (*PhotoDoc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return nil, err
	}
	for _, p := range m.photos {
		if p.SignalementID == signalementID && p.Filename == filename {
			cp := p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryProvider) ListPhotos(_ context.Context, limit int) ([]PhotoDoc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return nil, err
	}
	out := make([]PhotoDoc, 0, len(m.photos))
	for _, p := range m.photos {
		out = append(out, p)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryProvider) GetAttempt(_ context.Context, email string) (Claims, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return Claims{}, err
	}
	return m.attempts[email], nil
}

func (m *MemoryProvider) SetAttempt(_ context.Context, email string, claims Claims) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	m.attempts[email] = claims
	return nil
}

func (m *MemoryProvider) ClearAttempt(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	delete(m.attempts, email)
	return nil
}

// --- BlobStorage ---

func (m *MemoryProvider) Download(_ context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return nil, err
	}
	b, ok := m.blobs[path]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

// --- test/dev helpers ---

// PutBlob stores bytes under a storage path.
func (m *MemoryProvider) PutBlob(path string, b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[path] = b
}

// UserByUID returns a snapshot of the stored identity, or nil.
func (m *MemoryProvider) UserByUID(uid string) *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[uid]; ok {
		cp := u.user
		return &cp
	}
	return nil
}

// ClaimsByUID returns the stored custom claims for uid.
func (m *MemoryProvider) ClaimsByUID(uid string) Claims {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[uid]; ok {
		return u.claims
	}
	return Claims{}
}

// RevokedCount reports how many times tokens were revoked for uid.
func (m *MemoryProvider) RevokedCount(uid string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revoked[uid]
}

// ResetMailCount reports how many reset mails were "sent" to email.
func (m *MemoryProvider) ResetMailCount(email string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.resetMails {
		if e == email {
			n++
		}
	}
	return n
}

// SignalementByID returns a snapshot of a stored document, or nil.
func (m *MemoryProvider) SignalementByID(id string) *SignalementDoc {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc, ok := m.signalements[id]; ok {
		cp := doc
		return &cp
	}
	return nil
}

// PhotoCount reports how many photo documents are stored.
func (m *MemoryProvider) PhotoCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.photos)
}
