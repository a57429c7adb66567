package authclient

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// CredentialRecord is one email/password account.
type CredentialRecord struct {
	User         User
	PasswordHash string
}

// MemoryDirectory is an in-memory CredentialDirectory keyed by lowercased email.
type MemoryDirectory struct {
	mu      sync.RWMutex
	records map[string]CredentialRecord
}

var _ CredentialDirectory = (*MemoryDirectory)(nil)

// NewMemoryDirectory builds a directory from records.
func NewMemoryDirectory(records ...CredentialRecord) *MemoryDirectory {
	d := &MemoryDirectory{records: make(map[string]CredentialRecord, len(records))}
	for _, r := range records {
		d.records[normalizeIdentifier(r.User.Email)] = r
	}
	return d
}

// Add hashes secret and stores the record.
func (d *MemoryDirectory) Add(user User, secret string) error {
	hash, err := HashPassword(secret)
	if err != nil {
		return err
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records[normalizeIdentifier(user.Email)] = CredentialRecord{User: user, PasswordHash: hash}
	return nil
}

// VerifyCredential implements CredentialDirectory.
func (d *MemoryDirectory) VerifyCredential(_ context.Context, identifier, secret string) (*User, error) {
	d.mu.RLock()
	record, ok := d.records[normalizeIdentifier(identifier)]
	d.mu.RUnlock()

	if !ok {
		BurnPasswordCompare(secret)
		return nil, ErrInvalidCredential
	}
	if err := ComparePasswordAndHash(secret, record.PasswordHash); err != nil {
		return nil, ErrInvalidCredential
	}
	u := record.User
	return &u, nil
}

// DemoAccount is a seeded account for the simulated deployment.
type DemoAccount struct {
	Email       string
	Secret      string
	DisplayName string
	Role        string
}

// DemoAccounts lists the accounts seeded by NewDemoDirectory.
var DemoAccounts = []DemoAccount{
	{Email: "admin@devdash.com", Secret: "admin123", DisplayName: "Admin User", Role: string(RoleAdmin)},
	{Email: "developer@devdash.com", Secret: "dev123", DisplayName: "Developer User", Role: string(RoleDeveloper)},
	{Email: "viewer@devdash.com", Secret: "viewer123", DisplayName: "Viewer User", Role: string(RoleViewer)},
}

var (
	demoOnce    sync.Once
	demoRecords []CredentialRecord
	demoErr     error
)

// NewDemoDirectory returns a directory seeded with DemoAccounts. Hashes are
// computed once per process.
func NewDemoDirectory() (*MemoryDirectory, error) {
	demoOnce.Do(func() {
		for _, acc := range DemoAccounts {
			hash, err := HashPassword(acc.Secret)
			if err != nil {
				demoErr = err
				return
			}
			demoRecords = append(demoRecords, CredentialRecord{
				User: User{
					ID:          uuid.NewSHA1(uuid.NameSpaceURL, []byte("devdash:user:"+acc.Email)).String(),
					Email:       acc.Email,
					DisplayName: acc.DisplayName,
					Role:        acc.Role,
				},
				PasswordHash: hash,
			})
		}
	})
	if demoErr != nil {
		return nil, demoErr
	}
	return NewMemoryDirectory(demoRecords...), nil
}

func normalizeIdentifier(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
