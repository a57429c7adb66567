package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// CredentialModel is the bun model for email/password accounts.
type CredentialModel struct {
	bun.BaseModel `bun:"table:credentials"`

	ID           uuid.UUID  `bun:"id,pk,type:uuid"`
	Email        string     `bun:"email,notnull,unique"`
	DisplayName  string     `bun:"display_name"`
	Role         string     `bun:"role,notnull"`
	TenantID     string     `bun:"tenant_id"`
	PasswordHash string     `bun:"password_hash,notnull"`
	LastLoginAt  *time.Time `bun:"last_login_at"`
	CreatedAt    time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

// CredentialDirectory implements authclient.CredentialDirectory on bun.
type CredentialDirectory struct {
	db  *bun.DB
	now func() time.Time
}

var _ authclient.CredentialDirectory = (*CredentialDirectory)(nil)

// NewCredentialDirectory creates a directory over db.
func NewCredentialDirectory(db *bun.DB) *CredentialDirectory {
	return &CredentialDirectory{db: db, now: time.Now}
}

// CreateSchema creates the credentials table if it does not exist.
func (d *CredentialDirectory) CreateSchema(ctx context.Context) error {
	_, err := d.db.NewCreateTable().
		Model((*CredentialModel)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create credentials table: %w", err)
	}
	return nil
}

// Upsert hashes secret and stores the account, replacing any account with
// the same email.
func (d *CredentialDirectory) Upsert(ctx context.Context, user authclient.User, secret string) (*authclient.User, error) {
	email := normalizeEmail(user.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", authclient.ErrInvalidInput)
	}
	if user.Role == "" {
		user.Role = string(authclient.RoleViewer)
	}
	if _, ok := authclient.ParseRole(user.Role); !ok {
		return nil, fmt.Errorf("%w: unknown role %q", authclient.ErrInvalidInput, user.Role)
	}
	hash, err := authclient.HashPassword(secret)
	if err != nil {
		return nil, err
	}

	id := uuid.Nil
	if user.ID != "" {
		if parsed, err := uuid.Parse(user.ID); err == nil {
			id = parsed
		}
	}
	if id == uuid.Nil {
		id = uuid.NewSHA1(uuid.NameSpaceURL, []byte("devdash:user:"+email))
	}

	now := d.now().UTC()
	model := &CredentialModel{
		ID:           id,
		Email:        email,
		DisplayName:  user.DisplayName,
		Role:         user.Role,
		TenantID:     user.TenantID,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = runInTx(ctx, d.db, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(model).
			On("CONFLICT (email) DO UPDATE").
			Set("display_name = EXCLUDED.display_name").
			Set("role = EXCLUDED.role").
			Set("tenant_id = EXCLUDED.tenant_id").
			Set("password_hash = EXCLUDED.password_hash").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("upsert credential: %w", err)
	}

	stored, err := d.find(ctx, email)
	if err != nil {
		return nil, err
	}
	return toUser(stored), nil
}

// VerifyCredential implements authclient.CredentialDirectory. Unknown emails
// and wrong secrets both return authclient.ErrInvalidCredential.
func (d *CredentialDirectory) VerifyCredential(ctx context.Context, identifier, secret string) (*authclient.User, error) {
	model, err := d.find(ctx, normalizeEmail(identifier))
	if errors.Is(err, sql.ErrNoRows) {
		authclient.BurnPasswordCompare(secret)
		return nil, authclient.ErrInvalidCredential
	}
	if err != nil {
		return nil, err
	}

	if err := authclient.ComparePasswordAndHash(secret, model.PasswordHash); err != nil {
		return nil, authclient.ErrInvalidCredential
	}

	now := d.now().UTC()
	_, err = d.db.NewUpdate().
		Model((*CredentialModel)(nil)).
		Set("last_login_at = ?", now).
		Where("id = ?", model.ID).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}

	return toUser(model), nil
}

// Delete removes the account for email. Missing accounts are not an error.
func (d *CredentialDirectory) Delete(ctx context.Context, email string) error {
	_, err := d.db.NewDelete().
		Model((*CredentialModel)(nil)).
		Where("email = ?", normalizeEmail(email)).
		Exec(ctx)
	return err
}

// LastLogin returns when email last signed in successfully.
func (d *CredentialDirectory) LastLogin(ctx context.Context, email string) (*time.Time, error) {
	model, err := d.find(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	return model.LastLoginAt, nil
}

// SeedDemo inserts authclient.DemoAccounts.
func (d *CredentialDirectory) SeedDemo(ctx context.Context) error {
	for _, acc := range authclient.DemoAccounts {
		_, err := d.Upsert(ctx, authclient.User{
			Email:       acc.Email,
			DisplayName: acc.DisplayName,
			Role:        acc.Role,
		}, acc.Secret)
		if err != nil {
			return fmt.Errorf("seed %s: %w", acc.Email, err)
		}
	}
	return nil
}

func (d *CredentialDirectory) find(ctx context.Context, email string) (*CredentialModel, error) {
	var model CredentialModel
	err := d.db.NewSelect().
		Model(&model).
		Where("email = ?", email).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &model, nil
}

func toUser(m *CredentialModel) *authclient.User {
	return &authclient.User{
		ID:          m.ID.String(),
		Email:       m.Email,
		DisplayName: m.DisplayName,
		Role:        m.Role,
		TenantID:    m.TenantID,
	}
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
