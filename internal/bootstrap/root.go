package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"kortrade/internal/config"
	"kortrade/internal/middleware"
	"kortrade/internal/models"
	"kortrade/internal/points"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	rootUserID   = 1
	rootNickname = "운영자"
)

// rootAccount is the development admin pinned to user id 1.
type rootAccount struct {
	username string
	email    string
	phone    string
	hash     string
	// force rewrites the login on an existing row.
	force bool
}

func isDevelopment(env string) bool {
	return strings.EqualFold(strings.TrimSpace(env), "development")
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

func rootFromConfig(cfg *config.Config) (rootAccount, error) {
	if cfg.DevRootPassword == "" {
		return rootAccount{}, errors.New("DEV_ROOT_PASSWORD must be set when DEV_BOOTSTRAP_ROOT is enabled")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.DevRootPassword), bcrypt.DefaultCost)
	if err != nil {
		return rootAccount{}, fmt.Errorf("hash root password: %w", err)
	}
	return rootAccount{
		username: orDefault(cfg.DevRootUsername, "root"),
		email:    strings.ToLower(orDefault(cfg.DevRootEmail, "root@kortrade.local")),
		phone:    orDefault(cfg.DevRootPhone, "01000000000"),
		hash:     string(hash),
		force:    cfg.DevRootForceCredentials,
	}, nil
}

// ensureRoot creates the root admin, paying the signup bonus through the
// ledger, or re-promotes and unbans an existing row. The bonus is only
// paid on creation.
func ensureRoot(ctx context.Context, db *gorm.DB, acct rootAccount, bonus float64) error {
	ledger := points.NewService(db, nil)

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.User
		err := tx.Select("id").First(&existing, rootUserID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			root := models.User{
				ID:       rootUserID,
				Username: acct.username,
				Nickname: rootNickname,
				Email:    acct.email,
				Phone:    acct.phone,
				Password: acct.hash,
				IsAdmin:  true,
			}
			if err := tx.Create(&root).Error; err != nil {
				return err
			}
			if bonus > 0 {
				if _, err := ledger.ApplyTx(ctx, tx, points.Entry{
					UserID: rootUserID, Type: models.CoinSignupBonus, Amount: bonus, Memo: "dev bootstrap",
				}); err != nil {
					return err
				}
			}
		case err != nil:
			return err
		default:
			if err := tx.Model(&models.User{}).Where("id = ?", rootUserID).Updates(acct.updates()).Error; err != nil {
				return err
			}
		}
		return resyncUserIDs(tx)
	})
	if err != nil {
		return err
	}

	middleware.Component("bootstrap").Info("root admin ready",
		slog.Int("user_id", rootUserID), slog.String("email", acct.email))
	return nil
}

func (a rootAccount) updates() map[string]any {
	u := map[string]any{"is_admin": true, "is_banned": false}
	if a.force {
		u["username"] = a.username
		u["email"] = a.email
		u["password"] = a.hash
	}
	return u
}

// resyncUserIDs moves the users id sequence past the pinned root row.
// SQLite needs nothing.
func resyncUserIDs(tx *gorm.DB) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec(`SELECT setval(pg_get_serial_sequence('users', 'id'),
		GREATEST((SELECT COALESCE(MAX(id), 1) FROM users), 1), true)`).Error
}
