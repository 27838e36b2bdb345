package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yeremiapane/table-order/models"
	"github.com/yeremiapane/table-order/utils"
)

const maxTableLabelLength = 20

// TableService manages tables and the QR credentials printed on them.
type TableService struct {
	DB         *gorm.DB
	Slugs      *utils.SlugEncoder
	BaseURL    string
	TokenBytes int
	Now        func() time.Time
}

func NewTableService(db *gorm.DB, slugs *utils.SlugEncoder, baseURL string) *TableService {
	return &TableService{
		DB:         db,
		Slugs:      slugs,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		TokenBytes: utils.DefaultTokenBytes,
		Now:        utcNow,
	}
}

type EnsureTableInput struct {
	Label     string `json:"label"`
	Active    *bool  `json:"active"`
	Exclusive *bool  `json:"exclusive"`
}

type EnsuredTable struct {
	Table   models.Table `json:"table"`
	Created bool         `json:"created"`
	SlugURL string       `json:"slug_url"`
}

// EnsureTable returns the table with the given label, creating it (and its
// slug) when missing. Existing tables get the flags that were supplied.
func (s *TableService) EnsureTable(ctx context.Context, in EnsureTableInput) (*EnsuredTable, error) {
	label := strings.TrimSpace(in.Label)
	if label == "" {
		return nil, utils.NewValidationError("label is required")
	}
	if len(label) > maxTableLabelLength {
		return nil, utils.NewValidationError("label must be at most %d characters", maxTableLabelLength)
	}

	out := &EnsuredTable{}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var table models.Table
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("label = ?", label).First(&table).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			placeholder, err := utils.RandomToken(8)
			if err != nil {
				return err
			}
			table = models.Table{
				Label:            label,
				Slug:             "tmp-" + placeholder,
				IsActive:         boolOr(in.Active, true),
				ExclusiveSession: boolOr(in.Exclusive, true),
			}
			if err := tx.Create(&table).Error; err != nil {
				return fmt.Errorf("create table: %w", err)
			}
			out.Created = true
		case err != nil:
			return fmt.Errorf("load table: %w", err)
		default:
			updates := map[string]interface{}{}
			if in.Active != nil {
				updates["is_active"] = *in.Active
			}
			if in.Exclusive != nil {
				updates["exclusive_session"] = *in.Exclusive
			}
			if len(updates) > 0 {
				if err := tx.Model(&table).Updates(updates).Error; err != nil {
					return fmt.Errorf("update table: %w", err)
				}
				table.IsActive = boolOr(in.Active, table.IsActive)
				table.ExclusiveSession = boolOr(in.Exclusive, table.ExclusiveSession)
			}
		}

		if out.Created || table.Slug == "" {
			slug, err := s.Slugs.Encode(int64(table.ID))
			if err != nil {
				return err
			}
			if err := tx.Model(&table).Update("slug", slug).Error; err != nil {
				return fmt.Errorf("set table slug: %w", err)
			}
			table.Slug = slug
		}

		out.Table = table
		return nil
	})
	if err != nil {
		return nil, err
	}

	out.SlugURL = s.slugURL(out.Table.Slug)
	if out.Created {
		utils.InfoLogger.WithFields(logrus.Fields{"table_id": out.Table.ID, "label": label}).Info("table created")
	}
	return out, nil
}

type RotatedToken struct {
	TableID   uint       `json:"table_id"`
	Label     string     `json:"label"`
	Slug      string     `json:"slug"`
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	TokenURL  string     `json:"token_url"`
	SlugURL   string     `json:"slug_url"`
	Revoked   int64      `json:"revoked"`
}

// RotateToken revokes the table's active QR tokens, issues a new one and
// gives the table a fresh slug. ttl <= 0 issues a token without expiry.
func (s *TableService) RotateToken(ctx context.Context, tableID uint, ttl time.Duration) (*RotatedToken, error) {
	out := &RotatedToken{}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var table models.Table
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&table, tableID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.NewNotFoundError("table not found")
		}
		if err != nil {
			return fmt.Errorf("lock table: %w", err)
		}

		now := s.now()
		slug, err := s.Slugs.Encode(int64(table.ID), now.UnixMilli())
		if err != nil {
			return err
		}
		if err := tx.Model(&table).Update("slug", slug).Error; err != nil {
			return fmt.Errorf("rotate slug: %w", err)
		}

		res := tx.Model(&models.AccessToken{}).
			Where("table_id = ? AND status = ?", table.ID, models.AccessTokenActive).
			Updates(map[string]interface{}{"status": models.AccessTokenRevoked, "revoked_at": now})
		if res.Error != nil {
			return fmt.Errorf("revoke tokens: %w", res.Error)
		}

		code, err := utils.RandomToken(s.TokenBytes)
		if err != nil {
			return err
		}
		tok := models.AccessToken{TableID: table.ID, Token: code, Status: models.AccessTokenActive}
		if ttl > 0 {
			exp := now.Add(ttl)
			tok.ExpiresAt = &exp
		}
		if err := tx.Omit(clause.Associations).Create(&tok).Error; err != nil {
			return fmt.Errorf("issue token: %w", err)
		}

		*out = RotatedToken{
			TableID:   table.ID,
			Label:     table.Label,
			Slug:      slug,
			Token:     code,
			ExpiresAt: tok.ExpiresAt,
			Revoked:   res.RowsAffected,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out.TokenURL = fmt.Sprintf("%s/t/%s", s.BaseURL, out.Token)
	out.SlugURL = s.slugURL(out.Slug)
	utils.InfoLogger.WithFields(logrus.Fields{"table_id": out.TableID, "revoked": out.Revoked}).Info("table QR token rotated")
	return out, nil
}

// ListTables returns every table ordered by label.
func (s *TableService) ListTables(ctx context.Context) ([]models.Table, error) {
	var tables []models.Table
	err := s.DB.WithContext(ctx).Order("label").Find(&tables).Error
	return tables, err
}

// ActiveMenu lists the products a diner can order.
func (s *TableService) ActiveMenu(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.DB.WithContext(ctx).Where("is_active = ?", true).Order("name").Find(&products).Error
	return products, err
}

func (s *TableService) slugURL(slug string) string {
	return fmt.Sprintf("%s/s/%s", s.BaseURL, slug)
}

func (s *TableService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return utcNow()
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
