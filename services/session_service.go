package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yeremiapane/table-order/metrics"
	"github.com/yeremiapane/table-order/models"
	"github.com/yeremiapane/table-order/utils"
)

// SessionConfig carries the session settings read from the environment.
type SessionConfig struct {
	AbsTTL         time.Duration
	IdleTTL        time.Duration
	TokenBytes     int
	SharedCode     string
	SharedCodeHash string
}

// SessionService issues, validates and closes table ordering sessions.
type SessionService struct {
	DB      *gorm.DB
	Cfg     SessionConfig
	Retry   RetryPolicy
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func NewSessionService(db *gorm.DB, cfg SessionConfig, policy RetryPolicy, m *metrics.Metrics) *SessionService {
	return &SessionService{DB: db, Cfg: cfg, Retry: policy, Metrics: m, Now: utcNow}
}

type TableRef struct {
	ID    uint   `json:"id"`
	Label string `json:"label"`
	Slug  string `json:"slug"`
}

// OpenedSession is what a diner receives after redeeming a code.
type OpenedSession struct {
	SessionToken   string   `json:"session_token"`
	SessionID      uint     `json:"session_id"`
	Table          TableRef `json:"table"`
	AbsTTLMinutes  int      `json:"abs_ttl_min"`
	IdleTTLMinutes int      `json:"idle_ttl_min"`
}

// OpenByToken redeems a per-table QR access token.
func (s *SessionService) OpenByToken(ctx context.Context, code string) (*OpenedSession, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, utils.NewValidationError("code is required")
	}

	var (
		opened  *OpenedSession
		expired bool
	)
	err := WithRetry(ctx, s.policy("session.open_token"), func(ctx context.Context) error {
		opened, expired = nil, false
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var tok models.AccessToken
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("token = ? AND status = ?", code, models.AccessTokenActive).
				First(&tok).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.NewSessionError("invalid or revoked token")
			}
			if err != nil {
				return fmt.Errorf("load access token: %w", err)
			}

			if tok.ExpiresAt != nil && tok.ExpiresAt.Before(s.now()) {
				// Committed even though the redemption fails.
				expired = true
				return tx.Model(&tok).Update("status", models.AccessTokenExpired).Error
			}

			table, err := lockActiveTable(tx, "id = ?", tok.TableID)
			if err != nil {
				return err
			}
			opened, err = s.openSessionForTable(tx, table, &tok.ID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, utils.NewSessionError("token expired")
	}

	s.opened("token", opened)
	return opened, nil
}

// OpenBySharedCode redeems the shared code for the table identified by slug.
func (s *SessionService) OpenBySharedCode(ctx context.Context, slug, code string) (*OpenedSession, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" || code == "" {
		return nil, utils.NewValidationError("slug and code are required")
	}
	if err := s.checkSharedCode(code); err != nil {
		return nil, err
	}

	var opened *OpenedSession
	err := WithRetry(ctx, s.policy("session.open_slug"), func(ctx context.Context) error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			table, err := lockActiveTable(tx, "slug = ?", slug)
			if err != nil {
				return err
			}
			opened, err = s.openSessionForTable(tx, table, nil)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.opened("shared_code", opened)
	return opened, nil
}

func (s *SessionService) checkSharedCode(code string) error {
	switch {
	case s.Cfg.SharedCodeHash != "":
		if bcrypt.CompareHashAndPassword([]byte(s.Cfg.SharedCodeHash), []byte(code)) != nil {
			return utils.NewUnauthorizedError("invalid code")
		}
	case s.Cfg.SharedCode != "":
		if subtle.ConstantTimeCompare([]byte(s.Cfg.SharedCode), []byte(code)) != 1 {
			return utils.NewUnauthorizedError("invalid code")
		}
	default:
		return utils.NewUnauthorizedError("shared code redemption is disabled")
	}
	return nil
}

// openSessionForTable expects the table row to be locked by tx.
func (s *SessionService) openSessionForTable(tx *gorm.DB, table *models.Table, tokenID *uint) (*OpenedSession, error) {
	now := s.now()

	if table.ExclusiveSession {
		err := tx.Model(&models.Session{}).
			Where("table_id = ? AND status = ?", table.ID, models.SessionStatusOpen).
			Updates(map[string]interface{}{
				"status":        models.SessionStatusClosed,
				"active_flag":   false,
				"closed_reason": models.SessionReasonNewSession,
			}).Error
		if err != nil {
			return nil, fmt.Errorf("close previous sessions: %w", err)
		}
	}

	token, err := utils.RandomToken(s.Cfg.TokenBytes)
	if err != nil {
		return nil, err
	}
	ses := models.Session{
		TableID:       table.ID,
		AccessTokenID: tokenID,
		Token:         token,
		Status:        models.SessionStatusOpen,
		ActiveFlag:    true,
		LastActiveAt:  now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.Omit(clause.Associations).Create(&ses).Error; err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if table.ExclusiveSession {
		err := tx.Model(&models.Table{}).Where("id = ?", table.ID).Update("current_session_id", ses.ID).Error
		if err != nil {
			return nil, fmt.Errorf("set current session: %w", err)
		}
	}

	abs, idle := s.ttlFor(table)
	return &OpenedSession{
		SessionToken:   token,
		SessionID:      ses.ID,
		Table:          TableRef{ID: table.ID, Label: table.Label, Slug: table.Slug},
		AbsTTLMinutes:  int(abs / time.Minute),
		IdleTTLMinutes: int(idle / time.Minute),
	}, nil
}

// ValidateOnRequest resolves the session behind a bearer token, expiring it
// lazily when a TTL has passed, and records the activity.
func (s *SessionService) ValidateOnRequest(ctx context.Context, token string) (*models.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, utils.NewUnauthorizedError("session token is required")
	}
	db := s.DB.WithContext(ctx)

	var ses models.Session
	err := db.Where("token = ? AND status = ?", token, models.SessionStatusOpen).First(&ses).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.rejected("invalid")
		return nil, utils.NewSessionError("invalid or closed session")
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var table models.Table
	err = db.First(&table, ses.TableID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.rejected("invalid")
		return nil, utils.NewSessionError("table not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load table: %w", err)
	}

	if table.ExclusiveSession && (table.CurrentSessionID == nil || *table.CurrentSessionID != ses.ID) {
		s.rejected("superseded")
		return nil, utils.NewSessionError("session superseded")
	}

	now := s.now()
	abs, idle := s.ttlFor(&table)
	lastActive := ses.LastActiveAt
	if lastActive.IsZero() {
		lastActive = ses.CreatedAt
	}
	reason := ""
	switch {
	case now.Sub(ses.CreatedAt) > abs:
		reason = models.SessionReasonAbsoluteTTL
	case now.Sub(lastActive) > idle:
		reason = models.SessionReasonIdleTTL
	}
	if reason != "" {
		err := s.finish(ctx, &ses, models.SessionStatusExpired, reason)
		if err != nil && utils.KindOf(err) != utils.KindConflict {
			return nil, err
		}
		s.rejected("expired")
		return nil, utils.NewSessionError("session expired")
	}

	res := db.Model(&models.Session{}).
		Where("id = ? AND status = ?", ses.ID, models.SessionStatusOpen).
		Update("last_active_at", now)
	if res.Error != nil {
		return nil, fmt.Errorf("touch session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		s.rejected("invalid")
		return nil, utils.NewSessionError("invalid or closed session")
	}

	ses.LastActiveAt = now
	ses.Table = table
	return &ses, nil
}

// CloseByID closes an OPEN session on staff request.
func (s *SessionService) CloseByID(ctx context.Context, id uint) (*models.Session, error) {
	var ses models.Session
	err := s.DB.WithContext(ctx).First(&ses, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.NewNotFoundError("session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if ses.Status != models.SessionStatusOpen {
		return nil, utils.NewConflictError("session is already %s", strings.ToLower(ses.Status))
	}

	if err := s.finish(ctx, &ses, models.SessionStatusClosed, models.SessionReasonStaffClosed); err != nil {
		return nil, err
	}

	utils.InfoLogger.WithFields(logrus.Fields{"session_id": ses.ID, "table_id": ses.TableID}).Info("session closed by staff")
	return &ses, nil
}

// finish moves an OPEN session to a terminal status and releases the table
// pointer if it still designates this session. A session that is no longer
// OPEN is reported as a conflict.
func (s *SessionService) finish(ctx context.Context, ses *models.Session, status, reason string) error {
	return WithRetry(ctx, s.policy("session.finish"), func(ctx context.Context) error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.Session{}).
				Where("id = ? AND status = ?", ses.ID, models.SessionStatusOpen).
				Updates(map[string]interface{}{
					"status":        status,
					"active_flag":   false,
					"closed_reason": reason,
				})
			if res.Error != nil {
				return fmt.Errorf("update session: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return utils.NewConflictError("session is no longer open")
			}

			err := tx.Model(&models.Table{}).
				Where("id = ? AND current_session_id = ?", ses.TableID, ses.ID).
				Update("current_session_id", nil).Error
			if err != nil {
				return fmt.Errorf("release table: %w", err)
			}

			ses.Status = status
			ses.ActiveFlag = false
			ses.ClosedReason = &reason
			return nil
		})
	})
}

func (s *SessionService) ttlFor(table *models.Table) (abs, idle time.Duration) {
	abs, idle = s.Cfg.AbsTTL, s.Cfg.IdleTTL
	if table.AbsTTLMinutes != nil {
		abs = time.Duration(*table.AbsTTLMinutes) * time.Minute
	}
	if table.IdleTTLMinutes != nil {
		idle = time.Duration(*table.IdleTTLMinutes) * time.Minute
	}
	return abs, idle
}

func (s *SessionService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return utcNow()
}

func (s *SessionService) policy(op string) RetryPolicy {
	return withRetryMetrics(s.Retry, s.Metrics, op)
}

func (s *SessionService) opened(method string, o *OpenedSession) {
	if s.Metrics != nil {
		s.Metrics.SessionsOpened.WithLabelValues(method).Inc()
	}
	utils.InfoLogger.WithFields(logrus.Fields{
		"session_id": o.SessionID,
		"table_id":   o.Table.ID,
		"method":     method,
	}).Info("session opened")
}

func (s *SessionService) rejected(reason string) {
	if s.Metrics != nil {
		s.Metrics.SessionsRejected.WithLabelValues(reason).Inc()
	}
}

// lockActiveTable loads one table FOR UPDATE and requires it to be active.
func lockActiveTable(tx *gorm.DB, query string, args ...interface{}) (*models.Table, error) {
	var table models.Table
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(query, args...).First(&table).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.NewNotFoundError("table not found or inactive")
	}
	if err != nil {
		return nil, fmt.Errorf("lock table: %w", err)
	}
	if !table.IsActive {
		return nil, utils.NewNotFoundError("table not found or inactive")
	}
	return &table, nil
}

func utcNow() time.Time { return time.Now().UTC() }
