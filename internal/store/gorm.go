package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"P2PEscrow/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Gorm is the embedded Store used for single-node deployments and tests.
type Gorm struct {
	DB   *gorm.DB
	inTx bool
}

func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{DB: db}
}

// OpenSQLite opens (or creates) a SQLite database and migrates the schema.
// SQLite allows one writer, so the pool is capped at a single connection.
func OpenSQLite(dsn string) (*Gorm, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	if err := AutoMigrate(db); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return NewGorm(db), nil
}

// OpenMemory opens a private in-memory SQLite database.
func OpenMemory() (*Gorm, error) {
	return OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.Order{}, &models.Escrow{}, &models.Verification{})
}

func (s *Gorm) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Gorm) InTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Gorm{DB: tx, inTx: true})
	})
}

func (s *Gorm) InsertOrder(ctx context.Context, order *models.Order) error {
	return s.DB.WithContext(ctx).Create(order).Error
}

func (s *Gorm) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

func (s *Gorm) FindOrders(ctx context.Context, f OrderFilter) ([]*models.Order, error) {
	q := s.DB.WithContext(ctx).Model(&models.Order{})
	if f.SellerID != "" {
		q = q.Where("seller_id = ?", f.SellerID)
	}
	if f.BuyerID != "" {
		q = q.Where("buyer_id = ?", f.BuyerID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			statuses = append(statuses, string(st))
		}
		q = q.Where("status IN ?", statuses)
	}
	if f.LockRequestedSince != nil {
		q = q.Where("lock_requested_at >= ?", f.LockRequestedSince.UTC())
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var orders []*models.Order
	if err := q.Order("created_at ASC, id ASC").Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Gorm) PatchOrder(ctx context.Context, id string, p OrderPatch) (*models.Order, error) {
	updates := map[string]any{}
	if p.Status != nil {
		updates["status"] = string(*p.Status)
	}
	if p.BuyerID != nil {
		updates["buyer_id"] = *p.BuyerID
	}
	if p.EscrowID != nil {
		updates["escrow_id"] = *p.EscrowID
	}
	if p.DisputeReason != nil {
		updates["dispute_reason"] = *p.DisputeReason
	}
	if p.LockRequestedAt != nil {
		updates["lock_requested_at"] = p.LockRequestedAt.UTC()
	}
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	updates["updated_at"] = updatedAt.UTC()

	q := s.DB.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id)
	if p.ExpectStatus != nil {
		q = q.Where("status = ?", string(*p.ExpectStatus))
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, s.missingOrConflict(ctx, &models.Order{}, id)
	}
	return s.GetOrder(ctx, id)
}

func (s *Gorm) InsertEscrow(ctx context.Context, escrow *models.Escrow) error {
	return s.DB.WithContext(ctx).Create(escrow).Error
}

func (s *Gorm) GetEscrow(ctx context.Context, id string) (*models.Escrow, error) {
	var escrow models.Escrow
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&escrow).Error; err != nil {
		return nil, notFound(err)
	}
	return &escrow, nil
}

func (s *Gorm) FindEscrows(ctx context.Context, f EscrowFilter) ([]*models.Escrow, error) {
	q := s.DB.WithContext(ctx).Model(&models.Escrow{})
	if f.OrderID != "" {
		q = q.Where("order_id = ?", f.OrderID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			statuses = append(statuses, string(st))
		}
		q = q.Where("status IN ?", statuses)
	}
	if f.ExpiresBefore != nil {
		q = q.Where("expires_at <= ?", f.ExpiresBefore.UTC())
	}
	var escrows []*models.Escrow
	if err := q.Order("expires_at ASC, id ASC").Find(&escrows).Error; err != nil {
		return nil, err
	}
	return escrows, nil
}

func (s *Gorm) PatchEscrow(ctx context.Context, id string, p EscrowPatch) (*models.Escrow, error) {
	updates := map[string]any{}
	if p.Status != nil {
		updates["status"] = string(*p.Status)
	}
	if p.ResolvedAt != nil {
		updates["resolved_at"] = p.ResolvedAt.UTC()
	}
	if len(updates) == 0 {
		return s.GetEscrow(ctx, id)
	}

	q := s.DB.WithContext(ctx).Model(&models.Escrow{}).Where("id = ?", id)
	if p.ExpectStatus != nil {
		q = q.Where("status = ?", string(*p.ExpectStatus))
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, s.missingOrConflict(ctx, &models.Escrow{}, id)
	}
	return s.GetEscrow(ctx, id)
}

func (s *Gorm) InsertVerification(ctx context.Context, v *models.Verification) error {
	return s.DB.WithContext(ctx).Create(v).Error
}

func (s *Gorm) GetVerification(ctx context.Context, id string) (*models.Verification, error) {
	var v models.Verification
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&v).Error; err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

func (s *Gorm) FindVerifications(ctx context.Context, f VerificationFilter) ([]*models.Verification, error) {
	q := s.DB.WithContext(ctx).Model(&models.Verification{})
	if f.OrderID != "" {
		q = q.Where("order_id = ?", f.OrderID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			statuses = append(statuses, string(st))
		}
		q = q.Where("status IN ?", statuses)
	}
	var out []*models.Verification
	if err := q.Order("created_at ASC, id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Gorm) PatchVerification(ctx context.Context, id string, p VerificationPatch) (*models.Verification, error) {
	updates := map[string]any{}
	if p.Status != nil {
		updates["status"] = string(*p.Status)
	}
	if p.VerifiedBy != nil {
		updates["verified_by"] = *p.VerifiedBy
	}
	if p.VerifiedAt != nil {
		updates["verified_at"] = p.VerifiedAt.UTC()
	}
	if p.Notes != nil {
		updates["notes"] = *p.Notes
	}
	if len(updates) == 0 {
		return s.GetVerification(ctx, id)
	}

	q := s.DB.WithContext(ctx).Model(&models.Verification{}).Where("id = ?", id)
	if p.ExpectStatus != nil {
		q = q.Where("status = ?", string(*p.ExpectStatus))
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, s.missingOrConflict(ctx, &models.Verification{}, id)
	}
	return s.GetVerification(ctx, id)
}

func (s *Gorm) missingOrConflict(ctx context.Context, model any, id string) error {
	var count int64
	if err := s.DB.WithContext(ctx).Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrConflict
	}
	return ErrNotFound
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
