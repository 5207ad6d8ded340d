package infrastructure

import (
	"context"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/nayanjcode/OBAI-InventoryService/internal/pkg/bootstrap"
	"github.com/nayanjcode/OBAI-InventoryService/internal/service/inventory/domain"
)

// NewMySQLDB 根据配置打开 MySQL 连接池
func NewMySQLDB(cfg bootstrap.MySQLConfig) (*gorm.DB, error) {
	dsnCfg := mysql.NewConfig()
	dsnCfg.User = cfg.User
	dsnCfg.Passwd = cfg.Password
	dsnCfg.Net = "tcp"
	dsnCfg.Addr = cfg.Addr
	dsnCfg.DBName = cfg.Database
	dsnCfg.ParseTime = true
	dsnCfg.Loc = time.UTC
	dsnCfg.Params = map[string]string{"charset": "utf8mb4"}

	db, err := gorm.Open(gormmysql.Open(dsnCfg.FormatDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect mysql at %s", cfg.Addr)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get sql.DB")
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	return db, nil
}

// AutoMigrate 创建或更新三张表
func AutoMigrate(db *gorm.DB) error {
	return errors.Wrap(db.AutoMigrate(&ProductModel{}, &ReservationModel{}, &SettlementModel{}), "auto migrate")
}

// GormStore 是 domain.Store 的 GORM 实现
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建一个新的 GORM 仓储实例
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Products() domain.ProductRepository         { return &gormProductRepository{db: s.db} }
func (s *GormStore) Reservations() domain.ReservationRepository { return &gormReservationRepository{db: s.db} }
func (s *GormStore) Settlements() domain.SettlementRepository   { return &gormSettlementRepository{db: s.db} }

// WithinTx fn 返回错误时整个事务回滚
func (s *GormStore) WithinTx(ctx context.Context, fn func(tx domain.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

type gormProductRepository struct {
	db *gorm.DB
}

func (r *gormProductRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	var model ProductModel
	err := r.db.WithContext(ctx).Where("product_id = ?", id.String()).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrProductNotFound
		}
		return nil, errors.Wrapf(err, "find product %s", id)
	}
	return ToDomainProduct(&model)
}

func (r *gormProductRepository) FindAll(ctx context.Context) ([]domain.Product, error) {
	var models []ProductModel
	if err := r.db.WithContext(ctx).Order("product_id").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	products := make([]domain.Product, 0, len(models))
	for i := range models {
		p, err := ToDomainProduct(&models[i])
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, nil
}

func (r *gormProductRepository) Save(ctx context.Context, product *domain.Product) error {
	model := FromDomainProduct(product)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "last_updated"}),
	}).Create(model).Error
	return errors.Wrapf(err, "save product %s", product.ProductID)
}

func (r *gormProductRepository) DeductQuantity(ctx context.Context, id uuid.UUID, amount int) error {
	res := r.db.WithContext(ctx).Model(&ProductModel{}).
		Where("product_id = ?", id.String()).
		Updates(map[string]interface{}{
			"quantity":     gorm.Expr("quantity - ?", amount),
			"last_updated": time.Now().UTC(),
		})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "deduct product %s", id)
	}
	if res.RowsAffected == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

type gormReservationRepository struct {
	db *gorm.DB
}

func (r *gormReservationRepository) Insert(ctx context.Context, reservation *domain.Reservation) error {
	model := FromDomainReservation(reservation)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return errors.Wrapf(err, "insert reservation for order %s", reservation.OrderID)
	}
	reservation.ID = model.ID
	return nil
}

func (r *gormReservationRepository) SumByProduct(ctx context.Context, productID uuid.UUID) (int, error) {
	var sum int64
	err := r.db.WithContext(ctx).Model(&ReservationModel{}).
		Where("product_id = ?", productID.String()).
		Select("COALESCE(SUM(reserved_quantity), 0)").
		Scan(&sum).Error
	if err != nil {
		return 0, errors.Wrapf(err, "sum reservations of product %s", productID)
	}
	return int(sum), nil
}

func (r *gormReservationRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Reservation, error) {
	var models []ReservationModel
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID.String()).Order("id").Find(&models).Error; err != nil {
		return nil, errors.Wrapf(err, "list reservations of order %s", orderID)
	}
	out := make([]domain.Reservation, 0, len(models))
	for i := range models {
		res, err := ToDomainReservation(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, nil
}

func (r *gormReservationRepository) DeleteByOrder(ctx context.Context, orderID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Where("order_id = ?", orderID.String()).Delete(&ReservationModel{})
	if res.Error != nil {
		return 0, errors.Wrapf(res.Error, "delete reservations of order %s", orderID)
	}
	return res.RowsAffected, nil
}

func (r *gormReservationRepository) ListOrdersCreatedBefore(ctx context.Context, before time.Time) ([]uuid.UUID, error) {
	var raw []string
	err := r.db.WithContext(ctx).Model(&ReservationModel{}).
		Where("created_at < ?", before.UTC()).
		Distinct().
		Pluck("order_id", &raw).Error
	if err != nil {
		return nil, errors.Wrap(err, "list stale orders")
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, errors.Wrapf(err, "corrupt order id %q", s)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

type gormSettlementRepository struct {
	db *gorm.DB
}

func (r *gormSettlementRepository) FindByOrder(ctx context.Context, orderID uuid.UUID) (*domain.Settlement, error) {
	var model SettlementModel
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID.String()).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSettlementNotFound
		}
		return nil, errors.Wrapf(err, "find settlement of order %s", orderID)
	}
	return ToDomainSettlement(&model)
}

// Save 主键冲突时什么也不做，保留最先写入的结局
func (r *gormSettlementRepository) Save(ctx context.Context, s *domain.Settlement) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(FromDomainSettlement(s)).Error
	return errors.Wrapf(err, "save settlement of order %s", s.OrderID)
}
