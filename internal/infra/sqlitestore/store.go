// Package sqlitestore is the local, no-backend variant of the expense
// store: a single SQLite file loaded at session start and written on every
// mutation. It satisfies the same contract as the hosted store, minus the
// push channel.
package sqlitestore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dvloznov/spendwise/internal/domain"
	"github.com/dvloznov/spendwise/internal/store"
)

// expenseModel is the persisted shape of one record. CreatedAt is epoch
// milliseconds, matching the domain type rather than gorm's timestamp
// convention.
type expenseModel struct {
	ID          string `gorm:"primaryKey"`
	Amount      float64
	Date        string `gorm:"index"`
	Category    string
	Description string
	CreatedAt   int64
}

func (expenseModel) TableName() string { return "expenses" }

// Store is a file-backed ExpenseStore.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger

	clock func() int64 // epoch ms, swappable in tests
}

// New opens (or creates) the SQLite file at path and migrates the schema.
func New(path string, log zerolog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&expenseModel{}); err != nil {
		return nil, err
	}
	return &Store{db: db, log: log, clock: func() int64 { return time.Now().UnixMilli() }}, nil
}

// CheckConnection probes the local file. There is no schema-missing case:
// AutoMigrate created the table at open time.
func (s *Store) CheckConnection(ctx context.Context) store.ConnectionCheck {
	var count int64
	if err := s.db.WithContext(ctx).Model(&expenseModel{}).Count(&count).Error; err != nil {
		return store.ConnectionCheck{Connected: false, Err: err.Error()}
	}
	return store.ConnectionCheck{Connected: true}
}

// FetchExpenses returns all records ordered by date descending. Errors
// degrade to an empty slice, same policy as the hosted store.
func (s *Store) FetchExpenses(ctx context.Context) []domain.Expense {
	var models []expenseModel
	err := s.db.WithContext(ctx).
		Order("date desc, created_at desc").
		Find(&models).Error
	if err != nil {
		s.log.Warn().Err(err).Msg("Fetching expenses from sqlite failed, returning empty set")
		return []domain.Expense{}
	}

	expenses := make([]domain.Expense, 0, len(models))
	for _, m := range models {
		category, _ := domain.ParseCategory(m.Category)
		expenses = append(expenses, domain.Expense{
			ID:          m.ID,
			Amount:      m.Amount,
			Date:        m.Date,
			Category:    category,
			Description: m.Description,
			CreatedAt:   m.CreatedAt,
		})
	}
	return expenses
}

// InsertExpense assigns an id and creation instant and writes the record.
// Here the local file is the durable store, so the assigned id is a plain
// UUID, not a local-only placeholder.
func (s *Store) InsertExpense(ctx context.Context, e domain.NewExpense) *domain.Expense {
	model := expenseModel{
		ID:          uuid.NewString(),
		Amount:      e.Amount,
		Date:        e.Date,
		Category:    string(e.Category),
		Description: e.Description,
		CreatedAt:   s.clock(),
	}

	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		s.log.Warn().Err(err).Msg("Inserting expense into sqlite failed")
		return nil
	}

	return &domain.Expense{
		ID:          model.ID,
		Amount:      model.Amount,
		Date:        model.Date,
		Category:    e.Category,
		Description: model.Description,
		CreatedAt:   model.CreatedAt,
	}
}

// RemoveExpense deletes by id.
func (s *Store) RemoveExpense(ctx context.Context, id string) bool {
	res := s.db.WithContext(ctx).Delete(&expenseModel{}, "id = ?", id)
	if res.Error != nil {
		s.log.Warn().Err(res.Error).Str("expense_id", id).Msg("Deleting expense from sqlite failed")
		return false
	}
	return res.RowsAffected > 0
}

// Subscribe reports that the local file has no push channel.
func (s *Store) Subscribe(ctx context.Context, fn func(store.ChangeEvent)) error {
	return store.ErrNoRealtime
}
