package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"userdir/internal/models"

	"gorm.io/gorm"
)

var _ UserRepository = (*GORMUserRepository)(nil)

// userRecord is the table row of a user. Position orders the collection:
// Initialize numbers rows from 0 and Create goes one below the current head.
type userRecord struct {
	IDKind   uint8  `gorm:"column:id_kind;primaryKey;autoIncrement:false"`
	IDValue  string `gorm:"column:id_value;primaryKey;type:varchar(255)"`
	Position int64  `gorm:"column:position;index"`
	Name     string `gorm:"type:varchar(255)"`
	Email    string `gorm:"type:varchar(255)"`
	Phone    string `gorm:"type:varchar(100)"`
	Website  string `gorm:"type:varchar(255)"`
	Address  string `gorm:"type:text"` // JSON, empty when absent
	Company  string `gorm:"type:text"` // JSON, empty when absent
}

func (userRecord) TableName() string {
	return "directory_users"
}

// GORMUserRepository is a GORM implementation of UserRepository. It is meant to run
// on an in-memory SQLite database that lives as long as the session.
type GORMUserRepository struct {
	loadState
	db *gorm.DB
}

// NewGORMUserRepository creates a new instance of GORMUserRepository.
func NewGORMUserRepository(db *gorm.DB) *GORMUserRepository {
	r := &GORMUserRepository{db: db}
	r.SetLoading(true)
	return r
}

// AutoMigrate creates the users table.
func (r *GORMUserRepository) AutoMigrate() error {
	if err := r.db.AutoMigrate(&userRecord{}); err != nil {
		return fmt.Errorf("failed to migrate users table: %w", err)
	}
	return nil
}

// Initialize replaces all rows with the given users, keeping their order.
// Records repeating an earlier id are skipped.
func (r *GORMUserRepository) Initialize(ctx context.Context, users []models.User) error {
	users, _ = models.UniqueByID(users)
	records := make([]userRecord, 0, len(users))
	for i, u := range users {
		rec, err := toRecord(u, int64(i))
		if err != nil {
			return err
		}
		records = append(records, rec)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&userRecord{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.CreateInBatches(records, 100).Error
	})
	if err != nil {
		return fmt.Errorf("failed to initialize users: %w", err)
	}
	return nil
}

// Create inserts the user ahead of every existing row.
func (r *GORMUserRepository) Create(ctx context.Context, user models.User) (models.User, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pos int64
		var head userRecord
		err := tx.Order("position asc").Limit(1).Take(&head).Error
		switch {
		case err == nil:
			pos = head.Position - 1
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		rec, err := toRecord(user, pos)
		if err != nil {
			return err
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		return models.User{}, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Update shallow-merges the patch into the stored user.
func (r *GORMUserRepository) Update(ctx context.Context, id models.UserID, patch models.UserPatch) (bool, error) {
	found := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec userRecord
		err := tx.Where(byID(id)).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		current, err := fromRecord(rec)
		if err != nil {
			return err
		}
		next, err := toRecord(patch.Apply(current), rec.Position)
		if err != nil {
			return err
		}
		found = true
		return tx.Save(&next).Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to update user %s: %w", id, err)
	}
	return found, nil
}

// Delete removes the user with the given id.
func (r *GORMUserRepository) Delete(ctx context.Context, id models.UserID) (bool, error) {
	res := r.db.WithContext(ctx).Where(byID(id)).Delete(&userRecord{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to delete user %s: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// GetAll retrieves every user in canonical order.
func (r *GORMUserRepository) GetAll(ctx context.Context) ([]models.User, error) {
	var records []userRecord
	if err := r.db.WithContext(ctx).Order("position asc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to get all users: %w", err)
	}
	users := make([]models.User, 0, len(records))
	for _, rec := range records {
		u, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// GetByID retrieves a single user.
func (r *GORMUserRepository) GetByID(ctx context.Context, id models.UserID) (models.User, bool, error) {
	var rec userRecord
	err := r.db.WithContext(ctx).Where(byID(id)).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, false, nil
	}
	if err != nil {
		return models.User{}, false, fmt.Errorf("failed to get user by ID %s: %w", id, err)
	}
	u, err := fromRecord(rec)
	if err != nil {
		return models.User{}, false, err
	}
	return u, true, nil
}

// Contains reports whether a row with the given id exists.
func (r *GORMUserRepository) Contains(ctx context.Context, id models.UserID) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&userRecord{}).Where(byID(id)).Count(&n).Error; err != nil {
		return false, fmt.Errorf("failed to look up user %s: %w", id, err)
	}
	return n > 0, nil
}

func byID(id models.UserID) map[string]any {
	return map[string]any{"id_kind": uint8(id.Kind()), "id_value": id.String()}
}

func toRecord(u models.User, position int64) (userRecord, error) {
	rec := userRecord{
		IDKind:   uint8(u.ID.Kind()),
		IDValue:  u.ID.String(),
		Position: position,
		Name:     u.Name,
		Email:    u.Email,
		Phone:    u.Phone,
		Website:  u.Website,
	}
	if u.Address != nil {
		b, err := json.Marshal(u.Address)
		if err != nil {
			return userRecord{}, fmt.Errorf("failed to encode address of user %s: %w", u.ID, err)
		}
		rec.Address = string(b)
	}
	if u.Company != nil {
		b, err := json.Marshal(u.Company)
		if err != nil {
			return userRecord{}, fmt.Errorf("failed to encode company of user %s: %w", u.ID, err)
		}
		rec.Company = string(b)
	}
	return rec, nil
}

func fromRecord(rec userRecord) (models.User, error) {
	u := models.User{
		Name:    rec.Name,
		Email:   rec.Email,
		Phone:   rec.Phone,
		Website: rec.Website,
	}
	switch models.IDKind(rec.IDKind) {
	case models.NumericID:
		n, err := strconv.ParseInt(rec.IDValue, 10, 64)
		if err != nil {
			return models.User{}, fmt.Errorf("corrupt numeric id %q: %w", rec.IDValue, err)
		}
		u.ID = models.NumericUserID(n)
	case models.ExternalID:
		u.ID = models.ExternalUserID(rec.IDValue)
	}
	if rec.Address != "" {
		u.Address = new(models.Address)
		if err := json.Unmarshal([]byte(rec.Address), u.Address); err != nil {
			return models.User{}, fmt.Errorf("failed to decode address of user %s: %w", u.ID, err)
		}
	}
	if rec.Company != "" {
		u.Company = new(models.Company)
		if err := json.Unmarshal([]byte(rec.Company), u.Company); err != nil {
			return models.User{}, fmt.Errorf("failed to decode company of user %s: %w", u.ID, err)
		}
	}
	return u, nil
}
