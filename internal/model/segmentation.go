package model

import (
	"time"

	"cell-tracker-go/pkg/models"
)

// Роли пользователей
const (
	RolePower   = "PU"
	RoleRegular = "RU"
)

// Experiment эксперимент (последовательность кадров)
type Experiment struct {
	ID         string `gorm:"primaryKey;type:varchar(50)" json:"id"`
	FrameCount int    `gorm:"not null;default:0" json:"frame_count"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Segmentation системная (эталонная) сегментация кадра
type Segmentation struct {
	ID      uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	ExpID   string         `gorm:"type:varchar(50);not null;uniqueIndex:idx_seg_exp_frame" json:"exp_id"`
	FrameNo int            `gorm:"not null;uniqueIndex:idx_seg_exp_frame" json:"frame_no"`
	Data    models.Regions `gorm:"serializer:json;type:jsonb;not null" json:"data"`
	File    string         `gorm:"type:varchar(4096)" json:"file"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// UserSegmentation пользовательская копия сегментации кадра
type UserSegmentation struct {
	ID         uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	Username   string         `gorm:"type:varchar(150);not null;uniqueIndex:idx_useg_user_exp_frame" json:"username"`
	ExpID      string         `gorm:"type:varchar(50);not null;uniqueIndex:idx_useg_user_exp_frame" json:"exp_id"`
	FrameNo    int            `gorm:"not null;uniqueIndex:idx_useg_user_exp_frame" json:"frame_no"`
	NumEdited  int            `gorm:"not null;default:0" json:"num_edited"`
	Data       models.Regions `gorm:"serializer:json;type:jsonb;not null" json:"data"`
	File       string         `gorm:"type:varchar(4096)" json:"file"`
	UpdateTime *time.Time     `json:"update_time"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ExperimentLock блокировка эксперимента power-пользователем
type ExperimentLock struct {
	ExpID      string    `gorm:"primaryKey;type:varchar(50)" json:"exp_id"`
	LockedUser string    `gorm:"type:varchar(150);not null;index" json:"locked_user"`
	LockedTime time.Time `gorm:"not null" json:"locked_time"`
}

// User пользователь и его роль
type User struct {
	Username string `gorm:"primaryKey;type:varchar(150)" json:"username"`
	Role     string `gorm:"type:varchar(2);not null;default:RU" json:"role"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName указывает имя таблицы для Experiment
func (Experiment) TableName() string {
	return "experiments"
}

// TableName указывает имя таблицы для Segmentation
func (Segmentation) TableName() string {
	return "segmentations"
}

// TableName указывает имя таблицы для UserSegmentation
func (UserSegmentation) TableName() string {
	return "user_segmentations"
}

// TableName указывает имя таблицы для ExperimentLock
func (ExperimentLock) TableName() string {
	return "experiment_locks"
}

// TableName указывает имя таблицы для User
func (User) TableName() string {
	return "users"
}
