package store

import (
	"context"
	"errors"
	"time"

	"cell-tracker-go/pkg/models"
)

// ErrRecordNotFound для кадра нет ни пользовательской, ни системной записи
var ErrRecordNotFound = errors.New("segmentation record not found")

// Tier уровень, из которого получена запись
type Tier int

const (
	// TierNone запись не найдена
	TierNone Tier = iota
	// TierUser пользовательская копия
	TierUser
	// TierSystem системная сегментация
	TierSystem
)

func (t Tier) String() string {
	switch t {
	case TierUser:
		return "user"
	case TierSystem:
		return "system"
	default:
		return "none"
	}
}

// FrameRecord сегментация одного кадра. Пустой Username означает системную запись.
type FrameRecord struct {
	ExperimentID string
	FrameNo      int
	Username     string
	Regions      models.Regions
	NumEdited    int
	UpdateTime   *time.Time
}

// IsUser принадлежит ли запись пользователю
func (r *FrameRecord) IsUser() bool {
	return r.Username != ""
}

// Clone глубокая копия записи
func (r *FrameRecord) Clone() *FrameRecord {
	out := *r
	out.Regions = r.Regions.Clone()
	if r.UpdateTime != nil {
		t := *r.UpdateTime
		out.UpdateTime = &t
	}
	return &out
}

// Lookup результат двухуровневого поиска
type Lookup struct {
	Record *FrameRecord
	Tier   Tier
}

// Found найдена ли запись
func (l Lookup) Found() bool {
	return l.Tier != TierNone && l.Record != nil
}

// Store контракт хранилища, которым пользуется движок трекинга
type Store interface {
	// Get возвращает запись пользователя, а при ее отсутствии системную.
	// Пустой username читает только системный уровень.
	Get(ctx context.Context, expID string, frameNo int, username string) (Lookup, error)
	// GetOrSynthesizeForUser возвращает запись пользователя или новую копию
	// системной записи. Второй результат сообщает, была ли запись синтезирована.
	GetOrSynthesizeForUser(ctx context.Context, expID string, frameNo int, username string) (*FrameRecord, bool, error)
	// Save идемпотентно сохраняет запись по (exp, frame[, user])
	Save(ctx context.Context, record *FrameRecord) error
	// FrameCount количество кадров или -1, если эксперимента нет
	FrameCount(ctx context.Context, expID string) (int, error)
}

// synthesize строит пользовательскую запись из системной
func synthesize(system *FrameRecord, username string, now time.Time) *FrameRecord {
	return &FrameRecord{
		ExperimentID: system.ExperimentID,
		FrameNo:      system.FrameNo,
		Username:     username,
		Regions:      system.Regions.Clone(),
		NumEdited:    0,
		UpdateTime:   &now,
	}
}
