package syncer

import (
	"bytes"
	"context"
	"os"
	"time"

	"cell-tracker-go/internal/archive"
	"cell-tracker-go/internal/metrics"
	"cell-tracker-go/pkg/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Coordinator записывает документы сегментации в архив
type Coordinator struct {
	archive archive.Store
	logger  *logrus.Logger
	tempDir string
	now     func() time.Time
}

// NewCoordinator создает координатор. Пустой tempDir означает os.TempDir().
func NewCoordinator(store archive.Store, logger *logrus.Logger, tempDir string) *Coordinator {
	return &Coordinator{
		archive: store,
		logger:  logger,
		tempDir: tempDir,
		now:     time.Now,
	}
}

// SyncFrame сериализует регионы кадра и загружает документ по пути
// {exp}/data/segmentation/frame{N}.json или
// {exp}/data/user_segmentation/{username}/frame{N}.json.
func (c *Coordinator) SyncFrame(ctx context.Context, expID, username string, frameNo int, regions models.Regions) (string, error) {
	name := archive.SegmentationPath(expID, frameNo, username)
	if err := c.upload(ctx, name, regions); err != nil {
		metrics.ArchiveSyncs.WithLabelValues("error").Inc()
		return name, err
	}
	metrics.ArchiveSyncs.WithLabelValues("ok").Inc()
	c.logger.Debugf("Документ %s синхронизирован с архивом", name)
	return name, nil
}

// SyncPowerUserEdit сохраняет правку power-пользователя: его собственную копию,
// резервную копию текущего системного документа и новый системный документ.
func (c *Coordinator) SyncPowerUserEdit(ctx context.Context, expID, username string, frameNo int, regions models.Regions) error {
	if _, err := c.SyncFrame(ctx, expID, username, frameNo, regions); err != nil {
		return err
	}

	systemPath := archive.SegmentationPath(expID, frameNo, "")
	previous, err := c.archive.Get(ctx, systemPath)
	switch {
	case err == nil:
		stamp := c.now().UTC().Format("20060102T150405") + "-" + uuid.New().String()[:8]
		backup := archive.BackupPath(expID, frameNo, stamp)
		if err := c.archive.Put(ctx, backup, bytes.NewReader(previous)); err != nil {
			metrics.ArchiveSyncs.WithLabelValues("error").Inc()
			return errors.Wrapf(err, "backup %s", systemPath)
		}
		c.logger.Infof("Резервная копия %s сохранена в %s", systemPath, backup)
	case errors.Is(err, archive.ErrNotExist):
		c.logger.Warnf("Системный документ %s отсутствует, резервная копия не создана", systemPath)
	default:
		return errors.Wrapf(err, "read %s", systemPath)
	}

	if _, err := c.SyncFrame(ctx, expID, "", frameNo, regions); err != nil {
		return err
	}
	c.logger.Infof("Power-пользователь %s перезаписал системную сегментацию %s кадр %d", username, expID, frameNo)
	return nil
}

// ReadFrame читает документ кадра из архива
func (c *Coordinator) ReadFrame(ctx context.Context, expID, username string, frameNo int) (models.Regions, error) {
	name := archive.SegmentationPath(expID, frameNo, username)
	data, err := c.archive.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	regions, err := models.DecodeDocument(data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", name)
	}
	return regions, nil
}

// DeleteFrame удаляет документ кадра из архива
func (c *Coordinator) DeleteFrame(ctx context.Context, expID, username string, frameNo int) error {
	return c.archive.Delete(ctx, archive.SegmentationPath(expID, frameNo, username))
}

// upload пишет документ во временный локальный файл и загружает его.
// Временный файл удаляется в любом случае.
func (c *Coordinator) upload(ctx context.Context, name string, regions models.Regions) error {
	doc, err := models.EncodeDocument(regions)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(c.tempDir, "segmentation-*.json")
	if err != nil {
		return errors.Wrap(err, "create staging file")
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := tmp.Write(doc); err != nil {
		return errors.Wrap(err, "write staging file")
	}
	if _, err := tmp.Seek(0, 0); err != nil {
		return errors.Wrap(err, "rewind staging file")
	}

	if err := c.archive.Put(ctx, name, tmp); err != nil {
		c.logger.Errorf("Ошибка загрузки %s в архив: %v", name, err)
		return errors.Wrapf(err, "upload %s", name)
	}
	return nil
}
