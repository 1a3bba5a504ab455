package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DRSN-tech/product-identity/internal/cfg"
	"github.com/DRSN-tech/product-identity/internal/domain"
	"github.com/DRSN-tech/product-identity/pkg/e"
	"github.com/DRSN-tech/product-identity/pkg/jitter"
	"github.com/DRSN-tech/product-identity/pkg/logger"
)

const (
	linkMaxAttempts = 3
	linkBaseBackoff = 100 * time.Millisecond
	linkMaxBackoff  = 2 * time.Second
)

// GroupUseCase управляет жизненным циклом групп товаров: создание, привязка изображений,
// условное добавление в запись группы и чтение.
//
// Запись группы и ссылки изображений на неё - отдельные записи в разных партициях.
// Между ними изображение находится в PENDING_GROUP_ASSIGNMENT: сбой после записи группы
// оставляет его ожидающим, и ResumePending завершает привязку при следующем чтении.
type GroupUseCase struct {
	groupRepo     GroupRepository
	embeddingRepo EmbeddingRepository
	publisher     EventPublisher
	metrics       Metrics
	cfg           *cfg.EngineCfg
	logger        logger.Logger
	now           func() time.Time
}

func NewGroupUC(
	groupRepo GroupRepository,
	embeddingRepo EmbeddingRepository,
	publisher EventPublisher,
	metrics Metrics,
	cfg *cfg.EngineCfg,
	logger logger.Logger,
) *GroupUseCase {
	return &GroupUseCase{
		groupRepo:     groupRepo,
		embeddingRepo: embeddingRepo,
		publisher:     publisher,
		metrics:       metrics,
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
	}
}

// CreateGroup создаёт группу и привязывает к ней все изображения.
// Первое изображение становится основным.
func (g *GroupUseCase) CreateGroup(ctx context.Context, req *CreateGroupReq) (*domain.ProductGroup, error) {
	const op = "GroupUseCase.CreateGroup"

	tenant, err := domain.SanitizeTenant(req.Tenant)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	group, err := domain.NewProductGroup(tenant, req.ImageIDs, req.Name, req.Category, req.Confidence, g.now().UTC())
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	if err := g.withTimeout(ctx, func(ctx context.Context) error {
		return g.groupRepo.Create(ctx, group)
	}); err != nil {
		return nil, e.Wrap(op, err)
	}

	// Ссылки пишутся после записи группы: сначала PENDING, затем ASSIGNED
	var linkErrs []error
	for _, imageID := range group.ImageIDs {
		pending, err := g.markPending(ctx, tenant, imageID, group.GroupID)
		if err != nil {
			g.logger.Errorf(err, "failed to mark image %s pending for group %s (tenant %s)", imageID, group.GroupID, tenant)
			linkErrs = append(linkErrs, err)
			continue
		}
		if !pending {
			continue
		}

		if err := g.linkWithRetry(ctx, tenant, imageID, group.GroupID); err != nil {
			g.logger.Errorf(err, "failed to link image %s to group %s (tenant %s)", imageID, group.GroupID, tenant)
			linkErrs = append(linkErrs, err)
		}
	}
	if len(linkErrs) > 0 {
		return group, e.Wrap(op, errors.Join(linkErrs...))
	}

	g.publishGroupCreated(ctx, group)

	return group, nil
}

// LinkImageToGroup устанавливает ссылку изображения на группу. Безопасна для повтора.
// Если изображение уже состоит в другой группе, ссылка не меняется.
func (g *GroupUseCase) LinkImageToGroup(ctx context.Context, tenant, imageID, groupID string) error {
	const op = "GroupUseCase.LinkImageToGroup"

	var res LinkResult
	err := g.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		res, err = g.embeddingRepo.LinkGroup(ctx, tenant, imageID, groupID)
		return err
	})
	if err != nil {
		return e.Wrap(op, err)
	}

	if !res.Linked {
		if res.GroupID != groupID {
			g.metrics.LinkConflict()
			g.logger.Warnf("image %s already assigned to group %s, keeping it (requested %s)", imageID, res.GroupID, groupID)
		}
		return nil
	}

	if err := g.publisher.PublishImageAssigned(ctx, tenant, imageID, groupID); err != nil {
		g.logger.Warnf("failed to publish image.assigned for %s: %v", imageID, e.Wrap(op, err))
	}

	return nil
}

// ResumePending завершает привязку изображений, оставшихся в PENDING_GROUP_ASSIGNMENT
// после прерванного создания группы. Эмбеддинги обновляются на месте; возвращает число
// завершённых привязок. Ошибки только логируются: ожидание повторится при следующем чтении.
func (g *GroupUseCase) ResumePending(ctx context.Context, tenant string, embs []*domain.Embedding) int {
	resumed := 0
	for _, emb := range embs {
		if emb.State() != domain.PendingGroupAssignment {
			continue
		}

		groupID := emb.PendingGroupID
		if err := g.LinkImageToGroup(ctx, tenant, emb.ImageID, groupID); err != nil {
			g.logger.Warnf("failed to resume pending link of image %s to group %s: %v", emb.ImageID, groupID, err)
			continue
		}

		emb.Transition(domain.Assigned, groupID)
		resumed++
	}

	if resumed > 0 {
		g.logger.Infof("resumed %d pending group assignments (tenant %s)", resumed, tenant)
	}
	return resumed
}

// markPending переводит изображение в PENDING_GROUP_ASSIGNMENT. false - изображение уже
// принадлежит другой группе или ожидает её, и привязывать его к groupID нельзя.
func (g *GroupUseCase) markPending(ctx context.Context, tenant, imageID, groupID string) (bool, error) {
	var res LinkResult
	err := g.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		res, err = g.embeddingRepo.MarkPending(ctx, tenant, imageID, groupID)
		return err
	})
	if err != nil {
		return false, err
	}

	if res.GroupID != groupID {
		g.metrics.LinkConflict()
		g.logger.Warnf("image %s already belongs to group %s (%s), not linking to %s", imageID, res.GroupID, res.State, groupID)
		return false, nil
	}
	return true, nil
}

// AddImageToGroupRecord условно добавляет изображение в запись группы.
// Повторное добавление - не ошибка: возвращается текущее состояние группы.
func (g *GroupUseCase) AddImageToGroupRecord(ctx context.Context, tenant, imageID, groupID string) (*AppendResult, error) {
	const op = "GroupUseCase.AddImageToGroupRecord"

	var res AppendResult
	err := g.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		res, err = g.groupRepo.AppendImage(ctx, tenant, groupID, imageID)
		return err
	})
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	if !res.Appended {
		g.metrics.AppendConflict()
		g.logger.Infof("image %s already in group %s", imageID, groupID)
	}

	return &res, nil
}

// JoinGroup привязывает изображение к существующей группе и добавляет его в запись группы.
func (g *GroupUseCase) JoinGroup(ctx context.Context, tenant, imageID, groupID string) (*domain.ProductGroup, error) {
	const op = "GroupUseCase.JoinGroup"

	if err := g.LinkImageToGroup(ctx, tenant, imageID, groupID); err != nil {
		return nil, e.Wrap(op, err)
	}

	res, err := g.AddImageToGroupRecord(ctx, tenant, imageID, groupID)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	return res.Group, nil
}

func (g *GroupUseCase) GetGroupByID(ctx context.Context, tenant, groupID string) (*domain.ProductGroup, error) {
	const op = "GroupUseCase.GetGroupByID"

	var group *domain.ProductGroup
	err := g.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		group, err = g.groupRepo.Get(ctx, tenant, groupID)
		return err
	})
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	return group, nil
}

// ListGroups возвращает группы тенанта, последние обновлённые первыми.
func (g *GroupUseCase) ListGroups(ctx context.Context, tenant string, limit int) ([]*domain.ProductGroup, error) {
	const (
		op           = "GroupUseCase.ListGroups"
		defaultLimit = 100
	)

	if limit <= 0 {
		limit = defaultLimit
	}

	var groups []*domain.ProductGroup
	err := g.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		groups, err = g.groupRepo.List(ctx, tenant, limit)
		return err
	})
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	return groups, nil
}

// linkWithRetry повторяет привязку при временных ошибках хранилища.
func (g *GroupUseCase) linkWithRetry(ctx context.Context, tenant, imageID, groupID string) error {
	var err error
	for attempt := 0; attempt < linkMaxAttempts; attempt++ {
		if attempt > 0 {
			if sleepErr := jitter.Sleep(ctx, jitter.ExponentialBackoff(linkBaseBackoff, linkMaxBackoff, attempt-1, jitter.DefaultJitter)); sleepErr != nil {
				return errors.Join(err, sleepErr)
			}
		}

		err = g.LinkImageToGroup(ctx, tenant, imageID, groupID)
		if err == nil || !e.IsRetryable(err) {
			return err
		}
		g.logger.Warnf("link attempt %d for image %s failed: %v", attempt+1, imageID, err)
	}

	return err
}

func (g *GroupUseCase) publishGroupCreated(ctx context.Context, group *domain.ProductGroup) {
	if err := g.publisher.PublishGroupCreated(ctx, group); err != nil {
		g.logger.Warnf("failed to publish product_group.created for %s: %v", group.GroupID, err)
	}
}

// withTimeout ограничивает одно обращение к хранилищу таймаутом из конфигурации.
// Истечение таймаута - временная ошибка хранилища.
func (g *GroupUseCase) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	return callWithTimeout(ctx, g.cfg.CallTimeout, e.ErrStorage, fn)
}

// callWithTimeout вызывает fn с таймаутом. Ошибка по истечении таймаута помечается
// как временная (kind - e.ErrStorage или e.ErrEmbeddingService).
func callWithTimeout(ctx context.Context, timeout time.Duration, kind error, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, kind) {
		return fmt.Errorf("call timed out: %w: %w", kind, err)
	}
	return err
}
