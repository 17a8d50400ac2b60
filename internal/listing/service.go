// Package listing は出品の作成・一覧・更新・削除、入札、コメントを提供する。
package listing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/pasarmalam/internal/model"
	"github.com/hitoshi/pasarmalam/internal/repository"
)

// Service は出品のCRUDと出品者情報の付与を行う。
type Service struct {
	listings repository.ListingRepository
	users    repository.UserRepository
	logger   *slog.Logger
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(listings repository.ListingRepository, users repository.UserRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		listings: listings,
		users:    users,
		logger:   logger,
		now:      time.Now,
	}
}

// Create は複数の出品を一括作成し、入力順に返す。
// 出品者名は出品者IDごとに1回のユーザー検索で補完する。
func (s *Service) Create(ctx context.Context, drafts []model.ListingDraft) ([]*model.Listing, error) {
	if len(drafts) == 0 {
		return []*model.Listing{}, nil
	}

	for i := range drafts {
		if err := validateDraft(&drafts[i]); err != nil {
			return nil, err
		}
	}

	sellers, err := s.users.FindByIDs(ctx, distinctSellerIDs(drafts))
	if err != nil {
		return nil, fmt.Errorf("failed to find sellers: %w", err)
	}

	now := s.now()
	listings := make([]*model.Listing, 0, len(drafts))
	for _, d := range drafts {
		l := newListingFromDraft(d, now)
		if seller, ok := sellers[l.SellerID]; ok {
			l.SellerName = seller.DisplayName
		}
		listings = append(listings, l)
	}

	if err := s.listings.InsertBatch(ctx, listings); err != nil {
		if errors.Is(err, repository.ErrDuplicateListing) {
			return nil, model.NewListingConflictError()
		}
		return nil, fmt.Errorf("failed to insert listings: %w", err)
	}

	s.logger.Info("listings created",
		slog.Int("count", len(listings)),
		slog.String("seller_id", listings[0].SellerID),
	)
	return listings, nil
}

// List は条件に一致する最新の出品を最大100件返す。
// 種別が空または"ALL"の場合は種別で絞り込まない。
func (s *Service) List(ctx context.Context, filter model.ListingFilter) ([]*model.Listing, error) {
	if strings.EqualFold(string(filter.Type), "ALL") {
		filter.Type = ""
	}

	listings, err := s.listings.List(ctx, filter, model.MaxListingsPerPage)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}

	if err := s.enrich(ctx, listings); err != nil {
		return nil, err
	}
	return listings, nil
}

// Get は指定IDの出品を返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Listing, error) {
	l, err := s.listings.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find listing: %w", err)
	}
	if l == nil {
		return nil, model.NewListingNotFoundError(id)
	}

	if err := s.enrich(ctx, []*model.Listing{l}); err != nil {
		return nil, err
	}
	return l, nil
}

// Update は出品を部分更新し、更新後の出品を返す。updatedAtは常に現在時刻になる。
func (s *Service) Update(ctx context.Context, id string, patch model.ListingPatch) (*model.Listing, error) {
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	l, err := s.listings.Update(ctx, id, patch, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to update listing: %w", err)
	}
	if l == nil {
		return nil, model.NewListingNotFoundError(id)
	}

	if err := s.enrich(ctx, []*model.Listing{l}); err != nil {
		return nil, err
	}
	return l, nil
}

// Delete は出品を削除する。
func (s *Service) Delete(ctx context.Context, id string) error {
	deleted, err := s.listings.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete listing: %w", err)
	}
	if !deleted {
		return model.NewListingNotFoundError(id)
	}

	s.logger.Info("listing deleted", slog.String("listing_id", id))
	return nil
}

// enrich は出品者の最新のユーザー情報で表示名と連絡先を上書きする。
// 出品者が存在しない場合は保存済みの表示名を残し、連絡先は空のままにする。
func (s *Service) enrich(ctx context.Context, listings []*model.Listing) error {
	if len(listings) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(listings))
	ids := make([]string, 0, len(listings))
	for _, l := range listings {
		if !seen[l.SellerID] {
			seen[l.SellerID] = true
			ids = append(ids, l.SellerID)
		}
	}

	sellers, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to find sellers: %w", err)
	}

	for _, l := range listings {
		seller, ok := sellers[l.SellerID]
		if !ok {
			continue
		}
		l.SellerName = seller.DisplayName
		l.SellerPhone = seller.Phone
		l.SellerFb = seller.FacebookLink
		l.SellerAvatar = seller.Image
	}
	return nil
}

func distinctSellerIDs(drafts []model.ListingDraft) []string {
	seen := make(map[string]bool, len(drafts))
	ids := make([]string, 0, len(drafts))
	for _, d := range drafts {
		if !seen[d.SellerID] {
			seen[d.SellerID] = true
			ids = append(ids, d.SellerID)
		}
	}
	return ids
}

// newListingFromDraft は未指定のフィールドにデフォルト値を設定した出品を生成する。
func newListingFromDraft(d model.ListingDraft, now time.Time) *model.Listing {
	l := &model.Listing{
		ID:           d.ID,
		Type:         d.Type,
		Title:        strings.TrimSpace(d.Title),
		Price:        d.Price,
		Condition:    model.DefaultCondition,
		Description:  d.Description,
		Image:        d.Image,
		Images:       d.Images,
		Status:       d.Status,
		SellerID:     d.SellerID,
		SellerName:   d.SellerName,
		CreatedAt:    now,
		BggID:        d.BggID,
		OpenForTrade: d.OpenForTrade,
		IsBNIS:       d.IsBNIS,
		Comments:     []model.Comment{},
	}
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if d.CreatedAt != nil {
		l.CreatedAt = *d.CreatedAt
	}
	if d.Condition != nil {
		l.Condition = *d.Condition
	}
	if l.Status == "" {
		l.Status = model.ListingStatusActive
	}
	if l.Images == nil {
		l.Images = []string{}
	}
	if l.Image == "" && len(l.Images) > 0 {
		l.Image = l.Images[0]
	}
	return l
}

func validateDraft(d *model.ListingDraft) error {
	if !d.Type.IsValid() {
		return model.NewInvalidRequestError(fmt.Sprintf("invalid listing type: %q", d.Type))
	}
	if strings.TrimSpace(d.Title) == "" {
		return model.NewInvalidRequestError("title is required")
	}
	if d.SellerID == "" {
		return model.NewInvalidRequestError("sellerId is required")
	}
	if d.Status != "" && !validStatus(d.Status) {
		return model.NewInvalidRequestError(fmt.Sprintf("invalid listing status: %q", d.Status))
	}
	return nil
}

func validatePatch(p model.ListingPatch) error {
	if p.Type != nil && !p.Type.IsValid() {
		return model.NewInvalidRequestError(fmt.Sprintf("invalid listing type: %q", *p.Type))
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return model.NewInvalidRequestError("title must not be empty")
	}
	if p.Status != nil && !validStatus(*p.Status) {
		return model.NewInvalidRequestError(fmt.Sprintf("invalid listing status: %q", *p.Status))
	}
	return nil
}

func validStatus(s model.ListingStatus) bool {
	return s == model.ListingStatusActive || s == model.ListingStatusSold
}
