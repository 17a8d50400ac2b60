package listing

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/pasarmalam/internal/model"
	"github.com/hitoshi/pasarmalam/internal/repository"
)

// memListingRepo はPostgresListingRepoの条件付き更新と同じ原子性をmutexで再現する。
type memListingRepo struct {
	mu       sync.Mutex
	listings map[string]*model.Listing

	insertErr error
}

func newMemListingRepo() *memListingRepo {
	return &memListingRepo{listings: map[string]*model.Listing{}}
}

func cloneListing(l *model.Listing) *model.Listing {
	cp := *l
	cp.Images = append([]string{}, l.Images...)
	cp.Comments = append([]model.Comment{}, l.Comments...)
	return &cp
}

func (r *memListingRepo) InsertBatch(_ context.Context, listings []*model.Listing) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range listings {
		r.listings[l.ID] = cloneListing(l)
	}
	return nil
}

func (r *memListingRepo) FindByID(_ context.Context, id string) (*model.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.listings[id]; ok {
		return cloneListing(l), nil
	}
	return nil, nil
}

func (r *memListingRepo) List(_ context.Context, filter model.ListingFilter, limit int) ([]*model.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.Listing{}
	for _, l := range r.listings {
		if filter.Type != "" && l.Type != filter.Type {
			continue
		}
		if filter.SellerID != "" && l.SellerID != filter.SellerID {
			continue
		}
		out = append(out, cloneListing(l))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memListingRepo) Update(_ context.Context, id string, p model.ListingPatch, at time.Time) (*model.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listings[id]
	if !ok {
		return nil, nil
	}
	if p.Type != nil {
		l.Type = *p.Type
	}
	if p.Title != nil {
		l.Title = *p.Title
	}
	if p.ClearPrice {
		l.Price = nil
	} else if p.Price != nil {
		price := *p.Price
		l.Price = &price
	}
	if p.Condition != nil {
		l.Condition = *p.Condition
	}
	if p.Description != nil {
		l.Description = *p.Description
	}
	if p.Image != nil {
		l.Image = *p.Image
	}
	if p.Images != nil {
		l.Images = append([]string{}, (*p.Images)...)
	}
	if p.Status != nil {
		l.Status = *p.Status
	}
	if p.BggID != nil {
		id := *p.BggID
		l.BggID = &id
	}
	if p.OpenForTrade != nil {
		l.OpenForTrade = *p.OpenForTrade
	}
	if p.IsBNIS != nil {
		l.IsBNIS = *p.IsBNIS
	}
	l.UpdatedAt = &at
	return cloneListing(l), nil
}

func (r *memListingRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.listings[id]; !ok {
		return false, nil
	}
	delete(r.listings, id)
	return true, nil
}

func (r *memListingRepo) PlaceBid(_ context.Context, listingID, bidderID string, amount float64, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listings[listingID]
	if !ok || !(l.CurrentBidValue() < amount) {
		return false, nil
	}
	bid := amount
	bidder := bidderID
	l.CurrentBid = &bid
	l.LastBidderID = &bidder
	l.BidCount++
	l.UpdatedAt = &at
	return true, nil
}

func (r *memListingRepo) AppendComment(_ context.Context, listingID string, c model.Comment) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listings[listingID]
	if !ok {
		return false, nil
	}
	l.Comments = append(l.Comments, c)
	return true, nil
}

func (r *memListingRepo) RemoveComment(_ context.Context, listingID, commentID, authorID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listings[listingID]
	if !ok {
		return false, nil
	}
	for i, c := range l.Comments {
		if c.ID == commentID && c.UserID == authorID {
			l.Comments = append(l.Comments[:i:i], l.Comments[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// memUserRepo は出品者情報の付与に必要な最小限のユーザーリポジトリ。
type memUserRepo struct {
	mu             sync.Mutex
	users          map[string]*model.User
	findByIDsCalls int
}

func newMemUserRepo(users ...*model.User) *memUserRepo {
	r := &memUserRepo{users: map[string]*model.User{}}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *memUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (r *memUserRepo) FindByIDs(_ context.Context, ids []string) (map[string]*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findByIDsCalls++
	out := map[string]*model.User{}
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			cp := *u
			out[id] = &cp
		}
	}
	return out, nil
}

func (r *memUserRepo) FindByEmail(context.Context, string) (*model.User, error) { return nil, nil }
func (r *memUserRepo) FindLegacyByDisplayName(context.Context, string) (*model.User, error) { return nil, nil }
func (r *memUserRepo) Create(context.Context, *model.User) error { return nil }

func (r *memUserRepo) Update(_ context.Context, id string, c model.UserChanges, at time.Time) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	if c.DisplayName != nil {
		u.DisplayName = *c.DisplayName
	}
	if c.Phone != nil {
		u.Phone = *c.Phone
	}
	if c.Image != nil {
		u.Image = *c.Image
	}
	u.UpdatedAt = at
	cp := *u
	return &cp, nil
}

// fakeResolver はトークンとユーザーの対応表でセッションを解決する。
type fakeResolver struct {
	users  *memUserRepo
	tokens map[string]string
}

func (f *fakeResolver) ResolveSession(ctx context.Context, token string) (*model.User, error) {
	userID, ok := f.tokens[token]
	if !ok {
		return nil, model.NewUnauthorizedError()
	}
	user, _ := f.users.FindByID(ctx, userID)
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}
	return user, nil
}

type countingRecorder struct {
	mu       sync.Mutex
	accepted int
	rejected int
	comments map[string]int
}

func (r *countingRecorder) RecordBid(accepted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if accepted {
		r.accepted++
	} else {
		r.rejected++
	}
}

func (r *countingRecorder) RecordComment(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.comments == nil {
		r.comments = map[string]int{}
	}
	r.comments[op]++
}

// --- compile-time interface checks ---
var _ repository.ListingRepository = (*memListingRepo)(nil)
var _ repository.UserRepository = (*memUserRepo)(nil)
var _ SessionResolver = (*fakeResolver)(nil)
var _ Recorder = (*countingRecorder)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
