package listing

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/hitoshi/pasarmalam/internal/model"
	"github.com/hitoshi/pasarmalam/internal/repository"
)

// BidEngine は出品への入札を受け付ける。
// 「現在額を上回るか」の判定と書き込みはリポジトリの1回の条件付き更新で行う。
type BidEngine struct {
	listings repository.ListingRepository
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewBidEngine はBidEngineを生成する。recorderがnilの場合は記録しない。
func NewBidEngine(listings repository.ListingRepository, recorder Recorder, logger *slog.Logger) *BidEngine {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BidEngine{
		listings: listings,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// PlaceBid は入札額が現在の入札額（未入札なら0）を上回る場合のみ受け付け、新しい入札額を返す。
// 出品が存在しない場合はLISTING_NOT_FOUND、額が現在額以下の場合はINVALID_BIDを返す。
// 出品のステータスは判定に使わない。
func (e *BidEngine) PlaceBid(ctx context.Context, listingID, bidderID string, amount float64) (float64, error) {
	if validAmount(amount) {
		accepted, err := e.listings.PlaceBid(ctx, listingID, bidderID, amount, e.now())
		if err != nil {
			return 0, fmt.Errorf("failed to place bid: %w", err)
		}
		if accepted {
			e.recorder.RecordBid(true)
			e.logger.Info("bid accepted",
				slog.String("listing_id", listingID),
				slog.String("user_id", bidderID),
				slog.Float64("amount", amount),
			)
			return amount, nil
		}
	}

	// 拒否理由を判定する
	l, err := e.listings.FindByID(ctx, listingID)
	if err != nil {
		return 0, fmt.Errorf("failed to find listing: %w", err)
	}
	if l == nil {
		return 0, model.NewListingNotFoundError(listingID)
	}

	e.recorder.RecordBid(false)
	return 0, model.NewInvalidBidError(amount, l.CurrentBidValue())
}

func validAmount(amount float64) bool {
	return amount > 0 && !math.IsInf(amount, 0) && !math.IsNaN(amount)
}
