package model

import "time"

// ListingType は出品の種別を表す。
type ListingType string

const (
	// ListingTypeSell は売りたい（Want To Sell）。
	ListingTypeSell ListingType = "WTS"
	// ListingTypeBuy は買いたい（Want To Buy）。
	ListingTypeBuy ListingType = "WTB"
	// ListingTypeTrade は交換したい（Want To Trade）。
	ListingTypeTrade ListingType = "WTT"
	// ListingTypeLend は貸したい（Want To Lend）。
	ListingTypeLend ListingType = "WTL"
)

// IsValid は定義済みの出品種別かを返す。
func (t ListingType) IsValid() bool {
	switch t {
	case ListingTypeSell, ListingTypeBuy, ListingTypeTrade, ListingTypeLend:
		return true
	default:
		return false
	}
}

// ListingStatus は出品のライフサイクル状態を表す。
type ListingStatus string

const (
	// ListingStatusActive は公開中。
	ListingStatusActive ListingStatus = "active"
	// ListingStatusSold は売約済み。
	ListingStatusSold ListingStatus = "sold"
)

// DefaultCondition は状態スコア未指定時の値。
const DefaultCondition = 8.0

// Listing はマーケットプレイスの出品1件を表す。
//
// SellerNameは作成時点のスナップショットで、読み取り時に最新のユーザー情報で上書きされる。
// SellerPhone、SellerFb、SellerAvatarは読み取り時にのみ設定され、保存されない。
type Listing struct {
	ID          string
	Type        ListingType
	Title       string
	Price       *float64
	Condition   float64
	Description string
	Image       string   // カバー画像
	Images      []string // ギャラリー
	Status      ListingStatus
	SellerID    string
	SellerName  string

	SellerPhone  string
	SellerFb     string
	SellerAvatar string

	CreatedAt time.Time
	UpdatedAt *time.Time

	// オークション
	CurrentBid   *float64
	BidCount     int
	LastBidderID *string

	BggID        *string
	OpenForTrade bool
	IsBNIS       bool // Brand New In Shrink（未開封）

	Comments []Comment
}

// CurrentBidValue は現在の入札額を返す。未入札の場合は0。
func (l *Listing) CurrentBidValue() float64 {
	if l.CurrentBid == nil {
		return 0
	}
	return *l.CurrentBid
}

// Comment は出品に埋め込まれたコメントを表す。
// UserNameとUserAvatarは書き込み時点のスナップショットで、後から更新されない。
type Comment struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	UserName   string    `json:"userName"`
	UserAvatar string    `json:"userAvatar"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ListingDraft はクライアントから送信された未保存の出品データを表す。
// AI抽出の結果としても使用される。
type ListingDraft struct {
	ID           string
	Type         ListingType
	Title        string
	Price        *float64
	Condition    *float64
	Description  string
	Image        string
	Images       []string
	Status       ListingStatus
	SellerID     string
	SellerName   string
	CreatedAt    *time.Time
	BggID        *string
	OpenForTrade bool
	IsBNIS       bool
}

// ListingPatch は出品の部分更新を表す。
// nilのフィールドは変更しない。ID・作成日時・出品者・入札・コメントは含まれない。
type ListingPatch struct {
	Type         *ListingType
	Title        *string
	Price        *float64
	ClearPrice   bool // trueの場合priceをNULLにする
	Condition    *float64
	Description  *string
	Image        *string
	Images       *[]string
	Status       *ListingStatus
	BggID        *string
	OpenForTrade *bool
	IsBNIS       *bool
}

// ListingFilter は出品一覧の絞り込み条件。
// 空文字列の条件は無視される。
type ListingFilter struct {
	Type     ListingType
	SellerID string
}

// MaxListingsPerPage は出品一覧で返す最大件数。
const MaxListingsPerPage = 100

// GameCandidate はボードゲームメタデータ検索の候補1件を表す。
type GameCandidate struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Year        string `json:"year,omitempty"`
	Image       string `json:"image,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	Description string `json:"description,omitempty"`
}
