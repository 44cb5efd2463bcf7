package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	UserKeyPrefix        = "user:%d"
	PostKeyPrefix        = "post:%d"
	PostViewKeyPrefix    = "post_view:%d:%s"
	RankingKey           = "points:ranking"
	MarkPriceKeyPrefix   = "market:mark:%s"
	MarketChannelPrefix  = "market:%s"
	VerifyCodeKeyPrefix  = "verify:%s:%s"
	VerifiedKeyPrefix    = "verified:%s:%s"
	SMSQuotaKeyPrefix    = "sms:quota:%s"
	SMSCooldownKeyPrefix = "sms:cooldown:%s"
	BlacklistKeyPrefix   = "blacklist:%s"
	WSTicketKeyPrefix    = "ws_ticket:%s"
	DashboardKey         = "admin:dashboard"
)

const (
	UserTTL      = 5 * time.Minute
	PostTTL      = 30 * time.Minute
	PostViewTTL  = 24 * time.Hour
	RankingTTL   = time.Minute
	MarkPriceTTL = 10 * time.Second
	DashboardTTL = 30 * time.Second
	WSTicketTTL  = 60 * time.Second
)

func UserKey(userID uint) string {
	return fmt.Sprintf(UserKeyPrefix, userID)
}

func PostKey(postID uint) string {
	return fmt.Sprintf(PostKeyPrefix, postID)
}

// PostViewKey dedupes view counting per viewer (user id or ip).
func PostViewKey(postID uint, viewer string) string {
	return fmt.Sprintf(PostViewKeyPrefix, postID, viewer)
}

func MarkPriceKey(symbol string) string {
	return fmt.Sprintf(MarkPriceKeyPrefix, symbol)
}

// MarketChannel is the pub/sub channel carrying one symbol's stream.
func MarketChannel(symbol string) string {
	return fmt.Sprintf(MarketChannelPrefix, symbol)
}

func VerifyCodeKey(purpose, phone string) string {
	return fmt.Sprintf(VerifyCodeKeyPrefix, purpose, phone)
}

func VerifiedKey(purpose, token string) string {
	return fmt.Sprintf(VerifiedKeyPrefix, purpose, token)
}

func SMSQuotaKey(phone string) string {
	return fmt.Sprintf(SMSQuotaKeyPrefix, phone)
}

func SMSCooldownKey(phone string) string {
	return fmt.Sprintf(SMSCooldownKeyPrefix, phone)
}

func BlacklistKey(jti string) string {
	return fmt.Sprintf(BlacklistKeyPrefix, jti)
}

func WSTicketKey(ticket string) string {
	return fmt.Sprintf(WSTicketKeyPrefix, ticket)
}

// Invalidate deletes keys, ignoring a nil client.
func Invalidate(ctx context.Context, rdb *redis.Client, keys ...string) {
	if rdb != nil && len(keys) > 0 {
		rdb.Del(ctx, keys...)
	}
}

func InvalidateUser(ctx context.Context, rdb *redis.Client, userID uint) {
	Invalidate(ctx, rdb, UserKey(userID))
}

func InvalidatePost(ctx context.Context, rdb *redis.Client, postID uint) {
	Invalidate(ctx, rdb, PostKey(postID))
}
