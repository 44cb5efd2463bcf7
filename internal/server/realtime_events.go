package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"kortrade/internal/models"
	"kortrade/internal/points"
)

// Event type constants prevent typos in event names.
const (
	EventPostCreated        = "post_created"
	EventCommentCreated     = "comment_created"
	EventPostLiked          = "post_liked"
	EventCoinRewarded       = "coin_rewarded"
	EventPositionLiquidated = "position_liquidated"
	EventPositionClosed     = "position_closed"
)

// encodeEvent builds the {"type","payload"} envelope clients expect.
func (s *Server) encodeEvent(eventType string, payload any) (string, bool) {
	eventJSON, err := json.Marshal(map[string]any{
		"type":    eventType,
		"payload": payload,
	})
	if err != nil {
		s.logger.Error("failed to marshal event", slog.String("type", eventType), slog.Any("error", err))
		return "", false
	}
	return string(eventJSON), true
}

// publishUserEvent goes through Redis when available so every instance
// delivers it; the local hub is used directly only without Redis.
func (s *Server) publishUserEvent(userID uint, eventType string, payload any) {
	message, ok := s.encodeEvent(eventType, payload)
	if !ok {
		return
	}
	if s.notifier != nil {
		if err := s.notifier.PublishUser(context.Background(), userID, message); err != nil {
			s.logger.Warn("failed to publish user event",
				slog.String("type", eventType), slog.Uint64("user_id", uint64(userID)), slog.Any("error", err))
		}
		return
	}
	if s.hub != nil {
		s.hub.Broadcast(userID, message)
	}
}

func (s *Server) publishBroadcastEvent(eventType string, payload any) {
	message, ok := s.encodeEvent(eventType, payload)
	if !ok {
		return
	}
	if s.notifier != nil {
		if err := s.notifier.PublishBroadcast(context.Background(), message); err != nil {
			s.logger.Warn("failed to publish broadcast event",
				slog.String("type", eventType), slog.Any("error", err))
		}
		return
	}
	if s.hub != nil {
		s.hub.BroadcastAll(message)
	}
}

// onReward is registered on the points service.
func (s *Server) onReward(_ context.Context, userID uint, r points.Reward) {
	if !r.Rewarded {
		return
	}
	s.publishUserEvent(userID, EventCoinRewarded, r)
}

// onForcedClose is registered on the trading watcher.
func (s *Server) onForcedClose(_ context.Context, pos *models.Position, action models.TradeAction) {
	eventType := EventPositionClosed
	if action == models.TradeLiquidation {
		eventType = EventPositionLiquidated
	}
	s.publishUserEvent(pos.UserID, eventType, map[string]any{
		"position": pos,
		"action":   action,
	})
}

// marketFanout publishes feed events through Redis, or straight to the
// local market hub when Redis is unavailable.
type marketFanout struct {
	s *Server
}

func (f marketFanout) PublishMarket(ctx context.Context, symbol string, payload string) error {
	if f.s.notifier != nil {
		return f.s.notifier.PublishMarket(ctx, symbol, payload)
	}
	if f.s.marketHub != nil {
		f.s.marketHub.Broadcast(symbol, payload)
	}
	return nil
}
