package service

import (
	"context"
	"strings"

	"kortrade/internal/models"
	"kortrade/internal/points"
	"kortrade/internal/repository"
	"kortrade/internal/validation"
)

const maxCommentRunes = 1000

type CommentService struct {
	commentRepo repository.CommentRepository
	postRepo    repository.PostRepository
	points      *points.Service
	activity    *ActivityRecorder
	isAdmin     func(ctx context.Context, userID uint) (bool, error)
}

type CreateCommentInput struct {
	UserID   uint
	PostID   uint
	ParentID *uint
	Content  string
	IP       string
}

type UpdateCommentInput struct {
	UserID    uint
	CommentID uint
	Content   string
}

func NewCommentService(
	commentRepo repository.CommentRepository,
	postRepo repository.PostRepository,
	pts *points.Service,
	activity *ActivityRecorder,
	isAdmin func(ctx context.Context, userID uint) (bool, error),
) *CommentService {
	return &CommentService{
		commentRepo: commentRepo,
		postRepo:    postRepo,
		points:      pts,
		activity:    activity,
		isAdmin:     isAdmin,
	}
}

// ListComments returns top-level comments with their replies attached.
// A deleted comment survives as a blank placeholder only while it still
// has visible replies.
func (s *CommentService) ListComments(ctx context.Context, postID, currentUserID uint) ([]models.Comment, error) {
	if _, err := s.postRepo.GetByID(ctx, postID, 0); err != nil {
		return nil, err
	}
	all, err := s.commentRepo.ListByPost(ctx, postID, currentUserID)
	if err != nil {
		return nil, err
	}
	return threadComments(all), nil
}

func threadComments(all []*models.Comment) []models.Comment {
	replies := make(map[uint][]models.Comment)
	for _, c := range all {
		if c.ParentID == nil || c.Deleted {
			continue
		}
		replies[*c.ParentID] = append(replies[*c.ParentID], *c)
	}

	out := make([]models.Comment, 0, len(all))
	for _, c := range all {
		if c.ParentID != nil {
			continue
		}
		thread := *c
		thread.Replies = replies[c.ID]
		if thread.Deleted {
			if len(thread.Replies) == 0 {
				continue
			}
			thread.Content = ""
			thread.Author = models.PublicUser{}
			thread.LikesCount = 0
			thread.Liked = false
		}
		out = append(out, thread)
	}
	return out
}

func (s *CommentService) CreateComment(ctx context.Context, in CreateCommentInput) (*models.Comment, *points.Reward, error) {
	content := strings.TrimSpace(in.Content)
	if err := validation.ValidateLength("댓글", content, 1, maxCommentRunes); err != nil {
		return nil, nil, models.NewValidationError(err.Error())
	}

	post, err := s.postRepo.GetByID(ctx, in.PostID, 0)
	if err != nil {
		return nil, nil, err
	}
	if post.Status != models.PostStatusPublished {
		return nil, nil, models.NewNotFoundError("Post", in.PostID)
	}

	if in.ParentID != nil {
		parent, err := s.commentRepo.GetByID(ctx, *in.ParentID)
		if err != nil {
			if IsNotFound(err) {
				return nil, nil, models.NewValidationError("답글을 달 댓글을 찾을 수 없습니다")
			}
			return nil, nil, err
		}
		if parent.PostID != in.PostID {
			return nil, nil, models.NewValidationError("다른 게시글의 댓글에는 답글을 달 수 없습니다")
		}
		if parent.ParentID != nil {
			return nil, nil, models.NewValidationError("답글에는 답글을 달 수 없습니다")
		}
	}

	comment := &models.Comment{
		Content:  content,
		UserID:   in.UserID,
		PostID:   in.PostID,
		ParentID: in.ParentID,
	}
	if err := s.commentRepo.Create(ctx, comment); err != nil {
		return nil, nil, err
	}
	s.activity.Record(ctx, ActivityEntry{
		ActorID: in.UserID, Action: models.ActionCommentCreate, TargetType: "comment", TargetID: comment.ID,
		Detail: map[string]interface{}{"post_id": in.PostID}, IP: in.IP,
	})

	var reward *points.Reward
	if s.points != nil {
		reward = rewardOrLog(ctx, s.points, in.UserID, points.ActionComment, points.RewardRef{Type: "comment", ID: comment.ID})
	}

	created, err := s.commentRepo.GetByID(ctx, comment.ID)
	if err != nil {
		return nil, nil, err
	}
	return created, reward, nil
}

func (s *CommentService) authorize(ctx context.Context, userID uint, c *models.Comment, verb string) error {
	if c.UserID == userID {
		return nil
	}
	if s.isAdmin != nil {
		admin, err := s.isAdmin(ctx, userID)
		if err != nil {
			return err
		}
		if admin {
			return nil
		}
	}
	return models.NewForbiddenError("본인이 작성한 댓글만 " + verb + "할 수 있습니다")
}

func (s *CommentService) UpdateComment(ctx context.Context, in UpdateCommentInput) (*models.Comment, error) {
	content := strings.TrimSpace(in.Content)
	if err := validation.ValidateLength("댓글", content, 1, maxCommentRunes); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	comment, err := s.commentRepo.GetByID(ctx, in.CommentID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, in.UserID, comment, "수정"); err != nil {
		return nil, err
	}
	comment.Content = content
	if err := s.commentRepo.Update(ctx, comment); err != nil {
		return nil, err
	}
	return comment, nil
}

func (s *CommentService) DeleteComment(ctx context.Context, userID, commentID uint, ip string) error {
	comment, err := s.commentRepo.GetByID(ctx, commentID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, userID, comment, "삭제"); err != nil {
		return err
	}
	if err := s.commentRepo.Delete(ctx, commentID); err != nil {
		return err
	}
	action := models.ActionCommentDelete
	if comment.UserID != userID {
		action = models.ActionAdminCommentDelete
	}
	s.activity.Record(ctx, ActivityEntry{
		ActorID: userID, Action: action, TargetType: "comment", TargetID: commentID,
		Detail: map[string]interface{}{"post_id": comment.PostID}, IP: ip,
	})
	return nil
}

func (s *CommentService) LikeComment(ctx context.Context, userID, commentID uint) (*LikeState, error) {
	comment, err := s.commentRepo.GetByID(ctx, commentID)
	if err != nil {
		return nil, err
	}
	created, err := s.commentRepo.Like(ctx, userID, commentID)
	if err != nil {
		return nil, err
	}
	n, err := s.commentRepo.LikesCount(ctx, commentID)
	if err != nil {
		return nil, err
	}
	return &LikeState{Liked: true, LikesCount: n, Changed: created, AuthorID: comment.UserID}, nil
}

func (s *CommentService) UnlikeComment(ctx context.Context, userID, commentID uint) (*LikeState, error) {
	comment, err := s.commentRepo.GetByID(ctx, commentID)
	if err != nil {
		return nil, err
	}
	removed, err := s.commentRepo.Unlike(ctx, userID, commentID)
	if err != nil {
		return nil, err
	}
	n, err := s.commentRepo.LikesCount(ctx, commentID)
	if err != nil {
		return nil, err
	}
	return &LikeState{Liked: false, LikesCount: n, Changed: removed, AuthorID: comment.UserID}, nil
}
