package server

import (
	"log/slog"

	"kortrade/internal/service"

	"github.com/gofiber/fiber/v2"
)

// GetComments handles GET /api/posts/:id/comments
// @Summary List comments
// @Description Returns the post's comments as threads (top-level with replies)
// @Tags comments
// @Produce json
// @Param id path int true "Post ID"
// @Success 200 {array} models.Comment
// @Router /posts/{id}/comments [get]
func (s *Server) GetComments(c *fiber.Ctx) error {
	postID, err := pathID(c)
	if err != nil {
		return nil
	}
	userID, _ := s.optionalUserID(c)

	comments, err := s.commentService.ListComments(c.UserContext(), postID, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(comments)
}

// CreateComment handles POST /api/posts/:id/comments
// @Summary Create comment
// @Description Comments on a post or replies to a top-level comment
// @Tags comments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Post ID"
// @Param request body object{content=string,parent_id=int} true "Comment"
// @Success 201 {object} object{comment=models.Comment,reward=points.Reward}
// @Failure 400 {object} models.ErrorResponse
// @Router /posts/{id}/comments [post]
func (s *Server) CreateComment(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	postID, err := pathID(c)
	if err != nil {
		return nil
	}
	var req struct {
		Content  string `json:"content"`
		ParentID *uint  `json:"parent_id"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	comment, reward, err := s.commentService.CreateComment(c.UserContext(), service.CreateCommentInput{
		UserID:   userID,
		PostID:   postID,
		ParentID: req.ParentID,
		Content:  req.Content,
		IP:       c.IP(),
	})
	if err != nil {
		return respondError(c, err)
	}

	if post, perr := s.postRepo.GetByID(c.UserContext(), postID, 0); perr == nil {
		if post.UserID != userID {
			s.publishUserEvent(post.UserID, EventCommentCreated, fiber.Map{
				"post_id":    postID,
				"post_title": post.Title,
				"comment":    comment,
			})
		}
	} else {
		s.logger.Warn("comment event skipped", slog.Uint64("post_id", uint64(postID)), slog.Any("error", perr))
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"comment": comment,
		"reward":  reward,
	})
}

// UpdateComment handles PUT /api/comments/:id
// @Summary Update comment
// @Tags comments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Comment ID"
// @Param request body object{content=string} true "Comment"
// @Success 200 {object} models.Comment
// @Failure 403 {object} models.ErrorResponse
// @Router /comments/{id} [put]
func (s *Server) UpdateComment(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	id, err := pathID(c)
	if err != nil {
		return nil
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	comment, err := s.commentService.UpdateComment(c.UserContext(), service.UpdateCommentInput{
		UserID:    userID,
		CommentID: id,
		Content:   req.Content,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(comment)
}

// DeleteComment handles DELETE /api/comments/:id
// @Summary Delete comment
// @Tags comments
// @Security BearerAuth
// @Param id path int true "Comment ID"
// @Success 204
// @Router /comments/{id} [delete]
func (s *Server) DeleteComment(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	id, err := pathID(c)
	if err != nil {
		return nil
	}

	if err := s.commentService.DeleteComment(c.UserContext(), userID, id, c.IP()); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// LikeComment handles POST /api/comments/:id/like
// @Summary Like comment
// @Tags comments
// @Produce json
// @Security BearerAuth
// @Param id path int true "Comment ID"
// @Success 200 {object} service.LikeState
// @Router /comments/{id}/like [post]
func (s *Server) LikeComment(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	id, err := pathID(c)
	if err != nil {
		return nil
	}

	state, err := s.commentService.LikeComment(c.UserContext(), userID, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(state)
}

// UnlikeComment handles DELETE /api/comments/:id/like
// @Summary Unlike comment
// @Tags comments
// @Produce json
// @Security BearerAuth
// @Param id path int true "Comment ID"
// @Success 200 {object} service.LikeState
// @Router /comments/{id}/like [delete]
func (s *Server) UnlikeComment(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	id, err := pathID(c)
	if err != nil {
		return nil
	}

	state, err := s.commentService.UnlikeComment(c.UserContext(), userID, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(state)
}
