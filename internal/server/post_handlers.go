package server

import (
	"strconv"

	"kortrade/internal/models"
	"kortrade/internal/service"

	"github.com/gofiber/fiber/v2"
)

type postRequest struct {
	Board        models.Board `json:"board"`
	Title        string       `json:"title"`
	Content      string       `json:"content"`
	ImageURL     string       `json:"image_url"`
	Symbol       string       `json:"symbol"`
	Side         string       `json:"side"`
	Leverage     int          `json:"leverage"`
	ProfitRate   float64      `json:"profit_rate"`
	ProfitAmount float64      `json:"profit_amount"`
}

// viewerKey identifies a viewer for view-count dedupe.
func viewerKey(c *fiber.Ctx, userID uint) string {
	if userID != 0 {
		return "u" + strconv.FormatUint(uint64(userID), 10)
	}
	return "ip" + c.IP()
}

// GetPosts handles GET /api/posts
// @Summary List posts
// @Description Lists a board's published posts, notices first
// @Tags posts
// @Produce json
// @Param board query string false "free or profit"
// @Param sort query string false "new, popular or views"
// @Param q query string false "Title/content search"
// @Param author_id query int false "Author filter"
// @Param limit query int false "Page size" default(20)
// @Param offset query int false "Offset"
// @Success 200 {object} object{items=[]models.Post,total=int}
// @Failure 400 {object} models.ErrorResponse
// @Router /posts [get]
func (s *Server) GetPosts(c *fiber.Ctx) error {
	page := parsePagination(c, 20)
	userID, _ := s.optionalUserID(c)

	posts, total, err := s.postService.ListPosts(c.UserContext(), service.ListPostsInput{
		Board:         models.Board(c.Query("board")),
		Sort:          c.Query("sort"),
		Query:         c.Query("q"),
		AuthorID:      uint(c.QueryInt("author_id", 0)),
		Limit:         page.Limit,
		Offset:        page.Offset,
		CurrentUserID: userID,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(paged(posts, total, page))
}

// GetPost handles GET /api/posts/:id
// @Summary Get post
// @Description Returns a post and counts one view per viewer per day
// @Tags posts
// @Produce json
// @Param id path int true "Post ID"
// @Success 200 {object} models.Post
// @Failure 404 {object} models.ErrorResponse
// @Router /posts/{id} [get]
func (s *Server) GetPost(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return nil
	}
	userID, _ := s.optionalUserID(c)

	post, err := s.postService.GetPost(c.UserContext(), id, userID, viewerKey(c, userID))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}

// CreatePost handles POST /api/posts
// @Summary Create post
// @Description Creates a free-board or profit-board post and pays the reward
// @Tags posts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body postRequest true "Post"
// @Success 201 {object} object{post=models.Post,reward=points.Reward}
// @Failure 400 {object} models.ErrorResponse
// @Router /posts [post]
func (s *Server) CreatePost(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	var req postRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	post, reward, err := s.postService.CreatePost(c.UserContext(), service.CreatePostInput{
		UserID:       userID,
		Board:        req.Board,
		Title:        req.Title,
		Content:      req.Content,
		ImageURL:     req.ImageURL,
		Symbol:       req.Symbol,
		Side:         req.Side,
		Leverage:     req.Leverage,
		ProfitRate:   req.ProfitRate,
		ProfitAmount: req.ProfitAmount,
		IP:           c.IP(),
	})
	if err != nil {
		return respondError(c, err)
	}

	s.publishBroadcastEvent(EventPostCreated, fiber.Map{
		"id":     post.ID,
		"board":  post.Board,
		"title":  post.Title,
		"author": post.Author,
	})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"post":   post,
		"reward": reward,
	})
}

// UpdatePost handles PUT /api/posts/:id
// @Summary Update post
// @Tags posts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Post ID"
// @Param request body postRequest true "Post"
// @Success 200 {object} models.Post
// @Failure 403 {object} models.ErrorResponse
// @Router /posts/{id} [put]
func (s *Server) UpdatePost(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	id, err := pathID(c)
	if err != nil {
		return nil
	}
	var req postRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	post, err := s.postService.UpdatePost(c.UserContext(), service.UpdatePostInput{
		UserID:       userID,
		PostID:       id,
		Title:        req.Title,
		Content:      req.Content,
		ImageURL:     req.ImageURL,
		Symbol:       req.Symbol,
		Side:         req.Side,
		Leverage:     req.Leverage,
		ProfitRate:   req.ProfitRate,
		ProfitAmount: req.ProfitAmount,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}

// DeletePost handles DELETE /api/posts/:id
// @Summary Delete post
// @Tags posts
// @Security BearerAuth
// @Param id path int true "Post ID"
// @Success 204
// @Failure 403 {object} models.ErrorResponse
// @Router /posts/{id} [delete]
func (s *Server) DeletePost(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	id, err := pathID(c)
	if err != nil {
		return nil
	}

	if err := s.postService.DeletePost(c.UserContext(), userID, id, c.IP()); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// LikePost handles POST /api/posts/:id/like
// @Summary Like post
// @Description Idempotent; returns the authoritative like state
// @Tags posts
// @Produce json
// @Security BearerAuth
// @Param id path int true "Post ID"
// @Success 200 {object} service.LikeState
// @Router /posts/{id}/like [post]
func (s *Server) LikePost(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	id, err := pathID(c)
	if err != nil {
		return nil
	}

	state, err := s.postService.LikePost(c.UserContext(), userID, id)
	if err != nil {
		return respondError(c, err)
	}
	if state.Changed && state.AuthorID != userID {
		s.publishUserEvent(state.AuthorID, EventPostLiked, fiber.Map{
			"post_id":     id,
			"user_id":     userID,
			"likes_count": state.LikesCount,
		})
	}
	return c.JSON(state)
}

// UnlikePost handles DELETE /api/posts/:id/like
// @Summary Unlike post
// @Tags posts
// @Produce json
// @Security BearerAuth
// @Param id path int true "Post ID"
// @Success 200 {object} service.LikeState
// @Router /posts/{id}/like [delete]
func (s *Server) UnlikePost(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	id, err := pathID(c)
	if err != nil {
		return nil
	}

	state, err := s.postService.UnlikePost(c.UserContext(), userID, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(state)
}

// SharePost handles POST /api/posts/:id/share
// @Summary Share post
// @Description Records a share; anonymous visitors may share too
// @Tags posts
// @Accept json
// @Produce json
// @Param id path int true "Post ID"
// @Param request body object{channel=string} false "Share channel"
// @Success 200 {object} service.ShareResult
// @Router /posts/{id}/share [post]
func (s *Server) SharePost(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return nil
	}
	var req struct {
		Channel models.ShareChannel `json:"channel"`
	}
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return nil
		}
	}
	userID, _ := s.optionalUserID(c)

	res, err := s.postService.SharePost(c.UserContext(), userID, id, req.Channel)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}
