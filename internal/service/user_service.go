package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"kortrade/internal/models"
	"kortrade/internal/repository"
	"kortrade/internal/validation"

	"golang.org/x/crypto/bcrypt"
)

const maxBioRunes = 500

type UserService struct {
	userRepo repository.UserRepository
}

type UpdateProfileInput struct {
	UserID   uint
	Nickname string
	Bio      *string
	Avatar   *string
}

// Profile is what other members see about a user.
type Profile struct {
	ID             uint      `json:"id"`
	Nickname       string    `json:"nickname"`
	Avatar         string    `json:"avatar"`
	Bio            string    `json:"bio"`
	Level          int       `json:"level"`
	ActivityPoints int64     `json:"activity_points"`
	IsAdmin        bool      `json:"is_admin"`
	JoinedAt       time.Time `json:"joined_at"`
}

// Me is the signed-in member's own account view.
type Me struct {
	*models.User
	Level int `json:"level"`
}

func NewUserService(userRepo repository.UserRepository) *UserService {
	return &UserService{userRepo: userRepo}
}

func (s *UserService) GetMe(ctx context.Context, userID uint) (*Me, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Me{User: user, Level: user.Level()}, nil
}

func (s *UserService) GetProfile(ctx context.Context, id uint) (*Profile, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.IsBanned {
		return nil, models.NewNotFoundError("User", id)
	}
	return &Profile{
		ID:             user.ID,
		Nickname:       user.Nickname,
		Avatar:         user.Avatar,
		Bio:            user.Bio,
		Level:          user.Level(),
		ActivityPoints: user.ActivityPoints,
		IsAdmin:        user.IsAdmin,
		JoinedAt:       user.CreatedAt,
	}, nil
}

// UpdateProfile changes only the fields that are set.
func (s *UserService) UpdateProfile(ctx context.Context, in UpdateProfileInput) (*Me, error) {
	user, err := s.userRepo.GetByID(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	if nickname := strings.TrimSpace(in.Nickname); nickname != "" && nickname != user.Nickname {
		if err := validation.ValidateNickname(nickname); err != nil {
			return nil, models.NewValidationError(err.Error())
		}
		taken, err := s.userRepo.Exists(ctx, "nickname", nickname)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, models.NewConflictError("이미 사용 중인 닉네임입니다")
		}
		user.Nickname = nickname
	}
	if in.Bio != nil {
		bio := strings.TrimSpace(*in.Bio)
		if utf8.RuneCountInString(bio) > maxBioRunes {
			return nil, models.NewValidationError("소개는 500자를 넘을 수 없습니다")
		}
		user.Bio = bio
	}
	if in.Avatar != nil {
		avatar := strings.TrimSpace(*in.Avatar)
		if avatar != "" && !strings.HasPrefix(avatar, "/") && !strings.HasPrefix(avatar, "https://") {
			return nil, models.NewValidationError("프로필 이미지 주소가 올바르지 않습니다")
		}
		user.Avatar = avatar
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, err
	}
	return &Me{User: user, Level: user.Level()}, nil
}

func (s *UserService) ChangePassword(ctx context.Context, userID uint, current, next string) error {
	cached, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	// The cached row carries no credentials.
	user, err := s.userRepo.GetByUsername(ctx, cached.Username)
	if err != nil {
		return err
	}
	if user == nil {
		return models.NewNotFoundError("User", userID)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(current)) != nil {
		return models.NewUnauthorizedError("현재 비밀번호가 일치하지 않습니다")
	}
	if err := validation.ValidatePassword(next); err != nil {
		return models.NewValidationError(err.Error())
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return models.NewInternalError(err)
	}
	return s.userRepo.UpdatePassword(ctx, userID, string(hash))
}
