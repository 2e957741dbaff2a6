package api

import (
	"context"

	"template-backend/internal/apperr"
	"template-backend/internal/models"
	"template-backend/internal/rpc"
	"template-backend/internal/users"
)

// CreateUserInput is the input of users.create.
type CreateUserInput struct {
	Email string `json:"email" validate:"required,max=255,email"`
}

// GetUserInput is the input of users.getById.
type GetUserInput struct {
	ID int64 `json:"id" validate:"gt=0,lte=2147483647"`
}

// UserOutput is the projection returned by the users group.
type UserOutput struct {
	Email string `json:"email" validate:"required,max=255,email"`
	ID    int64  `json:"id" validate:"gt=0,lte=2147483647"`
}

func userOutput(user models.User) UserOutput {
	return UserOutput{Email: user.Email, ID: user.ID}
}

func userProcedures(svc *users.Service) []rpc.Procedure {
	return []rpc.Procedure{
		rpc.Define(rpc.Contract{
			Path:      rpc.Path{Group: "users", Method: "create"},
			Protected: true,
			Errors:    []string{apperr.CodeValidation, apperr.CodeUnauthorized},
		}, func(ctx context.Context, _ *rpc.Context, in CreateUserInput) (UserOutput, error) {
			user, err := svc.Create(ctx, in.Email)
			if err != nil {
				return UserOutput{}, err
			}
			return userOutput(user), nil
		}),
		rpc.Define(rpc.Contract{
			Path:      rpc.Path{Group: "users", Method: "getById"},
			Protected: true,
			Errors:    []string{apperr.CodeNotFound, apperr.CodeUnauthorized},
		}, func(ctx context.Context, _ *rpc.Context, in GetUserInput) (UserOutput, error) {
			user, err := svc.GetByID(ctx, in.ID)
			if err != nil {
				return UserOutput{}, err
			}
			return userOutput(user), nil
		}),
	}
}
