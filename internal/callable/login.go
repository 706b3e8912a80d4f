package callable

import (
	"context"

	"google.golang.org/grpc/codes"

	"salonbook.app/internal/account"
	"salonbook.app/internal/auth"
	"salonbook.app/internal/ratelimit"
	"salonbook.app/internal/validate"
)

const registerPath = "/register"

// LoginRequest is the payload of validateLogin.
type LoginRequest struct {
	UID   string `json:"uid" validate:"required" format:"uid"`
	Email string `json:"email" validate:"required" format:"account_email"`
	Role  string `json:"role" validate:"required" format:"role"`
}

// LoginUser is the sanitized view of a user returned on successful login.
type LoginUser struct {
	UID         string   `json:"uid"`
	Email       string   `json:"email"`
	DisplayName string   `json:"displayName,omitempty"`
	PhotoURL    string   `json:"photoURL,omitempty"`
	Roles       []string `json:"roles"`
	ActiveRole  string   `json:"activeRole,omitempty"`
}

// LoginResponse reports where the caller stands. Only the fields relevant to the
// outcome are set; the tri-state flags are pointers so false still goes on the wire.
type LoginResponse struct {
	Success         bool            `json:"success"`
	UserExists      *bool           `json:"userExists,omitempty"`
	HasProfile      *bool           `json:"hasProfile,omitempty"`
	ProfileComplete *bool           `json:"profileComplete,omitempty"`
	MissingFields   []string        `json:"missingFields,omitempty"`
	AvailableRoles  []string        `json:"availableRoles,omitempty"`
	ProfileStatus   string          `json:"profileStatus,omitempty"`
	RedirectTo      string          `json:"redirectTo,omitempty"`
	User            *LoginUser      `json:"user,omitempty"`
	Profile         account.Profile `json:"profile,omitempty"`
}

// ValidateLogin checks that the caller has a complete, active profile for the role they
// are signing in as. Missing users and profiles are normal outcomes, not errors.
func (s *Service) ValidateLogin(ctx context.Context, req LoginRequest) (resp *LoginResponse, err error) {
	defer s.shield(ctx, "login_error", "", &err)

	caller, err := auth.RequireAuth(ctx)
	if err != nil {
		return nil, errUnauthenticated
	}
	if err := validate.Required(req); err != nil {
		return nil, newError(codes.InvalidArgument, msgMissingFields)
	}
	if req.UID != caller.UID {
		return nil, s.subjectMismatch(ctx, "login_uid_mismatch", caller.UID, req.UID)
	}
	// One message for every format failure so responses do not reveal which field failed.
	if err := validate.Format(req); err != nil {
		return nil, newError(codes.InvalidArgument, msgInvalidLogin)
	}
	if err := s.enforce(ctx, req.UID, ratelimit.ValidateLogin); err != nil {
		return nil, err
	}

	user, ok, err := s.accounts.User(ctx, req.UID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &LoginResponse{
			UserExists: boolPtr(false),
			HasProfile: boolPtr(false),
			RedirectTo: registerPath,
		}, nil
	}

	profile, ok, err := s.accounts.Profile(ctx, req.UID, req.Role)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &LoginResponse{
			UserExists:     boolPtr(true),
			HasProfile:     boolPtr(false),
			AvailableRoles: user.Roles,
			RedirectTo:     registerPath,
		}, nil
	}
	if missing := profile.MissingFields(req.Role); len(missing) > 0 {
		return &LoginResponse{
			HasProfile:      boolPtr(true),
			ProfileComplete: boolPtr(false),
			MissingFields:   missing,
		}, nil
	}
	if status := profile.Status(); status != account.StatusActive {
		return &LoginResponse{ProfileStatus: status}, nil
	}

	s.audit.SecurityLog(ctx, "login_success", req.UID, map[string]any{"role": req.Role})
	return &LoginResponse{
		Success: true,
		User:    sanitizeUser(user),
		Profile: profile,
	}, nil
}

func sanitizeUser(u account.User) *LoginUser {
	return &LoginUser{
		UID:         u.UID,
		Email:       validate.SanitizeString(u.Email),
		DisplayName: validate.SanitizeString(u.DisplayName),
		PhotoURL:    validate.SanitizeString(u.PhotoURL),
		Roles:       u.Roles,
		ActiveRole:  u.ActiveRole,
	}
}
