package callable

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/codes"

	"salonbook.app/internal/account"
	"salonbook.app/internal/docstore"
	"salonbook.app/internal/obs"
	"salonbook.app/internal/ratelimit"
	"salonbook.app/internal/validate"
)

// InitialUserRequest is the payload of createInitialUserDocument.
type InitialUserRequest struct {
	UID         string `json:"uid" validate:"required" format:"uid"`
	Email       string `json:"email" validate:"required" format:"account_email"`
	DisplayName string `json:"displayName" validate:"required" format:"min=2,max=100"`
	Role        string `json:"role" validate:"required" format:"role"`
	PhotoURL    string `json:"photoURL,omitempty" format:"omitempty,max=2048"`
}

// InitialUserResponse carries the user document. Exists is true when the document was
// already there and nothing was written.
type InitialUserResponse struct {
	Success bool          `json:"success"`
	Exists  bool          `json:"exists"`
	User    *account.User `json:"user"`
}

// CreateInitialUserDocument creates the user document right after sign-up. The caller
// token may not have propagated yet, so instead of the request identity it resolves uid
// through the identity directory and requires the recorded email to match.
func (s *Service) CreateInitialUserDocument(ctx context.Context, req InitialUserRequest) (resp *InitialUserResponse, err error) {
	defer s.shield(ctx, "create_user_error", req.UID, &err)

	if err := validate.Required(req); err != nil {
		return nil, newError(codes.InvalidArgument, msgMissingFields)
	}
	if err := validate.Format(req); err != nil {
		return nil, newError(codes.InvalidArgument, msgInvalidUser)
	}
	if err := s.verifyIdentity(ctx, req.UID, req.Email); err != nil {
		return nil, err
	}
	if err := s.enforce(ctx, req.UID, ratelimit.CreateInitialUser); err != nil {
		return nil, err
	}

	existing, ok, err := s.accounts.User(ctx, req.UID)
	if err != nil {
		return nil, err
	}
	if ok {
		return &InitialUserResponse{Success: true, Exists: true, User: &existing}, nil
	}

	user, err := s.accounts.CreateUser(ctx, account.User{
		UID:         req.UID,
		Email:       req.Email,
		DisplayName: validate.SanitizeString(req.DisplayName),
		PhotoURL:    validate.SanitizeString(req.PhotoURL),
		Roles:       []string{req.Role},
		ActiveRole:  req.Role,
	})
	if errors.Is(err, docstore.ErrAlreadyExists) {
		// Lost a race with a concurrent call for the same uid.
		existing, _, err := s.accounts.User(ctx, req.UID)
		if err != nil {
			return nil, err
		}
		return &InitialUserResponse{Success: true, Exists: true, User: &existing}, nil
	}
	if err != nil {
		return nil, err
	}

	s.audit.SecurityLog(ctx, "user_document_created", req.UID, map[string]any{"role": req.Role})
	return &InitialUserResponse{Success: true, Exists: false, User: &user}, nil
}

func (s *Service) verifyIdentity(ctx context.Context, uid, email string) error {
	if s.directory == nil {
		return errors.New("callable: identity directory not configured")
	}
	info, err := s.directory.LookupUser(ctx, uid)
	if err != nil {
		obs.Logger().Warn().Err(err).Str("user_id", uid).Msg("identity lookup failed")
		s.audit.SecurityLog(ctx, "create_user_lookup_failed", uid, nil)
		return newError(codes.NotFound, msgUserNotFound)
	}
	if !strings.EqualFold(strings.TrimSpace(info.Email), strings.TrimSpace(email)) {
		s.audit.SecurityLog(ctx, "create_user_email_mismatch", uid, nil)
		return newError(codes.PermissionDenied, msgEmailMismatch)
	}
	return nil
}
