package callable

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"

	"salonbook.app/internal/account"
	"salonbook.app/internal/auth"
	"salonbook.app/internal/ratelimit"
	"salonbook.app/internal/validate"
)

// LinkRequest is the payload of linkProfessionalToBusiness.
type LinkRequest struct {
	ProfessionalUID string `json:"professionalUid" validate:"required"`
	BusinessCode    string `json:"businessCode" validate:"required" format:"min=6,max=20"`
}

// LinkResponse names the business the caller joined.
type LinkResponse struct {
	Success      bool   `json:"success"`
	BusinessID   string `json:"businessId"`
	BusinessName string `json:"businessName"`
}

// LinkProfessionalToBusiness joins the calling professional to the active business
// owning the link code.
func (s *Service) LinkProfessionalToBusiness(ctx context.Context, req LinkRequest) (resp *LinkResponse, err error) {
	defer s.shield(ctx, "link_error", "", &err)

	caller, err := auth.RequireAuth(ctx)
	if err != nil {
		return nil, errUnauthenticated
	}
	if err := validate.Required(req); err != nil {
		return nil, newError(codes.InvalidArgument, msgMissingFields)
	}
	if req.ProfessionalUID != caller.UID {
		return nil, s.subjectMismatch(ctx, "link_uid_mismatch", caller.UID, req.ProfessionalUID)
	}
	if err := validate.Format(req); err != nil {
		return nil, newError(codes.InvalidArgument, msgInvalidCode)
	}
	uid := req.ProfessionalUID
	if err := s.enforce(ctx, uid, ratelimit.LinkBusiness); err != nil {
		return nil, err
	}

	code := validate.SanitizeString(req.BusinessCode)
	business, ok, err := s.accounts.ActiveBusinessByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.invalidCode(ctx, uid, code)
	}

	profile, ok, err := s.accounts.Profile(ctx, uid, validate.RoleProfessional)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newError(codes.NotFound, msgProfileNotFound)
	}
	if profile.LinkedTo(business.ID) {
		return nil, s.alreadyLinked(ctx, uid, business.ID)
	}

	// The repository repeats the membership check inside its transaction; a concurrent
	// request that wins the race surfaces here as ErrAlreadyLinked.
	linkID, err := s.accounts.LinkProfessional(ctx, account.Link{
		BusinessID:     business.ID,
		ProfessionalID: uid,
		BusinessName:   business.Name,
		LinkCode:       code,
	})
	switch {
	case errors.Is(err, account.ErrAlreadyLinked):
		return nil, s.alreadyLinked(ctx, uid, business.ID)
	case errors.Is(err, account.ErrProfileNotFound):
		return nil, newError(codes.NotFound, msgProfileNotFound)
	case errors.Is(err, account.ErrBusinessNotFound):
		return nil, s.invalidCode(ctx, uid, code)
	case err != nil:
		return nil, err
	}

	s.audit.SecurityLog(ctx, "link_success", uid, map[string]any{
		"businessId": business.ID,
		"linkId":     linkID,
	})
	return &LinkResponse{Success: true, BusinessID: business.ID, BusinessName: business.Name}, nil
}

func (s *Service) invalidCode(ctx context.Context, uid, code string) error {
	s.audit.SecurityLog(ctx, "link_invalid_code", uid, map[string]any{"code": code})
	return newError(codes.NotFound, msgBusinessNotFound)
}

func (s *Service) alreadyLinked(ctx context.Context, uid, businessID string) error {
	s.audit.SecurityLog(ctx, "link_already_exists", uid, map[string]any{"businessId": businessID})
	return newError(codes.AlreadyExists, msgAlreadyLinked)
}
