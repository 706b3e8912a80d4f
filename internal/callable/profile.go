package callable

import (
	"context"

	"google.golang.org/grpc/codes"

	"salonbook.app/internal/auth"
	"salonbook.app/internal/ratelimit"
	"salonbook.app/internal/validate"
)

// ProfileRequest is the payload of createProfile. ProfileData is role specific.
type ProfileRequest struct {
	UID         string         `json:"uid" validate:"required" format:"uid"`
	Email       string         `json:"email" validate:"required" format:"account_email"`
	Role        string         `json:"role" validate:"required" format:"role"`
	ProfileData map[string]any `json:"profileData" validate:"required"`
}

// ProfileResponse confirms the stored profile.
type ProfileResponse struct {
	Success bool   `json:"success"`
	UID     string `json:"uid"`
	Role    string `json:"role"`
}

// sanitizedProfileFields are free text fields echoed back to other users.
var sanitizedProfileFields = []string{"name", "specialty"}

// CreateProfile grants the role to the caller and writes the role profile, replacing
// any previous profile for that role.
func (s *Service) CreateProfile(ctx context.Context, req ProfileRequest) (resp *ProfileResponse, err error) {
	defer s.shield(ctx, "profile_creation_error", "", &err)

	caller, err := auth.RequireAuth(ctx)
	if err != nil {
		return nil, errUnauthenticated
	}
	if err := validate.Required(req); err != nil {
		return nil, newError(codes.InvalidArgument, msgMissingFields)
	}
	if req.UID != caller.UID {
		return nil, s.subjectMismatch(ctx, "profile_creation_uid_mismatch", caller.UID, req.UID)
	}
	if err := validate.Format(req); err != nil {
		return nil, newError(codes.InvalidArgument, msgInvalidProfile)
	}
	if msg := checkProfileFields(req.ProfileData); msg != "" {
		return nil, newError(codes.InvalidArgument, msg)
	}
	if err := s.enforce(ctx, req.UID, ratelimit.CreateProfile); err != nil {
		return nil, err
	}

	fields := make(map[string]any, len(req.ProfileData))
	for k, v := range req.ProfileData {
		fields[k] = v
	}
	for _, key := range sanitizedProfileFields {
		if v, ok := fields[key]; ok {
			fields[key] = validate.SanitizeValue(v)
		}
	}

	if _, err := s.accounts.EnsureUserRole(ctx, req.UID, req.Email, req.Role); err != nil {
		return nil, err
	}
	if err := s.accounts.PutProfile(ctx, req.UID, req.Role, fields); err != nil {
		return nil, err
	}

	s.audit.SecurityLog(ctx, "profile_created", req.UID, map[string]any{"role": req.Role})
	return &ProfileResponse{Success: true, UID: req.UID, Role: req.Role}, nil
}

// checkProfileFields validates the optional fields that are present and returns the
// message of the first failure.
func checkProfileFields(data map[string]any) string {
	checks := []struct {
		field string
		valid func(string) bool
		msg   string
	}{
		{"name", func(s string) bool { return validate.IsValidStringLength(s, 2, 100) }, msgInvalidName},
		{"phone", validate.IsValidPhone, msgInvalidPhone},
		{"cpf", validate.IsValidCPF, msgInvalidCPF},
		{"cnpj", validate.IsValidCNPJ, msgInvalidCNPJ},
	}
	for _, c := range checks {
		v, ok := data[c.field]
		if !ok {
			continue
		}
		s, isString := v.(string)
		if !isString || !c.valid(s) {
			return c.msg
		}
	}
	return ""
}
