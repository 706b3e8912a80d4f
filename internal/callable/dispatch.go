package callable

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"time"

	"google.golang.org/grpc/codes"

	"salonbook.app/internal/auth"
	"salonbook.app/internal/obs"
)

// Function names as clients address them.
const (
	FuncValidateLogin             = "validateLogin"
	FuncCreateProfile             = "createProfile"
	FuncLinkProfessional          = "linkProfessionalToBusiness"
	FuncCreateInitialUserDocument = "createInitialUserDocument"
)

type handler struct {
	requiresAuth bool
	invoke       func(ctx context.Context, s *Service, data json.RawMessage) (any, error)
}

// subject names the payload key that must equal the caller uid and the audit event
// written when it does not.
type subject struct {
	key           string
	mismatchEvent string
}

var handlers = map[string]handler{
	FuncValidateLogin:             bind(true, subject{"uid", "login_uid_mismatch"}, (*Service).ValidateLogin),
	FuncCreateProfile:             bind(true, subject{"uid", "profile_creation_uid_mismatch"}, (*Service).CreateProfile),
	FuncLinkProfessional:          bind(true, subject{"professionalUid", "link_uid_mismatch"}, (*Service).LinkProfessionalToBusiness),
	FuncCreateInitialUserDocument: bind(false, subject{}, (*Service).CreateInitialUserDocument),
}

func bind[Req, Resp any](requiresAuth bool, subj subject, op func(*Service, context.Context, Req) (Resp, error)) handler {
	return handler{
		requiresAuth: requiresAuth,
		invoke: func(ctx context.Context, s *Service, data json.RawMessage) (any, error) {
			var req Req
			if err := decodePayload(data, &req); err != nil {
				// A payload that does not fit the request type still names its subject.
				if err := s.checkRawSubject(ctx, subj, data); err != nil {
					return nil, err
				}
				return nil, newError(codes.InvalidArgument, msgInvalidPayload)
			}
			resp, err := op(s, ctx, req)
			if err != nil {
				return nil, err
			}
			return resp, nil
		},
	}
}

// Names lists the registered functions in sorted order.
func Names() []string {
	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call decodes data into the payload of the named function and runs it. Functions that
// require a caller reject anonymous requests before the payload is looked at.
func (s *Service) Call(ctx context.Context, name string, data json.RawMessage) (result any, err error) {
	start := time.Now()
	h, ok := handlers[name]
	label := name
	if !ok {
		label = "unknown"
	}
	defer func() {
		obs.ObserveCallable(label, StatusName(Code(err)), time.Since(start))
	}()

	if !ok {
		return nil, newError(codes.NotFound, msgUnknownFunction)
	}
	if h.requiresAuth {
		if _, err := auth.RequireAuth(ctx); err != nil {
			return nil, errUnauthenticated
		}
	}
	return h.invoke(ctx, s, data)
}

// decodePayload fills v from data. Keys v does not declare are ignored; empty and null
// payloads leave v zero.
func decodePayload(data json.RawMessage, v any) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	return json.Unmarshal(data, v)
}

// checkRawSubject applies the identity binding to a payload that failed typed decoding.
// It only rejects when the subject key is present and differs from the caller.
func (s *Service) checkRawSubject(ctx context.Context, subj subject, data json.RawMessage) error {
	if subj.key == "" {
		return nil
	}
	caller, ok := auth.CallerFromContext(ctx)
	if !ok {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}
	raw, ok := fields[subj.key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	var requested string
	if err := json.Unmarshal(raw, &requested); err != nil {
		requested = string(raw)
	}
	if requested == caller.UID {
		return nil
	}
	return s.subjectMismatch(ctx, subj.mismatchEvent, caller.UID, requested)
}
