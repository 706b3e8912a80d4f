package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"salonbook.app/internal/audit"
	"salonbook.app/internal/callable"
	"salonbook.app/internal/obs"
)

// callRequest is the callable envelope: the payload travels under "data".
type callRequest struct {
	Data json.RawMessage `json:"data"`
}

type callError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (a *API) handleCallable(w http.ResponseWriter, r *http.Request) {
	if a.callables == nil {
		writeError(w, r, http.StatusServiceUnavailable, "callables not configured")
		return
	}
	name := r.PathValue("name")

	var req callRequest
	if err := decodeJSON(w, r, a.opts.MaxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": callError{Status: "INVALID_ARGUMENT", Message: "Formato de dados inválido."},
		})
		return
	}

	result, err := a.callables.Call(r.Context(), name, req.Data)
	if err != nil {
		code := callable.Code(err)
		var ce *callable.Error
		if !errors.As(err, &ce) {
			obs.Logger().Error().Err(err).Str("function", name).
				Str("request_id", audit.RequestIDFromContext(r.Context())).
				Msg("callable returned an untyped error")
			ce = &callable.Error{Code: code, Message: "Erro interno. Tente novamente mais tarde."}
		}
		writeJSON(w, callable.HTTPStatus(code), map[string]any{
			"error": callError{Status: callable.StatusName(code), Message: ce.Message},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

// decodeJSON reads exactly one JSON value of at most limit bytes. Keys dst does not
// declare are ignored.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, limit)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", allowed[0])
	for _, m := range allowed[1:] {
		w.Header().Add("Allow", m)
	}
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
