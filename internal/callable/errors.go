package callable

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error is the only error type that crosses the trust boundary. Message is meant for
// end users; internal detail never ends up in it.
type Error struct {
	Code    codes.Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", StatusName(e.Code), e.Message)
}

// GRPCStatus lets grpc-go encode the error without translation.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.Code, e.Message)
}

func newError(code codes.Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// User-facing messages.
const (
	msgUnauthenticated   = "Usuário não autenticado."
	msgMissingFields     = "Dados obrigatórios não fornecidos."
	msgPermissionDenied  = "Acesso negado."
	msgInvalidLogin      = "Dados de login inválidos."
	msgInvalidProfile    = "Dados do perfil inválidos."
	msgInvalidName       = "Nome deve ter entre 2 e 100 caracteres."
	msgInvalidPhone      = "Telefone inválido."
	msgInvalidCPF        = "CPF inválido."
	msgInvalidCNPJ       = "CNPJ inválido."
	msgInvalidUser       = "Dados do usuário inválidos."
	msgInvalidCode       = "Código do negócio inválido."
	msgBusinessNotFound  = "Negócio não encontrado ou inativo."
	msgProfileNotFound   = "Perfil profissional não encontrado."
	msgAlreadyLinked     = "Você já está vinculado a este negócio."
	msgUserNotFound      = "Usuário não encontrado."
	msgEmailMismatch     = "Email não corresponde ao usuário."
	msgUnknownFunction   = "Função não encontrada."
	msgInvalidPayload    = "Formato de dados inválido."
	msgInternal          = "Erro interno. Tente novamente mais tarde."
	msgRateLimitTemplate = "Muitas tentativas. Tente novamente em %d segundos."
)

var errUnauthenticated = newError(codes.Unauthenticated, msgUnauthenticated)

func errInternal() *Error {
	return newError(codes.Internal, msgInternal)
}

// Code extracts the error kind of err. Errors that are not *Error are Internal.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return codes.Internal
}

var statusNames = map[codes.Code]string{
	codes.OK:                "OK",
	codes.Unauthenticated:   "UNAUTHENTICATED",
	codes.InvalidArgument:   "INVALID_ARGUMENT",
	codes.PermissionDenied:  "PERMISSION_DENIED",
	codes.NotFound:          "NOT_FOUND",
	codes.AlreadyExists:     "ALREADY_EXISTS",
	codes.ResourceExhausted: "RESOURCE_EXHAUSTED",
	codes.Internal:          "INTERNAL",
}

// StatusName is the wire name of code used by the HTTP callable protocol.
func StatusName(code codes.Code) string {
	if name, ok := statusNames[code]; ok {
		return name
	}
	return "INTERNAL"
}

// HTTPStatus maps an error kind to its HTTP status code.
func HTTPStatus(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
