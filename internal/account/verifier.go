package account

import (
	"context"
	"errors"
	"net/http"

	"github.com/asktech/accounts-api/internal/httputil"
	"github.com/asktech/accounts-api/internal/token"
	"github.com/asktech/accounts-api/internal/user"
)

// Failure is the response-shaped half of the verifier's tagged result: a
// token either resolves to a user or to a Failure the handler can write out
// as-is. It implements error so service methods can return it wrapped.
type Failure struct {
	Status  int
	Code    string
	Message string
}

func (f *Failure) Error() string {
	return f.Message
}

// WriteTo renders the failure as the HTTP response
func (f *Failure) WriteTo(w http.ResponseWriter) {
	httputil.RespondErrorWithCode(w, f.Message, f.Code, f.Status)
}

// Verifier resolves single-use email tokens to user records. It deliberately
// does not filter on is_active: a deactivated account must still be reachable
// through its verification token, otherwise it could never reactivate.
type Verifier struct {
	tokens *token.EmailTokenService
	users  UserRepository
}

func NewVerifier(tokens *token.EmailTokenService, users UserRepository) *Verifier {
	return &Verifier{tokens: tokens, users: users}
}

// Resolve validates signature, expiry and purpose, then loads the referenced
// user. Exactly one of the results is non-nil. No mutation happens here; a
// failed resolution leaves every record untouched.
func (v *Verifier) Resolve(ctx context.Context, tokenStr string, purpose token.Purpose) (*user.User, *Failure) {
	claims, err := v.tokens.Verify(tokenStr, purpose)
	if err != nil {
		if errors.Is(err, token.ErrTokenExpired) {
			return nil, &Failure{
				Status:  http.StatusUnauthorized,
				Code:    httputil.CodeTokenExpired,
				Message: "this link has expired, please request a new one",
			}
		}
		// Malformed, tampered or wrong-purpose tokens all collapse into one
		// answer so nothing about the token's origin leaks
		return nil, &Failure{
			Status:  http.StatusBadRequest,
			Code:    httputil.CodeInvalidToken,
			Message: "the provided token is invalid",
		}
	}

	u, err := v.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, &Failure{
			Status:  http.StatusBadRequest,
			Code:    httputil.CodeInvalidToken,
			Message: "the provided token is invalid",
		}
	}

	return u, nil
}
