package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"wedding-bet-service/internal/app"
	"wedding-bet-service/internal/domain"
)

type principalKey struct{}

// API serves the JSON endpoints.
type API struct {
	bets     *app.BetService
	auth     *app.AuthService
	admin    *app.AdminService
	log      zerolog.Logger
	validate *validator.Validate
}

func NewAPI(bets *app.BetService, auth *app.AuthService, admin *app.AdminService, log zerolog.Logger) *API {
	return &API{
		bets:     bets,
		auth:     auth,
		admin:    admin,
		log:      log.With().Str("component", "http").Logger(),
		validate: newValidator(),
	}
}

type signUpRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Confirm  string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

type signInRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type signInResponse struct {
	Token     string           `json:"token"`
	Principal domain.Principal `json:"user"`
}

type answersRequest struct {
	Answers map[string]string `json:"answers" validate:"required"`
}

type publishRequest struct {
	UserIDs []string `json:"userIds"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Routes registers the endpoints on r.
func (a *API) Routes(r *mux.Router) {
	r.Use(a.authenticate)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(a.logRequests)

	api.HandleFunc("/auth/signup", a.signUp).Methods(http.MethodPost)
	api.HandleFunc("/auth/signin", a.signIn).Methods(http.MethodPost)
	api.HandleFunc("/auth/signout", a.signOut).Methods(http.MethodPost)
	api.HandleFunc("/me", a.me).Methods(http.MethodGet)

	api.HandleFunc("/bets", a.listBets).Methods(http.MethodGet)
	api.HandleFunc("/bets", a.createBet).Methods(http.MethodPost)
	api.HandleFunc("/bets/{id}", a.deleteBet).Methods(http.MethodDelete)

	api.HandleFunc("/answers", a.submitAnswers).Methods(http.MethodPost)

	api.HandleFunc("/keys", a.submitKey).Methods(http.MethodPost)
	api.HandleFunc("/keys/active", a.activeKey).Methods(http.MethodGet)

	api.HandleFunc("/winners", a.listWinners).Methods(http.MethodGet)
	api.HandleFunc("/winners/resolve", a.resolveWinners).Methods(http.MethodPost)
	api.HandleFunc("/winners/publish", a.publishWinners).Methods(http.MethodPost)

	api.HandleFunc("/admin/grant", a.grantAdmin).Methods(http.MethodPost)
	api.HandleFunc("/admin/revoke", a.revokeAdmin).Methods(http.MethodPost)
}

func (a *API) signUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decode(r, a.validate, &req); err != nil {
		writeError(w, a.log, err)
		return
	}
	user, err := a.auth.SignUp(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) signIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decode(r, a.validate, &req); err != nil {
		writeError(w, a.log, err)
		return
	}
	principal, err := a.auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, signInResponse{Token: principal.Token, Principal: principal})
}

func (a *API) signOut(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	if p == nil {
		writeError(w, a.log, domain.ErrUnauthenticated)
		return
	}
	if err := a.auth.SignOut(r.Context(), p.Token); err != nil {
		writeError(w, a.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	if p == nil {
		writeError(w, a.log, domain.ErrUnauthenticated)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) listBets(w http.ResponseWriter, r *http.Request) {
	bets, err := a.bets.ListBets(r.Context())
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, bets)
}

func (a *API) createBet(w http.ResponseWriter, r *http.Request) {
	var draft domain.BetDraft
	if err := decode(r, a.validate, &draft); err != nil {
		writeError(w, a.log, err)
		return
	}
	bet, err := a.bets.CreateBet(r.Context(), principalFrom(r.Context()), draft)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, bet)
}

func (a *API) deleteBet(w http.ResponseWriter, r *http.Request) {
	if err := a.bets.DeleteBet(r.Context(), principalFrom(r.Context()), mux.Vars(r)["id"]); err != nil {
		writeError(w, a.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) submitAnswers(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	if p == nil {
		writeError(w, a.log, domain.ErrUnauthenticated)
		return
	}
	var req answersRequest
	if err := decode(r, a.validate, &req); err != nil {
		writeError(w, a.log, err)
		return
	}
	sub, err := a.bets.SubmitAnswers(r.Context(), p, req.Answers)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (a *API) submitKey(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	if p == nil || !p.Admin {
		writeError(w, a.log, adminError(p))
		return
	}
	var req answersRequest
	if err := decode(r, a.validate, &req); err != nil {
		writeError(w, a.log, err)
		return
	}
	key, err := a.bets.SubmitAnswerKey(r.Context(), p, req.Answers)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, key)
}

func (a *API) activeKey(w http.ResponseWriter, r *http.Request) {
	key, err := a.bets.ActiveKey(r.Context(), principalFrom(r.Context()))
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (a *API) listWinners(w http.ResponseWriter, r *http.Request) {
	winners, err := a.bets.PublishedWinners(r.Context())
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, winners)
}

func (a *API) resolveWinners(w http.ResponseWriter, r *http.Request) {
	res, err := a.bets.ResolveWinners(r.Context(), principalFrom(r.Context()))
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) publishWinners(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	if p == nil || !p.Admin {
		writeError(w, a.log, adminError(p))
		return
	}
	var req publishRequest
	if r.ContentLength != 0 {
		if err := decode(r, a.validate, &req); err != nil {
			writeError(w, a.log, err)
			return
		}
	}
	winners, err := a.bets.PublishWinners(r.Context(), p, req.UserIDs)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, winners)
}

func (a *API) grantAdmin(w http.ResponseWriter, r *http.Request) {
	a.changeAdmin(w, r, a.admin.Grant)
}

func (a *API) revokeAdmin(w http.ResponseWriter, r *http.Request) {
	a.changeAdmin(w, r, a.admin.Revoke)
}

func (a *API) changeAdmin(w http.ResponseWriter, r *http.Request, fn func(context.Context, *domain.Principal, string) (string, error)) {
	var req emailRequest
	if err := decode(r, a.validate, &req); err != nil {
		writeError(w, a.log, err)
		return
	}
	msg, err := fn(r.Context(), principalFrom(r.Context()), req.Email)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

// authenticate attaches the session principal, if any, to the request context.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		principal, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			if statusFor(err) == http.StatusInternalServerError {
				a.log.Warn().Err(err).Msg("session lookup failed")
			}
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, &principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func principalFrom(ctx context.Context) *domain.Principal {
	p, _ := ctx.Value(principalKey{}).(*domain.Principal)
	return p
}

// bearerToken reads the Authorization header, falling back to the
// access_token query parameter browsers use for websockets.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return r.URL.Query().Get("access_token")
}

func adminError(p *domain.Principal) error {
	if p == nil {
		return domain.ErrUnauthenticated
	}
	return domain.ErrPermissionDenied
}
