package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/promptforge/promptforge-api/internal/handlers"
	"github.com/promptforge/promptforge-api/internal/session"
)

// NewRouter sets up the API routes
func NewRouter(
	resolver *session.Resolver,
	auth *handlers.AuthHandler,
	team *handlers.TeamHandler,
	invitation *handlers.InvitationHandler,
	admin *handlers.AdminHandler,
) *mux.Router {
	router := mux.NewRouter()

	// Health check route
	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	// Public auth endpoints
	router.HandleFunc("/api/signup", auth.SignUp).Methods(http.MethodPost)
	router.HandleFunc("/api/login", auth.Login).Methods(http.MethodPost)

	// Invitation accept flow: GET previews without consuming the
	// token, POST performs the transition. Preview is public; accept
	// authenticates inside the handler.
	router.HandleFunc("/invitations/{token}", invitation.PreviewInvitation).Methods(http.MethodGet)
	router.HandleFunc("/invitations/{token}", invitation.AcceptInvitation).Methods(http.MethodPost)

	// Everything below resolves the session once per request.
	api := router.PathPrefix("/api").Subrouter()
	api.Use(resolver.Middleware)

	api.HandleFunc("/me", auth.Me).Methods(http.MethodGet)

	api.HandleFunc("/teams", team.CreateTeam).Methods(http.MethodPost)
	api.HandleFunc("/teams", team.ListTeams).Methods(http.MethodGet)
	api.HandleFunc("/teams/{slug}", team.GetTeam).Methods(http.MethodGet)
	api.HandleFunc("/teams/{slug}", team.UpdateTeam).Methods(http.MethodPut)
	api.HandleFunc("/teams/{slug}", team.DeleteTeam).Methods(http.MethodDelete)

	api.HandleFunc("/teams/{slug}/members", team.ListMembers).Methods(http.MethodGet)
	api.HandleFunc("/teams/{slug}/members", team.AddMember).Methods(http.MethodPost)
	api.HandleFunc("/teams/{slug}/members/{userID}", team.UpdateMemberRole).Methods(http.MethodPut)
	api.HandleFunc("/teams/{slug}/members/{userID}", team.RemoveMember).Methods(http.MethodDelete)

	api.HandleFunc("/teams/{slug}/invitations", invitation.ListInvitations).Methods(http.MethodGet)
	api.HandleFunc("/teams/{slug}/invitations", invitation.CreateInvitation).Methods(http.MethodPost)
	api.HandleFunc("/teams/{slug}/invitations/{invitationID}", invitation.CancelInvitation).Methods(http.MethodDelete)

	api.HandleFunc("/admin/users/{userID}/tier", admin.SetUserTier).Methods(http.MethodPut)

	return router
}
