package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atelierhq/atelier-backend/api/controllers"
	"github.com/atelierhq/atelier-backend/api/middleware"
	"github.com/atelierhq/atelier-backend/internal/bookings"
	"github.com/atelierhq/atelier-backend/internal/enrollments"
	"github.com/atelierhq/atelier-backend/internal/events"
	"github.com/atelierhq/atelier-backend/internal/groups"
	"github.com/atelierhq/atelier-backend/internal/orders"
	"github.com/atelierhq/atelier-backend/internal/payments"
	"github.com/atelierhq/atelier-backend/internal/products"
	"github.com/atelierhq/atelier-backend/internal/sessions"
	"github.com/atelierhq/atelier-backend/internal/subscriptions"
	"github.com/atelierhq/atelier-backend/internal/users"
	"github.com/atelierhq/atelier-backend/pkg/config"
	"github.com/atelierhq/atelier-backend/pkg/db"
	"github.com/atelierhq/atelier-backend/pkg/logger"
	"github.com/atelierhq/atelier-backend/pkg/metrics"
	"github.com/atelierhq/atelier-backend/pkg/redis"
)

// Deps carries everything the HTTP surface needs. Optional fields (redis,
// payments, metrics) may be nil; the affected routes degrade gracefully.
type Deps struct {
	Config *config.Config
	Logger *logger.Logger

	DB    *db.Client
	Redis *redis.Client

	Registry       *prometheus.Registry
	BookingMetrics *metrics.BookingMetrics

	Users         users.Service
	Groups        groups.Service
	Sessions      sessions.Service
	Enrollments   enrollments.Service
	Bookings      bookings.Service
	Events        events.Service
	Orders        orders.Service
	Products      products.Service
	Subscriptions subscriptions.Service
	Payments      payments.Service
}

func NewRouter(d Deps) http.Handler {
	cfg := d.Config
	logg := d.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	var redisP interface{ Ping(context.Context) error }
	if d.Redis != nil {
		redisP = d.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, d.DB, redisP))
	})

	if d.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/payment", controllers.PaymentWebhook(d.Payments, logg))
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/register", controllers.AuthRegister(d.Users, logg))
		r.Post("/login", controllers.AuthLogin(d.Users, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Post("/refresh", controllers.AuthRefresh(d.Users, logg))
			r.Post("/logout", controllers.AuthLogout(d.Users, logg))
		})
	})

	// Public catalog.
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/groups", controllers.GroupList(d.Groups, logg))
		r.Get("/groups/{groupId}", controllers.GroupDetail(d.Groups, logg))
		r.Get("/groups/{groupId}/sessions", controllers.SessionsByGroup(d.Sessions, logg))
		r.Get("/sessions/{sessionId}", controllers.SessionDetail(d.Sessions, logg))
		r.Get("/events", controllers.EventUpcoming(d.Events, logg))
		r.Get("/events/{eventId}", controllers.EventDetail(d.Events, logg))
		r.Get("/products", controllers.ProductList(d.Products, logg))
		r.Get("/products/{productId}", controllers.ProductDetail(d.Products, logg))
		r.Get("/subscription-types", controllers.SubscriptionTypes(d.Subscriptions, logg))

		// Guests may book with a contact email; signed-in users get the
		// booking attached to their account.
		r.With(middleware.OptionalAuth(cfg.JWT, logg)).
			Post("/bookings", controllers.BookingCreate(d.Bookings, d.BookingMetrics, logg))
	})

	// Signed-in members.
	r.Route("/api/v1/me", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Get("/profile", controllers.UserProfile(d.Users, logg))
		r.Put("/profile", controllers.UserUpdateProfile(d.Users, logg))

		r.Get("/bookings", controllers.BookingUpcoming(d.Bookings, logg))
		r.Get("/subscriptions", controllers.SubscriptionListMine(d.Subscriptions, logg))
		r.Get("/subscriptions/{subscriptionId}", controllers.SubscriptionDetail(d.Subscriptions, logg))
		r.Get("/balance", controllers.SubscriptionBalance(d.Subscriptions, logg))
		r.Get("/enrollments", controllers.EnrollmentList(d.Enrollments, logg))
		r.Get("/orders", controllers.OrderListMine(d.Orders, logg))
	})

	r.Route("/api/v1/member", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Post("/bookings/{bookingId}/cancel", controllers.BookingCancel(d.Bookings, d.BookingMetrics, logg))
		r.Get("/bookings/{bookingId}", controllers.BookingDetail(d.Bookings, logg))

		r.Post("/enrollments", controllers.EnrollmentCreate(d.Enrollments, logg))
		r.Post("/enrollments/{enrollmentId}/cancel", controllers.EnrollmentCancel(d.Enrollments, logg))
		r.Post("/enrollments/{enrollmentId}/pause", controllers.EnrollmentPause(d.Enrollments, logg))
		r.Post("/enrollments/{enrollmentId}/resume", controllers.EnrollmentResume(d.Enrollments, logg))
		r.Get("/enrollments/{enrollmentId}/sessions", controllers.EnrollmentUpcomingSessions(d.Enrollments, logg))

		r.Post("/orders", controllers.OrderCreate(d.Orders, logg))
		r.Get("/orders/{orderId}", controllers.OrderDetail(d.Orders, logg))

		r.Post("/subscriptions/purchase", controllers.SubscriptionPurchase(d.Payments, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole("ADMIN", logg))

		r.Route("/groups", func(r chi.Router) {
			r.Post("/", controllers.GroupCreate(d.Groups, logg))
			r.Put("/{groupId}", controllers.GroupUpdate(d.Groups, logg))
			r.Post("/{groupId}/sessions/generate", controllers.SessionGenerateForGroup(d.Groups, d.Sessions, cfg.Studio, logg))
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/generate", controllers.SessionGenerate(d.Sessions, logg))
			r.Post("/{sessionId}/cancel", controllers.SessionCancel(d.Sessions, logg))
			r.Delete("/{sessionId}", controllers.SessionDelete(d.Sessions, logg))
			r.Get("/{sessionId}/participants", controllers.SessionParticipants(d.Sessions, logg))
		})

		r.Route("/bookings", func(r chi.Router) {
			r.Get("/", controllers.BookingList(d.Bookings, logg))
			r.Patch("/{bookingId}/status", controllers.BookingUpdateStatus(d.Bookings, logg))
		})
		r.Get("/events/{eventId}/bookings", controllers.BookingsByEvent(d.Bookings, logg))

		r.Route("/events", func(r chi.Router) {
			r.Get("/", controllers.EventList(d.Events, logg))
			r.Post("/", controllers.EventCreate(d.Events, logg))
			r.Put("/{eventId}", controllers.EventUpdate(d.Events, logg))
			r.Patch("/{eventId}/status", controllers.EventUpdateStatus(d.Events, logg))
		})

		r.Route("/products", func(r chi.Router) {
			r.Post("/", controllers.ProductCreate(d.Products, logg))
			r.Put("/{productId}", controllers.ProductUpdate(d.Products, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.OrderList(d.Orders, logg))
			r.Patch("/{orderId}/status", controllers.OrderUpdateStatus(d.Orders, logg))
		})

		r.Post("/subscriptions/{subscriptionId}/top-up", controllers.SubscriptionTopUp(d.Subscriptions, logg))
		r.Post("/users/{userId}/top-up", controllers.SubscriptionTopUpUser(d.Subscriptions, logg))
	})

	return r
}
