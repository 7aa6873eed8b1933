package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/propshq/props/pkg/apptoken"
	"github.com/propshq/props/pkg/authflow"
	flowapi "github.com/propshq/props/pkg/authflow/api"
	"github.com/propshq/props/pkg/authstate"
	"github.com/propshq/props/pkg/jwks"
	"github.com/propshq/props/pkg/provider"
	"github.com/propshq/props/pkg/user"
)

type AppConfig struct {
	Host    string `env:"PROPS_HOST" env-default:"localhost"`
	Port    uint16 `env:"PROPS_PORT" env-default:"4000"`
	BaseURL string `env:"PROPS_BASE_URL" env-default:"http://localhost:4000"`
}

type ProviderConfig struct {
	ClientID     string `env:"PROVIDER_CLIENT_ID"`
	ClientSecret string `env:"PROVIDER_CLIENT_SECRET"`
	AuthorizeURL string `env:"PROVIDER_AUTHORIZE_URL" env-default:"https://discord.com/api/oauth2/authorize"`
	TokenURL     string `env:"PROVIDER_TOKEN_URL" env-default:"https://discord.com/api/oauth2/token"`
	RevokeURL    string `env:"PROVIDER_REVOKE_URL" env-default:"https://discord.com/api/oauth2/token/revoke"`
	UserURL      string `env:"PROVIDER_USER_URL" env-default:"https://discord.com/api/users/@me"`
	JWKSURL      string `env:"PROVIDER_JWKS_URL" env-default:"https://discord.com/api/oauth2/keys"`
	Issuer       string `env:"PROVIDER_ISSUER" env-default:"https://discord.com"`
}

type JwtConfig struct {
	JwtSecret      string `env:"JWT_SECRET" env-default:"very-secure-jwt-secret"`
	CookieHttpOnly bool   `env:"COOKIE_HTTP_ONLY" env-default:"true"`
	CookieSecure   bool   `env:"COOKIE_SECURE" env-default:"false"`
}

type PgConfig struct {
	Enabled  bool   `env:"PROPS_PG_ENABLED" env-default:"false"`
	Host     string `env:"PROPS_PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"PROPS_PG_PORT" env-default:"5432"`
	Database string `env:"PROPS_PG_DATABASE" env-default:"props_db"`
	User     string `env:"PROPS_PG_USER" env-default:"props"`
	Password string `env:"PROPS_PG_PASSWORD" env-default:"pwd"`
}

func (c PgConfig) dsn() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Database)
}

type Config struct {
	AppConfig      AppConfig
	ProviderConfig ProviderConfig
	JwtConfig      JwtConfig
	PgConfig       PgConfig
}

func main() {
	config := Config{}
	cleanenv.ReadEnv(&config)

	providerConfig := &provider.Config{
		ClientID:     config.ProviderConfig.ClientID,
		ClientSecret: config.ProviderConfig.ClientSecret,
		AuthorizeURL: config.ProviderConfig.AuthorizeURL,
		TokenURL:     config.ProviderConfig.TokenURL,
		RevokeURL:    config.ProviderConfig.RevokeURL,
		UserURL:      config.ProviderConfig.UserURL,
		JWKSURL:      config.ProviderConfig.JWKSURL,
		Issuer:       config.ProviderConfig.Issuer,
	}
	if err := providerConfig.Validate(); err != nil {
		slog.Error("Invalid provider configuration", "error", err)
		os.Exit(-1)
	}

	var attempts authstate.Repository
	var users user.Repository
	if config.PgConfig.Enabled {
		pool, err := pgxpool.New(context.Background(), config.PgConfig.dsn())
		if err != nil {
			slog.Error("Failed creating dbpool", "db", config.PgConfig.Database, "host", config.PgConfig.Host, "port", config.PgConfig.Port, "user", config.PgConfig.User)
			os.Exit(-1)
		}
		attempts, err = authstate.NewPostgresRepository(pool)
		if err != nil {
			slog.Error("Failed creating attempt repository", "error", err)
			os.Exit(-1)
		}
		users, err = user.NewPostgresRepository(pool)
		if err != nil {
			slog.Error("Failed creating user repository", "error", err)
			os.Exit(-1)
		}
	} else {
		slog.Warn("No database configured, using in-memory repositories")
		attempts = authstate.NewInMemoryRepository()
		users = user.NewInMemoryRepository()
	}

	keyManager := jwks.NewKeyManager(providerConfig.JWKSURL)
	providerClient := provider.NewClient(providerConfig)

	tokenService := apptoken.NewService(
		apptoken.NewJwtTokenGenerator(config.JwtConfig.JwtSecret, "props", "props-app"),
	)
	cookieSetter := apptoken.NewCookieSetter(config.JwtConfig.CookieHttpOnly, config.JwtConfig.CookieSecure)

	flowService := authflow.NewService(
		attempts,
		users,
		providerClient,
		keyManager,
		tokenService,
		authflow.WithBaseURL(config.AppConfig.BaseURL),
	)
	flowHandle := flowapi.NewHandle(flowService, cookieSetter)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.PlainText(w, r, "OK")
	})

	r.Route("/auth", flowHandle.Routes)

	hmacAuth := jwtauth.New("HS256", []byte(config.JwtConfig.JwtSecret), nil)
	r.Group(func(r chi.Router) {
		r.Use(jwtauth.Verifier(hmacAuth))
		r.Use(jwtauth.Authenticator(hmacAuth))

		r.Get("/api/me", func(w http.ResponseWriter, r *http.Request) {
			_, claims, err := jwtauth.FromContext(r.Context())
			if err != nil {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			subject, _ := claims["sub"].(string)
			userID, err := uuid.Parse(subject)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			me, err := users.FindByID(r.Context(), userID)
			if err != nil {
				slog.Error("Failed to get user info", "error", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			render.JSON(w, r, me)
		})

		r.Post("/api/logout", func(w http.ResponseWriter, r *http.Request) {
			_, claims, err := jwtauth.FromContext(r.Context())
			if err != nil {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			subject, _ := claims["sub"].(string)
			userID, err := uuid.Parse(subject)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			if err := flowService.Logout(r.Context(), userID); err != nil {
				slog.Error("Failed to revoke provider tokens", "error", err)
			}
			cookieSetter.ClearCookie(w, apptoken.AccessTokenName)
			cookieSetter.ClearCookie(w, apptoken.RefreshTokenName)
			render.NoContent(w, r)
		})
	})

	addr := fmt.Sprintf("%s:%d", config.AppConfig.Host, config.AppConfig.Port)
	slog.Info("Starting props server", "addr", addr, "base_url", config.AppConfig.BaseURL)
	if err := http.ListenAndServe(addr, r); err != nil {
		slog.Error("Server stopped", "error", err)
		os.Exit(-1)
	}
}
