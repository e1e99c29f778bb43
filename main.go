package main

import (
	"net/http"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"

	"medibill/m/internal/api"
	"medibill/m/internal/billing"
	"medibill/m/internal/config"
	"medibill/m/internal/database"
	"medibill/m/internal/logging"
	"medibill/m/internal/migrations"
	"medibill/m/internal/projection"
	"medibill/m/internal/seed"
	"medibill/m/internal/session"
	"medibill/m/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.New(cfg.LogLevel)

	db, err := database.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		log.WithError(err).Fatal("failed to migrate database")
	}

	st := store.New(db, log)
	svc := billing.NewService(st, log)

	if cfg.SeedCSV != "" {
		seed.LoadCatalog(svc, cfg.SeedCSV, log)
	}

	var oauthCfg *oauth2.Config
	if cfg.OAuthClientID != "" {
		oauthCfg = &oauth2.Config{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			RedirectURL:  cfg.OAuthRedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.OAuthAuthURL,
				TokenURL: cfg.OAuthTokenURL,
			},
		}
	}

	sess := session.NewManager(db, cfg.Secret, oauthCfg, cfg.OAuthUserInfoURL, log)
	proj := projection.New(st, log)
	release := proj.Bind(sess)
	defer release()
	sess.Resolve()

	handler := api.New(svc, sess, proj, st, log)

	log.Infof("billing server starting on :%s", cfg.HTTPPort)
	if err := http.ListenAndServe(":"+cfg.HTTPPort, handler.Router()); err != nil {
		log.WithError(err).Fatal("server error")
	}
}
