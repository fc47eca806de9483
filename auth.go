package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

const defaultAccount = "default"

var errNoCredentials = errors.New("missing credentials.json! Please download it from Google Cloud Console or set client_id and client_secret")

var oauthConfig *oauth2.Config

func initOAuthConfig(config *Config) error {
	data, err := os.ReadFile(resolvePath(config.CredentialsFile))
	if err == nil {
		oauthConfig, err = google.ConfigFromJSON(data, calendar.CalendarScope)
		if err != nil {
			return fmt.Errorf("invalid credentials file %s: %w", config.CredentialsFile, err)
		}
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if config.ClientID == "" || config.ClientSecret == "" {
		return errNoCredentials
	}
	oauthConfig = &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{calendar.CalendarScope},
	}
	return nil
}

// getTokenFromWeb runs the installed-app flow: the browser is redirected back
// to a one-shot listener on the loopback interface.
func getTokenFromWeb(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("unable to start local redirect listener: %w", err)
	}

	cfg := *config
	cfg.RedirectURL = "http://" + listener.Addr().String() + "/"
	state := uuid.NewString()

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "unexpected state", http.StatusBadRequest)
			return
		}
		if e := q.Get("error"); e != "" {
			http.Error(w, "authorization failed: "+e, http.StatusBadRequest)
			select {
			case errCh <- fmt.Errorf("authorization failed: %s", e):
			default:
			}
			return
		}
		fmt.Fprintln(w, "Authorization complete, you can close this tab.")
		select {
		case codeCh <- q.Get("code"):
		default:
		}
	})}
	go srv.Serve(listener)
	defer srv.Close()

	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
	fmt.Printf("Go to the following link in your browser to authorize calassist: \n%v\n", authURL)

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve token from web: %w", err)
	}
	return tok, nil
}

func saveToken(db *sql.DB, accountName string, token *oauth2.Token) error {
	tokenJSON, err := json.Marshal(token)
	if err != nil {
		return err
	}

	_, err = db.Exec("INSERT OR REPLACE INTO tokens (account_name, token) VALUES (?, ?)", accountName, tokenJSON)
	return err
}

func loadToken(db *sql.DB, accountName string) (*oauth2.Token, error) {
	var tokenJSON []byte
	err := db.QueryRow("SELECT token FROM tokens WHERE account_name = ?", accountName).Scan(&tokenJSON)
	if err != nil {
		return nil, err
	}

	var token oauth2.Token
	if err := json.Unmarshal(tokenJSON, &token); err != nil {
		return nil, fmt.Errorf("error unmarshaling token: %w", err)
	}
	return &token, nil
}

// savingTokenSource writes every refreshed token back to the database.
type savingTokenSource struct {
	base        oauth2.TokenSource
	db          *sql.DB
	accountName string
	last        string
}

func newSavingTokenSource(ctx context.Context, config *oauth2.Config, db *sql.DB, accountName string, token *oauth2.Token) *savingTokenSource {
	return &savingTokenSource{
		base:        config.TokenSource(ctx, token),
		db:          db,
		accountName: accountName,
		last:        token.AccessToken,
	}
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if token.AccessToken != s.last {
		printVerbosely(3, "Token refreshed for account %s.\n", s.accountName)
		if err := saveToken(s.db, s.accountName, token); err != nil {
			printVerbosely(1, "  ❗️ Unable to cache refreshed token: %v\n", err)
		}
		s.last = token.AccessToken
	}
	return token, nil
}

func getClient(ctx context.Context, config *oauth2.Config, db *sql.DB, accountName string) (*http.Client, error) {
	token, err := loadToken(db, accountName)
	if errors.Is(err, sql.ErrNoRows) {
		fmt.Printf("  ❗️ No token found for account %s. Obtaining a new token.\n", accountName)
		return newClientFromWeb(ctx, config, db, accountName)
	}
	if err != nil {
		return nil, fmt.Errorf("error retrieving token from database: %w", err)
	}

	source := newSavingTokenSource(ctx, config, db, accountName, token)
	if _, err := source.Token(); err != nil {
		if strings.Contains(err.Error(), "expired or revoked") || strings.Contains(err.Error(), "invalid_grant") {
			fmt.Printf("  ❗️ Token expired or revoked for account %s. Obtaining a new token.\n", accountName)
			return newClientFromWeb(ctx, config, db, accountName)
		}
		return nil, fmt.Errorf("error retrieving token from token source: %w", err)
	}

	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(token, source)), nil
}

func newClientFromWeb(ctx context.Context, config *oauth2.Config, db *sql.DB, accountName string) (*http.Client, error) {
	token, err := getTokenFromWeb(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := saveToken(db, accountName, token); err != nil {
		return nil, fmt.Errorf("error saving token: %w", err)
	}
	source := newSavingTokenSource(ctx, config, db, accountName, token)
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(token, source)), nil
}

func loginCommand(config *Config) {
	if err := initOAuthConfig(config); err != nil {
		log.Fatalf("❌ %v", err)
	}

	db, err := openStore()
	if err != nil {
		log.Fatalf("Error opening database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	fmt.Println("🚀 Starting authorization...")
	if _, err := newClientFromWeb(ctx, oauthConfig, db, defaultAccount); err != nil {
		log.Fatalf("❌ %v", err)
	}
	fmt.Println("✅ Token saved successfully")
}
