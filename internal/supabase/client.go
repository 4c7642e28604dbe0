package supabase

import (
	"fmt"

	"github.com/supabase-community/supabase-go"
	"homeproject-backend/internal/config"
)

type Client struct {
	Supabase *supabase.Client
	Config   *config.Config
}

func NewClient(cfg *config.Config) (*Client, error) {
	client, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabasePublishableKey, nil)
	if err != nil {
		return nil, err
	}

	return &Client{
		Supabase: client,
		Config:   cfg,
	}, nil
}

// VerifyToken asks Supabase Auth who owns the access token. Used when no
// JWT secret is configured for local verification.
func (c *Client) VerifyToken(token string) (string, error) {
	user, err := c.Supabase.Auth.WithToken(token).GetUser()
	if err != nil {
		return "", fmt.Errorf("failed to verify token: %w", err)
	}
	return user.ID.String(), nil
}
