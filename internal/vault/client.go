package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/mitchellh/mapstructure"
)

const (
	approleSecretIDPath = "auth/approle/role/%s/secret-id"
	approleLoginPath    = "auth/approle/login"
)

var (
	// ErrClientInit indicates failure to initialize the Vault API client.
	ErrClientInit = errors.New("vault client initialization failed")
	// ErrNoSecret indicates that nothing is stored at the requested path.
	ErrNoSecret = errors.New("no secret found")
)

type Option func(*config)

type config struct {
	address  string
	token    string
	roleID   string
	roleName string
}

type Client struct {
	// The Vault Client
	api    *vault.Client
	config *config
}

// Credentials is a login/password pair read from Vault. TTL is set for
// leased secrets such as those of the AWS secrets engine.
type Credentials struct {
	Login    string
	Password string
	TTL      time.Duration
}

// secretFields are the keys a backup credential secret may use. KV secrets
// hold login/password, the AWS secrets engine returns access_key/secret_key.
type secretFields struct {
	Login     string `mapstructure:"login"`
	Password  string `mapstructure:"password"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

func WithAddress(address string) Option {
	return func(c *config) {
		c.address = address
	}
}

func WithToken(token string) Option {
	return func(c *config) {
		c.token = token
	}
}

func WithAppRole(roleID, roleName string) Option {
	return func(c *config) {
		c.roleID = roleID
		c.roleName = roleName
	}
}

// NewClient creates and initializes a Vault Client using provided options.
// It will perform AppRole login if roleID and roleName are both set, otherwise
// a static token (from env or WithToken) is used.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	// Build default config from environment
	cfg := &config{
		address: os.Getenv("VAULT_ADDR"),
		token:   os.Getenv("VAULT_TOKEN"),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	apiCfg := vault.DefaultConfig()
	if apiCfg.Error != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientInit, apiCfg.Error)
	}
	if cfg.address != "" {
		apiCfg.Address = cfg.address
	}

	api, err := vault.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientInit, err)
	}

	client := &Client{api: api, config: cfg}

	if cfg.token != "" {
		client.api.SetToken(cfg.token)
	}

	if cfg.roleID != "" && cfg.roleName != "" {
		if err := client.loginAppRole(ctx); err != nil {
			return nil, fmt.Errorf("AppRole login failed: %w", err)
		}
	}

	return client, nil
}

// loginAppRole performs AppRole login using the configured roleID and roleName.
func (c *Client) loginAppRole(ctx context.Context) error {
	// Generate Secret ID
	path := fmt.Sprintf(approleSecretIDPath, c.config.roleName)
	resp, err := c.api.Logical().WriteWithContext(ctx, path, nil)
	if err != nil {
		return fmt.Errorf("generate secret_id: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("no secret_id returned from %s", path)
	}
	sid, ok := resp.Data["secret_id"].(string)
	if !ok || sid == "" {
		return fmt.Errorf("no secret_id returned from %s", path)
	}

	loginData := map[string]any{
		"role_id":   c.config.roleID,
		"secret_id": sid,
	}
	loginResp, err := c.api.Logical().WriteWithContext(ctx, approleLoginPath, loginData)
	if err != nil {
		return fmt.Errorf("approle login request: %w", err)
	}
	if loginResp == nil || loginResp.Auth == nil || loginResp.Auth.ClientToken == "" {
		return fmt.Errorf("no token in login response")
	}
	c.api.SetToken(loginResp.Auth.ClientToken)
	return nil
}

// GetCredentials reads the backend credentials stored at path. Both KV
// versions are understood: a KV v2 secret nests its fields under "data".
func (c *Client) GetCredentials(ctx context.Context, path string) (Credentials, error) {
	secret, err := c.api.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return Credentials{}, fmt.Errorf("read %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return Credentials{}, fmt.Errorf("%w at path: %s", ErrNoSecret, path)
	}

	data := secret.Data
	if inner, ok := data["data"].(map[string]any); ok {
		if _, isKV2 := data["metadata"]; isKV2 {
			data = inner
		}
	}

	var fields secretFields
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &fields,
	})
	if err != nil {
		return Credentials{}, err
	}
	if err := decoder.Decode(data); err != nil {
		return Credentials{}, fmt.Errorf("invalid data format at path %s: %w", path, err)
	}

	creds := Credentials{
		Login:    fields.Login,
		Password: fields.Password,
		TTL:      time.Duration(secret.LeaseDuration) * time.Second,
	}
	if creds.Login == "" && creds.Password == "" {
		creds.Login, creds.Password = fields.AccessKey, fields.SecretKey
	}
	if creds.Login == "" && creds.Password == "" {
		return Credentials{}, fmt.Errorf("invalid data format at path %s: no login or access_key", path)
	}
	return creds, nil
}
