package plugins

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v4"
	"github.com/golang-jwt/jwt/v4/request"
	"github.com/movio/graphqlapp"
	log "github.com/sirupsen/logrus"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

const (
	ClaimRoleHeader     = "JWT-Claim-Role"
	ClaimAudienceHeader = "JWT-Claim-Audience"
	ClaimIDHeader       = "JWT-Claim-ID"
	ClaimIssuerHeader   = "JWT-Claim-Issuer"
	ClaimSubjectHeader  = "JWT-Claim-Subject"
)

func init() {
	graphqlapp.RegisterPlugin(NewJWTPlugin(nil, JWTPluginConfig{}))
}

func NewJWTPlugin(keyProviders []SigningKeyProvider, config JWTPluginConfig) *JWTPlugin {
	publicKeys := make(map[string]*rsa.PublicKey)
	for _, p := range keyProviders {
		keys, err := p.Keys()
		if err != nil {
			log.WithError(err).Fatalf("couldn't get signing keys for provider %q", p.Name())
		}
		for id, k := range keys {
			publicKeys[id] = k
		}
	}

	return &JWTPlugin{
		config:     config,
		publicKeys: publicKeys,
		jwtExtractor: request.MultiExtractor{
			request.AuthorizationHeaderExtractor,
			cookieTokenExtractor{cookieName: "token"},
		},
	}
}

// JWTPlugin validates the JWT access token of requests and exposes its
// claims to resolvers as request metadata.
type JWTPlugin struct {
	config       JWTPluginConfig
	keyProviders []SigningKeyProvider
	publicKeys   map[string]*rsa.PublicKey
	jwtExtractor request.Extractor

	graphqlapp.BasePlugin
}

type JWTPluginConfig struct {
	// List of JWKS endpoints
	JWKS []WellKnownKeyProvider `json:"jwks"`
	// Map of kid -> public key (RSA, PEM format)
	PublicKeys map[string]string `json:"public-keys"`
	// Reject requests without a token
	Required bool `json:"required"`
	// Roles accepted in the "Role" claim, any role is accepted when empty
	Roles []string `json:"roles"`
}

type SigningKeyProvider interface {
	Name() string
	Keys() (map[string]*rsa.PublicKey, error)
}

func (p *JWTPlugin) ID() string {
	return "auth-jwt"
}

func (p *JWTPlugin) Configure(cfg *graphqlapp.Config, data json.RawMessage) error {
	p.config = JWTPluginConfig{}
	err := json.Unmarshal(data, &p.config)
	if err != nil {
		return err
	}

	p.keyProviders = nil
	for i := range p.config.JWKS {
		p.keyProviders = append(p.keyProviders, &p.config.JWKS[i])
	}

	if len(p.config.PublicKeys) > 0 {
		provider, err := NewManualSigningKeysProvider(p.config.PublicKeys)
		if err != nil {
			return fmt.Errorf("error creating manual keys provider: %w", err)
		}
		p.keyProviders = append(p.keyProviders, provider)
	}

	p.publicKeys = make(map[string]*rsa.PublicKey)
	for _, kp := range p.keyProviders {
		keys, err := kp.Keys()
		if err != nil {
			return fmt.Errorf("couldn't get signing keys for provider %q: %w", kp.Name(), err)
		}
		for id, k := range keys {
			p.publicKeys[id] = k
		}
	}

	return nil
}

type Claims struct {
	jwt.RegisteredClaims
	Role string
}

func (p *JWTPlugin) ApplyMiddlewarePublicMux(h http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		tokenStr, err := p.jwtExtractor.ExtractToken(r)
		if err != nil {
			if p.config.Required {
				log.Info("unauthenticated request")
				writeUnauthorized(rw, "missing token")
				return
			}
			h.ServeHTTP(rw, r)
			return
		}

		var claims Claims
		_, err = jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}

			keyID, _ := token.Header["kid"].(string)
			if key, ok := p.publicKeys[keyID]; ok {
				return key, nil
			}

			return nil, fmt.Errorf("could not find key for kid %q", keyID)
		})
		if err != nil {
			log.WithError(err).Info("invalid token")
			writeUnauthorized(rw, "invalid token")
			return
		}

		if !p.roleAllowed(claims.Role) {
			log.WithField("role", claims.Role).Info("invalid role")
			writeUnauthorized(rw, "invalid role")
			return
		}

		graphqlapp.AddFields(r.Context(), graphqlapp.EventFields{
			"role":    claims.Role,
			"subject": claims.Subject,
		})

		ctx := addClaimsToContext(r.Context(), claims)
		h.ServeHTTP(rw, r.WithContext(ctx))
	})
}

func (p *JWTPlugin) roleAllowed(role string) bool {
	if len(p.config.Roles) == 0 {
		return true
	}
	for _, r := range p.config.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func addClaimsToContext(ctx context.Context, claims Claims) context.Context {
	if claims.Role != "" {
		ctx = graphqlapp.AddRequestMetadataToContext(ctx, ClaimRoleHeader, claims.Role)
	}
	if len(claims.Audience) > 0 {
		ctx = graphqlapp.AddRequestMetadataToContext(ctx, ClaimAudienceHeader, strings.Join(claims.Audience, ","))
	}
	if claims.ID != "" {
		ctx = graphqlapp.AddRequestMetadataToContext(ctx, ClaimIDHeader, claims.ID)
	}
	if claims.Issuer != "" {
		ctx = graphqlapp.AddRequestMetadataToContext(ctx, ClaimIssuerHeader, claims.Issuer)
	}
	if claims.Subject != "" {
		ctx = graphqlapp.AddRequestMetadataToContext(ctx, ClaimSubjectHeader, claims.Subject)
	}
	return ctx
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(graphqlapp.Response{Errors: gqlerror.List{gqlerror.Errorf("%s", message)}})
}

// cookieTokenExtractor extracts a JWT token from the "token" cookie
type cookieTokenExtractor struct {
	cookieName string
}

func (c cookieTokenExtractor) ExtractToken(r *http.Request) (string, error) {
	cookie, err := r.Cookie(c.cookieName)
	if err != nil {
		return "", request.ErrNoTokenInRequest
	}
	return cookie.Value, nil
}

type ManualSigningKeysProvider struct {
	keys map[string]*rsa.PublicKey
}

func NewManualSigningKeysProvider(keys map[string]string) (*ManualSigningKeysProvider, error) {
	parsedKeys := make(map[string]*rsa.PublicKey)

	for kid, key := range keys {
		publicKey, err := jwt.ParseRSAPublicKeyFromPEM([]byte(key))
		if err != nil {
			return nil, err
		}
		parsedKeys[kid] = publicKey
	}

	return &ManualSigningKeysProvider{
		keys: parsedKeys,
	}, nil
}

func (m *ManualSigningKeysProvider) Name() string {
	return "manual"
}

func (m *ManualSigningKeysProvider) Keys() (map[string]*rsa.PublicKey, error) {
	return m.keys, nil
}

type WellKnownKeyProvider struct {
	url string
}

func NewWellKnownKeyProvider(url string) *WellKnownKeyProvider {
	return &WellKnownKeyProvider{
		url: url,
	}
}

func (w *WellKnownKeyProvider) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.url)
}

func (w *WellKnownKeyProvider) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &w.url)
}

func (w *WellKnownKeyProvider) Name() string {
	return fmt.Sprintf("well-known, url: %q", w.url)
}

func (w *WellKnownKeyProvider) Keys() (map[string]*rsa.PublicKey, error) {
	client := http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(w.url)
	if err != nil {
		return nil, fmt.Errorf("error requesting URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var s jose.JSONWebKeySet
	err = json.NewDecoder(resp.Body).Decode(&s)
	if err != nil {
		return nil, fmt.Errorf("error decoding response: %w", err)
	}

	res := make(map[string]*rsa.PublicKey)
	for _, k := range s.Keys {
		rsaKey, ok := k.Key.(*rsa.PublicKey)
		if !ok {
			continue
		}

		res[k.KeyID] = rsaKey
	}

	return res, nil
}
