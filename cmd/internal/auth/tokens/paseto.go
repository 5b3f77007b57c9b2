package tokens

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

const pasetoHeader = "v4.public."

// PasetoCodec issues PASETO v4.public tokens signed with Ed25519. The footer
// carries the key id.
type PasetoCodec struct {
	issuer    string
	clockSkew time.Duration
	activeKID string
	secret    paseto.V4AsymmetricSecretKey
	public    map[string]paseto.V4AsymmetricPublicKey
}

func NewPasetoCodec(cfg Config) (*PasetoCodec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &PasetoCodec{
		issuer:    cfg.Issuer,
		clockSkew: cfg.ClockSkew,
		activeKID: cfg.ActiveKeyID,
		public:    make(map[string]paseto.V4AsymmetricPublicKey, len(cfg.Keys)),
	}
	for kid, h := range cfg.Keys {
		sk, err := paseto.NewV4AsymmetricSecretKeyFromHex(h)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q is not a v4 secret key", ErrConfig, kid)
		}
		c.public[kid] = sk.Public()
		if kid == cfg.ActiveKeyID {
			c.secret = sk
		}
	}
	return c, nil
}

// PublicKeyHex exports the active verification key for out-of-process
// verifiers.
func (c *PasetoCodec) PublicKeyHex() string {
	return c.public[c.activeKID].ExportHex()
}

func (c *PasetoCodec) Issue(cl Claims, ttl time.Duration, now time.Time) (string, error) {
	cl, err := stamp(cl, ttl, now)
	if err != nil {
		return "", err
	}

	tok := paseto.NewToken()
	tok.SetJti(cl.ID)
	tok.SetIssuer(c.issuer)
	tok.SetSubject(cl.AccountID)
	tok.SetIssuedAt(cl.IssuedAt)
	tok.SetNotBefore(cl.IssuedAt)
	tok.SetExpiration(cl.ExpiresAt)
	tok.SetString("knd", string(cl.Kind))
	if cl.Role != "" {
		tok.SetString("role", cl.Role)
	}
	if cl.DeviceID != "" {
		tok.SetString("did", cl.DeviceID)
	}
	if cl.Ticket != "" {
		tok.SetString("tkt", cl.Ticket)
	}
	tok.SetFooter([]byte(c.activeKID))

	return tok.V4Sign(c.secret, nil), nil
}

func (c *PasetoCodec) Verify(token string, now time.Time) (Claims, error) {
	payload, footer, ok := pasetoSegments(token)
	if !ok {
		return Claims{}, reject(ErrMalformed, nil)
	}
	// Non-canonical base64 would let a flipped padding bit decode to the same
	// bytes, so both segments must round-trip exactly.
	strict := base64.RawURLEncoding.Strict()
	if _, err := strict.DecodeString(payload); err != nil {
		return Claims{}, reject(ErrSignatureInvalid, err)
	}
	kid, err := strict.DecodeString(footer)
	if err != nil {
		return Claims{}, reject(ErrSignatureInvalid, err)
	}
	pub, ok := c.public[string(kid)]
	if !ok {
		return Claims{}, reject(ErrSignatureInvalid, fmt.Errorf("unknown kid"))
	}

	// Expiry is left to checkExpiry; the parser only authenticates.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(c.issuer))

	parsed, err := p.ParseV4Public(pub, token, nil)
	if err != nil {
		return Claims{}, reject(ErrSignatureInvalid, err)
	}

	out := Claims{}
	out.ID, _ = parsed.GetJti()
	out.AccountID, _ = parsed.GetSubject()
	out.Role, _ = parsed.GetString("role")
	out.DeviceID, _ = parsed.GetString("did")
	out.Ticket, _ = parsed.GetString("tkt")
	kind, _ := parsed.GetString("knd")
	out.Kind = Kind(kind)
	if iat, err := parsed.GetIssuedAt(); err == nil {
		out.IssuedAt = iat.UTC()
	}
	if exp, err := parsed.GetExpiration(); err == nil {
		out.ExpiresAt = exp.UTC()
	}

	if err := out.validate(); err != nil {
		return Claims{}, reject(ErrMalformed, err)
	}
	if err := checkExpiry(out, now, c.clockSkew); err != nil {
		return Claims{}, err
	}
	return out, nil
}

// pasetoSegments checks the v4.public framing: header, payload, footer.
func pasetoSegments(s string) (payload, footer string, ok bool) {
	if !strings.HasPrefix(s, pasetoHeader) {
		return "", "", false
	}
	parts := strings.Split(strings.TrimPrefix(s, pasetoHeader), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	if !isBase64URL(parts[0]) || !isBase64URL(parts[1]) {
		return "", "", false
	}
	return parts[0], parts[1], true
}
