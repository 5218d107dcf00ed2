package session

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrMissingSessionID     = errors.New("session: missing session id")
	ErrMissingOrgID         = errors.New("session: missing org id")
	ErrEmptyPin             = errors.New("session: empty pin code")
	ErrInvalidEnvironment   = errors.New("session: invalid environment")
	ErrInvalidConnectionURL = errors.New("session: invalid connection url")
	ErrInvalidDeepLink      = errors.New("session: invalid deep link")
)

type Environment string

const (
	EnvProd  Environment = "prod"
	EnvQA    Environment = "qa"
	EnvStage Environment = "stage"
	EnvDev   Environment = "dev"
)

// ParseEnvironment normalizes an environment name. Empty means production.
func ParseEnvironment(raw string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "prod", "production":
		return EnvProd, nil
	case "qa":
		return EnvQA, nil
	case "stage", "staging":
		return EnvStage, nil
	case "dev", "development":
		return EnvDev, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEnvironment, raw)
	}
}

// Suffix is the host suffix selecting the environment's deployment.
func (e Environment) Suffix() string {
	switch e {
	case EnvQA, EnvStage, EnvDev:
		return "-" + string(e)
	default:
		return ""
	}
}

// Endpoint names the remote inspection service. Host receives the environment
// suffix verbatim, e.g. "debug" + "-qa" + ".example.com" when Domain is set.
type Endpoint struct {
	Scheme string
	Host   string
	Domain string
	Path   string
}

func DefaultEndpoint() Endpoint {
	return Endpoint{
		Scheme: "wss",
		Host:   "remote-debug",
		Domain: ".example.com",
		Path:   "/socket",
	}
}

// Details identifies one debugging session.
type Details struct {
	SessionID   string
	ClientID    string
	Environment Environment
	PinCode     string
	OrgID       string
}

func (d Details) Validate() error {
	if strings.TrimSpace(d.SessionID) == "" {
		return ErrMissingSessionID
	}
	if _, err := ParseEnvironment(string(d.Environment)); err != nil {
		return err
	}
	return nil
}

// Authenticated reports whether the interactive pin step has completed.
func (d Details) Authenticated() bool {
	return strings.TrimSpace(d.PinCode) != "" && strings.TrimSpace(d.OrgID) != ""
}

// WithAuth returns a copy carrying pin and org id.
func (d Details) WithAuth(pin, orgID string) (Details, error) {
	pin = strings.TrimSpace(pin)
	orgID = strings.TrimSpace(orgID)
	if pin == "" {
		return d, ErrEmptyPin
	}
	if orgID == "" {
		return d, ErrMissingOrgID
	}
	d.PinCode = pin
	d.OrgID = orgID
	return d, nil
}

// ConnectionURL derives the authenticated socket URL. Query keys are emitted
// in a fixed order so the result is deterministic.
func (d Details) ConnectionURL(ep Endpoint) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	if strings.TrimSpace(d.PinCode) == "" {
		return "", ErrEmptyPin
	}
	if strings.TrimSpace(d.OrgID) == "" {
		return "", ErrMissingOrgID
	}
	scheme := strings.TrimSpace(ep.Scheme)
	host := strings.TrimSpace(ep.Host)
	if scheme == "" || host == "" {
		return "", fmt.Errorf("%w: scheme=%q host=%q", ErrInvalidConnectionURL, scheme, host)
	}
	env, _ := ParseEnvironment(string(d.Environment))

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(env.Suffix())
	b.WriteString(ep.Domain)
	b.WriteString(ep.Path)
	b.WriteString("?sessionId=")
	b.WriteString(url.QueryEscape(d.SessionID))
	b.WriteString("&token=")
	b.WriteString(url.QueryEscape(d.PinCode))
	b.WriteString("&orgId=")
	b.WriteString(url.QueryEscape(d.OrgID))
	b.WriteString("&clientId=")
	b.WriteString(url.QueryEscape(d.ClientID))

	raw := b.String()
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidConnectionURL, raw)
	}
	return raw, nil
}

// ParseDeepLink reads session details from a deep link's query parameters.
// clientID is used when the link does not carry one.
func ParseDeepLink(raw, clientID string) (Details, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Details{}, fmt.Errorf("%w: %v", ErrInvalidDeepLink, err)
	}
	q := u.Query()
	envRaw := q.Get("env")
	if envRaw == "" {
		envRaw = q.Get("environment")
	}
	env, err := ParseEnvironment(envRaw)
	if err != nil {
		return Details{}, err
	}
	d := Details{
		SessionID:   strings.TrimSpace(q.Get("sessionId")),
		ClientID:    strings.TrimSpace(q.Get("clientId")),
		Environment: env,
	}
	if d.ClientID == "" {
		d.ClientID = clientID
	}
	if d.SessionID == "" {
		return Details{}, fmt.Errorf("%w: %w", ErrInvalidDeepLink, ErrMissingSessionID)
	}
	return d, nil
}
