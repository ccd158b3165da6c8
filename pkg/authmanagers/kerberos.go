// Package authmanagers provides concrete bolt.AuthManager implementations
// beyond the static-credentials default: a bearer-token manager backed by
// JWTs, and a Kerberos manager backed by a keytab and the krb5 client.
package authmanagers

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	krb5client "github.com/jcmturner/gokrb5/v8/client"
	krb5config "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/keytab"

	"github.com/marmos91/gobolt/pkg/bolt"
)

// KerberosConfig configures a KerberosAuthManager.
type KerberosConfig struct {
	KeytabPath       string
	Krb5ConfPath     string
	Principal        string
	Realm            string
	ServicePrincipal string // SPN of the Bolt server, e.g. "bolt/graph.example.com"
}

// KerberosAuthManager obtains a service ticket for the configured Bolt
// server SPN and presents it as the credentials of a "kerberos"-scheme
// AuthToken. It is grounded in the same keytab+krb5.conf loading shape the
// teacher's Kerberos provider uses for SMB/NFS RPCSEC_GSS, adapted here to
// produce a single opaque credential blob rather than negotiate SPNEGO.
type KerberosAuthManager struct {
	cfg    KerberosConfig
	mu     sync.Mutex
	client *krb5client.Client
}

// NewKerberosAuthManager loads the keytab and krb5.conf and builds a
// Kerberos client bound to the configured principal.
func NewKerberosAuthManager(cfg KerberosConfig) (*KerberosAuthManager, error) {
	kt, err := keytab.Load(cfg.KeytabPath)
	if err != nil {
		return nil, fmt.Errorf("load keytab %s: %w", cfg.KeytabPath, err)
	}
	krbCfg, err := krb5config.Load(cfg.Krb5ConfPath)
	if err != nil {
		return nil, fmt.Errorf("load krb5.conf %s: %w", cfg.Krb5ConfPath, err)
	}
	cl := krb5client.NewWithKeytab(cfg.Principal, cfg.Realm, kt, krbCfg, krb5client.DisablePAFXFAST(true))
	return &KerberosAuthManager{cfg: cfg, client: cl}, nil
}

// GetAuth logs in if needed and requests a service ticket for the configured
// server SPN, returning it as the Credentials of a "kerberos" AuthToken.
func (m *KerberosAuthManager) GetAuth(ctx context.Context) (bolt.AuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.client.Login(); err != nil {
		return bolt.AuthToken{}, fmt.Errorf("kerberos login: %w", err)
	}
	ticket, _, err := m.client.GetServiceTicket(m.cfg.ServicePrincipal)
	if err != nil {
		return bolt.AuthToken{}, fmt.Errorf("get service ticket for %s: %w", m.cfg.ServicePrincipal, err)
	}
	raw, err := ticket.Marshal()
	if err != nil {
		return bolt.AuthToken{}, fmt.Errorf("marshal service ticket: %w", err)
	}
	return bolt.AuthToken{
		Scheme:      bolt.AuthSchemeKerberos,
		Principal:   m.cfg.Principal,
		Credentials: base64.StdEncoding.EncodeToString(raw),
		Realm:       m.cfg.Realm,
	}, nil
}

// OnAuthExpired destroys the cached ticket cache so the next GetAuth forces
// a fresh login and service-ticket request.
func (m *KerberosAuthManager) OnAuthExpired(bolt.AuthToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.client.Destroy()
}
