package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"admin-auth/internal/config"
	"admin-auth/internal/util"
)

// ErrNoCertificate is returned in production when neither ACME nor a
// certificate file pair could serve the handshake.
var ErrNoCertificate = errors.New("no TLS certificate available")

// TLSManager serves certificates from ACME, from a file pair, or in
// development from a cached self-signed certificate, in that order.
type TLSManager struct {
	server     config.ServerConfig
	production bool
	autoCert   *autocert.Manager

	fileOnce sync.Once
	fileCert *tls.Certificate

	devOnce sync.Once
	devCert *tls.Certificate
	devErr  error
}

func NewTLSManager(server config.ServerConfig, environment string) *TLSManager {
	manager := &TLSManager{
		server:     server,
		production: environment == "production",
	}

	if server.AutoCert && server.EnableTLS {
		manager.setupAutoCert()
	}

	return manager
}

func (m *TLSManager) setupAutoCert() {
	if err := os.MkdirAll(m.server.AutoCertDir, 0700); err != nil {
		util.Warn("Could not create autocert directory", zap.Error(err))
		return
	}

	m.autoCert = &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(m.server.Domain),
		Cache:      autocert.DirCache(m.server.AutoCertDir),
		Email:      m.server.Email,
	}

	util.Info("AutoCert configured",
		zap.String("domain", m.server.Domain),
		zap.String("cache_dir", m.server.AutoCertDir))
}

func (m *TLSManager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		cert, err := m.autoCert.GetCertificate(hello)
		if err == nil {
			return cert, nil
		}
		util.Warn("AutoCert failed, falling back", zap.String("server_name", hello.ServerName), zap.Error(err))
	}

	if cert := m.loadFileCert(); cert != nil {
		return cert, nil
	}

	if m.production {
		return nil, ErrNoCertificate
	}
	return m.selfSigned()
}

func (m *TLSManager) loadFileCert() *tls.Certificate {
	if m.server.CertFile == "" || m.server.KeyFile == "" {
		return nil
	}
	m.fileOnce.Do(func() {
		cert, err := tls.LoadX509KeyPair(m.server.CertFile, m.server.KeyFile)
		if err != nil {
			util.Error("Failed to load certificate files",
				zap.String("cert_file", m.server.CertFile),
				zap.Error(err))
			return
		}
		m.fileCert = &cert
	})
	return m.fileCert
}

func (m *TLSManager) selfSigned() (*tls.Certificate, error) {
	m.devOnce.Do(func() {
		generator := NewDevCertGenerator(m.server.AutoCertDir)
		hosts := []string{m.server.Domain, "localhost", "127.0.0.1", "::1"}

		cert, err := generator.GenerateCert(hosts)
		if err != nil {
			m.devErr = fmt.Errorf("failed to generate self-signed certificate: %w", err)
			return
		}
		m.devCert = &cert
	})
	return m.devCert, m.devErr
}

func (m *TLSManager) GetTLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}
}

// GetAutocertManager is nil unless ACME is configured; the server uses it to
// answer HTTP-01 challenges on the plain port.
func (m *TLSManager) GetAutocertManager() *autocert.Manager {
	return m.autoCert
}
