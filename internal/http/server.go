package httpserver

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

func generateSelfSignedCert(hosts ...string) (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Trackerspotter"},
		},
		NotBefore: time.Now().Add(-time.Hour),
		NotAfter:  time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:  x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
		},
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if h != "" {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: derBytes,
	})
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})

	return tls.X509KeyPair(certPEM, keyPEM)
}

type Config struct {
	Addr    string
	TLSAddr string // empty disables HTTPS
}

// Server runs the plain listener and, when configured, an HTTPS listener with a
// self-signed certificate. Both share one handler.
type Server struct {
	logger  *logrus.Logger
	servers []*http.Server
	lns     []net.Listener
	wg      sync.WaitGroup
	errs    chan error
}

// Listen binds every configured address so port conflicts surface before
// serving starts.
func Listen(logger *logrus.Logger, handler http.Handler, cfg Config) (*Server, error) {
	s := &Server{logger: logger}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	s.add(newHTTPServer(handler), ln)

	if cfg.TLSAddr != "" {
		host, _, _ := net.SplitHostPort(cfg.TLSAddr)
		cert, err := generateSelfSignedCert(host, "localhost")
		if err != nil {
			s.closeListeners()
			return nil, fmt.Errorf("self-signed certificate: %w", err)
		}
		tlsLn, err := net.Listen("tcp", cfg.TLSAddr)
		if err != nil {
			s.closeListeners()
			return nil, fmt.Errorf("listen %s: %w", cfg.TLSAddr, err)
		}
		srv := newHTTPServer(handler)
		srv.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		s.add(srv, tls.NewListener(tlsLn, srv.TLSConfig))
	}

	s.errs = make(chan error, len(s.servers))
	return s, nil
}

func newHTTPServer(handler http.Handler) *http.Server {
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

func (s *Server) add(srv *http.Server, ln net.Listener) {
	s.servers = append(s.servers, srv)
	s.lns = append(s.lns, ln)
}

func (s *Server) closeListeners() {
	for _, ln := range s.lns {
		ln.Close()
	}
}

// Addrs lists the bound addresses, plain listener first.
func (s *Server) Addrs() []net.Addr {
	addrs := make([]net.Addr, len(s.lns))
	for i, ln := range s.lns {
		addrs[i] = ln.Addr()
	}
	return addrs
}

// Start serves every listener in the background. A listener that fails is
// reported on Errors.
func (s *Server) Start() {
	for i, srv := range s.servers {
		srv, ln := srv, s.lns[i]
		scheme := "http"
		if srv.TLSConfig != nil {
			scheme = "https"
		}
		s.logger.WithFields(logrus.Fields{
			"component": "http_server",
			"addr":      ln.Addr().String(),
			"scheme":    scheme,
		}).Info("Starting HTTP server")

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.errs <- fmt.Errorf("%s server on %s: %w", scheme, ln.Addr(), err)
			}
		}()
	}
}

func (s *Server) Errors() <-chan error {
	return s.errs
}

// Shutdown stops accepting, waits for in-flight requests until ctx expires and
// closes every listener.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	for _, srv := range s.servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	// covers listeners that were bound but never served
	s.closeListeners()
	s.wg.Wait()
	return errors.Join(errs...)
}
