package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"github.com/lorenzodonini/ocpp-go/ws"
	log "github.com/sirupsen/logrus"
)

const inboxSize = 16

type Options struct {
	// Password enables HTTP basic auth with the client id as user name.
	Password  string
	TLSConfig *tls.Config
	Logger    *log.Entry
}

// WebSocket is a Transport over the ocpp-go websocket client, negotiating
// the ocpp1.6 subprotocol.
type WebSocket struct {
	client *ws.Client
	inbox  chan []byte
	done   chan struct{}
	logger *log.Entry

	once    sync.Once
	mu      sync.Mutex
	dropErr error
}

// Dial connects to <serverURL>/<clientID>.
func Dial(serverURL, clientID string, opts Options) (*WebSocket, error) {
	if opts.Logger == nil {
		opts.Logger = log.NewEntry(log.StandardLogger())
	}

	var client *ws.Client
	if opts.TLSConfig != nil {
		client = ws.NewTLSClient(opts.TLSConfig)
	} else {
		client = ws.NewClient()
	}
	client.AddOption(func(dialer *websocket.Dialer) {
		dialer.Subprotocols = append(dialer.Subprotocols, types.V16Subprotocol)
	})
	if opts.Password != "" {
		client.SetBasicAuth(clientID, opts.Password)
	}

	t := &WebSocket{
		client: client,
		inbox:  make(chan []byte, inboxSize),
		done:   make(chan struct{}),
		logger: opts.Logger,
	}
	client.SetMessageHandler(func(data []byte) error {
		select {
		case t.inbox <- data:
			return nil
		case <-t.done:
			return ErrClosed
		}
	})
	client.SetDisconnectedHandler(func(err error) {
		t.logger.WithError(err).Warnln("connection to central system lost")
		t.drop(err)
	})

	url := Endpoint(serverURL, clientID)
	if err := client.Start(url); err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	t.logger.WithField("url", url).Infoln("Connected to central system")
	return t, nil
}

// Endpoint joins the server URL and the charge point identity.
func Endpoint(serverURL, clientID string) string {
	return strings.TrimSuffix(serverURL, "/") + "/" + clientID
}

func (t *WebSocket) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-t.done:
		return t.err()
	default:
	}
	return t.client.Write(data)
}

func (t *WebSocket) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data := <-t.inbox:
		return data, nil
	case <-t.done:
		return nil, t.err()
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *WebSocket) Close() error {
	t.drop(nil)
	t.client.Stop()
	return nil
}

func (t *WebSocket) drop(err error) {
	t.once.Do(func() {
		t.mu.Lock()
		t.dropErr = err
		t.mu.Unlock()
		close(t.done)
	})
}

func (t *WebSocket) err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dropErr != nil {
		return fmt.Errorf("%w: %v", ErrClosed, t.dropErr)
	}
	return ErrClosed
}

// TLSConfig trusts the system roots plus the PEM bundle in caFile, if any.
func TLSConfig(caFile string, insecure bool) (*tls.Config, error) {
	certPool, err := x509.SystemCertPool()
	if err != nil {
		return nil, err
	}
	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, err
		}
		if !certPool.AppendCertsFromPEM(pem) {
			return nil, errors.New("failed to append root certificate")
		}
	}
	return &tls.Config{
		RootCAs:            certPool,
		InsecureSkipVerify: insecure,
	}, nil
}
