package app_test

import (
	"context"
	"crypto/rand"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilchat/internal/app"
	"veilchat/internal/crypto"
	"veilchat/internal/domain"
	"veilchat/internal/services/chat"
	"veilchat/internal/store"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func configWithKeys(t *testing.T) *app.Config {
	t.Helper()
	dir := t.TempDir()
	kp, err := crypto.GenerateKeyPair(rand.Reader, crypto.MinRSABits)
	require.NoError(t, err)

	cfg := app.DefaultConfig()
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Server.PrivateKey = filepath.Join(dir, "server_private.pem")
	cfg.Server.PublicKey = filepath.Join(dir, "server_public.pem")
	cfg.Client.ServerKey = cfg.Server.PublicKey
	require.NoError(t, store.WriteKeyPair(cfg.Server.PrivateKey, cfg.Server.PublicKey, kp, false))
	return cfg
}

func TestNewRelayWire_MissingKeys(t *testing.T) {
	cfg := app.DefaultConfig()
	cfg.Server.PrivateKey = filepath.Join(t.TempDir(), "nope.pem")
	_, err := app.NewRelayWire(cfg, quietLogger())
	assert.ErrorIs(t, err, domain.ErrKeyLoad)
}

func TestRelayWire_RunStopsOnCancel(t *testing.T) {
	cfg := configWithKeys(t)
	cfg.Server.MetricsAddr = "127.0.0.1:0"
	w, err := app.NewRelayWire(cfg, quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestWire_EndToEnd(t *testing.T) {
	cfg := configWithKeys(t)
	cfg.Client.Log.Path = filepath.Join(t.TempDir(), "chat.log")
	cfg.Client.Log.KDF = "scrypt"
	cfg.Client.Log.Enabled = true

	rw, err := app.NewRelayWire(cfg, quietLogger())
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = rw.Server.Serve(ctx, ln)
	}()
	defer func() {
		cancel()
		<-served
	}()

	cfg.Client.Server = ln.Addr().String()
	cw, err := app.NewClientWire(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, "direct", cw.Dialer.Via())

	l, err := cw.OpenLog([]byte("passphrase"))
	require.NoError(t, err)
	require.NotNil(t, l)

	a, err := cw.Dial(context.Background(), nil)
	require.NoError(t, err)
	defer a.Close()
	b, err := cw.Dial(context.Background(), l)
	require.NoError(t, err)
	defer b.Close()

	_, err = a.Send("over the wire")
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-b.Events():
			if m, ok := e.(chat.MessageEvent); ok {
				assert.Equal(t, "over the wire", m.Message.Body)
				r, err := b.Execute(chat.History{})
				require.NoError(t, err)
				require.Len(t, r.History, 1)
				assert.Equal(t, a.Identity(), r.History[0].Sender)
				return
			}
		case <-deadline:
			t.Fatal("message not delivered")
		}
	}
}
