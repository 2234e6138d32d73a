package main

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chatspot/chatspot/chat"
	"github.com/chatspot/chatspot/config"
	"github.com/chatspot/chatspot/db"
	"github.com/chatspot/chatspot/router"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate keeps the user's own config and environment out of a test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, key := range []string{config.EnvAPIURL, config.EnvWSURL, config.EnvStore, config.EnvLogLevel} {
		t.Setenv(key, "")
	}
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommandTree(t *testing.T) {
	cmd := rootCmd()

	names := map[string]*cobra.Command{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = sub
	}
	for _, want := range []string{"register", "login", "logout", "whoami", "send", "clear", "delete", "rooms", "history", "watch", "config", "version"} {
		assert.Contains(t, names, want)
	}
	for _, flag := range []string{"config", "log-level", "store", "api-url", "ws-url"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
	assert.NotNil(t, names["watch"].Flags().Lookup("metrics-addr"))
	assert.NotNil(t, names["login"].Flags().Lookup("password"))
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "chatspot version "+Version+" (build: "+BuildTime+")\n", out)
}

func TestArgumentValidation(t *testing.T) {
	isolate(t)
	store := filepath.Join(t.TempDir(), "chatspot.db")

	_, err := execute(t, "", "--store", store, "send", "bob")
	assert.Error(t, err)
	_, err = execute(t, "", "--store", store, "history")
	assert.Error(t, err)
	_, err = execute(t, "", "--store", store, "--log-level", "loud", "rooms")
	assert.Error(t, err)
}

func TestCommandsRequireSession(t *testing.T) {
	isolate(t)
	store := filepath.Join(t.TempDir(), "chatspot.db")

	for _, args := range [][]string{{"whoami"}, {"rooms"}, {"history", "bob"}, {"send", "bob", "hi"}} {
		_, err := execute(t, "", append([]string{"--store", store}, args...)...)
		assert.ErrorIs(t, err, errNoSession, args)
	}
}

func TestReadPassword(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetErr(io.Discard)

	cmd.SetIn(strings.NewReader("secret\n"))
	pw, err := readPassword(cmd, "")
	require.NoError(t, err)
	assert.Equal(t, "secret", pw)

	pw, err = readPassword(cmd, "from-flag")
	require.NoError(t, err)
	assert.Equal(t, "from-flag", pw)

	cmd.SetIn(strings.NewReader(""))
	_, err = readPassword(cmd, "")
	assert.Error(t, err)
}

func TestConfigShowAppliesFlags(t *testing.T) {
	isolate(t)

	out, err := execute(t, "", "--api-url", "https://chat.example.com", "--store", "/tmp/x.db", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "api_url: https://chat.example.com")
	assert.Contains(t, out, "path: /tmp/x.db")
}

func TestFlagsOverrideInvalidConfigFile(t *testing.T) {
	isolate(t)

	path := filepath.Join(t.TempDir(), "chatspot.yaml")
	file := config.DefaultConfig()
	file.Log.Level = "loud"
	require.NoError(t, file.SaveToFile(path))

	_, err := execute(t, "", "--config", path, "config", "show")
	assert.Error(t, err)

	out, err := execute(t, "", "--config", path, "--log-level", "debug", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "level: debug")
}

func TestCLIConversation(t *testing.T) {
	isolate(t)

	relay, err := router.NewRelay(filepath.Join(t.TempDir(), "relay.db"), "secret", nil, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(relay.Handler())
	defer func() {
		srv.Close()
		relay.Close()
	}()

	// bob stays online in process so the relay has someone to deliver to.
	bobStore, err := db.NewDatabase(filepath.Join(t.TempDir(), "bob.db"), nil)
	require.NoError(t, err)
	defer bobStore.Close()
	bob := chat.New(bobStore, chat.Options{APIURL: srv.URL})
	defer bob.Disconnect()
	require.NoError(t, bob.Register(context.Background(), "bob", "pw"))
	require.Eventually(t, func() bool { return relay.Hub.Online("bob") }, 2*time.Second, 10*time.Millisecond)

	alice := []string{"--api-url", srv.URL, "--store", filepath.Join(t.TempDir(), "alice.db")}

	out, err := execute(t, "pw\n", append(alice, "register", "alice")...)
	require.NoError(t, err)
	assert.Equal(t, "Signed in as alice\n", out)

	out, err = execute(t, "", append(alice, "whoami")...)
	require.NoError(t, err)
	assert.Equal(t, "alice\n", out)

	_, err = execute(t, "", append(alice, "send", "bob", "hello", "there")...)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs, _ := bobStore.GetMessages("alice", "bob")
		return len(msgs) == 1 && msgs[0].Body == "hello there"
	}, 2*time.Second, 10*time.Millisecond)

	out, err = execute(t, "", append(alice, "history", "bob")...)
	require.NoError(t, err)
	assert.Contains(t, out, "alice: hello there")

	out, err = execute(t, "", append(alice, "rooms")...)
	require.NoError(t, err)
	assert.Contains(t, out, "PEER")
	assert.Contains(t, out, "bob")

	_, err = execute(t, "", append(alice, "clear", "bob")...)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs, _ := bobStore.GetMessages("alice", "bob")
		return len(msgs) == 1 && msgs[0].Type == db.TypeClearChat
	}, 2*time.Second, 10*time.Millisecond)

	out, err = execute(t, "", append(alice, "logout")...)
	require.NoError(t, err)
	assert.Equal(t, "Signed out\n", out)

	_, err = execute(t, "", append(alice, "whoami")...)
	assert.ErrorIs(t, err, errNoSession)

	_, err = execute(t, "", append(alice, "login", "alice", "--password", "wrong")...)
	assert.Error(t, err)
}

func TestWatchStopsOnCancel(t *testing.T) {
	isolate(t)

	relay, err := router.NewRelay(filepath.Join(t.TempDir(), "relay.db"), "secret", nil, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(relay.Handler())
	defer func() {
		srv.Close()
		relay.Close()
	}()

	flags := &globalFlags{apiURL: srv.URL, storePath: filepath.Join(t.TempDir(), "alice.db")}
	a, err := openApp(flags, io.Discard)
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.client.Register(context.Background(), "alice", "pw"))

	ctx, cancel := context.WithCancel(context.Background())
	var out bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- watch(ctx, a, "", &out) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return")
	}
	assert.Contains(t, out.String(), "PEER")
}
